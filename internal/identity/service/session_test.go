package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSessionSlidingExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := newTestClock()
	svc := newUserService(newTestStore(t), clk)
	user := mustAddUser(t, svc, "jordan", "", "")

	sess, err := svc.Sessions.Create(ctx, user, 0)
	require.NoError(t, err)
	require.Equal(t, clk.Now().Add(336*time.Hour), sess.Expires)

	// Two weeks minus a day in: still live, and validation slides the
	// deadline out to a fresh two weeks.
	clk.Advance(13 * 24 * time.Hour)
	got, err := svc.Sessions.Validate(ctx, sess.Token)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, clk.Now().Add(336*time.Hour), got.Expires)

	// Past the original deadline but inside the extended one.
	clk.Advance(10 * 24 * time.Hour)
	got, err = svc.Sessions.Validate(ctx, sess.Token)
	require.NoError(t, err)
	require.NotNil(t, got)

	// Left untouched past the window, the session dies.
	clk.Advance(15 * 24 * time.Hour)
	got, err = svc.Sessions.Validate(ctx, sess.Token)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestSessionCreateWithTTLOverride(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := newTestClock()
	svc := newUserService(newTestStore(t), clk)
	user := mustAddUser(t, svc, "jordan", "", "")

	sess, err := svc.Sessions.Create(ctx, user, time.Hour)
	require.NoError(t, err)
	require.Equal(t, clk.Now().Add(time.Hour), sess.Expires)

	clk.Advance(2 * time.Hour)
	got, err := svc.Sessions.Validate(ctx, sess.Token)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestSessionTTLOverrideSlidesToDefault(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := newTestClock()
	svc := newUserService(newTestStore(t), clk)
	user := mustAddUser(t, svc, "jordan", "", "")

	sess, err := svc.Sessions.Create(ctx, user, time.Hour)
	require.NoError(t, err)

	// The override only sets the initial deadline; the first touch slides
	// the expiry out to a full default window.
	clk.Advance(30 * time.Minute)
	got, err := svc.Sessions.Validate(ctx, sess.Token)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, clk.Now().Add(336*time.Hour), got.Expires)

	// Well past the one hour the session was created with.
	clk.Advance(10 * 24 * time.Hour)
	got, err = svc.Sessions.Validate(ctx, sess.Token)
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestSessionRevoke(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := newTestClock()
	svc := newUserService(newTestStore(t), clk)
	user := mustAddUser(t, svc, "jordan", "", "")

	sess, err := svc.Sessions.Create(ctx, user, 0)
	require.NoError(t, err)

	require.NoError(t, svc.Sessions.Revoke(ctx, sess.Token))

	got, err := svc.Sessions.Validate(ctx, sess.Token)
	require.NoError(t, err)
	require.Nil(t, got)

	// Revoking again, or revoking garbage, is a quiet no-op.
	require.NoError(t, svc.Sessions.Revoke(ctx, sess.Token))
	require.NoError(t, svc.Sessions.Revoke(ctx, "no-such-token"))
}

func TestRevokeSessionsByIdentifier(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := newTestClock()
	svc := newUserService(newTestStore(t), clk)
	user := mustAddUser(t, svc, "jordan", "jordan@example.com", "")

	a, err := svc.Sessions.Create(ctx, user, 0)
	require.NoError(t, err)
	b, err := svc.Sessions.Create(ctx, user, 0)
	require.NoError(t, err)

	found, err := svc.RevokeSessions(ctx, "jordan@example.com")
	require.NoError(t, err)
	require.True(t, found)

	for _, token := range []string{a.Token, b.Token} {
		got, err := svc.Sessions.Validate(ctx, token)
		require.NoError(t, err)
		require.Nil(t, got)
	}

	found, err = svc.RevokeSessions(ctx, "nobody")
	require.NoError(t, err)
	require.False(t, found)
}

func TestGetUserBySession(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := newTestClock()
	svc := newUserService(newTestStore(t), clk)
	user := mustAddUser(t, svc, "jordan", "", "")

	sess, err := svc.Sessions.Create(ctx, user, 0)
	require.NoError(t, err)

	got, gotSess, err := svc.GetUserBySession(ctx, sess.Token)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, user.UUID, got.UUID)
	require.NotNil(t, gotSess)

	got, gotSess, err = svc.GetUserBySession(ctx, "bogus")
	require.NoError(t, err)
	require.Nil(t, got)
	require.Nil(t, gotSess)
}
