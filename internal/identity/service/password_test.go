package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPasswordPolicy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := newTestClock()
	svc := newUserService(newTestStore(t), clk)
	user := mustAddUser(t, svc, "jordan", "", "")

	err := svc.Passwords.SetPassword(ctx, user.ID, "short")
	require.ErrorIs(t, err, ErrPasswordTooWeak)

	err = svc.Passwords.SetPassword(ctx, user.ID, strings.Repeat("x", MaxPasswordLength))
	require.ErrorIs(t, err, ErrPasswordTooLong)

	require.NoError(t, svc.Passwords.SetPassword(ctx, user.ID, "hunter22"))

	// Creating a credential for a user that does not exist is a typed error.
	err = svc.Passwords.SetPassword(ctx, user.ID+1000, "hunter22")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestPasswordVerify(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := newTestClock()
	svc := newUserService(newTestStore(t), clk)
	user := mustAddUser(t, svc, "jordan", "", "hunter22")
	nopass := mustAddUser(t, svc, "keyless", "", "")

	ok, err := svc.Passwords.Verify(ctx, user.ID, "hunter22")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.Passwords.Verify(ctx, user.ID, "wrong")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = svc.Passwords.Verify(ctx, user.ID, "")
	require.NoError(t, err)
	require.False(t, ok)

	// No credential record at all behaves like a mismatch.
	ok, err = svc.Passwords.Verify(ctx, nopass.ID, "hunter22")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPasswordRotation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := newTestClock()
	svc := newUserService(newTestStore(t), clk)
	user := mustAddUser(t, svc, "jordan", "", "hunter22")

	require.NoError(t, svc.Passwords.SetPassword(ctx, user.ID, "n3w-secret"))

	ok, err := svc.Passwords.Verify(ctx, user.ID, "hunter22")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = svc.Passwords.Verify(ctx, user.ID, "n3w-secret")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestPasswordResetFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := newTestClock()
	svc := newUserService(newTestStore(t), clk)
	user := mustAddUser(t, svc, "jordan", "jordan@example.com", "hunter22")

	token, expires, err := svc.Passwords.GenerateResetToken(ctx, user.ID)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Equal(t, clk.Now().Add(24*time.Hour), expires)

	t.Run("weak replacement is rejected up front", func(t *testing.T) {
		_, err := svc.Passwords.ResetPassword(ctx, token, "short")
		require.ErrorIs(t, err, ErrPasswordTooWeak)
	})

	t.Run("redeeming installs the password and confirms the email", func(t *testing.T) {
		userID, err := svc.Passwords.ResetPassword(ctx, token, "n3w-secret")
		require.NoError(t, err)
		require.Equal(t, user.ID, userID)

		ok, err := svc.Passwords.Verify(ctx, user.ID, "hunter22")
		require.NoError(t, err)
		require.False(t, ok)

		ok, err = svc.Passwords.Verify(ctx, user.ID, "n3w-secret")
		require.NoError(t, err)
		require.True(t, ok)

		got, err := svc.GetUser(ctx, "jordan")
		require.NoError(t, err)
		require.NotNil(t, got.EmailConfirmed)
	})

	t.Run("token is single use", func(t *testing.T) {
		_, err := svc.Passwords.ResetPassword(ctx, token, "another-pass")
		require.ErrorIs(t, err, ErrResetTokenNotFound)
	})

	t.Run("unknown token", func(t *testing.T) {
		_, err := svc.Passwords.ResetPassword(ctx, "bogus", "another-pass")
		require.ErrorIs(t, err, ErrResetTokenNotFound)
	})
}

func TestPasswordResetTokenExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := newTestClock()
	svc := newUserService(newTestStore(t), clk)
	user := mustAddUser(t, svc, "jordan", "", "hunter22")

	token, _, err := svc.Passwords.GenerateResetToken(ctx, user.ID)
	require.NoError(t, err)

	clk.Advance(25 * time.Hour)
	_, err = svc.Passwords.ResetPassword(ctx, token, "n3w-secret")
	require.ErrorIs(t, err, ErrResetTokenExpired)

	// The original credential still works.
	ok, err := svc.Passwords.Verify(ctx, user.ID, "hunter22")
	require.NoError(t, err)
	require.True(t, ok)
}
