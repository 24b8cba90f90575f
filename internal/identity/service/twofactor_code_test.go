package service

import (
	"context"
	"testing"

	"github.com/deadbolt-id/deadbolt/internal/identity/domain"
	"github.com/stretchr/testify/require"
)

func TestCodeFormats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := newTestClock()
	st := newTestStore(t)
	svc := newUserService(st, clk)
	user := mustAddUser(t, svc, "jordan", "", "")

	digits := NewSMSTwoFactor(st, CodeTwoFactorConfig{Format: CodeFormatDigits}, clk.Now)
	prompt, err := digits.Request(ctx, user)
	require.NoError(t, err)
	require.Len(t, prompt.Code, 6)
	require.Regexp(t, `^[0-9]{6}$`, prompt.Code)

	hex := NewSMSTwoFactor(st, CodeTwoFactorConfig{Format: CodeFormatHex}, clk.Now)
	prompt, err = hex.Request(ctx, user)
	require.NoError(t, err)
	require.Regexp(t, `^[0-9a-f]{32}$`, prompt.Code)
}

func TestCodeChallengeHistory(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	clk := newTestClock()
	st := newTestStore(t)
	svc := newUserService(st, clk)
	user := mustAddUser(t, svc, "jordan", "", "")

	sms, err := svc.TwoFactor.Get(domain.TwoFactorSMS)
	require.NoError(t, err)

	latest, err := sms.Latest(ctx, user)
	require.NoError(t, err)
	require.Nil(t, latest)

	first, err := sms.Request(ctx, user)
	require.NoError(t, err)
	second, err := sms.Request(ctx, user)
	require.NoError(t, err)

	latest, err = sms.Latest(ctx, user)
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, second.UserToken, latest.UserToken)

	page, err := sms.History(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, 2, page.Total)
	require.Len(t, page.Items, 2)
	// Newest first.
	require.Equal(t, second.UserToken, page.Items[0].UserToken)
	require.Equal(t, first.UserToken, page.Items[1].UserToken)

	// Verification state is visible in the history.
	ok, err := sms.Verify(ctx, user, domain.TwoFactorPayload{UserToken: second.UserToken, Code: "nope"})
	require.NoError(t, err)
	require.False(t, ok)

	latest, err = sms.Latest(ctx, user)
	require.NoError(t, err)
	require.Equal(t, 1, latest.Attempt)

	ok, err = sms.Verify(ctx, user, domain.TwoFactorPayload{UserToken: second.UserToken, Code: second.Code})
	require.NoError(t, err)
	require.True(t, ok)

	latest, err = sms.Latest(ctx, user)
	require.NoError(t, err)
	require.True(t, latest.Used)
}
