package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deadbolt-id/deadbolt/internal/identity/domain"
	"github.com/deadbolt-id/deadbolt/internal/identity/store"
	"github.com/deadbolt-id/deadbolt/pkg/cryptox"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const totpPeriod = 30 // seconds per step, the authenticator-app standard

// TotpConfig tunes the authenticator-app strategy.
type TotpConfig struct {
	// Issuer is the name shown in the authenticator app.
	Issuer string

	// Skew is how many periods either side of now a code is accepted.
	Skew uint

	TTL         time.Duration
	MaxAttempts int
}

// totpTwoFactor implements TwoFactor against an authenticator app. Unlike
// the delivery channels there is enrollment state: a per-user secret that
// only counts once its first code has been verified.
type totpTwoFactor struct {
	store store.Store
	cfg   TotpConfig
	clock func() time.Time
}

// NewTotpTwoFactor builds the authenticator-app strategy.
func NewTotpTwoFactor(st store.Store, cfg TotpConfig, clock func() time.Time) TwoFactor {
	return &totpTwoFactor{store: st, cfg: cfg, clock: clock}
}

func (t *totpTwoFactor) Method() domain.TwoFactorMethod { return domain.TwoFactorTOTP }

func (t *totpTwoFactor) now() time.Time {
	if t.clock != nil {
		return t.clock()
	}
	return time.Now()
}

func (t *totpTwoFactor) ttl() time.Duration {
	if t.cfg.TTL > 0 {
		return t.cfg.TTL
	}
	return DefaultChallengeTTL
}

func (t *totpTwoFactor) maxAttempts() int {
	if t.cfg.MaxAttempts > 0 {
		return t.cfg.MaxAttempts
	}
	return DefaultMaxAttempts
}

// Setup generates a fresh secret, replacing any previous enrollment along
// with its pending challenges, and opens the bootstrap challenge the user
// must answer to confirm the enrollment.
func (t *totpTwoFactor) Setup(ctx context.Context, user *domain.User) (*domain.TwoFactorPrompt, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.cfg.Issuer,
		AccountName: totpAccountName(user),
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate totp key: %w", err)
	}

	userToken, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return nil, fmt.Errorf("failed to generate user token: %w", err)
	}

	now := t.now()
	ch := domain.TotpChallenge{
		UserToken: userToken,
		Expires:   now.Add(t.ttl()),
		Created:   now,
	}

	err = t.store.WithTx(ctx, func(tx store.Tx) error {
		enrollment := domain.TotpEnrollment{
			UserID:  user.ID,
			Secret:  key.Secret(),
			Created: now,
		}
		if err := tx.Totp().ReplaceEnrollment(ctx, &enrollment); err != nil {
			return fmt.Errorf("failed to store enrollment: %w", err)
		}

		ch.EnrollmentID = enrollment.ID
		if err := tx.Totp().CreateChallenge(ctx, &ch); err != nil {
			return fmt.Errorf("failed to store challenge: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &domain.TwoFactorPrompt{
		Method:     domain.TwoFactorTOTP,
		UserToken:  ch.UserToken,
		Expires:    ch.Expires,
		Secret:     key.Secret(),
		OtpauthURL: key.URL(),
	}, nil
}

// Request opens a challenge against the existing enrollment. It refuses
// until the enrollment has been confirmed by a first verification.
func (t *totpTwoFactor) Request(ctx context.Context, user *domain.User) (*domain.TwoFactorPrompt, error) {
	enrollment, err := t.store.Totp().GetEnrollment(ctx, user.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTwoFactorNotSetUp
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load enrollment: %w", err)
	}
	if !enrollment.Confirmed {
		return nil, ErrTwoFactorNotConfirmed
	}

	userToken, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return nil, fmt.Errorf("failed to generate user token: %w", err)
	}

	now := t.now()
	ch := domain.TotpChallenge{
		EnrollmentID: enrollment.ID,
		UserToken:    userToken,
		Expires:      now.Add(t.ttl()),
		Created:      now,
	}
	if err := t.store.Totp().CreateChallenge(ctx, &ch); err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}

	return &domain.TwoFactorPrompt{
		Method:    domain.TwoFactorTOTP,
		UserToken: ch.UserToken,
		Expires:   ch.Expires,
	}, nil
}

func (t *totpTwoFactor) Verify(ctx context.Context, user *domain.User, payload domain.TwoFactorPayload) (bool, error) {
	enrollment, err := t.store.Totp().GetEnrollment(ctx, user.ID)
	if errors.Is(err, store.ErrNotFound) {
		return false, ErrTwoFactorNotSetUp
	}
	if err != nil {
		return false, fmt.Errorf("failed to load enrollment: %w", err)
	}

	now := t.now()
	ch, err := t.store.Totp().GetPendingChallenge(ctx, enrollment.ID, payload.UserToken, now)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load challenge: %w", err)
	}

	if ch.Attempt >= t.maxAttempts() {
		return false, nil
	}

	valid, err := totp.ValidateCustom(payload.Code, enrollment.Secret, now, totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      t.cfg.Skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false, fmt.Errorf("failed to validate code: %w", err)
	}
	if !valid {
		if err := t.store.Totp().IncrementChallengeAttempt(ctx, ch.ID); err != nil {
			return false, fmt.Errorf("failed to record attempt: %w", err)
		}
		return false, nil
	}

	err = t.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Totp().MarkChallengeUsed(ctx, ch.ID); err != nil {
			return fmt.Errorf("failed to burn challenge: %w", err)
		}
		if !enrollment.Confirmed {
			if err := tx.Totp().ConfirmEnrollment(ctx, enrollment.ID); err != nil {
				return fmt.Errorf("failed to confirm enrollment: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *totpTwoFactor) Latest(ctx context.Context, user *domain.User) (*domain.Challenge, error) {
	enrollment, err := t.store.Totp().GetEnrollment(ctx, user.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ch, err := t.store.Totp().LatestChallenge(ctx, enrollment.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	adapted := adaptTotpChallenge(ch, user.ID)
	return &adapted, nil
}

func (t *totpTwoFactor) History(ctx context.Context, page int) (domain.Page[domain.Challenge], error) {
	items, total, err := t.store.Totp().ListChallenges(ctx, page, domain.DefaultPerPage)
	if err != nil {
		return domain.Page[domain.Challenge]{}, err
	}

	out := make([]domain.Challenge, 0, len(items))
	for _, ch := range items {
		out = append(out, adaptTotpChallenge(ch, 0))
	}
	return domain.NewPage(out, page, total, domain.DefaultPerPage), nil
}

// adaptTotpChallenge presents a totp challenge in the shared challenge
// shape. There is no stored code; Code stays empty.
func adaptTotpChallenge(ch domain.TotpChallenge, userID int64) domain.Challenge {
	return domain.Challenge{
		ID:        ch.ID,
		UserID:    userID,
		UserToken: ch.UserToken,
		Expires:   ch.Expires,
		Used:      ch.Used,
		Attempt:   ch.Attempt,
		Created:   ch.Created,
	}
}

func totpAccountName(user *domain.User) string {
	if user.Email != "" {
		return user.Email
	}
	return user.Username
}
