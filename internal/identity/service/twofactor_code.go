package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/deadbolt-id/deadbolt/internal/identity/domain"
	"github.com/deadbolt-id/deadbolt/internal/identity/store"
	"github.com/deadbolt-id/deadbolt/pkg/cryptox"
)

// CodeFormat selects the shape of delivered verification codes.
type CodeFormat string

const (
	CodeFormatDigits CodeFormat = "digits" // six decimal digits
	CodeFormatHex    CodeFormat = "hex"    // 128-bit token, 32 hex characters
)

// CodeTwoFactorConfig tunes a delivery-channel strategy. Zero values fall
// back to the package defaults.
type CodeTwoFactorConfig struct {
	TTL         time.Duration
	MaxAttempts int
	Format      CodeFormat
}

// codeTwoFactor implements TwoFactor for channels that deliver a short code
// out of band. Email and sms share this logic over separate tables.
type codeTwoFactor struct {
	method domain.TwoFactorMethod
	store  store.Store
	repo   func(store.Store) store.ChallengeRepository
	cfg    CodeTwoFactorConfig
	clock  func() time.Time
}

// NewEmailTwoFactor builds the email code strategy.
func NewEmailTwoFactor(st store.Store, cfg CodeTwoFactorConfig, clock func() time.Time) TwoFactor {
	return &codeTwoFactor{
		method: domain.TwoFactorEmail,
		store:  st,
		repo:   func(s store.Store) store.ChallengeRepository { return s.EmailChallenges() },
		cfg:    cfg,
		clock:  clock,
	}
}

// NewSMSTwoFactor builds the sms code strategy.
func NewSMSTwoFactor(st store.Store, cfg CodeTwoFactorConfig, clock func() time.Time) TwoFactor {
	return &codeTwoFactor{
		method: domain.TwoFactorSMS,
		store:  st,
		repo:   func(s store.Store) store.ChallengeRepository { return s.SMSChallenges() },
		cfg:    cfg,
		clock:  clock,
	}
}

func (c *codeTwoFactor) Method() domain.TwoFactorMethod { return c.method }

func (c *codeTwoFactor) now() time.Time {
	if c.clock != nil {
		return c.clock()
	}
	return time.Now()
}

func (c *codeTwoFactor) ttl() time.Duration {
	if c.cfg.TTL > 0 {
		return c.cfg.TTL
	}
	return DefaultChallengeTTL
}

func (c *codeTwoFactor) maxAttempts() int {
	if c.cfg.MaxAttempts > 0 {
		return c.cfg.MaxAttempts
	}
	return DefaultMaxAttempts
}

// Setup for a delivery channel is just a first Request; there is no
// enrollment state to provision.
func (c *codeTwoFactor) Setup(ctx context.Context, user *domain.User) (*domain.TwoFactorPrompt, error) {
	return c.Request(ctx, user)
}

func (c *codeTwoFactor) Request(ctx context.Context, user *domain.User) (*domain.TwoFactorPrompt, error) {
	code, err := c.generateCode()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}
	userToken, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return nil, fmt.Errorf("failed to generate user token: %w", err)
	}

	now := c.now()
	ch := domain.Challenge{
		UserID:    user.ID,
		Code:      code,
		UserToken: userToken,
		Expires:   now.Add(c.ttl()),
		Created:   now,
	}
	if err := c.repo(c.store).Create(ctx, &ch); err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}

	return &domain.TwoFactorPrompt{
		Method:    c.method,
		UserToken: ch.UserToken,
		Expires:   ch.Expires,
		Code:      ch.Code, // for the delivery transport only
	}, nil
}

func (c *codeTwoFactor) Verify(ctx context.Context, user *domain.User, payload domain.TwoFactorPayload) (bool, error) {
	repo := c.repo(c.store)

	ch, err := repo.GetPending(ctx, user.ID, payload.UserToken, c.now())
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load challenge: %w", err)
	}

	// An exhausted challenge stays dead: no counter bump, no acceptance.
	if ch.Attempt >= c.maxAttempts() {
		return false, nil
	}

	if subtle.ConstantTimeCompare([]byte(ch.Code), []byte(payload.Code)) != 1 {
		if err := repo.IncrementAttempt(ctx, ch.ID); err != nil {
			return false, fmt.Errorf("failed to record attempt: %w", err)
		}
		return false, nil
	}

	if err := repo.MarkUsed(ctx, ch.ID); err != nil {
		return false, fmt.Errorf("failed to burn challenge: %w", err)
	}
	return true, nil
}

func (c *codeTwoFactor) Latest(ctx context.Context, user *domain.User) (*domain.Challenge, error) {
	ch, err := c.repo(c.store).Latest(ctx, user.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

func (c *codeTwoFactor) History(ctx context.Context, page int) (domain.Page[domain.Challenge], error) {
	items, total, err := c.repo(c.store).List(ctx, page, domain.DefaultPerPage)
	if err != nil {
		return domain.Page[domain.Challenge]{}, err
	}
	return domain.NewPage(items, page, total, domain.DefaultPerPage), nil
}

func (c *codeTwoFactor) generateCode() (string, error) {
	if c.cfg.Format == CodeFormatHex {
		return cryptox.GenerateToken(cryptox.TokenSize128)
	}
	return cryptox.GenerateDigitCode()
}
