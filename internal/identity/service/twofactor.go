package service

import (
	"context"
	"errors"
	"time"

	"github.com/deadbolt-id/deadbolt/internal/identity/domain"
)

var (
	ErrTwoFactorNotSetUp      = errors.New("two-factor method not set up")
	ErrTwoFactorNotConfirmed  = errors.New("two-factor enrollment not confirmed")
	ErrUnknownTwoFactorMethod = errors.New("unknown two-factor method")
)

const (
	// DefaultChallengeTTL is how long a user has to complete a challenge.
	DefaultChallengeTTL = 10 * time.Minute

	// DefaultMaxAttempts is the number of wrong codes tolerated before a
	// challenge is burned.
	DefaultMaxAttempts = 3
)

// TwoFactor is a second-factor strategy. Implementations never mutate the
// user row; the orchestrator persists the enrolled method after the first
// successful verification.
type TwoFactor interface {
	Method() domain.TwoFactorMethod

	// Setup provisions the method from scratch, discarding any previous
	// enrollment, and returns the first pending prompt.
	Setup(ctx context.Context, user *domain.User) (*domain.TwoFactorPrompt, error)

	// Request issues a fresh challenge for an already-provisioned method.
	Request(ctx context.Context, user *domain.User) (*domain.TwoFactorPrompt, error)

	// Verify checks a code against the pending challenge identified by the
	// payload's user token. Wrong codes, exhausted attempts and unknown
	// tokens all report false without error.
	Verify(ctx context.Context, user *domain.User, payload domain.TwoFactorPayload) (bool, error)

	// Latest returns the most recent challenge for the user, or nil.
	Latest(ctx context.Context, user *domain.User) (*domain.Challenge, error)

	// History pages through issued challenges, newest first.
	History(ctx context.Context, page int) (domain.Page[domain.Challenge], error)
}

// TwoFactorSet indexes the available strategies by method.
type TwoFactorSet map[domain.TwoFactorMethod]TwoFactor

func (s TwoFactorSet) Get(m domain.TwoFactorMethod) (TwoFactor, error) {
	tf, ok := s[m]
	if !ok {
		return nil, ErrUnknownTwoFactorMethod
	}
	return tf, nil
}
