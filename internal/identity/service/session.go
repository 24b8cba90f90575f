package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deadbolt-id/deadbolt/internal/identity/domain"
	"github.com/deadbolt-id/deadbolt/internal/identity/store"
	"github.com/deadbolt-id/deadbolt/pkg/cryptox"
)

// DefaultSessionTTL is the sliding window applied when no override is given.
const DefaultSessionTTL = 336 * time.Hour // 14 days

// SessionService mints and validates opaque bearer sessions. Expiry slides:
// every successful validation pushes the deadline out by the default TTL.
type SessionService struct {
	Store      store.Store
	DefaultTTL time.Duration

	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

func (s *SessionService) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func (s *SessionService) ttl() time.Duration {
	if s.DefaultTTL > 0 {
		return s.DefaultTTL
	}
	return DefaultSessionTTL
}

// Create mints a session for the user. A positive ttl overrides the default
// for the initial deadline only; sliding renewal always uses the default.
func (s *SessionService) Create(ctx context.Context, user *domain.User, ttl time.Duration) (domain.Session, error) {
	if ttl <= 0 {
		ttl = s.ttl()
	}

	token, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return domain.Session{}, fmt.Errorf("failed to generate session token: %w", err)
	}

	now := s.now()
	sess := domain.Session{
		UserID:  user.ID,
		Token:   token,
		Created: now,
		Expires: now.Add(ttl),
	}
	if err := s.Store.Sessions().Create(ctx, &sess); err != nil {
		return domain.Session{}, fmt.Errorf("failed to store session: %w", err)
	}
	return sess, nil
}

// Validate resolves a token to its live session, extending the expiry and
// stamping the user's last activity. Unknown or expired tokens return
// (nil, nil).
func (s *SessionService) Validate(ctx context.Context, token string) (*domain.Session, error) {
	if token == "" {
		return nil, nil
	}

	now := s.now()
	sess, err := s.Store.Sessions().GetActiveByToken(ctx, token, now)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	expires := now.Add(s.ttl())
	if err := s.Store.Sessions().SetExpiry(ctx, token, expires); err != nil {
		return nil, fmt.Errorf("failed to extend session: %w", err)
	}
	if err := s.Store.Users().TouchLastActivity(ctx, sess.UserID, now); err != nil {
		return nil, fmt.Errorf("failed to touch last activity: %w", err)
	}

	sess.Expires = expires
	return &sess, nil
}

// Revoke expires the session immediately. The row is kept; its expiry is
// rewritten to one second in the past. Unknown tokens are a no-op.
func (s *SessionService) Revoke(ctx context.Context, token string) error {
	return s.Store.Sessions().SetExpiry(ctx, token, s.now().Add(-time.Second))
}

// RevokeAllForUser expires every live session the user holds.
func (s *SessionService) RevokeAllForUser(ctx context.Context, userID int64) error {
	return s.Store.Sessions().ExpireAllForUser(ctx, userID, s.now().Add(-time.Second))
}
