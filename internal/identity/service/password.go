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

const (
	MinPasswordLength = 6
	MaxPasswordLength = 70 // bcrypt-era cap kept for client compatibility
)

var (
	ErrPasswordTooWeak    = errors.New("password too weak")
	ErrPasswordTooLong    = errors.New("password too long")
	ErrResetTokenNotFound = errors.New("reset token not found")
	ErrResetTokenExpired  = errors.New("reset token expired")
)

// PasswordService owns the credential lifecycle: verification, rotation and
// the reset-token flow.
type PasswordService struct {
	Store         store.Store
	ResetTokenTTL time.Duration

	// Clock overrides time.Now in tests.
	Clock func() time.Time
}

func (s *PasswordService) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

// Verify checks a plaintext password against the stored hash. A missing
// record, empty plaintext or mismatch all return false without error; only
// infrastructure failures error.
func (s *PasswordService) Verify(ctx context.Context, userID int64, plaintext string) (bool, error) {
	if plaintext == "" {
		return false, nil
	}

	rec, err := s.Store.Passwords().GetByUserID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load password record: %w", err)
	}

	if err := cryptox.VerifyPassword(plaintext, rec.PasswordHash); err != nil {
		if errors.Is(err, cryptox.ErrPasswordMismatch) {
			return false, nil
		}
		// Malformed stored hash. Treat as a mismatch rather than leaking
		// internals to the caller.
		return false, nil
	}
	return true, nil
}

// SetPassword hashes and stores a new password, creating the credential
// record on first use. Any pending reset token is invalidated.
func (s *PasswordService) SetPassword(ctx context.Context, userID int64, plaintext string) error {
	if err := checkPasswordPolicy(plaintext); err != nil {
		return err
	}

	hash, err := cryptox.HashPassword(plaintext)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now()
	_, err = s.Store.Passwords().GetByUserID(ctx, userID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// First credential for this user. Confirm the user row exists so the
		// caller gets a typed error instead of a foreign-key violation.
		if _, err := s.Store.Users().GetByID(ctx, userID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrUserNotFound
			}
			return fmt.Errorf("failed to load user: %w", err)
		}
		rec := domain.PasswordRecord{
			UserID:       userID,
			PasswordHash: hash,
			Created:      now,
			Updated:      now,
		}
		return s.Store.Passwords().Create(ctx, &rec)
	case err != nil:
		return fmt.Errorf("failed to load password record: %w", err)
	default:
		return s.Store.Passwords().UpdateHash(ctx, userID, hash, now)
	}
}

// GenerateResetToken mints a single-use reset token with its own expiry and
// returns it so the caller can deliver it out of band.
func (s *PasswordService) GenerateResetToken(ctx context.Context, userID int64) (string, time.Time, error) {
	if _, err := s.Store.Passwords().GetByUserID(ctx, userID); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to load password record: %w", err)
	}

	token, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to generate reset token: %w", err)
	}

	now := s.now()
	expires := now.Add(s.ResetTokenTTL)
	if err := s.Store.Passwords().SetResetToken(ctx, userID, token, expires, now); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to store reset token: %w", err)
	}
	return token, expires, nil
}

// ResetPassword redeems a reset token and installs the new password. A
// successful reset also confirms the user's email: reaching the token proves
// control of the inbox.
func (s *PasswordService) ResetPassword(ctx context.Context, token, plaintext string) (int64, error) {
	if err := checkPasswordPolicy(plaintext); err != nil {
		return 0, err
	}

	rec, err := s.Store.Passwords().GetByResetToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return 0, ErrResetTokenNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load reset token: %w", err)
	}

	now := s.now()
	if rec.ResetTokenExpires == nil || !rec.ResetTokenExpires.After(now) {
		return 0, ErrResetTokenExpired
	}

	hash, err := cryptox.HashPassword(plaintext)
	if err != nil {
		return 0, fmt.Errorf("failed to hash password: %w", err)
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Passwords().UpdateHash(ctx, rec.UserID, hash, now); err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}

		user, err := tx.Users().GetByID(ctx, rec.UserID)
		if err != nil {
			return fmt.Errorf("failed to load user: %w", err)
		}
		if user.Email != "" && user.EmailConfirmed == nil {
			if err := tx.Users().ConfirmEmail(ctx, user.ID, now); err != nil {
				return fmt.Errorf("failed to confirm email: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rec.UserID, nil
}

func checkPasswordPolicy(plaintext string) error {
	if len(plaintext) < MinPasswordLength {
		return ErrPasswordTooWeak
	}
	if len(plaintext) >= MaxPasswordLength {
		return ErrPasswordTooLong
	}
	return nil
}
