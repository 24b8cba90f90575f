package service

import (
	"context"

	"github.com/deadbolt-id/deadbolt/internal/identity/domain"
)

// AuthMethod verifies a primary credential during login. The set of methods
// is closed; password is currently the only one.
type AuthMethod interface {
	Name() string

	// Verify reports whether the secret authenticates the user. It returns
	// false rather than erroring for missing credentials or mismatches.
	Verify(ctx context.Context, user *domain.User, secret string) (bool, error)
}

// PasswordAuth adapts PasswordService to the AuthMethod contract.
type PasswordAuth struct {
	Passwords *PasswordService
}

func (a *PasswordAuth) Name() string { return "password" }

func (a *PasswordAuth) Verify(ctx context.Context, user *domain.User, secret string) (bool, error) {
	return a.Passwords.Verify(ctx, user.ID, secret)
}
