package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/deadbolt-id/deadbolt/internal/identity/domain"
	"github.com/deadbolt-id/deadbolt/internal/identity/store"
	"github.com/deadbolt-id/deadbolt/internal/identity/store/drivers/sqlite"
	"github.com/stretchr/testify/require"
)

var testDBCounter atomic.Int64

// newTestStore opens a fresh in-memory database with the schema applied.
// Each store gets its own shared-cache name so pooled connections see the
// same data while tests stay isolated from each other.
func newTestStore(t *testing.T) store.Store {
	t.Helper()

	dsn := fmt.Sprintf("file:servicetest%d?mode=memory&cache=shared", testDBCounter.Add(1))
	st, err := sqlite.NewStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	require.NoError(t, st.ApplyMigrations())
	return st
}

// testClock is a manually advanced clock shared by all services in a test.
type testClock struct {
	t time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

// newUserService wires the full service stack against one store and clock.
func newUserService(st store.Store, clk *testClock) *UserService {
	passwords := &PasswordService{
		Store:         st,
		ResetTokenTTL: 24 * time.Hour,
		Clock:         clk.Now,
	}
	sessions := &SessionService{
		Store:      st,
		DefaultTTL: 336 * time.Hour,
		Clock:      clk.Now,
	}
	return &UserService{
		Store:     st,
		Sessions:  sessions,
		Passwords: passwords,
		TwoFactor: TwoFactorSet{
			domain.TwoFactorEmail: NewEmailTwoFactor(st, CodeTwoFactorConfig{}, clk.Now),
			domain.TwoFactorSMS:   NewSMSTwoFactor(st, CodeTwoFactorConfig{}, clk.Now),
			domain.TwoFactorTOTP: NewTotpTwoFactor(st, TotpConfig{
				Issuer: "deadbolt-test",
				Skew:   1,
			}, clk.Now),
		},
		ConfirmTokenTTL: 168 * time.Hour,
		Clock:           clk.Now,
	}
}

// mustAddUser registers a user with a password and returns it.
func mustAddUser(t *testing.T, svc *UserService, username, email, password string, memberships ...domain.Membership) *domain.User {
	t.Helper()

	u := &domain.User{
		Username:    username,
		Email:       email,
		Active:      true,
		Memberships: memberships,
	}
	require.NoError(t, svc.AddUser(context.Background(), u))
	if password != "" {
		require.NoError(t, svc.Passwords.SetPassword(context.Background(), u.ID, password))
	}
	return u
}

func passwordAuth(svc *UserService) AuthMethod {
	return &PasswordAuth{Passwords: svc.Passwords}
}
