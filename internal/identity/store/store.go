package store

import (
	"context"
	"errors"
	"time"

	"github.com/deadbolt-id/deadbolt/internal/identity/domain"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("record conflict")

	// ErrIntegrity is returned when a query that must match at most one row
	// matches several. It signals corrupted data, not caller error.
	ErrIntegrity = errors.New("data integrity fault")
)

// Store is the persistence interface for the identity service. Drivers
// implement it; services depend on it.
type Store interface {
	Users() UserRepository
	Memberships() MembershipRepository
	Sessions() SessionRepository
	Passwords() PasswordRepository
	EmailChallenges() ChallengeRepository
	SMSChallenges() ChallengeRepository
	Totp() TotpRepository

	// ApplyMigrations brings the schema up to date using the driver's
	// embedded migration files.
	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction: rolled back if fn errors,
	// committed otherwise. Prefer this over managing Tx by hand.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Ping verifies the backing database is reachable.
	Ping(ctx context.Context) error

	Close() error
}

// Tx is a transactional store. It embeds the same repos but adds
// Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

// UserRepository persists accounts. Reads return the user with memberships
// attached.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (domain.User, error)
	GetByUUID(ctx context.Context, uuid string) (domain.User, error)
	// GetByUsername matches case-insensitively.
	GetByUsername(ctx context.Context, username string) (domain.User, error)
	GetByEmail(ctx context.Context, email string) (domain.User, error)
	GetByConfirmToken(ctx context.Context, token string) (domain.User, error)

	// Create inserts the user and sets ID on success.
	Create(ctx context.Context, u *domain.User) error

	// Update applies the non-nil fields of changes and reports how many
	// rows were touched.
	Update(ctx context.Context, id int64, changes domain.UserChanges) (int64, error)

	// Delete removes the user by external id, cascading to all dependent
	// rows. Reports whether a row was deleted.
	Delete(ctx context.Context, uuid string) (bool, error)

	UUIDExists(ctx context.Context, uuid string) (bool, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	EmailExists(ctx context.Context, email string) (bool, error)

	// ConfirmEmail stamps the confirmation time and clears the pending
	// confirmation token.
	ConfirmEmail(ctx context.Context, userID int64, at time.Time) error

	// SetConfirmToken installs a fresh confirmation token and expiry.
	SetConfirmToken(ctx context.Context, userID int64, token string, expires time.Time) error

	SetTwoFactor(ctx context.Context, userID int64, method domain.TwoFactorMethod) error
	TouchLastActivity(ctx context.Context, userID int64, at time.Time) error

	// Search runs a filtered, ordered, paged query.
	Search(ctx context.Context, c domain.SearchCriteria) (domain.Page[domain.User], error)
}

// MembershipRepository persists (app, role) grants.
type MembershipRepository interface {
	ListByUser(ctx context.Context, userID int64) ([]domain.Membership, error)

	// Add inserts the given memberships for the user, setting each ID.
	Add(ctx context.Context, userID int64, ms []domain.Membership) error

	// Update rewrites app and role on the membership identified by m.ID.
	Update(ctx context.Context, m domain.Membership) error

	// Remove deletes the user's memberships matching any of the pairs.
	Remove(ctx context.Context, userID int64, pairs []domain.AppRole) error

	// DeleteByUser removes every membership the user holds.
	DeleteByUser(ctx context.Context, userID int64) error
}

// SessionRepository persists bearer sessions. Revocation is an expiry
// rewrite; rows are never deleted.
type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error

	// GetActiveByToken returns the session only if it has not expired.
	GetActiveByToken(ctx context.Context, token string, now time.Time) (domain.Session, error)

	// SetExpiry rewrites the expiry on the session with the given token.
	// Unknown tokens are a no-op.
	SetExpiry(ctx context.Context, token string, expires time.Time) error

	// ExpireAllForUser rewrites the expiry on every session of the user.
	ExpireAllForUser(ctx context.Context, userID int64, expires time.Time) error
}

// PasswordRepository persists credentials, one record per user.
type PasswordRepository interface {
	// GetByUserID returns ErrIntegrity if several records exist.
	GetByUserID(ctx context.Context, userID int64) (domain.PasswordRecord, error)

	// GetByResetToken returns ErrIntegrity if several records match.
	GetByResetToken(ctx context.Context, token string) (domain.PasswordRecord, error)

	Create(ctx context.Context, rec *domain.PasswordRecord) error

	// UpdateHash replaces the hash and clears any pending reset token.
	UpdateHash(ctx context.Context, userID int64, hash string, at time.Time) error

	SetResetToken(ctx context.Context, userID int64, token string, expires, at time.Time) error
}

// ChallengeRepository persists delivery-channel verification codes. The
// email and sms channels share this shape over separate tables.
type ChallengeRepository interface {
	Create(ctx context.Context, ch *domain.Challenge) error

	// GetPending returns the unused, unexpired challenge matching the user
	// and correlator token.
	GetPending(ctx context.Context, userID int64, userToken string, now time.Time) (domain.Challenge, error)

	IncrementAttempt(ctx context.Context, id int64) error
	MarkUsed(ctx context.Context, id int64) error

	// Latest returns the most recently created challenge for the user.
	Latest(ctx context.Context, userID int64) (domain.Challenge, error)

	// List pages through challenges newest-first and returns the total count.
	List(ctx context.Context, page, perPage int) ([]domain.Challenge, int, error)
}

// TotpRepository persists authenticator enrollments and their pending
// prompts.
type TotpRepository interface {
	GetEnrollment(ctx context.Context, userID int64) (domain.TotpEnrollment, error)

	// ReplaceEnrollment drops any existing enrollment for the user, with
	// its challenges, and inserts e.
	ReplaceEnrollment(ctx context.Context, e *domain.TotpEnrollment) error

	ConfirmEnrollment(ctx context.Context, id int64) error

	CreateChallenge(ctx context.Context, ch *domain.TotpChallenge) error
	GetPendingChallenge(ctx context.Context, enrollmentID int64, userToken string, now time.Time) (domain.TotpChallenge, error)
	IncrementChallengeAttempt(ctx context.Context, id int64) error
	MarkChallengeUsed(ctx context.Context, id int64) error
	LatestChallenge(ctx context.Context, enrollmentID int64) (domain.TotpChallenge, error)
	ListChallenges(ctx context.Context, page, perPage int) ([]domain.TotpChallenge, int, error)
}
