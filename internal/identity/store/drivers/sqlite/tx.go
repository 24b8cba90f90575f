package sqlite

import (
	"context"
	"database/sql"

	"github.com/deadbolt-id/deadbolt/internal/identity/store"
)

type txStore struct {
	tx *sql.Tx
}

func newTx(tx *sql.Tx) *txStore {
	return &txStore{tx: tx}
}

func (t *txStore) Commit() error   { return t.tx.Commit() }
func (t *txStore) Rollback() error { return t.tx.Rollback() }

func (t *txStore) Close() error { return nil } // nothing to close; outer DB stays open

// Ping is a no-op for transactions. The connection is already established
// when the transaction is created, so we just return nil.
func (t *txStore) Ping(ctx context.Context) error {
	return nil
}

func (t *txStore) Tx(ctx context.Context) (store.Tx, error) {
	// Nested tx not supported; could emulate with SAVEPOINT if needed
	return nil, sql.ErrTxDone
}

func (t *txStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	// Nested tx not supported; could emulate with SAVEPOINT if needed
	return sql.ErrTxDone
}

func (t *txStore) Users() store.UserRepository             { return &usersRepo{db: t.tx} }
func (t *txStore) Memberships() store.MembershipRepository { return &membershipsRepo{db: t.tx} }
func (t *txStore) Sessions() store.SessionRepository       { return &sessionsRepo{db: t.tx} }
func (t *txStore) Passwords() store.PasswordRepository     { return &passwordsRepo{db: t.tx} }
func (t *txStore) EmailChallenges() store.ChallengeRepository {
	return &challengesRepo{db: t.tx, table: "emailTwoFactor"}
}
func (t *txStore) SMSChallenges() store.ChallengeRepository {
	return &challengesRepo{db: t.tx, table: "smsTwoFactor"}
}
func (t *txStore) Totp() store.TotpRepository { return &totpRepo{db: t.tx} }

func (t *txStore) ApplyMigrations() error { return nil } // no-op; migrations run before any tx starts
