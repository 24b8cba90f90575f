package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/deadbolt-id/deadbolt/internal/identity/domain"
	"github.com/deadbolt-id/deadbolt/internal/identity/store"
)

type passwordsRepo struct {
	db dbtx
}

func scanPassword(row rowScanner) (domain.PasswordRecord, error) {
	var (
		rec          domain.PasswordRecord
		resetToken   sql.NullString
		resetExpires sql.NullInt64
		created      int64
		updated      int64
	)
	err := row.Scan(&rec.ID, &rec.UserID, &rec.PasswordHash, &resetToken, &resetExpires, &created, &updated)
	if err != nil {
		return domain.PasswordRecord{}, err
	}
	rec.ResetToken = mapNullString(resetToken)
	rec.ResetTokenExpires = fromUnixPtr(resetExpires)
	rec.Created = fromUnix(created)
	rec.Updated = fromUnix(updated)
	return rec, nil
}

// getOne enforces the at-most-one invariant: several matches mean the table
// is corrupted and the caller must not pick one arbitrarily.
func (r *passwordsRepo) getOne(ctx context.Context, where string, arg any) (domain.PasswordRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, userId, passwordHash, resetToken, resetTokenExpires, created, updated
		 FROM authPassword WHERE `+where, arg)
	if err != nil {
		return domain.PasswordRecord{}, err
	}
	defer rows.Close()

	var (
		rec   domain.PasswordRecord
		count int
	)
	for rows.Next() {
		count++
		if count > 1 {
			return domain.PasswordRecord{}, store.ErrIntegrity
		}
		rec, err = scanPassword(rows)
		if err != nil {
			return domain.PasswordRecord{}, err
		}
	}
	if err := rows.Err(); err != nil {
		return domain.PasswordRecord{}, err
	}
	if count == 0 {
		return domain.PasswordRecord{}, store.ErrNotFound
	}
	return rec, nil
}

func (r *passwordsRepo) GetByUserID(ctx context.Context, userID int64) (domain.PasswordRecord, error) {
	return r.getOne(ctx, `userId = ?`, userID)
}

func (r *passwordsRepo) GetByResetToken(ctx context.Context, token string) (domain.PasswordRecord, error) {
	return r.getOne(ctx, `resetToken = ?`, token)
}

func (r *passwordsRepo) Create(ctx context.Context, rec *domain.PasswordRecord) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO authPassword (userId, passwordHash, resetToken, resetTokenExpires, created, updated)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.PasswordHash, mapStringNull(rec.ResetToken), toUnixPtr(rec.ResetTokenExpires),
		toUnix(rec.Created), toUnix(rec.Updated))
	if err != nil {
		return mapConstraint(err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rec.ID = id
	return nil
}

func (r *passwordsRepo) UpdateHash(ctx context.Context, userID int64, hash string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE authPassword
		SET passwordHash = ?, resetToken = NULL, resetTokenExpires = NULL, updated = ?
		WHERE userId = ?`, hash, toUnix(at), userID)
	return err
}

func (r *passwordsRepo) SetResetToken(ctx context.Context, userID int64, token string, expires, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE authPassword
		SET resetToken = ?, resetTokenExpires = ?, updated = ?
		WHERE userId = ?`, token, toUnix(expires), toUnix(at), userID)
	return err
}

var _ store.PasswordRepository = (*passwordsRepo)(nil)
