package sqlite

import (
	"context"
	"time"

	"github.com/deadbolt-id/deadbolt/internal/identity/domain"
	"github.com/deadbolt-id/deadbolt/internal/identity/store"
)

type totpRepo struct {
	db dbtx
}

func (r *totpRepo) GetEnrollment(ctx context.Context, userID int64) (domain.TotpEnrollment, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, userId, secret, confirmed, created FROM totpTwoFactor WHERE userId = ?`, userID)

	var (
		e         domain.TotpEnrollment
		confirmed int64
		created   int64
	)
	if err := row.Scan(&e.ID, &e.UserID, &e.Secret, &confirmed, &created); err != nil {
		return domain.TotpEnrollment{}, mapNotFound(err)
	}
	e.Confirmed = confirmed != 0
	e.Created = fromUnix(created)
	return e, nil
}

// ReplaceEnrollment drops any prior enrollment for the user. Challenge rows
// go with it via the FK cascade, so stale prompts cannot verify against a
// new secret.
func (r *totpRepo) ReplaceEnrollment(ctx context.Context, e *domain.TotpEnrollment) error {
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM totpTwoFactor WHERE userId = ?`, e.UserID); err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO totpTwoFactor (userId, secret, confirmed, created) VALUES (?, ?, ?, ?)`,
		e.UserID, e.Secret, boolInt(e.Confirmed), toUnix(e.Created))
	if err != nil {
		return mapConstraint(err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

func (r *totpRepo) ConfirmEnrollment(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE totpTwoFactor SET confirmed = 1 WHERE id = ?`, id)
	return err
}

func scanTotpChallenge(row rowScanner) (domain.TotpChallenge, error) {
	var (
		ch      domain.TotpChallenge
		expires int64
		used    int64
		created int64
	)
	err := row.Scan(&ch.ID, &ch.EnrollmentID, &ch.UserToken, &expires, &used, &ch.Attempt, &created)
	if err != nil {
		return domain.TotpChallenge{}, err
	}
	ch.Expires = fromUnix(expires)
	ch.Used = used != 0
	ch.Created = fromUnix(created)
	return ch, nil
}

const totpChallengeColumns = `id, totpId, userToken, expires, used, attempt, created`

func (r *totpRepo) CreateChallenge(ctx context.Context, ch *domain.TotpChallenge) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO totpToken (totpId, userToken, expires, used, attempt, created)
		 VALUES (?, ?, ?, 0, 0, ?)`,
		ch.EnrollmentID, ch.UserToken, toUnix(ch.Expires), toUnix(ch.Created))
	if err != nil {
		return err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	ch.ID = id
	return nil
}

func (r *totpRepo) GetPendingChallenge(ctx context.Context, enrollmentID int64, userToken string, now time.Time) (domain.TotpChallenge, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+totpChallengeColumns+` FROM totpToken
		 WHERE totpId = ? AND userToken = ? AND used = 0 AND expires > ?`,
		enrollmentID, userToken, toUnix(now))

	ch, err := scanTotpChallenge(row)
	if err != nil {
		return domain.TotpChallenge{}, mapNotFound(err)
	}
	return ch, nil
}

func (r *totpRepo) IncrementChallengeAttempt(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE totpToken SET attempt = attempt + 1 WHERE id = ?`, id)
	return err
}

func (r *totpRepo) MarkChallengeUsed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE totpToken SET used = 1 WHERE id = ?`, id)
	return err
}

func (r *totpRepo) LatestChallenge(ctx context.Context, enrollmentID int64) (domain.TotpChallenge, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+totpChallengeColumns+` FROM totpToken
		 WHERE totpId = ? ORDER BY id DESC LIMIT 1`, enrollmentID)

	ch, err := scanTotpChallenge(row)
	if err != nil {
		return domain.TotpChallenge{}, mapNotFound(err)
	}
	return ch, nil
}

func (r *totpRepo) ListChallenges(ctx context.Context, page, perPage int) ([]domain.TotpChallenge, int, error) {
	if perPage <= 0 {
		perPage = domain.DefaultPerPage
	}
	if page < 0 {
		page = 0
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM totpToken`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+totpChallengeColumns+` FROM totpToken
		 ORDER BY id DESC LIMIT ? OFFSET ?`, perPage, page*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []domain.TotpChallenge
	for rows.Next() {
		ch, err := scanTotpChallenge(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, ch)
	}
	return out, total, rows.Err()
}

var _ store.TotpRepository = (*totpRepo)(nil)
