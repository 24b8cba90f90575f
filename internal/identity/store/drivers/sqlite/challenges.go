package sqlite

import (
	"context"
	"time"

	"github.com/deadbolt-id/deadbolt/internal/identity/domain"
	"github.com/deadbolt-id/deadbolt/internal/identity/store"
)

// challengesRepo serves the emailTwoFactor and smsTwoFactor tables, which
// share a schema. table is fixed at construction, never caller input.
type challengesRepo struct {
	db    dbtx
	table string
}

func scanChallenge(row rowScanner) (domain.Challenge, error) {
	var (
		ch      domain.Challenge
		expires int64
		used    int64
		created int64
	)
	err := row.Scan(&ch.ID, &ch.UserID, &ch.Code, &ch.UserToken, &expires, &used, &ch.Attempt, &created)
	if err != nil {
		return domain.Challenge{}, err
	}
	ch.Expires = fromUnix(expires)
	ch.Used = used != 0
	ch.Created = fromUnix(created)
	return ch, nil
}

const challengeColumns = `id, userId, code, userToken, expires, used, attempt, created`

func (r *challengesRepo) Create(ctx context.Context, ch *domain.Challenge) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO `+r.table+` (userId, code, userToken, expires, used, attempt, created)
		 VALUES (?, ?, ?, ?, 0, 0, ?)`,
		ch.UserID, ch.Code, ch.UserToken, toUnix(ch.Expires), toUnix(ch.Created))
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

func (r *challengesRepo) GetPending(ctx context.Context, userID int64, userToken string, now time.Time) (domain.Challenge, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+challengeColumns+` FROM `+r.table+`
		 WHERE userId = ? AND userToken = ? AND used = 0 AND expires > ?`,
		userID, userToken, toUnix(now))

	ch, err := scanChallenge(row)
	if err != nil {
		return domain.Challenge{}, mapNotFound(err)
	}
	return ch, nil
}

func (r *challengesRepo) IncrementAttempt(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE `+r.table+` SET attempt = attempt + 1 WHERE id = ?`, id)
	return err
}

func (r *challengesRepo) MarkUsed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE `+r.table+` SET used = 1 WHERE id = ?`, id)
	return err
}

func (r *challengesRepo) Latest(ctx context.Context, userID int64) (domain.Challenge, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+challengeColumns+` FROM `+r.table+`
		 WHERE userId = ? ORDER BY id DESC LIMIT 1`, userID)

	ch, err := scanChallenge(row)
	if err != nil {
		return domain.Challenge{}, mapNotFound(err)
	}
	return ch, nil
}

func (r *challengesRepo) List(ctx context.Context, page, perPage int) ([]domain.Challenge, int, error) {
	if perPage <= 0 {
		perPage = domain.DefaultPerPage
	}
	if page < 0 {
		page = 0
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+r.table).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+challengeColumns+` FROM `+r.table+`
		 ORDER BY id DESC LIMIT ? OFFSET ?`, perPage, page*perPage)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []domain.Challenge
	for rows.Next() {
		ch, err := scanChallenge(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, ch)
	}
	return out, total, rows.Err()
}

var _ store.ChallengeRepository = (*challengesRepo)(nil)
