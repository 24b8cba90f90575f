package sqlite

import (
	"context"
	"time"

	"github.com/deadbolt-id/deadbolt/internal/identity/domain"
	"github.com/deadbolt-id/deadbolt/internal/identity/store"
)

type sessionsRepo struct {
	db dbtx
}

func (r *sessionsRepo) Create(ctx context.Context, s *domain.Session) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO session (userId, token, created, expires) VALUES (?, ?, ?, ?)`,
		s.UserID, s.Token, toUnix(s.Created), toUnix(s.Expires))
	if err != nil {
		return mapConstraint(err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	s.ID = id
	return nil
}

func (r *sessionsRepo) GetActiveByToken(ctx context.Context, token string, now time.Time) (domain.Session, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, userId, token, created, expires FROM session WHERE token = ? AND expires > ?`,
		token, toUnix(now))

	var (
		s       domain.Session
		created int64
		expires int64
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.Token, &created, &expires); err != nil {
		return domain.Session{}, mapNotFound(err)
	}
	s.Created = fromUnix(created)
	s.Expires = fromUnix(expires)
	return s, nil
}

func (r *sessionsRepo) SetExpiry(ctx context.Context, token string, expires time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE session SET expires = ? WHERE token = ?`, toUnix(expires), token)
	return err
}

func (r *sessionsRepo) ExpireAllForUser(ctx context.Context, userID int64, expires time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE session SET expires = ? WHERE userId = ? AND expires > ?`,
		toUnix(expires), userID, toUnix(expires))
	return err
}

var _ store.SessionRepository = (*sessionsRepo)(nil)
