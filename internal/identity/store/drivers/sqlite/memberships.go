package sqlite

import (
	"context"
	"strings"

	"github.com/deadbolt-id/deadbolt/internal/identity/domain"
	"github.com/deadbolt-id/deadbolt/internal/identity/store"
)

type membershipsRepo struct {
	db dbtx
}

func scanMembership(row rowScanner) (domain.Membership, error) {
	var (
		m       domain.Membership
		created int64
	)
	if err := row.Scan(&m.ID, &m.UserID, &m.App, &m.Role, &created); err != nil {
		return domain.Membership{}, err
	}
	m.Created = fromUnix(created)
	return m, nil
}

func (r *membershipsRepo) ListByUser(ctx context.Context, userID int64) ([]domain.Membership, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, userId, app, role, created FROM membership WHERE userId = ? ORDER BY id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *membershipsRepo) Add(ctx context.Context, userID int64, ms []domain.Membership) error {
	for i := range ms {
		res, err := r.db.ExecContext(ctx,
			`INSERT INTO membership (userId, app, role, created) VALUES (?, ?, ?, ?)`,
			userID, ms[i].App, ms[i].Role, toUnix(ms[i].Created))
		if err != nil {
			return mapConstraint(err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		ms[i].ID = id
		ms[i].UserID = userID
	}
	return nil
}

func (r *membershipsRepo) Update(ctx context.Context, m domain.Membership) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE membership SET app = ?, role = ? WHERE id = ?`, m.App, m.Role, m.ID)
	if err != nil {
		return mapConstraint(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *membershipsRepo) Remove(ctx context.Context, userID int64, pairs []domain.AppRole) error {
	if len(pairs) == 0 {
		return nil
	}

	conds := make([]string, 0, len(pairs))
	args := []any{userID}
	for _, p := range pairs {
		conds = append(conds, `(app = ? AND role = ?)`)
		args = append(args, p.App, p.Role)
	}

	_, err := r.db.ExecContext(ctx,
		`DELETE FROM membership WHERE userId = ? AND (`+strings.Join(conds, " OR ")+`)`, args...)
	return err
}

func (r *membershipsRepo) DeleteByUser(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM membership WHERE userId = ?`, userID)
	return err
}

var _ store.MembershipRepository = (*membershipsRepo)(nil)
