package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/deadbolt-id/deadbolt/internal/identity/domain"
	"github.com/deadbolt-id/deadbolt/internal/identity/store"
)

type usersRepo struct {
	db dbtx
}

const userColumns = `u.id, u.uuid, u.username, u.email, u.firstName, u.lastName, u.active,
	u.emailConfirmed, u.emailConfirmToken, u.emailConfirmTokenExpires, u.twoFactor, u.created, u.lastActivity`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (domain.User, error) {
	var (
		u              domain.User
		email          sql.NullString
		active         int64
		confirmed      sql.NullInt64
		confirmToken   sql.NullString
		confirmExpires sql.NullInt64
		twoFactor      string
		created        int64
		lastActivity   int64
	)
	err := row.Scan(&u.ID, &u.UUID, &u.Username, &email, &u.FirstName, &u.LastName, &active,
		&confirmed, &confirmToken, &confirmExpires, &twoFactor, &created, &lastActivity)
	if err != nil {
		return domain.User{}, err
	}

	u.Email = mapNullString(email)
	u.Active = active != 0
	u.EmailConfirmed = fromUnixPtr(confirmed)
	u.EmailConfirmToken = mapNullString(confirmToken)
	u.EmailConfirmTokenExpires = fromUnixPtr(confirmExpires)
	u.TwoFactor = domain.TwoFactorMethod(twoFactor)
	u.Created = fromUnix(created)
	u.LastActivity = fromUnix(lastActivity)
	return u, nil
}

func (r *usersRepo) getOne(ctx context.Context, where string, args ...any) (domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM "user" u WHERE `+where, args...)
	u, err := scanUser(row)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}

	ms, err := (&membershipsRepo{db: r.db}).ListByUser(ctx, u.ID)
	if err != nil {
		return domain.User{}, err
	}
	u.Memberships = ms
	return u, nil
}

func (r *usersRepo) GetByID(ctx context.Context, id int64) (domain.User, error) {
	return r.getOne(ctx, `u.id = ?`, id)
}

func (r *usersRepo) GetByUUID(ctx context.Context, uuid string) (domain.User, error) {
	return r.getOne(ctx, `u.uuid = ?`, uuid)
}

func (r *usersRepo) GetByUsername(ctx context.Context, username string) (domain.User, error) {
	// username is COLLATE NOCASE, so equality matches case-insensitively.
	return r.getOne(ctx, `u.username = ?`, username)
}

func (r *usersRepo) GetByEmail(ctx context.Context, email string) (domain.User, error) {
	return r.getOne(ctx, `u.email = ?`, email)
}

func (r *usersRepo) GetByConfirmToken(ctx context.Context, token string) (domain.User, error) {
	return r.getOne(ctx, `u.emailConfirmToken = ?`, token)
}

func (r *usersRepo) Create(ctx context.Context, u *domain.User) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO "user" (uuid, username, email, firstName, lastName, active,
			emailConfirmed, emailConfirmToken, emailConfirmTokenExpires, twoFactor, created, lastActivity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.UUID, u.Username, mapStringNull(u.Email), u.FirstName, u.LastName, boolInt(u.Active),
		toUnixPtr(u.EmailConfirmed), mapStringNull(u.EmailConfirmToken), toUnixPtr(u.EmailConfirmTokenExpires),
		string(u.TwoFactor), toUnix(u.Created), toUnix(u.LastActivity))
	if err != nil {
		return mapConstraint(err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	u.ID = id
	return nil
}

func (r *usersRepo) Update(ctx context.Context, id int64, changes domain.UserChanges) (int64, error) {
	var (
		sets []string
		args []any
	)
	if changes.Username != nil {
		sets = append(sets, `username = ?`)
		args = append(args, *changes.Username)
	}
	if changes.Email != nil {
		sets = append(sets, `email = ?`)
		args = append(args, mapStringNull(*changes.Email))
	}
	if changes.FirstName != nil {
		sets = append(sets, `firstName = ?`)
		args = append(args, *changes.FirstName)
	}
	if changes.LastName != nil {
		sets = append(sets, `lastName = ?`)
		args = append(args, *changes.LastName)
	}
	if changes.Active != nil {
		sets = append(sets, `active = ?`)
		args = append(args, boolInt(*changes.Active))
	}
	if changes.TwoFactor != nil {
		sets = append(sets, `twoFactor = ?`)
		args = append(args, string(*changes.TwoFactor))
	}
	if len(sets) == 0 {
		return 0, nil
	}

	args = append(args, id)
	res, err := r.db.ExecContext(ctx, `UPDATE "user" SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return 0, mapConstraint(err)
	}
	return res.RowsAffected()
}

func (r *usersRepo) Delete(ctx context.Context, uuid string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM "user" WHERE uuid = ?`, uuid)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *usersRepo) exists(ctx context.Context, where string, arg any) (bool, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM "user" u WHERE `+where, arg).Scan(&n)
	return n > 0, err
}

func (r *usersRepo) UUIDExists(ctx context.Context, uuid string) (bool, error) {
	return r.exists(ctx, `u.uuid = ?`, uuid)
}

func (r *usersRepo) UsernameExists(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, `u.username = ?`, username)
}

func (r *usersRepo) EmailExists(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, `u.email = ?`, email)
}

func (r *usersRepo) ConfirmEmail(ctx context.Context, userID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE "user"
		SET emailConfirmed = ?, emailConfirmToken = NULL, emailConfirmTokenExpires = NULL
		WHERE id = ?`, toUnix(at), userID)
	return err
}

func (r *usersRepo) SetConfirmToken(ctx context.Context, userID int64, token string, expires time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE "user"
		SET emailConfirmed = NULL, emailConfirmToken = ?, emailConfirmTokenExpires = ?
		WHERE id = ?`, token, toUnix(expires), userID)
	return err
}

func (r *usersRepo) SetTwoFactor(ctx context.Context, userID int64, method domain.TwoFactorMethod) error {
	_, err := r.db.ExecContext(ctx, `UPDATE "user" SET twoFactor = ? WHERE id = ?`, string(method), userID)
	return err
}

func (r *usersRepo) TouchLastActivity(ctx context.Context, userID int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE "user" SET lastActivity = ? WHERE id = ?`, toUnix(at), userID)
	return err
}

// Search runs the filtered query in three steps: count the full match set,
// select one page of ids, then hydrate those users with memberships in input
// order. Sort keys come from an allow-list; user input never reaches the SQL
// text.
func (r *usersRepo) Search(ctx context.Context, c domain.SearchCriteria) (domain.Page[domain.User], error) {
	c.Normalize()

	where, args := buildSearchFilter(c)

	var total int
	countQuery := `SELECT COUNT(*) FROM "user" u` + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return domain.Page[domain.User]{}, err
	}
	if total == 0 {
		return domain.NewPage[domain.User](nil, c.Page, 0, c.PerPage), nil
	}

	order := make([]string, 0, len(c.OrderBy))
	for _, ob := range c.OrderBy {
		col, ok := domain.SearchColumn(ob.Key)
		if !ok {
			continue
		}
		dir := "ASC"
		if ob.Desc {
			dir = "DESC"
		}
		order = append(order, col+" "+dir)
	}
	if len(order) == 0 {
		order = []string{"u.id ASC"}
	}

	pageQuery := `SELECT u.id FROM "user" u` + where +
		` ORDER BY ` + strings.Join(order, ", ") +
		` LIMIT ? OFFSET ?`
	pageArgs := append(append([]any{}, args...), c.PerPage, c.Page*c.PerPage)

	rows, err := r.db.QueryContext(ctx, pageQuery, pageArgs...)
	if err != nil {
		return domain.Page[domain.User]{}, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return domain.Page[domain.User]{}, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return domain.Page[domain.User]{}, err
	}

	users, err := r.hydrate(ctx, ids)
	if err != nil {
		return domain.Page[domain.User]{}, err
	}
	return domain.NewPage(users, c.Page, total, c.PerPage), nil
}

func buildSearchFilter(c domain.SearchCriteria) (string, []any) {
	var (
		conds []string
		args  []any
	)

	// The free-text term and the email filter are mutually exclusive; the
	// free-text term already covers the email column.
	switch {
	case c.Query != "":
		prefix := likePrefix(c.Query)
		conds = append(conds, `(u.email LIKE ? ESCAPE '\' OR u.firstName LIKE ? ESCAPE '\' OR u.lastName LIKE ? ESCAPE '\')`)
		args = append(args, prefix, prefix, prefix)
	case c.Email != "":
		conds = append(conds, `u.email LIKE ? ESCAPE '\'`)
		args = append(args, likePrefix(c.Email))
	}
	if len(c.UUIDs) > 0 {
		conds = append(conds, `u.uuid IN (`+placeholders(len(c.UUIDs))+`)`)
		for _, id := range c.UUIDs {
			args = append(args, id)
		}
	}
	if len(c.Memberships) > 0 {
		pairs := make([]string, 0, len(c.Memberships))
		for _, m := range c.Memberships {
			pairs = append(pairs, `(m.app = ? AND m.role = ?)`)
			args = append(args, m.App, m.Role)
		}
		conds = append(conds, `EXISTS (SELECT 1 FROM membership m WHERE m.userId = u.id AND (`+strings.Join(pairs, " OR ")+`))`)
	}
	if c.ActiveOnly {
		conds = append(conds, `u.active = 1`)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// hydrate loads full users for the given ids, preserving id order, and
// attaches memberships in one extra query.
func (r *usersRepo) hydrate(ctx context.Context, ids []int64) ([]domain.User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	idArgs := make([]any, len(ids))
	for i, id := range ids {
		idArgs[i] = id
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM "user" u WHERE u.id IN (`+placeholders(len(ids))+`)`, idArgs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[int64]*domain.User, len(ids))
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		byID[u.ID] = &u
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	mrows, err := r.db.QueryContext(ctx, `
		SELECT id, userId, app, role, created FROM membership
		WHERE userId IN (`+placeholders(len(ids))+`)
		ORDER BY id`, idArgs...)
	if err != nil {
		return nil, err
	}
	defer mrows.Close()

	for mrows.Next() {
		m, err := scanMembership(mrows)
		if err != nil {
			return nil, err
		}
		if u, ok := byID[m.UserID]; ok {
			u.Memberships = append(u.Memberships, m)
		}
	}
	if err := mrows.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := byID[id]; ok {
			out = append(out, *u)
		}
	}
	return out, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func likePrefix(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s + "%"
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

var _ store.UserRepository = (*usersRepo)(nil)
