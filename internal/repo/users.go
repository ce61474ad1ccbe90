package repo

import (
	"context"
	"database/sql"

	"taskline/internal/domain"
)

const userColumns = `id,name,email,role,COALESCE(unit,''),active,created_at`

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	var createdAt string
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.Unit, &u.Active, &createdAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	u.CreatedAt, err = parseTime(createdAt)
	return u, err
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	return scanUser(r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=?`, email))
}

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,name,email,role,unit,active,created_at) VALUES (?,?,?,?,?,?,?)`,
		u.ID, u.Name, u.Email, u.Role, nullable(u.Unit), u.Active, fmtTime(u.CreatedAt))
	return err
}

func (r Repo) SetUserActive(ctx context.Context, id string, active bool) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE users SET active=? WHERE id=?`, active, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) queryUsers(ctx context.Context, query string, args ...any) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var users []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	return r.queryUsers(ctx, `SELECT `+userColumns+` FROM users ORDER BY name`)
}

func (r Repo) ActiveUsers(ctx context.Context) ([]domain.User, error) {
	return r.queryUsers(ctx, `SELECT `+userColumns+` FROM users WHERE active=1 ORDER BY name`)
}

// ActiveUsersByRole returns all active directory entries holding a role,
// used to fan out tier escalations.
func (r Repo) ActiveUsersByRole(ctx context.Context, role domain.Role) ([]domain.User, error) {
	return r.queryUsers(ctx, `SELECT `+userColumns+` FROM users WHERE active=1 AND role=? ORDER BY name`, role)
}
