package sqlite

import (
	"context"

	"github.com/veldtlabs/doorman/internal/doorman/domain"
	"github.com/veldtlabs/doorman/internal/doorman/store"
	"github.com/veldtlabs/doorman/pkg/idx"
)

type usersRepo struct {
	q querier
}

const userColumns = `id, email, display_name, role, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (domain.User, error) {
	var u domain.User
	var id, role string
	if err := row.Scan(&id, &u.Email, &u.DisplayName, &role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return domain.User{}, err
	}
	u.ID = idx.ID(id)
	u.Role = domain.Role(role)
	return u, nil
}

func (r *usersRepo) GetUserByID(ctx context.Context, id idx.ID) (domain.User, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id.String())
	u, err := scanUser(row)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return u, nil
}

func (r *usersRepo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	u, err := scanUser(row)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	return u, nil
}

func (r *usersRepo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at ASC`)
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

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	ts := now()
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO users (id, email, display_name, role, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID.String(), u.Email, u.DisplayName, string(u.Role), ts, ts)
	return mapConstraint(err)
}

func (r *usersRepo) UpdateDisplayName(ctx context.Context, userID idx.ID, displayName string) error {
	return r.update(ctx, userID,
		`UPDATE users SET display_name = ?, updated_at = ? WHERE id = ?`,
		displayName, now(), userID.String())
}

func (r *usersRepo) UpdateRole(ctx context.Context, userID idx.ID, role domain.Role) error {
	return r.update(ctx, userID,
		`UPDATE users SET role = ?, updated_at = ? WHERE id = ?`,
		string(role), now(), userID.String())
}

func (r *usersRepo) DeleteUser(ctx context.Context, userID idx.ID) error {
	return r.update(ctx, userID,
		`DELETE FROM users WHERE id = ?`, userID.String())
}

func (r *usersRepo) update(ctx context.Context, userID idx.ID, query string, args ...any) error {
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
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
