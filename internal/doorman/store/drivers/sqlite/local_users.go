package sqlite

import (
	"context"
	"database/sql"

	"github.com/veldtlabs/doorman/internal/doorman/domain"
	"github.com/veldtlabs/doorman/internal/doorman/store"
	"github.com/veldtlabs/doorman/pkg/idx"
)

type localUsersRepo struct {
	q querier
}

func (r *localUsersRepo) GetByID(ctx context.Context, id idx.ID) (domain.LocalUser, error) {
	return r.get(ctx, `SELECT id, user_id, password_hash FROM local_users WHERE id = ?`, id.String())
}

func (r *localUsersRepo) GetByUserID(ctx context.Context, userID idx.ID) (domain.LocalUser, error) {
	return r.get(ctx, `SELECT id, user_id, password_hash FROM local_users WHERE user_id = ?`, userID.String())
}

func (r *localUsersRepo) get(ctx context.Context, query, arg string) (domain.LocalUser, error) {
	var lu domain.LocalUser
	var id, userID string
	var hash sql.NullString

	err := r.q.QueryRowContext(ctx, query, arg).Scan(&id, &userID, &hash)
	if err != nil {
		return domain.LocalUser{}, mapNotFound(err)
	}

	lu.ID = idx.ID(id)
	lu.UserID = idx.ID(userID)
	lu.PasswordHash = mapNullStringPtr(hash)
	return lu, nil
}

func (r *localUsersRepo) Create(ctx context.Context, lu domain.LocalUser) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO local_users (id, user_id, password_hash) VALUES (?, ?, ?)`,
		lu.ID.String(), lu.UserID.String(), mapOptionalString(lu.PasswordHash))
	return mapConstraint(err)
}

func (r *localUsersRepo) UpdatePasswordHash(ctx context.Context, id idx.ID, hash *string) error {
	res, err := r.q.ExecContext(ctx,
		`UPDATE local_users SET password_hash = ? WHERE id = ?`,
		mapOptionalString(hash), id.String())
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

type oidcUsersRepo struct {
	q querier
}

func (r *oidcUsersRepo) GetByUserID(ctx context.Context, userID idx.ID) (domain.OIDCUser, error) {
	var ou domain.OIDCUser
	var id, uid string

	err := r.q.QueryRowContext(ctx,
		`SELECT id, user_id, subject FROM oidc_users WHERE user_id = ?`,
		userID.String()).Scan(&id, &uid, &ou.Subject)
	if err != nil {
		return domain.OIDCUser{}, mapNotFound(err)
	}

	ou.ID = idx.ID(id)
	ou.UserID = idx.ID(uid)
	return ou, nil
}

func (r *oidcUsersRepo) Create(ctx context.Context, ou domain.OIDCUser) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO oidc_users (id, user_id, subject) VALUES (?, ?, ?)`,
		ou.ID.String(), ou.UserID.String(), ou.Subject)
	return mapConstraint(err)
}
