package sqlite

import (
	"context"

	"github.com/veldtlabs/doorman/internal/doorman/domain"
	"github.com/veldtlabs/doorman/internal/doorman/store"
	"github.com/veldtlabs/doorman/pkg/idx"
)

type invitesRepo struct {
	q querier
}

func (r *invitesRepo) Create(ctx context.Context, inv domain.Invite) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO invites (id, email, display_name, role, created_by, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		inv.ID.String(), inv.Email, inv.DisplayName, string(inv.Role),
		inv.CreatedBy.String(), inv.ExpiresAt, now())
	return mapConstraint(err)
}

func (r *invitesRepo) GetByID(ctx context.Context, id idx.ID) (domain.Invite, error) {
	var inv domain.Invite
	var invID, role, createdBy string

	err := r.q.QueryRowContext(ctx,
		`SELECT id, email, display_name, role, created_by, expires_at, created_at
		 FROM invites WHERE id = ?`,
		id.String()).Scan(&invID, &inv.Email, &inv.DisplayName, &role,
		&createdBy, &inv.ExpiresAt, &inv.CreatedAt)
	if err != nil {
		return domain.Invite{}, mapNotFound(err)
	}

	inv.ID = idx.ID(invID)
	inv.Role = domain.Role(role)
	inv.CreatedBy = idx.ID(createdBy)
	return inv, nil
}

func (r *invitesRepo) Delete(ctx context.Context, id idx.ID) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM invites WHERE id = ?`, id.String())
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

func (r *invitesRepo) DeleteExpired(ctx context.Context) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM invites WHERE expires_at < ?`, now())
	return err
}
