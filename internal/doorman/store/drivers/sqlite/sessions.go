package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/veldtlabs/doorman/internal/doorman/domain"
	"github.com/veldtlabs/doorman/internal/doorman/store"
	"github.com/veldtlabs/doorman/pkg/idx"
)

type sessionsRepo struct {
	q querier
}

func (r *sessionsRepo) Touch(ctx context.Context, id string) error {
	ts := now()
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, created_at, updated_at)
		 VALUES (?, NULL, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET updated_at = excluded.updated_at`,
		id, ts, ts)
	return err
}

func (r *sessionsRepo) Get(ctx context.Context, id string) (domain.SessionRecord, error) {
	var rec domain.SessionRecord
	var userID sql.NullString

	err := r.q.QueryRowContext(ctx,
		`SELECT id, user_id, created_at, updated_at FROM sessions WHERE id = ?`,
		id).Scan(&rec.ID, &userID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return domain.SessionRecord{}, mapNotFound(err)
	}

	if userID.Valid {
		uid := idx.ID(userID.String)
		rec.UserID = &uid
	}
	return rec, nil
}

func (r *sessionsRepo) SetUser(ctx context.Context, id string, userID idx.ID) error {
	return r.exec(ctx,
		`UPDATE sessions SET user_id = ?, updated_at = ? WHERE id = ?`,
		userID.String(), now(), id)
}

func (r *sessionsRepo) ClearUser(ctx context.Context, id string) error {
	return r.exec(ctx,
		`UPDATE sessions SET user_id = NULL, updated_at = ? WHERE id = ?`,
		now(), id)
}

func (r *sessionsRepo) DeleteIdleSince(ctx context.Context, cutoff time.Time) error {
	_, err := r.q.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, cutoff)
	return err
}

func (r *sessionsRepo) exec(ctx context.Context, query string, args ...any) error {
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
