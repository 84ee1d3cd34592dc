package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/veldtlabs/doorman/internal/doorman/domain"
	"github.com/veldtlabs/doorman/internal/doorman/store"
	"github.com/veldtlabs/doorman/pkg/idx"
)

type totpKeysRepo struct {
	q querier
}

func (r *totpKeysRepo) ListByLocalUser(ctx context.Context, localUserID idx.ID) ([]domain.TOTPKey, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, local_user_id, label, secret, created_at
		 FROM totp_keys WHERE local_user_id = ? ORDER BY created_at ASC`,
		localUserID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []domain.TOTPKey
	for rows.Next() {
		var k domain.TOTPKey
		var id, luID string
		if err := rows.Scan(&id, &luID, &k.Label, &k.Secret, &k.CreatedAt); err != nil {
			return nil, err
		}
		k.ID = idx.ID(id)
		k.LocalUserID = idx.ID(luID)
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r *totpKeysRepo) Exists(ctx context.Context, localUserID idx.ID) (bool, error) {
	var count int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM totp_keys WHERE local_user_id = ?`,
		localUserID.String()).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *totpKeysRepo) Create(ctx context.Context, k domain.TOTPKey) error {
	_, err := r.q.ExecContext(ctx,
		`INSERT INTO totp_keys (id, local_user_id, label, secret, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		k.ID.String(), k.LocalUserID.String(), k.Label, k.Secret, now())
	return mapConstraint(err)
}

func (r *totpKeysRepo) Delete(ctx context.Context, localUserID, id idx.ID) error {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM totp_keys WHERE local_user_id = ? AND id = ?`,
		localUserID.String(), id.String())
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

type webauthnKeysRepo struct {
	q querier
}

func (r *webauthnKeysRepo) ListByLocalUser(ctx context.Context, localUserID idx.ID) ([]domain.WebAuthnKey, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT id, local_user_id, label, attested, credential, created_at
		 FROM webauthn_keys WHERE local_user_id = ? ORDER BY created_at ASC`,
		localUserID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []domain.WebAuthnKey
	for rows.Next() {
		var k domain.WebAuthnKey
		var id, luID, credJSON string
		if err := rows.Scan(&id, &luID, &k.Label, &k.Attested, &credJSON, &k.CreatedAt); err != nil {
			return nil, err
		}

		var cred webauthn.Credential
		if err := json.Unmarshal([]byte(credJSON), &cred); err != nil {
			return nil, fmt.Errorf("decode webauthn credential %s: %w", id, err)
		}

		k.ID = idx.ID(id)
		k.LocalUserID = idx.ID(luID)
		k.Credential = cred
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r *webauthnKeysRepo) Exists(ctx context.Context, localUserID idx.ID) (bool, error) {
	var count int
	err := r.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM webauthn_keys WHERE local_user_id = ?`,
		localUserID.String()).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *webauthnKeysRepo) Create(ctx context.Context, k domain.WebAuthnKey) error {
	credJSON, err := json.Marshal(k.Credential)
	if err != nil {
		return fmt.Errorf("encode webauthn credential: %w", err)
	}

	_, err = r.q.ExecContext(ctx,
		`INSERT INTO webauthn_keys (id, local_user_id, label, attested, credential, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		k.ID.String(), k.LocalUserID.String(), k.Label, k.Attested, string(credJSON), now())
	return mapConstraint(err)
}

func (r *webauthnKeysRepo) UpdateCredential(ctx context.Context, id idx.ID, cred webauthn.Credential) error {
	credJSON, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("encode webauthn credential: %w", err)
	}

	res, err := r.q.ExecContext(ctx,
		`UPDATE webauthn_keys SET credential = ? WHERE id = ?`,
		string(credJSON), id.String())
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

func (r *webauthnKeysRepo) Delete(ctx context.Context, localUserID, id idx.ID) error {
	res, err := r.q.ExecContext(ctx,
		`DELETE FROM webauthn_keys WHERE local_user_id = ? AND id = ?`,
		localUserID.String(), id.String())
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
