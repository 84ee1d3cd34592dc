package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/stretchr/testify/require"

	"github.com/veldtlabs/doorman/internal/doorman/domain"
	"github.com/veldtlabs/doorman/internal/doorman/store"
	"github.com/veldtlabs/doorman/pkg/idx"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedUser(t *testing.T, st *Store, email string) domain.User {
	t.Helper()
	u := domain.User{
		ID:          idx.New(),
		Email:       email,
		DisplayName: email,
		Role:        domain.RoleUser,
	}
	require.NoError(t, st.Users().CreateUser(context.Background(), u))
	return u
}

func TestMigrationsAreIdempotent(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.ApplyMigrations())
	require.NoError(t, st.Ping(context.Background()))
}

func TestUsersRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	u := seedUser(t, st, "alice@example.com")

	got, err := st.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, u.Email, got.Email)
	require.Equal(t, domain.RoleUser, got.Role)
	require.False(t, got.CreatedAt.IsZero())

	byEmail, err := st.Users().GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, byEmail.ID)

	t.Run("email is unique", func(t *testing.T) {
		dup := domain.User{ID: idx.New(), Email: "alice@example.com", Role: domain.RoleUser}
		require.ErrorIs(t, st.Users().CreateUser(ctx, dup), store.ErrAlreadyExists)
	})

	t.Run("role update bumps updated_at", func(t *testing.T) {
		require.NoError(t, st.Users().UpdateRole(ctx, u.ID, domain.RoleAdmin))
		got, err := st.Users().GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		require.Equal(t, domain.RoleAdmin, got.Role)
		require.False(t, got.UpdatedAt.Before(got.CreatedAt))
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := st.Users().GetUserByID(ctx, idx.New())
		require.ErrorIs(t, err, store.ErrNotFound)
		require.ErrorIs(t, st.Users().UpdateRole(ctx, idx.New(), domain.RoleUser), store.ErrNotFound)
	})
}

func TestDeleteUserCascades(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	u := seedUser(t, st, "bob@example.com")
	local := domain.LocalUser{ID: idx.New(), UserID: u.ID}
	require.NoError(t, st.LocalUsers().Create(ctx, local))
	require.NoError(t, st.TOTPKeys().Create(ctx, domain.TOTPKey{
		ID:          idx.New(),
		LocalUserID: local.ID,
		Label:       "phone",
		Secret:      []byte("secret"),
	}))

	require.NoError(t, st.Users().DeleteUser(ctx, u.ID))

	_, err := st.LocalUsers().GetByUserID(ctx, u.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	keys, err := st.TOTPKeys().ListByLocalUser(ctx, local.ID)
	require.NoError(t, err)
	require.Empty(t, keys)
}

// Cascades depend on the foreign_keys pragma, which SQLite scopes to a single
// connection. A file-backed store with idle pooling disabled runs every
// statement on a freshly opened connection, so this fails unless the pragma
// travels in the DSN.
func TestCascadesSurviveConnectionRecycling(t *testing.T) {
	ctx := context.Background()

	st, err := NewStore("file:" + filepath.Join(t.TempDir(), "doorman.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	u := seedUser(t, st, "bob@example.com")
	local := domain.LocalUser{ID: idx.New(), UserID: u.ID}
	require.NoError(t, st.LocalUsers().Create(ctx, local))

	st.db.SetMaxIdleConns(0)

	require.NoError(t, st.Users().DeleteUser(ctx, u.ID))

	_, err = st.LocalUsers().GetByUserID(ctx, u.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	u := seedUser(t, st, "carol@example.com")

	require.NoError(t, st.Sessions().Touch(ctx, "sess-1"))

	rec, err := st.Sessions().Get(ctx, "sess-1")
	require.NoError(t, err)
	require.Nil(t, rec.UserID)

	t.Run("touch is an upsert", func(t *testing.T) {
		require.NoError(t, st.Sessions().Touch(ctx, "sess-1"))
	})

	t.Run("set user requires an existing record", func(t *testing.T) {
		require.ErrorIs(t, st.Sessions().SetUser(ctx, "missing", u.ID), store.ErrNotFound)

		require.NoError(t, st.Sessions().SetUser(ctx, "sess-1", u.ID))
		rec, err := st.Sessions().Get(ctx, "sess-1")
		require.NoError(t, err)
		require.NotNil(t, rec.UserID)
		require.Equal(t, u.ID, *rec.UserID)
	})

	t.Run("clear user demotes to anonymous", func(t *testing.T) {
		require.NoError(t, st.Sessions().ClearUser(ctx, "sess-1"))
		rec, err := st.Sessions().Get(ctx, "sess-1")
		require.NoError(t, err)
		require.Nil(t, rec.UserID)
	})

	t.Run("idle cleanup keeps fresh records", func(t *testing.T) {
		require.NoError(t, st.Sessions().DeleteIdleSince(ctx, time.Now().Add(-time.Hour)))
		_, err := st.Sessions().Get(ctx, "sess-1")
		require.NoError(t, err)

		require.NoError(t, st.Sessions().DeleteIdleSince(ctx, time.Now().Add(time.Hour)))
		_, err = st.Sessions().Get(ctx, "sess-1")
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestInvites(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	admin := seedUser(t, st, "admin@example.com")

	inv := domain.Invite{
		ID:          idx.New(),
		Email:       "invitee@example.com",
		DisplayName: "Invitee",
		Role:        domain.RoleUser,
		CreatedBy:   admin.ID,
		ExpiresAt:   time.Now().Add(time.Hour).UTC(),
	}
	require.NoError(t, st.Invites().Create(ctx, inv))

	got, err := st.Invites().GetByID(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, inv.Email, got.Email)
	require.WithinDuration(t, inv.ExpiresAt, got.ExpiresAt, time.Second)

	t.Run("delete consumes exactly once", func(t *testing.T) {
		require.NoError(t, st.Invites().Delete(ctx, inv.ID))
		require.ErrorIs(t, st.Invites().Delete(ctx, inv.ID), store.ErrNotFound)
	})

	t.Run("expired cleanup", func(t *testing.T) {
		stale := inv
		stale.ID = idx.New()
		stale.ExpiresAt = time.Now().Add(-time.Hour).UTC()
		require.NoError(t, st.Invites().Create(ctx, stale))

		require.NoError(t, st.Invites().DeleteExpired(ctx))
		_, err := st.Invites().GetByID(ctx, stale.ID)
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestWebAuthnKeysCredentialRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	u := seedUser(t, st, "dave@example.com")
	local := domain.LocalUser{ID: idx.New(), UserID: u.ID}
	require.NoError(t, st.LocalUsers().Create(ctx, local))

	key := domain.WebAuthnKey{
		ID:          idx.New(),
		LocalUserID: local.ID,
		Label:       "yubikey",
		Attested:    true,
		Credential: webauthn.Credential{
			ID:        []byte("credential-id"),
			PublicKey: []byte("public-key"),
			Authenticator: webauthn.Authenticator{
				SignCount: 3,
			},
		},
	}
	require.NoError(t, st.WebAuthnKeys().Create(ctx, key))

	keys, err := st.WebAuthnKeys().ListByLocalUser(ctx, local.ID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.Equal(t, []byte("credential-id"), keys[0].Credential.ID)
	require.EqualValues(t, 3, keys[0].Credential.Authenticator.SignCount)
	require.True(t, keys[0].Attested)

	t.Run("sign counter persists", func(t *testing.T) {
		cred := key.Credential
		cred.Authenticator.SignCount = 4
		require.NoError(t, st.WebAuthnKeys().UpdateCredential(ctx, key.ID, cred))

		keys, err := st.WebAuthnKeys().ListByLocalUser(ctx, local.ID)
		require.NoError(t, err)
		require.EqualValues(t, 4, keys[0].Credential.Authenticator.SignCount)
	})

	t.Run("delete scoped to the owning account", func(t *testing.T) {
		require.ErrorIs(t, st.WebAuthnKeys().Delete(ctx, idx.New(), key.ID), store.ErrNotFound)
		require.NoError(t, st.WebAuthnKeys().Delete(ctx, local.ID, key.ID))
	})
}

func TestWithTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)

	u := domain.User{ID: idx.New(), Email: "eve@example.com", Role: domain.RoleUser}
	err := st.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().CreateUser(ctx, u); err != nil {
			return err
		}
		return context.Canceled
	})
	require.ErrorIs(t, err, context.Canceled)

	_, err = st.Users().GetUserByID(ctx, u.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}
