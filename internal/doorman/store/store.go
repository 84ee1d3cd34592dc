package store

import (
	"context"
	"errors"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/veldtlabs/doorman/internal/doorman/domain"
	"github.com/veldtlabs/doorman/pkg/idx"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite,
// postgres) implement this. It exposes sub-repositories to keep concerns tidy
// and testable.
type Store interface {
	Users() Users
	LocalUsers() LocalUsers
	OIDCUsers() OIDCUsers
	TOTPKeys() TOTPKeys
	WebAuthnKeys() WebAuthnKeys
	Sessions() Sessions
	Invites() Invites

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes a function within a transaction.
	// If fn returns an error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources (optional for sqlite).
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	// GetUserByID returns a user by id.
	GetUserByID(ctx context.Context, id idx.ID) (domain.User, error)

	// GetUserByEmail is used during login-flow discovery.
	GetUserByEmail(ctx context.Context, email string) (domain.User, error)

	// ListUsers returns all users ordered by creation date (oldest first).
	ListUsers(ctx context.Context) ([]domain.User, error)

	// CreateUser inserts a new user (id is provided by the app via ULID).
	CreateUser(ctx context.Context, u domain.User) error

	// UpdateDisplayName mutates the display_name and bumps updated_at.
	UpdateDisplayName(ctx context.Context, userID idx.ID, displayName string) error

	// UpdateRole overwrites the user's role classification.
	UpdateRole(ctx context.Context, userID idx.ID, role domain.Role) error

	// DeleteUser cascades to local/oidc accounts, keys and sessions (per schema).
	DeleteUser(ctx context.Context, userID idx.ID) error
}

type LocalUsers interface {
	// GetByID returns the local account by its own id.
	GetByID(ctx context.Context, id idx.ID) (domain.LocalUser, error)

	// GetByUserID returns the local account attached to a user, if any.
	GetByUserID(ctx context.Context, userID idx.ID) (domain.LocalUser, error)

	// Create inserts a new local account.
	Create(ctx context.Context, lu domain.LocalUser) error

	// UpdatePasswordHash sets or clears the password hash (argon2id).
	UpdatePasswordHash(ctx context.Context, id idx.ID, hash *string) error
}

type OIDCUsers interface {
	// GetByUserID returns the federated account attached to a user, if any.
	GetByUserID(ctx context.Context, userID idx.ID) (domain.OIDCUser, error)

	// Create inserts a new federated account.
	Create(ctx context.Context, ou domain.OIDCUser) error
}

type TOTPKeys interface {
	// ListByLocalUser returns all TOTP keys of a local account.
	ListByLocalUser(ctx context.Context, localUserID idx.ID) ([]domain.TOTPKey, error)

	// Exists reports whether the local account has at least one TOTP key.
	Exists(ctx context.Context, localUserID idx.ID) (bool, error)

	// Create inserts a new TOTP key.
	Create(ctx context.Context, k domain.TOTPKey) error

	// Delete removes one key of the given local account.
	Delete(ctx context.Context, localUserID, id idx.ID) error
}

type WebAuthnKeys interface {
	// ListByLocalUser returns all WebAuthn keys of a local account.
	ListByLocalUser(ctx context.Context, localUserID idx.ID) ([]domain.WebAuthnKey, error)

	// Exists reports whether the local account has at least one WebAuthn key.
	Exists(ctx context.Context, localUserID idx.ID) (bool, error)

	// Create inserts a new WebAuthn key.
	Create(ctx context.Context, k domain.WebAuthnKey) error

	// UpdateCredential overwrites the stored credential, used to persist
	// the authenticator's sign counter after a successful assertion.
	UpdateCredential(ctx context.Context, id idx.ID, cred webauthn.Credential) error

	// Delete removes one key of the given local account.
	Delete(ctx context.Context, localUserID, id idx.ID) error
}

type Sessions interface {
	// Touch creates the session record if it does not exist yet and bumps
	// updated_at if it does.
	Touch(ctx context.Context, id string) error

	// Get returns the session record.
	Get(ctx context.Context, id string) (domain.SessionRecord, error)

	// SetUser points the record at a user. Returns ErrNotFound if the record
	// is missing; the caller treats that as an internal error, not a no-op.
	SetUser(ctx context.Context, id string, userID idx.ID) error

	// ClearUser demotes the record back to anonymous.
	ClearUser(ctx context.Context, id string) error

	// DeleteIdleSince is housekeeping: drops records not touched since the cutoff.
	DeleteIdleSince(ctx context.Context, cutoff time.Time) error
}

type Invites interface {
	// Create writes a new invite.
	Create(ctx context.Context, inv domain.Invite) error

	// GetByID returns an invite regardless of expiry; callers check Expired.
	GetByID(ctx context.Context, id idx.ID) (domain.Invite, error)

	// Delete consumes an invite. Returns ErrNotFound if it was already
	// consumed, which acceptance treats as a replay.
	Delete(ctx context.Context, id idx.ID) error

	// DeleteExpired is housekeeping.
	DeleteExpired(ctx context.Context) error
}
