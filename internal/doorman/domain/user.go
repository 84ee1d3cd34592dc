package domain

import (
	"time"

	"github.com/veldtlabs/doorman/pkg/idx"
)

// Role classifies what a user is allowed to do.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// User is the core identity. How the user authenticates is attached via
// LocalUser (password / TOTP / WebAuthn) or OIDCUser (federated).
type User struct {
	ID          idx.ID
	Email       string // unique
	DisplayName string
	Role        Role
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// LocalUser is a locally authenticatable account.
type LocalUser struct {
	ID     idx.ID
	UserID idx.ID

	// PasswordHash is the argon2id encoded hash, nil for passwordless-only
	// accounts (attested WebAuthn key required to log in).
	PasswordHash *string
}

// OIDCUser is an account identified through an external OpenID Connect
// provider. Such accounts have no local credentials.
type OIDCUser struct {
	ID      idx.ID
	UserID  idx.ID
	Subject string // subject claim at the provider
}
