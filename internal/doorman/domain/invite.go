package domain

import (
	"time"

	"github.com/veldtlabs/doorman/pkg/idx"
)

// Invite is an admin-created invitation for a new user. The invitee accepts
// it either by choosing a password or by registering an attested WebAuthn
// key; acceptance consumes the invite.
type Invite struct {
	ID          idx.ID
	Email       string
	DisplayName string
	Role        Role
	CreatedBy   idx.ID
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// Expired reports whether the invite can no longer be accepted.
func (i Invite) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}
