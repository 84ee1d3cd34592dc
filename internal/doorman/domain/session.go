package domain

import (
	"time"

	"github.com/veldtlabs/doorman/pkg/idx"
)

// SessionRecord is the persisted side of a client session. A row is created
// when a client's transport session is first touched; UserID is set on
// promotion to authenticated and cleared again on logout.
//
// The record's ID must match the transient session identifier 1:1 at all
// times after promotion.
type SessionRecord struct {
	ID        string
	UserID    *idx.ID
	CreatedAt time.Time
	UpdatedAt time.Time
}
