// Package ws implements the live push channel: a registry of connected
// sessions and the per-connection handler that speaks the wire protocol.
package ws

import (
	"github.com/veldtlabs/doorman/internal/doorman/domain"
)

// MsgType discriminates push frames. Every frame carries its tag explicitly
// so clients never depend on field shape to tell variants apart.
type MsgType string

const (
	// MsgUserUpdated carries a fresh snapshot of the user's own account,
	// pushed when an admin changes it.
	MsgUserUpdated MsgType = "user_updated"

	// MsgSessionClosed tells the client its session is being terminated.
	MsgSessionClosed MsgType = "session_closed"

	// msgTypeClose never reaches the wire as a data frame. The connection
	// handler translates it into a protocol close handshake.
	msgTypeClose MsgType = "close"
)

// Msg is one server push frame.
type Msg struct {
	Type   MsgType   `json:"type"`
	User   *UserInfo `json:"user,omitempty"`
	Reason string    `json:"reason,omitempty"`
}

// UserInfo is the account snapshot included in user_updated frames.
type UserInfo struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// UserUpdated builds a user_updated frame from a user.
func UserUpdated(u domain.User) Msg {
	return Msg{
		Type: MsgUserUpdated,
		User: &UserInfo{
			ID:          u.ID.String(),
			Email:       u.Email,
			DisplayName: u.DisplayName,
			Role:        string(u.Role),
		},
	}
}

// SessionClosed builds a session_closed frame.
func SessionClosed(reason string) Msg {
	return Msg{Type: MsgSessionClosed, Reason: reason}
}

func closeMsg() Msg {
	return Msg{Type: msgTypeClose}
}
