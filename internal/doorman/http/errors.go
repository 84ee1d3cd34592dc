// Package http is the transport boundary: thin handlers that decode
// requests, call services and translate their errors onto the wire.
package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/veldtlabs/doorman/internal/doorman/service"
	"github.com/veldtlabs/doorman/internal/doorman/store"
	"github.com/veldtlabs/doorman/pkg/httpx"
	"github.com/veldtlabs/doorman/pkg/slogx"
)

// errorResponse is the uniform error body.
type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`

	// Field names the offending form field for rejected-credential
	// responses so clients can highlight it.
	Field string `json:"field,omitempty"`
}

func writeStatus(w http.ResponseWriter, status int, code, description string) {
	httpx.WriteJSON(w, status, errorResponse{Error: code, Description: description})
}

func writeFieldError(w http.ResponseWriter, status int, code, description, field string) {
	httpx.WriteJSON(w, status, errorResponse{Error: code, Description: description, Field: field})
}

func writeUnauthenticated(w http.ResponseWriter) {
	writeStatus(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
}

func writeMissingPrivileges(w http.ResponseWriter) {
	writeStatus(w, http.StatusForbidden, "missing_privileges", "insufficient privileges")
}

func writeBadRequest(w http.ResponseWriter, description string) {
	writeStatus(w, http.StatusBadRequest, "bad_request", description)
}

func writeInternalError(w http.ResponseWriter) {
	writeStatus(w, http.StatusInternalServerError, "internal_error", "something went wrong")
}

// writeServiceError maps the service layer's sentinel errors onto the wire.
// Anything unmapped is logged with its cause and collapsed to a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	log := slogx.FromContext(r.Context())

	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		writeFieldError(w, http.StatusUnauthorized, "invalid_credentials", "invalid email or password", "password")
	case errors.Is(err, service.ErrInvalidTOTPCode):
		writeFieldError(w, http.StatusUnauthorized, "invalid_code", "invalid authenticator code", "code")
	case errors.Is(err, service.ErrInvalidKey):
		writeFieldError(w, http.StatusUnauthorized, "invalid_key", "security key could not be verified", "key")
	case errors.Is(err, service.ErrNoPendingLogin),
		errors.Is(err, service.ErrNoCeremony):
		writeBadRequest(w, "no login step in progress")
	case errors.Is(err, service.ErrLoginExpired):
		writeStatus(w, http.StatusUnauthorized, "login_expired", "login attempt expired, start over")
	case errors.Is(err, service.ErrWeakPassword):
		writeFieldError(w, http.StatusBadRequest, "weak_password", "password does not meet requirements", "password")
	case errors.Is(err, service.ErrEmailTaken):
		writeFieldError(w, http.StatusConflict, "email_taken", "email already in use", "email")
	case errors.Is(err, service.ErrInvalidRole):
		writeBadRequest(w, "invalid role")
	case errors.Is(err, service.ErrInvalidDisplayName):
		writeFieldError(w, http.StatusBadRequest, "invalid_display_name", "display name must not be empty", "display_name")
	case errors.Is(err, service.ErrNotLocalAccount):
		writeBadRequest(w, "account has no local credentials")
	case errors.Is(err, service.ErrInviteNotFound):
		writeStatus(w, http.StatusNotFound, "invite_not_found", "invite not found")
	case errors.Is(err, service.ErrInviteExpired):
		writeStatus(w, http.StatusGone, "invite_expired", "invite has expired")
	case errors.Is(err, service.ErrInviteAlreadyUsed):
		writeStatus(w, http.StatusConflict, "invite_used", "invite has already been used")
	case errors.Is(err, service.ErrSelfTarget):
		writeBadRequest(w, "cannot target your own account")
	case errors.Is(err, service.ErrKeyNotFound):
		writeStatus(w, http.StatusNotFound, "key_not_found", "key not found")
	case errors.Is(err, store.ErrNotFound):
		writeStatus(w, http.StatusNotFound, "not_found", "resource not found")
	default:
		log.Error("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		writeInternalError(w)
	}
}
