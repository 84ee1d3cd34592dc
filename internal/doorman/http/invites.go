package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/veldtlabs/doorman/internal/doorman/domain"
	"github.com/veldtlabs/doorman/internal/doorman/service"
	"github.com/veldtlabs/doorman/pkg/httpx"
	"github.com/veldtlabs/doorman/pkg/idx"
)

// InviteHandler covers creating invites (admin) and accepting them
// (anonymous, with the invite ID as the bearer secret).
type InviteHandler struct {
	InviteService *service.InviteService
}

type createInviteRequest struct {
	Email       string      `json:"email"`
	DisplayName string      `json:"display_name"`
	Role        domain.Role `json:"role"`
	ExpiresAt   *time.Time  `json:"expires_at,omitempty"`
}

type inviteResponse struct {
	ID          idx.ID      `json:"id"`
	Email       string      `json:"email"`
	DisplayName string      `json:"display_name"`
	Role        domain.Role `json:"role"`
	ExpiresAt   time.Time   `json:"expires_at"`
}

func inviteResponseFrom(inv domain.Invite) inviteResponse {
	return inviteResponse{
		ID:          inv.ID,
		Email:       inv.Email,
		DisplayName: inv.DisplayName,
		Role:        inv.Role,
		ExpiresAt:   inv.ExpiresAt,
	}
}

// HandleCreate handles POST /v1/invites.
func (h *InviteHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeBadRequest(w, "email is required")
		return
	}

	var expiresAt time.Time
	if req.ExpiresAt != nil {
		expiresAt = *req.ExpiresAt
	}

	actor, _ := userFrom(r.Context())
	inv, err := h.InviteService.Create(r.Context(), actor.ID, req.Email, req.DisplayName, req.Role, expiresAt)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusCreated, inviteResponseFrom(inv))
}

// HandleGet handles GET /v1/invites/{id}, used by the acceptance page to
// show who the invite is for before asking for credentials.
func (h *InviteHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeBadRequest(w, "invalid invite id")
		return
	}

	inv, err := h.InviteService.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, inviteResponseFrom(inv))
}

type acceptPasswordRequest struct {
	Password string `json:"password"`
}

// HandleAcceptPassword handles POST /v1/invites/{id}/accept/password. A
// successful acceptance logs the new user in on the current session.
func (h *InviteHandler) HandleAcceptPassword(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeBadRequest(w, "invalid invite id")
		return
	}

	var req acceptPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Password == "" {
		writeBadRequest(w, "password is required")
		return
	}

	user, err := h.InviteService.AcceptPassword(r.Context(), sessionFrom(r.Context()), id, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusCreated, userResponseFrom(user))
}

// HandleBeginAcceptKey handles POST /v1/invites/{id}/accept/key/begin.
func (h *InviteHandler) HandleBeginAcceptKey(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeBadRequest(w, "invalid invite id")
		return
	}

	creation, err := h.InviteService.BeginAcceptKey(r.Context(), sessionFrom(r.Context()), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, creation)
}

// HandleFinishAcceptKey handles POST /v1/invites/accept/key/finish. The
// invite being accepted was bound to the session when the ceremony began.
func (h *InviteHandler) HandleFinishAcceptKey(w http.ResponseWriter, r *http.Request) {
	parsed, err := protocol.ParseCredentialCreationResponseBody(r.Body)
	if err != nil {
		writeBadRequest(w, "malformed attestation response")
		return
	}

	user, err := h.InviteService.FinishAcceptKey(r.Context(), sessionFrom(r.Context()), parsed)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusCreated, userResponseFrom(user))
}
