package http

import (
	"encoding/json"
	"net/http"

	"github.com/veldtlabs/doorman/internal/doorman/domain"
	"github.com/veldtlabs/doorman/internal/doorman/service"
	"github.com/veldtlabs/doorman/pkg/httpx"
)

// AdminHandler covers user management. All routes require the admin role.
type AdminHandler struct {
	AdminService *service.AdminService
}

// HandleListUsers handles GET /v1/admin/users.
func (h *AdminHandler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.AdminService.ListUsers(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, userResponseFrom(u))
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, out)
}

type setRoleRequest struct {
	Role domain.Role `json:"role"`
}

// HandleSetRole handles PUT /v1/admin/users/{id}/role.
func (h *AdminHandler) HandleSetRole(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		writeBadRequest(w, "invalid user id")
		return
	}

	var req setRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Role == "" {
		writeBadRequest(w, "role is required")
		return
	}

	actor, _ := userFrom(r.Context())
	user, err := h.AdminService.SetRole(r.Context(), actor.ID, userID, req.Role)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, userResponseFrom(user))
}

// HandleDeleteUser handles DELETE /v1/admin/users/{id}.
func (h *AdminHandler) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, err := pathID(r, "id")
	if err != nil {
		writeBadRequest(w, "invalid user id")
		return
	}

	actor, _ := userFrom(r.Context())
	if err := h.AdminService.DeleteUser(r.Context(), actor.ID, userID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
