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

// UserHandler covers the authenticated user's own account and credentials.
type UserHandler struct {
	UserService *service.UserService
}

type userResponse struct {
	ID          idx.ID      `json:"id"`
	Email       string      `json:"email"`
	DisplayName string      `json:"display_name"`
	Role        domain.Role `json:"role"`
	CreatedAt   time.Time   `json:"created_at"`
}

func userResponseFrom(u domain.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Role:        u.Role,
		CreatedAt:   u.CreatedAt,
	}
}

// HandleGetMe handles GET /v1/users/me.
func (h *UserHandler) HandleGetMe(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, userResponseFrom(user))
}

type updateMeRequest struct {
	DisplayName string `json:"display_name"`
}

// HandleUpdateMe handles PUT /v1/users/me.
func (h *UserHandler) HandleUpdateMe(w http.ResponseWriter, r *http.Request) {
	var req updateMeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "display_name is required")
		return
	}

	user, _ := userFrom(r.Context())
	updated, err := h.UserService.UpdateDisplayName(r.Context(), user.ID, req.DisplayName)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, userResponseFrom(updated))
}

type changePasswordRequest struct {
	Current string `json:"current_password"`
	Next    string `json:"new_password"`
}

// HandleChangePassword handles PUT /v1/users/me/password.
func (h *UserHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req changePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Next == "" {
		writeBadRequest(w, "current_password and new_password are required")
		return
	}

	user, _ := userFrom(r.Context())
	if err := h.UserService.ChangePassword(r.Context(), user.ID, req.Current, req.Next); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSecondFactors handles GET /v1/users/me/factors.
func (h *UserHandler) HandleSecondFactors(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	factors, err := h.UserService.SecondFactors(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, factors)
}

type totpKeyResponse struct {
	ID        idx.ID    `json:"id"`
	Label     string    `json:"label"`
	CreatedAt time.Time `json:"created_at"`
}

// HandleListTOTPKeys handles GET /v1/users/me/totp.
func (h *UserHandler) HandleListTOTPKeys(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	keys, err := h.UserService.ListTOTPKeys(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out := make([]totpKeyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, totpKeyResponse{ID: k.ID, Label: k.Label, CreatedAt: k.CreatedAt})
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, out)
}

type totpEnrollRequest struct {
	Label string `json:"label"`
}

type totpEnrollResponse struct {
	Label string `json:"label"`
	URL   string `json:"url"` // otpauth:// provisioning URL
}

// HandleBeginTOTPEnrollment handles POST /v1/users/me/totp/begin. The secret
// only ever leaves the server inside the provisioning URL; confirming with a
// valid code stores the key.
func (h *UserHandler) HandleBeginTOTPEnrollment(w http.ResponseWriter, r *http.Request) {
	var req totpEnrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Label == "" {
		writeBadRequest(w, "label is required")
		return
	}

	user, _ := userFrom(r.Context())
	enrollment, err := h.UserService.BeginTOTPEnrollment(r.Context(), sessionFrom(r.Context()), user.ID, req.Label)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, totpEnrollResponse{Label: enrollment.Label, URL: enrollment.URL})
}

type totpConfirmRequest struct {
	Code string `json:"code"`
}

// HandleConfirmTOTPKey handles POST /v1/users/me/totp/confirm.
func (h *UserHandler) HandleConfirmTOTPKey(w http.ResponseWriter, r *http.Request) {
	var req totpConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeBadRequest(w, "code is required")
		return
	}

	user, _ := userFrom(r.Context())
	key, err := h.UserService.ConfirmTOTPKey(r.Context(), sessionFrom(r.Context()), user.ID, req.Code)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusCreated, totpKeyResponse{ID: key.ID, Label: key.Label, CreatedAt: key.CreatedAt})
}

// HandleDeleteTOTPKey handles DELETE /v1/users/me/totp/{id}.
func (h *UserHandler) HandleDeleteTOTPKey(w http.ResponseWriter, r *http.Request) {
	keyID, err := pathID(r, "id")
	if err != nil {
		writeBadRequest(w, "invalid key id")
		return
	}

	user, _ := userFrom(r.Context())
	if err := h.UserService.DeleteTOTPKey(r.Context(), user.ID, keyID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type webauthnKeyResponse struct {
	ID        idx.ID    `json:"id"`
	Label     string    `json:"label"`
	Attested  bool      `json:"attested"`
	CreatedAt time.Time `json:"created_at"`
}

func webauthnKeyResponseFrom(k domain.WebAuthnKey) webauthnKeyResponse {
	return webauthnKeyResponse{ID: k.ID, Label: k.Label, Attested: k.Attested, CreatedAt: k.CreatedAt}
}

// HandleListWebAuthnKeys handles GET /v1/users/me/keys.
func (h *UserHandler) HandleListWebAuthnKeys(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	keys, err := h.UserService.ListWebAuthnKeys(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	out := make([]webauthnKeyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, webauthnKeyResponseFrom(k))
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, out)
}

type keyRegisterBeginRequest struct {
	Label    string `json:"label"`
	Attested bool   `json:"attested"`
}

// HandleBeginKeyRegistration handles POST /v1/users/me/keys/begin.
func (h *UserHandler) HandleBeginKeyRegistration(w http.ResponseWriter, r *http.Request) {
	var req keyRegisterBeginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Label == "" {
		writeBadRequest(w, "label is required")
		return
	}

	user, _ := userFrom(r.Context())
	creation, err := h.UserService.BeginKeyRegistration(r.Context(), sessionFrom(r.Context()), user.ID, req.Label, req.Attested)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, creation)
}

// HandleFinishKeyRegistration handles POST /v1/users/me/keys/finish.
func (h *UserHandler) HandleFinishKeyRegistration(w http.ResponseWriter, r *http.Request) {
	parsed, err := protocol.ParseCredentialCreationResponseBody(r.Body)
	if err != nil {
		writeBadRequest(w, "malformed attestation response")
		return
	}

	user, _ := userFrom(r.Context())
	key, err := h.UserService.FinishKeyRegistration(r.Context(), sessionFrom(r.Context()), user.ID, parsed)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusCreated, webauthnKeyResponseFrom(key))
}

// HandleDeleteWebAuthnKey handles DELETE /v1/users/me/keys/{id}.
func (h *UserHandler) HandleDeleteWebAuthnKey(w http.ResponseWriter, r *http.Request) {
	keyID, err := pathID(r, "id")
	if err != nil {
		writeBadRequest(w, "invalid key id")
		return
	}

	user, _ := userFrom(r.Context())
	if err := h.UserService.DeleteWebAuthnKey(r.Context(), user.ID, keyID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
