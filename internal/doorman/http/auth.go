package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/veldtlabs/doorman/internal/doorman/domain"
	"github.com/veldtlabs/doorman/internal/doorman/service"
	"github.com/veldtlabs/doorman/pkg/httpx"
)

// AuthHandler covers login, second factors and logout.
type AuthHandler struct {
	AuthService *service.AuthService
}

type flowsRequest struct {
	Email string `json:"email"`
}

// HandleFlows handles POST /v1/auth/flows, telling the client how the given
// account can log in.
func (h *AuthHandler) HandleFlows(w http.ResponseWriter, r *http.Request) {
	var req flowsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeBadRequest(w, "email is required")
		return
	}

	flows, err := h.AuthService.Flows(r.Context(), req.Email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, flows)
}

type passwordLoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Authenticated bool                  `json:"authenticated"`
	User          *userResponse         `json:"user,omitempty"`
	SecondFactors *domain.SecondFactors `json:"second_factors,omitempty"`
}

func loginResponseFrom(out service.LoginOutcome) loginResponse {
	if out.Authenticated {
		u := userResponseFrom(out.User)
		return loginResponse{Authenticated: true, User: &u}
	}
	factors := out.SecondFactors
	return loginResponse{SecondFactors: &factors}
}

// HandleLoginPassword handles POST /v1/auth/login/password.
func (h *AuthHandler) HandleLoginPassword(w http.ResponseWriter, r *http.Request) {
	var req passwordLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		writeBadRequest(w, "email and password are required")
		return
	}

	out, err := h.AuthService.LoginPassword(r.Context(), sessionFrom(r.Context()), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, loginResponseFrom(out))
}

type totpVerifyRequest struct {
	Code string `json:"code"`
}

// HandleVerifyTOTP handles POST /v1/auth/2fa/totp.
func (h *AuthHandler) HandleVerifyTOTP(w http.ResponseWriter, r *http.Request) {
	var req totpVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		writeBadRequest(w, "code is required")
		return
	}

	out, err := h.AuthService.VerifyTOTP(r.Context(), sessionFrom(r.Context()), req.Code)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, loginResponseFrom(out))
}

type keyLoginBeginRequest struct {
	Email string `json:"email"`
}

// HandleBeginKeyLogin handles POST /v1/auth/login/key/begin (passwordless).
func (h *AuthHandler) HandleBeginKeyLogin(w http.ResponseWriter, r *http.Request) {
	var req keyLoginBeginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeBadRequest(w, "email is required")
		return
	}

	assertion, err := h.AuthService.BeginKeyLogin(r.Context(), sessionFrom(r.Context()), req.Email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, assertion)
}

// HandleBeginSecondFactorKey handles POST /v1/auth/2fa/key/begin.
func (h *AuthHandler) HandleBeginSecondFactorKey(w http.ResponseWriter, r *http.Request) {
	assertion, err := h.AuthService.BeginSecondFactorKey(r.Context(), sessionFrom(r.Context()))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, assertion)
}

// HandleFinishKeyLogin handles POST /v1/auth/login/key/finish and
// POST /v1/auth/2fa/key/finish; which path applies was fixed when the
// ceremony began.
func (h *AuthHandler) HandleFinishKeyLogin(w http.ResponseWriter, r *http.Request) {
	parsed, err := protocol.ParseCredentialRequestResponseBody(r.Body)
	if err != nil {
		writeBadRequest(w, "malformed assertion response")
		return
	}

	out, err := h.AuthService.FinishKeyLogin(r.Context(), sessionFrom(r.Context()), parsed)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	httpx.NoCache(w)
	httpx.WriteJSON(w, http.StatusOK, loginResponseFrom(out))
}

// HandleLogout handles POST /v1/auth/logout.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if err := h.AuthService.Logout(r.Context(), sessionFrom(r.Context())); err != nil {
		writeServiceError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}
