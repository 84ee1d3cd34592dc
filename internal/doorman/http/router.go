package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/veldtlabs/doorman/internal/doorman/service"
	"github.com/veldtlabs/doorman/internal/doorman/session"
	"github.com/veldtlabs/doorman/internal/doorman/store"
	"github.com/veldtlabs/doorman/internal/doorman/ws"
	"github.com/veldtlabs/doorman/pkg/httpx"
	"github.com/veldtlabs/doorman/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store     store.Store
	sessions  *session.Manager
	registry  *ws.Registry
	sessionMW httpx.Middleware

	AuthService   *service.AuthService
	UserService   *service.UserService
	InviteService *service.InviteService
	AdminService  *service.AdminService
}

func NewRouter(
	buildVersion string,
	st store.Store,
	sessions *session.Manager,
	registry *ws.Registry,
	secureCookies bool,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		sessions:     sessions,
		registry:     registry,
		logger:       logger,
	}

	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
	}

	// Session resolution is per route group rather than global so health
	// probes from cookie-less monitors do not mint session records.
	r.sessionMW = SessionMiddleware(sessions, st, secureCookies)

	return r
}

func (r *Router) ApplyRoutes() {
	r.registerAuth()
	r.registerUsers()
	r.registerInvites()
	r.registerAdmin()
	r.registerWS()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerAuth() {
	h := &AuthHandler{AuthService: r.AuthService}

	// Account discovery leaks nothing beyond which flows exist, but still
	// gets a strict limit to slow down enumeration sweeps.
	r.Mux.Handle("POST /v1/auth/flows",
		httpx.Chain(http.HandlerFunc(h.HandleFlows),
			r.sessionMW,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// Credential submission endpoints are all strict rate limited by IP.
	r.Mux.Handle("POST /v1/auth/login/password",
		httpx.Chain(http.HandlerFunc(h.HandleLoginPassword),
			r.sessionMW,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /v1/auth/login/key/begin",
		httpx.Chain(http.HandlerFunc(h.HandleBeginKeyLogin),
			r.sessionMW,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /v1/auth/login/key/finish",
		httpx.Chain(http.HandlerFunc(h.HandleFinishKeyLogin),
			r.sessionMW,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /v1/auth/2fa/totp",
		httpx.Chain(http.HandlerFunc(h.HandleVerifyTOTP),
			r.sessionMW,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /v1/auth/2fa/key/begin",
		httpx.Chain(http.HandlerFunc(h.HandleBeginSecondFactorKey),
			r.sessionMW,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /v1/auth/2fa/key/finish",
		httpx.Chain(http.HandlerFunc(h.HandleFinishKeyLogin),
			r.sessionMW,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	r.Mux.Handle("POST /v1/auth/logout",
		httpx.Chain(http.HandlerFunc(h.HandleLogout),
			r.sessionMW,
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerUsers() {
	h := &UserHandler{UserService: r.UserService}

	secured := func(handler http.HandlerFunc, limit httpx.RateLimitConfig) http.Handler {
		return httpx.Chain(handler,
			r.sessionMW,
			requireUser(r.store),
			httpx.RateLimitByIP(limit),
		)
	}

	r.Mux.Handle("GET /v1/users/me", secured(h.HandleGetMe, httpx.LenientLimit))
	r.Mux.Handle("PUT /v1/users/me", secured(h.HandleUpdateMe, httpx.ModerateLimit))
	r.Mux.Handle("PUT /v1/users/me/password", secured(h.HandleChangePassword, httpx.StrictLimit))
	r.Mux.Handle("GET /v1/users/me/factors", secured(h.HandleSecondFactors, httpx.LenientLimit))

	r.Mux.Handle("GET /v1/users/me/totp", secured(h.HandleListTOTPKeys, httpx.LenientLimit))
	r.Mux.Handle("POST /v1/users/me/totp/begin", secured(h.HandleBeginTOTPEnrollment, httpx.ModerateLimit))
	r.Mux.Handle("POST /v1/users/me/totp/confirm", secured(h.HandleConfirmTOTPKey, httpx.StrictLimit))
	r.Mux.Handle("DELETE /v1/users/me/totp/{id}", secured(h.HandleDeleteTOTPKey, httpx.ModerateLimit))

	r.Mux.Handle("GET /v1/users/me/keys", secured(h.HandleListWebAuthnKeys, httpx.LenientLimit))
	r.Mux.Handle("POST /v1/users/me/keys/begin", secured(h.HandleBeginKeyRegistration, httpx.ModerateLimit))
	r.Mux.Handle("POST /v1/users/me/keys/finish", secured(h.HandleFinishKeyRegistration, httpx.ModerateLimit))
	r.Mux.Handle("DELETE /v1/users/me/keys/{id}", secured(h.HandleDeleteWebAuthnKey, httpx.ModerateLimit))
}

func (r *Router) registerInvites() {
	h := &InviteHandler{InviteService: r.InviteService}

	// Minting invites is an admin operation.
	r.Mux.Handle("POST /v1/invites",
		httpx.Chain(http.HandlerFunc(h.HandleCreate),
			r.sessionMW,
			requireUser(r.store),
			requireAdmin(),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	// Acceptance endpoints are anonymous; the invite ID is the secret.
	// Strict IP limits slow down guessing.
	r.Mux.Handle("GET /v1/invites/{id}",
		httpx.Chain(http.HandlerFunc(h.HandleGet),
			r.sessionMW,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /v1/invites/{id}/accept/password",
		httpx.Chain(http.HandlerFunc(h.HandleAcceptPassword),
			r.sessionMW,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /v1/invites/{id}/accept/key/begin",
		httpx.Chain(http.HandlerFunc(h.HandleBeginAcceptKey),
			r.sessionMW,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
	r.Mux.Handle("POST /v1/invites/accept/key/finish",
		httpx.Chain(http.HandlerFunc(h.HandleFinishAcceptKey),
			r.sessionMW,
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerAdmin() {
	h := &AdminHandler{AdminService: r.AdminService}

	secured := func(handler http.HandlerFunc) http.Handler {
		return httpx.Chain(handler,
			r.sessionMW,
			requireUser(r.store),
			requireAdmin(),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		)
	}

	r.Mux.Handle("GET /v1/admin/users", secured(h.HandleListUsers))
	r.Mux.Handle("PUT /v1/admin/users/{id}/role", secured(h.HandleSetRole))
	r.Mux.Handle("DELETE /v1/admin/users/{id}", secured(h.HandleDeleteUser))
}

func (r *Router) registerWS() {
	h := &WSHandler{
		Registry: r.registry,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}

	r.Mux.Handle("GET /v1/ws",
		httpx.Chain(http.HandlerFunc(h.HandleConnect),
			r.sessionMW,
			requireUser(r.store),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}

func (r *Router) registerSystem() {
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}
