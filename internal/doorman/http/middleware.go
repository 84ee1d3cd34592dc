package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/veldtlabs/doorman/internal/doorman/domain"
	"github.com/veldtlabs/doorman/internal/doorman/session"
	"github.com/veldtlabs/doorman/internal/doorman/store"
	"github.com/veldtlabs/doorman/pkg/httpx"
	"github.com/veldtlabs/doorman/pkg/idx"
	"github.com/veldtlabs/doorman/pkg/slogx"
)

// SessionCookie is the cookie carrying the opaque session identifier.
const SessionCookie = "doorman_session"

type ctxKey int

const (
	ctxKeySession ctxKey = iota
	ctxKeyUser
)

// sessionFrom returns the request's session, installed by SessionMiddleware.
func sessionFrom(ctx context.Context) *session.Session {
	s, _ := ctx.Value(ctxKeySession).(*session.Session)
	return s
}

// userFrom returns the authenticated user, installed by requireUser.
func userFrom(ctx context.Context) (domain.User, bool) {
	u, ok := ctx.Value(ctxKeyUser).(domain.User)
	return u, ok
}

// SessionMiddleware attaches a session to every request. A missing or
// unknown cookie gets a fresh anonymous session; either way the persisted
// session record is touched so it exists before any promotion.
func SessionMiddleware(mgr *session.Manager, st store.Store, secureCookies bool) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			log := slogx.FromContext(ctx)

			var sess *session.Session
			if cookie, err := r.Cookie(SessionCookie); err == nil {
				sess, _ = mgr.Load(cookie.Value)
			}
			if sess == nil {
				fresh, err := mgr.New()
				if err != nil {
					log.Error("failed to create session", slog.Any("error", err))
					writeInternalError(w)
					return
				}
				if err := fresh.Save(ctx); err != nil {
					log.Error("failed to save session", slog.Any("error", err))
					writeInternalError(w)
					return
				}
				sess = fresh
				http.SetCookie(w, &http.Cookie{
					Name:     SessionCookie,
					Value:    sess.ID(),
					Path:     "/",
					HttpOnly: true,
					Secure:   secureCookies,
					SameSite: http.SameSiteLaxMode,
				})
			}

			if err := st.Sessions().Touch(ctx, sess.ID()); err != nil {
				log.Error("failed to touch session record", slog.Any("error", err))
				writeInternalError(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, ctxKeySession, sess)))
		})
	}
}

// requireUser rejects anonymous and partially authenticated requests, and
// resolves the session's user so handlers never trust a stale reference.
func requireUser(st store.Store) httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			sess := sessionFrom(ctx)
			if sess == nil {
				writeUnauthenticated(w)
				return
			}
			userID, ok := session.UserID(sess)
			if !ok {
				writeUnauthenticated(w)
				return
			}

			user, err := st.Users().GetUserByID(ctx, userID)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					// The account vanished under a live session (admin
					// deletion); treat the session as logged out.
					writeUnauthenticated(w)
					return
				}
				slogx.FromContext(ctx).Error("failed to load session user",
					slog.String("user_id", userID.String()), slog.Any("error", err))
				writeInternalError(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, ctxKeyUser, user)))
		})
	}
}

// requireAdmin runs after requireUser and enforces the admin role.
func requireAdmin() httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := userFrom(r.Context())
			if !ok {
				writeUnauthenticated(w)
				return
			}
			if user.Role != domain.RoleAdmin {
				writeMissingPrivileges(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// pathID parses the {id} path value as a ULID.
func pathID(r *http.Request, name string) (idx.ID, error) {
	return idx.Parse(r.PathValue(name))
}
