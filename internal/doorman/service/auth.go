package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/veldtlabs/doorman/internal/doorman/domain"
	"github.com/veldtlabs/doorman/internal/doorman/session"
	"github.com/veldtlabs/doorman/internal/doorman/store"
	"github.com/veldtlabs/doorman/internal/doorman/ws"
	"github.com/veldtlabs/doorman/pkg/cryptox"
	"github.com/veldtlabs/doorman/pkg/idx"
	"github.com/veldtlabs/doorman/pkg/slogx"
)

// AuthService sequences logins. A session moves anonymous -> partially
// authenticated -> authenticated; the partial state exists only between a
// first-factor success and a second-factor success and expires after
// session.PartialAuthTTL.
type AuthService struct {
	Store    store.Store
	WebAuthn relyingParty
	Registry *ws.Registry

	// Now overrides the clock in tests.
	Now func() time.Time
}

func (s *AuthService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// LoginOutcome is the result of a login step that may or may not finish the
// login.
type LoginOutcome struct {
	// Authenticated is true once the session is fully logged in.
	Authenticated bool

	// User is set when Authenticated.
	User domain.User

	// SecondFactors lists the available second factors when a further step
	// is required.
	SecondFactors domain.SecondFactors
}

// Flows reports how the account behind an email can log in. Unknown emails
// return all-false flows rather than an error; the response intentionally
// mirrors account state so clients can route to the right form.
func (s *AuthService) Flows(ctx context.Context, email string) (domain.LoginFlows, error) {
	flows := domain.LoginFlows{Email: email}

	user, err := s.Store.Users().GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return flows, nil
		}
		return flows, fmt.Errorf("failed to look up user: %w", err)
	}

	if _, err := s.Store.OIDCUsers().GetByUserID(ctx, user.ID); err == nil {
		flows.OIDC = true
		return flows, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return flows, fmt.Errorf("failed to look up federated account: %w", err)
	}

	local, err := s.Store.LocalUsers().GetByUserID(ctx, user.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return flows, nil
		}
		return flows, fmt.Errorf("failed to look up local account: %w", err)
	}

	flows.Password = local.PasswordHash != nil

	keys, err := s.Store.WebAuthnKeys().ListByLocalUser(ctx, local.ID)
	if err != nil {
		return flows, fmt.Errorf("failed to list security keys: %w", err)
	}
	for _, k := range keys {
		if k.Attested {
			flows.Key = true
			break
		}
	}
	return flows, nil
}

// LoginPassword runs the password first factor. If the account has no second
// factor the session is promoted immediately; otherwise a partial marker is
// recorded and the caller is told which second factors are available.
func (s *AuthService) LoginPassword(ctx context.Context, sess *session.Session, email, password string) (LoginOutcome, error) {
	log := slogx.FromContext(ctx)

	user, local, err := s.localAccountByEmail(ctx, email)
	if err != nil {
		return LoginOutcome{}, err
	}
	if err := verifyPassword(local, password); err != nil {
		return LoginOutcome{}, err
	}

	factors, err := s.secondFactors(ctx, local.ID)
	if err != nil {
		return LoginOutcome{}, err
	}

	if !factors.HasTOTP && !factors.HasWebAuthn {
		if err := s.promote(ctx, sess, user.ID); err != nil {
			return LoginOutcome{}, err
		}
		log.Info("password login completed", slog.String("user_id", user.ID.String()))
		return LoginOutcome{Authenticated: true, User: user}, nil
	}

	// A fresh first-factor success overwrites any previous marker.
	session.SetPartial(sess, local.ID, s.now())
	if err := sess.Save(ctx); err != nil {
		return LoginOutcome{}, fmt.Errorf("failed to save session: %w", err)
	}
	log.Info("password accepted, awaiting second factor", slog.String("user_id", user.ID.String()))
	return LoginOutcome{SecondFactors: factors}, nil
}

// VerifyTOTP runs the authenticator-code second factor against the pending
// partial login. A wrong code leaves the marker in place so the user may
// retry within the window.
func (s *AuthService) VerifyTOTP(ctx context.Context, sess *session.Session, code string) (LoginOutcome, error) {
	localID, err := s.pendingLocalUser(sess)
	if err != nil {
		return LoginOutcome{}, err
	}

	keys, err := s.Store.TOTPKeys().ListByLocalUser(ctx, localID)
	if err != nil {
		return LoginOutcome{}, fmt.Errorf("failed to list TOTP keys: %w", err)
	}
	ok, err := verifyTOTP(keys, code, s.now())
	if err != nil {
		return LoginOutcome{}, err
	}
	if !ok {
		return LoginOutcome{}, ErrInvalidTOTPCode
	}

	return s.completeSecondFactor(ctx, sess, localID)
}

// BeginKeyLogin starts a passwordless login ceremony against the account's
// attested keys only.
func (s *AuthService) BeginKeyLogin(ctx context.Context, sess *session.Session, email string) (*protocol.CredentialAssertion, error) {
	user, local, err := s.localAccountByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	ku, err := loadKeyUser(ctx, s.Store, user, local.ID, true)
	if err != nil {
		return nil, err
	}
	if len(ku.keys) == 0 {
		return nil, ErrInvalidCredentials
	}

	assertion, data, err := s.WebAuthn.BeginLogin(ku)
	if err != nil {
		return nil, fmt.Errorf("failed to begin key login: %w", err)
	}
	session.SetCeremony(sess, session.Ceremony{
		Kind:        session.CeremonyLogin,
		Attested:    true,
		LocalUserID: local.ID,
		Data:        *data,
	})
	if err := sess.Save(ctx); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	return assertion, nil
}

// BeginSecondFactorKey starts a key assertion as the second factor of a
// pending partial login. Any registered key qualifies, attested or not.
func (s *AuthService) BeginSecondFactorKey(ctx context.Context, sess *session.Session) (*protocol.CredentialAssertion, error) {
	localID, err := s.pendingLocalUser(sess)
	if err != nil {
		return nil, err
	}

	user, err := s.userForLocal(ctx, localID)
	if err != nil {
		return nil, err
	}
	ku, err := loadKeyUser(ctx, s.Store, user, localID, false)
	if err != nil {
		return nil, err
	}
	if len(ku.keys) == 0 {
		return nil, ErrInvalidKey
	}

	assertion, data, err := s.WebAuthn.BeginLogin(ku)
	if err != nil {
		return nil, fmt.Errorf("failed to begin key assertion: %w", err)
	}
	session.SetCeremony(sess, session.Ceremony{
		Kind:        session.CeremonyLogin,
		Attested:    false,
		LocalUserID: localID,
		Data:        *data,
	})
	return assertion, nil
}

// FinishKeyLogin completes a login ceremony, either passwordless (attested)
// or as a second factor. The ceremony state is consumed before validation,
// so a failed attempt requires starting a new ceremony.
func (s *AuthService) FinishKeyLogin(ctx context.Context, sess *session.Session, parsed *protocol.ParsedCredentialAssertionData) (LoginOutcome, error) {
	c, ok := session.TakeCeremony(sess)
	if !ok || c.Kind != session.CeremonyLogin {
		return LoginOutcome{}, ErrNoCeremony
	}

	if !c.Attested {
		// Second-factor path: the partial marker must still be live.
		if _, err := s.pendingLocalUser(sess); err != nil {
			return LoginOutcome{}, err
		}
	}

	user, err := s.userForLocal(ctx, c.LocalUserID)
	if err != nil {
		return LoginOutcome{}, err
	}
	ku, err := loadKeyUser(ctx, s.Store, user, c.LocalUserID, c.Attested)
	if err != nil {
		return LoginOutcome{}, err
	}

	cred, err := s.WebAuthn.ValidateLogin(ku, c.Data, parsed)
	if err != nil {
		return LoginOutcome{}, ErrInvalidKey
	}
	if key, ok := ku.findKey(cred); ok {
		// Persist the updated sign counter; failure here is not fatal.
		if err := s.Store.WebAuthnKeys().UpdateCredential(ctx, key.ID, *cred); err != nil {
			slogx.FromContext(ctx).Warn("failed to persist key sign counter",
				slog.String("key_id", key.ID.String()), slog.Any("error", err))
		}
	}

	return s.completeSecondFactor(ctx, sess, c.LocalUserID)
}

// Logout demotes the session on both layers and force-closes its live push
// connection, if any. The persisted record goes back to anonymous rather
// than away entirely; housekeeping reaps it once it idles out.
func (s *AuthService) Logout(ctx context.Context, sess *session.Session) error {
	log := slogx.FromContext(ctx)

	userID, wasAuthed := session.UserID(sess)

	if err := s.Store.Sessions().ClearUser(ctx, sess.ID()); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("failed to demote session record: %w", err)
	}
	if err := sess.Flush(ctx); err != nil {
		return fmt.Errorf("failed to flush session: %w", err)
	}

	if wasAuthed && s.Registry != nil {
		if err := s.Registry.CloseSession(ctx, userID, sess.ID()); err != nil {
			log.Warn("failed to close live connection on logout", slog.Any("error", err))
		}
	}
	// Session identifiers are bearer credentials; log a fingerprint, never
	// the raw value.
	log.Info("logged out", slog.String("session", cryptox.FingerprintToken(sess.ID())))
	return nil
}

// promote binds the session to a user across both storage layers. The order
// matters: the transient session must be saved before the persisted record
// is pointed at the user, so the two never disagree about who is logged in.
// A missing session record at step three is a server fault, not a no-op.
func (s *AuthService) promote(ctx context.Context, sess *session.Session, userID idx.ID) error {
	session.ClearPartial(sess)
	session.SetUser(sess, userID)
	if err := sess.Save(ctx); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	if err := s.Store.Sessions().SetUser(ctx, sess.ID(), userID); err != nil {
		return fmt.Errorf("failed to bind session record to user: %w", err)
	}
	return nil
}

func (s *AuthService) completeSecondFactor(ctx context.Context, sess *session.Session, localID idx.ID) (LoginOutcome, error) {
	user, err := s.userForLocal(ctx, localID)
	if err != nil {
		return LoginOutcome{}, err
	}
	if err := s.promote(ctx, sess, user.ID); err != nil {
		return LoginOutcome{}, err
	}
	slogx.FromContext(ctx).Info("second factor accepted", slog.String("user_id", user.ID.String()))
	return LoginOutcome{Authenticated: true, User: user}, nil
}

// pendingLocalUser resolves the partial marker, mapping its two failure
// modes onto service errors.
func (s *AuthService) pendingLocalUser(sess *session.Session) (idx.ID, error) {
	localID, err := session.GetPartial(sess, s.now())
	switch {
	case errors.Is(err, session.ErrPartialAbsent):
		return idx.Zero, ErrNoPendingLogin
	case errors.Is(err, session.ErrPartialExpired):
		return idx.Zero, ErrLoginExpired
	case err != nil:
		return idx.Zero, err
	}
	return localID, nil
}

func (s *AuthService) localAccountByEmail(ctx context.Context, email string) (domain.User, domain.LocalUser, error) {
	user, err := s.Store.Users().GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, domain.LocalUser{}, ErrInvalidCredentials
		}
		return domain.User{}, domain.LocalUser{}, fmt.Errorf("failed to look up user: %w", err)
	}
	local, err := s.Store.LocalUsers().GetByUserID(ctx, user.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, domain.LocalUser{}, ErrInvalidCredentials
		}
		return domain.User{}, domain.LocalUser{}, fmt.Errorf("failed to look up local account: %w", err)
	}
	return user, local, nil
}

func (s *AuthService) userForLocal(ctx context.Context, localID idx.ID) (domain.User, error) {
	local, err := s.Store.LocalUsers().GetByID(ctx, localID)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to look up local account: %w", err)
	}
	user, err := s.Store.Users().GetUserByID(ctx, local.UserID)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to look up user: %w", err)
	}
	return user, nil
}

func (s *AuthService) secondFactors(ctx context.Context, localID idx.ID) (domain.SecondFactors, error) {
	hasTOTP, err := s.Store.TOTPKeys().Exists(ctx, localID)
	if err != nil {
		return domain.SecondFactors{}, fmt.Errorf("failed to check TOTP keys: %w", err)
	}
	hasKey, err := s.Store.WebAuthnKeys().Exists(ctx, localID)
	if err != nil {
		return domain.SecondFactors{}, fmt.Errorf("failed to check security keys: %w", err)
	}
	return domain.SecondFactors{HasTOTP: hasTOTP, HasWebAuthn: hasKey}, nil
}
