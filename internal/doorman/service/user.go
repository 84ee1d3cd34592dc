package service

import (
	"context"
	"encoding/base32"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/pquerna/otp/totp"

	"github.com/veldtlabs/doorman/internal/doorman/domain"
	"github.com/veldtlabs/doorman/internal/doorman/session"
	"github.com/veldtlabs/doorman/internal/doorman/store"
	"github.com/veldtlabs/doorman/internal/doorman/ws"
	"github.com/veldtlabs/doorman/pkg/cryptox"
	"github.com/veldtlabs/doorman/pkg/idx"
	"github.com/veldtlabs/doorman/pkg/slogx"
)

const minPasswordLength = 8

// UserService covers self-service account management: profile and password
// changes plus the user's own TOTP and security keys.
type UserService struct {
	Store    store.Store
	WebAuthn relyingParty
	Registry *ws.Registry

	// Issuer is the name shown in authenticator apps.
	Issuer string

	// Now overrides the clock in tests.
	Now func() time.Time
}

func (s *UserService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Get returns the user's own account.
func (s *UserService) Get(ctx context.Context, userID idx.ID) (domain.User, error) {
	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// UpdateDisplayName renames the account. Live sessions of the user get the
// fresh snapshot pushed, the same way admin role changes do.
func (s *UserService) UpdateDisplayName(ctx context.Context, userID idx.ID, displayName string) (domain.User, error) {
	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return domain.User{}, ErrInvalidDisplayName
	}

	if err := s.Store.Users().UpdateDisplayName(ctx, userID, displayName); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, err
		}
		return domain.User{}, fmt.Errorf("failed to update display name: %w", err)
	}
	user, err := s.Get(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}

	if s.Registry != nil {
		if err := s.Registry.SendToUser(ctx, userID, ws.UserUpdated(user)); err != nil {
			slogx.FromContext(ctx).Warn("failed to push profile change", slog.Any("error", err))
		}
	}
	return user, nil
}

// ChangePassword replaces the account password. When a password is already
// set, the current one must be supplied and match. Key-only accounts may set
// an initial password without one.
func (s *UserService) ChangePassword(ctx context.Context, userID idx.ID, current, next string) error {
	log := slogx.FromContext(ctx)

	local, err := s.localAccount(ctx, userID)
	if err != nil {
		return err
	}

	if local.PasswordHash != nil {
		if err := verifyPassword(local, current); err != nil {
			return err
		}
	}
	if len(next) < minPasswordLength {
		return ErrWeakPassword
	}

	hash, err := cryptox.HashPassword(next)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.Store.LocalUsers().UpdatePasswordHash(ctx, local.ID, &hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	log.Info("password changed", slog.String("user_id", userID.String()))
	return nil
}

// SecondFactors reports which second factors the account has registered.
func (s *UserService) SecondFactors(ctx context.Context, userID idx.ID) (domain.SecondFactors, error) {
	local, err := s.localAccount(ctx, userID)
	if err != nil {
		return domain.SecondFactors{}, err
	}

	hasTOTP, err := s.Store.TOTPKeys().Exists(ctx, local.ID)
	if err != nil {
		return domain.SecondFactors{}, fmt.Errorf("failed to check TOTP keys: %w", err)
	}
	hasKey, err := s.Store.WebAuthnKeys().Exists(ctx, local.ID)
	if err != nil {
		return domain.SecondFactors{}, fmt.Errorf("failed to check security keys: %w", err)
	}
	return domain.SecondFactors{HasTOTP: hasTOTP, HasWebAuthn: hasKey}, nil
}

// ListTOTPKeys returns the account's TOTP keys. Secrets are included; the
// HTTP layer is responsible for not serialising them.
func (s *UserService) ListTOTPKeys(ctx context.Context, userID idx.ID) ([]domain.TOTPKey, error) {
	local, err := s.localAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	keys, err := s.Store.TOTPKeys().ListByLocalUser(ctx, local.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list TOTP keys: %w", err)
	}
	return keys, nil
}

// BeginTOTPEnrollment generates a fresh secret and stashes it on the
// session. The key is only stored once ConfirmTOTPKey sees a valid code,
// proving the authenticator actually holds the secret.
func (s *UserService) BeginTOTPEnrollment(ctx context.Context, sess *session.Session, userID idx.ID, label string) (session.TOTPEnrollment, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return session.TOTPEnrollment{}, err
	}
	if _, err := s.localAccount(ctx, userID); err != nil {
		return session.TOTPEnrollment{}, err
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.Issuer,
		AccountName: user.Email,
		Period:      totpPeriod,
		Digits:      totpDigits,
	})
	if err != nil {
		return session.TOTPEnrollment{}, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	secret, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(key.Secret())
	if err != nil {
		return session.TOTPEnrollment{}, fmt.Errorf("failed to decode TOTP secret: %w", err)
	}

	enrollment := session.TOTPEnrollment{
		Label:  label,
		Secret: secret,
		URL:    key.URL(),
	}
	session.SetTOTPEnrollment(sess, enrollment)
	return enrollment, nil
}

// ConfirmTOTPKey consumes the pending enrollment and stores the key if the
// submitted code matches. A wrong code discards the enrollment entirely.
func (s *UserService) ConfirmTOTPKey(ctx context.Context, sess *session.Session, userID idx.ID, code string) (domain.TOTPKey, error) {
	local, err := s.localAccount(ctx, userID)
	if err != nil {
		return domain.TOTPKey{}, err
	}

	enrollment, ok := session.TakeTOTPEnrollment(sess)
	if !ok {
		return domain.TOTPKey{}, ErrNoCeremony
	}

	pending := domain.TOTPKey{
		ID:          idx.NewAt(s.now()),
		LocalUserID: local.ID,
		Label:       enrollment.Label,
		Secret:      enrollment.Secret,
	}
	ok, err = verifyTOTP([]domain.TOTPKey{pending}, code, s.now())
	if err != nil {
		return domain.TOTPKey{}, err
	}
	if !ok {
		return domain.TOTPKey{}, ErrInvalidTOTPCode
	}

	if err := s.Store.TOTPKeys().Create(ctx, pending); err != nil {
		return domain.TOTPKey{}, fmt.Errorf("failed to store TOTP key: %w", err)
	}
	slogx.FromContext(ctx).Info("TOTP key added",
		slog.String("user_id", userID.String()), slog.String("key_id", pending.ID.String()))
	return pending, nil
}

// DeleteTOTPKey removes one of the account's TOTP keys.
func (s *UserService) DeleteTOTPKey(ctx context.Context, userID, keyID idx.ID) error {
	local, err := s.localAccount(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.Store.TOTPKeys().Delete(ctx, local.ID, keyID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrKeyNotFound
		}
		return fmt.Errorf("failed to delete TOTP key: %w", err)
	}
	return nil
}

// ListWebAuthnKeys returns the account's security keys.
func (s *UserService) ListWebAuthnKeys(ctx context.Context, userID idx.ID) ([]domain.WebAuthnKey, error) {
	local, err := s.localAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	keys, err := s.Store.WebAuthnKeys().ListByLocalUser(ctx, local.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list security keys: %w", err)
	}
	return keys, nil
}

// BeginKeyRegistration starts a registration ceremony for a new security
// key. With attested set, the authenticator is asked to prove its
// provenance, which is what later allows the key to act as a sole login
// factor.
func (s *UserService) BeginKeyRegistration(ctx context.Context, sess *session.Session, userID idx.ID, label string, attested bool) (*protocol.CredentialCreation, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	local, err := s.localAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	ku, err := loadKeyUser(ctx, s.Store, user, local.ID, false)
	if err != nil {
		return nil, err
	}

	opts := []webauthn.RegistrationOption{
		webauthn.WithExclusions(ku.exclusions()),
	}
	if attested {
		opts = append(opts, webauthn.WithConveyancePreference(protocol.PreferDirectAttestation))
	}

	creation, data, err := s.WebAuthn.BeginRegistration(ku, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to begin key registration: %w", err)
	}
	session.SetCeremony(sess, session.Ceremony{
		Kind:        session.CeremonyRegister,
		Attested:    attested,
		LocalUserID: local.ID,
		Label:       label,
		Data:        *data,
	})
	return creation, nil
}

// FinishKeyRegistration consumes the registration ceremony and stores the
// new key. A key requested as attested that comes back without a verifiable
// attestation statement is rejected.
func (s *UserService) FinishKeyRegistration(ctx context.Context, sess *session.Session, userID idx.ID, parsed *protocol.ParsedCredentialCreationData) (domain.WebAuthnKey, error) {
	c, ok := session.TakeCeremony(sess)
	if !ok || c.Kind != session.CeremonyRegister {
		return domain.WebAuthnKey{}, ErrNoCeremony
	}

	user, err := s.Get(ctx, userID)
	if err != nil {
		return domain.WebAuthnKey{}, err
	}
	local, err := s.localAccount(ctx, userID)
	if err != nil {
		return domain.WebAuthnKey{}, err
	}
	if c.LocalUserID != local.ID {
		return domain.WebAuthnKey{}, ErrNoCeremony
	}

	ku, err := loadKeyUser(ctx, s.Store, user, local.ID, false)
	if err != nil {
		return domain.WebAuthnKey{}, err
	}
	cred, err := s.WebAuthn.CreateCredential(ku, c.Data, parsed)
	if err != nil {
		return domain.WebAuthnKey{}, ErrInvalidKey
	}
	if c.Attested && !attestedCredential(cred) {
		return domain.WebAuthnKey{}, ErrInvalidKey
	}

	key := domain.WebAuthnKey{
		ID:          idx.NewAt(s.now()),
		LocalUserID: local.ID,
		Label:       c.Label,
		Attested:    c.Attested && attestedCredential(cred),
		Credential:  *cred,
	}
	if err := s.Store.WebAuthnKeys().Create(ctx, key); err != nil {
		return domain.WebAuthnKey{}, fmt.Errorf("failed to store security key: %w", err)
	}
	slogx.FromContext(ctx).Info("security key added",
		slog.String("user_id", userID.String()),
		slog.String("key_id", key.ID.String()),
		slog.Bool("attested", key.Attested))
	return key, nil
}

// DeleteWebAuthnKey removes one of the account's security keys.
func (s *UserService) DeleteWebAuthnKey(ctx context.Context, userID, keyID idx.ID) error {
	local, err := s.localAccount(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.Store.WebAuthnKeys().Delete(ctx, local.ID, keyID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrKeyNotFound
		}
		return fmt.Errorf("failed to delete security key: %w", err)
	}
	return nil
}

func (s *UserService) localAccount(ctx context.Context, userID idx.ID) (domain.LocalUser, error) {
	local, err := s.Store.LocalUsers().GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.LocalUser{}, ErrNotLocalAccount
		}
		return domain.LocalUser{}, fmt.Errorf("failed to look up local account: %w", err)
	}
	return local, nil
}
