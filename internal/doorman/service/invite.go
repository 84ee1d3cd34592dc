package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/veldtlabs/doorman/internal/doorman/domain"
	"github.com/veldtlabs/doorman/internal/doorman/session"
	"github.com/veldtlabs/doorman/internal/doorman/store"
	"github.com/veldtlabs/doorman/pkg/cryptox"
	"github.com/veldtlabs/doorman/pkg/idx"
	"github.com/veldtlabs/doorman/pkg/slogx"
)

// defaultInviteTTL applies when an invite is created without an expiry.
const defaultInviteTTL = 72 * time.Hour

// InviteService mints and redeems invites. Acceptance creates the account,
// attaches the chosen credential and logs the new user in on the accepting
// session, consuming the invite exactly once.
type InviteService struct {
	Store    store.Store
	WebAuthn relyingParty

	// Auth performs the session promotion after a successful acceptance.
	Auth *AuthService

	// Now overrides the clock in tests.
	Now func() time.Time
}

func (s *InviteService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Create mints an invite for a new user. A zero expiresAt gets the default
// TTL; a past expiry is rejected.
func (s *InviteService) Create(ctx context.Context, createdBy idx.ID, email, displayName string, role domain.Role, expiresAt time.Time) (domain.Invite, error) {
	log := slogx.FromContext(ctx)

	if !role.Valid() {
		return domain.Invite{}, ErrInvalidRole
	}
	if expiresAt.IsZero() {
		expiresAt = s.now().Add(defaultInviteTTL)
	}
	if expiresAt.Before(s.now()) {
		return domain.Invite{}, ErrInviteExpired
	}

	if _, err := s.Store.Users().GetUserByEmail(ctx, email); err == nil {
		return domain.Invite{}, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.Invite{}, fmt.Errorf("failed to check email: %w", err)
	}

	inv := domain.Invite{
		ID:          idx.NewAt(s.now()),
		Email:       email,
		DisplayName: displayName,
		Role:        role,
		CreatedBy:   createdBy,
		ExpiresAt:   expiresAt,
	}
	if err := s.Store.Invites().Create(ctx, inv); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.Invite{}, ErrEmailTaken
		}
		return domain.Invite{}, fmt.Errorf("failed to create invite: %w", err)
	}

	log.Info("invite created",
		slog.String("invite_id", inv.ID.String()),
		slog.String("email", email),
		slog.String("created_by", createdBy.String()))
	return inv, nil
}

// Get returns a live invite, for rendering the acceptance page.
func (s *InviteService) Get(ctx context.Context, id idx.ID) (domain.Invite, error) {
	return s.liveInvite(ctx, id)
}

// AcceptPassword redeems an invite by choosing a password. On success the
// accepting session is logged in as the new user.
func (s *InviteService) AcceptPassword(ctx context.Context, sess *session.Session, inviteID idx.ID, password string) (domain.User, error) {
	inv, err := s.liveInvite(ctx, inviteID)
	if err != nil {
		return domain.User{}, err
	}
	if len(password) < minPasswordLength {
		return domain.User{}, ErrWeakPassword
	}

	hash, err := cryptox.HashPassword(password)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.redeem(ctx, inv, idx.NewAt(s.now()), &hash, nil)
	if err != nil {
		return domain.User{}, err
	}

	if err := s.Auth.promote(ctx, sess, user.ID); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// BeginAcceptKey starts an attested key-registration ceremony redeeming the
// invite passwordless. The account id is allocated up front and carried in
// the ceremony so the credential binds to it.
func (s *InviteService) BeginAcceptKey(ctx context.Context, sess *session.Session, inviteID idx.ID) (*protocol.CredentialCreation, error) {
	inv, err := s.liveInvite(ctx, inviteID)
	if err != nil {
		return nil, err
	}

	userID := idx.NewAt(s.now())
	ku := &keyUser{
		id:          userID,
		name:        inv.Email,
		displayName: inv.DisplayName,
	}

	creation, data, err := s.WebAuthn.BeginRegistration(ku,
		webauthn.WithConveyancePreference(protocol.PreferDirectAttestation),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to begin key registration: %w", err)
	}

	session.SetCeremony(sess, session.Ceremony{
		Kind:     session.CeremonyInvite,
		Attested: true,
		InviteID: inv.ID,
		Data:     *data,
	})
	return creation, nil
}

// FinishAcceptKey completes a passwordless invite acceptance. Only an
// attested credential is accepted as the sole login factor of the new
// account.
func (s *InviteService) FinishAcceptKey(ctx context.Context, sess *session.Session, parsed *protocol.ParsedCredentialCreationData) (domain.User, error) {
	c, ok := session.TakeCeremony(sess)
	if !ok || c.Kind != session.CeremonyInvite {
		return domain.User{}, ErrNoCeremony
	}

	// The pre-allocated account id travels as the ceremony's WebAuthn user
	// handle rather than as a second copy beside it.
	userID, err := idx.FromBytes(c.Data.UserID)
	if err != nil {
		return domain.User{}, ErrNoCeremony
	}

	inv, err := s.liveInvite(ctx, c.InviteID)
	if err != nil {
		return domain.User{}, err
	}

	ku := &keyUser{
		id:          userID,
		name:        inv.Email,
		displayName: inv.DisplayName,
	}
	cred, err := s.WebAuthn.CreateCredential(ku, c.Data, parsed)
	if err != nil {
		return domain.User{}, ErrInvalidKey
	}
	if !attestedCredential(cred) {
		return domain.User{}, ErrInvalidKey
	}

	user, err := s.redeem(ctx, inv, userID, nil, func(tx store.Tx, localUserID idx.ID) error {
		return tx.WebAuthnKeys().Create(ctx, domain.WebAuthnKey{
			ID:          idx.NewAt(s.now()),
			LocalUserID: localUserID,
			Label:       "invite key",
			Attested:    true,
			Credential:  *cred,
		})
	})
	if err != nil {
		return domain.User{}, err
	}

	if err := s.Auth.promote(ctx, sess, user.ID); err != nil {
		return domain.User{}, err
	}
	return user, nil
}

// liveInvite returns the invite if it exists and has not expired.
func (s *InviteService) liveInvite(ctx context.Context, id idx.ID) (domain.Invite, error) {
	inv, err := s.Store.Invites().GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Invite{}, ErrInviteNotFound
		}
		return domain.Invite{}, fmt.Errorf("failed to get invite: %w", err)
	}
	if inv.Expired(s.now()) {
		return domain.Invite{}, ErrInviteExpired
	}
	return inv, nil
}

// redeem consumes the invite and creates the account in one transaction.
// Deleting the invite row first makes concurrent acceptances race on the
// delete: exactly one wins, the rest see the invite as already used.
func (s *InviteService) redeem(ctx context.Context, inv domain.Invite, userID idx.ID, passwordHash *string, attach func(tx store.Tx, localUserID idx.ID) error) (domain.User, error) {
	user := domain.User{
		ID:          userID,
		Email:       inv.Email,
		DisplayName: inv.DisplayName,
		Role:        inv.Role,
	}
	localUserID := idx.NewAt(s.now())

	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Invites().Delete(ctx, inv.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrInviteAlreadyUsed
			}
			return fmt.Errorf("failed to consume invite: %w", err)
		}
		if err := tx.Users().CreateUser(ctx, user); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return ErrEmailTaken
			}
			return fmt.Errorf("failed to create user: %w", err)
		}
		if err := tx.LocalUsers().Create(ctx, domain.LocalUser{
			ID:           localUserID,
			UserID:       userID,
			PasswordHash: passwordHash,
		}); err != nil {
			return fmt.Errorf("failed to create local account: %w", err)
		}
		if attach != nil {
			return attach(tx, localUserID)
		}
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}

	slogx.FromContext(ctx).Info("invite accepted",
		slog.String("invite_id", inv.ID.String()),
		slog.String("user_id", user.ID.String()))
	return user, nil
}
