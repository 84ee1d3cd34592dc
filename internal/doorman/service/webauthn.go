package service

import (
	"context"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/veldtlabs/doorman/internal/doorman/domain"
	"github.com/veldtlabs/doorman/internal/doorman/store"
	"github.com/veldtlabs/doorman/pkg/idx"
)

// relyingParty is the slice of the WebAuthn library the services drive.
// Production wires *webauthn.WebAuthn; tests substitute a stub so ceremony
// completion can be exercised without a real authenticator.
type relyingParty interface {
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, parsed *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, parsed *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
}

// keyUser adapts an account and its registered keys to the relying-party
// library's user interface. For invite acceptance the account does not exist
// yet, so it is built from the invite with a pre-allocated id and no keys.
type keyUser struct {
	id          idx.ID
	name        string
	displayName string
	keys        []domain.WebAuthnKey
}

func (u *keyUser) WebAuthnID() []byte          { return u.id.Bytes() }
func (u *keyUser) WebAuthnName() string        { return u.name }
func (u *keyUser) WebAuthnDisplayName() string { return u.displayName }

func (u *keyUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, 0, len(u.keys))
	for _, k := range u.keys {
		creds = append(creds, k.Credential)
	}
	return creds
}

// exclusions lists the user's existing credentials so a registration
// ceremony cannot re-register one of them.
func (u *keyUser) exclusions() []protocol.CredentialDescriptor {
	descs := make([]protocol.CredentialDescriptor, 0, len(u.keys))
	for _, k := range u.keys {
		descs = append(descs, k.Credential.Descriptor())
	}
	return descs
}

// findKey returns the stored key matching a validated credential.
func (u *keyUser) findKey(cred *webauthn.Credential) (domain.WebAuthnKey, bool) {
	for _, k := range u.keys {
		if string(k.Credential.ID) == string(cred.ID) {
			return k, true
		}
	}
	return domain.WebAuthnKey{}, false
}

// loadKeyUser builds the adapter for an existing account. With attestedOnly
// set, only keys that proved their provenance at registration are included;
// those are the only ones accepted as a sole login factor.
func loadKeyUser(ctx context.Context, st store.Store, user domain.User, localUserID idx.ID, attestedOnly bool) (*keyUser, error) {
	keys, err := st.WebAuthnKeys().ListByLocalUser(ctx, localUserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list security keys: %w", err)
	}
	if attestedOnly {
		attested := keys[:0]
		for _, k := range keys {
			if k.Attested {
				attested = append(attested, k)
			}
		}
		keys = attested
	}
	return &keyUser{
		id:          user.ID,
		name:        user.Email,
		displayName: user.DisplayName,
		keys:        keys,
	}, nil
}

// attestedCredential reports whether the authenticator actually provided a
// verifiable attestation statement.
func attestedCredential(cred *webauthn.Credential) bool {
	return cred.AttestationType != "" && cred.AttestationType != "none"
}
