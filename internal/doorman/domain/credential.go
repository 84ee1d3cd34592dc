package domain

import (
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/veldtlabs/doorman/pkg/idx"
)

// TOTPKey is a time-based one-time-password secret registered with an
// authenticator app.
type TOTPKey struct {
	ID          idx.ID
	LocalUserID idx.ID
	Label       string
	Secret      []byte // raw, unencoded secret
	CreatedAt   time.Time
}

// WebAuthnKey is a hardware or platform security key registered by the user.
//
// Attested keys proved their device model during registration and may be used
// as a sole login factor. Non-attested keys only serve as a second factor.
type WebAuthnKey struct {
	ID          idx.ID
	LocalUserID idx.ID
	Label       string
	Attested    bool
	Credential  webauthn.Credential
	CreatedAt   time.Time
}

// SecondFactors lists the second-factor options available to a partially
// authenticated user.
type SecondFactors struct {
	HasTOTP     bool `json:"has_totp"`
	HasWebAuthn bool `json:"has_webauthn"`
}

// LoginFlows describes how an account may log in. Returned by account
// discovery; an account is exactly one of federated (OIDC), local, or unknown.
type LoginFlows struct {
	Email    string `json:"email"`
	OIDC     bool   `json:"oidc"`
	Password bool   `json:"password"`
	Key      bool   `json:"key"` // attested WebAuthn key usable for passwordless login
}
