// Package service holds the business logic: login sequencing, credential
// management, invites and admin operations. Handlers stay thin and map the
// sentinel errors declared here onto the wire.
package service

import "errors"

var (
	// ErrInvalidCredentials covers unknown accounts and wrong passwords
	// alike so login failures do not leak which one it was.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidTOTPCode means the submitted code matched none of the
	// account's authenticator keys in the accepted time window.
	ErrInvalidTOTPCode = errors.New("invalid TOTP code")

	// ErrInvalidKey means a security key assertion or attestation failed
	// verification.
	ErrInvalidKey = errors.New("security key could not be verified")

	// ErrNoPendingLogin means a second-factor step arrived without a
	// preceding first-factor success on this session.
	ErrNoPendingLogin = errors.New("no login awaiting a second factor")

	// ErrLoginExpired means the first factor succeeded too long ago and the
	// whole login must be restarted.
	ErrLoginExpired = errors.New("login attempt expired")

	// ErrNoCeremony means a ceremony completion arrived without a pending
	// ceremony, including replays of an already-consumed one.
	ErrNoCeremony = errors.New("no ceremony in progress")

	// ErrNotLocalAccount means the operation needs local credentials but
	// the user only has a federated account.
	ErrNotLocalAccount = errors.New("account has no local credentials")

	ErrWeakPassword       = errors.New("password does not meet requirements")
	ErrEmailTaken         = errors.New("email already in use")
	ErrInvalidRole        = errors.New("invalid role")
	ErrInvalidDisplayName = errors.New("display name must not be empty")

	ErrInviteNotFound    = errors.New("invite not found")
	ErrInviteExpired     = errors.New("invite has expired")
	ErrInviteAlreadyUsed = errors.New("invite has already been used")

	// ErrSelfTarget guards admins against locking themselves out.
	ErrSelfTarget = errors.New("cannot perform this operation on your own account")

	ErrKeyNotFound = errors.New("key not found")
)
