package session

import (
	"errors"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/veldtlabs/doorman/pkg/idx"
)

// Session value keys. A session carries at most one of keyUser and keyPartial
// at a time, plus an optional in-flight ceremony.
const (
	keyUser           = "user"
	keyPartial        = "missing_second_factor"
	keyCeremony       = "webauthn_ceremony"
	keyTOTPEnrollment = "totp_enrollment"
)

// PartialAuthTTL is how long a first-factor success stays redeemable for a
// second-factor attempt. The marker is never refreshed by reads.
const PartialAuthTTL = 10 * time.Minute

var (
	// ErrPartialAbsent is returned when no partial marker is present.
	ErrPartialAbsent = errors.New("session: no pending second factor")
	// ErrPartialExpired is returned when the marker exists but is too old.
	ErrPartialExpired = errors.New("session: pending second factor expired")
)

// PartialAuth records a verified first factor awaiting its second factor.
type PartialAuth struct {
	LocalUserID idx.ID
	StartedAt   time.Time
}

// SetUser marks the session fully authenticated as the given user.
func SetUser(s *Session, userID idx.ID) {
	s.Set(keyUser, userID)
}

// UserID returns the authenticated user of the session, if any.
func UserID(s *Session) (idx.ID, bool) {
	v, ok := s.Get(keyUser)
	if !ok {
		return idx.Zero, false
	}
	id, ok := v.(idx.ID)
	return id, ok
}

// ClearUser removes the authenticated-user marker.
func ClearUser(s *Session) {
	s.Delete(keyUser)
}

// SetPartial records a verified first factor for the local user, replacing
// any previous marker and stamping it with the current time.
func SetPartial(s *Session, localUserID idx.ID, now time.Time) {
	s.Set(keyPartial, PartialAuth{LocalUserID: localUserID, StartedAt: now})
}

// GetPartial returns the local user of the pending partial authentication.
// An expired marker is removed and reported as ErrPartialExpired; reading a
// live marker does not extend its lifetime.
func GetPartial(s *Session, now time.Time) (idx.ID, error) {
	v, ok := s.Get(keyPartial)
	if !ok {
		return idx.Zero, ErrPartialAbsent
	}
	p, ok := v.(PartialAuth)
	if !ok {
		s.Delete(keyPartial)
		return idx.Zero, ErrPartialAbsent
	}
	if now.Sub(p.StartedAt) > PartialAuthTTL {
		s.Delete(keyPartial)
		return idx.Zero, ErrPartialExpired
	}
	return p.LocalUserID, nil
}

// ClearPartial removes the partial-authentication marker.
func ClearPartial(s *Session) {
	s.Delete(keyPartial)
}

// CeremonyKind distinguishes what an in-flight key ceremony is for.
type CeremonyKind string

const (
	// CeremonyLogin is a key assertion used as a login factor.
	CeremonyLogin CeremonyKind = "login"
	// CeremonyRegister is a key attestation adding a key to an account.
	CeremonyRegister CeremonyKind = "register"
	// CeremonyInvite is a key attestation accepting an invite.
	CeremonyInvite CeremonyKind = "invite"
)

// Ceremony is the server-side state of an in-flight authenticator ceremony.
// Which fields are set depends on Kind.
type Ceremony struct {
	Kind     CeremonyKind
	Attested bool

	// LocalUserID identifies whose keys the ceremony is against for login
	// and register ceremonies.
	LocalUserID idx.ID

	// Label names the key being registered.
	Label string

	// InviteID ties an invite ceremony back to the invite being accepted.
	InviteID idx.ID

	Data webauthn.SessionData
}

// SetCeremony stores the ceremony state, replacing any previous one.
func SetCeremony(s *Session, c Ceremony) {
	s.Set(keyCeremony, c)
}

// TakeCeremony removes and returns the in-flight ceremony. A second call
// without an intervening SetCeremony reports no ceremony; retrying a failed
// completion requires starting over.
func TakeCeremony(s *Session) (Ceremony, bool) {
	v, ok := s.Take(keyCeremony)
	if !ok {
		return Ceremony{}, false
	}
	c, ok := v.(Ceremony)
	return c, ok
}

// TOTPEnrollment is a generated authenticator secret awaiting its first
// valid code before it becomes a stored key.
type TOTPEnrollment struct {
	Label  string
	Secret []byte
	URL    string
}

// SetTOTPEnrollment stashes a pending enrollment, replacing any previous one.
func SetTOTPEnrollment(s *Session, e TOTPEnrollment) {
	s.Set(keyTOTPEnrollment, e)
}

// TakeTOTPEnrollment removes and returns the pending enrollment.
func TakeTOTPEnrollment(s *Session) (TOTPEnrollment, bool) {
	v, ok := s.Take(keyTOTPEnrollment)
	if !ok {
		return TOTPEnrollment{}, false
	}
	e, ok := v.(TOTPEnrollment)
	return e, ok
}
