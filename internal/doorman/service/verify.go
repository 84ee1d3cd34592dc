package service

import (
	"encoding/base32"
	"errors"
	"fmt"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/veldtlabs/doorman/internal/doorman/domain"
	"github.com/veldtlabs/doorman/pkg/cryptox"
)

const (
	totpPeriod = 30
	totpSkew   = 1 // accept one period either side for clock drift
	totpDigits = otp.DigitsSix
)

var totpEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// verifyPassword checks a password against the local account's stored hash.
// Accounts without a password (security-key only) always fail.
func verifyPassword(lu domain.LocalUser, password string) error {
	if lu.PasswordHash == nil {
		return ErrInvalidCredentials
	}
	if err := cryptox.VerifyPassword(password, *lu.PasswordHash); err != nil {
		if errors.Is(err, cryptox.ErrMismatch) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("failed to verify password: %w", err)
	}
	return nil
}

// verifyTOTP checks the code against each of the account's keys at the given
// time. A code matching any key passes.
func verifyTOTP(keys []domain.TOTPKey, code string, now time.Time) (bool, error) {
	opts := totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    totpDigits,
		Algorithm: otp.AlgorithmSHA1,
	}
	for _, k := range keys {
		ok, err := totp.ValidateCustom(code, totpEncoding.EncodeToString(k.Secret), now, opts)
		if err != nil {
			// Wrong-shape input is a bad code, not a server fault.
			if errors.Is(err, otp.ErrValidateInputInvalidLength) {
				return false, nil
			}
			return false, fmt.Errorf("failed to validate TOTP code: %w", err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}
