package service

import (
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/veldtlabs/doorman/internal/doorman/domain"
	"github.com/veldtlabs/doorman/pkg/cryptox"
)

func TestVerifyPassword(t *testing.T) {
	t.Parallel()

	hash, err := cryptox.HashPassword("correct horse battery")
	require.NoError(t, err)

	t.Run("match", func(t *testing.T) {
		require.NoError(t, verifyPassword(domain.LocalUser{PasswordHash: &hash}, "correct horse battery"))
	})

	t.Run("mismatch", func(t *testing.T) {
		err := verifyPassword(domain.LocalUser{PasswordHash: &hash}, "wrong")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})

	t.Run("key-only account never matches", func(t *testing.T) {
		err := verifyPassword(domain.LocalUser{}, "anything")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	})
}

func TestVerifyTOTPWindow(t *testing.T) {
	t.Parallel()

	secret := []byte("0123456789abcdef0123")
	keys := []domain.TOTPKey{{Secret: secret}}

	// Aligned to a period boundary so the window edges are exact.
	issued := time.Unix(1699999980, 0)
	code, err := totp.GenerateCode(totpEncoding.EncodeToString(secret), issued)
	require.NoError(t, err)

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"same period", issued, true},
		{"one period late", issued.Add(59 * time.Second), true},
		{"one period early", issued.Add(-29 * time.Second), true},
		{"too late", issued.Add(61 * time.Second), false},
		{"too early", issued.Add(-31 * time.Second), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := verifyTOTP(keys, code, tc.at)
			require.NoError(t, err)
			require.Equal(t, tc.want, ok)
		})
	}
}

func TestVerifyTOTPMultipleKeys(t *testing.T) {
	t.Parallel()

	now := time.Unix(1699999980, 0)
	a := []byte("aaaaaaaaaaaaaaaaaaaa")
	b := []byte("bbbbbbbbbbbbbbbbbbbb")
	keys := []domain.TOTPKey{{Secret: a}, {Secret: b}}

	codeB, err := totp.GenerateCode(totpEncoding.EncodeToString(b), now)
	require.NoError(t, err)

	ok, err := verifyTOTP(keys, codeB, now)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestVerifyTOTPRejectsGarbage(t *testing.T) {
	t.Parallel()

	keys := []domain.TOTPKey{{Secret: []byte("0123456789abcdef0123")}}

	for _, code := range []string{"", "123", "not-a-code", "1234567890"} {
		ok, err := verifyTOTP(keys, code, time.Now())
		require.NoError(t, err)
		require.False(t, ok, "code %q must not validate", code)
	}
}
