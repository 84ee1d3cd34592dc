package http

import (
	"context"
	"encoding/base32"
	"net/http"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/veldtlabs/doorman/internal/doorman/domain"
	"github.com/veldtlabs/doorman/pkg/idx"
)

func TestLoginPasswordFlow(t *testing.T) {
	env := newTestEnv(t)
	client := newClient(t)
	seedUser(t, env.Store, "alice@example.com", "correct horse battery", domain.RoleUser)

	t.Run("flows discovery", func(t *testing.T) {
		resp := postJSON(t, client, env.Server.URL+"/v1/auth/flows", map[string]string{
			"email": "alice@example.com",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		flows := decodeBody[domain.LoginFlows](t, resp)
		require.True(t, flows.Password)
		require.False(t, flows.Key)
		require.False(t, flows.OIDC)
	})

	t.Run("wrong password rejected", func(t *testing.T) {
		resp := postJSON(t, client, env.Server.URL+"/v1/auth/login/password", map[string]string{
			"email":    "alice@example.com",
			"password": "wrong",
		})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		body := decodeBody[errorResponse](t, resp)
		require.Equal(t, "invalid_credentials", body.Error)
		require.Equal(t, "password", body.Field)
	})

	t.Run("correct password authenticates the session", func(t *testing.T) {
		resp := postJSON(t, client, env.Server.URL+"/v1/auth/login/password", map[string]string{
			"email":    "alice@example.com",
			"password": "correct horse battery",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		out := decodeBody[loginResponse](t, resp)
		require.True(t, out.Authenticated)
		require.NotNil(t, out.User)
		require.Equal(t, "alice@example.com", out.User.Email)

		me := getJSON(t, client, env.Server.URL+"/v1/users/me")
		require.Equal(t, http.StatusOK, me.StatusCode)
		user := decodeBody[userResponse](t, me)
		require.Equal(t, "alice@example.com", user.Email)
	})
}

func TestLoginSecondFactorTOTP(t *testing.T) {
	env := newTestEnv(t)
	client := newClient(t)
	user := seedUser(t, env.Store, "bob@example.com", "hunter2hunter2", domain.RoleUser)

	local, err := env.Store.LocalUsers().GetByUserID(context.Background(), user.ID)
	require.NoError(t, err)

	secret := []byte("12345678901234567890")
	require.NoError(t, env.Store.TOTPKeys().Create(context.Background(), domain.TOTPKey{
		ID:          idx.New(),
		LocalUserID: local.ID,
		Label:       "phone",
		Secret:      secret,
	}))

	resp := postJSON(t, client, env.Server.URL+"/v1/auth/login/password", map[string]string{
		"email":    "bob@example.com",
		"password": "hunter2hunter2",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decodeBody[loginResponse](t, resp)
	require.False(t, out.Authenticated)
	require.NotNil(t, out.SecondFactors)
	require.True(t, out.SecondFactors.HasTOTP)

	// Password alone must not grant access.
	me := getJSON(t, client, env.Server.URL+"/v1/users/me")
	require.Equal(t, http.StatusUnauthorized, me.StatusCode)

	t.Run("wrong code rejected", func(t *testing.T) {
		resp := postJSON(t, client, env.Server.URL+"/v1/auth/2fa/totp", map[string]string{
			"code": "000000",
		})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("valid code completes the login", func(t *testing.T) {
		encoded := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(secret)
		code, err := totp.GenerateCode(encoded, time.Now())
		require.NoError(t, err)

		resp := postJSON(t, client, env.Server.URL+"/v1/auth/2fa/totp", map[string]string{
			"code": code,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		out := decodeBody[loginResponse](t, resp)
		require.True(t, out.Authenticated)

		me := getJSON(t, client, env.Server.URL+"/v1/users/me")
		require.Equal(t, http.StatusOK, me.StatusCode)
	})
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	client := newClient(t)
	seedUser(t, env.Store, "carol@example.com", "swordfish-swordfish", domain.RoleUser)
	login(t, env, client, "carol@example.com", "swordfish-swordfish")

	resp := postJSON(t, client, env.Server.URL+"/v1/auth/logout", struct{}{})
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	me := getJSON(t, client, env.Server.URL+"/v1/users/me")
	require.Equal(t, http.StatusUnauthorized, me.StatusCode)
}

func TestLoginRateLimited(t *testing.T) {
	env := newTestEnv(t)
	client := newClient(t)

	// The strict profile allows a burst of five attempts per IP.
	for i := 0; i < 5; i++ {
		resp := postJSON(t, client, env.Server.URL+"/v1/auth/login/password", map[string]string{
			"email":    "nobody@example.com",
			"password": "guess",
		})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	}

	resp := postJSON(t, client, env.Server.URL+"/v1/auth/login/password", map[string]string{
		"email":    "nobody@example.com",
		"password": "guess",
	})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	resp.Body.Close()
}

func TestUnknownAccountLooksLikeBadPassword(t *testing.T) {
	env := newTestEnv(t)
	client := newClient(t)

	resp := postJSON(t, client, env.Server.URL+"/v1/auth/login/password", map[string]string{
		"email":    "ghost@example.com",
		"password": "anything at all",
	})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body := decodeBody[errorResponse](t, resp)
	require.Equal(t, "invalid_credentials", body.Error)
}
