package http

import (
	"net/http"
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/veldtlabs/doorman/internal/doorman/domain"
)

func TestGetMeRequiresLogin(t *testing.T) {
	env := newTestEnv(t)
	client := newClient(t)

	resp := getJSON(t, client, env.Server.URL+"/v1/users/me")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body := decodeBody[errorResponse](t, resp)
	require.Equal(t, "unauthenticated", body.Error)
}

func TestUpdateDisplayName(t *testing.T) {
	env := newTestEnv(t)
	client := newClient(t)
	seedUser(t, env.Store, "alice@example.com", "original-password", domain.RoleUser)
	login(t, env, client, "alice@example.com", "original-password")

	t.Run("blank name rejected", func(t *testing.T) {
		resp := doJSON(t, client, http.MethodPut, env.Server.URL+"/v1/users/me", map[string]string{
			"display_name": "  ",
		})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	resp := doJSON(t, client, http.MethodPut, env.Server.URL+"/v1/users/me", map[string]string{
		"display_name": "Alice Liddell",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decodeBody[userResponse](t, resp)
	require.Equal(t, "Alice Liddell", updated.DisplayName)

	me := getJSON(t, client, env.Server.URL+"/v1/users/me")
	require.Equal(t, http.StatusOK, me.StatusCode)
	require.Equal(t, "Alice Liddell", decodeBody[userResponse](t, me).DisplayName)
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t)
	client := newClient(t)
	seedUser(t, env.Store, "alice@example.com", "original-password", domain.RoleUser)
	login(t, env, client, "alice@example.com", "original-password")

	t.Run("wrong current password rejected", func(t *testing.T) {
		resp := doJSON(t, client, http.MethodPut, env.Server.URL+"/v1/users/me/password", map[string]string{
			"current_password": "not it",
			"new_password":     "replacement-password",
		})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("short replacement rejected", func(t *testing.T) {
		resp := doJSON(t, client, http.MethodPut, env.Server.URL+"/v1/users/me/password", map[string]string{
			"current_password": "original-password",
			"new_password":     "short",
		})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)

		body := decodeBody[errorResponse](t, resp)
		require.Equal(t, "weak_password", body.Error)
	})

	t.Run("change and relogin", func(t *testing.T) {
		resp := doJSON(t, client, http.MethodPut, env.Server.URL+"/v1/users/me/password", map[string]string{
			"current_password": "original-password",
			"new_password":     "replacement-password",
		})
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		resp.Body.Close()

		fresh := newClient(t)
		login(t, env, fresh, "alice@example.com", "replacement-password")
	})
}

func TestTOTPEnrollment(t *testing.T) {
	env := newTestEnv(t)
	client := newClient(t)
	seedUser(t, env.Store, "bob@example.com", "hunter2hunter2", domain.RoleUser)
	login(t, env, client, "bob@example.com", "hunter2hunter2")

	resp := postJSON(t, client, env.Server.URL+"/v1/users/me/totp/begin", map[string]string{
		"label": "phone",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	enrollment := decodeBody[totpEnrollResponse](t, resp)
	require.Equal(t, "phone", enrollment.Label)
	require.Contains(t, enrollment.URL, "otpauth://")

	key, err := otp.NewKeyFromURL(enrollment.URL)
	require.NoError(t, err)

	t.Run("wrong code discards the enrollment", func(t *testing.T) {
		resp := postJSON(t, client, env.Server.URL+"/v1/users/me/totp/confirm", map[string]string{
			"code": "000000",
		})
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		resp.Body.Close()

		// The pending secret is gone, so even the right code fails now.
		code, err := totp.GenerateCode(key.Secret(), time.Now())
		require.NoError(t, err)
		resp = postJSON(t, client, env.Server.URL+"/v1/users/me/totp/confirm", map[string]string{
			"code": code,
		})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("confirm stores the key", func(t *testing.T) {
		resp := postJSON(t, client, env.Server.URL+"/v1/users/me/totp/begin", map[string]string{
			"label": "phone",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		enrollment := decodeBody[totpEnrollResponse](t, resp)

		key, err := otp.NewKeyFromURL(enrollment.URL)
		require.NoError(t, err)
		code, err := totp.GenerateCode(key.Secret(), time.Now())
		require.NoError(t, err)

		resp = postJSON(t, client, env.Server.URL+"/v1/users/me/totp/confirm", map[string]string{
			"code": code,
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		created := decodeBody[totpKeyResponse](t, resp)
		require.Equal(t, "phone", created.Label)

		list := getJSON(t, client, env.Server.URL+"/v1/users/me/totp")
		require.Equal(t, http.StatusOK, list.StatusCode)
		keys := decodeBody[[]totpKeyResponse](t, list)
		require.Len(t, keys, 1)

		factors := getJSON(t, client, env.Server.URL+"/v1/users/me/factors")
		require.Equal(t, http.StatusOK, factors.StatusCode)
		sf := decodeBody[domain.SecondFactors](t, factors)
		require.True(t, sf.HasTOTP)

		del := doJSON(t, client, http.MethodDelete, env.Server.URL+"/v1/users/me/totp/"+created.ID.String(), nil)
		require.Equal(t, http.StatusNoContent, del.StatusCode)
		del.Body.Close()

		list = getJSON(t, client, env.Server.URL+"/v1/users/me/totp")
		keys = decodeBody[[]totpKeyResponse](t, list)
		require.Empty(t, keys)
	})
}

func TestDeleteUnknownTOTPKey(t *testing.T) {
	env := newTestEnv(t)
	client := newClient(t)
	seedUser(t, env.Store, "carol@example.com", "swordfish-swordfish", domain.RoleUser)
	login(t, env, client, "carol@example.com", "swordfish-swordfish")

	resp := doJSON(t, client, http.MethodDelete, env.Server.URL+"/v1/users/me/totp/01JFAKEFAKEFAKEFAKEFAKEFAK", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestBeginKeyRegistrationReturnsChallenge(t *testing.T) {
	env := newTestEnv(t)
	client := newClient(t)
	seedUser(t, env.Store, "dave@example.com", "hunter2hunter2", domain.RoleUser)
	login(t, env, client, "dave@example.com", "hunter2hunter2")

	resp := postJSON(t, client, env.Server.URL+"/v1/users/me/keys/begin", map[string]any{
		"label":    "yubikey",
		"attested": true,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	type creationEnvelope struct {
		PublicKey struct {
			Challenge string `json:"challenge"`
			RP        struct {
				ID string `json:"id"`
			} `json:"rp"`
		} `json:"publicKey"`
	}
	creation := decodeBody[creationEnvelope](t, resp)
	require.NotEmpty(t, creation.PublicKey.Challenge)
	require.Equal(t, "localhost", creation.PublicKey.RP.ID)
}
