package http

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/veldtlabs/doorman/internal/doorman/domain"
	"github.com/veldtlabs/doorman/internal/doorman/ws"
)

func TestAdminUserManagement(t *testing.T) {
	env := newTestEnv(t)
	admin := newClient(t)
	seedUser(t, env.Store, "admin@example.com", "admin-password!", domain.RoleAdmin)
	target := seedUser(t, env.Store, "target@example.com", "target-password!", domain.RoleUser)
	login(t, env, admin, "admin@example.com", "admin-password!")

	t.Run("list users", func(t *testing.T) {
		resp := getJSON(t, admin, env.Server.URL+"/v1/admin/users")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		users := decodeBody[[]userResponse](t, resp)
		require.Len(t, users, 2)
	})

	t.Run("set role", func(t *testing.T) {
		resp := doJSON(t, admin, http.MethodPut, env.Server.URL+"/v1/admin/users/"+target.ID.String()+"/role", map[string]string{
			"role": "admin",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		updated := decodeBody[userResponse](t, resp)
		require.Equal(t, domain.RoleAdmin, updated.Role)
	})

	t.Run("own role is off limits", func(t *testing.T) {
		me := getJSON(t, admin, env.Server.URL+"/v1/users/me")
		self := decodeBody[userResponse](t, me)

		resp := doJSON(t, admin, http.MethodPut, env.Server.URL+"/v1/admin/users/"+self.ID.String()+"/role", map[string]string{
			"role": "user",
		})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		resp.Body.Close()
	})

	t.Run("delete user", func(t *testing.T) {
		resp := doJSON(t, admin, http.MethodDelete, env.Server.URL+"/v1/admin/users/"+target.ID.String(), nil)
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		resp.Body.Close()

		list := getJSON(t, admin, env.Server.URL+"/v1/admin/users")
		users := decodeBody[[]userResponse](t, list)
		require.Len(t, users, 1)
	})
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	client := newClient(t)
	seedUser(t, env.Store, "pleb@example.com", "hunter2hunter2", domain.RoleUser)
	login(t, env, client, "pleb@example.com", "hunter2hunter2")

	resp := getJSON(t, client, env.Server.URL+"/v1/admin/users")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()
}

// dialWS upgrades the client's authenticated session to a push socket.
func dialWS(t *testing.T, env *testEnv, client *http.Client) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.Server.URL, "http") + "/v1/ws"
	dialer := websocket.Dialer{Jar: client.Jar}
	sock, resp, err := dialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = sock.Close() })
	return sock
}

func TestRoleChangeIsPushedToLiveSessions(t *testing.T) {
	env := newTestEnv(t)
	admin := newClient(t)
	seedUser(t, env.Store, "admin@example.com", "admin-password!", domain.RoleAdmin)
	target := seedUser(t, env.Store, "target@example.com", "target-password!", domain.RoleUser)
	login(t, env, admin, "admin@example.com", "admin-password!")

	targetClient := newClient(t)
	login(t, env, targetClient, "target@example.com", "target-password!")
	sock := dialWS(t, env, targetClient)

	resp := doJSON(t, admin, http.MethodPut, env.Server.URL+"/v1/admin/users/"+target.ID.String()+"/role", map[string]string{
		"role": "admin",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	require.NoError(t, sock.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg ws.Msg
	require.NoError(t, sock.ReadJSON(&msg))
	require.Equal(t, ws.MsgUserUpdated, msg.Type)
	require.NotNil(t, msg.User)
	require.Equal(t, "admin", msg.User.Role)
}

func TestDeletedUserSocketIsClosed(t *testing.T) {
	env := newTestEnv(t)
	admin := newClient(t)
	seedUser(t, env.Store, "admin@example.com", "admin-password!", domain.RoleAdmin)
	target := seedUser(t, env.Store, "target@example.com", "target-password!", domain.RoleUser)
	login(t, env, admin, "admin@example.com", "admin-password!")

	targetClient := newClient(t)
	login(t, env, targetClient, "target@example.com", "target-password!")
	sock := dialWS(t, env, targetClient)

	resp := doJSON(t, admin, http.MethodDelete, env.Server.URL+"/v1/admin/users/"+target.ID.String(), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	require.NoError(t, sock.SetReadDeadline(time.Now().Add(5*time.Second)))

	// The server announces the closure and then completes the close
	// handshake, which surfaces as a close error on the next read.
	sawClosed := false
	for {
		var msg ws.Msg
		if err := sock.ReadJSON(&msg); err != nil {
			require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure) || sawClosed)
			break
		}
		if msg.Type == ws.MsgSessionClosed {
			sawClosed = true
		}
	}
	require.True(t, sawClosed)
}
