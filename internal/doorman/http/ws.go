package http

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/veldtlabs/doorman/internal/doorman/ws"
	"github.com/veldtlabs/doorman/pkg/slogx"
)

// WSHandler upgrades authenticated requests to a live session socket.
type WSHandler struct {
	Registry *ws.Registry
	Upgrader websocket.Upgrader
}

// HandleConnect handles GET /v1/ws. The socket stays registered for pushes
// until the client disconnects or the session is closed server side.
func (h *WSHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	user, _ := userFrom(r.Context())
	sess := sessionFrom(r.Context())

	log := slogx.FromContext(r.Context())

	sock, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	if err := ws.Serve(r.Context(), log, h.Registry, user.ID, sess.ID(), sock); err != nil {
		log.Debug("websocket session ended",
			slog.String("user_id", user.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}
