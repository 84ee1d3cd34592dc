package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/veldtlabs/doorman/pkg/idx"
)

// timing sets the heartbeat cadence of a connection. Zero fields fall back
// to the production values.
type timing struct {
	// ping is how often the server probes the client for liveness.
	ping time.Duration

	// clientTimeout is how long a client may stay silent before the
	// connection is considered dead.
	clientTimeout time.Duration

	// writeWait bounds a single write to the transport.
	writeWait time.Duration
}

func (tm timing) withDefaults() timing {
	if tm.ping == 0 {
		tm.ping = 10 * time.Second
	}
	if tm.clientTimeout == 0 {
		tm.clientTimeout = 60 * time.Second
	}
	if tm.writeWait == 0 {
		tm.writeWait = 10 * time.Second
	}
	return tm
}

// readDeadline trails the heartbeat timeout by two ping intervals, leaving
// the monitor room to send a proper close frame before the transport read
// gives up on a silent client.
func (tm timing) readDeadline() time.Duration {
	return tm.clientTimeout + 2*tm.ping
}

// frame is one wire-level instruction for the transmit duty.
type frame struct {
	kind int // websocket message type
	data []byte
}

// Serve runs one live push connection until it ends. It registers the
// session with the registry, then splits the work across four duties
// (convert, transmit, receive, heartbeat) linked by capacity-1 channels and
// a shared cancel: whichever duty stops first tears down the rest.
//
// Serve takes ownership of sock and closes it before returning.
func Serve(ctx context.Context, log *slog.Logger, registry *Registry, userID idx.ID, sessionID string, sock *websocket.Conn) error {
	return serve(ctx, log, registry, userID, sessionID, sock, timing{})
}

func serve(ctx context.Context, log *slog.Logger, registry *Registry, userID idx.ID, sessionID string, sock *websocket.Conn, tm timing) error {
	defer sock.Close()
	tm = tm.withDefaults()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := NewOutbound()
	if err := registry.Register(ctx, userID, sessionID, out); err != nil {
		return fmt.Errorf("failed to register session: %w", err)
	}
	defer func() {
		// Mark the handle dead first so the registry never blocks on us,
		// then drop the entry eagerly.
		out.Close()
		cleanup, cancelCleanup := context.WithTimeout(context.Background(), time.Second)
		defer cancelCleanup()
		_ = registry.CloseSession(cleanup, userID, sessionID)
	}()

	frames := make(chan frame, 1)

	var lastBeat atomic.Int64
	lastBeat.Store(time.Now().UnixNano())
	beat := func() { lastBeat.Store(time.Now().UnixNano()) }

	_ = sock.SetReadDeadline(time.Now().Add(tm.readDeadline()))
	sock.SetPongHandler(func(string) error {
		beat()
		return sock.SetReadDeadline(time.Now().Add(tm.readDeadline()))
	})

	// Closing the socket on cancellation unblocks the receive duty, which
	// otherwise sits in a blocking read.
	go func() {
		<-ctx.Done()
		_ = sock.Close()
	}()

	var wg sync.WaitGroup
	wg.Add(4)

	// Convert: application push messages become wire frames. The close
	// message becomes a protocol close instruction, not a data frame.
	go func() {
		defer wg.Done()
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-out.Receive():
				var f frame
				if msg.Type == msgTypeClose {
					f = closeFrame(websocket.CloseNormalClosure, "session closed")
				} else {
					data, err := json.Marshal(msg)
					if err != nil {
						log.ErrorContext(ctx, "failed to encode push message", "error", err, "msg_type", msg.Type)
						continue
					}
					f = frame{kind: websocket.TextMessage, data: data}
				}
				select {
				case frames <- f:
				case <-ctx.Done():
					return
				}
				if msg.Type == msgTypeClose {
					return
				}
			}
		}
	}()

	// Transmit: the only writer of the socket.
	go func() {
		defer wg.Done()
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case f := <-frames:
				_ = sock.SetWriteDeadline(time.Now().Add(tm.writeWait))
				if f.kind == websocket.CloseMessage {
					_ = sock.WriteMessage(websocket.CloseMessage, f.data)
					return
				}
				if err := sock.WriteMessage(f.kind, f.data); err != nil {
					log.DebugContext(ctx, "write failed, dropping connection", "error", err)
					return
				}
			}
		}
	}()

	// Receive: drains client frames. Pings are answered by the transport's
	// default handler; pongs feed the heartbeat. Client payloads carry no
	// meaning on this channel, so anything readable is ignored.
	go func() {
		defer wg.Done()
		defer cancel()
		for {
			if _, _, err := sock.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.DebugContext(ctx, "read failed, dropping connection", "error", err)
				}
				return
			}
			beat()
		}
	}()

	// Heartbeat: ping on an interval, close when the client has been silent
	// for too long.
	go func() {
		defer wg.Done()
		defer cancel()
		ticker := time.NewTicker(tm.ping)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				silence := time.Since(time.Unix(0, lastBeat.Load()))
				if silence > tm.clientTimeout {
					log.InfoContext(ctx, "client heartbeat timed out", "silence", silence)
					select {
					case frames <- closeFrame(websocket.CloseGoingAway, "heartbeat timeout"):
					case <-ctx.Done():
					}
					return
				}
				select {
				case frames <- frame{kind: websocket.PingMessage}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	wg.Wait()
	return nil
}

func closeFrame(code int, reason string) frame {
	return frame{
		kind: websocket.CloseMessage,
		data: websocket.FormatCloseMessage(code, reason),
	}
}
