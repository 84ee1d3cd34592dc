package ws

import (
	"context"
	"errors"
	"sync"

	"github.com/veldtlabs/doorman/pkg/idx"
)

// ErrRegistryClosed is returned when a command is submitted after the
// registry has shut down.
var ErrRegistryClosed = errors.New("ws: registry closed")

// Outbound is the delivery handle for one connection. The registry pushes
// into it; the connection handler drains it. The channel has capacity one so
// the registry blocks only until the previous frame is consumed, and a
// handler that has gone away is detected through done instead of blocking
// the registry forever.
type Outbound struct {
	ch        chan Msg
	done      chan struct{}
	closeOnce sync.Once
}

func NewOutbound() *Outbound {
	return &Outbound{
		ch:   make(chan Msg, 1),
		done: make(chan struct{}),
	}
}

// Receive returns the channel the connection handler drains.
func (o *Outbound) Receive() <-chan Msg { return o.ch }

// Close marks the receiver as gone. Pending and future registry deliveries
// to this handle fail and the entry is pruned.
func (o *Outbound) Close() {
	o.closeOnce.Do(func() { close(o.done) })
}

// deliver pushes a frame, reporting false once the receiver is gone.
func (o *Outbound) deliver(m Msg) bool {
	select {
	case o.ch <- m:
		return true
	case <-o.done:
		return false
	}
}

type cmdKind int

const (
	cmdRegister cmdKind = iota
	cmdSendToUser
	cmdSendToSession
	cmdCloseSession
	cmdCloseUser
)

type command struct {
	kind      cmdKind
	userID    idx.ID
	sessionID string
	out       *Outbound
	msg       Msg
}

// Registry is the single owner of the live-connection directory
// {user -> {session -> outbound handle}}. All mutation and delivery happen
// on one goroutine consuming a capacity-1 command channel, so commands are
// applied strictly in arrival order and no locking is needed on the map.
type Registry struct {
	cmds    chan command
	stopped chan struct{}

	entries map[idx.ID]map[string]*Outbound
}

func NewRegistry() *Registry {
	return &Registry{
		cmds:    make(chan command, 1),
		stopped: make(chan struct{}),
		entries: make(map[idx.ID]map[string]*Outbound),
	}
}

// Run consumes commands until ctx is cancelled, then closes every remaining
// handle. It must be running for submissions to complete.
func (r *Registry) Run(ctx context.Context) {
	defer close(r.stopped)
	for {
		select {
		case <-ctx.Done():
			for userID := range r.entries {
				r.closeUser(userID)
			}
			return
		case cmd := <-r.cmds:
			r.apply(cmd)
		}
	}
}

func (r *Registry) apply(cmd command) {
	switch cmd.kind {
	case cmdRegister:
		sessions, ok := r.entries[cmd.userID]
		if !ok {
			sessions = make(map[string]*Outbound)
			r.entries[cmd.userID] = sessions
		}
		if prev, ok := sessions[cmd.sessionID]; ok && prev != cmd.out {
			prev.deliver(closeMsg())
		}
		sessions[cmd.sessionID] = cmd.out
	case cmdSendToUser:
		for sessionID, out := range r.entries[cmd.userID] {
			if !out.deliver(cmd.msg) {
				r.remove(cmd.userID, sessionID)
			}
		}
	case cmdSendToSession:
		out, ok := r.entries[cmd.userID][cmd.sessionID]
		if !ok {
			return
		}
		if !out.deliver(cmd.msg) {
			r.remove(cmd.userID, cmd.sessionID)
		}
	case cmdCloseSession:
		out, ok := r.entries[cmd.userID][cmd.sessionID]
		if !ok {
			return
		}
		out.deliver(closeMsg())
		r.remove(cmd.userID, cmd.sessionID)
	case cmdCloseUser:
		r.closeUser(cmd.userID)
	}
}

func (r *Registry) closeUser(userID idx.ID) {
	for _, out := range r.entries[userID] {
		out.deliver(closeMsg())
	}
	delete(r.entries, userID)
}

func (r *Registry) remove(userID idx.ID, sessionID string) {
	sessions := r.entries[userID]
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(r.entries, userID)
	}
}

func (r *Registry) submit(ctx context.Context, cmd command) error {
	select {
	case <-r.stopped:
		return ErrRegistryClosed
	default:
	}
	select {
	case r.cmds <- cmd:
		return nil
	case <-r.stopped:
		return ErrRegistryClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Register inserts (or overwrites) the entry for the session. An error means
// the connection must not stay up.
func (r *Registry) Register(ctx context.Context, userID idx.ID, sessionID string, out *Outbound) error {
	return r.submit(ctx, command{kind: cmdRegister, userID: userID, sessionID: sessionID, out: out})
}

// SendToUser delivers a frame to every live session of the user. Entries
// whose receiver is gone are pruned; one dead receiver does not affect the
// others.
func (r *Registry) SendToUser(ctx context.Context, userID idx.ID, msg Msg) error {
	return r.submit(ctx, command{kind: cmdSendToUser, userID: userID, msg: msg})
}

// SendToSession delivers a frame to exactly one session, if registered.
func (r *Registry) SendToSession(ctx context.Context, userID idx.ID, sessionID string, msg Msg) error {
	return r.submit(ctx, command{kind: cmdSendToSession, userID: userID, sessionID: sessionID, msg: msg})
}

// CloseSession sends a best-effort close to one session and removes its
// entry. Removal happens even if the close could not be delivered.
func (r *Registry) CloseSession(ctx context.Context, userID idx.ID, sessionID string) error {
	return r.submit(ctx, command{kind: cmdCloseSession, userID: userID, sessionID: sessionID})
}

// CloseUser force-closes every live session of the user (forced logout).
func (r *Registry) CloseUser(ctx context.Context, userID idx.ID) error {
	return r.submit(ctx, command{kind: cmdCloseUser, userID: userID})
}
