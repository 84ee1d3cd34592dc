// Package session provides the transient, per-client session store and the
// ceremony state kept in it between authentication steps.
package session

import (
	"context"
	"sync"

	"github.com/veldtlabs/doorman/pkg/cryptox"
)

// Session holds the transient values of one client session, keyed by a stable
// opaque identifier. All value access goes through the session's own lock so
// concurrent completion attempts on the same session observe consistent
// take-once semantics.
type Session struct {
	id      string
	manager *Manager

	mu     sync.Mutex
	values map[string]any
}

// ID returns the stable session identifier. It is assigned at creation and
// never changes; the persisted session record is keyed by it.
func (s *Session) ID() string { return s.id }

// Get returns the value stored under key.
func (s *Session) Get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok
}

// Set stores a value under key.
func (s *Session) Set(key string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = v
}

// Delete removes the value under key.
func (s *Session) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// Take removes and returns the value under key. At most one caller observes
// a non-nil result for a given stored value.
func (s *Session) Take(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if ok {
		delete(s.values, key)
	}
	return v, ok
}

// Save persists the session in the manager. Promotion relies on Save
// completing before the persisted session record is updated.
func (s *Session) Save(ctx context.Context) error {
	return s.manager.save(ctx, s)
}

// Flush drops every value and removes the session from the manager (logout).
func (s *Session) Flush(ctx context.Context) error {
	s.mu.Lock()
	s.values = make(map[string]any)
	s.mu.Unlock()
	return s.manager.remove(ctx, s.id)
}

// Manager is an in-memory session store keyed by the opaque session token.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// New creates a fresh session with a random identifier. The session is not
// visible to Load until Save has been called.
func (m *Manager) New() (*Session, error) {
	id, err := cryptox.GenerateToken(cryptox.TokenSize256)
	if err != nil {
		return nil, err
	}
	return &Session{
		id:      id,
		manager: m,
		values:  make(map[string]any),
	}, nil
}

// Load returns the saved session for the given identifier.
func (m *Manager) Load(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.id] = s
	return nil
}

func (m *Manager) remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}
