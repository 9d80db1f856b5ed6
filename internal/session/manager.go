package session

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a session id does not name a live session.
var ErrNotFound = fmt.Errorf("session: not found")

// Manager owns the live sessions of one server process. Sessions are
// created when a chat view opens and removed when it closes; nothing here
// is persistent.
type Manager struct {
	// cfg is the collaborator set handed to every new session.
	cfg *Config

	// mu guards sessions.
	mu sync.Mutex
	// sessions maps session id to live session.
	sessions map[string]*Session
}

// NewManager constructs a Manager that builds sessions from cfg.
func NewManager(cfg *Config) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("session: manager requires a config")
	}
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}, nil
}

// Create opens a new session and returns it.
func (m *Manager) Create() (*Session, error) {
	s, err := New(uuid.NewString(), m.cfg)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	return s, nil
}

// Get returns the live session with the given id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Delete closes and removes the session with the given id. Deleting an
// unknown id returns ErrNotFound.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.Close()
	return nil
}

// Active reports the number of live sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll tears down every live session, for server shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range all {
		s.Close()
	}
}
