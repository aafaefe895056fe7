package session

import (
	"errors"
	"sync"

	"github.com/soyeahso/xiaoji/internal/domain"
)

// ErrExists is returned by Store.Insert when the id is already present.
var ErrExists = errors.New("session already exists")

// Store holds conversation sessions. Implementations must be safe for
// concurrent use and must hand out copies, never shared slices.
type Store interface {
	// Insert adds a new session. It returns ErrExists for a known id.
	Insert(s domain.Session) error
	// Append adds messages to the end of a session's history as one unit.
	// It reports false when the id is unknown.
	Append(id string, msgs ...domain.Message) (bool, error)
	// Get returns a copy of the session and whether it exists.
	Get(id string) (domain.Session, bool, error)
	// Count returns the number of stored sessions.
	Count() (int, error)
}

// MemoryStore is a Store backed by a map guarded by a RWMutex.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*domain.Session)}
}

func (m *MemoryStore) Insert(s domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return ErrExists
	}
	c := s.Clone()
	m.sessions[s.ID] = &c
	return nil
}

func (m *MemoryStore) Append(id string, msgs ...domain.Message) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return false, nil
	}
	s.Messages = append(s.Messages, msgs...)
	return true, nil
}

func (m *MemoryStore) Get(id string) (domain.Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, false, nil
	}
	return s.Clone(), true, nil
}

func (m *MemoryStore) Count() (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), nil
}
