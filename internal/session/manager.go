// Package session manages room lifecycle and membership on top of the
// session store.
package session

import (
	"time"

	"github.com/Debunkem/CodeCollab/internal/store"
)

// Manager creates rooms and reconciles viewers into participant lists
type Manager struct {
	store           *store.Store
	newID           func() (string, error)
	now             func() time.Time
	enforceCapacity bool
	maxIDAttempts   int
}

type Option func(*Manager)

// WithIDGenerator replaces the random room ID source
func WithIDGenerator(gen func() (string, error)) Option {
	return func(m *Manager) { m.newID = gen }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithCapacityEnforcement rejects joins beyond a room's max participant count
func WithCapacityEnforcement(enforce bool) Option {
	return func(m *Manager) { m.enforceCapacity = enforce }
}

func NewManager(s *store.Store, opts ...Option) *Manager {
	if s == nil {
		panic("store cannot be nil for session Manager")
	}
	m := &Manager{
		store:         s,
		newID:         func() (string, error) { return NewRoomID(DefaultIDLength) },
		now:           time.Now,
		maxIDAttempts: 5,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}
