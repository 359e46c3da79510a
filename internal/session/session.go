// Package session provides the identity handle threaded into the sync client,
// the query cache and the enrichment orchestrator.
//
// A Session is immutable once issued. Signing in again, signing out, or
// invalidating after an Unauthorized response replaces it, and observers are
// told so they can re-scope to the new owner.
package session

import (
	"fmt"
	"sync"
	"time"
)

// Session is one authenticated identity.
type Session struct {
	OwnerID   string
	Token     string
	StartedAt time.Time

	id  uint64
	mgr *Manager
}

// Valid reports whether the session is still the manager's current one.
func (s *Session) Valid() bool {
	if s == nil || s.mgr == nil {
		return false
	}
	return s.mgr.isCurrent(s)
}

// Invalidate ends the session if it is still current. Invalidating a session
// that was already replaced does nothing, so a late Unauthorized from an old
// request cannot sign out a newer session.
func (s *Session) Invalidate(reason string) {
	if s == nil || s.mgr == nil {
		return
	}
	s.mgr.invalidate(s, reason)
}

func (s *Session) String() string {
	if s == nil {
		return "<signed out>"
	}
	return fmt.Sprintf("session(%s#%d)", s.OwnerID, s.id)
}

// Change describes a session transition. Either side may be nil.
type Change struct {
	Old    *Session
	New    *Session
	Reason string
}

// Observer is notified after every session transition.
type Observer func(Change)

// Manager owns the current session.
type Manager struct {
	mu        sync.Mutex
	current   *Session
	seq       uint64
	observers map[int]Observer
	nextObs   int
	now       func() time.Time
}

// NewManager creates a signed-out manager.
func NewManager() *Manager {
	return &Manager{
		observers: make(map[int]Observer),
		now:       time.Now,
	}
}

// Current returns the active session, or nil when signed out.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// SignIn replaces the current session with one for ownerID.
func (m *Manager) SignIn(ownerID, token string) (*Session, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner id is required")
	}

	m.mu.Lock()
	m.seq++
	next := &Session{
		OwnerID:   ownerID,
		Token:     token,
		StartedAt: m.now(),
		id:        m.seq,
		mgr:       m,
	}
	old := m.current
	m.current = next
	observers := m.snapshotObservers()
	m.mu.Unlock()

	notify(observers, Change{Old: old, New: next, Reason: "sign-in"})
	return next, nil
}

// SignOut clears the current session.
func (m *Manager) SignOut() {
	m.replace(nil, "sign-out")
}

// OnChange registers an observer and returns a func that removes it.
func (m *Manager) OnChange(obs Observer) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextObs
	m.nextObs++
	m.observers[id] = obs

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.observers, id)
	}
}

func (m *Manager) isCurrent(s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current == s
}

func (m *Manager) invalidate(s *Session, reason string) {
	m.mu.Lock()
	if m.current != s {
		m.mu.Unlock()
		return
	}
	m.current = nil
	observers := m.snapshotObservers()
	m.mu.Unlock()

	notify(observers, Change{Old: s, Reason: reason})
}

func (m *Manager) replace(next *Session, reason string) {
	m.mu.Lock()
	old := m.current
	if old == next {
		m.mu.Unlock()
		return
	}
	m.current = next
	observers := m.snapshotObservers()
	m.mu.Unlock()

	notify(observers, Change{Old: old, New: next, Reason: reason})
}

// snapshotObservers copies the observer set. Caller holds mu.
func (m *Manager) snapshotObservers() []Observer {
	out := make([]Observer, 0, len(m.observers))
	for _, obs := range m.observers {
		out = append(out, obs)
	}
	return out
}

func notify(observers []Observer, c Change) {
	for _, obs := range observers {
		obs(c)
	}
}
