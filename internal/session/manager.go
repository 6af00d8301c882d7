package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ecamuto/LoadSpiker/internal/config"
)

// MaxIdleAge is the last-access age past which a session is swept.
const MaxIdleAge = time.Duration(config.DefaultSessionTTLMs) * time.Millisecond

// SweepInterval is the minimum time between sweeps, amortized across
// whichever goroutine happens to call Acquire next.
const SweepInterval = time.Duration(config.DefaultSessionIdleMs) * time.Millisecond

// Manager owns one Store per VU, created lazily on first access. There is
// no dedicated eviction goroutine: a sweep for idle sessions piggybacks on
// Acquire, throttled to at most once per SweepInterval.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Store

	lastSweep atomic.Int64 // unix nanos

	totalCreated atomic.Int64
	totalEvicted atomic.Int64
}

// NewManager creates an empty session manager.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Store)}
}

// Acquire returns the VU's session, creating it on first access. It also
// performs an amortized sweep of idle sessions across all VUs.
func (m *Manager) Acquire(vuID string) *Store {
	m.maybeSweep()

	m.mu.RLock()
	s, ok := m.sessions[vuID]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[vuID]; ok {
		return s
	}
	s = newStore(vuID)
	m.sessions[vuID] = s
	m.totalCreated.Add(1)
	return s
}

// Remove deletes a VU's session outright (e.g. on explicit teardown).
func (m *Manager) Remove(vuID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, vuID)
}

// Count returns the number of currently tracked sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// TotalCreated returns the lifetime count of sessions created.
func (m *Manager) TotalCreated() int64 { return m.totalCreated.Load() }

// TotalEvicted returns the lifetime count of sessions swept for idleness.
func (m *Manager) TotalEvicted() int64 { return m.totalEvicted.Load() }

func (m *Manager) maybeSweep() {
	now := time.Now().UnixNano()
	last := m.lastSweep.Load()
	if now-last < int64(SweepInterval) {
		return
	}
	if !m.lastSweep.CompareAndSwap(last, now) {
		return // another goroutine is sweeping this window
	}
	m.sweep()
}

func (m *Manager) sweep() {
	cutoff := time.Now().Add(-MaxIdleAge)

	m.mu.RLock()
	var stale []string
	for vuID, s := range m.sessions {
		if s.LastAccess().Before(cutoff) {
			stale = append(stale, vuID)
		}
	}
	m.mu.RUnlock()

	if len(stale) == 0 {
		return
	}

	m.mu.Lock()
	for _, vuID := range stale {
		if s, ok := m.sessions[vuID]; ok && s.LastAccess().Before(cutoff) {
			delete(m.sessions, vuID)
			m.totalEvicted.Add(1)
		}
	}
	m.mu.Unlock()
}
