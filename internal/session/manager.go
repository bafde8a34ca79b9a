package session

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultRingTimeout = 45 * time.Second

// Manager keeps the live sessions and times out unanswered ones.
type Manager struct {
	deps        *Deps
	ringTimeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(deps Deps, ringTimeout time.Duration) *Manager {
	if ringTimeout <= 0 {
		ringTimeout = DefaultRingTimeout
	}
	return &Manager{
		deps:        &deps,
		ringTimeout: ringTimeout,
		sessions:    make(map[string]*Session),
	}
}

// Outbound registers a dialing session and dials it. The session is
// returned even when dialing fails so its outcome can be inspected.
func (m *Manager) Outbound(ctx context.Context, info Info) (*Session, error) {
	if err := info.validate(); err != nil {
		return nil, err
	}

	s := m.register(Outbound, info)

	log.Printf("[SESSION] ========== OUTBOUND CALL ==========")
	log.Printf("[SESSION] Session: %s", s.id)
	log.Printf("[SESSION] Company: %s Employee: %s", info.CompanyID, info.EmployeeID)
	log.Printf("[SESSION] Destination: %s", info.PhoneNumber)
	log.Printf("[SESSION] ===================================")

	s.publish(ctx, "", Dialing, "")
	return s, s.Dial(ctx)
}

// Inbound registers a ringing session.
func (m *Manager) Inbound(ctx context.Context, info Info) (*Session, error) {
	if err := info.validate(); err != nil {
		return nil, err
	}

	s := m.register(Inbound, info)

	log.Printf("[SESSION] ========== INCOMING CALL ==========")
	log.Printf("[SESSION] Session: %s", s.id)
	log.Printf("[SESSION] Company: %s Employee: %s", info.CompanyID, info.EmployeeID)
	log.Printf("[SESSION] Caller: %s", info.PhoneNumber)
	log.Printf("[SESSION] ===================================")

	s.publish(ctx, "", Ringing, "")
	return s, nil
}

func (m *Manager) register(direction Direction, info Info) *Session {
	s := newSession(uuid.NewString(), direction, info, m.deps)

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	return s
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Active returns snapshots of every tracked session, oldest first.
func (m *Manager) Active() []Snapshot {
	m.mu.RLock()
	list := make([]Snapshot, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s.Snapshot())
	}
	m.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].StartedAt.Equal(list[j].StartedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].StartedAt.Before(list[j].StartedAt)
	})
	return list
}

// Sweep times out sessions that have rung longer than the ring timeout
// and forgets sessions whose log is written. It returns the number of
// sessions timed out.
func (m *Manager) Sweep(ctx context.Context) int {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	now := m.deps.now()
	timedOut := 0
	for _, s := range sessions {
		snap := s.Snapshot()
		switch {
		case snap.State == Ringing && now.Sub(snap.StartedAt) >= m.ringTimeout:
			log.Printf("[SESSION] %s rang for %s, timing out", s.id, now.Sub(snap.StartedAt).Truncate(time.Second))
			timedOut++
			if _, err := s.Timeout(ctx); err != nil {
				log.Printf("[SESSION] %s timeout: %v", s.id, err)
				continue
			}
			m.forget(s.id)

		case snap.State == LogWritten:
			m.forget(s.id)
		}
	}
	return timedOut
}

func (m *Manager) forget(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Run sweeps every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}
