package sessioncache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	session  *Session
	deadline time.Time
}

// MemoryStore is an in-process Store with its own expiry sweep. Used for
// single-node deployments and tests; production clusters use Redis so all
// backends validate against the same entries.
type MemoryStore struct {
	entries map[string]memoryEntry
	mu      sync.RWMutex
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
}

// NewMemoryStore creates an in-memory session store and starts its sweep.
func NewMemoryStore() *MemoryStore {
	ctx, cancel := context.WithCancel(context.Background())
	m := &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
	}
	go m.sweepLoop()
	return m
}

// Stop halts the background sweep.
func (m *MemoryStore) Stop() {
	m.cancel()
}

func (m *MemoryStore) Put(_ context.Context, s *Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[s.Token] = memoryEntry{session: s, deadline: m.now().Add(ttl)}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, token string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[token]
	if !ok || m.now().After(e.deadline) {
		return nil, ErrSessionNotFound
	}
	copied := *e.session
	return &copied, nil
}

func (m *MemoryStore) Remaining(_ context.Context, token string) (time.Duration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[token]
	if !ok {
		return 0, ErrSessionNotFound
	}
	remaining := e.deadline.Sub(m.now())
	if remaining < 0 {
		return 0, ErrSessionNotFound
	}
	return remaining, nil
}

func (m *MemoryStore) Delete(_ context.Context, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[token]
	if !ok {
		return false, nil
	}
	delete(m.entries, token)
	// An entry past its deadline counts as already gone.
	if m.now().After(e.deadline) {
		return false, nil
	}
	return true, nil
}

func (m *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *MemoryStore) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for token, e := range m.entries {
		if now.After(e.deadline) {
			delete(m.entries, token)
		}
	}
}
