package replay

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local guard for development and tests. It is only
// correct when a single process serves all scans.
type Memory struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemory creates an empty guard. now may be nil.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{entries: make(map[string]time.Time), now: now}
}

func (m *Memory) SetIfAbsent(_ context.Context, signature string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if exp, ok := m.entries[signature]; ok && now.Before(exp) {
		return false, nil
	}
	m.entries[signature] = now.Add(ttl)
	m.purge(now)
	return true, nil
}

func (m *Memory) Exists(_ context.Context, signature string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.entries[signature]
	return ok && m.now().Before(exp), nil
}

func (m *Memory) Release(_ context.Context, signature string) error {
	m.mu.Lock()
	delete(m.entries, signature)
	m.mu.Unlock()
	return nil
}

// Len returns the number of live entries.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purge(m.now())
	return len(m.entries)
}

func (m *Memory) purge(now time.Time) {
	for k, exp := range m.entries {
		if !now.Before(exp) {
			delete(m.entries, k)
		}
	}
}
