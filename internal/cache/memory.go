package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process cache. Suitable for single-shot CLI runs and
// tests; serve mode usually wants the SQLite or Postgres backend.
type Memory struct {
	ttls TTLs

	mu      sync.RWMutex
	entries map[string]memoryEntry

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

type memoryEntry struct {
	val       []byte
	expiresAt time.Time
}

// NewMemory creates an in-memory cache.
func NewMemory(ttls TTLs) *Memory {
	return &Memory{
		ttls:    ttls,
		entries: make(map[string]memoryEntry),
		nowFunc: time.Now,
	}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok || m.nowFunc().After(e.expiresAt) {
		return nil, false, nil
	}
	return e.val, true, nil
}

// Set implements Cache.
func (m *Memory) Set(_ context.Context, key string, val []byte, tier TTLTier) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{
		val:       val,
		expiresAt: m.nowFunc().Add(m.ttls.For(tier)),
	}
	return nil
}

// Close implements Cache.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]memoryEntry)
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (m *Memory) Sweep() int {
	now := m.nowFunc()
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}
