package cache

import (
	"context"
	"sync"
	"time"
)

type memoryItem struct {
	entry     Entry
	expiresAt time.Time
}

// MemoryStore is a process-local Store. Expired items are removed lazily on
// read and in bulk by Sweep.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryItem), now: time.Now}
}

// WithClock replaces the time source, for tests.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	m.mu.RLock()
	item, ok := m.items[key]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	if !m.now().Before(item.expiresAt) {
		m.mu.Lock()
		if cur, ok := m.items[key]; ok && cur.expiresAt.Equal(item.expiresAt) {
			delete(m.items, key)
		}
		m.mu.Unlock()
		return nil, nil
	}
	e := item.entry
	return &e, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, entry Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	m.mu.Lock()
	m.items[key] = memoryItem{entry: entry, expiresAt: m.now().Add(ttl)}
	m.mu.Unlock()
	return nil
}

// Sweep deletes every expired item and returns how many were removed.
func (m *MemoryStore) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, item := range m.items {
		if !now.Before(item.expiresAt) {
			delete(m.items, k)
			n++
		}
	}
	return n
}

// Len returns the number of stored items, expired or not.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// RunSweeper calls Sweep every interval until ctx ends.
func (m *MemoryStore) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *MemoryStore) Close() error { return nil }
