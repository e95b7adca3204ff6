package snapshot

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for tests and ephemeral runs
type MemoryStore struct {
	mu       sync.RWMutex
	versions map[Key][]Snapshot
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{versions: make(map[Key][]Snapshot)}
}

// Get returns the freshest snapshot for the key, or (nil, nil) on a miss
func (m *MemoryStore) Get(_ context.Context, key Key) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snaps := m.versions[key]
	if len(snaps) == 0 {
		return nil, nil
	}
	// Versions are appended in fetch order; the last one is freshest
	snap := snaps[len(snaps)-1]
	return &snap, nil
}

// Put appends a new snapshot version
func (m *MemoryStore) Put(_ context.Context, key Key, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(payload))
	copy(stored, payload)
	m.versions[key] = append(m.versions[key], Snapshot{
		Key:       key,
		Payload:   stored,
		FetchedAt: time.Now().UTC(),
	})
	return nil
}

// HasRepo reports whether any snapshot exists for the repository
func (m *MemoryStore) HasRepo(_ context.Context, repo string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for key, snaps := range m.versions {
		if key.Repo == repo && len(snaps) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// Keys returns every stored key, in no particular order
func (m *MemoryStore) Keys() []Key {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]Key, 0, len(m.versions))
	for key := range m.versions {
		keys = append(keys, key)
	}
	return keys
}

// Close is a no-op for the in-memory store
func (m *MemoryStore) Close() error {
	return nil
}
