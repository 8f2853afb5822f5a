package catalog

import (
	"context"
	"sync"
)

type memoryStore struct {
	mu      sync.RWMutex
	entries map[memoryKey]Entry
}

type memoryKey struct {
	collectionID string
	identifier   string
}

// NewMemoryStore creates an in-memory catalog store.
func NewMemoryStore() Store {
	return &memoryStore{
		entries: make(map[memoryKey]Entry),
	}
}

func (m *memoryStore) Upsert(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[memoryKey{entry.CollectionID, entry.Identifier}] = entry
	return nil
}

func (m *memoryStore) Remove(_ context.Context, collectionID, identifier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, memoryKey{collectionID, identifier})
	return nil
}

func (m *memoryStore) Get(_ context.Context, collectionID, identifier string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.entries[memoryKey{collectionID, identifier}]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

func (m *memoryStore) Count(_ context.Context, collectionID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for key := range m.entries {
		if key.collectionID == collectionID {
			count++
		}
	}
	return count, nil
}
