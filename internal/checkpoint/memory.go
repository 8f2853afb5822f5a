package checkpoint

import (
	"context"
	"sync"
	"time"
)

type memoryStore struct {
	mu          sync.RWMutex
	checkpoints map[memoryKey]Checkpoint
}

type memoryKey struct {
	kind         string
	collectionID string
}

// NewMemoryStore creates an in-memory checkpoint store. Intended for
// tests and single-process development runs.
func NewMemoryStore() Store {
	return &memoryStore{
		checkpoints: make(map[memoryKey]Checkpoint),
	}
}

func (m *memoryStore) Load(_ context.Context, kind, collectionID string) (Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp, ok := m.checkpoints[memoryKey{kind, collectionID}]
	if !ok {
		return Checkpoint{}, ErrNotFound
	}
	return cp, nil
}

func (m *memoryStore) Advance(_ context.Context, kind, collectionID, cursor string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey{kind, collectionID}
	if existing, ok := m.checkpoints[key]; ok {
		if CompareCursors(cursor, existing.Cursor) < 0 {
			return ErrCursorRegression
		}
	}
	m.checkpoints[key] = Checkpoint{
		MonitorKind:   kind,
		CollectionID:  collectionID,
		Cursor:        cursor,
		LastSuccessAt: at,
	}
	return nil
}

func (m *memoryStore) Reset(_ context.Context, kind, collectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.checkpoints, memoryKey{kind, collectionID})
	return nil
}
