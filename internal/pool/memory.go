package pool

import (
	"context"
	"sort"
	"sync"
)

// memoryStore keeps pools in process memory with one lock per pool, so
// mutations on different pools proceed in parallel.
type memoryStore struct {
	mu    sync.RWMutex
	pools map[ID]*lockedPool
}

type lockedPool struct {
	mu   sync.Mutex
	pool LicensePool
}

// NewMemoryStore creates an in-memory pool store.
func NewMemoryStore() Store {
	return &memoryStore{
		pools: make(map[ID]*lockedPool),
	}
}

func (m *memoryStore) Ensure(_ context.Context, id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pools[id]; !ok {
		m.pools[id] = &lockedPool{pool: LicensePool{ID: id}}
	}
	return nil
}

func (m *memoryStore) Get(_ context.Context, id ID) (LicensePool, error) {
	m.mu.RLock()
	entry, ok := m.pools[id]
	m.mu.RUnlock()
	if !ok {
		return LicensePool{}, ErrPoolNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return clonePool(&entry.pool), nil
}

func (m *memoryStore) Mutate(_ context.Context, id ID, fn func(p *LicensePool) error) error {
	m.mu.RLock()
	entry, ok := m.pools[id]
	m.mu.RUnlock()
	if !ok {
		return ErrPoolNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	// Work on a copy so a failing fn leaves the pool untouched.
	working := clonePool(&entry.pool)
	if err := fn(&working); err != nil {
		return err
	}
	entry.pool = working
	return nil
}

func (m *memoryStore) List(_ context.Context, collectionID string) ([]ID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var ids []ID
	for id := range m.pools {
		if collectionID == "" || id.CollectionID == collectionID {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		if ids[i].CollectionID != ids[j].CollectionID {
			return ids[i].CollectionID < ids[j].CollectionID
		}
		return ids[i].TitleID < ids[j].TitleID
	})
	return ids, nil
}

func (m *memoryStore) Remove(_ context.Context, id ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.pools, id)
	return nil
}

func clonePool(p *LicensePool) LicensePool {
	clone := *p
	clone.Loans = make([]Loan, len(p.Loans))
	copy(clone.Loans, p.Loans)
	clone.Holds = make([]Hold, len(p.Holds))
	for i, h := range p.Holds {
		if h.ReservedAt != nil {
			at := *h.ReservedAt
			h.ReservedAt = &at
		}
		if h.ReservationExpiresAt != nil {
			at := *h.ReservationExpiresAt
			h.ReservationExpiresAt = &at
		}
		clone.Holds[i] = h
	}
	return clone
}
