package coverage

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryLedger struct {
	mu      sync.RWMutex
	records map[memoryKey]Record
}

type memoryKey struct {
	identifier   string
	coverageType string
}

// NewMemoryLedger creates an in-memory coverage ledger.
func NewMemoryLedger() Ledger {
	return &memoryLedger{
		records: make(map[memoryKey]Record),
	}
}

func (m *memoryLedger) Register(_ context.Context, identifier, coverageType string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey{identifier, coverageType}
	if _, ok := m.records[key]; ok {
		return nil
	}
	m.records[key] = Record{
		Identifier:   identifier,
		CoverageType: coverageType,
		Status:       StatusPending,
		UpdatedAt:    now,
	}
	return nil
}

func (m *memoryLedger) Get(_ context.Context, identifier, coverageType string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[memoryKey{identifier, coverageType}]
	if !ok {
		return Record{}, ErrNotFound
	}
	return record, nil
}

func (m *memoryLedger) Update(_ context.Context, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey{record.Identifier, record.CoverageType}
	if _, ok := m.records[key]; !ok {
		return ErrNotFound
	}
	m.records[key] = record
	return nil
}

func (m *memoryLedger) NeedingCoverage(_ context.Context, coverageType string, maxAttempts, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var selected []Record
	for key, record := range m.records {
		if key.coverageType != coverageType {
			continue
		}
		if needsAttempt(record, maxAttempts) {
			selected = append(selected, record)
		}
	}

	sort.Slice(selected, func(i, j int) bool {
		if !selected[i].UpdatedAt.Equal(selected[j].UpdatedAt) {
			return selected[i].UpdatedAt.Before(selected[j].UpdatedAt)
		}
		return selected[i].Identifier < selected[j].Identifier
	})

	if limit > 0 && len(selected) > limit {
		selected = selected[:limit]
	}
	return selected, nil
}

func (m *memoryLedger) ForceRefresh(_ context.Context, identifier, coverageType string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := memoryKey{identifier, coverageType}
	record, ok := m.records[key]
	if !ok {
		return ErrNotFound
	}
	record.Status = StatusPending
	record.AttemptCount = 0
	record.ExceptionDetail = ""
	record.UpdatedAt = now
	m.records[key] = record
	return nil
}

func needsAttempt(record Record, maxAttempts int) bool {
	switch record.Status {
	case StatusPending:
		return true
	case StatusTransientFailure:
		return record.AttemptCount < maxAttempts
	default:
		return false
	}
}
