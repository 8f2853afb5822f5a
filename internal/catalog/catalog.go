// Package catalog stores bibliographic entries keyed by vendor identifier.
// Scalar fields are replaced wholesale on each upsert, which is what makes
// re-applying a vendor change batch safe.
package catalog

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when an entry does not exist.
var ErrNotFound = errors.New("catalog entry not found")

// Entry is one catalog title within a collection.
type Entry struct {
	Identifier   string
	CollectionID string
	Title        string
	Author       string
	Medium       string
	UpdatedAt    time.Time
}

// Store persists catalog entries.
type Store interface {
	// Upsert creates or replaces the entry for (collection, identifier).
	Upsert(ctx context.Context, entry Entry) error

	// Remove deletes the entry for (collection, identifier). Removing a
	// missing entry is not an error.
	Remove(ctx context.Context, collectionID, identifier string) error

	// Get returns the entry for (collection, identifier).
	Get(ctx context.Context, collectionID, identifier string) (Entry, error)

	// Count returns the number of entries in a collection.
	Count(ctx context.Context, collectionID string) (int, error)
}
