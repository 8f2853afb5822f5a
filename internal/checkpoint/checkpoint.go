// Package checkpoint persists, per (monitor kind, collection), the cursor
// of the last successfully committed sync batch.
package checkpoint

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// ErrNotFound is returned when no checkpoint exists for a key.
var ErrNotFound = errors.New("checkpoint not found")

// ErrCorrupt is returned when a stored checkpoint cannot be read. Monitors
// treat this as "start from the beginning" rather than failing the run.
var ErrCorrupt = errors.New("checkpoint corrupt")

// ErrCursorRegression is returned when an advance would move a cursor
// backwards. Cursors only move forward except through an explicit Reset.
var ErrCursorRegression = errors.New("cursor regression")

// Checkpoint marks how far a monitor has synchronized a collection.
type Checkpoint struct {
	MonitorKind   string
	CollectionID  string
	Cursor        string
	LastSuccessAt time.Time
}

// Store persists checkpoints keyed by (monitor kind, collection).
type Store interface {
	// Load returns the checkpoint for the key, or ErrNotFound.
	Load(ctx context.Context, kind, collectionID string) (Checkpoint, error)

	// Advance moves the cursor forward and records the success time.
	// It creates the checkpoint on first use and returns
	// ErrCursorRegression if the new cursor compares lower than the
	// stored one.
	Advance(ctx context.Context, kind, collectionID, cursor string, at time.Time) error

	// Reset removes the checkpoint so the next run performs a full
	// resync. This is an explicit operator action.
	Reset(ctx context.Context, kind, collectionID string) error
}

// CompareCursors orders two cursors. Cursors that both parse as integers
// are compared numerically; anything else falls back to lexicographic
// order. An empty cursor sorts before everything.
func CompareCursors(a, b string) int {
	if a == b {
		return 0
	}
	if a == "" {
		return -1
	}
	if b == "" {
		return 1
	}
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	}
	if a < b {
		return -1
	}
	return 1
}
