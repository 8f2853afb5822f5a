package pool

import "context"

// Store persists license pools and provides the per-pool atomic
// read-modify-write that every allocation operation runs under.
type Store interface {
	// Ensure creates an empty pool for the ID if none exists.
	Ensure(ctx context.Context, id ID) error

	// Get returns a snapshot of the pool.
	Get(ctx context.Context, id ID) (LicensePool, error)

	// Mutate loads the pool, applies fn under per-pool exclusivity, and
	// persists the result if fn returns nil. An error from fn aborts
	// the mutation and is returned unchanged. Implementations retry
	// detected write conflicts internally and return ErrConflict only
	// once retries are exhausted.
	Mutate(ctx context.Context, id ID, fn func(p *LicensePool) error) error

	// List returns the IDs of all pools in a collection, or of every
	// pool when collectionID is empty.
	List(ctx context.Context, collectionID string) ([]ID, error)

	// Remove deletes the pool. Removing a missing pool is not an error.
	Remove(ctx context.Context, id ID) error
}
