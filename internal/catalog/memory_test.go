package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	updated := time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC)

	_, err := store.Get(ctx, "main", "b1")
	assert.ErrorIs(t, err, ErrNotFound)

	entry := Entry{
		Identifier:   "b1",
		CollectionID: "main",
		Title:        "The Left Hand of Darkness",
		Author:       "Ursula K. Le Guin",
		Medium:       "ebook",
		UpdatedAt:    updated,
	}
	require.NoError(t, store.Upsert(ctx, entry))

	got, err := store.Get(ctx, "main", "b1")
	require.NoError(t, err)
	assert.Equal(t, entry, got)

	// Upsert replaces scalar fields wholesale.
	entry.Title = "The Dispossessed"
	entry.UpdatedAt = updated.Add(time.Hour)
	require.NoError(t, store.Upsert(ctx, entry))
	got, err = store.Get(ctx, "main", "b1")
	require.NoError(t, err)
	assert.Equal(t, "The Dispossessed", got.Title)

	// The same identifier in another collection is a distinct entry.
	other := entry
	other.CollectionID = "branch"
	require.NoError(t, store.Upsert(ctx, other))

	count, err := store.Count(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	require.NoError(t, store.Remove(ctx, "main", "b1"))
	_, err = store.Get(ctx, "main", "b1")
	assert.ErrorIs(t, err, ErrNotFound)

	// Removing an absent entry is a no-op.
	assert.NoError(t, store.Remove(ctx, "main", "b1"))

	count, err = store.Count(ctx, "branch")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
