package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circlib/circulation-server/internal/clock"
)

func TestReapExpiresDueLoans(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, clk, notifier, id := newTestService(t, 1)
	reaper := NewReaper(svc, 2)

	_, err := svc.AcquireLoan(ctx, id, "reader")
	require.NoError(t, err)
	_, err = svc.PlaceHold(ctx, id, "patron-a")
	require.NoError(t, err)

	// Nothing is due yet.
	result, err := reaper.Reap(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, 0, result.LoansExpired)

	clk.Advance(testPolicy.LoanPeriod)

	result, err = reaper.Reap(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, 1, result.LoansExpired)
	assert.Equal(t, 0, result.HoldsCanceled)
	assert.Equal(t, 1, result.PoolsSwept)

	// The reclaimed copy went to the waiting hold.
	p, err := svc.Store().Get(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, p.Loans)
	holdA := p.HoldFor("patron-a")
	require.NotNil(t, holdA)
	assert.True(t, holdA.Reserved())
	assert.Equal(t, []string{"patron-a"}, notifier.notified())
	assertInvariant(t, svc, id)
}

func TestReapCancelsLapsedReservations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	svc, clk, notifier, id := newTestService(t, 1)
	reaper := NewReaper(svc, 2)

	_, err := svc.AcquireLoan(ctx, id, "reader")
	require.NoError(t, err)
	_, err = svc.PlaceHold(ctx, id, "patron-a")
	require.NoError(t, err)
	_, err = svc.PlaceHold(ctx, id, "patron-b")
	require.NoError(t, err)
	require.NoError(t, svc.ReleaseLoan(ctx, id, "reader"))

	// patron-a never converts; the window lapses.
	clk.Advance(testPolicy.ReservationWindow)

	result, err := reaper.Reap(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, 1, result.HoldsCanceled)

	// The copy moved to patron-b with a fresh window, to be dealt with
	// on a later cycle if unclaimed.
	p, err := svc.Store().Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, p.HoldFor("patron-a"))
	holdB := p.HoldFor("patron-b")
	require.NotNil(t, holdB)
	assert.True(t, holdB.Reserved())
	assert.Equal(t, clk.Now().Add(testPolicy.ReservationWindow), *holdB.ReservationExpiresAt)
	assert.Equal(t, []string{"patron-a", "patron-b"}, notifier.notified())
	assertInvariant(t, svc, id)

	// Last hold lapses too: the copy finally returns to the shelf.
	clk.Advance(testPolicy.ReservationWindow)
	result, err = reaper.Reap(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, 1, result.HoldsCanceled)

	p, err = svc.Store().Get(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, p.Holds)
	assert.Equal(t, 1, p.CopiesAvailable)
}

func TestReapFiltersByCollection(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clk := clock.NewFixed(time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC))
	store := NewMemoryStore()
	svc := NewService(store, clk,
		PolicyResolverFunc(func(string) Policy { return testPolicy }), nil)
	reaper := NewReaper(svc, 4)

	for _, id := range []ID{
		{CollectionID: "east", TitleID: "t1"},
		{CollectionID: "east", TitleID: "t2"},
		{CollectionID: "west", TitleID: "t1"},
	} {
		require.NoError(t, store.Ensure(ctx, id))
		require.NoError(t, store.Mutate(ctx, id, func(p *LicensePool) error {
			p.SetOwned(1)
			return nil
		}))
		_, err := svc.AcquireLoan(ctx, id, "reader")
		require.NoError(t, err)
	}

	clk.Advance(testPolicy.LoanPeriod)

	result, err := reaper.Reap(ctx, "east")
	require.NoError(t, err)
	assert.Equal(t, 2, result.PoolsSwept)
	assert.Equal(t, 2, result.LoansExpired)

	// The west loan is untouched.
	p, err := store.Get(ctx, ID{CollectionID: "west", TitleID: "t1"})
	require.NoError(t, err)
	assert.Len(t, p.Loans, 1)

	// An empty collection ID sweeps everything.
	result, err = reaper.Reap(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 3, result.PoolsSwept)
	assert.Equal(t, 1, result.LoansExpired)
}
