package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSetOwned(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	reserved := func() Hold {
		expires := now.Add(72 * time.Hour)
		return Hold{ID: "h1", PatronID: "p2", Position: 1, PlacedAt: now,
			ReservedAt: &now, ReservationExpiresAt: &expires}
	}

	tests := []struct {
		name          string
		pool          LicensePool
		owned         int
		wantOwned     int
		wantAvailable int
	}{
		{
			name:          "growth adds availability",
			pool:          LicensePool{CopiesOwned: 2, CopiesAvailable: 1, Loans: []Loan{{ID: "l1", PatronID: "p1"}}},
			owned:         5,
			wantOwned:     5,
			wantAvailable: 4,
		},
		{
			name:          "shrink below commitments floors at zero",
			pool:          LicensePool{CopiesOwned: 3, CopiesAvailable: 1, Loans: []Loan{{ID: "l1", PatronID: "p1"}}, Holds: []Hold{reserved()}},
			owned:         1,
			wantOwned:     1,
			wantAvailable: 0,
		},
		{
			name:          "reserved holds count as commitments",
			pool:          LicensePool{CopiesOwned: 2, CopiesAvailable: 1, Holds: []Hold{reserved()}},
			owned:         2,
			wantOwned:     2,
			wantAvailable: 1,
		},
		{
			name:          "waiting holds do not",
			pool:          LicensePool{CopiesOwned: 1, CopiesAvailable: 1, Holds: []Hold{{ID: "h2", PatronID: "p3", Position: 2, PlacedAt: now}}},
			owned:         1,
			wantOwned:     1,
			wantAvailable: 1,
		},
		{
			name:          "negative owned is clamped",
			pool:          LicensePool{CopiesOwned: 2, CopiesAvailable: 2},
			owned:         -4,
			wantOwned:     0,
			wantAvailable: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			p := tt.pool
			p.SetOwned(tt.owned)
			assert.Equal(t, tt.wantOwned, p.CopiesOwned)
			assert.Equal(t, tt.wantAvailable, p.CopiesAvailable)
		})
	}
}

func TestNextWaitingHoldSkipsReservations(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	expires := now.Add(time.Hour)
	p := LicensePool{Holds: []Hold{
		{ID: "h1", PatronID: "p1", Position: 1, ReservedAt: &now, ReservationExpiresAt: &expires},
		{ID: "h3", PatronID: "p3", Position: 3},
		{ID: "h2", PatronID: "p2", Position: 2},
	}}

	next := p.nextWaitingHold()
	assert.Equal(t, "h2", next.ID)
}

func TestMaxHoldPositionNeverRenumbers(t *testing.T) {
	t.Parallel()

	p := LicensePool{Holds: []Hold{
		{ID: "h1", Position: 1},
		{ID: "h2", Position: 2},
		{ID: "h3", Position: 3},
	}}

	// Cancelling the middle hold leaves a gap; the next arrival still
	// queues behind the highest position ever issued.
	p.removeHold("h2")
	assert.Equal(t, 3, p.maxHoldPosition())
	assert.Len(t, p.Holds, 2)
}
