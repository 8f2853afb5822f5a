// Package pool models per-title license inventory: owned and available
// copies, active loans, and the FIFO hold queue. The pool is the system of
// record for inventory; vendor-reported counts only enter through the
// monitor's reconciling apply step.
package pool

import (
	"errors"
	"time"
)

// Pool errors surfaced to callers.
var (
	// ErrPoolNotFound is returned when a pool does not exist.
	ErrPoolNotFound = errors.New("license pool not found")

	// ErrNoAvailableCopy is returned by AcquireLoan when every copy is
	// out; the caller's recourse is to place a hold.
	ErrNoAvailableCopy = errors.New("no available copy")

	// ErrPatronBusy is returned when the patron already has a loan or
	// hold on the pool.
	ErrPatronBusy = errors.New("patron already has a loan or hold on this pool")

	// ErrLoanNotFound is returned when the patron has no active loan.
	ErrLoanNotFound = errors.New("loan not found")

	// ErrHoldNotFound is returned when the patron has no hold.
	ErrHoldNotFound = errors.New("hold not found")

	// ErrHoldNotReserved is returned when converting a hold that has
	// not been promoted to a reservation.
	ErrHoldNotReserved = errors.New("hold is not reserved")

	// ErrReservationExpired is returned when converting a reservation
	// past its window.
	ErrReservationExpired = errors.New("hold reservation has expired")

	// ErrConflict is returned by stores when a concurrent modification
	// was detected and retries were exhausted.
	ErrConflict = errors.New("concurrent pool modification")
)

// ID identifies a license pool by collection and title.
type ID struct {
	CollectionID string
	TitleID      string
}

// Loan is an active checkout of one copy by a patron.
type Loan struct {
	ID        string
	PatronID  string
	StartedAt time.Time
	ExpiresAt time.Time
}

// Hold is a patron's queued request for a copy. A promoted hold carries a
// reservation: a time-boxed right to convert to a loan.
type Hold struct {
	ID       string
	PatronID string

	// Position is strictly increasing per pool by arrival order and is
	// never renumbered; cancellation just removes the entry.
	Position int

	PlacedAt time.Time

	// ReservedAt and ReservationExpiresAt are set when the hold is
	// promoted. An unconverted reservation is cancelled at expiry.
	ReservedAt           *time.Time
	ReservationExpiresAt *time.Time
}

// Reserved reports whether the hold has been promoted to a reservation.
func (h *Hold) Reserved() bool {
	return h.ReservedAt != nil
}

// LicensePool is the inventory of one title within one collection.
//
// Outside an in-flight mutation,
// CopiesAvailable + len(Loans) + reserved holds == CopiesOwned,
// and CopiesAvailable >= 0.
type LicensePool struct {
	ID              ID
	CopiesOwned     int
	CopiesAvailable int
	Loans           []Loan
	Holds           []Hold
}

// ReservedHolds counts holds currently promoted to reservations.
func (p *LicensePool) ReservedHolds() int {
	count := 0
	for i := range p.Holds {
		if p.Holds[i].Reserved() {
			count++
		}
	}
	return count
}

// LoanFor returns the patron's active loan, if any.
func (p *LicensePool) LoanFor(patronID string) *Loan {
	for i := range p.Loans {
		if p.Loans[i].PatronID == patronID {
			return &p.Loans[i]
		}
	}
	return nil
}

// HoldFor returns the patron's hold, if any.
func (p *LicensePool) HoldFor(patronID string) *Hold {
	for i := range p.Holds {
		if p.Holds[i].PatronID == patronID {
			return &p.Holds[i]
		}
	}
	return nil
}

// nextWaitingHold returns the waiting (non-reserved) hold with the lowest
// position, or nil if none are waiting.
func (p *LicensePool) nextWaitingHold() *Hold {
	var next *Hold
	for i := range p.Holds {
		h := &p.Holds[i]
		if h.Reserved() {
			continue
		}
		if next == nil || h.Position < next.Position {
			next = h
		}
	}
	return next
}

// maxHoldPosition returns the highest position currently in the queue.
func (p *LicensePool) maxHoldPosition() int {
	max := 0
	for i := range p.Holds {
		if p.Holds[i].Position > max {
			max = p.Holds[i].Position
		}
	}
	return max
}

// removeHold deletes the hold with the given ID, preserving the order of
// the remaining entries.
func (p *LicensePool) removeHold(holdID string) {
	for i := range p.Holds {
		if p.Holds[i].ID == holdID {
			p.Holds = append(p.Holds[:i], p.Holds[i+1:]...)
			return
		}
	}
}

// removeLoan deletes the loan with the given ID.
func (p *LicensePool) removeLoan(loanID string) {
	for i := range p.Loans {
		if p.Loans[i].ID == loanID {
			p.Loans = append(p.Loans[:i], p.Loans[i+1:]...)
			return
		}
	}
}

// SetOwned reconciles the owned-copy count reported by the vendor with
// outstanding commitments. Availability is derived, never vendor-reported:
// owned minus loans minus reservations, floored at zero when the vendor
// shrinks a pool below what is already committed.
func (p *LicensePool) SetOwned(owned int) {
	if owned < 0 {
		owned = 0
	}
	p.CopiesOwned = owned
	available := owned - len(p.Loans) - p.ReservedHolds()
	if available < 0 {
		available = 0
	}
	p.CopiesAvailable = available
}
