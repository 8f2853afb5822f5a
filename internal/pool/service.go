package pool

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/circlib/circulation-server/internal/clock"
)

// Policy holds the circulation durations for one collection.
type Policy struct {
	LoanPeriod        time.Duration
	ReservationWindow time.Duration
}

// PolicyResolver returns the circulation policy for a collection. The
// reservation window is deliberately per collection, not global.
type PolicyResolver interface {
	PolicyFor(collectionID string) Policy
}

// PolicyResolverFunc adapts a function to the PolicyResolver interface.
type PolicyResolverFunc func(collectionID string) Policy

// PolicyFor implements PolicyResolver.
func (f PolicyResolverFunc) PolicyFor(collectionID string) Policy {
	return f(collectionID)
}

// Notifier is told when a patron's hold becomes a reservation. A failed
// notification never rolls back the promotion.
type Notifier interface {
	HoldReady(ctx context.Context, patronID string, id ID)
}

// NopNotifier discards hold-ready notifications.
type NopNotifier struct{}

// HoldReady implements Notifier.
func (NopNotifier) HoldReady(context.Context, string, ID) {}

// Service implements the allocation operations on license pools. Every
// operation is a single atomic mutation of one pool; no vendor I/O ever
// happens while the pool is held.
type Service struct {
	store    Store
	clk      clock.Clock
	policies PolicyResolver
	notifier Notifier
}

// NewService creates a pool service.
func NewService(store Store, clk clock.Clock, policies PolicyResolver, notifier Notifier) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{
		store:    store,
		clk:      clk,
		policies: policies,
		notifier: notifier,
	}
}

// Store exposes the underlying pool store for read-side callers.
func (s *Service) Store() Store {
	return s.store
}

// AcquireLoan checks out one copy to the patron. It fails with
// ErrNoAvailableCopy when every copy is out and with ErrPatronBusy when
// the patron already has a loan or hold on the pool.
func (s *Service) AcquireLoan(ctx context.Context, id ID, patronID string) (Loan, error) {
	var loan Loan
	err := s.store.Mutate(ctx, id, func(p *LicensePool) error {
		if p.LoanFor(patronID) != nil || p.HoldFor(patronID) != nil {
			return ErrPatronBusy
		}
		if p.CopiesAvailable <= 0 {
			return ErrNoAvailableCopy
		}

		now := s.clk.Now()
		loan = Loan{
			ID:        uuid.NewString(),
			PatronID:  patronID,
			StartedAt: now,
			ExpiresAt: now.Add(s.policies.PolicyFor(id.CollectionID).LoanPeriod),
		}
		p.CopiesAvailable--
		p.Loans = append(p.Loans, loan)
		return nil
	})
	if err != nil {
		return Loan{}, err
	}
	return loan, nil
}

// PlaceHold queues the patron for the next free copy. The new hold's
// position is one past the highest position currently in the queue.
func (s *Service) PlaceHold(ctx context.Context, id ID, patronID string) (Hold, error) {
	var hold Hold
	err := s.store.Mutate(ctx, id, func(p *LicensePool) error {
		if p.LoanFor(patronID) != nil || p.HoldFor(patronID) != nil {
			return ErrPatronBusy
		}

		hold = Hold{
			ID:       uuid.NewString(),
			PatronID: patronID,
			Position: p.maxHoldPosition() + 1,
			PlacedAt: s.clk.Now(),
		}
		p.Holds = append(p.Holds, hold)
		return nil
	})
	if err != nil {
		return Hold{}, err
	}
	return hold, nil
}

// ReleaseLoan returns the patron's copy. If patrons are waiting, the
// lowest-position hold is promoted to a reservation and the copy stays
// earmarked; otherwise the copy becomes available again.
func (s *Service) ReleaseLoan(ctx context.Context, id ID, patronID string) error {
	var promoted []Hold
	err := s.store.Mutate(ctx, id, func(p *LicensePool) error {
		loan := p.LoanFor(patronID)
		if loan == nil {
			return ErrLoanNotFound
		}
		promoted = s.releaseLoan(p, loan.ID, id.CollectionID)
		return nil
	})
	if err != nil {
		return err
	}
	s.notifyPromoted(ctx, id, promoted)
	return nil
}

// ConvertHold turns the patron's unexpired reservation into a loan,
// consuming the earmarked copy.
func (s *Service) ConvertHold(ctx context.Context, id ID, patronID string) (Loan, error) {
	var loan Loan
	err := s.store.Mutate(ctx, id, func(p *LicensePool) error {
		hold := p.HoldFor(patronID)
		if hold == nil {
			return ErrHoldNotFound
		}
		if !hold.Reserved() {
			return ErrHoldNotReserved
		}
		now := s.clk.Now()
		if !now.Before(*hold.ReservationExpiresAt) {
			return ErrReservationExpired
		}

		loan = Loan{
			ID:        uuid.NewString(),
			PatronID:  patronID,
			StartedAt: now,
			ExpiresAt: now.Add(s.policies.PolicyFor(id.CollectionID).LoanPeriod),
		}
		p.removeHold(hold.ID)
		p.Loans = append(p.Loans, loan)
		return nil
	})
	if err != nil {
		return Loan{}, err
	}
	return loan, nil
}

// CancelHold withdraws the patron's hold. Cancelling a reservation frees
// the earmarked copy: the next waiting hold is promoted, or the copy
// becomes available.
func (s *Service) CancelHold(ctx context.Context, id ID, patronID string) error {
	var promoted []Hold
	err := s.store.Mutate(ctx, id, func(p *LicensePool) error {
		hold := p.HoldFor(patronID)
		if hold == nil {
			return ErrHoldNotFound
		}
		wasReserved := hold.Reserved()
		p.removeHold(hold.ID)
		if wasReserved {
			promoted = s.reassignEarmark(p, id.CollectionID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.notifyPromoted(ctx, id, promoted)
	return nil
}

// releaseLoan removes the loan and hands its copy onward. Returns any
// holds promoted in the process.
func (s *Service) releaseLoan(p *LicensePool, loanID, collectionID string) []Hold {
	p.removeLoan(loanID)
	return s.reassignEarmark(p, collectionID)
}

// reassignEarmark gives a freed copy to the lowest-position waiting hold
// as a reservation, or returns it to the available count.
func (s *Service) reassignEarmark(p *LicensePool, collectionID string) []Hold {
	next := p.nextWaitingHold()
	if next == nil {
		p.CopiesAvailable++
		return nil
	}

	now := s.clk.Now()
	expires := now.Add(s.policies.PolicyFor(collectionID).ReservationWindow)
	next.ReservedAt = &now
	next.ReservationExpiresAt = &expires
	return []Hold{*next}
}

// notifyPromoted tells patrons their reservation is ready. Runs after the
// mutation has committed; failures are the notifier's problem.
func (s *Service) notifyPromoted(ctx context.Context, id ID, promoted []Hold) {
	for _, hold := range promoted {
		s.notifier.HoldReady(ctx, hold.PatronID, id)
		slog.Debug("Hold promoted to reservation",
			"collection", id.CollectionID,
			"title", id.TitleID,
			"patron", hold.PatronID,
			"position", hold.Position)
	}
}
