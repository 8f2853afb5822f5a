package pool

import (
	"context"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

const defaultReapParallelism = 8

// ReapResult summarizes one reaping sweep.
type ReapResult struct {
	PoolsSwept    int
	LoansExpired  int
	HoldsCanceled int
}

// Reaper reclaims capacity from expired loans and lapsed reservations.
// There is no global lock: each pool's reap step is independent and pools
// are swept in parallel, serialized only per pool.
type Reaper struct {
	svc         *Service
	parallelism int
}

// NewReaper creates a reaper over the given pool service.
func NewReaper(svc *Service, parallelism int) *Reaper {
	if parallelism <= 0 {
		parallelism = defaultReapParallelism
	}
	return &Reaper{svc: svc, parallelism: parallelism}
}

// Reap sweeps every pool in the collection (every pool everywhere when
// collectionID is empty).
func (r *Reaper) Reap(ctx context.Context, collectionID string) (ReapResult, error) {
	ids, err := r.svc.store.List(ctx, collectionID)
	if err != nil {
		return ReapResult{}, err
	}

	var loansExpired, holdsCanceled atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for _, id := range ids {
		g.Go(func() error {
			loans, holds, err := r.ReapPool(gctx, id)
			if err != nil {
				return err
			}
			loansExpired.Add(int64(loans))
			holdsCanceled.Add(int64(holds))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ReapResult{}, err
	}

	result := ReapResult{
		PoolsSwept:    len(ids),
		LoansExpired:  int(loansExpired.Load()),
		HoldsCanceled: int(holdsCanceled.Load()),
	}
	if result.LoansExpired > 0 || result.HoldsCanceled > 0 {
		slog.Info("Reap sweep finished",
			"collection", collectionID,
			"pools", result.PoolsSwept,
			"loans_expired", result.LoansExpired,
			"holds_canceled", result.HoldsCanceled)
	}
	return result, nil
}

// ReapPool expires due loans and lapsed reservations on one pool.
// Each expired loan is released as if returned; each lapsed reservation
// is cancelled and its copy handed to the next hold in the queue. A hold
// promoted during this sweep gets a fresh reservation window and is dealt
// with on a later cycle if it too goes unclaimed.
func (r *Reaper) ReapPool(ctx context.Context, id ID) (loansExpired, holdsCanceled int, err error) {
	var promoted []Hold
	err = r.svc.store.Mutate(ctx, id, func(p *LicensePool) error {
		// The store may re-run this on a write conflict.
		loansExpired, holdsCanceled = 0, 0
		promoted = promoted[:0]

		now := r.svc.clk.Now()

		// Expired loans first: each release may promote a hold.
		var dueLoans []string
		for i := range p.Loans {
			if !p.Loans[i].ExpiresAt.After(now) {
				dueLoans = append(dueLoans, p.Loans[i].ID)
			}
		}
		for _, loanID := range dueLoans {
			promoted = append(promoted, r.svc.releaseLoan(p, loanID, id.CollectionID)...)
			loansExpired++
		}

		// Lapsed reservations: cancel and pass the copy onward.
		for {
			var lapsed *Hold
			for i := range p.Holds {
				h := &p.Holds[i]
				if h.Reserved() && !h.ReservationExpiresAt.After(now) {
					lapsed = h
					break
				}
			}
			if lapsed == nil {
				break
			}
			p.removeHold(lapsed.ID)
			holdsCanceled++
			promoted = append(promoted, r.svc.reassignEarmark(p, id.CollectionID)...)
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	r.svc.notifyPromoted(ctx, id, promoted)
	return loansExpired, holdsCanceled, nil
}
