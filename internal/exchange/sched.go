package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coincross/exchange/internal/metrics"
	"github.com/coincross/exchange/internal/store"
)

// Scheduler serializes every write transaction into a single-writer queue:
// at most one is open across the process at any instant. The matching
// algorithm's read-then-write sequences (best bid/ask, candidate scan,
// reservations) must not interleave with other writers, and row locks alone
// cannot protect a scan that spans rows. Mutual exclusion is the contract;
// strict FIFO ordering is not.
type Scheduler struct {
	store store.Store
	sem   chan struct{}
}

// NewScheduler creates a scheduler over the given store.
func NewScheduler(st store.Store) *Scheduler {
	return &Scheduler{store: st, sem: make(chan struct{}, 1)}
}

// RunInTx admits the caller to the critical section, opens a transaction,
// and runs fn inside it. The transaction commits when fn returns nil or an
// error matching one of commitOn (benign outcomes whose side effects — e.g.
// candidate cancellations — must persist); anything else rolls back. fn's
// error is always returned to the caller.
func (s *Scheduler) RunInTx(ctx context.Context, fn func(tx store.Tx) error, commitOn ...error) error {
	start := time.Now()
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sem }()
	metrics.TxQueueWait.Observe(time.Since(start).Seconds())
	metrics.TxInFlight.Set(1)
	defer metrics.TxInFlight.Set(0)

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}

	ferr := fn(tx)
	if ferr == nil || matchesAny(ferr, commitOn) {
		if cerr := tx.Commit(ctx); cerr != nil {
			return fmt.Errorf("commit: %w", cerr)
		}
		return ferr
	}
	if rerr := tx.Rollback(ctx); rerr != nil {
		return fmt.Errorf("rollback after %v: %w", ferr, rerr)
	}
	return ferr
}

func matchesAny(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}
