package exchange_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coincross/exchange/internal/exchange"
	"github.com/coincross/exchange/internal/model"
	"github.com/coincross/exchange/internal/store"
)

func TestSchedulerMutualExclusion(t *testing.T) {
	s := store.NewMemoryStore()
	sched := exchange.NewScheduler(s)

	var inFlight, maxInFlight int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := sched.RunInTx(context.Background(), func(tx store.Tx) error {
				n := atomic.AddInt32(&inFlight, 1)
				for {
					cur := atomic.LoadInt32(&maxInFlight)
					if n <= cur || atomic.CompareAndSwapInt32(&maxInFlight, cur, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return nil
			})
			if err != nil {
				t.Errorf("RunInTx: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&maxInFlight); got != 1 {
		t.Errorf("max concurrent transactions = %d, want 1", got)
	}
}

func TestSchedulerCommitPolicy(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	u := s.AddUser("alice", "bk-alice")
	sched := exchange.NewScheduler(s)

	// Benign errors in the commit list keep the transaction's effects.
	var kept *model.Order
	err := sched.RunInTx(ctx, func(tx store.Tx) error {
		var ierr error
		kept, ierr = tx.InsertOrder(ctx, model.OrderSell, u.ID, 1, 50)
		if ierr != nil {
			return ierr
		}
		return model.ErrNoOrderForTrade
	}, model.ErrNoOrderForTrade)
	if !errors.Is(err, model.ErrNoOrderForTrade) {
		t.Fatalf("err = %v, want ErrNoOrderForTrade", err)
	}
	got, _ := s.OrderByID(ctx, kept.ID)
	if got == nil {
		t.Fatal("benign error must commit the transaction")
	}

	// Anything else rolls back.
	boom := errors.New("boom")
	var dropped *model.Order
	err = sched.RunInTx(ctx, func(tx store.Tx) error {
		dropped, _ = tx.InsertOrder(ctx, model.OrderSell, u.ID, 1, 51)
		return boom
	}, model.ErrNoOrderForTrade)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	got, _ = s.OrderByID(ctx, dropped.ID)
	if got != nil {
		t.Fatal("unexpected error must roll the transaction back")
	}
}

func TestSchedulerContextCanceledWhileQueued(t *testing.T) {
	s := store.NewMemoryStore()
	sched := exchange.NewScheduler(s)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		sched.RunInTx(context.Background(), func(tx store.Tx) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := sched.RunInTx(ctx, func(tx store.Tx) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	close(release)
}
