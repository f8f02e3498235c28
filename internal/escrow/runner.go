package escrow

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Runner funnels all engine invocations through one goroutine, reproducing
// the total ordering the original host ledger guarantees. The engine itself
// carries no locks; callers block on a reply channel and may cancel the wait,
// in which case the operation still executes but its result is dropped.
type Runner struct {
	engine *Cardinal
	ops    chan func(*Cardinal)
	done   chan struct{}
}

func NewRunner(engine *Cardinal) *Runner {
	r := &Runner{
		engine: engine,
		ops:    make(chan func(*Cardinal)),
		done:   make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Runner) loop() {
	defer close(r.done)
	for fn := range r.ops {
		fn(r.engine)
	}
}

// Close stops the runner after draining queued operations.
func (r *Runner) Close() {
	close(r.ops)
	<-r.done
}

func (r *Runner) submit(ctx context.Context, fn func(*Cardinal) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	reply := make(chan error, 1)
	select {
	case r.ops <- func(c *Cardinal) { reply <- fn(c) }:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runner) Deposit(ctx context.Context, amount *big.Int) error {
	return r.submit(ctx, func(c *Cardinal) error {
		return c.Deposit(amount)
	})
}

func (r *Runner) RequestFunds(ctx context.Context, caller common.Address, cardID common.Hash, amount int64, currency, reference string, ts time.Time) error {
	return r.submit(ctx, func(c *Cardinal) error {
		return c.RequestFunds(caller, cardID, amount, currency, reference, ts)
	})
}

func (r *Runner) CompleteTransaction(ctx context.Context, caller common.Address, cardID common.Hash, reference string) error {
	return r.submit(ctx, func(c *Cardinal) error {
		return c.CompleteTransaction(caller, cardID, reference)
	})
}

func (r *Runner) CancelTransaction(ctx context.Context, caller common.Address, cardID common.Hash, reference string) error {
	return r.submit(ctx, func(c *Cardinal) error {
		return c.CancelTransaction(caller, cardID, reference)
	})
}

// Snapshot is a consistent read of the engine's observable state.
type Snapshot struct {
	Balance     *big.Int
	Locked      bool
	Pending     PendingRequest
	HasPending  bool
	MonthlyUsed int64
}

func (r *Runner) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := r.submit(ctx, func(c *Cardinal) error {
		snap.Balance = c.Balance()
		snap.Locked = c.Locked()
		snap.Pending, snap.HasPending = c.Pending()
		snap.MonthlyUsed = c.MonthlyUsed()
		return nil
	})
	return snap, err
}
