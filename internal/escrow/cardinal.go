package escrow

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Scaling constants observed in the original deployment: limits are scaled
// x100 when a card is created and requested amounts x1000 when converted to
// custodied units at completion. Both stay independently configurable.
const (
	DefaultLimitScale = 100
	DefaultValueScale = 1000
)

// Config carries the engine's conversion constant. The limit scale is applied
// by the front end before card construction and does not appear here.
type Config struct {
	// ValueScale converts one unit of requested amount into custodied
	// value units when a transaction completes.
	ValueScale int64
}

// Cardinal is the spend-limit escrow state machine for one card: custody,
// role gating, the single-in-flight-transaction lock and monthly limit
// accounting. It is not safe for concurrent use; invocations must be
// serialized, normally through a Runner.
type Cardinal struct {
	card    Card
	cfg     Config
	ledger  *Ledger
	guard   *Guard
	lock    *LockManager
	limits  *LimitTracker
	pending *PendingRequest
}

func New(card Card, cfg Config) *Cardinal {
	if cfg.ValueScale <= 0 {
		cfg.ValueScale = DefaultValueScale
	}
	return &Cardinal{
		card:   card,
		cfg:    cfg,
		ledger: NewLedger(),
		guard:  NewGuard(card.Bank, card.Cardholder),
		lock:   &LockManager{},
		limits: NewLimitTracker(card.TxLimit, card.MonthLimit),
	}
}

// Deposit credits the custodied balance. Open to any caller.
func (c *Cardinal) Deposit(amount *big.Int) error {
	return c.ledger.Deposit(amount)
}

// RequestFunds opens the two-phase release flow: bank-only, lock must be
// idle, amount must clear both caps. On success the lock is held and the
// request recorded until completion or cancellation.
func (c *Cardinal) RequestFunds(caller common.Address, cardID common.Hash, amount int64, currency, reference string, ts time.Time) error {
	if err := c.guard.RequireBank(caller); err != nil {
		return err
	}
	if cardID != c.card.ID {
		return ErrUnknownCard
	}
	if c.lock.Locked() {
		return ErrAlreadyLocked
	}
	if err := c.limits.Check(amount, ts); err != nil {
		return err
	}
	if err := c.lock.Acquire(); err != nil {
		return err
	}
	c.pending = &PendingRequest{
		Amount:    amount,
		Currency:  currency,
		Reference: reference,
		CreatedAt: ts,
	}
	return nil
}

// CompleteTransaction performs the recorded release: the requested amount is
// converted to custodied units via the value scale, debited from the ledger
// and committed into the monthly usage for the request's period. A release
// that fails on insufficient funds still clears the lock and the pending
// request, so the card cannot wedge.
func (c *Cardinal) CompleteTransaction(caller common.Address, cardID common.Hash, reference string) error {
	if err := c.guard.RequireBank(caller); err != nil {
		return err
	}
	if cardID != c.card.ID {
		return ErrUnknownCard
	}
	if !c.lock.Locked() {
		return ErrNotLocked
	}
	if c.pending == nil || c.pending.Reference != reference {
		return ErrReferenceMismatch
	}

	req := *c.pending
	converted := new(big.Int).Mul(big.NewInt(req.Amount), big.NewInt(c.cfg.ValueScale))
	if err := c.ledger.Release(converted); err != nil {
		c.pending = nil
		_ = c.lock.Release()
		return err
	}

	c.limits.Commit(req.Amount, req.CreatedAt)
	c.pending = nil
	return c.lock.Release()
}

// CancelTransaction abandons the pending request without transferring value
// or committing usage. Bank-only; the reference must match. The protocol has
// no expiry of its own, so this is the only way out of a request the bank
// never completes.
func (c *Cardinal) CancelTransaction(caller common.Address, cardID common.Hash, reference string) error {
	if err := c.guard.RequireBank(caller); err != nil {
		return err
	}
	if cardID != c.card.ID {
		return ErrUnknownCard
	}
	if !c.lock.Locked() {
		return ErrNotLocked
	}
	if c.pending == nil || c.pending.Reference != reference {
		return ErrReferenceMismatch
	}
	c.pending = nil
	return c.lock.Release()
}

// Balance returns a copy of the custodied balance.
func (c *Cardinal) Balance() *big.Int {
	return c.ledger.Balance()
}

// Locked reports whether a release is in flight.
func (c *Cardinal) Locked() bool {
	return c.lock.Locked()
}

// Pending returns the in-flight request, if any.
func (c *Cardinal) Pending() (PendingRequest, bool) {
	if c.pending == nil {
		return PendingRequest{}, false
	}
	return *c.pending, true
}

// MonthlyUsed reports cumulative committed spend for the active period.
func (c *Cardinal) MonthlyUsed() int64 {
	return c.limits.Used()
}

// Card returns the instance configuration.
func (c *Cardinal) Card() Card {
	return c.card
}
