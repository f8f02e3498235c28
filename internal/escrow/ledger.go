package escrow

import "math/big"

// Ledger holds the custodied balance for one card. The balance only grows
// through Deposit and only shrinks through Release, and never goes negative.
type Ledger struct {
	balance *big.Int
}

func NewLedger() *Ledger {
	return &Ledger{balance: new(big.Int)}
}

// Deposit credits the custodied balance. Any party may deposit.
func (l *Ledger) Deposit(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	l.balance.Add(l.balance, amount)
	return nil
}

// Release debits the custodied balance. Only the orchestrator calls this.
func (l *Ledger) Release(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if l.balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	l.balance.Sub(l.balance, amount)
	return nil
}

// Balance returns a copy of the custodied balance.
func (l *Ledger) Balance() *big.Int {
	return new(big.Int).Set(l.balance)
}
