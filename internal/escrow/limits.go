package escrow

import "time"

// periodOf collapses a timestamp to its calendar month.
func periodOf(ts time.Time) int {
	return ts.Year()*12 + int(ts.Month()) - 1
}

// LimitTracker accounts cumulative spend against the monthly cap. Check is
// advisory at request time; Commit, at completion time, is authoritative.
type LimitTracker struct {
	txLimit    int64
	monthLimit int64
	period     int
	used       int64
}

func NewLimitTracker(txLimit, monthLimit int64) *LimitTracker {
	return &LimitTracker{txLimit: txLimit, monthLimit: monthLimit}
}

// Check validates amount against both caps without committing usage. A
// timestamp in a new period is compared against zero usage, but the stored
// counter is not reset until a completion commits into that period.
func (t *LimitTracker) Check(amount int64, ts time.Time) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if amount > t.txLimit {
		return ErrExceedsTxLimit
	}
	used := t.used
	if periodOf(ts) != t.period {
		used = 0
	}
	if used+amount > t.monthLimit {
		return ErrExceedsMonthLimit
	}
	return nil
}

// Commit records a completed transaction, resetting the counter first when
// the transaction's period differs from the active one.
func (t *LimitTracker) Commit(amount int64, ts time.Time) {
	p := periodOf(ts)
	if p != t.period {
		t.period = p
		t.used = 0
	}
	t.used += amount
}

// Used reports the cumulative spend committed in the active period.
func (t *LimitTracker) Used() int64 {
	return t.used
}
