package escrow

import "errors"

// Rejections surfaced by the escrow state machine. Every rejection is atomic:
// a failed operation leaves no partial state behind.
var (
	ErrUnauthorized      = errors.New("caller is not the bank authority")
	ErrUnknownCard       = errors.New("unknown card")
	ErrAlreadyLocked     = errors.New("a transaction is already in flight")
	ErrNotLocked         = errors.New("no transaction in flight")
	ErrReferenceMismatch = errors.New("reference code does not match the pending request")
	ErrExceedsTxLimit    = errors.New("amount exceeds the per-transaction limit")
	ErrExceedsMonthLimit = errors.New("amount exceeds the monthly limit")
	ErrInsufficientFunds = errors.New("insufficient custodied funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
)
