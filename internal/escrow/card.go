package escrow

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Card is the immutable configuration of one escrow instance. Limits are in
// caller-chosen whole currency units; the front end applies the limit scale
// before construction.
type Card struct {
	ID         common.Hash
	Bank       common.Address
	Cardholder common.Address
	TxLimit    int64
	MonthLimit int64
}

// CardID packs an opaque card token (e.g. "visa1024") into its 32-byte form.
func CardID(token string) common.Hash {
	var id common.Hash
	copy(id[:], token)
	return id
}

// PendingRequest is the single release currently in flight. It exists only
// while the lock is held and is cleared by completion or cancellation.
type PendingRequest struct {
	Amount    int64
	Currency  string
	Reference string
	CreatedAt time.Time
}
