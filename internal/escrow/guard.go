package escrow

import "github.com/ethereum/go-ethereum/common"

// Role classifies a caller relative to one card.
type Role int

const (
	RoleOther Role = iota
	RoleBank
	RoleCardholder
)

// Guard enforces per-operation caller roles. Deposits are open to anyone;
// requesting, completing and cancelling a transaction are bank-only.
type Guard struct {
	bank       common.Address
	cardholder common.Address
}

func NewGuard(bank, cardholder common.Address) *Guard {
	return &Guard{bank: bank, cardholder: cardholder}
}

func (g *Guard) Classify(caller common.Address) Role {
	switch caller {
	case g.bank:
		return RoleBank
	case g.cardholder:
		return RoleCardholder
	default:
		return RoleOther
	}
}

// RequireBank rejects any caller other than the bank authority.
func (g *Guard) RequireBank(caller common.Address) error {
	if caller != g.bank {
		return ErrUnauthorized
	}
	return nil
}
