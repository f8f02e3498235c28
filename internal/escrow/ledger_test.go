package escrow

import (
	"errors"
	"math/big"
	"testing"
)

func TestLedgerNeverGoesNegative(t *testing.T) {
	l := NewLedger()

	if err := l.Release(big.NewInt(1)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds on empty ledger, got %v", err)
	}

	if err := l.Deposit(big.NewInt(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := l.Release(big.NewInt(501)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if l.Balance().Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("failed release must not change the balance, got %s", l.Balance())
	}

	if err := l.Release(big.NewInt(500)); err != nil {
		t.Fatalf("release: %v", err)
	}
	if l.Balance().Sign() != 0 {
		t.Fatalf("expected empty ledger, got %s", l.Balance())
	}
}

func TestLedgerRejectsNonPositiveAmounts(t *testing.T) {
	l := NewLedger()
	for _, amount := range []*big.Int{nil, big.NewInt(0), big.NewInt(-3)} {
		if err := l.Deposit(amount); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("deposit %v: expected ErrInvalidAmount, got %v", amount, err)
		}
		if err := l.Release(amount); !errors.Is(err, ErrInvalidAmount) {
			t.Fatalf("release %v: expected ErrInvalidAmount, got %v", amount, err)
		}
	}
}

func TestLedgerBalanceIsACopy(t *testing.T) {
	l := NewLedger()
	_ = l.Deposit(big.NewInt(10))

	b := l.Balance()
	b.SetInt64(999)

	if l.Balance().Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("mutating the returned balance must not affect the ledger")
	}
}
