package escrow

import (
	"errors"
	"testing"
)

func TestGuardClassify(t *testing.T) {
	g := NewGuard(testBank, testCardholder)

	if got := g.Classify(testBank); got != RoleBank {
		t.Fatalf("expected RoleBank, got %v", got)
	}
	if got := g.Classify(testCardholder); got != RoleCardholder {
		t.Fatalf("expected RoleCardholder, got %v", got)
	}
	if got := g.Classify(testStranger); got != RoleOther {
		t.Fatalf("expected RoleOther, got %v", got)
	}
}

func TestGuardRequireBank(t *testing.T) {
	g := NewGuard(testBank, testCardholder)

	if err := g.RequireBank(testBank); err != nil {
		t.Fatalf("bank must pass: %v", err)
	}
	if err := g.RequireBank(testCardholder); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("cardholder must fail with ErrUnauthorized, got %v", err)
	}
	if err := g.RequireBank(testStranger); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("stranger must fail with ErrUnauthorized, got %v", err)
	}
}
