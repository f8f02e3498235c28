package escrow

import (
	"errors"
	"testing"
)

func TestLockManagerTransitions(t *testing.T) {
	var m LockManager

	if m.Locked() {
		t.Fatalf("new lock must start idle")
	}
	if err := m.Acquire(); err != nil {
		t.Fatalf("acquire from idle: %v", err)
	}
	if err := m.Acquire(); !errors.Is(err, ErrAlreadyLocked) {
		t.Fatalf("expected ErrAlreadyLocked, got %v", err)
	}
	if err := m.Release(); err != nil {
		t.Fatalf("release from locked: %v", err)
	}
	if err := m.Release(); !errors.Is(err, ErrNotLocked) {
		t.Fatalf("expected ErrNotLocked, got %v", err)
	}
}
