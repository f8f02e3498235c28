package escrow

// LockState tracks whether a release is in flight.
type LockState int

const (
	LockIdle LockState = iota
	LockHeld
)

// LockManager guards the at-most-one-pending-release invariant. It is a plain
// two-state machine; mutual exclusion follows from the serialized execution of
// the engine, not from any synchronization primitive here.
type LockManager struct {
	state LockState
}

func (m *LockManager) Acquire() error {
	if m.state == LockHeld {
		return ErrAlreadyLocked
	}
	m.state = LockHeld
	return nil
}

func (m *LockManager) Release() error {
	if m.state == LockIdle {
		return ErrNotLocked
	}
	m.state = LockIdle
	return nil
}

func (m *LockManager) Locked() bool {
	return m.state == LockHeld
}
