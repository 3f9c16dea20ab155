package domain

import (
	"errors"
	"fmt"
)

var (
	ErrSlotNotFound        = errors.New("slot not found")
	ErrInsufficientSpace   = errors.New("insufficient space")
	ErrOverCapacity        = errors.New("delta would exceed slot capacity")
	ErrCapacityBelowBooked = errors.New("capacity below booked spaces")
	ErrStoreUnavailable    = errors.New("inventory store unavailable")
	// ErrNotApplied accompanies ErrStoreUnavailable when the write is known
	// not to have reached the store, so repeating it cannot apply it twice.
	ErrNotApplied = errors.New("write not applied")
	ErrLockTimeout         = errors.New("timed out waiting for slot lock")
	ErrSlotQuarantined     = errors.New("slot quarantined after failed compensation")
	ErrInvalidDelta        = errors.New("delta must be non-zero")
)

type InsufficientSpaceError struct {
	SlotID    int64
	Requested int
	Available int
}

func (e *InsufficientSpaceError) Error() string {
	return fmt.Sprintf("slot %d: requested %d, available %d", e.SlotID, e.Requested, e.Available)
}

func (e *InsufficientSpaceError) Unwrap() error { return ErrInsufficientSpace }

// ConsistencyViolationError reports a compensation that could not be
// applied. The slot has permanently lost Delta spaces until repaired.
type ConsistencyViolationError struct {
	SlotID int64
	Delta  int
	Err    error
}

func (e *ConsistencyViolationError) Error() string {
	return fmt.Sprintf("consistency violation on slot %d (delta %+d): %v", e.SlotID, e.Delta, e.Err)
}

func (e *ConsistencyViolationError) Unwrap() error { return e.Err }
