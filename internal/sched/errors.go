package sched

import (
	"errors"
	"fmt"

	"rtiq/internal/timeq"
)

var (
	// ErrFull is wrapped by every FullError.
	ErrFull = errors.New("queue full")
	// ErrNotPending is returned by a Handle whose spawn already fired or was
	// cancelled.
	ErrNotPending = timeq.ErrNotPending
	// ErrUnknownTask is returned when a name is not part of the plan.
	ErrUnknownTask = errors.New("unknown task")
	// ErrUnknownResource is returned when a resource name is not part of the plan.
	ErrUnknownResource = errors.New("unknown resource")
	// ErrKind is returned when a registration does not match the declared
	// task kind (software, async or hardware).
	ErrKind = errors.New("task kind mismatch")
	// ErrAlreadyRegistered is returned when a body or storage is registered twice.
	ErrAlreadyRegistered = errors.New("already registered")
	// ErrMissingBody is returned by Run when a declared task has no body.
	ErrMissingBody = errors.New("task has no body")
	// ErrUninitialized is returned by Run when init left a resource without a value.
	ErrUninitialized = errors.New("resource not initialized")
	// ErrTaken is returned when the interrupt controller was already taken.
	ErrTaken = errors.New("interrupt controller already taken")
	// ErrNoMonotonic is returned by timed operations when no monotonic is configured.
	ErrNoMonotonic = errors.New("no monotonic configured")
	// ErrState is returned when an operation does not fit the lifecycle state.
	ErrState = errors.New("invalid lifecycle state")
	// ErrIdleConflict is returned by Run when an idle function is supplied while
	// priority-0 tasks need the main loop.
	ErrIdleConflict = errors.New("idle function conflicts with priority 0 tasks")
)

// FullError hands a rejected payload back to the spawner.
type FullError[T any] struct {
	Task    string
	Payload T
}

func (e *FullError[T]) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Task, ErrFull)
}

func (e *FullError[T]) Unwrap() error { return ErrFull }

// Rejected extracts the payload of a FullError[T] from err.
func Rejected[T any](err error) (T, bool) {
	var fe *FullError[T]
	if errors.As(err, &fe) {
		return fe.Payload, true
	}
	var zero T
	return zero, false
}
