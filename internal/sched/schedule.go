package sched

import (
	"fmt"
	"time"

	"rtiq/internal/timeq"
)

// onTimer is the compare interrupt handler.
func (a *App) onTimer() {
	a.emit(EventTimer, nil, -1)
	a.timer.OnInterrupt()
}

// release moves a due timer entry to the ready queue of its task.
func (a *App) release(e timeq.Entry) {
	tc := a.tasks[e.Task]
	a.emit(EventRelease, tc, e.Slot)
	a.ready(tc, e.Slot, false)
}

// Handle refers to an activation waiting in the timer queue.
type Handle[T any] struct {
	task   *Task[T]
	marker timeq.Marker
}

// SpawnAt queues an activation that becomes ready at instant at. Async tasks
// wait with Delay instead.
func (t *Task[T]) SpawnAt(at timeq.Instant, arg T) (Handle[T], error) {
	tc := t.core
	a := tc.app
	if a.timer == nil {
		return Handle[T]{}, fmt.Errorf("spawn %s: %w", tc.plan.Name, ErrNoMonotonic)
	}
	if tc.plan.Async {
		return Handle[T]{}, fmt.Errorf("spawn %s at an instant: %w", tc.plan.Name, ErrKind)
	}

	slot, ok := a.alloc(tc, false)
	if !ok {
		return Handle[T]{}, t.reject(arg)
	}
	t.payloads[slot] = arg
	a.emit(EventSpawn, tc, slot)
	m := a.timer.Schedule(timeq.Entry{At: at, Task: int(tc.id), Slot: slot})
	return Handle[T]{task: t, marker: m}, nil
}

// SpawnAfter queues an activation that becomes ready d from now.
func (t *Task[T]) SpawnAfter(d time.Duration, arg T) (Handle[T], error) {
	tm := t.core.app.timer
	if tm == nil {
		return Handle[T]{}, fmt.Errorf("spawn %s: %w", t.core.plan.Name, ErrNoMonotonic)
	}
	return t.SpawnAt(tm.At(tm.Rate().Ticks(d)), arg)
}

// Pending reports whether the activation still waits in the timer queue.
func (h Handle[T]) Pending() bool {
	if h.task == nil {
		return false
	}
	return h.task.core.app.timer.Pending(h.marker)
}

// Cancel removes the activation from the timer queue and returns its payload.
// It fails with ErrNotPending once the activation was released.
func (h Handle[T]) Cancel() (T, error) {
	var zero T
	if h.task == nil {
		return zero, ErrNotPending
	}
	tc := h.task.core
	a := tc.app
	e, err := a.timer.Cancel(h.marker)
	if err != nil {
		return zero, err
	}
	arg := h.task.payloads[e.Slot]
	h.task.payloads[e.Slot] = zero
	a.free(tc, e.Slot)
	a.emit(EventCancel, tc, e.Slot)
	return arg, nil
}

// RescheduleAt moves the activation to instant at. Among activations due at
// the same instant it goes last.
func (h Handle[T]) RescheduleAt(at timeq.Instant) error {
	if h.task == nil {
		return ErrNotPending
	}
	return h.task.core.app.timer.Reschedule(h.marker, at)
}

// RescheduleAfter moves the activation to d from now.
func (h Handle[T]) RescheduleAfter(d time.Duration) error {
	if h.task == nil {
		return ErrNotPending
	}
	tm := h.task.core.app.timer
	return h.RescheduleAt(tm.At(tm.Rate().Ticks(d)))
}
