package timeq

import (
	"errors"

	"rtiq/internal/async"
	"rtiq/internal/nvic"
)

// ErrNotPending is returned when a marker no longer refers to a queued entry,
// because it fired or was cancelled.
var ErrNotPending = errors.New("timer entry not pending")

// Timer is a timer queue driven by a monotonic compare interrupt. Entries are
// released in due order; entries due at the same instant are released in the
// order they were queued.
type Timer struct {
	clock   Monotonic
	ctrl    *nvic.Controller
	vector  nvic.Vector
	q       *Queue
	release func(Entry)
}

// NewTimer wires clock to the compare interrupt v. release is called, from
// the timer interrupt, for every due entry that names a task.
func NewTimer(clock Monotonic, ctrl *nvic.Controller, v nvic.Vector, release func(Entry)) *Timer {
	clock.Attach(ctrl, v)
	return &Timer{
		clock:   clock,
		ctrl:    ctrl,
		vector:  v,
		q:       NewQueue(),
		release: release,
	}
}

// Now forwards the monotonic's clock.
func (t *Timer) Now() Instant { return t.clock.Now() }

// Rate is the tick rate of the monotonic.
func (t *Timer) Rate() Rate { return t.clock.Rate() }

// Vector is the compare interrupt.
func (t *Timer) Vector() nvic.Vector { return t.vector }

// Len is the number of pending entries.
func (t *Timer) Len() int {
	var n int
	t.ctrl.Critical(func() { n = t.q.Len() })
	return n
}

// Schedule queues e. A new earliest entry pends the timer interrupt so the
// handler reprograms the compare value.
func (t *Timer) Schedule(e Entry) Marker {
	var (
		m    Marker
		head bool
	)
	t.ctrl.Critical(func() { m, head = t.q.Insert(e) })
	if head {
		t.clock.EnableTimer()
		t.ctrl.Pend(t.vector)
	}
	return m
}

// Cancel removes a queued entry and returns it.
func (t *Timer) Cancel(m Marker) (Entry, error) {
	var (
		e  Entry
		ok bool
	)
	t.ctrl.Critical(func() { e, ok = t.q.Remove(m) })
	if !ok {
		return Entry{}, ErrNotPending
	}
	return e, nil
}

// Reschedule moves a queued entry to a new instant.
func (t *Timer) Reschedule(m Marker, at Instant) error {
	var ok, head bool
	t.ctrl.Critical(func() { ok, head = t.q.Reschedule(m, at) })
	if !ok {
		return ErrNotPending
	}
	if head {
		t.clock.EnableTimer()
		t.ctrl.Pend(t.vector)
	}
	return nil
}

// Pending reports whether m is still queued.
func (t *Timer) Pending(m Marker) bool {
	var ok bool
	t.ctrl.Critical(func() { ok = t.q.Pending(m) })
	return ok
}

// OnInterrupt is the compare interrupt handler. It releases every entry that
// is due, not only the first, then programs the compare value for the next
// one or stops the timer when the queue is empty.
func (t *Timer) OnInterrupt() {
	t.clock.ClearCompareFlag()

	for {
		var (
			e      Entry
			popped bool
			next   Instant
			queued bool
		)
		t.ctrl.Critical(func() {
			head, ok := t.q.Peek()
			if !ok {
				return
			}
			queued, next = true, head.At
			if t.clock.Now().AtLeast(head.At) {
				e, popped = t.q.Pop()
			}
		})

		switch {
		case popped:
			t.fire(e)
		case queued:
			t.clock.EnableTimer()
			t.clock.SetCompare(next)
			if t.clock.Now().AtLeast(next) {
				// the next instant passed while we were handling this one
				continue
			}
			return
		default:
			t.clock.DisableTimer()
			return
		}
	}
}

func (t *Timer) fire(e Entry) {
	if e.Task < 0 {
		e.Waker.Wake()
		return
	}
	if t.release != nil {
		t.release(e)
	}
}

// At returns the instant d ticks from now.
func (t *Timer) At(d Duration) Instant { return t.clock.Now().Add(d) }

// Delay returns a future that completes at least d ticks from now. One tick
// is added for d > 0 because the current tick is already partly over.
func (t *Timer) Delay(d Duration) *Delay {
	now := t.clock.Now()
	at := now.Add(d)
	if d != 0 {
		at = at.Add(1)
	}
	return t.DelayUntil(at)
}

// DelayUntil returns a future that completes at instant at.
func (t *Timer) DelayUntil(at Instant) *Delay {
	return &Delay{t: t, at: at}
}

// Timeout races f against a delay of d ticks.
func (t *Timer) Timeout(d Duration, f async.Future) *TimeoutFuture {
	return &TimeoutFuture{race: async.Race(f, t.Delay(d))}
}

// TimeoutAt races f against instant at.
func (t *Timer) TimeoutAt(at Instant, f async.Future) *TimeoutFuture {
	return &TimeoutFuture{race: async.Race(f, t.DelayUntil(at))}
}
