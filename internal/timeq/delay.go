package timeq

import (
	"errors"

	"rtiq/internal/async"
)

// ErrTimeout is reported by a TimeoutFuture whose delay won.
var ErrTimeout = errors.New("timeout")

// Delay completes once its instant has been reached. While pending it holds
// one waker entry in the timer queue.
type Delay struct {
	t          *Timer
	at         Instant
	marker     Marker
	registered bool
}

// Instant is the due instant of the delay.
func (d *Delay) Instant() Instant { return d.at }

// Poll implements async.Future.
func (d *Delay) Poll(w async.Waker) bool {
	if d.t.Now().AtLeast(d.at) {
		d.Cancel()
		return true
	}
	if !d.registered {
		d.marker = d.t.Schedule(Entry{At: d.at, Task: -1, Waker: w})
		d.registered = true
	}
	return false
}

// Cancel drops the waker entry if it has not fired yet.
func (d *Delay) Cancel() {
	if !d.registered {
		return
	}
	d.registered = false
	_, _ = d.t.Cancel(d.marker)
}

// TimeoutFuture completes when either the wrapped future or its delay does.
type TimeoutFuture struct {
	race *async.RaceFuture
}

// Poll implements async.Future.
func (f *TimeoutFuture) Poll(w async.Waker) bool { return f.race.Poll(w) }

// Cancel releases the wrapped future and the delay.
func (f *TimeoutFuture) Cancel() { f.race.Cancel() }

// Err is ErrTimeout if the delay completed first.
func (f *TimeoutFuture) Err() error {
	if f.race.Winner() == 1 {
		return ErrTimeout
	}
	return nil
}
