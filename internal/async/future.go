// Package async is an allocation-light poll model for asynchronous task
// bodies. A body is an explicit state machine (a Future) that is polled by the
// dispatcher of its priority level; a Waker re-arms that dispatcher.
package async

// Future is a resumable computation. Poll advances it as far as it can and
// reports whether it has completed. A Future that returns false must have
// arranged for w to be woken once progress is possible.
type Future interface {
	Poll(w Waker) bool
}

// Canceler is implemented by futures that hold a registration (a timer entry,
// a waiter slot) which must be released when they are abandoned.
type Canceler interface {
	Cancel()
}

// FutureFunc adapts a function to a Future.
type FutureFunc func(w Waker) bool

// Poll calls f.
func (f FutureFunc) Poll(w Waker) bool { return f(w) }

// Waker wakes the task that polled a future. The zero Waker does nothing.
type Waker struct {
	wake func()
}

// NewWaker returns a Waker that calls fn.
func NewWaker(fn func()) Waker { return Waker{wake: fn} }

// Wake marks the owning task as ready to be polled again. It never runs the
// task itself.
func (w Waker) Wake() {
	if w.wake != nil {
		w.wake()
	}
}

// IsZero reports whether w was never set.
func (w Waker) IsZero() bool { return w.wake == nil }

// Ready is a future that completes on its first poll.
func Ready() Future { return FutureFunc(func(Waker) bool { return true }) }

// Do runs fn once when polled and completes.
func Do(fn func()) Future {
	return FutureFunc(func(Waker) bool {
		fn()
		return true
	})
}

// Yield completes on its second poll, waking itself in between.
func Yield() Future {
	yielded := false
	return FutureFunc(func(w Waker) bool {
		if yielded {
			return true
		}
		yielded = true
		w.Wake()
		return false
	})
}

// Step produces the next future of a sequence. A nil future means the step
// finished synchronously.
type Step func() Future

type seq struct {
	steps []Step
	cur   Future
}

// Seq runs steps one after another; each step is only started once the
// previous one completed. Code between two awaits goes at the start of a step.
func Seq(steps ...Step) Future {
	return &seq{steps: steps}
}

func (s *seq) Poll(w Waker) bool {
	for {
		if s.cur == nil {
			if len(s.steps) == 0 {
				return true
			}
			next := s.steps[0]
			s.steps = s.steps[1:]
			s.cur = next()
			if s.cur == nil {
				continue
			}
		}
		if !s.cur.Poll(w) {
			return false
		}
		s.cur = nil
	}
}

func (s *seq) Cancel() {
	if c, ok := s.cur.(Canceler); ok {
		c.Cancel()
	}
	s.cur, s.steps = nil, nil
}

type loop struct {
	body func() Future
	cur  Future
}

// Loop repeats body until it returns nil. A body that never suspends would
// spin forever, so every iteration should contain at least one await.
func Loop(body func() Future) Future {
	return &loop{body: body}
}

func (l *loop) Poll(w Waker) bool {
	for {
		if l.cur == nil {
			l.cur = l.body()
			if l.cur == nil {
				return true
			}
		}
		if !l.cur.Poll(w) {
			return false
		}
		l.cur = nil
	}
}

func (l *loop) Cancel() {
	if c, ok := l.cur.(Canceler); ok {
		c.Cancel()
	}
	l.cur = nil
}

// RaceFuture completes as soon as one of its futures completes. The losers
// are cancelled if they implement Canceler.
type RaceFuture struct {
	futures []Future
	winner  int
}

// Race polls futures in order and completes with the first one that finishes.
func Race(futures ...Future) *RaceFuture {
	return &RaceFuture{futures: futures, winner: -1}
}

// Winner is the index of the completed future, or -1 while pending.
func (r *RaceFuture) Winner() int { return r.winner }

// Poll implements Future.
func (r *RaceFuture) Poll(w Waker) bool {
	if r.winner >= 0 {
		return true
	}
	for i, f := range r.futures {
		if f.Poll(w) {
			r.winner = i
			r.cancelExcept(i)
			return true
		}
	}
	return false
}

// Cancel releases every future of the race.
func (r *RaceFuture) Cancel() { r.cancelExcept(-1) }

func (r *RaceFuture) cancelExcept(keep int) {
	for i, f := range r.futures {
		if i == keep {
			continue
		}
		if c, ok := f.(Canceler); ok {
			c.Cancel()
		}
	}
}
