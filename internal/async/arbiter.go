package async

import "github.com/gammazero/deque"

type waiter struct {
	w      Waker
	popped bool
}

// Arbiter grants exclusive access to a value across suspension points. Unlike
// a priority-ceiling lock it may be held over an await; waiters are served in
// FIFO order.
type Arbiter[T any] struct {
	cs    Critical
	queue deque.Deque[*waiter]
	taken bool
	value T
}

// NewArbiter wraps v.
func NewArbiter[T any](cs Critical, v T) *Arbiter[T] {
	return &Arbiter[T]{cs: cs, value: v}
}

// TryAccess grants access immediately if nobody holds or waits for it.
func (a *Arbiter[T]) TryAccess() (*Access[T], bool) {
	ok := false
	a.cs(func() {
		if a.queue.Len() == 0 && !a.taken {
			a.taken, ok = true, true
		}
	})
	if !ok {
		return nil, false
	}
	return &Access[T]{a: a}, true
}

// Acquire returns a future that completes once access is granted.
func (a *Arbiter[T]) Acquire() *AcquireFuture[T] {
	return &AcquireFuture[T]{a: a}
}

func (a *Arbiter[T]) release() {
	var next *waiter
	a.cs(func() {
		if a.queue.Len() == 0 {
			a.taken = false
			return
		}
		// ownership passes straight to the head waiter
		next = a.queue.PopFront()
		next.popped = true
	})
	if next != nil {
		next.w.Wake()
	}
}

// AcquireFuture waits for an Arbiter.
type AcquireFuture[T any] struct {
	a      *Arbiter[T]
	link   *waiter
	access *Access[T]
}

// Access is the granted access, valid once the future completed.
func (f *AcquireFuture[T]) Access() *Access[T] { return f.access }

// Poll implements Future.
func (f *AcquireFuture[T]) Poll(w Waker) bool {
	if f.access != nil {
		return true
	}
	granted := false
	f.a.cs(func() {
		switch {
		case f.link == nil && f.a.queue.Len() == 0 && !f.a.taken:
			f.a.taken, granted = true, true
		case f.link == nil:
			f.link = &waiter{w: w}
			f.a.queue.PushBack(f.link)
		case f.link.popped:
			granted = true
		default:
			f.link.w = w
		}
	})
	if granted {
		f.link = nil
		f.access = &Access[T]{a: f.a}
	}
	return granted
}

// Cancel leaves the wait queue. If access was already handed over it is
// passed on to the next waiter.
func (f *AcquireFuture[T]) Cancel() {
	if f.link == nil {
		return
	}
	link := f.link
	f.link = nil
	handedOver := false
	f.a.cs(func() {
		if link.popped {
			handedOver = true
			return
		}
		if i := f.a.queue.Index(func(x *waiter) bool { return x == link }); i >= 0 {
			f.a.queue.Remove(i)
		}
	})
	if handedOver {
		f.a.release()
	}
}

// Access is exclusive access to an Arbiter's value.
type Access[T any] struct {
	a        *Arbiter[T]
	released bool
}

// Value returns the guarded value. It must not be used after Release.
func (x *Access[T]) Value() *T { return &x.a.value }

// Release gives access up. Calling it twice is harmless.
func (x *Access[T]) Release() {
	if x.released {
		return
	}
	x.released = true
	x.a.release()
}
