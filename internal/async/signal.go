package async

// Critical runs a function with preemption held off. The interrupt
// controller's Critical method satisfies it.
type Critical func(fn func())

// Signal is a latest-only value store with any number of writers and one
// async reader.
type Signal[T any] struct {
	cs    Critical
	waker WakerRegistration
	value T
	set   bool
}

// NewSignal creates an empty signal guarded by cs.
func NewSignal[T any](cs Critical) *Signal[T] {
	return &Signal[T]{cs: cs}
}

// Write stores v, replacing any unread value, and wakes the reader.
func (s *Signal[T]) Write(v T) {
	var w WakerRegistration
	s.cs(func() {
		s.value, s.set = v, true
		w, s.waker = s.waker, WakerRegistration{}
	})
	w.Wake()
}

// Clear drops an unread value.
func (s *Signal[T]) Clear() {
	s.cs(func() {
		var zero T
		s.value, s.set = zero, false
	})
}

// Take reads and evicts the stored value without waiting.
func (s *Signal[T]) Take() (T, bool) {
	var (
		v  T
		ok bool
	)
	s.cs(func() {
		v, ok = s.value, s.set
		var zero T
		s.value, s.set = zero, false
	})
	return v, ok
}

// Wait returns a future that completes with the next value. A value that is
// already stored is returned immediately.
func (s *Signal[T]) Wait() *SignalWait[T] {
	return &SignalWait[T]{s: s}
}

// WaitFresh drops any stored value first, so only a new write completes it.
func (s *Signal[T]) WaitFresh() *SignalWait[T] {
	s.Clear()
	return s.Wait()
}

// SignalWait is the future returned by Signal.Wait.
type SignalWait[T any] struct {
	s     *Signal[T]
	value T
}

// Value is the value received once the future completed.
func (f *SignalWait[T]) Value() T { return f.value }

// Poll implements Future.
func (f *SignalWait[T]) Poll(w Waker) bool {
	ready := false
	f.s.cs(func() {
		if f.s.set {
			f.value, ready = f.s.value, true
			var zero T
			f.s.value, f.s.set = zero, false
			return
		}
		f.s.waker.Register(w)
	})
	return ready
}
