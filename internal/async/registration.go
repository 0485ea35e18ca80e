package async

// WakerRegistration holds at most one waker, the last one registered.
type WakerRegistration struct {
	w Waker
}

// Register replaces the stored waker.
func (r *WakerRegistration) Register(w Waker) { r.w = w }

// Wake wakes and forgets the stored waker.
func (r *WakerRegistration) Wake() {
	w := r.w
	r.w = Waker{}
	w.Wake()
}

// Registered reports whether a waker is waiting.
func (r *WakerRegistration) Registered() bool { return !r.w.IsZero() }
