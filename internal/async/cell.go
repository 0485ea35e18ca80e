package async

import "sync/atomic"

// Cell is the executor of one async task: storage for a single future plus
// the running and pending flags. The future is only touched by the owner of
// running, so no lock is needed around it.
type Cell struct {
	fut     Future
	running atomic.Bool
	pending atomic.Bool
	polls   atomic.Uint64
}

// IsRunning reports whether a future occupies the cell.
func (c *Cell) IsRunning() bool { return c.running.Load() }

// TryAllocate reserves the cell for a new future. It fails while the
// previous future has not completed.
func (c *Cell) TryAllocate() bool {
	return c.running.CompareAndSwap(false, true)
}

// Spawn stores f in a cell reserved by TryAllocate and marks it pending.
func (c *Cell) Spawn(f Future) {
	c.fut = f
	c.SetPending()
}

// SetPending is what a waker does: flag the cell for the next dispatcher run.
func (c *Cell) SetPending() { c.pending.Store(true) }

// IsPending reports whether a poll is due.
func (c *Cell) IsPending() bool { return c.pending.Load() }

// Polls is the number of times the future has been polled.
func (c *Cell) Polls() uint64 { return c.polls.Load() }

// Poll polls the stored future once if it is running and was woken. It
// reports whether a poll happened. A wake that arrives after the future
// completed is dropped here.
func (c *Cell) Poll(w Waker) bool {
	if !c.IsRunning() {
		c.pending.Store(false)
		return false
	}
	if !c.pending.CompareAndSwap(true, false) {
		return false
	}
	c.polls.Add(1)
	if c.fut.Poll(w) {
		c.fut = nil
		c.running.Store(false)
	}
	return true
}
