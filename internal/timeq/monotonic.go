package timeq

import (
	"sync"

	"rtiq/internal/nvic"
)

// Monotonic is the hardware timer behind a timer queue. The compare match
// must raise the interrupt installed by Attach.
type Monotonic interface {
	Now() Instant
	Rate() Rate
	// SetCompare arms the compare match at the given instant. Races with
	// Now are handled by the timer queue.
	SetCompare(at Instant)
	ClearCompareFlag()
	// EnableTimer and DisableTimer let the queue stop the timer while it is
	// empty. Both may be called repeatedly.
	EnableTimer()
	DisableTimer()
	// Attach tells the monotonic which interrupt its compare match raises.
	Attach(ctrl *nvic.Controller, v nvic.Vector)
}

// compare is one compare channel of a clock: the armed instant, whether
// its timer queue needs it and the interrupt it raises.
type compare struct {
	at      Instant
	armed   bool
	enabled bool

	ctrl   *nvic.Controller
	vector nvic.Vector
	latch  bool // raise with Signal instead of Pend
}

// due disarms and reports the channel if its compare instant is reached.
func (u *compare) due(now Instant) bool {
	if !u.enabled || !u.armed || u.ctrl == nil || !now.AtLeast(u.at) {
		return false
	}
	u.armed = false
	return true
}

func (u *compare) raise() {
	if u.latch {
		u.ctrl.Signal(u.vector)
		return
	}
	u.ctrl.Pend(u.vector)
}

// ManualClock is a monotonic that only moves when told to. It drives
// deterministic simulations and tests. Advance and Set must be called from
// the core, because a compare match is taken inline. Views made by Share
// latch their match instead, so any goroutine may move a shared clock.
type ManualClock struct {
	mu    sync.Mutex
	rate  Rate
	now   Instant
	own   *compare
	views []*compare
}

// NewManualClock starts at instant start.
func NewManualClock(hz int, start Instant) *ManualClock {
	own := &compare{}
	return &ManualClock{rate: Rate{Hz: hz}, now: start, own: own, views: []*compare{own}}
}

func (c *ManualClock) Now() Instant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Rate() Rate { return c.rate }

func (c *ManualClock) SetCompare(at Instant) { c.setCompare(c.own, at) }

func (c *ManualClock) ClearCompareFlag() {}

func (c *ManualClock) EnableTimer() { c.setEnabled(c.own, true) }

func (c *ManualClock) DisableTimer() { c.setEnabled(c.own, false) }

// Enabled reports whether the queue currently needs the timer.
func (c *ManualClock) Enabled() bool { return c.enabled(c.own) }

func (c *ManualClock) Attach(ctrl *nvic.Controller, v nvic.Vector) { c.attach(c.own, ctrl, v) }

// Share returns a view of the clock with a compare channel of its own, for
// the timer queue of another core. All views read the same time.
func (c *ManualClock) Share() *ManualView {
	u := &compare{latch: true}
	c.mu.Lock()
	c.views = append(c.views, u)
	c.mu.Unlock()
	return &ManualView{clock: c, unit: u}
}

// Advance moves time forward by d ticks.
func (c *ManualClock) Advance(d Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
	c.check()
}

// Set jumps to at, which should not be earlier than Now.
func (c *ManualClock) Set(at Instant) {
	c.mu.Lock()
	c.now = at
	c.mu.Unlock()
	c.check()
}

func (c *ManualClock) setCompare(u *compare, at Instant) {
	c.mu.Lock()
	u.at, u.armed = at, true
	c.mu.Unlock()
}

func (c *ManualClock) setEnabled(u *compare, on bool) {
	c.mu.Lock()
	u.enabled = on
	c.mu.Unlock()
}

func (c *ManualClock) enabled(u *compare) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return u.enabled
}

func (c *ManualClock) attach(u *compare, ctrl *nvic.Controller, v nvic.Vector) {
	c.mu.Lock()
	u.ctrl, u.vector = ctrl, v
	c.mu.Unlock()
}

func (c *ManualClock) check() {
	var fire []*compare
	c.mu.Lock()
	for _, u := range c.views {
		if u.due(c.now) {
			fire = append(fire, u)
		}
	}
	c.mu.Unlock()

	for _, u := range fire {
		u.raise()
	}
}

// ManualView is one core's view of a shared ManualClock.
type ManualView struct {
	clock *ManualClock
	unit  *compare
}

func (v *ManualView) Now() Instant      { return v.clock.Now() }
func (v *ManualView) Rate() Rate        { return v.clock.rate }
func (v *ManualView) ClearCompareFlag() {}

func (v *ManualView) SetCompare(at Instant) { v.clock.setCompare(v.unit, at) }
func (v *ManualView) EnableTimer()          { v.clock.setEnabled(v.unit, true) }
func (v *ManualView) DisableTimer()         { v.clock.setEnabled(v.unit, false) }

// Enabled reports whether this view's timer queue needs the timer.
func (v *ManualView) Enabled() bool { return v.clock.enabled(v.unit) }

func (v *ManualView) Attach(ctrl *nvic.Controller, vec nvic.Vector) {
	v.clock.attach(v.unit, ctrl, vec)
}
