// internal/timeq/tickclock.go

package timeq

import (
	"sync"
	"sync/atomic"
	"time"

	"rtiq/internal/nvic"
)

// tickChannel is one compare channel of a TickClock.
type tickChannel struct {
	at      atomic.Uint32
	armed   atomic.Bool
	enabled atomic.Bool

	mu     sync.Mutex
	ctrl   *nvic.Controller
	vector nvic.Vector
}

func (ch *tickChannel) tick(now Instant) {
	if !ch.enabled.Load() || !ch.armed.Load() || !now.AtLeast(Instant(ch.at.Load())) {
		return
	}
	if !ch.armed.CompareAndSwap(true, false) {
		return
	}
	ch.mu.Lock()
	ctrl, v := ch.ctrl, ch.vector
	ch.mu.Unlock()
	if ctrl != nil {
		ctrl.Signal(v)
	}
}

func (ch *tickChannel) setCompare(at Instant) {
	ch.at.Store(uint32(at))
	ch.armed.Store(true)
}

func (ch *tickChannel) attach(ctrl *nvic.Controller, v nvic.Vector) {
	ch.mu.Lock()
	ch.ctrl, ch.vector = ctrl, v
	ch.mu.Unlock()
}

// TickClock is a wall-clock monotonic: a ticker goroutine counts ticks
// atomically and raises the compare interrupt when the count reaches the
// armed compare value. Every core sharing the clock gets its own compare
// channel through Share.
type TickClock struct {
	rate  Rate
	count atomic.Uint32
	own   *tickChannel

	mu       sync.Mutex
	channels atomic.Pointer[[]*tickChannel]

	stop chan struct{}
	done chan struct{}
}

// NewTickClock creates a clock but does not start it.
func NewTickClock(hz int) *TickClock {
	c := &TickClock{
		rate: Rate{Hz: hz},
		own:  &tickChannel{},
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	chans := []*tickChannel{c.own}
	c.channels.Store(&chans)
	return c
}

// Start begins counting at the configured rate.
func (c *TickClock) Start() {
	period := c.rate.Period()
	if period <= 0 {
		period = time.Nanosecond
	}
	ticker := time.NewTicker(period)
	go func() {
		defer close(c.done)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				now := Instant(c.count.Add(1))
				for _, ch := range *c.channels.Load() {
					ch.tick(now)
				}
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop halts the ticker goroutine and waits for it to exit.
func (c *TickClock) Stop() {
	close(c.stop)
	<-c.done
}

// Share returns a view of the clock with a compare channel of its own, for
// the timer queue of another core.
func (c *TickClock) Share() *TickView {
	ch := &tickChannel{}
	c.mu.Lock()
	chans := append(append([]*tickChannel(nil), *c.channels.Load()...), ch)
	c.channels.Store(&chans)
	c.mu.Unlock()
	return &TickView{clock: c, ch: ch}
}

// Now returns the current tick count atomically.
func (c *TickClock) Now() Instant { return Instant(c.count.Load()) }

func (c *TickClock) Rate() Rate { return c.rate }

func (c *TickClock) SetCompare(at Instant) { c.own.setCompare(at) }

func (c *TickClock) ClearCompareFlag() {}

func (c *TickClock) EnableTimer() { c.own.enabled.Store(true) }

func (c *TickClock) DisableTimer() { c.own.enabled.Store(false) }

func (c *TickClock) Attach(ctrl *nvic.Controller, v nvic.Vector) { c.own.attach(ctrl, v) }

// TickView is one core's view of a shared TickClock. Starting and stopping
// stay with the clock's owner.
type TickView struct {
	clock *TickClock
	ch    *tickChannel
}

func (v *TickView) Now() Instant          { return v.clock.Now() }
func (v *TickView) Rate() Rate            { return v.clock.rate }
func (v *TickView) SetCompare(at Instant) { v.ch.setCompare(at) }
func (v *TickView) ClearCompareFlag()     {}
func (v *TickView) EnableTimer()          { v.ch.enabled.Store(true) }
func (v *TickView) DisableTimer()         { v.ch.enabled.Store(false) }

func (v *TickView) Attach(ctrl *nvic.Controller, vec nvic.Vector) { v.ch.attach(ctrl, vec) }
