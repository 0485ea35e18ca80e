// internal/nvic/controller.go

package nvic

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Vector is an interrupt request number.
type Vector uint16

// Priority is a logical interrupt priority. 0 is thread mode (idle), higher
// values preempt lower ones.
type Priority uint8

// Handler is the body executed when a vector is taken.
type Handler func()

type line struct {
	name     string
	priority Priority
	handler  Handler
	enabled  bool
	pending  bool
}

// Controller emulates a nested vectored interrupt controller for a single
// hardware thread. Handlers run on the goroutine that owns the core (the one
// calling App.Run); a pended vector whose priority is above the current
// threshold is taken immediately, nested on the caller's stack, exactly where
// hardware would preempt.
//
// Pend, RaiseMask, RestoreMask, Disable, Enable and Critical must only be
// called from the core goroutine. Signal is the only entry point that is safe
// from other goroutines; signalled vectors are latched and taken at the next
// preemption point of the core.
type Controller struct {
	mu      sync.Mutex
	lines   map[Vector]*line
	maxPrio Priority

	// core-owned state
	active   []Priority // priorities of the handlers currently on the stack
	basepri  Priority   // 0 = no masking
	disabled int        // nesting depth of global critical sections

	wake chan struct{} // wait-for-interrupt doorbell

	log *slog.Logger
}

// New returns a controller with 1<<priorityBits logical priority levels.
// Interrupts start globally disabled, as they are out of reset.
func New(priorityBits uint8, log *slog.Logger) *Controller {
	if priorityBits == 0 || priorityBits > 7 {
		priorityBits = 3
	}
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		lines:    make(map[Vector]*line),
		maxPrio:  Priority(1 << priorityBits),
		disabled: 1,
		wake:     make(chan struct{}, 1),
		log:      log,
	}
}

// MaxPriority is the highest logical priority a vector can have.
func (c *Controller) MaxPriority() Priority { return c.maxPrio }

// Bind installs a handler on v at the given priority and enables the line.
func (c *Controller) Bind(v Vector, name string, prio Priority, h Handler) error {
	if prio == 0 || prio > c.maxPrio {
		return fmt.Errorf("vector %s: priority %d out of range 1..%d", name, prio, c.maxPrio)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if l, dup := c.lines[v]; dup {
		return fmt.Errorf("vector %d already bound to %s", v, l.name)
	}
	c.lines[v] = &line{name: name, priority: prio, handler: h, enabled: true}
	c.log.Debug("vector bound", "vector", v, "name", name, "priority", prio)
	return nil
}

// SetEnabled masks or unmasks a single line.
func (c *Controller) SetEnabled(v Vector, on bool) {
	c.mu.Lock()
	if l, ok := c.lines[v]; ok {
		l.enabled = on
	}
	c.mu.Unlock()
	if on {
		c.service()
	}
}

// Pend sets v pending and takes it right away if it preempts the current
// context.
func (c *Controller) Pend(v Vector) {
	c.mu.Lock()
	if l, ok := c.lines[v]; ok {
		l.pending = true
	}
	c.mu.Unlock()
	c.service()
}

// Unpend clears a pending request that has not been taken yet.
func (c *Controller) Unpend(v Vector) {
	c.mu.Lock()
	if l, ok := c.lines[v]; ok {
		l.pending = false
	}
	c.mu.Unlock()
}

// IsPending reports whether v is waiting to be taken.
func (c *Controller) IsPending(v Vector) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.lines[v]
	return ok && l.pending
}

// Signal latches v from any goroutine (a peripheral raising its line). The
// core takes it at its next preemption point or wakes from WaitForInterrupt.
func (c *Controller) Signal(v Vector) {
	c.mu.Lock()
	if l, ok := c.lines[v]; ok {
		l.pending = true
	}
	c.mu.Unlock()
	c.Wake()
}

// Wake rings the wait-for-interrupt doorbell without pending a vector. It is
// used for work that lives in thread mode (priority 0).
func (c *Controller) Wake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Priority returns the priority of the running context (0 in thread mode).
func (c *Controller) Priority() Priority {
	if n := len(c.active); n > 0 {
		return c.active[n-1]
	}
	return 0
}

// Mask returns the current priority mask.
func (c *Controller) Mask() Priority { return c.basepri }

// RaiseMask raises the priority mask to at least ceiling and returns the
// previous mask for RestoreMask. Vectors at or below the mask are held off.
func (c *Controller) RaiseMask(ceiling Priority) Priority {
	prev := c.basepri
	if ceiling > c.basepri {
		c.basepri = ceiling
	}
	return prev
}

// RestoreMask writes back a mask returned by RaiseMask and takes anything
// that was held off by it.
func (c *Controller) RestoreMask(prev Priority) {
	c.basepri = prev
	c.service()
}

// Disable masks all interrupts. Calls nest.
func (c *Controller) Disable() {
	c.disabled++
}

// Enable undoes one Disable. When the outermost critical section ends, latched
// vectors are taken.
func (c *Controller) Enable() {
	if c.disabled == 0 {
		return
	}
	c.disabled--
	if c.disabled == 0 {
		c.service()
	}
}

// Enabled reports whether interrupts are globally enabled.
func (c *Controller) Enabled() bool { return c.disabled == 0 }

// Critical runs fn with interrupts globally disabled. Interrupts are enabled
// again on every exit path, including a panic in fn.
func (c *Controller) Critical(fn func()) {
	c.Disable()
	defer c.Enable()
	fn()
}

// Poll takes any latched vectors that preempt the current context. It is a
// preemption point for code that runs a long time without touching the
// controller.
func (c *Controller) Poll() {
	c.service()
}

// WaitForInterrupt parks the core until a vector is signalled, Wake is called
// or ctx is done, then takes whatever is pending.
func (c *Controller) WaitForInterrupt(ctx context.Context) error {
	c.service()
	select {
	case <-c.wake:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.service()
	return nil
}

// next picks the highest priority pending vector that preempts the current
// threshold. Ties go to the lowest vector number.
func (c *Controller) next() (*line, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.disabled > 0 {
		return nil, false
	}
	threshold := c.Priority()
	if c.basepri > threshold {
		threshold = c.basepri
	}

	var (
		best   *line
		bestNo Vector
	)
	for v, l := range c.lines {
		if !l.pending || !l.enabled || l.priority <= threshold {
			continue
		}
		if best == nil || l.priority > best.priority || (l.priority == best.priority && v < bestNo) {
			best, bestNo = l, v
		}
	}
	if best == nil {
		return nil, false
	}
	best.pending = false
	return best, true
}

// service takes pending vectors until nothing preempts the current context.
func (c *Controller) service() {
	for {
		l, ok := c.next()
		if !ok {
			return
		}
		c.run(l)
	}
}

func (c *Controller) run(l *line) {
	c.active = append(c.active, l.priority)
	mask := c.basepri
	defer func() {
		c.active = c.active[:len(c.active)-1]
		c.basepri = mask
	}()
	l.handler()
}
