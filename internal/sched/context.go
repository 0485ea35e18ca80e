package sched

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/exp/slices"

	"rtiq/internal/timeq"
)

// Context is the execution token handed to a task body. It carries the
// task's dynamic priority, which a lock raises to the resource ceiling for
// the duration of its critical section. A Context must not escape the body it
// was handed to.
type Context struct {
	app  *App
	task *taskCore // nil in init and idle
	prio Priority
	name string
}

// Name of the running task, or "init" / "idle".
func (cx *Context) Name() string { return cx.name }

// Priority is the current dynamic priority.
func (cx *Context) Priority() Priority { return cx.prio }

// App the context belongs to.
func (cx *Context) App() *App { return cx.app }

// Now reads the monotonic.
func (cx *Context) Now() timeq.Instant { return cx.app.Now() }

// Delay returns a future that completes at least d from now.
func (cx *Context) Delay(d time.Duration) *timeq.Delay { return cx.app.Delay(d) }

// DelayUntil returns a future that completes at instant at.
func (cx *Context) DelayUntil(at timeq.Instant) *timeq.Delay { return cx.app.DelayUntil(at) }

// Lockable is a resource that can take part in LockAll.
type Lockable interface {
	Name() string
	Ceiling() Priority
	index() int
}

// LockAll runs fn with every resource in rs locked. The locks are taken in
// ascending ceiling order, ties by declaration order, which makes one mask
// raise to the highest ceiling sufficient. Inside fn the resources are
// reached with Access.
func (cx *Context) LockAll(fn func(), rs ...Lockable) {
	if len(rs) == 0 {
		fn()
		return
	}
	sorted := slices.Clone(rs)
	slices.SortStableFunc(sorted, func(x, y Lockable) int {
		if x.Ceiling() != y.Ceiling() {
			return int(x.Ceiling()) - int(y.Ceiling())
		}
		return x.index() - y.index()
	})
	for _, r := range sorted {
		cx.mayAccess(r.index(), r.Name())
	}

	top := sorted[len(sorted)-1].Ceiling()
	cx.raise(top, func() {
		for _, r := range sorted {
			cx.trace(EventLock, r.Name())
		}
		defer func() {
			for i := len(sorted) - 1; i >= 0; i-- {
				cx.trace(EventUnlock, sorted[i].Name())
			}
		}()
		fn()
	})
}

// raise runs fn at priority ceiling. A context already at or above the
// ceiling runs fn directly. The maximum hardware priority is reached by
// disabling interrupts; anything lower raises the priority mask. The previous
// priority is restored on every exit path.
func (cx *Context) raise(ceiling Priority, fn func()) {
	if cx.prio >= ceiling {
		fn()
		return
	}
	ctrl := cx.app.ctrl
	prev := cx.prio
	cx.prio = ceiling
	if ceiling >= ctrl.MaxPriority() {
		ctrl.Disable()
		defer func() {
			cx.prio = prev
			ctrl.Enable()
		}()
	} else {
		mask := ctrl.RaiseMask(ceiling)
		defer func() {
			cx.prio = prev
			ctrl.RestoreMask(mask)
		}()
	}
	fn()
}

// trace reports a lock event with the dynamic priority of the section.
func (cx *Context) trace(kind EventKind, resource string) {
	a := cx.app
	if a.tracer == nil {
		return
	}
	a.tracer.Trace(Event{
		Time:     time.Now(),
		Tick:     a.Now(),
		Kind:     kind,
		Task:     cx.name,
		Priority: cx.prio,
		Slot:     -1,
		Resource: resource,
	})
}

// mayAccess stands in for the static check that a task only touches the
// resources it declared. Init and idle reach every resource.
func (cx *Context) mayAccess(idx int, name string) {
	if cx.task == nil {
		return
	}
	if idx >= len(cx.task.shared) || !cx.task.shared[idx] {
		panic(fmt.Sprintf("task %s does not declare shared resource %s", cx.name, name))
	}
}

// InitContext is handed to init. It runs with interrupts disabled at the
// highest priority, so every resource is reachable without contention, and
// is where resources receive their initial values.
type InitContext struct {
	*Context
}

// IdleContext is handed to idle, which runs in thread mode at priority 0.
type IdleContext struct {
	*Context
	ctx context.Context
}

// Done is closed when Run's context is cancelled.
func (ic *IdleContext) Done() <-chan struct{} { return ic.ctx.Done() }

// Err reports why Run's context ended.
func (ic *IdleContext) Err() error { return ic.ctx.Err() }

// WaitForInterrupt parks the core until an interrupt arrives.
func (ic *IdleContext) WaitForInterrupt() error {
	return ic.app.ctrl.WaitForInterrupt(ic.ctx)
}

// Poll takes any interrupt that was signalled from another goroutine.
func (ic *IdleContext) Poll() { ic.app.ctrl.Poll() }
