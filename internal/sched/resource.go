package sched

import (
	"fmt"

	"rtiq/internal/analysis"
)

// Resource is shared state guarded by the priority ceiling protocol. Its
// ceiling is the highest priority of the tasks that declare it, so a lock
// never blocks: it only keeps the other accessors from being dispatched
// until the critical section ends.
type Resource[T any] struct {
	app   *App
	plan  analysis.Resource
	value T
	ready bool
}

// Shared registers the storage of the named resource.
func Shared[T any](app *App, name string) (*Resource[T], error) {
	if app.state != StatePreInit {
		return nil, fmt.Errorf("resource %s: %w", name, ErrState)
	}
	pr, ok := app.plan.Resource(name)
	if !ok {
		return nil, fmt.Errorf("resource %s: %w", name, ErrUnknownResource)
	}
	if app.resources[pr.Index] != nil {
		return nil, fmt.Errorf("resource %s: %w", name, ErrAlreadyRegistered)
	}
	r := &Resource[T]{app: app, plan: pr}
	app.resources[pr.Index] = r
	return r, nil
}

func (r *Resource[T]) Name() string      { return r.plan.Name }
func (r *Resource[T]) Ceiling() Priority { return r.plan.Ceiling }
func (r *Resource[T]) LockFree() bool    { return r.plan.LockFree }
func (r *Resource[T]) index() int        { return r.plan.Index }
func (r *Resource[T]) initialized() bool { return r.ready }

// Init gives the resource its initial value. Only init may call it.
func (r *Resource[T]) Init(ic *InitContext, v T) {
	if ic == nil || r.app.state != StateInit {
		panic(fmt.Sprintf("resource %s initialized outside init", r.plan.Name))
	}
	r.value = v
	r.ready = true
}

// Lock runs fn with exclusive access to the value. The pointer must not
// outlive fn.
func (r *Resource[T]) Lock(cx *Context, fn func(*T)) {
	cx.mayAccess(r.plan.Index, r.plan.Name)
	if r.plan.LockFree && cx.prio >= r.plan.Ceiling {
		fn(&r.value)
		return
	}
	cx.raise(r.plan.Ceiling, func() {
		cx.trace(EventLock, r.plan.Name)
		defer cx.trace(EventUnlock, r.plan.Name)
		fn(&r.value)
	})
}

// Access returns the value directly. It is valid wherever the context
// already runs at the ceiling: in a lock-free resource's own accessors and
// inside a LockAll. Idle and init are not accessors of a lock-free resource,
// so idle must Lock it like any other.
func (r *Resource[T]) Access(cx *Context) *T {
	cx.mayAccess(r.plan.Index, r.plan.Name)
	if cx.prio < r.plan.Ceiling {
		panic(fmt.Sprintf("resource %s accessed at priority %d below its ceiling %d", r.plan.Name, cx.prio, r.plan.Ceiling))
	}
	return &r.value
}

// LockValue locks r and returns what fn computes from the value.
func LockValue[T, R any](cx *Context, r *Resource[T], fn func(*T) R) R {
	var out R
	r.Lock(cx, func(v *T) { out = fn(v) })
	return out
}

// Local is state owned by exactly one task. No other task can reach it, so
// it is accessed without locking.
type Local[T any] struct {
	owner *taskCore
	name  string
	value T
	ready bool
}

// LocalOf registers the storage of a local declared by task.
func LocalOf[T any](app *App, task, name string) (*Local[T], error) {
	if app.state != StatePreInit {
		return nil, fmt.Errorf("local %s: %w", name, ErrState)
	}
	pt, ok := app.plan.Task(task)
	if !ok {
		return nil, fmt.Errorf("local %s of %s: %w", name, task, ErrUnknownTask)
	}
	declared := false
	for _, l := range pt.Local {
		declared = declared || l == name
	}
	if !declared {
		return nil, fmt.Errorf("task %s does not declare local %s", task, name)
	}
	tc := app.tasks[pt.Index]
	key := localKey{tc.id, name}
	if _, dup := app.locals[key]; dup {
		return nil, fmt.Errorf("local %s of %s: %w", name, task, ErrAlreadyRegistered)
	}
	l := &Local[T]{owner: tc, name: name}
	app.locals[key] = l
	return l, nil
}

func (l *Local[T]) initialized() bool { return l.ready }

// Init gives the local its initial value. Only init may call it.
func (l *Local[T]) Init(ic *InitContext, v T) {
	if ic == nil || l.owner.app.state != StateInit {
		panic(fmt.Sprintf("local %s initialized outside init", l.name))
	}
	l.value = v
	l.ready = true
}

// Get returns the value to its owning task.
func (l *Local[T]) Get(cx *Context) *T {
	if cx.task != l.owner {
		panic(fmt.Sprintf("local %s of task %s used by %s", l.name, l.owner.plan.Name, cx.name))
	}
	return &l.value
}
