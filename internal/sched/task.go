// internal/sched/task.go

package sched

import (
	"fmt"

	"github.com/emirpasic/gods/queues/circularbuffer"

	"rtiq/internal/analysis"
	"rtiq/internal/async"
)

// TaskID is the index of a task in the plan.
type TaskID int

type kind int

const (
	kindSoftware kind = iota
	kindAsync
	kindHardware
)

func (k kind) String() string {
	switch k {
	case kindSoftware:
		return "software"
	case kindAsync:
		return "async"
	default:
		return "hardware"
	}
}

// taskCore is the type-erased part of a task the dispatchers work on.
type taskCore struct {
	app    *App
	id     TaskID
	plan   analysis.Task
	level  *level
	shared []bool // by resource index
	cx     Context

	registered bool

	// software tasks
	free *circularbuffer.Queue
	run  func(slot int)

	// async tasks
	cell  async.Cell
	waker async.Waker

	// hardware tasks
	hw func(cx *Context)
}

func newTaskCore(a *App, t analysis.Task) *taskCore {
	tc := &taskCore{
		app:    a,
		id:     TaskID(t.Index),
		plan:   t,
		shared: make([]bool, len(a.plan.Resources)),
	}
	tc.cx = Context{app: a, task: tc, prio: t.Priority, name: t.Name}
	for _, r := range t.Shared {
		tc.shared[r] = true
	}
	if !t.Hardware && !t.Async {
		tc.free = circularbuffer.New(t.Capacity)
		for slot := 0; slot < t.Capacity; slot++ {
			tc.free.Enqueue(slot)
		}
	}
	if t.Async {
		tc.waker = async.NewWaker(tc.wake)
	}
	return tc
}

func (tc *taskCore) kind() kind {
	switch {
	case tc.plan.Hardware:
		return kindHardware
	case tc.plan.Async:
		return kindAsync
	default:
		return kindSoftware
	}
}

// wake is the waker of an async task: flag the cell and pend the dispatcher
// of its priority level.
func (tc *taskCore) wake() {
	tc.cell.SetPending()
	tc.app.emit(EventWake, tc, -1)
	tc.app.pendLevel(tc.level)
}

// poll runs the async task once if it was woken.
func (tc *taskCore) poll() bool {
	if !tc.cell.IsPending() {
		return false
	}
	if !tc.cell.IsRunning() {
		// stale wake from a completed activation
		tc.cell.Poll(tc.waker)
		return false
	}
	tc.cx.prio = tc.plan.Priority
	tc.app.emit(EventPoll, tc, -1)
	if !tc.cell.Poll(tc.waker) {
		return false
	}
	if !tc.cell.IsRunning() {
		tc.app.emit(EventFinish, tc, -1)
	}
	return true
}

// interrupt is the vector handler of a hardware task.
func (tc *taskCore) interrupt() {
	if tc.hw == nil {
		return
	}
	tc.cx.prio = tc.plan.Priority
	tc.app.emit(EventDispatch, tc, -1)
	tc.hw(&tc.cx)
	tc.app.emit(EventFinish, tc, -1)
}

func (a *App) register(name string, k kind) (*taskCore, error) {
	if a.state != StatePreInit {
		return nil, fmt.Errorf("task %s: %w", name, ErrState)
	}
	pt, ok := a.plan.Task(name)
	if !ok {
		return nil, fmt.Errorf("task %s: %w", name, ErrUnknownTask)
	}
	tc := a.tasks[pt.Index]
	if got := tc.kind(); got != k {
		return nil, fmt.Errorf("task %s is declared %s, registered as %s: %w", name, got, k, ErrKind)
	}
	if tc.registered {
		return nil, fmt.Errorf("task %s: %w", name, ErrAlreadyRegistered)
	}
	tc.registered = true
	return tc, nil
}

// Task is a software task taking a payload of type T. Software tasks run to
// completion on the dispatcher of their priority; async tasks are polled
// there until their future completes.
type Task[T any] struct {
	core     *taskCore
	payloads []T
	body     func(*Context, T)
	future   func(*Context, T) async.Future
}

// Software registers the body of a declared run-to-completion task.
func Software[T any](app *App, name string, body func(*Context, T)) (*Task[T], error) {
	if body == nil {
		return nil, fmt.Errorf("task %s: %w", name, ErrMissingBody)
	}
	tc, err := app.register(name, kindSoftware)
	if err != nil {
		return nil, err
	}
	t := &Task[T]{core: tc, payloads: make([]T, tc.plan.Capacity), body: body}
	tc.run = t.run
	return t, nil
}

// Async registers the body of a declared async task. body builds the future
// of one activation; it is called at spawn time and must not block.
func Async[T any](app *App, name string, body func(*Context, T) async.Future) (*Task[T], error) {
	if body == nil {
		return nil, fmt.Errorf("task %s: %w", name, ErrMissingBody)
	}
	tc, err := app.register(name, kindAsync)
	if err != nil {
		return nil, err
	}
	return &Task[T]{core: tc, future: body}, nil
}

func (t *Task[T]) Name() string       { return t.core.plan.Name }
func (t *Task[T]) Priority() Priority { return t.core.plan.Priority }
func (t *Task[T]) Capacity() int      { return t.core.plan.Capacity }

// Spawn queues one activation with payload arg. When every slot is taken the
// payload comes back in a *FullError[T].
func (t *Task[T]) Spawn(arg T) error {
	tc := t.core
	a := tc.app
	if tc.plan.Async {
		if !tc.cell.TryAllocate() {
			return t.reject(arg)
		}
		tc.cell.Spawn(t.future(&tc.cx, arg))
		a.emit(EventSpawn, tc, 0)
		a.pendLevel(tc.level)
		return nil
	}

	slot, ok := a.alloc(tc, false)
	if !ok {
		return t.reject(arg)
	}
	t.payloads[slot] = arg
	a.emit(EventSpawn, tc, slot)
	a.ready(tc, slot, false)
	return nil
}

// SpawnRemote is Spawn for code running on another core, and is safe from
// any goroutine. The activation is queued under the queue mutex and the
// level's interrupt is latched, so the target core takes it at its next
// preemption point. Async tasks are not spawned across cores.
func (t *Task[T]) SpawnRemote(arg T) error {
	tc := t.core
	a := tc.app
	if tc.plan.Async {
		return fmt.Errorf("spawn %s from another core: %w", tc.plan.Name, ErrKind)
	}
	slot, ok := a.alloc(tc, true)
	if !ok {
		return t.reject(arg)
	}
	t.payloads[slot] = arg
	a.emit(EventSpawn, tc, slot)
	a.ready(tc, slot, true)
	return nil
}

func (t *Task[T]) reject(arg T) error {
	t.core.app.emit(EventReject, t.core, -1)
	t.core.app.log.Debug("spawn rejected", "task", t.core.plan.Name)
	return &FullError[T]{Task: t.core.plan.Name, Payload: arg}
}

// run executes one activation. The slot goes back to the free queue before
// the body runs, so a task can respawn itself from its own body.
func (t *Task[T]) run(slot int) {
	tc := t.core
	arg := t.payloads[slot]
	var zero T
	t.payloads[slot] = zero
	tc.app.free(tc, slot)

	tc.cx.prio = tc.plan.Priority
	tc.app.emit(EventDispatch, tc, slot)
	t.body(&tc.cx, arg)
	tc.app.emit(EventFinish, tc, slot)
}

// Running reports whether an async activation has not completed yet.
func (t *Task[T]) Running() bool { return t.core.cell.IsRunning() }

// Polls is how often the async task has been polled.
func (t *Task[T]) Polls() uint64 { return t.core.cell.Polls() }

// HardwareTask is a task bound directly to a peripheral interrupt.
type HardwareTask struct {
	core *taskCore
}

// Hardware registers the body of a declared hardware task.
func Hardware(app *App, name string, body func(*Context)) (*HardwareTask, error) {
	if body == nil {
		return nil, fmt.Errorf("task %s: %w", name, ErrMissingBody)
	}
	tc, err := app.register(name, kindHardware)
	if err != nil {
		return nil, err
	}
	tc.hw = body
	return &HardwareTask{core: tc}, nil
}

func (h *HardwareTask) Name() string       { return h.core.plan.Name }
func (h *HardwareTask) Priority() Priority { return h.core.plan.Priority }

// Pend raises the task's interrupt from the core.
func (h *HardwareTask) Pend() { h.core.app.ctrl.Pend(h.core.plan.Vector) }

// Signal raises the task's interrupt from any goroutine.
func (h *HardwareTask) Signal() { h.core.app.ctrl.Signal(h.core.plan.Vector) }
