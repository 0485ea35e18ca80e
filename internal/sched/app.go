// internal/sched/app.go

package sched

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"rtiq/internal/analysis"
	"rtiq/internal/config"
	"rtiq/internal/nvic"
	"rtiq/internal/timeq"
)

// Priority is a logical task priority. 0 runs in thread mode.
type Priority = nvic.Priority

// State is the lifecycle phase of an App.
type State int

const (
	StatePreInit State = iota
	StateInit
	StateIdle
)

func (s State) String() string {
	switch s {
	case StatePreInit:
		return "PreInit"
	case StateInit:
		return "Init"
	case StateIdle:
		return "Idle"
	default:
		return "Unknown"
	}
}

// App is one statically configured application on one core. Tasks and
// resources are registered between New and Run; Run then owns the calling
// goroutine, which becomes the core every handler executes on.
type App struct {
	cfg  config.Config
	plan *analysis.Plan
	ctrl *nvic.Controller

	clock    timeq.Monotonic
	ownClock *timeq.TickClock // started and stopped by Run
	timer    *timeq.Timer

	tasks     []*taskCore
	levels    map[Priority]*level
	qmu       sync.Mutex // free and ready queues, shared with other cores
	resources []storage            // by resource index
	locals    map[localKey]storage // by owner and name

	tracer Tracer
	log    *slog.Logger
	state  State
}

type storage interface {
	initialized() bool
}

type localKey struct {
	task TaskID
	name string
}

type options struct {
	log    *slog.Logger
	tracer Tracer
	clock  timeq.Monotonic
	device *nvic.Device
}

// Option customises New.
type Option func(*options)

// WithLogger sets the lifecycle logger. slog.Default is used otherwise.
func WithLogger(log *slog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithTracer receives every scheduling event.
func WithTracer(t Tracer) Option {
	return func(o *options) { o.tracer = t }
}

// WithClock replaces the tick-driven system clock behind the timer queue.
func WithClock(m timeq.Monotonic) Option {
	return func(o *options) { o.clock = m }
}

// WithDevice takes the interrupt controller from d instead of creating a
// fresh device.
func WithDevice(d *nvic.Device) Option {
	return func(o *options) { o.device = d }
}

// New analyses cfg and builds the queues, dispatchers and timer queue it
// calls for.
func New(cfg config.Config, opts ...Option) (*App, error) {
	cfg.Normalize()
	plan, err := analysis.Analyze(cfg)
	if err != nil {
		return nil, fmt.Errorf("analyze: %w", err)
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	if o.device == nil {
		o.device = nvic.NewDevice(uint8(cfg.Device.PriorityBits), o.log)
	}
	ctrl, ok := o.device.Take()
	if !ok {
		return nil, ErrTaken
	}
	if ctrl.MaxPriority() < plan.MaxPriority {
		return nil, fmt.Errorf("device has %d priority levels, configuration needs %d", ctrl.MaxPriority(), plan.MaxPriority)
	}

	a := &App{
		cfg:       cfg,
		plan:      plan,
		ctrl:      ctrl,
		clock:     o.clock,
		levels:    make(map[Priority]*level),
		resources: make([]storage, len(plan.Resources)),
		locals:    make(map[localKey]storage),
		tracer:    o.tracer,
		log:       o.log,
	}

	size := make(map[Priority]int)
	for _, t := range plan.Tasks {
		if !t.Hardware && !t.Async {
			size[t.Priority] += t.Capacity
		}
	}
	for _, p := range plan.Levels {
		a.levels[p] = newLevel(p, size[p])
	}
	for _, t := range plan.Tasks {
		tc := newTaskCore(a, t)
		a.tasks = append(a.tasks, tc)
		if !t.Hardware {
			a.levels[t.Priority].add(tc)
		}
	}

	for _, d := range plan.Dispatchers {
		l := a.levels[d.Priority]
		l.vector = d.Vector
		if err := ctrl.Bind(d.Vector, d.Name, d.Priority, func() { a.dispatch(l) }); err != nil {
			return nil, err
		}
	}
	for _, tc := range a.tasks {
		if !tc.plan.Hardware {
			continue
		}
		if err := ctrl.Bind(tc.plan.Vector, tc.plan.Binds, tc.plan.Priority, tc.interrupt); err != nil {
			return nil, err
		}
	}

	if tm := plan.Timer; tm != nil {
		if a.clock == nil {
			a.ownClock = timeq.NewTickClock(cfg.Monotonic.TickHz)
			a.clock = a.ownClock
		}
		a.timer = timeq.NewTimer(a.clock, ctrl, tm.Vector, a.release)
		if err := ctrl.Bind(tm.Vector, tm.Name, tm.Priority, a.onTimer); err != nil {
			return nil, err
		}
	}

	a.log.Debug("application built",
		"tasks", len(plan.Tasks),
		"resources", len(plan.Resources),
		"dispatchers", len(plan.Dispatchers),
		"timer", plan.Timer != nil)
	return a, nil
}

// Plan is the analysed configuration.
func (a *App) Plan() *analysis.Plan { return a.plan }

// Controller is the interrupt controller the App runs on.
func (a *App) Controller() *nvic.Controller { return a.ctrl }

// State is the current lifecycle phase.
func (a *App) State() State { return a.state }

// Now reads the monotonic, or 0 without one.
func (a *App) Now() timeq.Instant {
	if a.clock == nil {
		return 0
	}
	return a.clock.Now()
}

// Timer is the timer queue, nil without a monotonic.
func (a *App) Timer() *timeq.Timer { return a.timer }

// Delay returns a future that completes at least d from now.
func (a *App) Delay(d time.Duration) *timeq.Delay {
	a.mustTimer()
	return a.timer.Delay(a.timer.Rate().Ticks(d))
}

// DelayUntil returns a future that completes at instant at.
func (a *App) DelayUntil(at timeq.Instant) *timeq.Delay {
	a.mustTimer()
	return a.timer.DelayUntil(at)
}

func (a *App) mustTimer() {
	if a.timer == nil {
		panic(ErrNoMonotonic)
	}
}

// Pend raises the named interrupt on the core. It must be called from the
// core; peripherals on other goroutines use Signal.
func (a *App) Pend(vector string) error {
	v, err := a.vector(vector)
	if err != nil {
		return err
	}
	a.ctrl.Pend(v)
	return nil
}

// Signal latches the named interrupt from any goroutine.
func (a *App) Signal(vector string) error {
	v, err := a.vector(vector)
	if err != nil {
		return err
	}
	a.ctrl.Signal(v)
	return nil
}

func (a *App) vector(name string) (nvic.Vector, error) {
	irq, ok := a.cfg.Device.Vectors[name]
	if !ok || irq < 0 {
		return 0, fmt.Errorf("unknown interrupt %q", name)
	}
	return nvic.Vector(irq), nil
}

// Run executes the lifecycle. With interrupts disabled it checks that every
// declared task has a body, runs init and checks that every resource got its
// initial value. It then enables interrupts, which dispatches whatever init
// spawned, and hands the core to idle. Without idle a built-in loop runs
// priority-0 tasks and parks the core between interrupts until ctx is done.
func (a *App) Run(ctx context.Context, init func(*InitContext) error, idle func(*IdleContext)) error {
	if a.state != StatePreInit {
		return fmt.Errorf("run in state %s: %w", a.state, ErrState)
	}
	for _, tc := range a.tasks {
		if !tc.registered {
			return fmt.Errorf("task %s: %w", tc.plan.Name, ErrMissingBody)
		}
	}
	if _, zero := a.levels[0]; zero && idle != nil {
		return ErrIdleConflict
	}
	if a.ctrl.Enabled() {
		a.ctrl.Disable()
	}

	a.state = StateInit
	a.log.Info("init")
	if init != nil {
		ic := &InitContext{Context: &Context{app: a, prio: a.plan.MaxPriority, name: "init"}}
		if err := init(ic); err != nil {
			return fmt.Errorf("init: %w", err)
		}
	}
	if err := a.checkStorage(); err != nil {
		return err
	}

	if a.ownClock != nil {
		a.ownClock.Start()
		defer a.ownClock.Stop()
	}

	a.state = StateIdle
	a.log.Info("interrupts enabled", "idle", idle != nil, "mode", a.cfg.Idle.Mode)
	a.emit(EventIdle, nil, -1)
	a.ctrl.Enable()

	if idle != nil {
		idle(&IdleContext{Context: &Context{app: a, name: "idle"}, ctx: ctx})
		return nil
	}
	a.idle(ctx)
	return nil
}

func (a *App) checkStorage() error {
	for _, r := range a.plan.Resources {
		s := a.resources[r.Index]
		if s == nil || !s.initialized() {
			return fmt.Errorf("resource %s: %w", r.Name, ErrUninitialized)
		}
	}
	for _, tc := range a.tasks {
		for _, name := range tc.plan.Local {
			s, ok := a.locals[localKey{tc.id, name}]
			if !ok || !s.initialized() {
				return fmt.Errorf("local %s of task %s: %w", name, tc.plan.Name, ErrUninitialized)
			}
		}
	}
	return nil
}

// idle is the default thread-mode loop.
func (a *App) idle(ctx context.Context) {
	spin := a.cfg.Idle.Mode == config.IdleSpin
	for {
		if a.drainZero() {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if spin {
			a.ctrl.Poll()
			runtime.Gosched()
			continue
		}
		if err := a.ctrl.WaitForInterrupt(ctx); err != nil {
			return
		}
	}
}

func (a *App) emit(kind EventKind, tc *taskCore, slot int) {
	if a.tracer == nil {
		return
	}
	ev := Event{
		Time: time.Now(),
		Tick: a.Now(),
		Kind: kind,
		Slot: slot,
	}
	if tc != nil {
		ev.Task = tc.plan.Name
		ev.Priority = tc.plan.Priority
	}
	a.tracer.Trace(ev)
}
