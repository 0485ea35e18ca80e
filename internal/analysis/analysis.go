// Package analysis turns a static configuration into a dispatch plan: task
// priorities, resource ceilings, the dispatcher interrupt of every software
// priority level and the timer queue binding. Every structural violation is
// rejected here, so the scheduler never checks them again.
package analysis

import (
	"errors"
	"fmt"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/graph/simple"

	"rtiq/internal/config"
	"rtiq/internal/nvic"
)

// resourceBase offsets resource node IDs from task node IDs in the access graph.
const resourceBase = 1 << 20

// Task is the analysed form of a configured task.
type Task struct {
	Index    int
	Name     string
	Priority nvic.Priority
	Capacity int
	Async    bool
	Hardware bool
	Vector   nvic.Vector // hardware tasks only
	Binds    string
	Shared   []int // resource indices
	Local    []string
}

// Resource is a shared resource with its computed ceiling.
type Resource struct {
	Index     int
	Name      string
	Ceiling   nvic.Priority
	LockFree  bool
	Accessors []int // task indices, ascending
}

// Dispatcher binds a software priority level to a free interrupt.
type Dispatcher struct {
	Priority nvic.Priority
	Name     string
	Vector   nvic.Vector
}

// Timer binds the monotonic compare interrupt.
type Timer struct {
	Name     string
	Vector   nvic.Vector
	Priority nvic.Priority
}

// Plan is the finished static configuration the runtime consumes.
type Plan struct {
	MaxPriority nvic.Priority
	Tasks       []Task
	Resources   []Resource
	Dispatchers []Dispatcher    // ascending priority
	Levels      []nvic.Priority // every software level including 0, ascending
	Timer       *Timer          // nil without a monotonic

	tasks     map[string]int
	resources map[string]int
}

// Task looks a task up by name.
func (p *Plan) Task(name string) (Task, bool) {
	i, ok := p.tasks[name]
	if !ok {
		return Task{}, false
	}
	return p.Tasks[i], true
}

// Resource looks a resource up by name.
func (p *Plan) Resource(name string) (Resource, bool) {
	i, ok := p.resources[name]
	if !ok {
		return Resource{}, false
	}
	return p.Resources[i], true
}

// Dispatcher returns the dispatcher of a software level.
func (p *Plan) Dispatcher(prio nvic.Priority) (Dispatcher, bool) {
	for _, d := range p.Dispatchers {
		if d.Priority == prio {
			return d, true
		}
	}
	return Dispatcher{}, false
}

// Analyze validates cfg and computes the plan. All violations are reported
// together.
func Analyze(cfg config.Config) (*Plan, error) {
	cfg.Normalize()

	a := &analyzer{
		cfg: cfg,
		plan: &Plan{
			MaxPriority: nvic.Priority(1 << cfg.Device.PriorityBits),
			tasks:       make(map[string]int),
			resources:   make(map[string]int),
		},
		bound: make(map[string]string),
	}
	a.resources()
	a.tasks()
	a.ceilings()
	a.lockFree()
	a.dispatchers()
	a.timer()

	if err := errors.Join(a.errs...); err != nil {
		return nil, err
	}
	return a.plan, nil
}

type analyzer struct {
	cfg   config.Config
	plan  *Plan
	bound map[string]string // vector name -> owner
	errs  []error
}

func (a *analyzer) fail(format string, args ...any) {
	a.errs = append(a.errs, fmt.Errorf(format, args...))
}

func (a *analyzer) vector(name string) (nvic.Vector, bool) {
	irq, ok := a.cfg.Device.Vectors[name]
	if !ok || irq < 0 {
		return 0, false
	}
	return nvic.Vector(irq), true
}

func (a *analyzer) claim(vector, owner string) bool {
	if prev, dup := a.bound[vector]; dup {
		a.fail("interrupt %s bound twice (%s and %s)", vector, prev, owner)
		return false
	}
	a.bound[vector] = owner
	return true
}

func (a *analyzer) resources() {
	for _, r := range a.cfg.Resources {
		if r.Name == "" {
			a.fail("resource without a name")
			continue
		}
		if _, dup := a.plan.resources[r.Name]; dup {
			a.fail("resource %s declared twice", r.Name)
			continue
		}
		a.plan.resources[r.Name] = len(a.plan.Resources)
		a.plan.Resources = append(a.plan.Resources, Resource{
			Index:    len(a.plan.Resources),
			Name:     r.Name,
			LockFree: r.LockFree,
		})
	}
}

func (a *analyzer) tasks() {
	top := a.plan.MaxPriority
	for _, tc := range a.cfg.Tasks {
		if tc.Name == "" {
			a.fail("task without a name")
			continue
		}
		if _, dup := a.plan.tasks[tc.Name]; dup {
			a.fail("task %s declared twice", tc.Name)
			continue
		}
		if tc.Priority > int(top) {
			a.fail("task %s: priority %d above the maximum %d", tc.Name, tc.Priority, top)
			continue
		}

		t := Task{
			Index:    len(a.plan.Tasks),
			Name:     tc.Name,
			Priority: nvic.Priority(tc.Priority),
			Capacity: tc.Capacity,
			Async:    tc.Async,
			Hardware: tc.Hardware(),
			Binds:    tc.Binds,
			Local:    slices.Clone(tc.Local),
		}

		if t.Hardware {
			switch {
			case t.Priority == 0:
				a.fail("hardware task %s cannot run at priority 0", t.Name)
			case t.Async:
				a.fail("hardware task %s cannot be async", t.Name)
			}
			if v, ok := a.vector(tc.Binds); !ok {
				a.fail("task %s binds unknown interrupt %s", t.Name, tc.Binds)
			} else if a.claim(tc.Binds, t.Name) {
				t.Vector = v
			}
		}
		if t.Async && t.Capacity != 1 {
			a.fail("async task %s: capacity must be 1, got %d", t.Name, t.Capacity)
		}

		seen := make(map[string]bool)
		for _, name := range tc.Shared {
			ri, ok := a.plan.resources[name]
			switch {
			case !ok:
				a.fail("task %s: shared resource %s has not been declared", t.Name, name)
			case seen[name]:
				a.fail("task %s: shared resource %s listed twice", t.Name, name)
			default:
				seen[name] = true
				t.Shared = append(t.Shared, ri)
			}
		}
		locals := make(map[string]bool)
		for _, name := range tc.Local {
			if locals[name] {
				a.fail("task %s: local resource %s listed twice", t.Name, name)
			}
			locals[name] = true
		}

		a.plan.tasks[t.Name] = t.Index
		a.plan.Tasks = append(a.plan.Tasks, t)
	}
}

// ceilings computes, for every resource, the maximum priority over the tasks
// that access it.
func (a *analyzer) ceilings() {
	g := simple.NewDirectedGraph()
	for _, t := range a.plan.Tasks {
		g.AddNode(simple.Node(t.Index))
	}
	for _, r := range a.plan.Resources {
		g.AddNode(simple.Node(resourceBase + r.Index))
	}
	for _, t := range a.plan.Tasks {
		for _, ri := range t.Shared {
			g.SetEdge(g.NewEdge(simple.Node(t.Index), simple.Node(resourceBase+ri)))
		}
	}

	for i := range a.plan.Resources {
		r := &a.plan.Resources[i]
		accessors := g.To(int64(resourceBase + r.Index))
		for accessors.Next() {
			ti := int(accessors.Node().ID())
			r.Accessors = append(r.Accessors, ti)
			if p := a.plan.Tasks[ti].Priority; p > r.Ceiling {
				r.Ceiling = p
			}
		}
		slices.Sort(r.Accessors)
	}
}

// lockFree checks that lock-free resources are only touched at one priority
// and never across a suspension point.
func (a *analyzer) lockFree() {
	for _, r := range a.plan.Resources {
		if !r.LockFree {
			continue
		}
		prios := make(map[nvic.Priority]bool)
		for _, ti := range r.Accessors {
			t := a.plan.Tasks[ti]
			prios[t.Priority] = true
			if t.Async {
				a.fail("lock-free resource %s is accessed by async task %s", r.Name, t.Name)
			}
		}
		if len(prios) > 1 {
			levels := maps.Keys(prios)
			slices.Sort(levels)
			a.fail("lock-free resource %s is accessed from priorities %v", r.Name, levels)
		}
	}
}

// dispatchers assigns one free interrupt per software priority level. The
// highest level takes the last free interrupt, so lower levels map to earlier
// ones.
func (a *analyzer) dispatchers() {
	levels := map[nvic.Priority]bool{}
	for _, t := range a.plan.Tasks {
		if !t.Hardware {
			levels[t.Priority] = true
		}
	}
	a.plan.Levels = maps.Keys(levels)
	slices.Sort(a.plan.Levels)

	var pool []string
	seen := make(map[string]bool)
	for _, name := range a.cfg.Device.Dispatchers {
		if seen[name] {
			a.fail("dispatcher %s listed twice", name)
			continue
		}
		seen[name] = true
		if _, ok := a.vector(name); !ok {
			a.fail("dispatcher %s is not a known interrupt", name)
			continue
		}
		if owner, used := a.bound[name]; used {
			a.fail("dispatcher interrupt %s cannot be used by hardware task %s", name, owner)
			continue
		}
		pool = append(pool, name)
	}

	for i := len(a.plan.Levels) - 1; i >= 0; i-- {
		prio := a.plan.Levels[i]
		if prio == 0 {
			continue
		}
		if len(pool) == 0 {
			a.fail("not enough free interrupts to dispatch priority %d", prio)
			continue
		}
		name := pool[len(pool)-1]
		pool = pool[:len(pool)-1]
		v, _ := a.vector(name)
		a.claim(name, fmt.Sprintf("dispatcher %d", prio))
		a.plan.Dispatchers = append(a.plan.Dispatchers, Dispatcher{Priority: prio, Name: name, Vector: v})
	}
	slices.SortFunc(a.plan.Dispatchers, func(x, y Dispatcher) int {
		return int(x.Priority) - int(y.Priority)
	})
}

func (a *analyzer) timer() {
	mc := a.cfg.Monotonic
	if mc.Vector == "" {
		return
	}
	v, ok := a.vector(mc.Vector)
	if !ok {
		a.fail("monotonic interrupt %s is not a known interrupt", mc.Vector)
		return
	}
	if !a.claim(mc.Vector, "monotonic") {
		return
	}

	prio := nvic.Priority(mc.Priority)
	if mc.Priority <= 0 {
		prio = 1
		for _, t := range a.plan.Tasks {
			if t.Priority > prio {
				prio = t.Priority
			}
		}
	}
	if prio > a.plan.MaxPriority {
		a.fail("monotonic priority %d above the maximum %d", prio, a.plan.MaxPriority)
		return
	}
	a.plan.Timer = &Timer{Name: mc.Vector, Vector: v, Priority: prio}
}
