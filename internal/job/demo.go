// Package job provides the demo workloads the CLI installs on a configured
// application: periodic run-to-completion tasks, async samplers and
// interrupt-driven hardware tasks, all hammering the shared resources they
// declare.
package job

import (
	"fmt"
	"io"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"rtiq/internal/async"
	"rtiq/internal/sched"
)

// Demo is a workload installed on every task of an App.
type Demo struct {
	app    *sched.App
	period time.Duration
	work   int

	resources map[string]*sched.Resource[int]
	locals    map[string]*sched.Local[int]
	software  []*sched.Task[int]
	async     []*sched.Task[int]

	runs    map[string]int
	values  map[string]int // last value written to each resource
	dropped int
	sink    uint32
}

// Install registers a body for every declared task. Software tasks burn work
// iterations, update their resources and respawn themselves every period;
// async tasks do the same with a delay; hardware tasks count their interrupt.
func Install(app *sched.App, period time.Duration, work int) (*Demo, error) {
	d := &Demo{
		app:       app,
		period:    period,
		work:      work,
		resources: make(map[string]*sched.Resource[int]),
		locals:    make(map[string]*sched.Local[int]),
		runs:      make(map[string]int),
		values:    make(map[string]int),
	}
	plan := app.Plan()

	for _, r := range plan.Resources {
		res, err := sched.Shared[int](app, r.Name)
		if err != nil {
			return nil, err
		}
		d.resources[r.Name] = res
	}

	for _, t := range plan.Tasks {
		shared := make([]sched.Lockable, 0, len(t.Shared))
		for _, ri := range t.Shared {
			shared = append(shared, d.resources[plan.Resources[ri].Name])
		}
		var locals []*sched.Local[int]
		for _, name := range t.Local {
			l, err := sched.LocalOf[int](app, t.Name, name)
			if err != nil {
				return nil, err
			}
			d.locals[t.Name+"."+name] = l
			locals = append(locals, l)
		}

		switch {
		case t.Hardware:
			if _, err := sched.Hardware(app, t.Name, func(cx *sched.Context) {
				d.activation(cx, shared, locals)
			}); err != nil {
				return nil, err
			}
		case t.Async:
			task, err := sched.Async(app, t.Name, func(cx *sched.Context, _ int) async.Future {
				return async.Loop(func() async.Future {
					d.activation(cx, shared, locals)
					if d.app.Timer() == nil {
						return nil
					}
					return cx.Delay(d.period)
				})
			})
			if err != nil {
				return nil, err
			}
			d.async = append(d.async, task)
		default:
			var task *sched.Task[int]
			task, err := sched.Software(app, t.Name, func(cx *sched.Context, n int) {
				d.activation(cx, shared, locals)
				if d.app.Timer() == nil {
					return
				}
				if _, err := task.SpawnAfter(d.period, n+1); err != nil {
					d.dropped++
				}
			})
			if err != nil {
				return nil, err
			}
			d.software = append(d.software, task)
		}
	}
	return d, nil
}

func (d *Demo) activation(cx *sched.Context, shared []sched.Lockable, locals []*sched.Local[int]) {
	d.runs[cx.Name()]++
	d.sink ^= Spin(d.work)
	for _, l := range locals {
		*l.Get(cx)++
	}
	if len(shared) == 0 {
		return
	}
	cx.LockAll(func() {
		for _, r := range shared {
			v := r.(*sched.Resource[int]).Access(cx)
			*v++
			d.values[r.Name()] = *v
		}
	}, shared...)
}

// Init gives every resource its initial value and starts the workload. Pass
// it to App.Run.
func (d *Demo) Init(ic *sched.InitContext) error {
	for _, r := range d.resources {
		r.Init(ic, 0)
	}
	for _, l := range d.locals {
		l.Init(ic, 0)
	}
	for _, t := range d.software {
		if err := t.Spawn(0); err != nil {
			return fmt.Errorf("start %s: %w", t.Name(), err)
		}
	}
	for _, t := range d.async {
		if err := t.Spawn(0); err != nil {
			return fmt.Errorf("start %s: %w", t.Name(), err)
		}
	}
	return nil
}

// Values is the last value written to each resource.
func (d *Demo) Values() map[string]int { return maps.Clone(d.values) }

// Runs is the number of activations per task.
func (d *Demo) Runs() map[string]int { return maps.Clone(d.runs) }

// Dropped is the number of respawns rejected because the task was full.
func (d *Demo) Dropped() int { return d.dropped }

// Report writes the activation counts and resource values, sorted by name.
// Call it once Run has returned.
func (d *Demo) Report(w io.Writer) {
	names := maps.Keys(d.runs)
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(w, "task     %-16s %d runs\n", name, d.runs[name])
	}
	names = maps.Keys(d.resources)
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(w, "resource %-16s %d\n", name, d.values[name])
	}
	if d.dropped > 0 {
		fmt.Fprintf(w, "dropped  %d respawns\n", d.dropped)
	}
}

// Spin burns n iterations of integer work and returns the result so the loop
// is not optimised away.
func Spin(n int) uint32 {
	x := uint32(2463534242)
	for i := 0; i < n; i++ {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
	}
	return x
}
