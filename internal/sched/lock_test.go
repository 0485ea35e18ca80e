package sched

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"rtiq/internal/config"
)

func TestLockDefersHigherPriorityUntilRelease(t *testing.T) {
	app, rec := newApp(t, testConfig([]config.Task{
		{Name: "low", Priority: 1, Shared: []string{"r"}},
		{Name: "high", Priority: 2, Shared: []string{"r"}},
	}, config.Resource{Name: "r"}))

	r, err := Shared[int](app, "r")
	require.NoError(t, err)
	require.Equal(t, Priority(2), r.Ceiling())

	var order []string
	high, err := Software(app, "high", func(cx *Context, _ unit) {
		r.Lock(cx, func(v *int) { *v++ })
		order = append(order, "high")
	})
	require.NoError(t, err)
	low, err := Software(app, "low", func(cx *Context, _ unit) {
		r.Lock(cx, func(v *int) {
			require.Equal(t, Priority(2), cx.Priority())
			order = append(order, "locked")
			require.NoError(t, high.Spawn(unit{}))
			require.Equal(t, 1, app.Pending(2))
			order = append(order, "spawned")
			*v++
		})
		require.Equal(t, Priority(1), cx.Priority())
		order = append(order, "end")
	})
	require.NoError(t, err)

	run(t, app, func(ic *InitContext) error {
		r.Init(ic, 0)
		return low.Spawn(unit{})
	}, func(ic *IdleContext) {
		require.Equal(t, 2, LockValue(ic.Context, r, func(v *int) int { return *v }))
	})

	require.Equal(t, []string{"locked", "spawned", "high", "end"}, order)
	require.Equal(t, []string{
		"Lock:low/r", "Unlock:low/r",
		"Lock:high/r", "Unlock:high/r",
		"Lock:idle/r", "Unlock:idle/r",
	}, rec.Filter(EventLock, EventUnlock))
}

func TestLockAtMaximumPriorityDisablesInterrupts(t *testing.T) {
	app, _ := newApp(t, testConfig([]config.Task{
		{Name: "low", Priority: 1, Shared: []string{"r"}},
		{Name: "top", Priority: 8, Shared: []string{"r"}},
	}, config.Resource{Name: "r"}))

	r, err := Shared[int](app, "r")
	require.NoError(t, err)

	var order []string
	top, err := Software(app, "top", func(cx *Context, _ unit) { order = append(order, "top") })
	require.NoError(t, err)
	low, err := Software(app, "low", func(cx *Context, _ unit) {
		r.Lock(cx, func(*int) {
			require.False(t, app.Controller().Enabled())
			require.NoError(t, top.Spawn(unit{}))
			order = append(order, "locked")
		})
		require.True(t, app.Controller().Enabled())
		order = append(order, "end")
	})
	require.NoError(t, err)

	run(t, app, func(ic *InitContext) error {
		r.Init(ic, 0)
		return low.Spawn(unit{})
	}, nil)
	require.Equal(t, []string{"locked", "top", "end"}, order)
}

func TestPanicInsideLockRestoresPriority(t *testing.T) {
	app, _ := newApp(t, testConfig([]config.Task{
		{Name: "low", Priority: 1, Shared: []string{"r"}},
		{Name: "high", Priority: 3, Shared: []string{"r"}},
	}, config.Resource{Name: "r"}))

	r, err := Shared[int](app, "r")
	require.NoError(t, err)
	ranHigh := false
	high, err := Software(app, "high", func(cx *Context, _ unit) { ranHigh = true })
	require.NoError(t, err)
	low, err := Software(app, "low", func(cx *Context, _ unit) {
		require.Panics(t, func() {
			r.Lock(cx, func(*int) {
				require.NoError(t, high.Spawn(unit{}))
				panic("boom")
			})
		})
		require.True(t, ranHigh)
		require.Equal(t, Priority(1), cx.Priority())
		require.Equal(t, Priority(0), app.Controller().Mask())
	})
	require.NoError(t, err)

	run(t, app, func(ic *InitContext) error {
		r.Init(ic, 0)
		return low.Spawn(unit{})
	}, nil)
	require.True(t, ranHigh)
}

func TestUndeclaredAndBelowCeilingAccessPanics(t *testing.T) {
	app, _ := newApp(t, testConfig([]config.Task{
		{Name: "a", Priority: 1, Shared: []string{"r"}},
		{Name: "b", Priority: 2, Shared: []string{"r"}},
		{Name: "stranger", Priority: 1},
	}, config.Resource{Name: "r"}))

	r, err := Shared[int](app, "r")
	require.NoError(t, err)
	checked := 0
	a, err := Software(app, "a", func(cx *Context, _ unit) {
		require.Panics(t, func() { _ = r.Access(cx) })
		cx.LockAll(func() { *r.Access(cx) = 7 }, r)
		checked++
	})
	require.NoError(t, err)
	_, err = Software(app, "b", func(cx *Context, _ unit) {})
	require.NoError(t, err)
	stranger, err := Software(app, "stranger", func(cx *Context, _ unit) {
		require.Panics(t, func() { r.Lock(cx, func(*int) {}) })
		checked++
	})
	require.NoError(t, err)

	run(t, app, func(ic *InitContext) error {
		r.Init(ic, 0)
		if err := a.Spawn(unit{}); err != nil {
			return err
		}
		return stranger.Spawn(unit{})
	}, func(ic *IdleContext) {
		require.Equal(t, 7, LockValue(ic.Context, r, func(v *int) int { return *v }))
	})
	require.Equal(t, 2, checked)
}

func TestLockAllRaisesToHighestCeiling(t *testing.T) {
	app, rec := newApp(t, testConfig([]config.Task{
		{Name: "low", Priority: 1, Shared: []string{"a", "b"}},
		{Name: "mid", Priority: 2, Shared: []string{"a"}},
		{Name: "high", Priority: 3, Shared: []string{"b"}},
	}, config.Resource{Name: "a"}, config.Resource{Name: "b"}))

	ra, err := Shared[int](app, "a")
	require.NoError(t, err)
	rb, err := Shared[string](app, "b")
	require.NoError(t, err)

	var order []string
	mid, err := Software(app, "mid", func(cx *Context, _ unit) { order = append(order, "mid") })
	require.NoError(t, err)
	high, err := Software(app, "high", func(cx *Context, _ unit) { order = append(order, "high") })
	require.NoError(t, err)
	low, err := Software(app, "low", func(cx *Context, _ unit) {
		cx.LockAll(func() {
			require.Equal(t, Priority(3), cx.Priority())
			*ra.Access(cx)++
			*rb.Access(cx) += "x"
			require.NoError(t, mid.Spawn(unit{}))
			require.NoError(t, high.Spawn(unit{}))
			order = append(order, "locked")
		}, rb, ra)
		order = append(order, "end")
	})
	require.NoError(t, err)

	run(t, app, func(ic *InitContext) error {
		ra.Init(ic, 0)
		rb.Init(ic, "")
		return low.Spawn(unit{})
	}, nil)

	require.Equal(t, []string{"locked", "high", "mid", "end"}, order)
	require.Equal(t, []string{"Lock:low/a", "Lock:low/b", "Unlock:low/b", "Unlock:low/a"}, rec.Filter(EventLock, EventUnlock))
}

func TestLockFreeResourceSkipsTheCeiling(t *testing.T) {
	app, _ := newApp(t, testConfig([]config.Task{
		{Name: "a", Priority: 2, Shared: []string{"stats"}},
		{Name: "b", Priority: 2, Shared: []string{"stats"}},
	}, config.Resource{Name: "stats", LockFree: true}))

	stats, err := Shared[int](app, "stats")
	require.NoError(t, err)
	require.True(t, stats.LockFree())
	body := func(cx *Context, _ unit) {
		*stats.Access(cx)++
		stats.Lock(cx, func(v *int) { *v++ })
	}
	a, err := Software(app, "a", body)
	require.NoError(t, err)
	b, err := Software(app, "b", body)
	require.NoError(t, err)

	run(t, app, func(ic *InitContext) error {
		stats.Init(ic, 0)
		if err := a.Spawn(unit{}); err != nil {
			return err
		}
		return b.Spawn(unit{})
	}, func(ic *IdleContext) {
		require.Equal(t, 4, LockValue(ic.Context, stats, func(v *int) int { return *v }))
		require.Panics(t, func() { stats.Access(ic.Context) })
	})
}

func TestIdleLocksLockFreeResourceAtItsCeiling(t *testing.T) {
	app, rec := newApp(t, testConfig([]config.Task{
		{Name: "a", Priority: 2, Shared: []string{"stats"}},
	}, config.Resource{Name: "stats", LockFree: true}))

	stats, err := Shared[int](app, "stats")
	require.NoError(t, err)
	inside := false
	overlap := false
	a, err := Software(app, "a", func(cx *Context, _ unit) {
		overlap = overlap || inside
		stats.Lock(cx, func(v *int) { *v++ })
	})
	require.NoError(t, err)

	run(t, app, func(ic *InitContext) error {
		stats.Init(ic, 0)
		return nil
	}, func(ic *IdleContext) {
		stats.Lock(ic.Context, func(v *int) {
			inside = true
			require.NoError(t, a.Spawn(unit{}))
			require.Equal(t, 0, *v, "a must not run inside the section")
			inside = false
		})
		require.Equal(t, 1, LockValue(ic.Context, stats, func(v *int) int { return *v }))
	})
	require.False(t, overlap)
	require.Equal(t, []string{"Lock:idle/stats", "Unlock:idle/stats", "Dispatch:a", "Lock:idle/stats", "Unlock:idle/stats"},
		rec.Filter(EventLock, EventUnlock, EventDispatch))
}

func TestLocalBelongsToOneTask(t *testing.T) {
	app, _ := newApp(t, testConfig([]config.Task{
		{Name: "counter", Priority: 1, Capacity: 3, Local: []string{"n"}},
		{Name: "other", Priority: 1},
	}))

	n, err := LocalOf[int](app, "counter", "n")
	require.NoError(t, err)
	last := 0
	counter, err := Software(app, "counter", func(cx *Context, _ unit) {
		*n.Get(cx)++
		last = *n.Get(cx)
	})
	require.NoError(t, err)
	other, err := Software(app, "other", func(cx *Context, _ unit) {
		require.Panics(t, func() { n.Get(cx) })
	})
	require.NoError(t, err)

	run(t, app, func(ic *InitContext) error {
		n.Init(ic, 10)
		for i := 0; i < 3; i++ {
			if err := counter.Spawn(unit{}); err != nil {
				return err
			}
		}
		return other.Spawn(unit{})
	}, func(ic *IdleContext) {
		require.Panics(t, func() { n.Get(ic.Context) })
	})
	require.Equal(t, 13, last)
}

// TestMutualExclusionUnderSpawnStorm spawns tasks of every priority at
// random, from inside and outside critical sections, and checks that no two
// lock sections on the resource ever overlap.
func TestMutualExclusionUnderSpawnStorm(t *testing.T) {
	app, _ := newApp(t, testConfig([]config.Task{
		{Name: "t1", Priority: 1, Capacity: 2, Shared: []string{"r"}},
		{Name: "t2", Priority: 2, Capacity: 2, Shared: []string{"r"}},
		{Name: "t3", Priority: 3, Capacity: 2, Shared: []string{"r"}},
		{Name: "irq", Priority: 4, Binds: "UART0"},
	}, config.Resource{Name: "r"}))

	r, err := Shared[int](app, "r")
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	var (
		tasks  []*Task[unit]
		inside int
		runs   int
		budget = 2000
	)
	spawnRandom := func() {
		if budget == 0 {
			return
		}
		budget--
		_ = tasks[rng.Intn(len(tasks))].Spawn(unit{})
	}
	body := func(cx *Context, _ unit) {
		runs++
		r.Lock(cx, func(v *int) {
			inside++
			require.Equal(t, 1, inside)
			spawnRandom()
			*v++
			inside--
		})
		spawnRandom()
	}
	for _, name := range []string{"t1", "t2", "t3"} {
		task, err := Software(app, name, body)
		require.NoError(t, err)
		tasks = append(tasks, task)
	}
	irq, err := Hardware(app, "irq", func(cx *Context) {
		spawnRandom()
		spawnRandom()
	})
	require.NoError(t, err)

	run(t, app, func(ic *InitContext) error {
		r.Init(ic, 0)
		return nil
	}, func(ic *IdleContext) {
		for budget > 0 {
			irq.Pend()
		}
		require.Equal(t, runs, LockValue(ic.Context, r, func(v *int) int { return *v }))
	})
	require.Greater(t, runs, 100)
}
