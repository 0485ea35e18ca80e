package sched

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rtiq/internal/async"
	"rtiq/internal/config"
	"rtiq/internal/timeq"
)

func TestCrossCoreSpawnOverSharedClock(t *testing.T) {
	clock := timeq.NewManualClock(1000, 0)
	rxApp, rxRec := newApp(t, withTimer(testConfig([]config.Task{
		{Name: "rx", Priority: 1, Capacity: 3},
	})), WithClock(clock.Share()))
	txApp, _ := newApp(t, withTimer(testConfig([]config.Task{
		{Name: "tx", Priority: 2, Capacity: 3},
	})), WithClock(clock.Share()))

	got := make(chan int, 3)
	rx, err := Software(rxApp, "rx", func(cx *Context, n int) { got <- n })
	require.NoError(t, err)
	dropped := make(chan error, 3)
	tx, err := Software(txApp, "tx", func(cx *Context, n int) {
		if err := rx.SpawnRemote(n); err != nil {
			dropped <- err
		}
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- RunCores(ctx,
			Core{App: rxApp},
			Core{App: txApp, Init: func(ic *InitContext) error {
				for i, at := range []timeq.Instant{10, 20, 30} {
					if _, err := tx.SpawnAt(at, i); err != nil {
						return err
					}
				}
				return nil
			}},
		)
	}()

	var seen []int
	deadline := time.After(5 * time.Second)
	for len(seen) < 3 {
		select {
		case n := <-got:
			seen = append(seen, n)
		case err := <-dropped:
			t.Fatalf("remote spawn rejected: %v", err)
		case err := <-done:
			t.Fatalf("cores stopped early: %v", err)
		case <-deadline:
			t.Fatal("cross-core spawns never arrived")
		case <-time.After(time.Millisecond):
			clock.Advance(1)
		}
	}
	cancel()
	require.NoError(t, <-done)
	require.Equal(t, []int{0, 1, 2}, seen)
	require.Equal(t, []string{"Dispatch:rx", "Dispatch:rx", "Dispatch:rx"}, rxRec.Filter(EventDispatch))
}

func TestSpawnRemoteKeepsCapacity(t *testing.T) {
	app, rec := newApp(t, testConfig([]config.Task{
		{Name: "sink", Priority: 1},
		{Name: "job", Priority: 1, Async: true},
	}))
	sink, err := Software(app, "sink", func(cx *Context, n int) {})
	require.NoError(t, err)
	job, err := Async(app, "job", func(cx *Context, _ int) async.Future { return async.Ready() })
	require.NoError(t, err)

	// before Run interrupts are off, so the first activation stays queued
	require.NoError(t, sink.SpawnRemote(1))
	err = sink.SpawnRemote(2)
	n, full := Rejected[int](err)
	require.True(t, full)
	require.Equal(t, 2, n)
	require.ErrorIs(t, job.SpawnRemote(0), ErrKind)
	require.Equal(t, 1, app.Pending(1))

	run(t, app, nil, nil)
	require.Equal(t, []string{"Dispatch:sink"}, rec.Filter(EventDispatch))
}

func TestRunCoresRejectsDuplicateApps(t *testing.T) {
	app, _ := newApp(t, testConfig(nil))
	require.Error(t, RunCores(context.Background()))
	require.Error(t, RunCores(context.Background(), Core{App: app}, Core{App: app}))
	require.Error(t, RunCores(context.Background(), Core{}))
}
