package sched

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"rtiq/internal/config"
	"rtiq/internal/timeq"
)

type unit = struct{}

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func testConfig(tasks []config.Task, resources ...config.Resource) config.Config {
	cfg := config.Default()
	cfg.Device.Vectors = map[string]int{
		"UART0":  1,
		"UART1":  2,
		"SWI0":   10,
		"SWI1":   11,
		"SWI2":   12,
		"SWI3":   13,
		"TIMER0": 20,
	}
	cfg.Device.Dispatchers = []string{"SWI0", "SWI1", "SWI2", "SWI3"}
	cfg.Tasks = tasks
	cfg.Resources = resources
	return cfg
}

func withTimer(cfg config.Config) config.Config {
	cfg.Monotonic.Vector = "TIMER0"
	return cfg
}

func newApp(t *testing.T, cfg config.Config, opts ...Option) (*App, *Recorder) {
	t.Helper()
	rec := &Recorder{}
	opts = append([]Option{WithLogger(quiet), WithTracer(rec)}, opts...)
	app, err := New(cfg, opts...)
	require.NoError(t, err)
	return app, rec
}

func newTimedApp(t *testing.T, cfg config.Config, start timeq.Instant) (*App, *timeq.ManualClock, *Recorder) {
	t.Helper()
	clock := timeq.NewManualClock(1000, start)
	app, rec := newApp(t, withTimer(cfg), WithClock(clock))
	return app, clock, rec
}

// run executes init and idle to completion on the test goroutine.
func run(t *testing.T, app *App, init func(*InitContext) error, idle func(*IdleContext)) {
	t.Helper()
	if idle == nil {
		idle = func(*IdleContext) {}
	}
	require.NoError(t, app.Run(context.Background(), init, idle))
}
