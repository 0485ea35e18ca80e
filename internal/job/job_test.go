package job

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"rtiq/internal/config"
	"rtiq/internal/sched"
	"rtiq/internal/timeq"
)

func demoConfig() config.Config {
	cfg := config.Default()
	cfg.Device.Vectors = map[string]int{"UART0": 1, "SWI0": 10, "SWI1": 11, "SWI2": 12, "TIMER0": 20}
	cfg.Device.Dispatchers = []string{"SWI0", "SWI1", "SWI2"}
	cfg.Monotonic.Vector = "TIMER0"
	cfg.Tasks = []config.Task{
		{Name: "blink", Priority: 1, Shared: []string{"counter"}, Local: []string{"led"}},
		{Name: "sampler", Priority: 2, Async: true, Shared: []string{"counter"}},
		{Name: "uart", Priority: 3, Binds: "UART0", Shared: []string{"counter"}},
	}
	cfg.Resources = []config.Resource{{Name: "counter"}}
	return cfg
}

func TestDemoRunsEveryTaskKind(t *testing.T) {
	clock := timeq.NewManualClock(1000, 0)
	app, err := sched.New(demoConfig(),
		sched.WithClock(clock),
		sched.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	demo, err := Install(app, 10*time.Millisecond, 100)
	require.NoError(t, err)

	err = app.Run(context.Background(), demo.Init, func(ic *sched.IdleContext) {
		for i := 0; i < 100; i++ {
			clock.Advance(1)
			if i%20 == 0 {
				require.NoError(t, app.Pend("UART0"))
			}
		}
	})
	require.NoError(t, err)

	runs := demo.Runs()
	require.Equal(t, 11, runs["blink"])
	require.Equal(t, 10, runs["sampler"])
	require.Equal(t, 5, runs["uart"])
	require.Equal(t, 26, demo.Values()["counter"])
	require.Zero(t, demo.Dropped())

	var out bytes.Buffer
	demo.Report(&out)
	require.Contains(t, out.String(), "blink")
	require.Contains(t, out.String(), "counter")
}

type raiser struct {
	n   atomic.Int32
	err error
}

func (r *raiser) Signal(string) error {
	r.n.Add(1)
	return r.err
}

func TestPeripheralRaisesUntilCancelled(t *testing.T) {
	r := &raiser{}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	raised, err := Peripheral(ctx, r, "UART0", time.Millisecond)
	require.NoError(t, err)
	require.Positive(t, raised)
	require.Equal(t, int32(raised), r.n.Load())
}

func TestPeripheralStopsOnError(t *testing.T) {
	boom := errors.New("no such vector")
	r := &raiser{err: boom}
	raised, err := Peripheral(context.Background(), r, "NOPE", time.Millisecond)
	require.ErrorIs(t, err, boom)
	require.Zero(t, raised)
}

func TestSpinIsDeterministic(t *testing.T) {
	require.Equal(t, Spin(10), Spin(10))
	require.NotEqual(t, Spin(0), Spin(1))
}
