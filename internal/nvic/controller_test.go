package nvic

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newEnabled(t *testing.T) *Controller {
	t.Helper()
	c := New(3, slog.Default())
	c.Enable()
	require.True(t, c.Enabled())
	return c
}

func TestPendPreemptsLowerPriority(t *testing.T) {
	c := newEnabled(t)
	var order []string

	require.NoError(t, c.Bind(2, "high", 2, func() { order = append(order, "high") }))
	require.NoError(t, c.Bind(1, "low", 1, func() {
		order = append(order, "low:start")
		c.Pend(2)
		order = append(order, "low:end")
	}))

	c.Pend(1)
	require.Equal(t, []string{"low:start", "high", "low:end"}, order)
	require.Equal(t, Priority(0), c.Priority())
}

func TestSamePriorityDoesNotPreempt(t *testing.T) {
	c := newEnabled(t)
	var order []string

	require.NoError(t, c.Bind(2, "b", 1, func() { order = append(order, "b") }))
	require.NoError(t, c.Bind(1, "a", 1, func() {
		c.Pend(2)
		order = append(order, "a")
	}))

	c.Pend(1)
	require.Equal(t, []string{"a", "b"}, order)
}

func TestMaskHoldsOffUntilRestore(t *testing.T) {
	c := newEnabled(t)
	ran := 0
	require.NoError(t, c.Bind(3, "t", 2, func() { ran++ }))

	prev := c.RaiseMask(2)
	c.Pend(3)
	require.Equal(t, 0, ran)
	require.True(t, c.IsPending(3))

	c.RestoreMask(prev)
	require.Equal(t, 1, ran)
	require.Equal(t, Priority(0), c.Mask())
}

func TestRaiseMaskNeverLowers(t *testing.T) {
	c := newEnabled(t)
	outer := c.RaiseMask(4)
	inner := c.RaiseMask(2)
	require.Equal(t, Priority(4), c.Mask())
	c.RestoreMask(inner)
	require.Equal(t, Priority(4), c.Mask())
	c.RestoreMask(outer)
	require.Equal(t, Priority(0), c.Mask())
}

func TestCriticalNestsAndRestoresOnPanic(t *testing.T) {
	c := newEnabled(t)
	ran := 0
	require.NoError(t, c.Bind(1, "t", 8, func() { ran++ }))

	require.Panics(t, func() {
		c.Critical(func() {
			c.Critical(func() { c.Pend(1) })
			require.Equal(t, 0, ran)
			panic("boom")
		})
	})
	require.True(t, c.Enabled())
	require.Equal(t, 1, ran)
}

func TestBindRejectsDuplicatesAndRange(t *testing.T) {
	c := New(2, nil)
	require.NoError(t, c.Bind(1, "a", 1, func() {}))
	require.Error(t, c.Bind(1, "b", 1, func() {}))
	require.Error(t, c.Bind(2, "c", 0, func() {}))
	require.Error(t, c.Bind(3, "d", 5, func() {}))
}

func TestSignalIsTakenByWaitForInterrupt(t *testing.T) {
	c := newEnabled(t)
	ran := make(chan struct{}, 1)
	require.NoError(t, c.Bind(7, "uart", 1, func() { ran <- struct{}{} }))

	go func() {
		time.Sleep(5 * time.Millisecond)
		c.Signal(7)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for len(ran) == 0 {
		require.NoError(t, c.WaitForInterrupt(ctx))
	}
	<-ran
}

func TestTakeOnlyOnce(t *testing.T) {
	d := NewDevice(3, nil)
	ctrl, ok := d.Take()
	require.True(t, ok)
	require.NotNil(t, ctrl)

	again, ok := d.Take()
	require.False(t, ok)
	require.Nil(t, again)
}
