package sched

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Core is one App with the lifecycle functions Run hands it.
type Core struct {
	App  *App
	Init func(*InitContext) error
	Idle func(*IdleContext)
}

// RunCores runs every core's App on a goroutine of its own, which becomes
// that core. Tasks are split statically: each App has its own configuration,
// priority space, interrupt controller and resources. Cores reach each other
// only through Task.SpawnRemote, and may share a monotonic through the
// clock's Share views; a shared TickClock is started by the caller.
//
// RunCores returns when every core has returned. The first core to fail
// cancels the context of the others.
func RunCores(ctx context.Context, cores ...Core) error {
	if len(cores) == 0 {
		return errors.New("no cores")
	}
	seen := make(map[*App]int, len(cores))
	for i, c := range cores {
		if c.App == nil {
			return fmt.Errorf("core %d: no app", i)
		}
		if j, dup := seen[c.App]; dup {
			return fmt.Errorf("core %d: app already runs on core %d", i, j)
		}
		seen[c.App] = i
	}

	g, ctx := errgroup.WithContext(ctx)
	for i, c := range cores {
		g.Go(func() error {
			if err := c.App.Run(ctx, c.Init, c.Idle); err != nil {
				return fmt.Errorf("core %d: %w", i, err)
			}
			return nil
		})
	}
	return g.Wait()
}
