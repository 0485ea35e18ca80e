package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"rtiq/internal/job"
	"rtiq/internal/sched"
)

var (
	runOpts = struct {
		duration time.Duration
		period   time.Duration
		irqEvery time.Duration
		work     int
		csv      string
		trace    bool
	}{}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the demo workload on a configuration",
		Long: "Install a demo body on every declared task and run the application on the " +
			"system clock. Hardware tasks are driven by emulated peripherals.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if runOpts.csv != "" {
				cfg.Trace.CSV = runOpts.csv
			}

			var tracers sched.MultiTracer
			if runOpts.trace {
				tracers = append(tracers, sched.LogTracer{Log: log})
			}
			if cfg.Trace.CSV != "" {
				csv, err := sched.NewCSVTracer(cfg.Trace.CSV)
				if err != nil {
					return err
				}
				defer csv.Close()
				tracers = append(tracers, csv)
			}
			opts := []sched.Option{sched.WithLogger(log)}
			if len(tracers) > 0 {
				opts = append(opts, sched.WithTracer(tracers))
			}

			app, err := sched.New(cfg, opts...)
			if err != nil {
				return err
			}
			demo, err := job.Install(app, runOpts.period, runOpts.work)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, runOpts.duration)
			defer cancel()

			var wg sync.WaitGroup
			for _, t := range app.Plan().Tasks {
				if !t.Hardware {
					continue
				}
				wg.Add(1)
				go func(vector string) {
					defer wg.Done()
					if _, err := job.Peripheral(ctx, app, vector, runOpts.irqEvery); err != nil {
						log.Error("peripheral stopped", "vector", vector, "err", err)
					}
				}(t.Binds)
			}

			err = app.Run(ctx, demo.Init, nil)
			cancel()
			wg.Wait()
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "ran for %s\n", runOpts.duration)
			demo.Report(cmd.OutOrStdout())
			return nil
		},
	}
)

func init() {
	runCmd.Flags().DurationVarP(&runOpts.duration, "duration", "d", 2*time.Second, "how long to run")
	runCmd.Flags().DurationVarP(&runOpts.period, "period", "p", 10*time.Millisecond, "respawn period of software and async tasks")
	runCmd.Flags().DurationVar(&runOpts.irqEvery, "irq-every", 5*time.Millisecond, "interval between emulated peripheral interrupts")
	runCmd.Flags().IntVarP(&runOpts.work, "work", "w", 1000, "busy-loop iterations per activation")
	runCmd.Flags().StringVar(&runOpts.csv, "csv", "", "write every scheduling event to this CSV file")
	runCmd.Flags().BoolVarP(&runOpts.trace, "trace", "t", false, "log every scheduling event")
}
