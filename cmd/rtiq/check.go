package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"rtiq/internal/analysis"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Analyse a configuration and print the dispatch plan",
	Long: "Validate the configuration and print every task priority, resource ceiling, " +
		"dispatcher interrupt and the timer queue binding. All violations are reported at once.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		plan, err := analysis.Analyze(cfg)
		if err != nil {
			return err
		}
		printPlan(cmd.OutOrStdout(), plan)
		return nil
	},
}

func printPlan(w io.Writer, plan *analysis.Plan) {
	fmt.Fprintf(w, "priorities 1..%d\n\n", plan.MaxPriority)

	fmt.Fprintln(w, "tasks:")
	for _, t := range plan.Tasks {
		kind := "software"
		switch {
		case t.Hardware:
			kind = "hardware " + t.Binds
		case t.Async:
			kind = "async"
		}
		var shared []string
		for _, ri := range t.Shared {
			shared = append(shared, plan.Resources[ri].Name)
		}
		fmt.Fprintf(w, "  %-16s prio %d  cap %d  %-18s shared [%s]\n",
			t.Name, t.Priority, t.Capacity, kind, strings.Join(shared, " "))
	}

	fmt.Fprintln(w, "resources:")
	for _, r := range plan.Resources {
		mode := "lock"
		if r.LockFree {
			mode = "lock-free"
		}
		fmt.Fprintf(w, "  %-16s ceiling %d  %s\n", r.Name, r.Ceiling, mode)
	}

	fmt.Fprintln(w, "dispatchers:")
	for _, d := range plan.Dispatchers {
		fmt.Fprintf(w, "  prio %d -> %s (irq %d)\n", d.Priority, d.Name, d.Vector)
	}
	for _, p := range plan.Levels {
		if p == 0 {
			fmt.Fprintln(w, "  prio 0 -> main loop")
		}
	}

	if plan.Timer != nil {
		fmt.Fprintf(w, "timer queue: %s (irq %d) at prio %d\n", plan.Timer.Name, plan.Timer.Vector, plan.Timer.Priority)
	}
}
