package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"rtiq/internal/config"
)

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:   "rtiq",
		Short: "Static priority scheduler for interrupt-driven tasks",
		Long: "rtiq analyses a static task configuration (priorities, shared resources, " +
			"dispatcher interrupts) and runs it on an emulated interrupt controller.",
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yml", "configuration file")
	rootCmd.AddCommand(checkCmd, runCmd)
}

// loadConfig reads the configuration and builds the logger it asks for.
func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, nil, err
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Trace.LogLevel)); err != nil {
		return cfg, nil, fmt.Errorf("trace.log_level: %w", err)
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return cfg, log, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
