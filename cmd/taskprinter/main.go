// Command taskprinter prints household task tickets on a network thermal
// printer whenever a task's recurrence comes due.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"

	"taskprinter/internal/config"
	appLog "taskprinter/internal/log"
	"taskprinter/internal/printer"
	"taskprinter/internal/recurrence"
	"taskprinter/internal/store"
	"taskprinter/internal/web"
)

const version = "0.3.0"

func main() {
	os.Exit(run())
}

func run() int {
	if err := newRootCmd().Execute(); err != nil {
		var exitErr interface{ ExitCode() int }
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode()
		}
		return 1
	}
	return 0
}

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "taskprinter",
		Short:         "Print recurring household task tickets on a thermal printer",
		Version:       version,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath(), "path to config file (.yaml or .toml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error); overrides config")

	root.AddCommand(
		newServeCmd(opts),
		newCheckCmd(opts),
		newPreviewCmd(),
		newPrintTestCmd(opts),
		newImportCmd(opts),
	)
	return root
}

func defaultConfigPath() string {
	if v := os.Getenv("TASKPRINTER_CONFIG"); v != "" {
		return v
	}
	return "/etc/taskprinter/config.yaml"
}

// app bundles the long-lived collaborators built from the config.
type app struct {
	cfg     *config.Config
	store   *store.Store
	printer *printer.Network
	engine  *recurrence.Engine
	loc     *time.Location
}

func openApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", opts.configPath, err)
	}
	level := cfg.LogLevel
	if opts.logLevel != "" {
		level = opts.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(level))

	policy, err := recurrence.ParsePolicy(cfg.Schedule.BlackoutPolicy)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, err
	}

	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"database", cfg.DatabasePath,
		"printer", fmt.Sprintf("%s:%d", cfg.Printer.Host, cfg.Printer.Port),
		"printer_enabled", cfg.Printer.Enabled,
		"check_cron", cfg.CheckCron,
		"blackout_policy", string(policy),
	)

	loc := web.ResolveLocation(cfg.Timezone)

	return &app{
		cfg:   cfg,
		store: st,
		printer: printer.NewNetwork(printer.Options{
			Host:    cfg.Printer.Host,
			Port:    cfg.Printer.Port,
			Timeout: time.Duration(cfg.Printer.TimeoutSeconds) * time.Second,
			Width:   cfg.Printer.Width,
			Enabled: cfg.Printer.Enabled,
		}),
		engine: recurrence.NewEngine(recurrence.Config{
			OccurrenceCap: cfg.Schedule.OccurrenceCap,
			HorizonMonths: cfg.Schedule.HorizonMonths,
			Policy:        policy,
			Location:      loc,
		}),
		loc: loc,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
