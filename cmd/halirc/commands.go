package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	_ "github.com/nerrad567/halirc/migrations"

	"github.com/nerrad567/halirc/internal/app"
	"github.com/nerrad567/halirc/internal/infrastructure/config"
	"github.com/nerrad567/halirc/internal/infrastructure/logging"
)

// rootOptions holds the global flags.
type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "halirc",
		Short:         "halirc - home automation for the living room",
		Long:          "Routes remote control and device events to actions on serial, network and exec devices.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts.configPath)
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"config file (default $HALIRC_CONFIG or "+config.DefaultPath+")")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newCheckCommand(opts))
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts.configPath)
		},
	}
}

func newCheckCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and list triggers and timers",
		Long: `Loads the configuration and builds every device, trigger and timer
without opening devices or connecting to any service.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return check(cmd.OutOrStdout(), opts.configPath)
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "halirc %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// run loads the configuration and runs the application until ctx is done.
func run(ctx context.Context, flagPath string) error {
	log := logging.Default()
	log.Info("starting halirc", "version", version, "commit", commit, "build_date", date)

	path := config.ResolvePath(flagPath)
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", path, "devices", len(cfg.Devices))

	a, err := app.Build(cfg, log, version, app.Options{})
	if err != nil {
		return fmt.Errorf("building halirc: %w", err)
	}
	if err := a.Run(ctx); err != nil {
		return err
	}
	log.Info("halirc stopped")
	return nil
}

// check builds the application offline and prints what it would run.
func check(w io.Writer, flagPath string) error {
	path := config.ResolvePath(flagPath)
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	quiet := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stderr"}, version)

	a, err := app.Build(cfg, quiet, version, app.Options{})
	if err != nil {
		return fmt.Errorf("building halirc: %w", err)
	}
	defer a.Close()

	fmt.Fprintf(w, "%s: ok\n\ndevices:\n", path)
	for _, d := range a.Registry().All() {
		fmt.Fprintf(w, "  %s\n", d.Name())
	}
	fmt.Fprintln(w, "\ntriggers:")
	// Build adds triggers and timers in file order.
	for i, t := range a.Hal().Triggers() {
		repeat := ""
		if t.MayRepeat {
			repeat = " (repeat)"
		}
		fmt.Fprintf(w, "  %s: %v -> %s %v%s\n", t.Name, t.Patterns, cfg.Triggers[i].Action, t.Args, repeat)
	}
	fmt.Fprintln(w, "\ntimers:")
	for i, t := range a.Hal().Timers() {
		fmt.Fprintf(w, "  %s: [%s] -> %s %v\n", t.Name, t.Schedule, cfg.Timers[i].Action, t.Args)
	}
	return nil
}
