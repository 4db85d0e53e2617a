// Package cmd contains the CLI commands for sensorwatch.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"sensorwatch/internal/alerts"
	"sensorwatch/internal/config"
	"sensorwatch/internal/logger"
	"sensorwatch/internal/processor"
	"sensorwatch/internal/state"
)

// options holds the global flags shared by every command.
type options struct {
	output         string
	logLevel       string
	storageBackend string
	storagePath    string

	cfg *config.Config
}

// Execute runs the root command. It is called by main.main().
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "sensorwatch",
		Short: "sensorwatch - threshold alerts for environmental sensors",
		Long: `sensorwatch watches a temperature, humidity and soil moisture sensor,
compares every reading with the configured thresholds and keeps a
clearable history of the alerts that fired.

Configuration is read from the environment (and an optional .env file);
flags override it.

Examples:
  # Run the service
  sensorwatch serve --addr :8080

  # Alert when temperature exceeds 30°C
  sensorwatch thresholds set --temperature 30 --temperature-condition exceeds

  # Show the alert history, newest first
  sensorwatch alerts list --newest`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.output, "output", "o", "table", "output format (table, json)")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&opts.storageBackend, "storage", "", "storage backend (sqlite, memory)")
	flags.StringVar(&opts.storagePath, "db", "", "SQLite database path")

	rootCmd.AddCommand(
		newServeCmd(opts),
		newThresholdsCmd(opts),
		newAlertsCmd(opts),
		newEvaluateCmd(opts),
		newVersionCmd(opts),
	)
	return rootCmd
}

// load reads the configuration and applies flag overrides.
func (o *options) load(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.storageBackend != "" {
		cfg.Storage.Backend = o.storageBackend
	}
	if o.storagePath != "" {
		cfg.Storage.Path = o.storagePath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if o.output != "table" && o.output != "json" {
		return fmt.Errorf("unknown output format %q", o.output)
	}

	// Command output owns stdout; serve switches to the service logger.
	logger.InitWithWriter(cfg.LogLevel, cmd.ErrOrStderr())
	o.cfg = cfg
	return nil
}

// withEngine opens storage for a one-shot command and closes it afterwards.
func (o *options) withEngine(ctx context.Context, fn func(*alerts.Engine) error) error {
	engine, store, err := processor.OpenEngine(ctx, o.cfg)
	if err != nil {
		return err
	}
	defer closeStore(store)
	return fn(engine)
}

func closeStore(s state.Store) {
	if err := s.Close(); err != nil {
		log := logger.WithComponent("cli")
		log.Warn().Err(err).Msg("failed to close storage")
	}
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
