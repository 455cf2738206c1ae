// Package cli wires the alarm engine into the alarm-engine command.
package cli

import (
	"fmt"
	"os"

	"alarm-engine/internal/config"
	"alarm-engine/internal/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Version is overridden via ldflags.
	Version = "dev"
	// Commit is the short git SHA embedded at build time.
	Commit = "none"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

// NewRootCommand builds the alarm-engine command tree.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "alarm-engine",
		Short:         "Industrial alarm evaluation and lifecycle engine.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML config (default $"+config.EnvConfigPath+")")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCommand(opts),
		newStatsCommand(opts),
		newMigrateCommand(opts),
		newTokenCommand(opts),
		newVersionCommand(),
	)
	return root
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "alarm-engine:", err)
		os.Exit(1)
	}
}

// load resolves config and builds the process logger.
func (o *rootOptions) load() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, nil, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, log.With(zap.String("service", "alarm-engine")), nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information.",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "alarm-engine %s (commit %s)\n", Version, Commit)
		},
	}
}
