// Package cmd implements the CLI commands for esplay.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jmylchreest/esplay/internal/config"
	"github.com/jmylchreest/esplay/internal/observability"
	"github.com/jmylchreest/esplay/internal/version"
)

// cfgFile holds the config file path from CLI flag.
var cfgFile string

var rootCmd = &cobra.Command{
	Use:     "esplay",
	Short:   "MPEG-TS playback pipeline controller",
	Version: version.Short(),
	Long: `esplay demuxes MPEG transport streams and drives them through a
buffered playback pipeline into a player backend.

Sessions can be controlled over an HTTP API (esplay serve) or played
directly from the command line (esplay play).`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	// Logging flags are bound per load so that only explicitly set values
	// override env and file configuration.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./config.yaml, ./configs, /etc/esplay, $HOME/.esplay)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
}

// loadConfig loads configuration for cmd, applying any flags in bindings
// (config key to flag name) on top of env and file values, and installs
// the configured logger as the slog default.
func loadConfig(cmd *cobra.Command, bindings map[string]string) (*config.Config, *slog.Logger, error) {
	opts := []config.LoadOption{
		config.WithFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level")),
		config.WithFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format")),
	}
	for key, name := range bindings {
		opts = append(opts, config.WithFlag(key, lookupFlag(cmd.Flags(), name)))
	}

	cfg, err := config.Load(cfgFile, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}

	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	if cfg.Logging.Level == "warning" {
		cfg.Logging.Level = "warn"
	}
	logger := observability.NewLoggerWithWriter(cfg.Logging, os.Stderr)
	slog.SetDefault(logger)

	return cfg, logger, nil
}

func lookupFlag(fs *pflag.FlagSet, name string) *pflag.Flag {
	if f := fs.Lookup(name); f != nil {
		return f
	}
	return rootCmd.PersistentFlags().Lookup(name)
}
