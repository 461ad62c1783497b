package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/sawpanic/shortrun/internal/config"
)

const (
	appName = "shortrun"
	version = "v0.4.0"
)

// rootOptions are the persistent flags shared by every subcommand
type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Short-position advisor: scores shorting opportunities and keeps a short ledger",
		Version: version,
		Long: `shortrun polls market data, asks a decision service for shorting actions,
applies them to an in-memory short ledger and records every decision.

Offline commands (opportunities, positions, decisions, serve) need no API key.
cycle and run require DEEPSEEK_API_KEY.`,
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to YAML config (defaults plus environment when empty)")
	flags.StringVar(&opts.logLevel, "log-level", "", "Override log level (debug|info|warn|error)")
	flags.StringVar(&opts.logFormat, "log-format", "", "Override log format (auto|console|json)")

	rootCmd.AddCommand(
		newOpportunitiesCmd(opts),
		newCycleCmd(opts),
		newRunCmd(opts),
		newServeCmd(opts),
		newPositionsCmd(opts),
		newDecisionsCmd(opts),
	)
	return rootCmd
}

// loadConfig reads the config file, applies flag overrides and configures logging
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Log.Format = opts.logFormat
	}
	if err := setupLogging(cfg.Log, os.Stderr); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging configures the global zerolog logger
func setupLogging(cfg config.LogConfig, out *os.File) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	writer, err := logWriter(cfg.Format, out)
	if err != nil {
		return err
	}

	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(writer).With().Timestamp().Logger()
	return nil
}

// logWriter picks console output for terminals and JSON lines otherwise
func logWriter(format string, out *os.File) (io.Writer, error) {
	switch strings.ToLower(format) {
	case "json":
		return out, nil
	case "console":
		return zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}, nil
	case "", "auto":
		if term.IsTerminal(int(out.Fd())) {
			return zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen}, nil
		}
		return out, nil
	default:
		return nil, fmt.Errorf("invalid log format %q (auto|console|json)", format)
	}
}
