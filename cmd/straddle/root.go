package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/eddiefleurent/scranton_straddle/internal/config"
	"github.com/eddiefleurent/scranton_straddle/internal/mock"
	"github.com/eddiefleurent/scranton_straddle/internal/provider"
	"github.com/eddiefleurent/scranton_straddle/internal/storage"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "straddle",
		Short: "Backtest an intraday short-straddle strategy on index options",
		Long: `Straddle sells the at-the-money call and put at a fixed time each session,
exits on stop-loss, take-profit or the end of the window, and re-enters at a
new strike after a stop-loss until the re-entry limit or the daily loss cap
is reached.

Commands:
  backtest  run the configured sessions once and export the results
  sweep     run a grid of parameter combinations and rank them
  serve     expose stored runs over a read-only JSON API
  generate  write a synthetic CSV dataset for the configured sessions
  runs      list journaled runs`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "path to configuration file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override environment.log_level")

	cmd.AddCommand(
		newBacktestCmd(opts),
		newSweepCmd(opts),
		newServeCmd(opts),
		newGenerateCmd(opts),
		newRunsCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// app holds what every subcommand builds from the config file.
type app struct {
	cfg    *config.Config
	logger *logrus.Logger
	loc    *time.Location
}

func loadApp(opts *rootOptions, cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(cfg.LogLevel())
	if opts.logLevel != "" {
		level, err := logrus.ParseLevel(opts.logLevel)
		if err != nil {
			return nil, fmt.Errorf("--log-level: %w", err)
		}
		logger.SetLevel(level)
	}

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, loc: loc}, nil
}

// provider builds the configured data source behind retry and a circuit
// breaker. The breaker sees one call per retried operation.
func (a *app) provider() (provider.MarketDataProvider, error) {
	var base provider.MarketDataProvider
	switch a.cfg.Data.Provider {
	case config.ProviderSynthetic:
		base = mock.NewSyntheticProvider(a.loc, mock.WithAnnualVol(a.cfg.Data.AnnualVol))
	default:
		base = provider.NewCSVProvider(a.cfg.Data.Dir, a.loc)
	}

	retry, err := a.cfg.RetryConfig()
	if err != nil {
		return nil, err
	}
	settings, err := a.cfg.CircuitBreakerSettings()
	if err != nil {
		return nil, err
	}

	log := a.logger.WithField("provider", a.cfg.Data.Provider)
	return provider.NewCircuitBreakerProvider(
		provider.NewRetryingProvider(base, log, retry),
		settings,
		log,
	), nil
}

func (a *app) openJournal() (*storage.SQLiteStorage, error) {
	path := a.cfg.Output.JournalPath
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	journal, err := storage.NewSQLiteStorage(path)
	if err != nil {
		return nil, err
	}
	journal.SetLogger(a.logger.WithField("journal", path))
	return journal, nil
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context, logger logrus.FieldLogger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			logger.Info("Shutdown signal received, stopping...")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "straddle %s\n", version)
		},
	}
}
