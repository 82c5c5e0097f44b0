// Package main is the entry point for the repricing execution controller.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/tathienbao/repricer/internal/alerting"
	"github.com/tathienbao/repricer/internal/broker"
	"github.com/tathienbao/repricer/internal/broker/paper"
	"github.com/tathienbao/repricer/internal/clock"
	"github.com/tathienbao/repricer/internal/config"
	"github.com/tathienbao/repricer/internal/engine"
	"github.com/tathienbao/repricer/internal/execution"
	"github.com/tathienbao/repricer/internal/metrics"
	"github.com/tathienbao/repricer/internal/persistence"
	"github.com/tathienbao/repricer/internal/ticks"
	"github.com/tathienbao/repricer/internal/ui"
)

// Version information (set by build flags).
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Parse command
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "run":
		os.Exit(cmdRun(os.Args[2:]))
	case "validate":
		cmdValidate(os.Args[2:])
	case "history":
		cmdHistory(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Repricer - single-instrument repricing execution controller

Usage:
  repricer <command> [options]

Commands:
  run        Run the controller against the paper venue
  validate   Validate configuration file
  history    Show journaled cycles and outcome counts
  version    Show version information
  help       Show this help message

Examples:
  repricer run --config config.yaml
  repricer history --config config.yaml --limit 50 --since 72h
  repricer validate --config config.yaml

Use "repricer <command> --help" for more information about a command.`)
}

func cmdVersion() {
	fmt.Printf("repricer version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Instrument: %s.%s\n", cfg.Instrument.Symbol, cfg.Instrument.Exchange)
	fmt.Printf("  Max volume: %d\n", cfg.Strategy.MaxVolume)
	fmt.Printf("  Target return: %.2f%%\n", cfg.Strategy.TargetReturn*100)
	fmt.Printf("  Entry ceiling: %.3f\n", cfg.Strategy.EntryPriceCeiling)
	fmt.Printf("  Fill window: %s, reprice every %s\n", cfg.FillWaitTimeout(), cfg.RepriceInterval())
	fmt.Printf("  Checks per cycle: %d\n", execution.MaxChecks(cfg.FillWaitTimeout(), cfg.RepriceInterval()))
}

func cmdHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	limit := fs.Int("limit", 20, "Number of cycles to show")
	since := fs.Duration("since", 24*time.Hour, "Window for outcome counts")
	all := fs.Bool("all", false, "Show cycles for every symbol")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	repo, err := persistence.NewSQLiteRepository(cfg.Persistence.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Open journal: %v\n", err)
		os.Exit(1)
	}
	defer repo.Close()

	symbol := cfg.Instrument.Symbol
	if *all {
		symbol = ""
	}

	ctx := context.Background()
	cycles, err := repo.RecentCycles(ctx, symbol, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Query cycles: %v\n", err)
		os.Exit(1)
	}
	now := time.Now()
	stats, err := repo.CycleStats(ctx, now.Add(-*since), now)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Query stats: %v\n", err)
		os.Exit(1)
	}

	console := ui.NewConsole(os.Stdout)
	console.Cycles(cycles)
	fmt.Println()
	console.Stats(stats)

	if state, err := repo.GetState(ctx, cfg.Instrument.Symbol); err == nil && state != nil {
		fmt.Printf("\nLast state %s: stopped=%v", state.LastUpdated.Local().Format(time.RFC3339), state.Stopped)
		if state.StopReason != "" {
			fmt.Printf(" reason=%q", state.StopReason)
		}
		if state.InFlightOrderID != "" {
			fmt.Printf(" in_flight=%s", state.InFlightOrderID)
		}
		fmt.Println()
	}
}

func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	verbose := fs.Bool("verbose", false, "Debug logging with text output")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	// Setup structured logging
	logger := newLogger(cfg.Log, *verbose)
	slog.SetDefault(logger)

	metrics.SetBuildInfo(Version, GitCommit, BuildTime)

	slog.Info("repricer starting",
		"version", Version,
		"symbol", cfg.Instrument.Symbol,
		"exchange", cfg.Instrument.Exchange,
		"max_volume", cfg.Strategy.MaxVolume,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Paper venue with a synthetic quote stream
	venue := paper.NewBroker(cfg.ToPaperConfig(), logger.With("component", "paper"))
	feeder := paper.NewFeeder(cfg.ToFeederConfig(), venue, logger.With("component", "feeder"))
	go feeder.Run(ctx)

	recorder := metrics.NewRecorder()
	brk := broker.NewInstrumented(broker.NewRateLimited(venue, cfg.Execution.RateLimitPerSecond), recorder)

	clk := clock.Real{}
	poller := ticks.NewPoller(cfg.ToPollerConfig(), brk, clk, logger.With("component", "ticks"))
	executor := execution.NewOrderExecutor(cfg.ToExecutionConfig(), brk, clk, logger.With("component", "executor"))

	var repo persistence.Repository
	if cfg.Persistence.Enabled {
		sqlRepo, err := openRepository(cfg.Persistence.Path)
		if err != nil {
			slog.Error("failed to open journal", "path", cfg.Persistence.Path, "err", err)
			return 1
		}
		defer sqlRepo.Close()
		repo = sqlRepo
		slog.Info("journal opened", "path", cfg.Persistence.Path)
	}

	alerter := buildAlerter(cfg, logger)

	eng := engine.NewEngine(cfg.ToEngineConfig(), brk, poller, executor, clk, alerter, recorder, repo, logger.With("component", "engine"))

	confirmer := ui.NewConfirmer()
	eng.OnSubmissionFailure(confirmer.ContinueAfterSubmissionFailure)
	if !confirmer.Interactive() {
		slog.Info("no terminal attached, submission failures will stop the controller")
	}

	var server *metrics.Server
	if cfg.Metrics.Enabled {
		server = metrics.NewServer(cfg.ToServerConfig(), logger.With("component", "metrics"))
		server.RegisterHealthCheck("controller", eng.HealthCheck)
		if err := server.Start(); err != nil {
			slog.Error("failed to start metrics server", "err", err)
			return 1
		}
	}

	// Stop on the first signal; hard cancel after the shutdown timeout or
	// a second signal.
	runFlag := engine.NewFlag()
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("shutdown signal received, stopping after current cycle",
				"signal", sig.String(),
				"timeout", cfg.ShutdownTimeout(),
			)
			runFlag.Stop()
		case <-ctx.Done():
			return
		}

		select {
		case sig := <-sigCh:
			slog.Warn("second signal received, aborting", "signal", sig.String())
		case <-time.After(cfg.ShutdownTimeout()):
			slog.Warn("shutdown timeout exceeded, aborting")
		case <-ctx.Done():
			return
		}
		cancel()
	}()

	runErr := eng.Run(ctx, runFlag)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := shutdown(shutdownCtx, server, venue); err != nil {
		slog.Error("shutdown error", "err", err)
	}

	if runErr != nil {
		slog.Error("controller stopped on error", "err", runErr, "in_flight_order_id", eng.InFlightOrderID())
		return 1
	}
	slog.Info("repricer shutdown complete", "in_flight_order_id", eng.InFlightOrderID())
	return 0
}

func newLogger(cfg config.LogConfig, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if verbose {
		return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func openRepository(path string) (*persistence.SQLiteRepository, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}
	return persistence.NewSQLiteRepository(path)
}

// buildAlerter returns nil when alerting is disabled.
func buildAlerter(cfg *config.Config, logger *slog.Logger) alerting.Alerter {
	if !cfg.Alerting.Enabled {
		return nil
	}

	multi := alerting.NewMultiAlerter(logger)
	for _, ch := range cfg.Alerting.Channels {
		switch ch.Type {
		case "console":
			multi.AddAlerter(alerting.NewConsoleAlerter(logger))
		case "telegram":
			multi.AddAlerter(alerting.NewTelegramAlerter(ch.ToTelegramConfig()))
		}
	}
	if multi.Len() == 0 {
		multi.AddAlerter(alerting.NewConsoleAlerter(logger))
	}

	slog.Info("alerting enabled", "channels", multi.Len(), "events", cfg.Alerting.Events)
	return alerting.NewEventFilter(multi, cfg.IsAlertEventEnabled)
}

func shutdown(ctx context.Context, server *metrics.Server, venue *paper.Broker) error {
	var errs []error

	if positions, err := venue.GetPositions(ctx); err == nil {
		for _, p := range positions {
			slog.Info("open position at shutdown",
				"symbol", p.Symbol,
				"volume", p.Volume,
				"avg_price", p.AvgPrice,
				"unrealized_pnl", p.UnrealizedPnL,
			)
		}
	}
	slog.Info("paper cash at shutdown", "cash", venue.Cash())

	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}

	return errors.Join(errs...)
}
