package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/matrixise/chain-portfolio/internal/cache"
	"github.com/matrixise/chain-portfolio/internal/config"
	"github.com/matrixise/chain-portfolio/internal/errdefs"
	"github.com/matrixise/chain-portfolio/internal/health"
	"github.com/matrixise/chain-portfolio/internal/logger"
	"github.com/matrixise/chain-portfolio/internal/scheduler"
	"github.com/matrixise/chain-portfolio/internal/storage"
	"github.com/matrixise/chain-portfolio/internal/track"
)

var (
	interval   string
	once       bool
	flushCache bool
)

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Refresh balances for every registered wallet",
	Long: `Sweep all registered wallets, force-refresh their balances from the
chains and record the results. Runs once by default; with --interval it
keeps running on a clock-aligned schedule.`,
	RunE: runTrack,
}

func init() {
	rootCmd.AddCommand(trackCmd)

	trackCmd.Flags().StringVar(&interval, "interval", "", "sweep interval - duration (5m, 1h) or cron (\"*/5 * * * *\") - empty for one-time run")
	trackCmd.Flags().BoolVar(&once, "once", false, "sweep once and exit (default)")
	trackCmd.Flags().BoolVar(&flushCache, "flush-cache", false, "drop all wallet freshness flags before the first sweep")
}

func runTrack(cmd *cobra.Command, args []string) error {
	logger.Setup(logLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigChan
		slog.Info("Signal received, graceful shutdown", "signal", sig)
		cancel()
	}()

	cfg, databaseURL, redisURL, err := config.LoadWithDefaults(cfgFile)
	if err != nil {
		slog.Error("Configuration error", "error", err)
		return err
	}
	if cfg.LogLevel != "" {
		logger.Setup(cfg.LogLevel)
	}

	sweepInterval := interval
	if sweepInterval == "" && cfg.Interval != "" {
		sweepInterval = cfg.Interval
	}
	if err := scheduler.ValidateInterval(sweepInterval); err != nil {
		slog.Error("Invalid interval", "interval", sweepInterval, "error", err)
		return err
	}

	store, err := storage.NewStore(ctx, databaseURL)
	if err != nil {
		slog.Error("Failed to connect to PostgreSQL", "error", err)
		return err
	}
	defer store.Close()

	if err := storage.RunMigrations(ctx, databaseURL); err != nil {
		slog.Error("Migration failed", "error", err)
		return err
	}

	c, err := cache.New(ctx, redisURL)
	if err != nil {
		slog.Error("Invalid Redis URL", "error", err)
		return err
	}
	defer c.Close()

	registry, closeChains, err := buildRegistry(cfg)
	if err != nil {
		slog.Error("Failed to build chain adapters", "error", err)
		return err
	}
	defer closeChains()

	if flushCache {
		c.ClearPrefix(ctx, "wallet:*")
		slog.Info("Cleared wallet freshness flags")
	}

	service := track.NewService(store, registry, buildOracle(cfg, c), c, cfg.CacheTTL)

	if sweepInterval == "" || once {
		return sweepAllWallets(ctx, service)
	}

	// Daemon mode with scheduler
	slog.Info("Starting daemon mode", "interval", sweepInterval, "run_immediately", cfg.RunImmediately)

	var checker *health.Checker
	sweep := func(jobCtx context.Context) error {
		err := sweepAllWallets(jobCtx, service)
		if checker != nil {
			checker.UpdateLastRun(err == nil)
		}
		return err
	}

	sched, err := scheduler.New(ctx, scheduler.Config{
		Interval:       sweepInterval,
		RunImmediately: cfg.RunImmediately,
	}, sweep)
	if err != nil {
		slog.Error("Failed to create scheduler", "error", err)
		return fmt.Errorf("scheduler creation failed: %w", err)
	}
	defer sched.Stop()

	var cachePinger health.Pinger
	if redisURL != "" {
		cachePinger = c
	}
	checker = health.NewChecker(store, cachePinger, registry, sched.ExpectedInterval())

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: checker.Handler(),
	}
	go func() {
		slog.Info("Health check server starting", "port", cfg.HTTPPort, "endpoint", "/health")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Health server error", "error", err)
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Health server shutdown error", "error", err)
		}
	}()

	sched.Start()

	<-ctx.Done()
	slog.Info("Shutdown requested, stopping daemon")
	return nil
}

// sweepAllWallets force-refreshes every registered wallet. Failures on
// individual wallets are logged and skipped so one dead chain endpoint
// cannot starve the rest of the sweep.
func sweepAllWallets(ctx context.Context, service *track.Service) error {
	wallets, err := service.ListWallets(ctx)
	if err != nil {
		return err
	}
	if len(wallets) == 0 {
		slog.Info("No wallets registered, nothing to sweep")
		return nil
	}

	var failures int
	for _, wallet := range wallets {
		select {
		case <-ctx.Done():
			slog.Info("Shutdown requested, stopping sweep")
			return ctx.Err()
		default:
		}

		balances, err := service.FetchBalances(ctx, wallet.ID, true)
		if err != nil {
			failures++
			level := slog.LevelError
			if errdefs.IsTransient(err) {
				level = slog.LevelWarn
			}
			slog.Log(ctx, level, "Wallet refresh failed",
				"wallet", wallet.ID, "chain", wallet.Chain, "error", err)
			continue
		}

		slog.Info("Wallet refreshed",
			"wallet", wallet.ID,
			"chain", wallet.Chain,
			"balances", len(balances),
		)
	}

	slog.Info("Sweep completed", "wallets", len(wallets), "failures", failures)
	if failures == len(wallets) {
		return fmt.Errorf("all %d wallet refreshes failed", failures)
	}
	return nil
}
