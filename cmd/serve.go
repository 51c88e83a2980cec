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

	"github.com/matrixise/chain-portfolio/internal/api"
	"github.com/matrixise/chain-portfolio/internal/cache"
	"github.com/matrixise/chain-portfolio/internal/config"
	"github.com/matrixise/chain-portfolio/internal/health"
	"github.com/matrixise/chain-portfolio/internal/logger"
	"github.com/matrixise/chain-portfolio/internal/storage"
	"github.com/matrixise/chain-portfolio/internal/track"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long:  `Serve the wallet, balance and portfolio API over HTTP.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
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

	store, err := storage.NewStore(ctx, databaseURL)
	if err != nil {
		slog.Error("Failed to connect to PostgreSQL", "error", err)
		return err
	}
	defer store.Close()
	slog.Info("PostgreSQL connection established")

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

	oracle := buildOracle(cfg, c)
	service := track.NewService(store, registry, oracle, c, cfg.CacheTTL)

	var cachePinger health.Pinger
	if redisURL != "" {
		cachePinger = c
	}
	checker := health.NewChecker(store, cachePinger, registry, 0)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      api.NewServer(service, checker.Handler()).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("HTTP server starting", "port", cfg.HTTPPort)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
		return err
	}

	slog.Info("Server stopped")
	return nil
}
