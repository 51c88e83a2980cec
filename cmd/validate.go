package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/matrixise/chain-portfolio/internal/config"
	"github.com/matrixise/chain-portfolio/internal/logger"
)

var validateCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file syntax and values without running the application.`,
	RunE:  validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateConfig(cmd *cobra.Command, args []string) error {
	logger.Setup(logLevel)

	cfg, databaseURL, redisURL, err := config.LoadWithDefaults(cfgFile)
	if err != nil {
		slog.Error("Configuration validation failed", "error", err)
		return err
	}

	slog.Info("✓ Configuration valid",
		"ethereum_endpoints", len(cfg.Ethereum.RPCUrls),
		"ethereum_tokens", len(cfg.Ethereum.Tokens),
		"interval", cfg.Interval,
		"cache_ttl", cfg.CacheTTL,
		"log_level", cfg.LogLevel,
		"database_url_set", databaseURL != "",
		"redis_url_set", redisURL != "",
	)

	return nil
}
