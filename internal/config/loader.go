package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// 1. Set defaults
	v.SetDefault("log_level", "info")
	v.SetDefault("interval", "") // Run once by default
	v.SetDefault("http_port", 8080)
	v.SetDefault("run_immediately", true)
	v.SetDefault("cache_ttl", "5m")
	v.SetDefault("ethereum.timeout", "10s")
	v.SetDefault("solana.rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("solana.timeout", "10s")
	v.SetDefault("cosmos.rpc_url", "https://cosmos-rest.publicnode.com")
	v.SetDefault("cosmos.timeout", "10s")
	v.SetDefault("celestia.rpc_url", "https://celestia-rest.publicnode.com")
	v.SetDefault("celestia.timeout", "10s")
	v.SetDefault("starknet.rpc_url", "https://starknet-mainnet.public.blastapi.io")
	v.SetDefault("starknet.timeout", "10s")
	v.SetDefault("price_oracle.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("price_oracle.timeout", "10s")
	v.SetDefault("price_oracle.ttl", "5m")

	// 2. Configure config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
	}

	// 3. Environment variables
	// PORTFOLIO_LOG_LEVEL -> log_level, PORTFOLIO_ETHEREUM_RPC_URL ->
	// ethereum.rpc_url
	v.SetEnvPrefix("PORTFOLIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.BindEnv("log_level", "PORTFOLIO_LOG_LEVEL")
	v.BindEnv("interval", "PORTFOLIO_INTERVAL")
	v.BindEnv("http_port", "PORTFOLIO_HTTP_PORT")
	v.BindEnv("cache_ttl", "PORTFOLIO_CACHE_TTL")
	v.BindEnv("ethereum.rpc_url", "PORTFOLIO_ETHEREUM_RPC_URL")
	v.BindEnv("ethereum.rpc_urls", "PORTFOLIO_ETHEREUM_RPC_URLS")
	v.BindEnv("solana.rpc_url", "PORTFOLIO_SOLANA_RPC_URL")
	v.BindEnv("cosmos.rpc_url", "PORTFOLIO_COSMOS_RPC_URL")
	v.BindEnv("celestia.rpc_url", "PORTFOLIO_CELESTIA_RPC_URL")
	v.BindEnv("starknet.rpc_url", "PORTFOLIO_STARKNET_RPC_URL")
	v.BindEnv("price_oracle.base_url", "PORTFOLIO_PRICE_ORACLE_BASE_URL")

	// 4. Read config file
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// 5. Unmarshal into struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Comma-separated PORTFOLIO_ETHEREUM_RPC_URLS env var
	if urlsEnv := v.GetString("ethereum.rpc_urls"); urlsEnv != "" && strings.Contains(urlsEnv, ",") {
		urls := strings.Split(urlsEnv, ",")
		for i := range urls {
			urls[i] = strings.TrimSpace(urls[i])
		}
		cfg.Ethereum.RPCUrls = urls
	}

	// 6. Normalize endpoints and defaults
	cfg.Normalize()

	// 7. Validate with validator
	validate := NewValidator()
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config plus DATABASE_URL and REDIS_URL from
// the environment. DATABASE_URL is required; REDIS_URL is optional, an
// empty value means run without the freshness cache.
func LoadWithDefaults(configPath string) (*Config, string, string, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, "", "", err
	}

	v := viper.New()
	v.BindEnv("database_url", "DATABASE_URL")
	v.BindEnv("redis_url", "REDIS_URL")

	databaseURL := v.GetString("database_url")
	if databaseURL == "" {
		return nil, "", "", fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, databaseURL, v.GetString("redis_url"), nil
}
