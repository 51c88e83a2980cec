package config

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
)

// Config represents the application configuration
type Config struct {
	LogLevel       string `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	HTTPPort       int    `mapstructure:"http_port" validate:"omitempty,min=1024,max=65535"`
	Interval       string `mapstructure:"interval" validate:"omitempty,duration"`
	RunImmediately bool   `mapstructure:"run_immediately"`

	// CacheTTL is how long a successful refresh marks a wallet fresh.
	CacheTTL time.Duration `mapstructure:"cache_ttl" validate:"omitempty,min=1s"`

	Ethereum EthereumConfig `mapstructure:"ethereum"`
	Solana   EndpointConfig `mapstructure:"solana"`
	Cosmos   EndpointConfig `mapstructure:"cosmos"`
	Celestia EndpointConfig `mapstructure:"celestia"`
	Starknet EndpointConfig `mapstructure:"starknet"`

	PriceOracle OracleConfig `mapstructure:"price_oracle"`
}

// EthereumConfig configures the EVM adapter. RPCUrl is kept as a
// convenience for single-endpoint setups and folded into RPCUrls.
type EthereumConfig struct {
	RPCUrl  string        `mapstructure:"rpc_url" validate:"omitempty,url"`
	RPCUrls []string      `mapstructure:"rpc_urls" validate:"omitempty,dive,url"`
	Timeout time.Duration `mapstructure:"timeout" validate:"omitempty,min=1s"`
	Tokens  []TokenConfig `mapstructure:"tokens" validate:"omitempty,dive"`
}

// TokenConfig is one allow-listed ERC-20.
type TokenConfig struct {
	Symbol   string `mapstructure:"symbol" validate:"required,min=1,max=20"`
	Address  string `mapstructure:"address" validate:"required,eth_addr"`
	Decimals uint8  `mapstructure:"decimals"`
}

// EndpointConfig configures a single-endpoint chain adapter.
type EndpointConfig struct {
	RPCUrl  string        `mapstructure:"rpc_url" validate:"omitempty,url"`
	Timeout time.Duration `mapstructure:"timeout" validate:"omitempty,min=1s"`
}

// OracleConfig configures the price oracle client.
type OracleConfig struct {
	BaseURL string        `mapstructure:"base_url" validate:"omitempty,url"`
	Timeout time.Duration `mapstructure:"timeout" validate:"omitempty,min=1s"`
	TTL     time.Duration `mapstructure:"ttl" validate:"omitempty,min=1s"`
}

// DefaultEthereumTokens is the allow-list used when no tokens are
// configured: the major mainnet stables plus wrapped ETH and BTC.
func DefaultEthereumTokens() []TokenConfig {
	return []TokenConfig{
		{Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
		{Symbol: "USDT", Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6},
		{Symbol: "DAI", Address: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Decimals: 18},
		{Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
		{Symbol: "WBTC", Address: "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", Decimals: 8},
	}
}

// Normalize folds single rpc_url values into rpc_urls and fills the
// token allow-list default.
func (c *Config) Normalize() {
	if c.Ethereum.RPCUrl != "" {
		found := false
		for _, url := range c.Ethereum.RPCUrls {
			if url == c.Ethereum.RPCUrl {
				found = true
				break
			}
		}
		if !found {
			c.Ethereum.RPCUrls = append([]string{c.Ethereum.RPCUrl}, c.Ethereum.RPCUrls...)
		}
	}
	if len(c.Ethereum.Tokens) == 0 {
		c.Ethereum.Tokens = DefaultEthereumTokens()
	}
}

// ethAddressValidator validates Ethereum addresses
func ethAddressValidator(fl validator.FieldLevel) bool {
	return common.IsHexAddress(fl.Field().String())
}

// durationValidator validates duration strings
func durationValidator(fl validator.FieldLevel) bool {
	if fl.Field().String() == "" {
		return true // empty is valid (run once mode)
	}
	_, err := time.ParseDuration(fl.Field().String())
	return err == nil
}

// NewValidator creates a validator with custom validation rules
func NewValidator() *validator.Validate {
	validate := validator.New()
	validate.RegisterValidation("eth_addr", ethAddressValidator)
	validate.RegisterValidation("duration", durationValidator)
	return validate
}
