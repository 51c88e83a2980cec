package cmd

import (
	"log/slog"

	"github.com/matrixise/chain-portfolio/internal/cache"
	"github.com/matrixise/chain-portfolio/internal/chain"
	"github.com/matrixise/chain-portfolio/internal/chain/cosmos"
	"github.com/matrixise/chain-portfolio/internal/chain/evm"
	"github.com/matrixise/chain-portfolio/internal/chain/solana"
	"github.com/matrixise/chain-portfolio/internal/chain/starknet"
	"github.com/matrixise/chain-portfolio/internal/config"
	"github.com/matrixise/chain-portfolio/internal/pricing"
)

// buildRegistry assembles one adapter per configured chain. The EVM
// adapter dials lazily, so construction never touches the network. The
// returned close func releases the EVM connection pool.
func buildRegistry(cfg *config.Config) (*chain.Registry, func(), error) {
	retry := chain.DefaultRetryPolicy()
	var adapters []chain.Adapter

	ethTokens := make([]evm.TokenConfig, 0, len(cfg.Ethereum.Tokens))
	for _, t := range cfg.Ethereum.Tokens {
		ethTokens = append(ethTokens, evm.TokenConfig{
			Symbol:   t.Symbol,
			Address:  t.Address,
			Decimals: t.Decimals,
		})
	}
	eth, err := evm.NewAdapter(evm.Config{
		ChainName: "ethereum",
		Endpoints: cfg.Ethereum.RPCUrls,
		Timeout:   cfg.Ethereum.Timeout,
		Tokens:    ethTokens,
		Retry:     retry,
	})
	if err != nil {
		return nil, nil, err
	}
	adapters = append(adapters, eth)

	adapters = append(adapters, solana.NewAdapter(solana.Config{
		Endpoint: cfg.Solana.RPCUrl,
		Timeout:  cfg.Solana.Timeout,
		Retry:    retry,
	}))

	for name, endpoint := range map[string]config.EndpointConfig{
		"cosmos":   cfg.Cosmos,
		"celestia": cfg.Celestia,
	} {
		adapter, err := cosmos.NewAdapter(cosmos.Config{
			ChainName: name,
			Endpoint:  endpoint.RPCUrl,
			Timeout:   endpoint.Timeout,
			Retry:     retry,
		})
		if err != nil {
			eth.Close()
			return nil, nil, err
		}
		adapters = append(adapters, adapter)
	}

	adapters = append(adapters, starknet.NewAdapter(starknet.Config{
		Endpoint: cfg.Starknet.RPCUrl,
		Timeout:  cfg.Starknet.Timeout,
		Retry:    retry,
	}))

	registry := chain.NewRegistry(adapters...)
	slog.Info("Chain adapters registered", "chains", registry.Chains())

	return registry, eth.Close, nil
}

// buildOracle wires the price oracle to the shared Redis cache.
func buildOracle(cfg *config.Config, c *cache.Cache) *pricing.Oracle {
	return pricing.NewOracle(pricing.Config{
		BaseURL: cfg.PriceOracle.BaseURL,
		Timeout: cfg.PriceOracle.Timeout,
		TTL:     cfg.PriceOracle.TTL,
		Retry:   chain.DefaultRetryPolicy(),
	}, c)
}
