// Package evm implements the chain adapter for account-based EVM chains.
package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/matrixise/chain-portfolio/internal/chain"
	"github.com/matrixise/chain-portfolio/internal/errdefs"
)

const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"payable":false,"stateMutability":"view","type":"function"}
]`

const nativeDecimals = 18

// TokenConfig is one allow-listed ERC-20 contract.
type TokenConfig struct {
	Symbol   string
	Address  string
	Decimals uint8
}

// Config holds the EVM adapter settings.
type Config struct {
	ChainName string
	Endpoints []string
	Timeout   time.Duration
	Tokens    []TokenConfig
	Retry     chain.RetryPolicy
}

// Adapter queries native and allow-listed ERC-20 balances over one or
// more RPC endpoints with failover. An adapter without endpoints is
// still constructable: address validation stays available and every
// fetch fails fast with a configuration error.
type Adapter struct {
	chainName string
	pool      *endpointPool
	parsedABI abi.ABI
	tokens    []TokenConfig
	timeout   time.Duration
	retry     chain.RetryPolicy
}

// NewAdapter builds the adapter without touching the network; endpoints
// are dialed lazily on first use.
func NewAdapter(cfg Config) (*Adapter, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ERC-20 ABI: %w", err)
	}

	name := cfg.ChainName
	if name == "" {
		name = "ethereum"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	a := &Adapter{
		chainName: name,
		parsedABI: parsed,
		tokens:    cfg.Tokens,
		timeout:   timeout,
		retry:     cfg.Retry,
	}
	if len(cfg.Endpoints) > 0 {
		a.pool = newEndpointPool(cfg.Endpoints)
	}
	return a, nil
}

func (a *Adapter) Chain() string { return a.chainName }

// ValidateAddress checks the 0x-prefixed 20-byte hex format.
func (a *Adapter) ValidateAddress(address string) bool {
	return common.IsHexAddress(address)
}

// NormalizeAddress returns the EIP-55 checksummed form.
func (a *Adapter) NormalizeAddress(address string) string {
	return common.HexToAddress(address).Hex()
}

// FetchBalances returns the native balance (omitted when zero) plus the
// balance of every allow-listed token.
func (a *Adapter) FetchBalances(ctx context.Context, address string) (map[string]chain.Amount, error) {
	if a.pool == nil {
		return nil, errdefs.New(errdefs.KindConfiguration,
			"%s RPC endpoint not configured", a.chainName)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	wallet := common.HexToAddress(address)
	balances := make(map[string]chain.Amount)

	native, err := a.nativeBalance(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("native balance for %s: %w", wallet.Hex(), err)
	}
	if !native.IsZero() {
		balances["ETH"] = chain.Amount{Value: native}
	}

	for _, tok := range a.tokens {
		amount, err := a.tokenBalance(ctx, wallet, tok)
		if err != nil {
			return nil, fmt.Errorf("%s balance for %s: %w", tok.Symbol, wallet.Hex(), err)
		}
		balances[tok.Symbol] = chain.Amount{
			Value:           amount,
			ContractAddress: common.HexToAddress(tok.Address).Hex(),
		}
	}

	slog.Debug("Fetched EVM balances", "chain", a.chainName, "wallet", wallet.Hex(), "tokens", len(balances))
	return balances, nil
}

func (a *Adapter) nativeBalance(ctx context.Context, wallet common.Address) (decimal.Decimal, error) {
	var wei *big.Int
	err := a.retry.Do(ctx, func() error {
		client, url, err := a.pool.client(ctx)
		if err != nil {
			return err
		}
		wei, err = client.BalanceAt(ctx, wallet, nil)
		if err != nil {
			a.pool.markUnhealthy(url, err)
			return chain.TransportError(err, "eth_getBalance via %s", url)
		}
		return nil
	})
	if err != nil {
		return decimal.Decimal{}, err
	}
	return FromSmallestUnit(wei, nativeDecimals), nil
}

func (a *Adapter) tokenBalance(ctx context.Context, wallet common.Address, tok TokenConfig) (decimal.Decimal, error) {
	input, err := a.parsedABI.Pack("balanceOf", wallet)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("packing balanceOf call: %w", err)
	}
	contract := common.HexToAddress(tok.Address)

	// The RPC leg is the only part eligible for retry; decoding a bad
	// response is not a transport fault.
	var output []byte
	err = a.retry.Do(ctx, func() error {
		client, url, err := a.pool.client(ctx)
		if err != nil {
			return err
		}
		output, err = client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: input}, nil)
		if err != nil {
			a.pool.markUnhealthy(url, err)
			return chain.TransportError(err, "balanceOf via %s", url)
		}
		return nil
	})
	if err != nil {
		return decimal.Decimal{}, err
	}

	results, err := a.parsedABI.Unpack("balanceOf", output)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("decoding balanceOf result: %w", err)
	}
	raw, ok := results[0].(*big.Int)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("unexpected balanceOf result type %T", results[0])
	}
	return FromSmallestUnit(raw, tok.Decimals), nil
}

// FromSmallestUnit divides a raw integer amount by 10^decimals without
// ever passing through floating point.
func FromSmallestUnit(raw *big.Int, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(raw, -int32(decimals))
}
