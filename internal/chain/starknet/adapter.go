// Package starknet implements the chain adapter for Starknet.
package starknet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matrixise/chain-portfolio/internal/chain"
	"github.com/matrixise/chain-portfolio/internal/errdefs"
)

// balanceOfSelector is the starknet_keccak hash of "balanceOf".
const balanceOfSelector = "0x2e4263afad30923c891518314c3c95dbe830a16874e8abc5777a9a20b54c76e"

const tokenDecimals = 18

// defaultTokenContracts is the allow-list of ERC-20 style contracts
// queried for every Starknet wallet.
var defaultTokenContracts = map[string]string{
	"ETH":  "0x049d36570d4e46f48e99674bd3fcc84644ddd6b96f7c741b1562b82f9e004dc7",
	"STRK": "0x04718f5a0fc34cc1af16a1cdee98ffb20c31f5cd61d6ab07201858f4287c938d",
	"USDC": "0x053c91253bc9682c04929ca02ed00b3e423f6710d2ee7e0d5ebb06f3ecf368a8",
	"USDT": "0x068f5c6a61780768455de69077e07e89787839bf8166decfbf92b645209c0fb8",
}

// Config holds the Starknet adapter settings.
type Config struct {
	Endpoint string
	Timeout  time.Duration
	Retry    chain.RetryPolicy

	// TokenContracts overrides the default allow-list when non-nil.
	TokenContracts map[string]string
}

// Adapter queries allow-listed token balances via starknet_call.
type Adapter struct {
	endpoint  string
	client    *http.Client
	retry     chain.RetryPolicy
	contracts map[string]string
}

func NewAdapter(cfg Config) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	contracts := cfg.TokenContracts
	if contracts == nil {
		contracts = defaultTokenContracts
	}
	return &Adapter{
		endpoint:  cfg.Endpoint,
		client:    &http.Client{Timeout: timeout},
		retry:     cfg.Retry,
		contracts: contracts,
	}
}

func (a *Adapter) Chain() string { return "starknet" }

// ValidateAddress checks the 0x-prefixed 64-hex-digit felt format.
func (a *Adapter) ValidateAddress(address string) bool {
	if !strings.HasPrefix(address, "0x") || len(address) != 66 {
		return false
	}
	_, ok := new(big.Int).SetString(address[2:], 16)
	return ok
}

func (a *Adapter) NormalizeAddress(address string) string { return address }

// FetchBalances queries every allow-listed contract, omitting zero
// balances like the ambient scan does.
func (a *Adapter) FetchBalances(ctx context.Context, address string) (map[string]chain.Amount, error) {
	if a.endpoint == "" {
		return nil, errdefs.New(errdefs.KindConfiguration, "starknet RPC endpoint not configured")
	}

	balances := make(map[string]chain.Amount)
	for symbol, contract := range a.contracts {
		amount, err := a.tokenBalance(ctx, address, contract)
		if err != nil {
			return nil, fmt.Errorf("%s balance for %s: %w", symbol, address, err)
		}
		if !amount.IsZero() {
			balances[symbol] = chain.Amount{Value: amount, ContractAddress: contract}
		}
	}

	slog.Debug("Fetched Starknet balances", "wallet", address, "tokens", len(balances))
	return balances, nil
}

type callRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type callResponse struct {
	Result []string `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (a *Adapter) tokenBalance(ctx context.Context, address, contract string) (decimal.Decimal, error) {
	var words []string
	err := a.retry.Do(ctx, func() error {
		result, err := a.call(ctx, contract, address)
		if err != nil {
			return err
		}
		words = result
		return nil
	})
	if err != nil {
		return decimal.Decimal{}, err
	}
	if len(words) == 0 {
		return decimal.Zero, nil
	}

	raw, err := combineUint256(words)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return decimal.NewFromBigInt(raw, -tokenDecimals), nil
}

// combineUint256 reconstructs a uint256 from its [low, high] felt words
// as low + high·2^128.
func combineUint256(words []string) (*big.Int, error) {
	low, ok := new(big.Int).SetString(strings.TrimPrefix(words[0], "0x"), 16)
	if !ok {
		return nil, fmt.Errorf("invalid low word %q", words[0])
	}

	high := new(big.Int)
	if len(words) > 1 {
		high, ok = new(big.Int).SetString(strings.TrimPrefix(words[1], "0x"), 16)
		if !ok {
			return nil, fmt.Errorf("invalid high word %q", words[1])
		}
	}

	return new(big.Int).Add(low, new(big.Int).Lsh(high, 128)), nil
}

func (a *Adapter) call(ctx context.Context, contract, address string) ([]string, error) {
	body, err := json.Marshal(callRequest{
		JSONRPC: "2.0",
		Method:  "starknet_call",
		Params: []any{
			map[string]any{
				"contract_address":     contract,
				"entry_point_selector": balanceOfSelector,
				"calldata":             []string{address},
			},
			"latest",
		},
		ID: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("encode starknet_call request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build starknet_call request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, chain.TransportError(err, "starknet_call via %s", a.endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, chain.StatusError(resp.StatusCode, a.endpoint)
	}

	var decoded callResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode starknet_call response: %w", err)
	}
	if decoded.Error != nil {
		return nil, fmt.Errorf("starknet_call RPC error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	return decoded.Result, nil
}
