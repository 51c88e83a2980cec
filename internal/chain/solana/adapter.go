// Package solana implements the chain adapter for Solana.
//
// Only the native SOL balance is reported. SPL token accounts need mint
// metadata to resolve symbols and decimals, which the tracker does not
// index; the allow-list for this chain is therefore just the native
// asset.
package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matrixise/chain-portfolio/internal/chain"
	"github.com/matrixise/chain-portfolio/internal/errdefs"
)

const lamportsPerSOLExp = 9

// Config holds the Solana adapter settings.
type Config struct {
	Endpoint string
	Timeout  time.Duration
	Retry    chain.RetryPolicy
}

// Adapter fetches the native SOL balance over JSON-RPC.
type Adapter struct {
	endpoint string
	client   *http.Client
	retry    chain.RetryPolicy
}

func NewAdapter(cfg Config) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Adapter{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: timeout},
		retry:    cfg.Retry,
	}
}

func (a *Adapter) Chain() string { return "solana" }

// base58Alphabet is the Bitcoin alphabet Solana public keys use; it has
// no 0, O, I or l.
const base58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

// ValidateAddress checks the base58 shape of a 32-byte public key.
func (a *Adapter) ValidateAddress(address string) bool {
	if len(address) < 32 || len(address) > 44 {
		return false
	}
	for _, r := range address {
		if !bytes.ContainsRune([]byte(base58Alphabet), r) {
			return false
		}
	}
	return true
}

func (a *Adapter) NormalizeAddress(address string) string { return address }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type getBalanceResponse struct {
	Result *struct {
		Value uint64 `json:"value"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// FetchBalances returns the native SOL balance, omitted when zero.
func (a *Adapter) FetchBalances(ctx context.Context, address string) (map[string]chain.Amount, error) {
	if a.endpoint == "" {
		return nil, errdefs.New(errdefs.KindConfiguration, "solana RPC endpoint not configured")
	}

	var lamports uint64
	err := a.retry.Do(ctx, func() error {
		value, err := a.getBalance(ctx, address)
		if err != nil {
			return err
		}
		lamports = value
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("SOL balance for %s: %w", address, err)
	}

	balances := make(map[string]chain.Amount)
	if lamports > 0 {
		sol := decimal.NewFromBigInt(new(big.Int).SetUint64(lamports), -lamportsPerSOLExp)
		balances["SOL"] = chain.Amount{Value: sol}
	}

	slog.Debug("Fetched Solana balances", "wallet", address, "lamports", lamports)
	return balances, nil
}

func (a *Adapter) getBalance(ctx context.Context, address string) (uint64, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getBalance",
		Params:  []any{address},
	})
	if err != nil {
		return 0, fmt.Errorf("encode getBalance request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("build getBalance request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, chain.TransportError(err, "getBalance via %s", a.endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, chain.StatusError(resp.StatusCode, a.endpoint)
	}

	var decoded getBalanceResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return 0, fmt.Errorf("decode getBalance response: %w", err)
	}
	if decoded.Error != nil {
		return 0, fmt.Errorf("getBalance RPC error %d: %s", decoded.Error.Code, decoded.Error.Message)
	}
	if decoded.Result == nil {
		return 0, fmt.Errorf("getBalance response missing result")
	}
	return decoded.Result.Value, nil
}
