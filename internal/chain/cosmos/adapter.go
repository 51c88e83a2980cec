// Package cosmos implements the chain adapter for Cosmos-SDK chains.
// One adapter instance serves one chain of the family; cosmos and
// celestia differ only in bech32 prefix and native denom.
package cosmos

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matrixise/chain-portfolio/internal/chain"
	"github.com/matrixise/chain-portfolio/internal/errdefs"
)

// chainParams are the per-chain constants of the family.
type chainParams struct {
	prefix      string
	nativeDenom string
	symbol      string
	decimals    int32
}

var supportedChains = map[string]chainParams{
	"cosmos":   {prefix: "cosmos", nativeDenom: "uatom", symbol: "ATOM", decimals: 6},
	"celestia": {prefix: "celestia", nativeDenom: "utia", symbol: "TIA", decimals: 6},
}

// ibcDecimals applies to IBC and other unknown denoms, which carry no
// decimal metadata in the bank response.
const ibcDecimals = 6

// Config holds the Cosmos adapter settings.
type Config struct {
	ChainName string
	Endpoint  string
	Timeout   time.Duration
	Retry     chain.RetryPolicy
}

// Adapter fetches every bank balance over the chain's REST API.
type Adapter struct {
	params   chainParams
	chain    string
	endpoint string
	client   *http.Client
	retry    chain.RetryPolicy
}

// NewAdapter builds an adapter for one chain of the family; unknown
// chain names are rejected.
func NewAdapter(cfg Config) (*Adapter, error) {
	params, ok := supportedChains[cfg.ChainName]
	if !ok {
		return nil, fmt.Errorf("unsupported cosmos chain: %s", cfg.ChainName)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Adapter{
		params:   params,
		chain:    cfg.ChainName,
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
		retry:    cfg.Retry,
	}, nil
}

func (a *Adapter) Chain() string { return a.chain }

// ValidateAddress checks the chain prefix and overall length. Full
// bech32 checksum verification would need a bech32 decoder; prefix and
// length match what the upstream service accepted.
func (a *Adapter) ValidateAddress(address string) bool {
	if !strings.HasPrefix(address, a.params.prefix+"1") {
		return false
	}
	return len(address) >= 39 && len(address) <= 65
}

func (a *Adapter) NormalizeAddress(address string) string { return address }

type bankBalancesResponse struct {
	Balances []struct {
		Denom  string `json:"denom"`
		Amount string `json:"amount"`
	} `json:"balances"`
}

// FetchBalances queries the bank module for every balance the account
// holds. The native denom maps to its symbol; IBC and other denoms are
// keyed by the denom itself at 6 assumed decimals.
func (a *Adapter) FetchBalances(ctx context.Context, address string) (map[string]chain.Amount, error) {
	if a.endpoint == "" {
		return nil, errdefs.New(errdefs.KindConfiguration, "%s RPC endpoint not configured", a.chain)
	}

	var decoded bankBalancesResponse
	err := a.retry.Do(ctx, func() error {
		return a.queryBalances(ctx, address, &decoded)
	})
	if err != nil {
		return nil, fmt.Errorf("%s balances for %s: %w", a.chain, address, err)
	}

	balances := make(map[string]chain.Amount)
	for _, bal := range decoded.Balances {
		if bal.Denom == "" || bal.Amount == "" {
			continue
		}
		raw, err := decimal.NewFromString(bal.Amount)
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q for denom %s: %w", bal.Amount, bal.Denom, err)
		}

		if bal.Denom == a.params.nativeDenom {
			balances[a.params.symbol] = chain.Amount{Value: raw.Shift(-a.params.decimals)}
		} else {
			balances[bal.Denom] = chain.Amount{Value: raw.Shift(-ibcDecimals)}
		}
	}

	slog.Debug("Fetched Cosmos balances", "chain", a.chain, "wallet", address, "denoms", len(balances))
	return balances, nil
}

func (a *Adapter) queryBalances(ctx context.Context, address string, out *bankBalancesResponse) error {
	url := fmt.Sprintf("%s/cosmos/bank/v1beta1/balances/%s", a.endpoint, address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build bank query: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return chain.TransportError(err, "bank query via %s", a.endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return chain.StatusError(resp.StatusCode, a.endpoint)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode bank response: %w", err)
	}
	return nil
}
