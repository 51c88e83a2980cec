// Package pricing resolves token symbols to USD unit prices via the
// CoinGecko simple-price API, behind a short-TTL cache.
package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matrixise/chain-portfolio/internal/chain"
)

// symbolToID maps token symbols to CoinGecko identifiers. Symbols
// outside this table resolve to absent, never to an error.
var symbolToID = map[string]string{
	"ETH":  "ethereum",
	"BTC":  "bitcoin",
	"SOL":  "solana",
	"USDC": "usd-coin",
	"USDT": "tether",
	"DAI":  "dai",
	"WETH": "weth",
	"WBTC": "wrapped-bitcoin",
	"ATOM": "cosmos",
	"TIA":  "celestia",
	"STRK": "starknet",
}

// Cache is the subset of cache operations the oracle needs.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration) bool
}

// Config holds the oracle settings.
type Config struct {
	BaseURL string
	Timeout time.Duration
	TTL     time.Duration
	Retry   chain.RetryPolicy
}

// Oracle never fails its callers: any symbol it cannot price comes back
// absent and the aggregator stores a null USD value instead.
type Oracle struct {
	baseURL string
	client  *http.Client
	cache   Cache
	ttl     time.Duration
	retry   chain.RetryPolicy
}

func NewOracle(cfg Config, cache Cache) *Oracle {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.coingecko.com/api/v3"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Oracle{
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: timeout},
		cache:   cache,
		ttl:     ttl,
		retry:   cfg.Retry,
	}
}

// Price resolves one symbol.
func (o *Oracle) Price(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	prices := o.Prices(ctx, []string{symbol})
	price, ok := prices[symbol]
	return price, ok
}

// Prices resolves a batch of symbols in one upstream request. The
// result contains only the symbols that could be priced; cache hits are
// served without touching the network.
func (o *Oracle) Prices(ctx context.Context, symbols []string) map[string]decimal.Decimal {
	result := make(map[string]decimal.Decimal, len(symbols))

	idToSymbol := make(map[string]string)
	var missingIDs []string
	for _, symbol := range symbols {
		id, ok := symbolToID[strings.ToUpper(symbol)]
		if !ok {
			slog.Debug("No price mapping for symbol", "symbol", symbol)
			continue
		}

		if cached, ok := o.cached(ctx, symbol); ok {
			result[symbol] = cached
			continue
		}

		idToSymbol[id] = symbol
		missingIDs = append(missingIDs, id)
	}

	if len(missingIDs) == 0 {
		return result
	}

	fetched, err := o.fetch(ctx, missingIDs)
	if err != nil {
		slog.Error("Price lookup failed, treating prices as unknown",
			"symbols", len(missingIDs), "error", err)
		return result
	}

	for id, price := range fetched {
		symbol, ok := idToSymbol[id]
		if !ok {
			continue
		}
		result[symbol] = price
		o.cache.Set(ctx, cacheKey(symbol), price.String(), o.ttl)
	}
	return result
}

func cacheKey(symbol string) string {
	return fmt.Sprintf("price:%s:usd", strings.ToUpper(symbol))
}

func (o *Oracle) cached(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	raw, ok := o.cache.Get(ctx, cacheKey(symbol))
	if !ok {
		return decimal.Decimal{}, false
	}
	price, err := decimal.NewFromString(raw)
	if err != nil {
		slog.Warn("Discarding malformed cached price", "symbol", symbol, "value", raw)
		return decimal.Decimal{}, false
	}
	return price, true
}

// fetch performs one batched simple/price request, retrying transient
// failures per the configured policy.
func (o *Oracle) fetch(ctx context.Context, ids []string) (map[string]decimal.Decimal, error) {
	query := url.Values{}
	query.Set("ids", strings.Join(ids, ","))
	query.Set("vs_currencies", "usd")
	endpoint := o.baseURL + "/simple/price?" + query.Encode()

	var decoded map[string]map[string]json.Number
	err := o.retry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("build price request: %w", err)
		}

		resp, err := o.client.Do(req)
		if err != nil {
			return chain.TransportError(err, "price request via %s", o.baseURL)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return chain.StatusError(resp.StatusCode, o.baseURL)
		}

		decoded = nil
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			return fmt.Errorf("decode price response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	prices := make(map[string]decimal.Decimal, len(decoded))
	for id, currencies := range decoded {
		usd, ok := currencies["usd"]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(usd.String())
		if err != nil {
			slog.Warn("Discarding malformed price", "id", id, "value", usd.String())
			continue
		}
		prices[id] = price
	}
	return prices, nil
}
