// Package track is the balance aggregation core: it reconciles freshly
// fetched chain balances against persisted state behind a cache-aside
// freshness gate, and folds stored balances into portfolio totals.
package track

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/matrixise/chain-portfolio/internal/chain"
	"github.com/matrixise/chain-portfolio/internal/errdefs"
	"github.com/matrixise/chain-portfolio/internal/storage"
)

// DefaultCacheTTL is how long a successful refresh suppresses chain
// refetches.
const DefaultCacheTTL = 5 * time.Minute

// Store is the persistence surface the service needs.
type Store interface {
	CreateWallet(ctx context.Context, address, chain string, label *string) (storage.Wallet, error)
	GetWallet(ctx context.Context, id uuid.UUID) (storage.Wallet, error)
	ListWallets(ctx context.Context) ([]storage.Wallet, error)
	DeleteWallet(ctx context.Context, id uuid.UUID) (bool, error)
	ListBalances(ctx context.Context, walletID uuid.UUID) ([]storage.Balance, error)
	ReplaceBalances(ctx context.Context, walletID uuid.UUID, updates []storage.BalanceUpdate, now time.Time) ([]storage.Balance, error)
	History(ctx context.Context, walletID uuid.UUID, tokenSymbol *string, limit int) ([]storage.HistoryEntry, error)
}

// PriceSource resolves symbols to USD prices; absent symbols are simply
// missing from the result.
type PriceSource interface {
	Prices(ctx context.Context, symbols []string) map[string]decimal.Decimal
}

// Freshness is the best-effort cache gating chain refetches.
type Freshness interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration) bool
	Delete(ctx context.Context, key string) bool
}

// Service wires the chain adapters, price oracle, store and cache
// together. All dependencies are injected once at construction.
type Service struct {
	store    Store
	registry *chain.Registry
	prices   PriceSource
	cache    Freshness
	ttl      time.Duration

	// flight collapses concurrent refreshes of the same wallet into a
	// single chain fetch.
	flight singleflight.Group
}

func NewService(store Store, registry *chain.Registry, prices PriceSource, cache Freshness, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Service{
		store:    store,
		registry: registry,
		prices:   prices,
		cache:    cache,
		ttl:      ttl,
	}
}

func freshnessKey(walletID uuid.UUID) string {
	return fmt.Sprintf("wallet:%s:balances", walletID)
}

// CreateWallet validates the address against its chain's adapter and
// registers the wallet in canonical form.
func (s *Service) CreateWallet(ctx context.Context, address, chainName string, label *string) (storage.Wallet, error) {
	adapter, ok := s.registry.Adapter(chainName)
	if !ok {
		return storage.Wallet{}, errdefs.New(errdefs.KindValidation, "unsupported chain: %s", chainName)
	}
	if !adapter.ValidateAddress(address) {
		return storage.Wallet{}, errdefs.New(errdefs.KindValidation, "invalid %s address: %s", chainName, address)
	}

	wallet, err := s.store.CreateWallet(ctx, adapter.NormalizeAddress(address), chainName, label)
	if err != nil {
		return storage.Wallet{}, err
	}

	slog.Info("Created wallet", "wallet", wallet.ID, "chain", chainName, "address", wallet.Address)
	return wallet, nil
}

// GetWallet fetches one wallet by id.
func (s *Service) GetWallet(ctx context.Context, id uuid.UUID) (storage.Wallet, error) {
	return s.store.GetWallet(ctx, id)
}

// ListWallets returns every registered wallet.
func (s *Service) ListWallets(ctx context.Context) ([]storage.Wallet, error) {
	return s.store.ListWallets(ctx)
}

// DeleteWallet removes a wallet with its balances and history, and
// drops its freshness flag.
func (s *Service) DeleteWallet(ctx context.Context, id uuid.UUID) (bool, error) {
	s.cache.Delete(ctx, freshnessKey(id))

	deleted, err := s.store.DeleteWallet(ctx, id)
	if err != nil {
		return false, err
	}
	if deleted {
		slog.Info("Deleted wallet", "wallet", id)
	}
	return deleted, nil
}

// ListBalances returns the persisted current balances of one wallet
// without touching any chain.
func (s *Service) ListBalances(ctx context.Context, walletID uuid.UUID) ([]storage.Balance, error) {
	if _, err := s.store.GetWallet(ctx, walletID); err != nil {
		return nil, err
	}
	return s.store.ListBalances(ctx, walletID)
}

// History returns a wallet's observations, newest first.
func (s *Service) History(ctx context.Context, walletID uuid.UUID, tokenSymbol *string, limit int) ([]storage.HistoryEntry, error) {
	if _, err := s.store.GetWallet(ctx, walletID); err != nil {
		return nil, err
	}
	return s.store.History(ctx, walletID, tokenSymbol, limit)
}

// FetchBalances is the reconciliation state machine. A fresh cache flag
// short-circuits to the persisted rows; otherwise the wallet's adapter
// is queried, prices resolved, and current + history rows written in
// one transaction before the flag is set. On any failure the cache is
// left untouched so the next call retries against the chain.
func (s *Service) FetchBalances(ctx context.Context, walletID uuid.UUID, forceRefresh bool) ([]storage.Balance, error) {
	wallet, err := s.store.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}

	adapter, ok := s.registry.Adapter(wallet.Chain)
	if !ok {
		return nil, errdefs.New(errdefs.KindValidation, "unsupported chain: %s", wallet.Chain)
	}

	key := freshnessKey(walletID)
	if !forceRefresh {
		if _, fresh := s.cache.Get(ctx, key); fresh {
			slog.Debug("Returning cached balances", "wallet", walletID)
			return s.store.ListBalances(ctx, walletID)
		}
	}

	// At most one in-flight chain fetch per wallet; concurrent callers
	// share its outcome. The refresh runs on a context detached from
	// the initiating caller, so one caller hanging up cannot fail the
	// fetch for everyone waiting on it. Adapter timeouts still bound
	// the work.
	refreshCtx := context.WithoutCancel(ctx)
	result, err, _ := s.flight.Do(walletID.String(), func() (any, error) {
		return s.refresh(refreshCtx, wallet, adapter, key)
	})
	if err != nil {
		return nil, err
	}
	return result.([]storage.Balance), nil
}

func (s *Service) refresh(ctx context.Context, wallet storage.Wallet, adapter chain.Adapter, key string) ([]storage.Balance, error) {
	fetched, err := adapter.FetchBalances(ctx, wallet.Address)
	if err != nil {
		return nil, fmt.Errorf("fetching %s balances for wallet %s: %w", wallet.Chain, wallet.ID, err)
	}

	symbols := make([]string, 0, len(fetched))
	for symbol := range fetched {
		symbols = append(symbols, symbol)
	}
	prices := s.prices.Prices(ctx, symbols)

	updates := make([]storage.BalanceUpdate, 0, len(fetched))
	for symbol, amount := range fetched {
		update := storage.BalanceUpdate{
			TokenSymbol: symbol,
			Amount:      amount.Value,
		}
		if amount.ContractAddress != "" {
			addr := amount.ContractAddress
			update.TokenAddress = &addr
		}
		if price, ok := prices[symbol]; ok {
			usd := amount.Value.Mul(price)
			update.USDValue = &usd
		}
		updates = append(updates, update)
	}

	stored, err := s.store.ReplaceBalances(ctx, wallet.ID, updates, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	s.cache.Set(ctx, key, "1", s.ttl)
	slog.Info("Stored balances", "wallet", wallet.ID, "tokens", len(stored))
	return stored, nil
}
