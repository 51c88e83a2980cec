package track

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixise/chain-portfolio/internal/chain"
	"github.com/matrixise/chain-portfolio/internal/errdefs"
	"github.com/matrixise/chain-portfolio/internal/storage"
)

// fakeStore is an in-memory Store with upsert semantics matching the
// real one.
type fakeStore struct {
	wallets     map[uuid.UUID]storage.Wallet
	balances    map[uuid.UUID][]storage.Balance
	history     map[uuid.UUID][]storage.HistoryEntry
	replaceErr  error
	createCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		wallets:  make(map[uuid.UUID]storage.Wallet),
		balances: make(map[uuid.UUID][]storage.Balance),
		history:  make(map[uuid.UUID][]storage.HistoryEntry),
	}
}

func (f *fakeStore) CreateWallet(_ context.Context, address, chainName string, label *string) (storage.Wallet, error) {
	f.createCalls++
	for _, w := range f.wallets {
		if w.Address == address && w.Chain == chainName {
			return storage.Wallet{}, errdefs.New(errdefs.KindValidation,
				"wallet already exists for address %s on %s", address, chainName)
		}
	}
	w := storage.Wallet{
		ID:        uuid.New(),
		Address:   address,
		Chain:     chainName,
		Label:     label,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	f.wallets[w.ID] = w
	return w, nil
}

func (f *fakeStore) GetWallet(_ context.Context, id uuid.UUID) (storage.Wallet, error) {
	w, ok := f.wallets[id]
	if !ok {
		return storage.Wallet{}, errdefs.New(errdefs.KindNotFound, "wallet not found: %s", id)
	}
	return w, nil
}

func (f *fakeStore) ListWallets(_ context.Context) ([]storage.Wallet, error) {
	var wallets []storage.Wallet
	for _, w := range f.wallets {
		wallets = append(wallets, w)
	}
	return wallets, nil
}

func (f *fakeStore) DeleteWallet(_ context.Context, id uuid.UUID) (bool, error) {
	if _, ok := f.wallets[id]; !ok {
		return false, nil
	}
	delete(f.wallets, id)
	delete(f.balances, id)
	delete(f.history, id)
	return true, nil
}

func (f *fakeStore) ListBalances(_ context.Context, walletID uuid.UUID) ([]storage.Balance, error) {
	return f.balances[walletID], nil
}

func (f *fakeStore) ReplaceBalances(_ context.Context, walletID uuid.UUID, updates []storage.BalanceUpdate, now time.Time) ([]storage.Balance, error) {
	if f.replaceErr != nil {
		return nil, f.replaceErr
	}

	stored := make([]storage.Balance, 0, len(updates))
	for _, u := range updates {
		upserted := false
		for i, existing := range f.balances[walletID] {
			if existing.TokenSymbol == u.TokenSymbol && strPtrEq(existing.TokenAddress, u.TokenAddress) {
				existing.Balance = u.Amount
				existing.USDValue = u.USDValue
				existing.LastUpdated = now
				f.balances[walletID][i] = existing
				stored = append(stored, existing)
				upserted = true
				break
			}
		}
		if !upserted {
			b := storage.Balance{
				ID:           uuid.New(),
				WalletID:     walletID,
				TokenSymbol:  u.TokenSymbol,
				TokenAddress: u.TokenAddress,
				Balance:      u.Amount,
				USDValue:     u.USDValue,
				LastUpdated:  now,
			}
			f.balances[walletID] = append(f.balances[walletID], b)
			stored = append(stored, b)
		}

		f.history[walletID] = append(f.history[walletID], storage.HistoryEntry{
			ID:           uuid.New(),
			WalletID:     walletID,
			TokenSymbol:  u.TokenSymbol,
			TokenAddress: u.TokenAddress,
			Balance:      u.Amount,
			USDValue:     u.USDValue,
			RecordedAt:   now,
		})
	}
	return stored, nil
}

func (f *fakeStore) History(_ context.Context, walletID uuid.UUID, tokenSymbol *string, limit int) ([]storage.HistoryEntry, error) {
	var entries []storage.HistoryEntry
	for _, e := range f.history[walletID] {
		if tokenSymbol == nil || e.TokenSymbol == *tokenSymbol {
			entries = append(entries, e)
		}
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func strPtrEq(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// fakeAdapter serves canned balances and counts fetches. When proceed
// is set, a fetch blocks until the channel closes or its context ends,
// letting tests hold a refresh in flight.
type fakeAdapter struct {
	chainName string
	balances  map[string]chain.Amount
	err       error
	fetches   int
	started   chan struct{}
	proceed   chan struct{}
}

func (f *fakeAdapter) Chain() string                       { return f.chainName }
func (f *fakeAdapter) ValidateAddress(addr string) bool    { return addr != "" && addr != "bad" }
func (f *fakeAdapter) NormalizeAddress(addr string) string { return "norm:" + addr }
func (f *fakeAdapter) FetchBalances(ctx context.Context, _ string) (map[string]chain.Amount, error) {
	f.fetches++
	if f.started != nil {
		close(f.started)
		f.started = nil
	}
	if f.proceed != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.proceed:
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.balances, nil
}

type fakePrices struct {
	prices map[string]decimal.Decimal
	calls  int
}

func (f *fakePrices) Prices(_ context.Context, symbols []string) map[string]decimal.Decimal {
	f.calls++
	out := make(map[string]decimal.Decimal)
	for _, s := range symbols {
		if p, ok := f.prices[s]; ok {
			out[s] = p
		}
	}
	return out
}

type fakeCache struct {
	values map[string]string
}

func newFakeCache() *fakeCache { return &fakeCache{values: make(map[string]string)} }

func (f *fakeCache) Get(_ context.Context, key string) (string, bool) {
	v, ok := f.values[key]
	return v, ok
}

func (f *fakeCache) Set(_ context.Context, key, value string, _ time.Duration) bool {
	f.values[key] = value
	return true
}

func (f *fakeCache) Delete(_ context.Context, key string) bool {
	delete(f.values, key)
	return true
}

type fixture struct {
	store   *fakeStore
	adapter *fakeAdapter
	prices  *fakePrices
	cache   *fakeCache
	svc     *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: newFakeStore(),
		adapter: &fakeAdapter{
			chainName: "ethereum",
			balances: map[string]chain.Amount{
				"ETH": {Value: decimal.RequireFromString("1.5")},
			},
		},
		prices: &fakePrices{prices: map[string]decimal.Decimal{
			"ETH": decimal.RequireFromString("2000.00"),
		}},
		cache: newFakeCache(),
	}
	f.svc = NewService(f.store, chain.NewRegistry(f.adapter), f.prices, f.cache, time.Minute)
	return f
}

func (f *fixture) wallet(t *testing.T) storage.Wallet {
	t.Helper()
	w, err := f.svc.CreateWallet(context.Background(), "0x742d35Cc", "ethereum", nil)
	require.NoError(t, err)
	return w
}

func TestCreateWallet(t *testing.T) {
	t.Run("valid wallet is normalized and stored", func(t *testing.T) {
		f := newFixture(t)
		w, err := f.svc.CreateWallet(context.Background(), "0xabc", "ethereum", nil)
		require.NoError(t, err)
		assert.Equal(t, "norm:0xabc", w.Address)
		assert.Equal(t, "ethereum", w.Chain)
	})

	t.Run("unsupported chain writes no row", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateWallet(context.Background(), "0xabc", "dogecoin", nil)
		assert.True(t, errdefs.IsValidation(err))
		assert.Equal(t, 0, f.store.createCalls)
	})

	t.Run("invalid address writes no row", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateWallet(context.Background(), "bad", "ethereum", nil)
		assert.True(t, errdefs.IsValidation(err))
		assert.Equal(t, 0, f.store.createCalls)
	})

	t.Run("duplicate address and chain rejected", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.CreateWallet(context.Background(), "0xabc", "ethereum", nil)
		require.NoError(t, err)
		_, err = f.svc.CreateWallet(context.Background(), "0xabc", "ethereum", nil)
		assert.True(t, errdefs.IsValidation(err))
	})
}

func TestFetchBalancesStoresCurrentAndHistory(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t)

	balances, err := f.svc.FetchBalances(context.Background(), w.ID, false)
	require.NoError(t, err)

	require.Len(t, balances, 1)
	assert.Equal(t, "ETH", balances[0].TokenSymbol)
	assert.Equal(t, "1.5", balances[0].Balance.String())
	require.NotNil(t, balances[0].USDValue)
	assert.Equal(t, "3000", balances[0].USDValue.String())
	assert.Nil(t, balances[0].TokenAddress)

	// Exactly one history row per symbol per refresh, same values.
	history := f.store.history[w.ID]
	require.Len(t, history, 1)
	assert.Equal(t, "1.5", history[0].Balance.String())
	assert.Equal(t, "3000", history[0].USDValue.String())

	// Freshness flag set after the commit.
	_, fresh := f.cache.Get(context.Background(), "wallet:"+w.ID.String()+":balances")
	assert.True(t, fresh)
}

func TestFetchBalancesCachedSkipsChain(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t)

	_, err := f.svc.FetchBalances(context.Background(), w.ID, false)
	require.NoError(t, err)
	require.Equal(t, 1, f.adapter.fetches)

	again, err := f.svc.FetchBalances(context.Background(), w.ID, false)
	require.NoError(t, err)

	// Second call within the TTL issues zero chain calls and returns
	// the persisted rows.
	assert.Equal(t, 1, f.adapter.fetches)
	require.Len(t, again, 1)
	assert.Equal(t, "1.5", again[0].Balance.String())
}

func TestForceRefreshBypassesCache(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t)

	_, err := f.svc.FetchBalances(context.Background(), w.ID, false)
	require.NoError(t, err)

	_, err = f.svc.FetchBalances(context.Background(), w.ID, true)
	require.NoError(t, err)
	assert.Equal(t, 2, f.adapter.fetches)
}

func TestRepeatedRefreshUpsertsSingleRow(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t)

	first, err := f.svc.FetchBalances(context.Background(), w.ID, true)
	require.NoError(t, err)

	f.adapter.balances["ETH"] = chain.Amount{Value: decimal.RequireFromString("2.25")}
	second, err := f.svc.FetchBalances(context.Background(), w.ID, true)
	require.NoError(t, err)

	// One current row whose balance tracks the latest fetch, while
	// history keeps growing.
	require.Len(t, f.store.balances[w.ID], 1)
	assert.Equal(t, "2.25", second[0].Balance.String())
	assert.True(t, second[0].LastUpdated.After(first[0].LastUpdated) ||
		second[0].LastUpdated.Equal(first[0].LastUpdated))
	assert.Len(t, f.store.history[w.ID], 2)
}

func TestFetchBalancesUnpricedSymbol(t *testing.T) {
	f := newFixture(t)
	f.adapter.balances["XYZ"] = chain.Amount{Value: decimal.RequireFromString("10")}
	w := f.wallet(t)

	balances, err := f.svc.FetchBalances(context.Background(), w.ID, false)
	require.NoError(t, err)
	require.Len(t, balances, 2)

	for _, b := range balances {
		switch b.TokenSymbol {
		case "ETH":
			assert.NotNil(t, b.USDValue)
		case "XYZ":
			assert.Nil(t, b.USDValue)
		}
	}
}

func TestFetchBalancesAdapterFailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t)

	_, err := f.svc.FetchBalances(context.Background(), w.ID, false)
	require.NoError(t, err)

	f.adapter.err = errdefs.New(errdefs.KindTransient, "rpc timeout")
	_, err = f.svc.FetchBalances(context.Background(), w.ID, true)
	assert.True(t, errdefs.IsTransient(err))

	// Prior state untouched.
	require.Len(t, f.store.balances[w.ID], 1)
	assert.Equal(t, "1.5", f.store.balances[w.ID][0].Balance.String())
	assert.Len(t, f.store.history[w.ID], 1)
}

func TestFetchBalancesPersistenceFailureLeavesCacheUntouched(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t)

	f.store.replaceErr = errdefs.New(errdefs.KindPersistence, "tx aborted")
	_, err := f.svc.FetchBalances(context.Background(), w.ID, false)
	assert.True(t, errdefs.IsPersistence(err))

	// No freshness flag: the next call must retry against the chain.
	_, fresh := f.cache.Get(context.Background(), "wallet:"+w.ID.String()+":balances")
	assert.False(t, fresh)

	f.store.replaceErr = nil
	_, err = f.svc.FetchBalances(context.Background(), w.ID, false)
	require.NoError(t, err)
	assert.Equal(t, 2, f.adapter.fetches)
}

func TestFetchBalancesUnknownWallet(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.FetchBalances(context.Background(), uuid.New(), false)
	assert.True(t, errdefs.IsNotFound(err))
	assert.Equal(t, 0, f.adapter.fetches)
}

func TestFetchBalancesUnsupportedChain(t *testing.T) {
	f := newFixture(t)
	// Wallet persisted under a chain that no longer has an adapter.
	w := storage.Wallet{ID: uuid.New(), Address: "addr", Chain: "osmosis"}
	f.store.wallets[w.ID] = w

	_, err := f.svc.FetchBalances(context.Background(), w.ID, false)
	assert.True(t, errdefs.IsValidation(err))
	assert.Equal(t, 0, f.adapter.fetches)
}

func TestDeleteWalletClearsFreshness(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t)

	_, err := f.svc.FetchBalances(context.Background(), w.ID, false)
	require.NoError(t, err)

	deleted, err := f.svc.DeleteWallet(context.Background(), w.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, fresh := f.cache.Get(context.Background(), "wallet:"+w.ID.String()+":balances")
	assert.False(t, fresh)

	deleted, err = f.svc.DeleteWallet(context.Background(), w.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestFetchBalancesSurvivesInitialCallerHangingUp(t *testing.T) {
	f := newFixture(t)
	w := f.wallet(t)

	started := make(chan struct{})
	proceed := make(chan struct{})
	f.adapter.started = started
	f.adapter.proceed = proceed

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := f.svc.FetchBalances(firstCtx, w.ID, true)
		firstErr <- err
	}()
	<-started

	secondErr := make(chan error, 1)
	go func() {
		_, err := f.svc.FetchBalances(context.Background(), w.ID, true)
		secondErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	// The initiating caller hangs up while the fetch is in flight; the
	// shared refresh must keep going for the waiter.
	cancelFirst()
	close(proceed)

	require.NoError(t, <-secondErr)
	require.NoError(t, <-firstErr)
	assert.Equal(t, 1, f.adapter.fetches)
	require.Len(t, f.store.balances[w.ID], 1)
	assert.Equal(t, "1.5", f.store.balances[w.ID][0].Balance.String())
}

func TestPortfolioSummary(t *testing.T) {
	f := newFixture(t)

	walletA, err := f.svc.CreateWallet(context.Background(), "0xaaa", "ethereum", nil)
	require.NoError(t, err)
	_, err = f.svc.FetchBalances(context.Background(), walletA.ID, true)
	require.NoError(t, err)

	// Second wallet holds priced ETH plus an unpriced token, which
	// must count as zero in the subtotal.
	f.adapter.balances = map[string]chain.Amount{
		"ETH": {Value: decimal.RequireFromString("1")},
		"XYZ": {Value: decimal.RequireFromString("10")},
	}
	walletB, err := f.svc.CreateWallet(context.Background(), "0xbbb", "ethereum", nil)
	require.NoError(t, err)
	_, err = f.svc.FetchBalances(context.Background(), walletB.ID, true)
	require.NoError(t, err)

	subtotal := func(p Portfolio, id uuid.UUID) (WalletSummary, bool) {
		for _, s := range p.Wallets {
			if s.Wallet.ID == id {
				return s, true
			}
		}
		return WalletSummary{}, false
	}

	portfolio, err := f.svc.PortfolioSummary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, portfolio.TotalWallets)

	a, ok := subtotal(portfolio, walletA.ID)
	require.True(t, ok)
	assert.Equal(t, "3000", a.TotalUSDValue.String())
	assert.Len(t, a.Balances, 1)

	b, ok := subtotal(portfolio, walletB.ID)
	require.True(t, ok)
	assert.Equal(t, "2000", b.TotalUSDValue.String())
	assert.Len(t, b.Balances, 2)

	// Grand total is the sum of the subtotals.
	assert.Equal(t, "5000", portfolio.TotalUSDValue.String())

	// Refreshing one wallet moves only its subtotal and the total.
	f.adapter.balances = map[string]chain.Amount{
		"ETH": {Value: decimal.RequireFromString("2")},
	}
	_, err = f.svc.FetchBalances(context.Background(), walletA.ID, true)
	require.NoError(t, err)

	portfolio, err = f.svc.PortfolioSummary(context.Background())
	require.NoError(t, err)

	a, ok = subtotal(portfolio, walletA.ID)
	require.True(t, ok)
	assert.Equal(t, "4000", a.TotalUSDValue.String())

	b, ok = subtotal(portfolio, walletB.ID)
	require.True(t, ok)
	assert.Equal(t, "2000", b.TotalUSDValue.String())

	assert.Equal(t, "6000", portfolio.TotalUSDValue.String())
}

func TestHistoryFilterAndLimit(t *testing.T) {
	f := newFixture(t)
	f.adapter.balances["XYZ"] = chain.Amount{Value: decimal.RequireFromString("10")}
	w := f.wallet(t)

	for i := 0; i < 3; i++ {
		_, err := f.svc.FetchBalances(context.Background(), w.ID, true)
		require.NoError(t, err)
	}

	eth := "ETH"
	entries, err := f.svc.History(context.Background(), w.ID, &eth, 0)
	require.NoError(t, err)
	assert.Len(t, entries, 3)

	entries, err = f.svc.History(context.Background(), w.ID, nil, 2)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	_, err = f.svc.History(context.Background(), uuid.New(), nil, 0)
	assert.True(t, errdefs.IsNotFound(err))
}
