package solana

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matrixise/chain-portfolio/internal/chain"
	"github.com/matrixise/chain-portfolio/internal/errdefs"
)

func testRetry() chain.RetryPolicy {
	return chain.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func TestValidateAddress(t *testing.T) {
	a := NewAdapter(Config{})

	tests := []struct {
		name    string
		address string
		valid   bool
	}{
		{"typical pubkey", "DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK", true},
		{"system program", "11111111111111111111111111111111", true},
		{"too short", "DYw8jCTfwHNRJhhm", false},
		{"contains zero digit", "0Yw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK", false},
		{"contains letter O", "OYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSK", false},
		{"eth address", "0x742d35Cc6634C0532925a3b844Bc454e4438f44e", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, a.ValidateAddress(tt.address))
		})
	}
}

func balanceServer(t *testing.T, lamports uint64, calls *int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			*calls++
		}
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "getBalance", req.Method)

		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  map[string]any{"context": map[string]any{"slot": 1}, "value": lamports},
		})
	}))
}

func TestFetchBalances(t *testing.T) {
	srv := balanceServer(t, 1_500_000_000, nil)
	defer srv.Close()

	a := NewAdapter(Config{Endpoint: srv.URL, Retry: testRetry()})
	balances, err := a.FetchBalances(context.Background(), "DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK")
	require.NoError(t, err)

	require.Contains(t, balances, "SOL")
	assert.Equal(t, "1.5", balances["SOL"].Value.String())
	assert.Empty(t, balances["SOL"].ContractAddress)
}

func TestFetchBalancesZeroOmitted(t *testing.T) {
	srv := balanceServer(t, 0, nil)
	defer srv.Close()

	a := NewAdapter(Config{Endpoint: srv.URL, Retry: testRetry()})
	balances, err := a.FetchBalances(context.Background(), "DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK")
	require.NoError(t, err)
	assert.Empty(t, balances)
}

func TestFetchBalancesServerErrorRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := NewAdapter(Config{Endpoint: srv.URL, Retry: testRetry()})
	_, err := a.FetchBalances(context.Background(), "DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK")

	assert.True(t, errdefs.IsTransient(err))
	assert.Equal(t, 3, calls)
}

func TestFetchBalancesRPCErrorNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"error":   map[string]any{"code": -32602, "message": "Invalid param"},
		})
	}))
	defer srv.Close()

	a := NewAdapter(Config{Endpoint: srv.URL, Retry: testRetry()})
	_, err := a.FetchBalances(context.Background(), "DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK")

	require.Error(t, err)
	assert.False(t, errdefs.IsTransient(err))
	assert.Equal(t, 1, calls)
}

func TestFetchBalancesUnconfigured(t *testing.T) {
	a := NewAdapter(Config{})
	_, err := a.FetchBalances(context.Background(), "DYw8jCTfwHNRJhhmFcbXvVDTqWMEVFBX6ZKUmG5CNSKK")
	assert.True(t, errdefs.IsConfiguration(err))
}

var _ chain.Adapter = (*Adapter)(nil)
