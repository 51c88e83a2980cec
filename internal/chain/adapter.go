// Package chain defines the adapter capability set shared by every
// supported blockchain and the registry resolving a wallet's chain to
// its adapter.
package chain

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// Amount is a token balance already converted out of smallest units.
type Amount struct {
	Value decimal.Decimal

	// ContractAddress is the token contract the balance came from,
	// empty for a chain's native asset.
	ContractAddress string
}

// Adapter is the uniform capability set over one chain.
type Adapter interface {
	// Chain returns the chain identifier this adapter serves.
	Chain() string

	// ValidateAddress is a pure format check; it never touches the network.
	ValidateAddress(address string) bool

	// NormalizeAddress returns the canonical form of a valid address
	// (checksummed for EVM chains, unchanged elsewhere).
	NormalizeAddress(address string) string

	// FetchBalances returns the native balance plus every allow-listed
	// token balance, keyed by symbol.
	FetchBalances(ctx context.Context, address string) (map[string]Amount, error)
}

// Registry is the closed set of configured adapters, resolved once at
// construction. Callers never branch on chain strings themselves.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry indexes adapters by their chain identifier.
func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Chain()] = a
	}
	return &Registry{adapters: m}
}

// Adapter returns the adapter for a chain, if one is configured.
func (r *Registry) Adapter(chain string) (Adapter, bool) {
	a, ok := r.adapters[chain]
	return a, ok
}

// Chains lists the supported chain identifiers in stable order.
func (r *Registry) Chains() []string {
	chains := make([]string, 0, len(r.adapters))
	for c := range r.adapters {
		chains = append(chains, c)
	}
	sort.Strings(chains)
	return chains
}
