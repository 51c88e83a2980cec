package track

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/matrixise/chain-portfolio/internal/storage"
)

// WalletSummary is one wallet's slice of the portfolio.
type WalletSummary struct {
	Wallet        storage.Wallet
	Balances      []storage.Balance
	TotalUSDValue decimal.Decimal
}

// Portfolio is the totals view over every wallet's persisted balances.
type Portfolio struct {
	TotalWallets  int
	TotalUSDValue decimal.Decimal
	Wallets       []WalletSummary
}

// PortfolioSummary folds all persisted current balances into per-wallet
// subtotals and a grand total. It reads only stored rows, never chains:
// an unpriced balance counts as zero.
func (s *Service) PortfolioSummary(ctx context.Context) (Portfolio, error) {
	wallets, err := s.store.ListWallets(ctx)
	if err != nil {
		return Portfolio{}, err
	}

	portfolio := Portfolio{
		TotalWallets: len(wallets),
		Wallets:      make([]WalletSummary, 0, len(wallets)),
	}

	for _, wallet := range wallets {
		balances, err := s.store.ListBalances(ctx, wallet.ID)
		if err != nil {
			return Portfolio{}, err
		}

		subtotal := decimal.Zero
		for _, b := range balances {
			if b.USDValue != nil {
				subtotal = subtotal.Add(*b.USDValue)
			}
		}

		portfolio.Wallets = append(portfolio.Wallets, WalletSummary{
			Wallet:        wallet,
			Balances:      balances,
			TotalUSDValue: subtotal,
		})
		portfolio.TotalUSDValue = portfolio.TotalUSDValue.Add(subtotal)
	}

	return portfolio, nil
}
