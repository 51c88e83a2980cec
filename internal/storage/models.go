package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet is a registered blockchain address. (Address, Chain) is unique
// across the table; only the label and timestamps ever change.
type Wallet struct {
	ID        uuid.UUID
	Address   string
	Chain     string
	Label     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Balance is the current amount of one token held by one wallet.
// TokenAddress is nil for a chain's native asset; USDValue is nil when
// the price oracle could not price the symbol.
type Balance struct {
	ID           uuid.UUID
	WalletID     uuid.UUID
	TokenSymbol  string
	TokenAddress *string
	Balance      decimal.Decimal
	USDValue     *decimal.Decimal
	LastUpdated  time.Time
}

// HistoryEntry is one append-only observation of a balance. A row is
// recorded on every successful refresh whether or not the value moved.
type HistoryEntry struct {
	ID           uuid.UUID
	WalletID     uuid.UUID
	TokenSymbol  string
	TokenAddress *string
	Balance      decimal.Decimal
	USDValue     *decimal.Decimal
	RecordedAt   time.Time
}

// BalanceUpdate is one freshly observed (token, amount) pair handed to
// ReplaceBalances.
type BalanceUpdate struct {
	TokenSymbol  string
	TokenAddress *string
	Amount       decimal.Decimal
	USDValue     *decimal.Decimal
}
