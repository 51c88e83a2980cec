package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/shopspring/decimal"

	"github.com/matrixise/chain-portfolio/internal/errdefs"
)

const uniqueViolation = "23505"

// Store manages all PostgreSQL access.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore opens a tuned connection pool and verifies connectivity.
// Decimal columns scan straight into shopspring values.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 1 * time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		pgxdecimal.Register(conn.TypeMap())
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies the connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateWallet registers a wallet. A duplicate (address, chain) pair is
// a validation error, not a persistence one.
func (s *Store) CreateWallet(ctx context.Context, address, chain string, label *string) (Wallet, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO wallets (id, address, chain, label)
		VALUES ($1, $2, $3, $4)
		RETURNING id, address, chain, label, created_at, updated_at`,
		uuid.New(), address, chain, label,
	)

	w, err := scanWallet(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Wallet{}, errdefs.New(errdefs.KindValidation,
				"wallet already exists for address %s on %s", address, chain)
		}
		return Wallet{}, errdefs.Wrap(errdefs.KindPersistence, err, "create wallet")
	}
	return w, nil
}

// GetWallet fetches a wallet by id.
func (s *Store) GetWallet(ctx context.Context, id uuid.UUID) (Wallet, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, address, chain, label, created_at, updated_at
		FROM wallets WHERE id = $1`, id)

	w, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, errdefs.New(errdefs.KindNotFound, "wallet not found: %s", id)
		}
		return Wallet{}, errdefs.Wrap(errdefs.KindPersistence, err, "get wallet")
	}
	return w, nil
}

// ListWallets returns every registered wallet, oldest first.
func (s *Store) ListWallets(ctx context.Context) ([]Wallet, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, address, chain, label, created_at, updated_at
		FROM wallets ORDER BY created_at`)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindPersistence, err, "list wallets")
	}
	defer rows.Close()

	var wallets []Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, errdefs.Wrap(errdefs.KindPersistence, err, "scan wallet")
		}
		wallets = append(wallets, w)
	}
	if err := rows.Err(); err != nil {
		return nil, errdefs.Wrap(errdefs.KindPersistence, err, "list wallets")
	}
	return wallets, nil
}

// DeleteWallet removes a wallet; balances and history cascade. Reports
// false when the id was unknown.
func (s *Store) DeleteWallet(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM wallets WHERE id = $1`, id)
	if err != nil {
		return false, errdefs.Wrap(errdefs.KindPersistence, err, "delete wallet")
	}
	return tag.RowsAffected() > 0, nil
}

// ListBalances returns the current balance rows of one wallet.
func (s *Store) ListBalances(ctx context.Context, walletID uuid.UUID) ([]Balance, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, wallet_id, token_symbol, token_address, balance, usd_value, last_updated
		FROM balances WHERE wallet_id = $1 ORDER BY token_symbol`, walletID)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindPersistence, err, "list balances")
	}
	defer rows.Close()

	return collectBalances(rows)
}

// ReplaceBalances applies one refresh atomically: every update is
// upserted into balances and appended to balance_history inside a
// single transaction. On any failure the transaction rolls back and no
// partial rows survive.
func (s *Store) ReplaceBalances(ctx context.Context, walletID uuid.UUID, updates []BalanceUpdate, now time.Time) ([]Balance, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindPersistence, err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	stored := make([]Balance, 0, len(updates))
	for _, u := range updates {
		row := tx.QueryRow(ctx, `
			INSERT INTO balances (id, wallet_id, token_symbol, token_address, balance, usd_value, last_updated)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (wallet_id, token_symbol, COALESCE(token_address, ''))
			DO UPDATE SET balance = EXCLUDED.balance,
			              usd_value = EXCLUDED.usd_value,
			              last_updated = EXCLUDED.last_updated
			RETURNING id, wallet_id, token_symbol, token_address, balance, usd_value, last_updated`,
			uuid.New(), walletID, u.TokenSymbol, u.TokenAddress, u.Amount, nullDecimal(u.USDValue), now,
		)

		b, err := scanBalance(row)
		if err != nil {
			return nil, errdefs.Wrap(errdefs.KindPersistence, err, "upsert balance %s", u.TokenSymbol)
		}
		stored = append(stored, b)

		// History is unconditional: one row per observation, even
		// when the amount is unchanged.
		_, err = tx.Exec(ctx, `
			INSERT INTO balance_history (id, wallet_id, token_symbol, token_address, balance, usd_value, recorded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.New(), walletID, u.TokenSymbol, u.TokenAddress, u.Amount, nullDecimal(u.USDValue), now,
		)
		if err != nil {
			return nil, errdefs.Wrap(errdefs.KindPersistence, err, "append history %s", u.TokenSymbol)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errdefs.Wrap(errdefs.KindPersistence, err, "commit refresh")
	}
	return stored, nil
}

// History returns a wallet's observations, newest first, optionally
// filtered by symbol.
func (s *Store) History(ctx context.Context, walletID uuid.UUID, tokenSymbol *string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, wallet_id, token_symbol, token_address, balance, usd_value, recorded_at
		FROM balance_history WHERE wallet_id = $1`
	args := []any{walletID}
	if tokenSymbol != nil {
		query += ` AND token_symbol = $2`
		args = append(args, *tokenSymbol)
	}
	query += fmt.Sprintf(` ORDER BY recorded_at DESC LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindPersistence, err, "query history")
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var usd decimal.NullDecimal
		if err := rows.Scan(&e.ID, &e.WalletID, &e.TokenSymbol, &e.TokenAddress, &e.Balance, &usd, &e.RecordedAt); err != nil {
			return nil, errdefs.Wrap(errdefs.KindPersistence, err, "scan history")
		}
		e.USDValue = fromNullDecimal(usd)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errdefs.Wrap(errdefs.KindPersistence, err, "query history")
	}
	return entries, nil
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var w Wallet
	err := row.Scan(&w.ID, &w.Address, &w.Chain, &w.Label, &w.CreatedAt, &w.UpdatedAt)
	return w, err
}

func scanBalance(row pgx.Row) (Balance, error) {
	var b Balance
	var usd decimal.NullDecimal
	err := row.Scan(&b.ID, &b.WalletID, &b.TokenSymbol, &b.TokenAddress, &b.Balance, &usd, &b.LastUpdated)
	b.USDValue = fromNullDecimal(usd)
	return b, err
}

func collectBalances(rows pgx.Rows) ([]Balance, error) {
	var balances []Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, errdefs.Wrap(errdefs.KindPersistence, err, "scan balance")
		}
		balances = append(balances, b)
	}
	if err := rows.Err(); err != nil {
		return nil, errdefs.Wrap(errdefs.KindPersistence, err, "read balances")
	}
	return balances, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func fromNullDecimal(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}
