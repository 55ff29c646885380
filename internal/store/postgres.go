package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/energy-market/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS trades (
	seq             BIGSERIAL PRIMARY KEY,
	timestamp       TIMESTAMPTZ NOT NULL,
	seller_id       TEXT NOT NULL,
	buyer_id        TEXT NOT NULL,
	seller_identity TEXT NOT NULL,
	buyer_identity  TEXT NOT NULL,
	energy_amount   NUMERIC NOT NULL,
	price_per_unit  NUMERIC NOT NULL,
	total_price     NUMERIC NOT NULL,
	settlement_ref  TEXT NOT NULL,
	simulated       BOOLEAN NOT NULL
);

CREATE TABLE IF NOT EXISTS buildings (
	id          TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	capacity    DOUBLE PRECISION NOT NULL,
	production  DOUBLE PRECISION NOT NULL,
	consumption DOUBLE PRECISION NOT NULL,
	identity    TEXT NOT NULL,
	balance     NUMERIC NOT NULL
);

CREATE TABLE IF NOT EXISTS kv (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_seller ON trades (seller_id);
CREATE INDEX IF NOT EXISTS idx_trades_buyer ON trades (buyer_id);
`

// Migrate creates the schema if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trades (timestamp, seller_id, buyer_id, seller_identity, buyer_identity,
		                     energy_amount, price_per_unit, total_price, settlement_ref, simulated)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9, $10)`,
		t.Timestamp, t.SellerID, t.BuyerID, t.SellerIdentity, t.BuyerIdentity,
		t.EnergyAmount.String(), t.PricePerUnit.String(), t.TotalPrice.String(),
		t.SettlementRef, t.Simulated,
	)
	if err != nil {
		return fmt.Errorf("append trade %s: %w", t.SettlementRef, err)
	}
	return nil
}

func (s *PostgresStore) ListTrades(ctx context.Context) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT timestamp, seller_id, buyer_id, seller_identity, buyer_identity,
		        energy_amount::TEXT, price_per_unit::TEXT, total_price::TEXT,
		        settlement_ref, simulated
		 FROM trades ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) SaveBuildings(ctx context.Context, buildings []model.Building) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM buildings`); err != nil {
		return err
	}
	for _, b := range buildings {
		if _, err := tx.Exec(ctx,
			`INSERT INTO buildings (id, kind, capacity, production, consumption, identity, balance)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC)`,
			b.ID, string(b.Kind), b.Capacity, b.Production, b.Consumption, b.Identity, b.Balance.String(),
		); err != nil {
			return fmt.Errorf("save building %s: %w", b.ID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) LoadBuildings(ctx context.Context) ([]model.Building, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind, capacity, production, consumption, identity, balance::TEXT
		 FROM buildings`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Building
	for rows.Next() {
		var b model.Building
		var kind, balance string
		if err := rows.Scan(&b.ID, &kind, &b.Capacity, &b.Production, &b.Consumption, &b.Identity, &balance); err != nil {
			return nil, err
		}
		b.Kind = model.Kind(kind)
		bal, err := decimal.NewFromString(balance)
		if err != nil {
			return nil, fmt.Errorf("building %s: balance %q: %w", b.ID, balance, err)
		}
		b.Balance = bal
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortBuildings(out)
	return out, nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.pool.QueryRow(ctx, `SELECT value FROM kv WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

func (s *PostgresStore) Set(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO kv (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	return err
}

// pgxRows is the subset of pgx.Rows used by scanTrades.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanTrades(rows pgxRows) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var amountS, priceS, totalS string

		if err := rows.Scan(&t.Timestamp, &t.SellerID, &t.BuyerID, &t.SellerIdentity, &t.BuyerIdentity,
			&amountS, &priceS, &totalS, &t.SettlementRef, &t.Simulated); err != nil {
			return nil, err
		}

		if err := parseAmounts(&t, amountS, priceS, totalS); err != nil {
			return nil, err
		}

		trades = append(trades, t)
	}
	return trades, rows.Err()
}
