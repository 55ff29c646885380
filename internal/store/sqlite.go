package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/atmx/energy-market/internal/model"
)

// SQLiteStore implements Store on an embedded SQLite file. Decimals are
// kept as TEXT so no precision is lost.
type SQLiteStore struct {
	conn *sqlx.DB
}

// OpenSQLite opens or creates a SQLite database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between the tick loop and handlers.
	conn.SetMaxOpenConns(1)

	s := &SQLiteStore{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		seller_id TEXT NOT NULL,
		buyer_id TEXT NOT NULL,
		seller_identity TEXT NOT NULL,
		buyer_identity TEXT NOT NULL,
		energy_amount TEXT NOT NULL,
		price_per_unit TEXT NOT NULL,
		total_price TEXT NOT NULL,
		settlement_ref TEXT NOT NULL,
		simulated INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS buildings (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		capacity REAL NOT NULL,
		production REAL NOT NULL,
		consumption REAL NOT NULL,
		identity TEXT NOT NULL,
		balance TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);
	`
	_, err := s.conn.Exec(schema)
	return err
}

type tradeRow struct {
	TS             int64  `db:"ts"`
	SellerID       string `db:"seller_id"`
	BuyerID        string `db:"buyer_id"`
	SellerIdentity string `db:"seller_identity"`
	BuyerIdentity  string `db:"buyer_identity"`
	EnergyAmount   string `db:"energy_amount"`
	PricePerUnit   string `db:"price_per_unit"`
	TotalPrice     string `db:"total_price"`
	SettlementRef  string `db:"settlement_ref"`
	Simulated      bool   `db:"simulated"`
}

func (r tradeRow) trade() (model.Trade, error) {
	t := model.Trade{
		Timestamp:      time.Unix(0, r.TS).UTC(),
		SellerID:       r.SellerID,
		BuyerID:        r.BuyerID,
		SellerIdentity: r.SellerIdentity,
		BuyerIdentity:  r.BuyerIdentity,
		SettlementRef:  r.SettlementRef,
		Simulated:      r.Simulated,
	}
	if err := parseAmounts(&t, r.EnergyAmount, r.PricePerUnit, r.TotalPrice); err != nil {
		return model.Trade{}, err
	}
	return t, nil
}

func (s *SQLiteStore) AppendTrade(ctx context.Context, t *model.Trade) error {
	_, err := s.conn.NamedExecContext(ctx, `INSERT INTO trades
		(ts, seller_id, buyer_id, seller_identity, buyer_identity,
		 energy_amount, price_per_unit, total_price, settlement_ref, simulated)
		VALUES (:ts, :seller_id, :buyer_id, :seller_identity, :buyer_identity,
		 :energy_amount, :price_per_unit, :total_price, :settlement_ref, :simulated)`,
		tradeRow{
			TS:             t.Timestamp.UnixNano(),
			SellerID:       t.SellerID,
			BuyerID:        t.BuyerID,
			SellerIdentity: t.SellerIdentity,
			BuyerIdentity:  t.BuyerIdentity,
			EnergyAmount:   t.EnergyAmount.String(),
			PricePerUnit:   t.PricePerUnit.String(),
			TotalPrice:     t.TotalPrice.String(),
			SettlementRef:  t.SettlementRef,
			Simulated:      t.Simulated,
		})
	if err != nil {
		return fmt.Errorf("append trade %s: %w", t.SettlementRef, err)
	}
	return nil
}

func (s *SQLiteStore) ListTrades(ctx context.Context) ([]model.Trade, error) {
	var rows []tradeRow
	if err := s.conn.SelectContext(ctx, &rows, `SELECT ts, seller_id, buyer_id, seller_identity,
		buyer_identity, energy_amount, price_per_unit, total_price, settlement_ref, simulated
		FROM trades ORDER BY seq`); err != nil {
		return nil, err
	}
	trades := make([]model.Trade, len(rows))
	for i, r := range rows {
		t, err := r.trade()
		if err != nil {
			return nil, err
		}
		trades[i] = t
	}
	return trades, nil
}

type buildingRow struct {
	ID          string  `db:"id"`
	Kind        string  `db:"kind"`
	Capacity    float64 `db:"capacity"`
	Production  float64 `db:"production"`
	Consumption float64 `db:"consumption"`
	Identity    string  `db:"identity"`
	Balance     string  `db:"balance"`
}

// SaveBuildings writes all buildings to the database (full replace).
func (s *SQLiteStore) SaveBuildings(ctx context.Context, buildings []model.Building) error {
	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM buildings"); err != nil {
		return err
	}

	stmt, err := tx.PrepareNamedContext(ctx, `INSERT INTO buildings
		(id, kind, capacity, production, consumption, identity, balance)
		VALUES (:id, :kind, :capacity, :production, :consumption, :identity, :balance)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, b := range buildings {
		if _, err := stmt.ExecContext(ctx, buildingRow{
			ID:          b.ID,
			Kind:        string(b.Kind),
			Capacity:    b.Capacity,
			Production:  b.Production,
			Consumption: b.Consumption,
			Identity:    b.Identity,
			Balance:     b.Balance.String(),
		}); err != nil {
			return fmt.Errorf("save building %s: %w", b.ID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadBuildings(ctx context.Context) ([]model.Building, error) {
	var rows []buildingRow
	if err := s.conn.SelectContext(ctx, &rows, `SELECT id, kind, capacity, production,
		consumption, identity, balance FROM buildings`); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	out := make([]model.Building, len(rows))
	for i, r := range rows {
		out[i] = model.Building{
			ID:          r.ID,
			Kind:        model.Kind(r.Kind),
			Capacity:    r.Capacity,
			Production:  r.Production,
			Consumption: r.Consumption,
			Identity:    r.Identity,
		}
		bal, err := decimal.NewFromString(r.Balance)
		if err != nil {
			return nil, fmt.Errorf("building %s: balance %q: %w", r.ID, r.Balance, err)
		}
		out[i].Balance = bal
	}
	sortBuildings(out)
	return out, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.conn.GetContext(ctx, &v, "SELECT value FROM kv WHERE key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	_, err := s.conn.ExecContext(ctx,
		"INSERT INTO kv (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	return err
}
