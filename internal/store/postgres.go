package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/outcomex/exchange/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
	seq        BIGINT      PRIMARY KEY,
	id         TEXT        NOT NULL UNIQUE,
	symbol     TEXT        NOT NULL,
	outcome    TEXT        NOT NULL,
	price      BIGINT      NOT NULL,
	quantity   BIGINT      NOT NULL,
	buyer_id   TEXT        NOT NULL,
	seller_id  TEXT        NOT NULL,
	origin     TEXT        NOT NULL,
	cost       NUMERIC     NOT NULL,
	timestamp  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS trades_symbol_idx ON trades (symbol, seq);
CREATE INDEX IF NOT EXISTS trades_buyer_idx ON trades (buyer_id, seq);
CREATE INDEX IF NOT EXISTS trades_seller_idx ON trades (seller_id, seq);
`

// PostgresStore implements Store using PostgreSQL. Cost is stored as
// NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed journal.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the trades table and its indexes if missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate trades: %w", err)
	}
	return nil
}

// InsertTrades writes all trades in one batch inside a transaction so a
// partial order result is never journaled.
func (s *PostgresStore) InsertTrades(ctx context.Context, trades []model.Trade) error {
	if len(trades) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, tr := range trades {
		batch.Queue(
			`INSERT INTO trades (seq, id, symbol, outcome, price, quantity, buyer_id, seller_id, origin, cost, timestamp)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::NUMERIC, $11)`,
			tr.Seq, tr.ID, tr.Symbol, string(tr.Outcome), tr.Price, tr.Quantity,
			tr.BuyerID, tr.SellerID, tr.Origin.String(), tr.Cost.String(),
			tr.Timestamp,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert trades: %w", err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) TradesBySymbol(ctx context.Context, symbol string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT seq, id, symbol, outcome, price, quantity, buyer_id, seller_id,
		        origin, cost::TEXT, timestamp
		 FROM trades WHERE symbol = $1 ORDER BY seq`, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) TradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT seq, id, symbol, outcome, price, quantity, buyer_id, seller_id,
		        origin, cost::TEXT, timestamp
		 FROM trades WHERE buyer_id = $1 OR seller_id = $1 ORDER BY seq`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanTrades(rows)
}

func (s *PostgresStore) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) FROM trades`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last trade seq: %w", err)
	}
	return seq, nil
}

// pgxRows is the subset of pgx.Rows scanTrades needs.
type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanTrades(rows pgxRows) ([]model.Trade, error) {
	var trades []model.Trade
	for rows.Next() {
		var tr model.Trade
		var outcome, origin, costS string

		if err := rows.Scan(&tr.Seq, &tr.ID, &tr.Symbol, &outcome, &tr.Price, &tr.Quantity,
			&tr.BuyerID, &tr.SellerID, &origin, &costS, &tr.Timestamp); err != nil {
			return nil, err
		}

		tr.Outcome = model.Outcome(outcome)
		o, err := model.ParseOrigin(origin)
		if err != nil {
			return nil, fmt.Errorf("trade %s: %w", tr.ID, err)
		}
		tr.Origin = o
		tr.Cost, err = decimal.NewFromString(costS)
		if err != nil {
			return nil, fmt.Errorf("trade %s cost: %w", tr.ID, err)
		}

		trades = append(trades, tr)
	}
	return trades, rows.Err()
}
