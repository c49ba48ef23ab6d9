// Package store defines the trade journal: an append-only record of every
// settled fill. Implementations include in-memory (default and tests),
// PostgreSQL, and a Redis read-through cache in front of either.
//
// The journal is history only. Balances and books live in the engine and
// are never rebuilt from it.
package store

import (
	"context"

	"github.com/outcomex/exchange/internal/model"
)

// Store is the trade journal interface.
//
// Trades reach InsertTrades after the engine lock is released, so two
// concurrent orders can insert in either order. Queries therefore return
// trades ordered by Trade.Seq, the engine's settlement sequence, not by
// insertion.
type Store interface {
	// InsertTrades records trades.
	InsertTrades(ctx context.Context, trades []model.Trade) error

	// TradesBySymbol returns all trades of a symbol in Seq order.
	TradesBySymbol(ctx context.Context, symbol string) ([]model.Trade, error)

	// TradesByUser returns all trades where the user bought or sold, in
	// Seq order.
	TradesByUser(ctx context.Context, userID string) ([]model.Trade, error)

	// LastSeq returns the highest Seq recorded, or 0 for an empty journal.
	LastSeq(ctx context.Context) (int64, error)
}
