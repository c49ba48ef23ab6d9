package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/outcomex/exchange/internal/model"
)

// CachedStore wraps a primary Store with a Redis read-through cache.
// Writes go to the primary store and invalidate the affected symbol and
// user keys; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func (s *CachedStore) InsertTrades(ctx context.Context, trades []model.Trade) error {
	if err := s.primary.InsertTrades(ctx, trades); err != nil {
		return err
	}
	if keys := invalidationKeys(trades); len(keys) > 0 {
		s.rdb.Del(ctx, keys...)
	}
	return nil
}

func (s *CachedStore) TradesBySymbol(ctx context.Context, symbol string) ([]model.Trade, error) {
	return s.readThrough(ctx, symbolTradesKey(symbol), func() ([]model.Trade, error) {
		return s.primary.TradesBySymbol(ctx, symbol)
	})
}

func (s *CachedStore) TradesByUser(ctx context.Context, userID string) ([]model.Trade, error) {
	return s.readThrough(ctx, userTradesKey(userID), func() ([]model.Trade, error) {
		return s.primary.TradesByUser(ctx, userID)
	})
}

// LastSeq is not cached.
func (s *CachedStore) LastSeq(ctx context.Context) (int64, error) {
	return s.primary.LastSeq(ctx)
}

func (s *CachedStore) readThrough(ctx context.Context, key string, load func() ([]model.Trade, error)) ([]model.Trade, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var trades []model.Trade
		if json.Unmarshal(data, &trades) == nil {
			return trades, nil
		}
	}

	// Cache miss.
	trades, err := load()
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(trades); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return trades, nil
}

// invalidationKeys lists every cache key a batch of trades makes stale.
func invalidationKeys(trades []model.Trade) []string {
	seen := make(map[string]struct{})
	var keys []string
	add := func(k string) {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			keys = append(keys, k)
		}
	}
	for _, tr := range trades {
		add(symbolTradesKey(tr.Symbol))
		add(userTradesKey(tr.BuyerID))
		add(userTradesKey(tr.SellerID))
	}
	return keys
}

func symbolTradesKey(symbol string) string { return fmt.Sprintf("trades:symbol:%s", symbol) }
func userTradesKey(uid string) string { return fmt.Sprintf("trades:user:%s", uid) }
