package store

import (
	"context"
	"sort"
	"sync"

	"github.com/outcomex/exchange/internal/model"
)

// MemoryStore implements Store with an in-process slice kept sorted by
// Seq. Used for tests and when no database is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	trades []model.Trade
}

// NewMemoryStore creates an empty in-memory journal.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) InsertTrades(_ context.Context, trades []model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inOrder := true
	for _, tr := range trades {
		if n := len(s.trades); n > 0 && s.trades[n-1].Seq > tr.Seq {
			inOrder = false
		}
		s.trades = append(s.trades, tr)
	}
	if !inOrder {
		sort.SliceStable(s.trades, func(i, j int) bool {
			return s.trades[i].Seq < s.trades[j].Seq
		})
	}
	return nil
}

func (s *MemoryStore) LastSeq(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.trades) == 0 {
		return 0, nil
	}
	return s.trades[len(s.trades)-1].Seq, nil
}

func (s *MemoryStore) TradesBySymbol(_ context.Context, symbol string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, tr := range s.trades {
		if tr.Symbol == symbol {
			result = append(result, tr)
		}
	}
	return result, nil
}

func (s *MemoryStore) TradesByUser(_ context.Context, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, tr := range s.trades {
		if tr.BuyerID == userID || tr.SellerID == userID {
			result = append(result, tr)
		}
	}
	return result, nil
}
