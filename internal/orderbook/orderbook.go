// Package orderbook keeps resting liquidity per symbol, outcome and price.
//
// A price level holds the aggregate open quantity and its resting orders in
// insertion order; consumption always starts from the oldest entry. There is
// no priority across prices: callers only ever trade at one exact price.
//
// A Book is not safe for concurrent use; the engine serialises access.
package orderbook

import (
	"errors"
	"fmt"
	"math"
	"sort"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/outcomex/exchange/internal/model"
	"github.com/outcomex/exchange/internal/symbol"
)

var (
	ErrInvalidQuantity = errors.New("orderbook: quantity must be positive")
	ErrUnknownOrigin   = errors.New("orderbook: unknown order origin")
	ErrInvalidOutcome  = errors.New("orderbook: unknown outcome")
)

// restingKey identifies one resting order. A user can rest both a regular
// and a minted order at the same price; they settle differently and are
// kept apart.
type restingKey struct {
	userID string
	origin model.Origin
}

type priceLevel struct {
	total   int64
	resting *orderedmap.OrderedMap[restingKey, int64]
}

func newPriceLevel() *priceLevel {
	return &priceLevel{resting: orderedmap.New[restingKey, int64]()}
}

type sides struct {
	yes map[int64]*priceLevel
	no  map[int64]*priceLevel
}

func (s *sides) levels(o model.Outcome) map[int64]*priceLevel {
	if o == model.No {
		return s.no
	}
	return s.yes
}

// Book is the order book of every symbol.
type Book struct {
	symbols map[string]*sides
}

// New creates an empty book.
func New() *Book {
	return &Book{symbols: make(map[string]*sides)}
}

// EnsureSymbol creates empty yes/no sides for symbol unless present.
func (b *Book) EnsureSymbol(sym string) {
	b.ensureSymbol(sym)
}

func (b *Book) ensureSymbol(sym string) *sides {
	s, ok := b.symbols[sym]
	if !ok {
		s = &sides{
			yes: make(map[int64]*priceLevel),
			no:  make(map[int64]*priceLevel),
		}
		b.symbols[sym] = s
	}
	return s
}

// Has reports whether symbol has a book.
func (b *Book) Has(sym string) bool {
	_, ok := b.symbols[sym]
	return ok
}

// Symbols lists every symbol with a book, sorted.
func (b *Book) Symbols() []string {
	out := make([]string, 0, len(b.symbols))
	for sym := range b.symbols {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// EnsureLevel creates the price level unless present. It is idempotent.
func (b *Book) EnsureLevel(sym string, o model.Outcome, price int64) error {
	_, err := b.ensureLevel(sym, o, price)
	return err
}

func (b *Book) ensureLevel(sym string, o model.Outcome, price int64) (*priceLevel, error) {
	if !o.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOutcome, o)
	}
	if err := symbol.ValidatePrice(price); err != nil {
		return nil, err
	}
	levels := b.ensureSymbol(sym).levels(o)
	lvl, ok := levels[price]
	if !ok {
		lvl = newPriceLevel()
		levels[price] = lvl
	}
	return lvl, nil
}

func (b *Book) level(sym string, o model.Outcome, price int64) (*priceLevel, bool) {
	s, ok := b.symbols[sym]
	if !ok {
		return nil, false
	}
	lvl, ok := s.levels(o)[price]
	return lvl, ok
}

// Total returns the open quantity at a price level, zero if absent.
func (b *Book) Total(sym string, o model.Outcome, price int64) int64 {
	lvl, ok := b.level(sym, o, price)
	if !ok {
		return 0
	}
	return lvl.total
}

// AddOrder rests qty for userID at the level. An existing resting order of
// the same user and origin at that price grows in place and keeps its
// queue position.
func (b *Book) AddOrder(sym string, o model.Outcome, price int64, userID string, qty int64, origin model.Origin) error {
	if qty <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}
	if origin != model.Regular && origin != model.Minted {
		return fmt.Errorf("%w: %s", ErrUnknownOrigin, origin)
	}
	lvl, err := b.ensureLevel(sym, o, price)
	if err != nil {
		return err
	}
	if lvl.total > math.MaxInt64-qty {
		return fmt.Errorf("%w: level total %d cannot grow by %d", ErrInvalidQuantity, lvl.total, qty)
	}
	key := restingKey{userID: userID, origin: origin}
	existing, _ := lvl.resting.Get(key)
	lvl.resting.Set(key, existing+qty)
	lvl.total += qty
	return nil
}

// Consume takes up to qty from the level, oldest resting order first, and
// returns what was taken from whom in order. Entries that reach zero are
// removed. It never takes more than the level holds; the shortfall is
// qty minus the sum of the returned fills.
func (b *Book) Consume(sym string, o model.Outcome, price int64, qty int64) []model.Fill {
	lvl, ok := b.level(sym, o, price)
	if !ok || qty <= 0 {
		return nil
	}

	var fills []model.Fill
	remaining := qty
	for pair := lvl.resting.Oldest(); pair != nil && remaining > 0; {
		next := pair.Next()
		taken := min(pair.Value, remaining)

		fills = append(fills, model.Fill{
			UserID:   pair.Key.userID,
			Quantity: taken,
			Origin:   pair.Key.origin,
		})
		remaining -= taken
		lvl.total -= taken

		if left := pair.Value - taken; left == 0 {
			lvl.resting.Delete(pair.Key)
		} else {
			lvl.resting.Set(pair.Key, left)
		}
		pair = next
	}
	return fills
}

// Snapshot returns a copy of symbol's book with levels sorted by price.
// Levels emptied by consumption are kept with a zero total.
func (b *Book) Snapshot(sym string) (model.OrderBook, bool) {
	s, ok := b.symbols[sym]
	if !ok {
		return model.OrderBook{}, false
	}
	return model.OrderBook{
		Symbol: sym,
		Yes:    snapshotSide(s.yes),
		No:     snapshotSide(s.no),
	}, true
}

func snapshotSide(levels map[int64]*priceLevel) []model.PriceLevel {
	out := make([]model.PriceLevel, 0, len(levels))
	for price, lvl := range levels {
		pl := model.PriceLevel{
			Price:   price,
			Total:   lvl.total,
			Resting: make([]model.RestingOrder, 0, lvl.resting.Len()),
		}
		for pair := lvl.resting.Oldest(); pair != nil; pair = pair.Next() {
			pl.Resting = append(pl.Resting, model.RestingOrder{
				UserID:   pair.Key.userID,
				Quantity: pair.Value,
				Origin:   pair.Key.origin,
			})
		}
		out = append(out, pl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out
}

// Verify checks that every level's total equals the sum of its resting
// quantities and that no resting entry is empty.
func (b *Book) Verify() error {
	for sym, s := range b.symbols {
		for _, o := range []model.Outcome{model.Yes, model.No} {
			for price, lvl := range s.levels(o) {
				var sum int64
				for pair := lvl.resting.Oldest(); pair != nil; pair = pair.Next() {
					if pair.Value <= 0 {
						return fmt.Errorf("orderbook: %s/%s@%d has empty entry for %s", sym, o, price, pair.Key.userID)
					}
					sum += pair.Value
				}
				if sum != lvl.total {
					return fmt.Errorf("orderbook: %s/%s@%d total %d != resting sum %d", sym, o, price, lvl.total, sum)
				}
			}
		}
	}
	return nil
}
