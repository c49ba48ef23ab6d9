package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/outcomex/exchange/internal/model"
	"github.com/outcomex/exchange/internal/symbol"
)

// Verify checks the cross-entity invariants between ledger and book:
//   - every level total equals the sum of its resting orders
//   - no balance or position is negative
//   - a user's locked currency equals what backs their minted orders
//   - a user's locked tokens equal their regular resting orders
func (e *Engine) Verify() error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if err := e.book.Verify(); err != nil {
		return err
	}

	type side struct {
		user, symbol string
		outcome      model.Outcome
	}
	wantLockedCash := make(map[string]decimal.Decimal)
	wantLockedTokens := make(map[side]int64)

	for _, sym := range e.book.Symbols() {
		snap, _ := e.book.Snapshot(sym)
		collect := func(o model.Outcome, levels []model.PriceLevel) {
			for _, lvl := range levels {
				for _, r := range lvl.Resting {
					switch r.Origin {
					case model.Minted:
						// rests at the complement of the price the buyer paid
						paid := symbol.Complement(lvl.Price)
						wantLockedCash[r.UserID] = wantLockedCash[r.UserID].Add(cost(r.Quantity, paid))
					case model.Regular:
						wantLockedTokens[side{r.UserID, sym, o}] += r.Quantity
					}
				}
			}
		}
		collect(model.Yes, snap.Yes)
		collect(model.No, snap.No)
	}

	for user, bal := range e.ledger.Balances() {
		if bal.Available.IsNegative() || bal.Locked.IsNegative() {
			return fmt.Errorf("engine: %s has negative balance %+v", user, bal)
		}
		if want := wantLockedCash[user]; !bal.Locked.Equal(want) {
			return fmt.Errorf("engine: %s locked %s, minted orders need %s", user, bal.Locked, want)
		}
	}

	for user, bySymbol := range e.ledger.AllPositions() {
		for sym, pos := range bySymbol {
			for _, o := range []model.Outcome{model.Yes, model.No} {
				tb := pos.Get(o)
				if tb.Available < 0 || tb.Locked < 0 {
					return fmt.Errorf("engine: %s has negative %s/%s position %+v", user, sym, o, tb)
				}
				if want := wantLockedTokens[side{user, sym, o}]; tb.Locked != want {
					return fmt.Errorf("engine: %s locked %d %s/%s, regular orders need %d", user, tb.Locked, sym, o, want)
				}
			}
		}
	}
	return nil
}
