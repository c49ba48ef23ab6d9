package engine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/outcomex/exchange/internal/ledger"
	"github.com/outcomex/exchange/internal/model"
	"github.com/outcomex/exchange/internal/symbol"
)

// CreateAccount opens a zero-balance currency account.
func (e *Engine) CreateAccount(userID string) (model.Balance, error) {
	if userID == "" {
		return model.Balance{}, ErrInvalidUserID
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ledger.CreateAccount(userID); err != nil {
		if errors.Is(err, ledger.ErrAccountExists) {
			return model.Balance{}, fmt.Errorf("%w: user %s", ErrAlreadyExists, userID)
		}
		return model.Balance{}, err
	}
	e.log.Info("account created", zap.String("user", userID))

	bal, _ := e.ledger.Balance(userID)
	return bal, nil
}

// CreateSymbol registers a symbol and gives it an empty book. It fails if
// the symbol is registered or anyone already holds a position in it.
func (e *Engine) CreateSymbol(sym string) error {
	if err := symbol.Validate(sym); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSymbol, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.symbols[sym]; ok || e.ledger.HasSymbol(sym) || e.book.Has(sym) {
		return fmt.Errorf("%w: symbol %s", ErrAlreadyExists, sym)
	}
	e.symbols[sym] = struct{}{}
	e.book.EnsureSymbol(sym)

	e.log.Info("symbol created", zap.String("symbol", sym))
	return nil
}

// Deposit credits amount to the user's available currency and returns the
// new balance.
func (e *Engine) Deposit(userID string, amount decimal.Decimal) (model.Balance, error) {
	if !amount.IsPositive() || !amount.IsInteger() {
		return model.Balance{}, fmt.Errorf("%w: got %s", ErrInvalidAmount, amount)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ledger.HasAccount(userID) {
		return model.Balance{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err := e.ledger.Credit(userID, amount); err != nil {
		return model.Balance{}, err
	}
	bal, _ := e.ledger.Balance(userID)

	e.log.Info("deposit",
		zap.String("user", userID),
		zap.String("amount", amount.String()),
		zap.String("available", bal.Available.String()),
	)
	return bal, nil
}

// GetBalance returns the user's currency balance.
func (e *Engine) GetBalance(userID string) (model.Balance, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	bal, ok := e.ledger.Balance(userID)
	if !ok {
		return model.Balance{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return bal, nil
}

// GetPositions returns the user's token positions keyed by symbol.
func (e *Engine) GetPositions(userID string) (map[string]model.Position, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.ledger.HasAccount(userID) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return e.ledger.Positions(userID), nil
}

// GetOrderBook returns a snapshot of one symbol's book.
func (e *Engine) GetOrderBook(sym string) (model.OrderBook, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap, ok := e.book.Snapshot(sym)
	if !ok {
		return model.OrderBook{}, fmt.Errorf("%w: %s", ErrSymbolNotFound, sym)
	}
	return snap, nil
}

// ListBalances returns every account balance keyed by user.
func (e *Engine) ListBalances() map[string]model.Balance {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Balances()
}

// ListPositions returns every position keyed by user then symbol.
func (e *Engine) ListPositions() map[string]map[string]model.Position {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.AllPositions()
}

// ListOrderBooks returns a snapshot of every book, sorted by symbol.
func (e *Engine) ListOrderBooks() []model.OrderBook {
	e.mu.RLock()
	defer e.mu.RUnlock()

	syms := e.book.Symbols()
	out := make([]model.OrderBook, 0, len(syms))
	for _, sym := range syms {
		snap, _ := e.book.Snapshot(sym)
		out = append(out, snap)
	}
	return out
}

// Symbols lists every known symbol: registered ones and those created
// lazily by trading.
func (e *Engine) Symbols() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	seen := make(map[string]struct{}, len(e.symbols))
	for sym := range e.symbols {
		seen[sym] = struct{}{}
	}
	for _, sym := range e.book.Symbols() {
		seen[sym] = struct{}{}
	}
	for _, sym := range e.ledger.Symbols() {
		seen[sym] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Collateral returns the currency backing all minted token pairs.
func (e *Engine) Collateral() decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Collateral()
}

// TotalCurrency sums all account balances and the collateral pool. Only
// deposits change it.
func (e *Engine) TotalCurrency() decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.TotalCurrency()
}
