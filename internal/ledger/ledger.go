// Package ledger keeps currency accounts and outcome-token positions.
//
// Every balance is split into an available and a locked part. Operations
// only move value between those parts or in and out of them; each one
// checks its source and fails without mutating when the source is short.
// The ledger does not undo earlier operations of a multi-step sequence, so
// callers validate the whole sequence before they start.
//
// A Ledger is not safe for concurrent use; the engine serialises access.
package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/outcomex/exchange/internal/model"
)

var (
	ErrAccountNotFound       = errors.New("ledger: account not found")
	ErrAccountExists         = errors.New("ledger: account already exists")
	ErrInsufficientFunds     = errors.New("ledger: insufficient funds")
	ErrInsufficientInventory = errors.New("ledger: insufficient inventory")
	ErrNegativeAmount        = errors.New("ledger: negative amount")
)

type account struct {
	available decimal.Decimal
	locked    decimal.Decimal
}

type tokens struct {
	available int64
	locked    int64
}

type position struct {
	yes tokens
	no  tokens
}

func (p *position) side(o model.Outcome) *tokens {
	if o == model.No {
		return &p.no
	}
	return &p.yes
}

// Ledger holds all balances. The collateral pool holds the currency that
// backs minted yes/no pairs.
type Ledger struct {
	accounts   map[string]*account
	positions  map[string]map[string]*position // user -> symbol -> position
	collateral decimal.Decimal
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		accounts:  make(map[string]*account),
		positions: make(map[string]map[string]*position),
	}
}

// --- Accounts ---

// CreateAccount opens a zero-balance account.
func (l *Ledger) CreateAccount(userID string) error {
	if _, ok := l.accounts[userID]; ok {
		return fmt.Errorf("%w: %s", ErrAccountExists, userID)
	}
	l.accounts[userID] = &account{}
	return nil
}

// HasAccount reports whether userID has an account.
func (l *Ledger) HasAccount(userID string) bool {
	_, ok := l.accounts[userID]
	return ok
}

// Balance returns a copy of the user's currency balance.
func (l *Ledger) Balance(userID string) (model.Balance, bool) {
	a, ok := l.accounts[userID]
	if !ok {
		return model.Balance{}, false
	}
	return model.Balance{Available: a.available, Locked: a.locked}, true
}

// Balances returns a copy of every account balance.
func (l *Ledger) Balances() map[string]model.Balance {
	out := make(map[string]model.Balance, len(l.accounts))
	for id, a := range l.accounts {
		out[id] = model.Balance{Available: a.available, Locked: a.locked}
	}
	return out
}

func (l *Ledger) account(userID string, amount decimal.Decimal) (*account, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ErrNegativeAmount, amount)
	}
	a, ok := l.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, userID)
	}
	return a, nil
}

// Credit adds amount to available currency.
func (l *Ledger) Credit(userID string, amount decimal.Decimal) error {
	a, err := l.account(userID, amount)
	if err != nil {
		return err
	}
	a.available = a.available.Add(amount)
	return nil
}

// Debit removes amount from available currency.
func (l *Ledger) Debit(userID string, amount decimal.Decimal) error {
	a, err := l.account(userID, amount)
	if err != nil {
		return err
	}
	if a.available.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s available, needs %s", ErrInsufficientFunds, userID, a.available, amount)
	}
	a.available = a.available.Sub(amount)
	return nil
}

// Lock moves amount from available to locked currency.
func (l *Ledger) Lock(userID string, amount decimal.Decimal) error {
	a, err := l.account(userID, amount)
	if err != nil {
		return err
	}
	if a.available.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s available, needs %s", ErrInsufficientFunds, userID, a.available, amount)
	}
	a.available = a.available.Sub(amount)
	a.locked = a.locked.Add(amount)
	return nil
}

// Unlock moves amount from locked back to available currency.
func (l *Ledger) Unlock(userID string, amount decimal.Decimal) error {
	a, err := l.account(userID, amount)
	if err != nil {
		return err
	}
	if a.locked.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s locked, needs %s", ErrInsufficientFunds, userID, a.locked, amount)
	}
	a.locked = a.locked.Sub(amount)
	a.available = a.available.Add(amount)
	return nil
}

// DebitLocked removes amount from locked currency.
func (l *Ledger) DebitLocked(userID string, amount decimal.Decimal) error {
	a, err := l.account(userID, amount)
	if err != nil {
		return err
	}
	if a.locked.LessThan(amount) {
		return fmt.Errorf("%w: %s has %s locked, needs %s", ErrInsufficientFunds, userID, a.locked, amount)
	}
	a.locked = a.locked.Sub(amount)
	return nil
}

// --- Collateral ---

// AddCollateral records currency that now backs minted token pairs.
func (l *Ledger) AddCollateral(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: %s", ErrNegativeAmount, amount)
	}
	l.collateral = l.collateral.Add(amount)
	return nil
}

// Collateral returns the currency backing minted pairs.
func (l *Ledger) Collateral() decimal.Decimal {
	return l.collateral
}

// TotalCurrency sums available and locked currency across all accounts
// plus the collateral pool.
func (l *Ledger) TotalCurrency() decimal.Decimal {
	total := l.collateral
	for _, a := range l.accounts {
		total = total.Add(a.available).Add(a.locked)
	}
	return total
}

// --- Positions ---

// EnsurePosition creates an empty position for the user in symbol unless
// one exists.
func (l *Ledger) EnsurePosition(userID, symbol string) {
	l.ensurePosition(userID, symbol)
}

// ensurePosition is the single get-or-create path for positions.
func (l *Ledger) ensurePosition(userID, symbol string) *position {
	bySymbol, ok := l.positions[userID]
	if !ok {
		bySymbol = make(map[string]*position)
		l.positions[userID] = bySymbol
	}
	p, ok := bySymbol[symbol]
	if !ok {
		p = &position{}
		bySymbol[symbol] = p
	}
	return p
}

func (l *Ledger) lookupPosition(userID, symbol string) (*position, bool) {
	p, ok := l.positions[userID][symbol]
	return p, ok
}

// Position returns a copy of the user's position in symbol.
func (l *Ledger) Position(userID, symbol string) (model.Position, bool) {
	p, ok := l.lookupPosition(userID, symbol)
	if !ok {
		return model.Position{}, false
	}
	return toModel(p), true
}

// Positions returns a copy of every position the user holds, keyed by symbol.
func (l *Ledger) Positions(userID string) map[string]model.Position {
	bySymbol := l.positions[userID]
	out := make(map[string]model.Position, len(bySymbol))
	for sym, p := range bySymbol {
		out[sym] = toModel(p)
	}
	return out
}

// AllPositions returns a copy of every position, keyed by user then symbol.
func (l *Ledger) AllPositions() map[string]map[string]model.Position {
	out := make(map[string]map[string]model.Position, len(l.positions))
	for user := range l.positions {
		out[user] = l.Positions(user)
	}
	return out
}

// HasSymbol reports whether any user has a position in symbol.
func (l *Ledger) HasSymbol(symbol string) bool {
	for _, bySymbol := range l.positions {
		if _, ok := bySymbol[symbol]; ok {
			return true
		}
	}
	return false
}

// Symbols lists every symbol referenced by a position, sorted.
func (l *Ledger) Symbols() []string {
	seen := make(map[string]struct{})
	for _, bySymbol := range l.positions {
		for sym := range bySymbol {
			seen[sym] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

func toModel(p *position) model.Position {
	return model.Position{
		Yes: model.TokenBalance{Available: p.yes.available, Locked: p.yes.locked},
		No:  model.TokenBalance{Available: p.no.available, Locked: p.no.locked},
	}
}

// tokenSide resolves the token balance an outgoing operation draws from.
// It never creates a position: a missing one has nothing to give.
func (l *Ledger) tokenSide(userID, symbol string, o model.Outcome, qty int64) (*tokens, error) {
	if qty < 0 {
		return nil, fmt.Errorf("%w: %d", ErrNegativeAmount, qty)
	}
	p, ok := l.lookupPosition(userID, symbol)
	if !ok {
		if qty == 0 {
			return &tokens{}, nil
		}
		return nil, fmt.Errorf("%w: %s holds no %s", ErrInsufficientInventory, userID, symbol)
	}
	return p.side(o), nil
}

// CreditToken adds qty to available tokens, creating the position if needed.
func (l *Ledger) CreditToken(userID, symbol string, o model.Outcome, qty int64) error {
	if qty < 0 {
		return fmt.Errorf("%w: %d", ErrNegativeAmount, qty)
	}
	l.ensurePosition(userID, symbol).side(o).available += qty
	return nil
}

// DebitToken removes qty from available tokens.
func (l *Ledger) DebitToken(userID, symbol string, o model.Outcome, qty int64) error {
	t, err := l.tokenSide(userID, symbol, o, qty)
	if err != nil {
		return err
	}
	if t.available < qty {
		return fmt.Errorf("%w: %s has %d %s/%s available, needs %d", ErrInsufficientInventory, userID, t.available, symbol, o, qty)
	}
	t.available -= qty
	return nil
}

// LockToken moves qty from available to locked tokens.
func (l *Ledger) LockToken(userID, symbol string, o model.Outcome, qty int64) error {
	t, err := l.tokenSide(userID, symbol, o, qty)
	if err != nil {
		return err
	}
	if t.available < qty {
		return fmt.Errorf("%w: %s has %d %s/%s available, needs %d", ErrInsufficientInventory, userID, t.available, symbol, o, qty)
	}
	t.available -= qty
	t.locked += qty
	return nil
}

// UnlockToken moves qty from locked back to available tokens.
func (l *Ledger) UnlockToken(userID, symbol string, o model.Outcome, qty int64) error {
	t, err := l.tokenSide(userID, symbol, o, qty)
	if err != nil {
		return err
	}
	if t.locked < qty {
		return fmt.Errorf("%w: %s has %d %s/%s locked, needs %d", ErrInsufficientInventory, userID, t.locked, symbol, o, qty)
	}
	t.locked -= qty
	t.available += qty
	return nil
}

// DebitLockedToken removes qty from locked tokens.
func (l *Ledger) DebitLockedToken(userID, symbol string, o model.Outcome, qty int64) error {
	t, err := l.tokenSide(userID, symbol, o, qty)
	if err != nil {
		return err
	}
	if t.locked < qty {
		return fmt.Errorf("%w: %s has %d %s/%s locked, needs %d", ErrInsufficientInventory, userID, t.locked, symbol, o, qty)
	}
	t.locked -= qty
	return nil
}
