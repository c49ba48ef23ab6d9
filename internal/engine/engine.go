// Package engine is the matching and minting core of the exchange.
//
// It owns the ledger and the order book and is the only component that
// mutates both. Every public call runs under one engine-wide lock and either
// applies completely or is rejected before it touches any state.
package engine

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/outcomex/exchange/internal/ledger"
	"github.com/outcomex/exchange/internal/model"
	"github.com/outcomex/exchange/internal/orderbook"
	"github.com/outcomex/exchange/internal/symbol"
)

// OrderRequest is a buy or sell intent at one exact price.
type OrderRequest struct {
	UserID   string        `json:"user_id"`
	Symbol   string        `json:"symbol"`
	Outcome  model.Outcome `json:"outcome"`
	Quantity int64         `json:"quantity"`
	Price    int64         `json:"price"`
}

// OrderResult reports what an order did. Resting is the quantity left on
// the book, at RestingOutcome/RestingPrice. For a buy that is the minted
// remainder on the opposite outcome at the complementary price.
type OrderResult struct {
	Symbol         string        `json:"symbol"`
	Outcome        model.Outcome `json:"outcome"`
	Price          int64         `json:"price"`
	Quantity       int64         `json:"quantity"`
	Filled         int64         `json:"filled"`
	Resting        int64         `json:"resting"`
	RestingOutcome model.Outcome `json:"resting_outcome,omitempty"`
	RestingPrice   int64         `json:"resting_price"`
	Trades         []model.Trade `json:"trades"`
}

// Engine serialises all reads and writes of the ledger and the book.
type Engine struct {
	mu      sync.RWMutex
	ledger  *ledger.Ledger
	book    *orderbook.Book
	symbols map[string]struct{}

	// tradeSeq is the Seq of the last trade produced.
	tradeSeq int64

	log   *zap.Logger
	now   func() time.Time
	newID func() string
}

// MaxQuantity bounds an order's quantity and any level's resting total so
// that quantity times any price fits in an int64.
const MaxQuantity = math.MaxInt64 / symbol.SettlementValue

// New creates an engine with empty state. A nil logger disables logging.
func New(log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		ledger:  ledger.New(),
		book:    orderbook.New(),
		symbols: make(map[string]struct{}),
		log:     log.Named("engine"),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

func units(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

// cost is qty tokens at price, computed in decimal.
func cost(qty, price int64) decimal.Decimal {
	return units(qty).Mul(units(price))
}

// ResumeTradeSeq makes the next trade's Seq follow last, so a restarted
// engine keeps appending after what the journal already holds.
func (e *Engine) ResumeTradeSeq(last int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if last > e.tradeSeq {
		e.tradeSeq = last
	}
}

func validateOrder(req OrderRequest) error {
	if err := symbol.ValidatePrice(req.Price); err != nil {
		return fmt.Errorf("%w: got %d", ErrInvalidPrice, req.Price)
	}
	if req.Quantity <= 0 || req.Quantity > MaxQuantity {
		return fmt.Errorf("%w: got %d", ErrInvalidQuantity, req.Quantity)
	}
	if !req.Outcome.Valid() {
		return fmt.Errorf("%w: got %q", ErrInvalidOutcome, req.Outcome)
	}
	if err := symbol.Validate(req.Symbol); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSymbol, err)
	}
	return nil
}

// PlaceSellOrder locks qty of the user's available tokens and rests them
// as a regular order. It never matches.
func (e *Engine) PlaceSellOrder(req OrderRequest) (*OrderResult, error) {
	if err := validateOrder(req); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ledger.HasAccount(req.UserID) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, req.UserID)
	}
	pos, _ := e.ledger.Position(req.UserID, req.Symbol)
	if held := pos.Get(req.Outcome).Available; held < req.Quantity {
		return nil, fmt.Errorf("%w: %s holds %d %s/%s, selling %d",
			ErrInsufficientInventory, req.UserID, held, req.Symbol, req.Outcome, req.Quantity)
	}
	if err := e.checkLevelCapacity(req.Symbol, req.Outcome, req.Price, req.Quantity); err != nil {
		return nil, err
	}

	if err := e.ledger.LockToken(req.UserID, req.Symbol, req.Outcome, req.Quantity); err != nil {
		return nil, e.settlementFailed(req, err)
	}
	if err := e.book.AddOrder(req.Symbol, req.Outcome, req.Price, req.UserID, req.Quantity, model.Regular); err != nil {
		return nil, e.settlementFailed(req, err)
	}

	e.log.Info("sell order placed",
		zap.String("user", req.UserID),
		zap.String("symbol", req.Symbol),
		zap.String("outcome", string(req.Outcome)),
		zap.Int64("qty", req.Quantity),
		zap.Int64("price", req.Price),
	)

	return &OrderResult{
		Symbol:         req.Symbol,
		Outcome:        req.Outcome,
		Price:          req.Price,
		Quantity:       req.Quantity,
		Resting:        req.Quantity,
		RestingOutcome: req.Outcome,
		RestingPrice:   req.Price,
		Trades:         []model.Trade{},
	}, nil
}

// PlaceBuyOrder takes resting liquidity at exactly (symbol, outcome,
// price), oldest first, and mints the unfilled remainder: the buyer's
// currency for it is locked and an offer for the opposite outcome rests at
// the complementary price.
func (e *Engine) PlaceBuyOrder(req OrderRequest) (*OrderResult, error) {
	if err := validateOrder(req); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	bal, ok := e.ledger.Balance(req.UserID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, req.UserID)
	}
	// The whole quantity is priced at the one requested price, so the
	// upfront check covers every debit below.
	if total := cost(req.Quantity, req.Price); bal.Available.LessThan(total) {
		return nil, fmt.Errorf("%w: %s has %s available, order costs %s",
			ErrInsufficientFunds, req.UserID, bal.Available, total)
	}
	// The unfilled remainder rests on the opposite outcome at the complement.
	if err := e.checkLevelCapacity(req.Symbol, req.Outcome.Opposite(), symbol.Complement(req.Price), req.Quantity); err != nil {
		return nil, err
	}

	e.ledger.EnsurePosition(req.UserID, req.Symbol)
	e.book.EnsureSymbol(req.Symbol)

	res := &OrderResult{
		Symbol:   req.Symbol,
		Outcome:  req.Outcome,
		Price:    req.Price,
		Quantity: req.Quantity,
		Trades:   []model.Trade{},
	}

	remaining := req.Quantity
	for _, fill := range e.book.Consume(req.Symbol, req.Outcome, req.Price, remaining) {
		trade, err := e.settle(req, fill)
		if err != nil {
			return nil, e.settlementFailed(req, err)
		}
		res.Trades = append(res.Trades, trade)
		remaining -= fill.Quantity
	}
	res.Filled = req.Quantity - remaining

	if remaining > 0 {
		opposite := req.Outcome.Opposite()
		complement := symbol.Complement(req.Price)

		if err := e.ledger.Lock(req.UserID, cost(remaining, req.Price)); err != nil {
			return nil, e.settlementFailed(req, err)
		}
		if err := e.book.AddOrder(req.Symbol, opposite, complement, req.UserID, remaining, model.Minted); err != nil {
			return nil, e.settlementFailed(req, err)
		}
		res.Resting = remaining
		res.RestingOutcome = opposite
		res.RestingPrice = complement
	}

	e.log.Info("buy order placed",
		zap.String("user", req.UserID),
		zap.String("symbol", req.Symbol),
		zap.String("outcome", string(req.Outcome)),
		zap.Int64("qty", req.Quantity),
		zap.Int64("price", req.Price),
		zap.Int64("filled", res.Filled),
		zap.Int64("minted", res.Resting),
	)
	return res, nil
}

// settle applies one fill to the ledger.
//
// A regular fill is a plain swap: currency to the seller, the seller's
// locked tokens to the buyer. A minted fill completes a pair: the buyer's
// payment and the seller's locked currency together fund one yes and one
// no token per unit, which move into the collateral pool; each side
// receives the token it paid for.
func (e *Engine) settle(req OrderRequest, fill model.Fill) (model.Trade, error) {
	buyer, seller, qty := req.UserID, fill.UserID, fill.Quantity
	buyerPays := cost(qty, req.Price)

	var err error
	switch fill.Origin {
	case model.Regular:
		err = apply(
			func() error { return e.ledger.Debit(buyer, buyerPays) },
			func() error { return e.ledger.Credit(seller, buyerPays) },
			func() error { return e.ledger.DebitLockedToken(seller, req.Symbol, req.Outcome, qty) },
			func() error { return e.ledger.CreditToken(buyer, req.Symbol, req.Outcome, qty) },
		)
	case model.Minted:
		sellerPaid := cost(qty, symbol.Complement(req.Price))
		err = apply(
			func() error { return e.ledger.Debit(buyer, buyerPays) },
			func() error { return e.ledger.DebitLocked(seller, sellerPaid) },
			func() error { return e.ledger.AddCollateral(buyerPays.Add(sellerPaid)) },
			func() error { return e.ledger.CreditToken(buyer, req.Symbol, req.Outcome, qty) },
			func() error { return e.ledger.CreditToken(seller, req.Symbol, req.Outcome.Opposite(), qty) },
		)
	default:
		err = fmt.Errorf("unknown origin %s for %s", fill.Origin, seller)
	}
	if err != nil {
		return model.Trade{}, err
	}

	e.tradeSeq++
	return model.Trade{
		Seq:       e.tradeSeq,
		ID:        e.newID(),
		Symbol:    req.Symbol,
		Outcome:   req.Outcome,
		Price:     req.Price,
		Quantity:  qty,
		BuyerID:   buyer,
		SellerID:  seller,
		Origin:    fill.Origin,
		Cost:      buyerPays,
		Timestamp: e.now(),
	}, nil
}

// checkLevelCapacity rejects an order that could push a level's resting
// total past MaxQuantity.
func (e *Engine) checkLevelCapacity(sym string, o model.Outcome, price, qty int64) error {
	if total := e.book.Total(sym, o, price); total > MaxQuantity-qty {
		return fmt.Errorf("%w: %s/%s@%d already rests %d, adding %d exceeds %d",
			ErrInvalidQuantity, sym, o, price, total, qty, int64(MaxQuantity))
	}
	return nil
}

func apply(steps ...func() error) error {
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) settlementFailed(req OrderRequest, err error) error {
	e.log.Error("settlement failed after validation",
		zap.String("user", req.UserID),
		zap.String("symbol", req.Symbol),
		zap.String("outcome", string(req.Outcome)),
		zap.Int64("qty", req.Quantity),
		zap.Int64("price", req.Price),
		zap.Error(err),
	)
	return fmt.Errorf("%w: %v", ErrSettlement, err)
}
