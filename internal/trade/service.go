// Package trade provides the HTTP handlers for the exchange: account and
// symbol provisioning, deposits, balance/position/book queries, order entry,
// and the trade history served from the journal.
//
// All currency values use shopspring/decimal, never float64.
package trade

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/outcomex/exchange/internal/engine"
	"github.com/outcomex/exchange/internal/metrics"
	"github.com/outcomex/exchange/internal/model"
	"github.com/outcomex/exchange/internal/publisher"
	"github.com/outcomex/exchange/internal/store"
)

// sideEffectTimeout bounds journal and publish work done after an order
// has been accepted by the engine.
const sideEffectTimeout = 5 * time.Second

// Service exposes the engine over HTTP. The engine serialises all state
// changes; the service only adds the journal, events and broadcasts, which
// run after the engine call returns.
type Service struct {
	engine    *engine.Engine
	store     store.Store
	publisher publisher.Publisher
	wsHub     *WSHub // optional WebSocket hub for real-time broadcasts
	log       *zap.Logger
}

// NewService creates a new trade service.
// Pass nil for hub if WebSocket broadcasting is not needed, and nil for pub
// to disable event publishing.
func NewService(eng *engine.Engine, st store.Store, pub publisher.Publisher, hub *WSHub, log *zap.Logger) *Service {
	if pub == nil {
		pub = publisher.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		engine:    eng,
		store:     st,
		publisher: pub,
		wsHub:     hub,
		log:       log.Named("trade"),
	}
}

// Routes registers the API under r, which is expected to be mounted at
// /api/v1.
func (s *Service) Routes(r chi.Router) {
	if s.wsHub != nil {
		r.Get("/ws", s.wsHub.HandleWS)
	}

	r.Post("/users/{userID}", s.CreateUser)
	r.Get("/users/{userID}/trades", s.UserTrades)
	r.Post("/symbols/{symbol}", s.CreateSymbol)
	r.Post("/onramp", s.Onramp)

	r.Get("/balances", s.ListBalances)
	r.Get("/balances/{userID}", s.GetBalance)
	r.Get("/positions", s.ListPositions)
	r.Get("/positions/{userID}", s.GetPositions)
	r.Get("/orderbook", s.ListOrderBooks)
	r.Get("/orderbook/{symbol}", s.GetOrderBook)

	r.Post("/orders/buy", s.PlaceBuyOrder)
	r.Post("/orders/sell", s.PlaceSellOrder)
	r.Get("/trades/{symbol}", s.SymbolTrades)
}

// --- Request/Response types ---

// OnrampRequest is the JSON body for POST /onramp.
type OnrampRequest struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
}

// OrderRequest is the JSON body for POST /orders/buy and /orders/sell.
type OrderRequest = engine.OrderRequest

// SymbolResponse is returned from POST /symbols/{symbol}.
type SymbolResponse struct {
	Symbol string `json:"symbol"`
}

// --- Provisioning ---

// CreateUser handles POST /api/v1/users/{userID}
func (s *Service) CreateUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	bal, err := s.engine.CreateAccount(userID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.Accounts.Inc()

	writeJSON(w, http.StatusCreated, bal)
}

// CreateSymbol handles POST /api/v1/symbols/{symbol}
func (s *Service) CreateSymbol(w http.ResponseWriter, r *http.Request) {
	sym := chi.URLParam(r, "symbol")

	if err := s.engine.CreateSymbol(sym); err != nil {
		writeEngineError(w, err)
		return
	}
	metrics.Symbols.Set(float64(len(s.engine.Symbols())))
	s.broadcastBook(sym)

	writeJSON(w, http.StatusCreated, SymbolResponse{Symbol: sym})
}

// Onramp handles POST /api/v1/onramp
func (s *Service) Onramp(w http.ResponseWriter, r *http.Request) {
	var req OnrampRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	bal, err := s.engine.Deposit(req.UserID, req.Amount)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, bal)
}

// --- Queries ---

// ListBalances handles GET /api/v1/balances
func (s *Service) ListBalances(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.ListBalances())
}

// GetBalance handles GET /api/v1/balances/{userID}
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := s.engine.GetBalance(chi.URLParam(r, "userID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}

// ListPositions handles GET /api/v1/positions
func (s *Service) ListPositions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.ListPositions())
}

// GetPositions handles GET /api/v1/positions/{userID}
func (s *Service) GetPositions(w http.ResponseWriter, r *http.Request) {
	positions, err := s.engine.GetPositions(chi.URLParam(r, "userID"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

// ListOrderBooks handles GET /api/v1/orderbook
func (s *Service) ListOrderBooks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.ListOrderBooks())
}

// GetOrderBook handles GET /api/v1/orderbook/{symbol}
func (s *Service) GetOrderBook(w http.ResponseWriter, r *http.Request) {
	book, err := s.engine.GetOrderBook(chi.URLParam(r, "symbol"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

// --- Orders ---

// PlaceBuyOrder handles POST /api/v1/orders/buy
func (s *Service) PlaceBuyOrder(w http.ResponseWriter, r *http.Request) {
	s.placeOrder(w, r, "buy", s.engine.PlaceBuyOrder)
}

// PlaceSellOrder handles POST /api/v1/orders/sell
func (s *Service) PlaceSellOrder(w http.ResponseWriter, r *http.Request) {
	s.placeOrder(w, r, "sell", s.engine.PlaceSellOrder)
}

func (s *Service) placeOrder(w http.ResponseWriter, r *http.Request, kind string,
	place func(engine.OrderRequest) (*engine.OrderResult, error)) {
	var req OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	start := time.Now()
	res, err := place(req)
	metrics.OrderLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.OrderRejections.WithLabelValues(kind, rejectReason(err)).Inc()
		writeEngineError(w, err)
		return
	}
	metrics.OrdersTotal.WithLabelValues(kind).Inc()
	for _, tr := range res.Trades {
		metrics.TradesTotal.WithLabelValues(tr.Origin.String()).Inc()
		metrics.TradedVolume.WithLabelValues(tr.Symbol, string(tr.Outcome)).Add(float64(tr.Quantity))
	}
	if kind == "buy" && res.Resting > 0 {
		metrics.MintedQuantity.WithLabelValues(res.Symbol).Add(float64(res.Resting))
	}

	s.afterOrder(r.Context(), kind, req, res)

	writeJSON(w, http.StatusOK, res)
}

// afterOrder journals, publishes and broadcasts an accepted order. Failures
// are logged; the engine state change stands regardless.
func (s *Service) afterOrder(ctx context.Context, kind string, req engine.OrderRequest, res *engine.OrderResult) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	if len(res.Trades) > 0 {
		if err := s.store.InsertTrades(ctx, res.Trades); err != nil {
			s.log.Error("failed to journal trades",
				zap.String("symbol", res.Symbol),
				zap.Int("count", len(res.Trades)),
				zap.Error(err),
			)
		}
		if err := s.publisher.PublishTrades(ctx, res.Trades); err != nil {
			metrics.PublishErrors.Inc()
			s.log.Warn("failed to publish trades",
				zap.String("symbol", res.Symbol),
				zap.Int("count", len(res.Trades)),
				zap.Error(err),
			)
		}
	}

	ev := publisher.OrderEvent{
		Kind:           kind,
		UserID:         req.UserID,
		Symbol:         res.Symbol,
		Outcome:        res.Outcome,
		Price:          res.Price,
		Quantity:       res.Quantity,
		Filled:         res.Filled,
		Resting:        res.Resting,
		RestingOutcome: res.RestingOutcome,
		RestingPrice:   res.RestingPrice,
	}
	if err := s.publisher.PublishOrder(ctx, ev); err != nil {
		metrics.PublishErrors.Inc()
		s.log.Warn("failed to publish order",
			zap.String("kind", kind),
			zap.String("user", req.UserID),
			zap.String("symbol", res.Symbol),
			zap.Error(err),
		)
	}

	if s.wsHub != nil {
		for i := range res.Trades {
			s.wsHub.Broadcast(WSMessage{Type: MsgTrade, Symbol: res.Symbol, Trade: &res.Trades[i]})
		}
	}
	s.broadcastBook(res.Symbol)
	metrics.Symbols.Set(float64(len(s.engine.Symbols())))
}

// broadcastBook pushes the current snapshot of sym. It can already reflect
// orders placed after the one that triggered it.
func (s *Service) broadcastBook(sym string) {
	if s.wsHub == nil {
		return
	}
	book, err := s.engine.GetOrderBook(sym)
	if err != nil {
		return
	}
	s.wsHub.Broadcast(WSMessage{Type: MsgBook, Symbol: sym, Book: &book})
}

// --- Trade history ---

// SymbolTrades handles GET /api/v1/trades/{symbol}
func (s *Service) SymbolTrades(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.TradesBySymbol(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		s.log.Error("failed to load trades", zap.Error(err))
		writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// UserTrades handles GET /api/v1/users/{userID}/trades
func (s *Service) UserTrades(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if _, err := s.engine.GetBalance(userID); err != nil {
		writeEngineError(w, err)
		return
	}

	trades, err := s.store.TradesByUser(r.Context(), userID)
	if err != nil {
		s.log.Error("failed to load trades", zap.String("user", userID), zap.Error(err))
		writeError(w, "failed to load trades", http.StatusInternalServerError)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// --- Errors ---

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrInvalidPrice),
		errors.Is(err, engine.ErrInvalidQuantity),
		errors.Is(err, engine.ErrInvalidAmount),
		errors.Is(err, engine.ErrInvalidOutcome),
		errors.Is(err, engine.ErrInvalidSymbol),
		errors.Is(err, engine.ErrInvalidUserID):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrUserNotFound),
		errors.Is(err, engine.ErrSymbolNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, engine.ErrInsufficientFunds),
		errors.Is(err, engine.ErrInsufficientInventory):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// rejectReason is the metrics label for a rejected order.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, engine.ErrInvalidPrice):
		return "invalid_price"
	case errors.Is(err, engine.ErrInvalidQuantity):
		return "invalid_quantity"
	case errors.Is(err, engine.ErrInvalidOutcome), errors.Is(err, engine.ErrInvalidSymbol):
		return "invalid_request"
	case errors.Is(err, engine.ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, engine.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, engine.ErrInsufficientInventory):
		return "insufficient_inventory"
	default:
		return "internal"
	}
}

func writeEngineError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeError(w, msg, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
