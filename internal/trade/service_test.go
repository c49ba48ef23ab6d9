package trade_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/outcomex/exchange/internal/engine"
	"github.com/outcomex/exchange/internal/model"
	"github.com/outcomex/exchange/internal/publisher"
	"github.com/outcomex/exchange/internal/store"
	"github.com/outcomex/exchange/internal/trade"
)

func d(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}

type testEnv struct {
	engine *engine.Engine
	store  store.Store
	pub    *recordingPublisher
	router chi.Router
}

// newTestEnv creates a Service over a fresh engine and in-memory journal.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, store.NewMemoryStore())
}

func newTestEnvWithStore(t *testing.T, st store.Store) *testEnv {
	t.Helper()
	eng := engine.New(nil)
	pub := &recordingPublisher{}
	svc := trade.NewService(eng, st, pub, nil, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)

	return &testEnv{engine: eng, store: st, pub: pub, router: r}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// fund creates the user and deposits amount.
func (e *testEnv) fund(t *testing.T, user string, amount int64) {
	t.Helper()
	require.Equal(t, http.StatusCreated, e.do(t, "POST", "/api/v1/users/"+user, nil).Code)
	w := e.do(t, "POST", "/api/v1/onramp", trade.OnrampRequest{UserID: user, Amount: d(amount)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func (e *testEnv) order(t *testing.T, kind, user, sym string, o model.Outcome, qty, price int64) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, "POST", "/api/v1/orders/"+kind, trade.OrderRequest{
		UserID: user, Symbol: sym, Outcome: o, Quantity: qty, Price: price,
	})
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[map[string]string](t, w)["error"]
}

type recordingPublisher struct {
	mu     sync.Mutex
	orders []publisher.OrderEvent
	trades []model.Trade
}

func (p *recordingPublisher) PublishOrder(_ context.Context, ev publisher.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, ev)
	return nil
}

func (p *recordingPublisher) PublishTrades(_ context.Context, trades []model.Trade) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trades = append(p.trades, trades...)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type failingPublisher struct{}

func (failingPublisher) PublishOrder(context.Context, publisher.OrderEvent) error {
	return errors.New("broker down")
}

func (failingPublisher) PublishTrades(context.Context, []model.Trade) error {
	return errors.New("broker down")
}

func (failingPublisher) Close() error { return nil }

type failingStore struct{ store.Store }

func (failingStore) InsertTrades(context.Context, []model.Trade) error {
	return errors.New("journal unavailable")
}

// --- Provisioning ---

func TestCreateUser(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/users/alice", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	bal := decode[model.Balance](t, w)
	assert.True(t, bal.Available.IsZero())
	assert.True(t, bal.Locked.IsZero())

	w = env.do(t, "POST", "/api/v1/users/alice", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, errorOf(t, w), "already exists")
}

func TestCreateSymbol(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "POST", "/api/v1/symbols/BTC-100K", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "BTC-100K", decode[trade.SymbolResponse](t, w).Symbol)

	assert.Equal(t, http.StatusConflict, env.do(t, "POST", "/api/v1/symbols/BTC-100K", nil).Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, "POST", "/api/v1/symbols/btc", nil).Code)

	w = env.do(t, "GET", "/api/v1/orderbook/BTC-100K", nil)
	require.Equal(t, http.StatusOK, w.Code)
	book := decode[model.OrderBook](t, w)
	assert.Equal(t, "BTC-100K", book.Symbol)
	assert.Empty(t, book.Yes)
	assert.Empty(t, book.No)
}

func TestOnramp(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "alice", 100)

	w := env.do(t, "POST", "/api/v1/onramp", trade.OnrampRequest{UserID: "alice", Amount: d(50)})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, d(150).Equal(decode[model.Balance](t, w).Available))

	tests := []struct {
		name   string
		body   any
		status int
	}{
		{"unknown user", trade.OnrampRequest{UserID: "bob", Amount: d(10)}, http.StatusNotFound},
		{"zero amount", trade.OnrampRequest{UserID: "alice", Amount: d(0)}, http.StatusBadRequest},
		{"negative amount", trade.OnrampRequest{UserID: "alice", Amount: d(-5)}, http.StatusBadRequest},
		{"fractional amount", `{"user_id":"alice","amount":"1.5"}`, http.StatusBadRequest},
		{"missing user", trade.OnrampRequest{Amount: d(10)}, http.StatusBadRequest},
		{"malformed body", `{"user_id":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/api/v1/onramp", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}

	bal, err := env.engine.GetBalance("alice")
	require.NoError(t, err)
	assert.True(t, d(150).Equal(bal.Available), "rejected deposits must not change the balance")
}

// --- Queries ---

func TestQueries_NotFound(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{
		"/api/v1/balances/ghost",
		"/api/v1/positions/ghost",
		"/api/v1/orderbook/GHOST",
		"/api/v1/users/ghost/trades",
	} {
		w := env.do(t, "GET", path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
		assert.NotEmpty(t, errorOf(t, w), path)
	}
}

func TestListEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "alice", 100)
	env.fund(t, "bob", 40)
	require.Equal(t, http.StatusOK, env.order(t, "buy", "alice", "ETH", model.Yes, 2, 5).Code)

	balances := decode[map[string]model.Balance](t, env.do(t, "GET", "/api/v1/balances", nil))
	require.Len(t, balances, 2)
	assert.True(t, d(90).Equal(balances["alice"].Available))
	assert.True(t, d(10).Equal(balances["alice"].Locked))
	assert.True(t, d(40).Equal(balances["bob"].Available))

	positions := decode[map[string]map[string]model.Position](t, env.do(t, "GET", "/api/v1/positions", nil))
	assert.Equal(t, model.Position{}, positions["alice"]["ETH"])

	books := decode[[]model.OrderBook](t, env.do(t, "GET", "/api/v1/orderbook", nil))
	require.Len(t, books, 1)
	assert.Equal(t, "ETH", books[0].Symbol)
}

// --- Orders ---

func TestBuyOrder_MintsRemainder(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "alice", 100)

	w := env.order(t, "buy", "alice", "BTC", model.Yes, 5, 6)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	res := decode[engine.OrderResult](t, w)
	assert.Equal(t, int64(0), res.Filled)
	assert.Equal(t, int64(5), res.Resting)
	assert.Equal(t, model.No, res.RestingOutcome)
	assert.Equal(t, int64(4), res.RestingPrice)
	assert.Empty(t, res.Trades)

	bal := decode[model.Balance](t, env.do(t, "GET", "/api/v1/balances/alice", nil))
	assert.True(t, d(70).Equal(bal.Available))
	assert.True(t, d(30).Equal(bal.Locked))

	book := decode[model.OrderBook](t, env.do(t, "GET", "/api/v1/orderbook/BTC", nil))
	lvl, ok := book.Level(model.No, 4)
	require.True(t, ok)
	assert.Equal(t, int64(5), lvl.Total)
	assert.Equal(t, []model.RestingOrder{{UserID: "alice", Quantity: 5, Origin: model.Minted}}, lvl.Resting)

	require.Len(t, env.pub.orders, 1)
	assert.Equal(t, "buy", env.pub.orders[0].Kind)
	assert.Equal(t, int64(5), env.pub.orders[0].Resting)
	assert.Empty(t, env.pub.trades)
}

func TestBuyOrder_MatchesMintedAndJournals(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "alice", 100)
	env.fund(t, "bob", 100)

	require.Equal(t, http.StatusOK, env.order(t, "buy", "alice", "BTC", model.Yes, 5, 6).Code)

	w := env.order(t, "buy", "bob", "BTC", model.No, 5, 4)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[engine.OrderResult](t, w)
	assert.Equal(t, int64(5), res.Filled)
	assert.Equal(t, int64(0), res.Resting)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, model.Minted, res.Trades[0].Origin)
	assert.Equal(t, "bob", res.Trades[0].BuyerID)
	assert.Equal(t, "alice", res.Trades[0].SellerID)

	alice := decode[map[string]model.Position](t, env.do(t, "GET", "/api/v1/positions/alice", nil))
	bob := decode[map[string]model.Position](t, env.do(t, "GET", "/api/v1/positions/bob", nil))
	assert.Equal(t, model.TokenBalance{Available: 5}, alice["BTC"].Yes)
	assert.Equal(t, model.TokenBalance{Available: 5}, bob["BTC"].No)

	bal := decode[model.Balance](t, env.do(t, "GET", "/api/v1/balances/alice", nil))
	assert.True(t, d(70).Equal(bal.Available))
	assert.True(t, bal.Locked.IsZero())

	bySymbol := decode[[]model.Trade](t, env.do(t, "GET", "/api/v1/trades/BTC", nil))
	require.Len(t, bySymbol, 1)
	assert.Equal(t, res.Trades[0].ID, bySymbol[0].ID)

	byUser := decode[[]model.Trade](t, env.do(t, "GET", "/api/v1/users/alice/trades", nil))
	require.Len(t, byUser, 1)

	assert.Len(t, env.pub.trades, 1)
	assert.Len(t, env.pub.orders, 2)
}

func TestSellOrder_RestsAndFillsRegular(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "alice", 100)
	env.fund(t, "bob", 100)
	env.fund(t, "carol", 100)

	// alice ends up with 5 yes, bob with 5 no.
	require.Equal(t, http.StatusOK, env.order(t, "buy", "alice", "BTC", model.Yes, 5, 6).Code)
	require.Equal(t, http.StatusOK, env.order(t, "buy", "bob", "BTC", model.No, 5, 4).Code)

	w := env.order(t, "sell", "alice", "BTC", model.Yes, 2, 7)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[engine.OrderResult](t, w)
	assert.Equal(t, int64(2), res.Resting)
	assert.Equal(t, model.Yes, res.RestingOutcome)
	assert.Equal(t, int64(7), res.RestingPrice)

	pos := decode[map[string]model.Position](t, env.do(t, "GET", "/api/v1/positions/alice", nil))
	assert.Equal(t, model.TokenBalance{Available: 3, Locked: 2}, pos["BTC"].Yes)

	w = env.order(t, "buy", "carol", "BTC", model.Yes, 2, 7)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res = decode[engine.OrderResult](t, w)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, model.Regular, res.Trades[0].Origin)

	alice := decode[model.Balance](t, env.do(t, "GET", "/api/v1/balances/alice", nil))
	assert.True(t, d(84).Equal(alice.Available), "70 + 2*7")
	carol := decode[model.Balance](t, env.do(t, "GET", "/api/v1/balances/carol", nil))
	assert.True(t, d(86).Equal(carol.Available))

	pos = decode[map[string]model.Position](t, env.do(t, "GET", "/api/v1/positions/alice", nil))
	assert.Equal(t, model.TokenBalance{Available: 3}, pos["BTC"].Yes)
}

func TestOrders_Rejected(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "alice", 10)

	tests := []struct {
		name   string
		kind   string
		req    trade.OrderRequest
		status int
	}{
		{"buy price too high", "buy", trade.OrderRequest{UserID: "alice", Symbol: "BTC", Outcome: model.Yes, Quantity: 1, Price: 11}, http.StatusBadRequest},
		{"buy negative price", "buy", trade.OrderRequest{UserID: "alice", Symbol: "BTC", Outcome: model.Yes, Quantity: 1, Price: -1}, http.StatusBadRequest},
		{"buy quantity overflows cost", "buy", trade.OrderRequest{UserID: "alice", Symbol: "BTC", Outcome: model.Yes, Quantity: 1 << 62, Price: 4}, http.StatusBadRequest},
		{"buy zero quantity", "buy", trade.OrderRequest{UserID: "alice", Symbol: "BTC", Outcome: model.Yes, Quantity: 0, Price: 5}, http.StatusBadRequest},
		{"buy bad outcome", "buy", trade.OrderRequest{UserID: "alice", Symbol: "BTC", Outcome: "maybe", Quantity: 1, Price: 5}, http.StatusBadRequest},
		{"buy unknown user", "buy", trade.OrderRequest{UserID: "ghost", Symbol: "BTC", Outcome: model.Yes, Quantity: 1, Price: 5}, http.StatusNotFound},
		{"buy insufficient funds", "buy", trade.OrderRequest{UserID: "alice", Symbol: "BTC", Outcome: model.Yes, Quantity: 3, Price: 4}, http.StatusUnprocessableEntity},
		{"sell without inventory", "sell", trade.OrderRequest{UserID: "alice", Symbol: "BTC", Outcome: model.Yes, Quantity: 1, Price: 5}, http.StatusUnprocessableEntity},
		{"sell unknown user", "sell", trade.OrderRequest{UserID: "ghost", Symbol: "BTC", Outcome: model.Yes, Quantity: 1, Price: 5}, http.StatusNotFound},
		{"missing user id", "sell", trade.OrderRequest{Symbol: "BTC", Outcome: model.Yes, Quantity: 1, Price: 5}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, "POST", "/api/v1/orders/"+tt.kind, tt.req)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.NotEmpty(t, errorOf(t, w))
		})
	}

	w := env.do(t, "POST", "/api/v1/orders/buy", "not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	bal, err := env.engine.GetBalance("alice")
	require.NoError(t, err)
	assert.True(t, d(10).Equal(bal.Available))
	assert.True(t, bal.Locked.IsZero())
	assert.Empty(t, env.engine.ListOrderBooks())
	assert.Empty(t, env.pub.orders)
}

func TestOrders_JournalFailureDoesNotRejectOrder(t *testing.T) {
	env := newTestEnvWithStore(t, failingStore{store.NewMemoryStore()})
	env.fund(t, "alice", 100)
	env.fund(t, "bob", 100)

	require.Equal(t, http.StatusOK, env.order(t, "buy", "alice", "BTC", model.Yes, 1, 6).Code)
	w := env.order(t, "buy", "bob", "BTC", model.No, 1, 4)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	pos, err := env.engine.GetPositions("bob")
	require.NoError(t, err)
	assert.Equal(t, int64(1), pos["BTC"].No.Available)
	assert.Len(t, env.pub.trades, 1)
}

func TestOrders_PublishFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	eng := engine.New(nil)
	svc := trade.NewService(eng, store.NewMemoryStore(), failingPublisher{}, nil, zap.New(core))
	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	env := &testEnv{engine: eng, router: r}

	env.fund(t, "alice", 100)
	env.fund(t, "bob", 100)
	require.Equal(t, http.StatusOK, env.order(t, "buy", "alice", "BTC", model.Yes, 1, 6).Code)
	require.Equal(t, http.StatusOK, env.order(t, "buy", "bob", "BTC", model.No, 1, 4).Code)

	orderLogs := logs.FilterMessage("failed to publish order").All()
	require.Len(t, orderLogs, 2)
	assert.Equal(t, "broker down", orderLogs[0].ContextMap()["error"])
	assert.Equal(t, "alice", orderLogs[0].ContextMap()["user"])

	tradeLogs := logs.FilterMessage("failed to publish trades").All()
	require.Len(t, tradeLogs, 1)
	assert.Equal(t, "BTC", tradeLogs[0].ContextMap()["symbol"])
}

// --- WebSocket ---

func TestWebSocket_BroadcastsTradesAndBook(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := trade.NewWSHub(nil)
	go hub.Run(ctx)

	eng := engine.New(nil)
	svc := trade.NewService(eng, store.NewMemoryStore(), nil, hub, nil)
	r := chi.NewRouter()
	r.Route("/api/v1", svc.Routes)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/v1/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 10*time.Millisecond)

	for _, u := range []string{"alice", "bob"} {
		_, err := eng.CreateAccount(u)
		require.NoError(t, err)
		_, err = eng.Deposit(u, d(100))
		require.NoError(t, err)
	}
	env := &testEnv{engine: eng, router: r}
	require.Equal(t, http.StatusOK, env.order(t, "buy", "alice", "BTC", model.Yes, 3, 6).Code)
	require.Equal(t, http.StatusOK, env.order(t, "buy", "bob", "BTC", model.No, 3, 4).Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var types []string
	var tradeMsg *trade.WSMessage
	for len(types) < 3 {
		var msg trade.WSMessage
		require.NoError(t, conn.ReadJSON(&msg))
		types = append(types, msg.Type)
		if msg.Type == trade.MsgTrade {
			m := msg
			tradeMsg = &m
		}
	}

	// book after alice's buy, then bob's trade and the book after it
	assert.Equal(t, []string{trade.MsgBook, trade.MsgTrade, trade.MsgBook}, types)
	require.NotNil(t, tradeMsg)
	require.NotNil(t, tradeMsg.Trade)
	assert.Equal(t, "BTC", tradeMsg.Symbol)
	assert.Equal(t, int64(3), tradeMsg.Trade.Quantity)
}
