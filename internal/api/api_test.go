package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/investomania/trading-engine/internal/api"
	"github.com/investomania/trading-engine/internal/engine"
	"github.com/investomania/trading-engine/internal/ledger"
	"github.com/investomania/trading-engine/internal/model"
	"github.com/investomania/trading-engine/internal/pricegen"
	"github.com/investomania/trading-engine/internal/pubsub"
	"github.com/investomania/trading-engine/internal/session"
	"github.com/investomania/trading-engine/internal/store"
	"github.com/investomania/trading-engine/internal/stream"
	"github.com/investomania/trading-engine/internal/valuation"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

// newTestEnv wires the full service stack over an in-memory store and
// returns the assembled router.
func newTestEnv(t *testing.T) (chi.Router, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	bus := pubsub.NewBus()
	locks := ledger.NewLocks()

	srv := api.NewServer(
		ms,
		engine.NewService(ms, bus, locks),
		session.NewService(ms, locks),
		valuation.NewService(ms),
		pricegen.New(ms, bus, d(0.02)),
		stream.NewHub(bus),
	)
	return srv.Router(), ms
}

func doJSON(t *testing.T, router chi.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// seedLiveScenario creates a live scenario with one priced instrument and
// one joined player, directly in the store.
func seedLiveScenario(t *testing.T, ms *store.MemoryStore) (*model.Scenario, *model.Instrument) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	sc := &model.Scenario{
		ID:          "scn1",
		Title:       "Tech Bubble 2000",
		InitialCash: d(10000),
		StartAt:     now.Add(-time.Hour),
		EndAt:       now.Add(time.Hour),
		Status:      model.ScenarioLive,
		CreatedAt:   now,
	}
	if err := ms.CreateScenario(ctx, sc); err != nil {
		t.Fatalf("seed scenario: %v", err)
	}

	in := &model.Instrument{
		ID: "inst1", ScenarioID: sc.ID, Symbol: "PETS",
		DisplayName: "Pets.com", StartingPrice: d(100), CreatedAt: now,
	}
	if err := ms.CreateInstrument(ctx, in); err != nil {
		t.Fatalf("seed instrument: %v", err)
	}
	if err := ms.InsertPriceTick(ctx, &model.PriceTick{
		ID: "tick1", InstrumentID: in.ID, TS: now, Price: d(100),
	}); err != nil {
		t.Fatalf("seed price: %v", err)
	}
	if err := ms.CreatePlayerState(ctx, &model.PlayerState{
		ScenarioID: sc.ID, UserID: "user1",
		CashAvailable: sc.InitialCash, CashLocked: decimal.Zero, InitializedAt: now,
	}); err != nil {
		t.Fatalf("seed player: %v", err)
	}
	return sc, in
}

// --- Scenario lifecycle over HTTP ---

func TestCreateScenario(t *testing.T) {
	router, _ := newTestEnv(t)

	now := time.Now().UTC()
	w := doJSON(t, router, "POST", "/api/v1/scenarios", api.CreateScenarioRequest{
		Title:       "Dot-Com Crash",
		Prompt:      "The year is 2000.",
		InitialCash: d(10000),
		StartAt:     now.Add(time.Hour),
		EndAt:       now.Add(2 * time.Hour),
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var sc model.Scenario
	json.Unmarshal(w.Body.Bytes(), &sc)
	if sc.ID == "" {
		t.Error("expected generated id")
	}
	if sc.Status != model.ScenarioDraft {
		t.Errorf("expected draft, got %s", sc.Status)
	}
}

func TestCreateScenario_Invalid(t *testing.T) {
	router, _ := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/scenarios", api.CreateScenarioRequest{
		Title: "", InitialCash: d(10000),
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty title, got %d", w.Code)
	}
}

func TestTransitionScenario_NonMonotonic(t *testing.T) {
	router, ms := newTestEnv(t)
	sc, _ := seedLiveScenario(t, ms)

	// live → scheduled is a backwards move.
	w := doJSON(t, router, "POST", "/api/v1/scenarios/"+sc.ID+"/status",
		api.TransitionRequest{Status: model.ScenarioScheduled})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetScenario_EmbedsInstruments(t *testing.T) {
	router, ms := newTestEnv(t)
	sc, in := seedLiveScenario(t, ms)

	w := doJSON(t, router, "GET", "/api/v1/scenarios/"+sc.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp api.ScenarioResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Instruments) != 1 || resp.Instruments[0].ID != in.ID {
		t.Errorf("expected embedded instrument, got %+v", resp.Instruments)
	}
}

func TestAddInstrument_RejectedOnceLive(t *testing.T) {
	router, ms := newTestEnv(t)
	sc, _ := seedLiveScenario(t, ms)

	w := doJSON(t, router, "POST", "/api/v1/scenarios/"+sc.ID+"/instruments",
		api.AddInstrumentRequest{Symbol: "WBVN", StartingPrice: d(25)})
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for a live scenario, got %d: %s", w.Code, w.Body.String())
	}
}

func TestJoinScenario_Idempotent(t *testing.T) {
	router, ms := newTestEnv(t)
	sc, _ := seedLiveScenario(t, ms)

	w := doJSON(t, router, "POST", "/api/v1/scenarios/"+sc.ID+"/join?user_id=user2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var ps model.PlayerState
	json.Unmarshal(w.Body.Bytes(), &ps)
	if !ps.CashAvailable.Equal(d(10000)) {
		t.Errorf("expected initial cash, got %s", ps.CashAvailable)
	}

	// Trade, then re-join: the balance must survive.
	doJSON(t, router, "POST", "/api/v1/orders", api.PlaceOrderRequest{
		ScenarioID: sc.ID, InstrumentID: "inst1", UserID: "user2",
		Side: model.SideBuy, Type: model.TypeMarket, Quantity: d(10),
	})
	w = doJSON(t, router, "POST", "/api/v1/scenarios/"+sc.ID+"/join?user_id=user2", nil)
	json.Unmarshal(w.Body.Bytes(), &ps)
	if !ps.CashAvailable.Equal(d(9000)) {
		t.Errorf("re-join reset the balance: %s", ps.CashAvailable)
	}
}

func TestJoinScenario_MissingUserID(t *testing.T) {
	router, ms := newTestEnv(t)
	sc, _ := seedLiveScenario(t, ms)

	w := doJSON(t, router, "POST", "/api/v1/scenarios/"+sc.ID+"/join", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without user_id, got %d", w.Code)
	}
}

// --- Orders over HTTP ---

func TestPlaceOrder_Filled(t *testing.T) {
	router, ms := newTestEnv(t)
	sc, in := seedLiveScenario(t, ms)

	w := doJSON(t, router, "POST", "/api/v1/orders", api.PlaceOrderRequest{
		ScenarioID: sc.ID, InstrumentID: in.ID, UserID: "user1",
		Side: model.SideBuy, Type: model.TypeMarket, Quantity: d(10),
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var order model.Order
	json.Unmarshal(w.Body.Bytes(), &order)
	if order.Status != model.OrderFilled {
		t.Errorf("expected filled, got %s", order.Status)
	}
	if !order.AvgFillPrice.Equal(d(100)) {
		t.Errorf("fill price: %s", order.AvgFillPrice)
	}
}

func TestPlaceOrder_RejectionCarriesReason(t *testing.T) {
	router, ms := newTestEnv(t)
	sc, in := seedLiveScenario(t, ms)

	// Try to spend more than the starting cash.
	w := doJSON(t, router, "POST", "/api/v1/orders", api.PlaceOrderRequest{
		ScenarioID: sc.ID, InstrumentID: in.ID, UserID: "user1",
		Side: model.SideBuy, Type: model.TypeMarket, Quantity: d(101),
	})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["reason"] != "insufficient_funds" {
		t.Errorf("expected reason insufficient_funds, got %q", resp["reason"])
	}
}

func TestPlaceOrder_BadInput(t *testing.T) {
	router, ms := newTestEnv(t)
	sc, in := seedLiveScenario(t, ms)

	cases := []struct {
		name string
		req  api.PlaceOrderRequest
	}{
		{"missing user", api.PlaceOrderRequest{ScenarioID: sc.ID, InstrumentID: in.ID, Side: model.SideBuy, Type: model.TypeMarket, Quantity: d(1)}},
		{"bad side", api.PlaceOrderRequest{ScenarioID: sc.ID, InstrumentID: in.ID, UserID: "user1", Side: "hold", Type: model.TypeMarket, Quantity: d(1)}},
		{"bad type", api.PlaceOrderRequest{ScenarioID: sc.ID, InstrumentID: in.ID, UserID: "user1", Side: model.SideBuy, Type: "stop", Quantity: d(1)}},
		{"zero qty", api.PlaceOrderRequest{ScenarioID: sc.ID, InstrumentID: in.ID, UserID: "user1", Side: model.SideBuy, Type: model.TypeMarket}},
	}
	for _, tc := range cases {
		w := doJSON(t, router, "POST", "/api/v1/orders", tc.req)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d: %s", tc.name, w.Code, w.Body.String())
		}
	}
}

func TestCancelOrder(t *testing.T) {
	router, ms := newTestEnv(t)
	sc, in := seedLiveScenario(t, ms)

	// Rest a buy limit below market.
	w := doJSON(t, router, "POST", "/api/v1/orders", api.PlaceOrderRequest{
		ScenarioID: sc.ID, InstrumentID: in.ID, UserID: "user1",
		Side: model.SideBuy, Type: model.TypeLimit, Quantity: d(10), LimitPrice: d(90),
	})
	var order model.Order
	json.Unmarshal(w.Body.Bytes(), &order)
	if order.Status != model.OrderPending {
		t.Fatalf("expected pending, got %s", order.Status)
	}

	w = doJSON(t, router, "POST", "/api/v1/orders/"+order.ID+"/cancel?user_id=user1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// Cancel again: terminal.
	w = doJSON(t, router, "POST", "/api/v1/orders/"+order.ID+"/cancel?user_id=user1", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for a canceled order, got %d", w.Code)
	}
}

// conflictedStore reports a write conflict from every order read, standing in
// for a store under serialization pressure.
type conflictedStore struct {
	*store.MemoryStore
}

func (s *conflictedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return nil, store.ErrConflict
}

func TestCancelOrder_ConflictMapsTo409(t *testing.T) {
	ms := store.NewMemoryStore()
	cs := &conflictedStore{MemoryStore: ms}
	bus := pubsub.NewBus()
	locks := ledger.NewLocks()
	srv := api.NewServer(
		cs,
		engine.NewService(cs, bus, locks),
		session.NewService(cs, locks),
		valuation.NewService(cs),
		pricegen.New(cs, bus, d(0.02)),
		stream.NewHub(bus),
	)
	router := srv.Router()

	w := doJSON(t, router, "POST", "/api/v1/orders/ord1/cancel?user_id=user1", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for a store conflict, got %d: %s", w.Code, w.Body.String())
	}
}

// --- Projections ---

func TestGetPortfolio(t *testing.T) {
	router, ms := newTestEnv(t)
	sc, in := seedLiveScenario(t, ms)

	doJSON(t, router, "POST", "/api/v1/orders", api.PlaceOrderRequest{
		ScenarioID: sc.ID, InstrumentID: in.ID, UserID: "user1",
		Side: model.SideBuy, Type: model.TypeMarket, Quantity: d(10),
	})

	w := doJSON(t, router, "GET", "/api/v1/scenarios/"+sc.ID+"/portfolio?user_id=user1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var v model.Valuation
	json.Unmarshal(w.Body.Bytes(), &v)
	if !v.Equity.Equal(d(10000)) {
		t.Errorf("equity right after a buy at the mark should be 10000, got %s", v.Equity)
	}
	if !v.MarketValue.Equal(d(1000)) {
		t.Errorf("market value: %s", v.MarketValue)
	}
}

func TestListOrdersAndTrades_ScopedToUser(t *testing.T) {
	router, ms := newTestEnv(t)
	sc, in := seedLiveScenario(t, ms)

	ms.CreatePlayerState(context.Background(), &model.PlayerState{
		ScenarioID: sc.ID, UserID: "user2",
		CashAvailable: d(10000), CashLocked: decimal.Zero, InitializedAt: time.Now().UTC(),
	})

	doJSON(t, router, "POST", "/api/v1/orders", api.PlaceOrderRequest{
		ScenarioID: sc.ID, InstrumentID: in.ID, UserID: "user1",
		Side: model.SideBuy, Type: model.TypeMarket, Quantity: d(5),
	})
	doJSON(t, router, "POST", "/api/v1/orders", api.PlaceOrderRequest{
		ScenarioID: sc.ID, InstrumentID: in.ID, UserID: "user2",
		Side: model.SideBuy, Type: model.TypeMarket, Quantity: d(3),
	})

	w := doJSON(t, router, "GET", "/api/v1/scenarios/"+sc.ID+"/orders?user_id=user1", nil)
	var orders []model.Order
	json.Unmarshal(w.Body.Bytes(), &orders)
	if len(orders) != 1 || orders[0].UserID != "user1" {
		t.Errorf("orders leaked across users: %+v", orders)
	}

	w = doJSON(t, router, "GET", "/api/v1/scenarios/"+sc.ID+"/trades?user_id=user2", nil)
	var trades []model.Trade
	json.Unmarshal(w.Body.Bytes(), &trades)
	if len(trades) != 1 || !trades[0].Qty.Equal(d(3)) {
		t.Errorf("trades leaked across users: %+v", trades)
	}
}

// --- Prices ---

func TestLatestPricesAndTicks(t *testing.T) {
	router, ms := newTestEnv(t)
	sc, in := seedLiveScenario(t, ms)

	w := doJSON(t, router, "GET", "/api/v1/scenarios/"+sc.ID+"/prices", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var prices map[string]model.PriceTick
	json.Unmarshal(w.Body.Bytes(), &prices)
	if tick, ok := prices[in.ID]; !ok || !tick.Price.Equal(d(100)) {
		t.Errorf("latest prices wrong: %+v", prices)
	}

	w = doJSON(t, router, "GET", "/api/v1/instruments/"+in.ID+"/ticks?limit=10", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var ticks []model.PriceTick
	json.Unmarshal(w.Body.Bytes(), &ticks)
	if len(ticks) != 1 {
		t.Errorf("expected 1 tick, got %d", len(ticks))
	}

	w = doJSON(t, router, "GET", "/api/v1/instruments/"+in.ID+"/ticks?limit=0", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad limit, got %d", w.Code)
	}
}

func TestSimulateTick(t *testing.T) {
	router, ms := newTestEnv(t)
	_, in := seedLiveScenario(t, ms)

	w := doJSON(t, router, "POST", "/api/v1/instruments/"+in.ID+"/tick", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var tick model.PriceTick
	json.Unmarshal(w.Body.Bytes(), &tick)
	if tick.Price.Sign() <= 0 {
		t.Errorf("tick price should be positive, got %s", tick.Price)
	}

	ticks, _ := ms.ListPriceTicks(context.Background(), in.ID, 0)
	if len(ticks) != 2 {
		t.Errorf("expected 2 ticks after simulate, got %d", len(ticks))
	}
}

func TestSeedScenario(t *testing.T) {
	router, _ := newTestEnv(t)

	w := doJSON(t, router, "POST", "/api/v1/scenarios/seed", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp api.ScenarioResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Status != model.ScenarioScheduled {
		t.Errorf("seeded scenario should be scheduled, got %s", resp.Status)
	}
	if len(resp.Instruments) != 3 {
		t.Errorf("expected 3 instruments, got %d", len(resp.Instruments))
	}
}

func TestHealth(t *testing.T) {
	router, _ := newTestEnv(t)
	w := doJSON(t, router, "GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}
