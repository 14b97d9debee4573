package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/investomania/trading-engine/internal/model"
	"github.com/investomania/trading-engine/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestScenarioCRUD(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	sc := &model.Scenario{ID: "scn1", Title: "Test", Status: model.ScenarioDraft, CreatedAt: time.Now().UTC()}
	if err := ms.CreateScenario(ctx, sc); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := ms.CreateScenario(ctx, sc); !errors.Is(err, store.ErrExists) {
		t.Errorf("duplicate create: expected ErrExists, got %v", err)
	}

	got, err := ms.GetScenario(ctx, "scn1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	// The store hands out copies, never its internal pointers.
	got.Title = "mutated"
	again, _ := ms.GetScenario(ctx, "scn1")
	if again.Title != "Test" {
		t.Error("store leaked an internal pointer")
	}

	if _, err := ms.GetScenario(ctx, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListScenarios_NewestFirst(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()

	for i, id := range []string{"old", "mid", "new"} {
		ms.CreateScenario(ctx, &model.Scenario{
			ID: id, Title: id, CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	list, _ := ms.ListScenarios(ctx)
	if len(list) != 3 || list[0].ID != "new" || list[2].ID != "old" {
		t.Errorf("wrong ordering: %v", []string{list[0].ID, list[1].ID, list[2].ID})
	}
}

func TestInstrument_SymbolUniquePerScenario(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	a := &model.Instrument{ID: "i1", ScenarioID: "scn1", Symbol: "PETS"}
	if err := ms.CreateInstrument(ctx, a); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	dup := &model.Instrument{ID: "i2", ScenarioID: "scn1", Symbol: "PETS"}
	if err := ms.CreateInstrument(ctx, dup); !errors.Is(err, store.ErrExists) {
		t.Errorf("same symbol, same scenario: expected ErrExists, got %v", err)
	}

	other := &model.Instrument{ID: "i3", ScenarioID: "scn2", Symbol: "PETS"}
	if err := ms.CreateInstrument(ctx, other); err != nil {
		t.Errorf("same symbol in another scenario should be fine: %v", err)
	}
}

func TestPriceTicks(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()

	ms.CreateInstrument(ctx, &model.Instrument{ID: "i1", ScenarioID: "scn1", Symbol: "A"})
	ms.CreateInstrument(ctx, &model.Instrument{ID: "i2", ScenarioID: "scn1", Symbol: "B"})

	if _, err := ms.LatestPriceTick(ctx, "i1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("no ticks: expected ErrNotFound, got %v", err)
	}

	for i := 1; i <= 5; i++ {
		ms.InsertPriceTick(ctx, &model.PriceTick{
			ID: string(rune('a' + i)), InstrumentID: "i1",
			TS: base.Add(time.Duration(i) * time.Second), Price: d(float64(100 + i)),
		})
	}

	latest, err := ms.LatestPriceTick(ctx, "i1")
	if err != nil {
		t.Fatalf("latest failed: %v", err)
	}
	if !latest.Price.Equal(d(105)) {
		t.Errorf("latest price: %s", latest.Price)
	}

	// Newest first, limited.
	ticks, _ := ms.ListPriceTicks(ctx, "i1", 3)
	if len(ticks) != 3 || !ticks[0].Price.Equal(d(105)) || !ticks[2].Price.Equal(d(103)) {
		t.Errorf("list wrong: %+v", ticks)
	}

	// Per-scenario map: instruments without ticks are absent.
	prices, _ := ms.LatestPriceTicks(ctx, "scn1")
	if len(prices) != 1 {
		t.Errorf("expected 1 priced instrument, got %d", len(prices))
	}
	if _, ok := prices["i2"]; ok {
		t.Error("tickless instrument should be absent")
	}
}

func TestPlayerState_DuplicateCreate(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	ps := &model.PlayerState{ScenarioID: "scn1", UserID: "user1", CashAvailable: d(10000)}
	if err := ms.CreatePlayerState(ctx, ps); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := ms.CreatePlayerState(ctx, ps); !errors.Is(err, store.ErrExists) {
		t.Errorf("expected ErrExists, got %v", err)
	}
}

func TestApplyFill_WritesAllFourRows(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	ms.CreatePlayerState(ctx, &model.PlayerState{
		ScenarioID: "scn1", UserID: "user1", CashAvailable: d(10000),
	})

	fill := &store.Fill{
		Order: &model.Order{
			ID: "o1", ScenarioID: "scn1", UserID: "user1", InstrumentID: "i1",
			Side: model.SideBuy, Type: model.TypeMarket,
			Quantity: d(10), Status: model.OrderFilled,
			FilledQty: d(10), AvgFillPrice: d(100), CreatedAt: time.Now().UTC(),
		},
		Trade: &model.Trade{
			ID: "t1", OrderID: "o1", ScenarioID: "scn1", UserID: "user1",
			InstrumentID: "i1", Qty: d(10), Price: d(100), TS: time.Now().UTC(),
		},
		Position: &model.Position{
			ScenarioID: "scn1", UserID: "user1", InstrumentID: "i1",
			Quantity: d(10), AvgCost: d(100),
		},
		State: &model.PlayerState{
			ScenarioID: "scn1", UserID: "user1", CashAvailable: d(9000),
		},
	}
	if err := ms.ApplyFill(ctx, fill); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	if o, err := ms.GetOrder(ctx, "o1"); err != nil || o.Status != model.OrderFilled {
		t.Errorf("order not written: %v", err)
	}
	if trades, _ := ms.ListTrades(ctx, "scn1", "user1"); len(trades) != 1 {
		t.Errorf("trade not written: %d", len(trades))
	}
	if pos, err := ms.GetPosition(ctx, "scn1", "user1", "i1"); err != nil || !pos.Quantity.Equal(d(10)) {
		t.Errorf("position not written: %v", err)
	}
	if ps, _ := ms.GetPlayerState(ctx, "scn1", "user1"); !ps.CashAvailable.Equal(d(9000)) {
		t.Errorf("state not written: %s", ps.CashAvailable)
	}
}

func TestOrders_ScopedAndOrdered(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()

	for i, id := range []string{"o1", "o2"} {
		ms.ReserveOrder(ctx, &model.Order{
			ID: id, ScenarioID: "scn1", UserID: "user1",
			Status: model.OrderPending, CreatedAt: base.Add(time.Duration(i) * time.Second),
		}, &model.PlayerState{ScenarioID: "scn1", UserID: "user1"})
	}
	ms.ReserveOrder(ctx, &model.Order{
		ID: "other", ScenarioID: "scn1", UserID: "user2",
		Status: model.OrderPending, CreatedAt: base,
	}, &model.PlayerState{ScenarioID: "scn1", UserID: "user2"})

	orders, _ := ms.ListOrders(ctx, "scn1", "user1")
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
	if orders[0].ID != "o2" {
		t.Errorf("expected newest first, got %s", orders[0].ID)
	}
}
