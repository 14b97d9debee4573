// Package pricegen produces simulated price ticks for scenario instruments.
//
// Prices follow a bounded random walk: each tick moves the previous price by
// a uniformly random factor within ± MaxStepPct, floored so a price can
// never reach zero or go negative. The first tick for an instrument seeds
// from its starting price. Generation itself never fails; persistence or
// publish problems are logged and the tick is still returned.
package pricegen

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/investomania/trading-engine/internal/metrics"
	"github.com/investomania/trading-engine/internal/model"
	"github.com/investomania/trading-engine/internal/pubsub"
	"github.com/investomania/trading-engine/internal/store"
)

// PriceModeStatic pins an instrument to its starting price; ticks are still
// recorded so charts have data, but the price never moves.
const PriceModeStatic = "static"

// floor is the lowest price a walk can reach.
var floor = decimal.NewFromFloat(0.01)

// priceScale is the number of decimal places ticks are rounded to.
const priceScale int32 = 4

// Generator is the single writer of price ticks. One Generator serves all
// instruments; the internal mutex keeps the random source and the
// read-latest/append-next sequence serialized per process.
type Generator struct {
	store      store.Store
	bus        *pubsub.Bus
	maxStepPct decimal.Decimal

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a generator whose steps are bounded by ±maxStepPct
// (e.g. 0.02 for ±2% per tick).
func New(st store.Store, bus *pubsub.Bus, maxStepPct decimal.Decimal) *Generator {
	return &Generator{
		store:      st,
		bus:        bus,
		maxStepPct: maxStepPct,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Tick produces, persists, and publishes the next price for an instrument.
// If no prior tick exists the walk seeds from the instrument's starting
// price. The returned tick is always valid even when persistence fails.
func (g *Generator) Tick(ctx context.Context, in *model.Instrument) *model.PriceTick {
	g.mu.Lock()
	defer g.mu.Unlock()

	prev := in.StartingPrice
	if last, err := g.store.LatestPriceTick(ctx, in.ID); err == nil {
		prev = last.Price
	}

	tick := &model.PriceTick{
		ID:           uuid.New().String(),
		InstrumentID: in.ID,
		TS:           time.Now().UTC(),
		Price:        g.step(prev, in.PriceMode),
	}

	if err := g.store.InsertPriceTick(ctx, tick); err != nil {
		slog.Error("price tick not persisted", "instrument", in.ID, "err", err)
	}
	metrics.PriceTicksTotal.Inc()

	ev := pubsub.Event{
		Type:         pubsub.EventPriceTick,
		ScenarioID:   in.ScenarioID,
		InstrumentID: in.ID,
		Price:        tick.Price,
		TS:           tick.TS,
	}
	g.bus.Publish(pubsub.PriceTopic(in.ScenarioID), ev)
	g.bus.Publish(pubsub.InstrumentTopic(in.ID), ev)

	return tick
}

// step computes the next price from prev for the given price mode.
func (g *Generator) step(prev decimal.Decimal, mode string) decimal.Decimal {
	if mode == PriceModeStatic {
		return prev
	}

	// Uniform in [-maxStepPct, +maxStepPct).
	u := decimal.NewFromFloat(g.rng.Float64()*2 - 1)
	factor := decimal.NewFromInt(1).Add(g.maxStepPct.Mul(u))

	next := prev.Mul(factor).Round(priceScale)
	if next.LessThan(floor) {
		return floor
	}
	return next
}
