// Package engine validates and executes orders against current prices and
// the player's ledger. Market orders and marketable limit orders fill
// atomically as a single trade; non-marketable limit orders rest as pending
// with the buy side's cash reserved. There is no matching loop: resting
// orders stay pending until canceled.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/investomania/trading-engine/internal/ledger"
	"github.com/investomania/trading-engine/internal/metrics"
	"github.com/investomania/trading-engine/internal/model"
	"github.com/investomania/trading-engine/internal/pubsub"
	"github.com/investomania/trading-engine/internal/store"
)

// maxWriteAttempts bounds re-validation retries after store write conflicts.
const maxWriteAttempts = 3

// Service executes orders. Per-(scenario, user) mutual exclusion comes from
// the shared lock table, so one player's orders serialize while different
// players trade in parallel.
type Service struct {
	store store.Store
	bus   *pubsub.Bus
	locks *ledger.Locks
}

// NewService creates an order engine.
func NewService(st store.Store, bus *pubsub.Bus, locks *ledger.Locks) *Service {
	return &Service{store: st, bus: bus, locks: locks}
}

// PlaceOrderParams is the full, explicit input of one order. The user ID is
// a parameter, never ambient state.
type PlaceOrderParams struct {
	ScenarioID   string
	UserID       string
	InstrumentID string
	Side         model.OrderSide
	Type         model.OrderType
	Quantity     decimal.Decimal
	LimitPrice   decimal.Decimal
}

// PlaceOrder validates and executes an order.
//
// The validation sequence short-circuits on the first failure: tradability,
// quantity, limit price, execution price resolution, then the funds or
// shares check. Rejections come back as *RejectError; infrastructure
// problems as ordinary errors. Store write conflicts are retried with the
// validation re-run, since the funds check result may have changed.
func (s *Service) PlaceOrder(ctx context.Context, p PlaceOrderParams) (*model.Order, error) {
	start := time.Now()

	mu := s.locks.For(p.ScenarioID, p.UserID)
	mu.Lock()
	defer mu.Unlock()

	var order *model.Order
	var err error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		order, err = s.tryPlace(ctx, p)
		if !errors.Is(err, store.ErrConflict) {
			break
		}
		slog.Warn("order write conflicted, re-validating",
			"scenario", p.ScenarioID, "user", p.UserID, "attempt", attempt)
		if attempt == maxWriteAttempts {
			return nil, ErrRetriesExhausted
		}
	}

	var rej *RejectError
	switch {
	case err == nil:
		metrics.OrdersTotal.WithLabelValues(string(p.Side), string(order.Status)).Inc()
		metrics.OrderLatency.WithLabelValues(string(p.Side)).Observe(time.Since(start).Seconds())
	case errors.As(err, &rej):
		metrics.OrderRejections.WithLabelValues(string(rej.Reason)).Inc()
	}
	return order, err
}

// tryPlace runs one full validate-and-commit pass under the player lock.
func (s *Service) tryPlace(ctx context.Context, p PlaceOrderParams) (*model.Order, error) {
	now := time.Now().UTC()

	sc, err := s.store.GetScenario(ctx, p.ScenarioID)
	if err != nil {
		return nil, err
	}
	if !sc.Tradable(now) {
		return nil, reject(ReasonScenarioNotTradable)
	}
	if p.Quantity.Sign() <= 0 {
		return nil, reject(ReasonInvalidQuantity)
	}
	if p.Type == model.TypeLimit && p.LimitPrice.Sign() <= 0 {
		return nil, reject(ReasonInvalidPrice)
	}

	in, err := s.store.GetInstrument(ctx, p.InstrumentID)
	if err != nil {
		return nil, err
	}
	if in.ScenarioID != p.ScenarioID {
		return nil, fmt.Errorf("instrument %s not in scenario %s: %w", p.InstrumentID, p.ScenarioID, store.ErrNotFound)
	}

	state, err := s.store.GetPlayerState(ctx, p.ScenarioID, p.UserID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("player %s has not joined scenario %s: %w", p.UserID, p.ScenarioID, store.ErrNotFound)
		}
		return nil, err
	}

	// Resolve the execution price. Market orders need a current price;
	// limit orders execute at the limit price when marketable, otherwise
	// they rest as pending.
	latest, latestErr := s.store.LatestPriceTick(ctx, p.InstrumentID)
	if latestErr != nil && !errors.Is(latestErr, store.ErrNotFound) {
		return nil, latestErr
	}

	var execPrice decimal.Decimal
	resting := false
	switch p.Type {
	case model.TypeMarket:
		if latest == nil {
			return nil, reject(ReasonNoPrice)
		}
		execPrice = latest.Price
	case model.TypeLimit:
		execPrice = p.LimitPrice
		resting = latest == nil || !marketable(p.Side, p.LimitPrice, latest.Price)
	default:
		return nil, reject(ReasonInvalidPrice)
	}

	order := &model.Order{
		ID:           uuid.New().String(),
		ScenarioID:   p.ScenarioID,
		UserID:       p.UserID,
		InstrumentID: p.InstrumentID,
		Side:         p.Side,
		Type:         p.Type,
		Quantity:     p.Quantity,
		LimitPrice:   p.LimitPrice,
		Status:       model.OrderPending,
		FilledQty:    decimal.Zero,
		AvgFillPrice: decimal.Zero,
		CreatedAt:    now,
	}

	if resting {
		return s.placeResting(ctx, sc, order, state)
	}
	return s.execute(ctx, sc, order, state, execPrice)
}

// marketable reports whether a limit order crosses the current price: a buy
// at or above it, a sell at or below it.
func marketable(side model.OrderSide, limitPrice, current decimal.Decimal) bool {
	if side == model.SideBuy {
		return limitPrice.GreaterThanOrEqual(current)
	}
	return limitPrice.LessThanOrEqual(current)
}

// placeResting parks a non-marketable limit order as pending. Buy orders
// reserve their worst-case cost so the funds they need cannot be spent by a
// later order; sell orders are capped against the held quantity.
func (s *Service) placeResting(ctx context.Context, sc *model.Scenario, order *model.Order, state *model.PlayerState) (*model.Order, error) {
	if order.Side == model.SideBuy {
		cost := order.Quantity.Mul(order.LimitPrice)
		if err := ledger.Reserve(state, cost); err != nil {
			return nil, reject(ReasonInsufficientFunds)
		}
	} else if !sc.AllowShort {
		free, err := s.sellableQty(ctx, order)
		if err != nil {
			return nil, err
		}
		if order.Quantity.GreaterThan(free) {
			return nil, reject(ReasonInsufficientShares)
		}
	}

	if err := s.store.ReserveOrder(ctx, order, state); err != nil {
		return nil, err
	}

	slog.Info("limit order resting",
		"order_id", order.ID,
		"user", order.UserID,
		"instrument", order.InstrumentID,
		"side", order.Side,
		"qty", order.Quantity.String(),
		"limit", order.LimitPrice.String(),
	)
	return order, nil
}

// execute fills an order at execPrice and commits all ledger effects as one
// atomic unit.
func (s *Service) execute(ctx context.Context, sc *model.Scenario, order *model.Order, state *model.PlayerState, execPrice decimal.Decimal) (*model.Order, error) {
	cost := order.Quantity.Mul(execPrice)

	pos, err := s.store.GetPosition(ctx, order.ScenarioID, order.UserID, order.InstrumentID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		pos = &model.Position{
			ScenarioID:   order.ScenarioID,
			UserID:       order.UserID,
			InstrumentID: order.InstrumentID,
			Quantity:     decimal.Zero,
			AvgCost:      decimal.Zero,
			RealizedPnL:  decimal.Zero,
		}
	}

	switch order.Side {
	case model.SideBuy:
		if err := ledger.Debit(state, cost); err != nil {
			return nil, reject(ReasonInsufficientFunds)
		}
	case model.SideSell:
		if !sc.AllowShort {
			free, err := s.sellableQty(ctx, order)
			if err != nil {
				return nil, err
			}
			if order.Quantity.GreaterThan(free) {
				return nil, reject(ReasonInsufficientShares)
			}
		}
		ledger.Credit(state, cost)
	}

	ledger.ApplyTrade(pos, order.Side, order.Quantity, execPrice)

	order.Status = model.OrderFilled
	order.FilledQty = order.Quantity
	order.AvgFillPrice = execPrice

	trade := &model.Trade{
		ID:           uuid.New().String(),
		OrderID:      order.ID,
		ScenarioID:   order.ScenarioID,
		UserID:       order.UserID,
		InstrumentID: order.InstrumentID,
		Qty:          order.Quantity,
		Price:        execPrice,
		TS:           time.Now().UTC(),
	}

	fill := &store.Fill{Order: order, Trade: trade, Position: pos, State: state}
	if err := s.store.ApplyFill(ctx, fill); err != nil {
		return nil, err
	}

	slog.Info("order filled",
		"order_id", order.ID,
		"user", order.UserID,
		"instrument", order.InstrumentID,
		"side", order.Side,
		"qty", order.Quantity.String(),
		"price", execPrice.String(),
		"cash_available", state.CashAvailable.String(),
	)

	// Event publication never fails the trade.
	s.bus.Publish(pubsub.TradeTopic(order.ScenarioID), pubsub.Event{
		Type:         pubsub.EventTrade,
		ScenarioID:   order.ScenarioID,
		InstrumentID: order.InstrumentID,
		UserID:       order.UserID,
		OrderID:      order.ID,
		Side:         string(order.Side),
		Quantity:     order.Quantity,
		Price:        execPrice,
		TS:           trade.TS,
	})

	return order, nil
}

// sellableQty returns how many shares a no-short player may still sell:
// the held quantity minus what pending sell orders already claim.
func (s *Service) sellableQty(ctx context.Context, order *model.Order) (decimal.Decimal, error) {
	held := decimal.Zero
	pos, err := s.store.GetPosition(ctx, order.ScenarioID, order.UserID, order.InstrumentID)
	if err == nil {
		held = pos.Quantity
	} else if !errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, err
	}

	orders, err := s.store.ListOrders(ctx, order.ScenarioID, order.UserID)
	if err != nil {
		return decimal.Zero, err
	}
	for _, o := range orders {
		if o.InstrumentID == order.InstrumentID && o.Side == model.SideSell && !o.Status.Terminal() {
			held = held.Sub(o.Quantity.Sub(o.FilledQty))
		}
	}
	return held, nil
}

// CancelOrder cancels a pending order and releases any cash it reserved.
// Orders are only visible to their owner: a mismatched user gets not-found,
// never another player's order. Store write conflicts are retried with the
// order and ledger state re-read, same as placement.
func (s *Service) CancelOrder(ctx context.Context, userID, orderID string) (*model.Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, fmt.Errorf("order %s: %w", orderID, store.ErrNotFound)
	}

	mu := s.locks.For(o.ScenarioID, o.UserID)
	mu.Lock()
	defer mu.Unlock()

	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		o, err = s.tryCancel(ctx, orderID)
		if !errors.Is(err, store.ErrConflict) {
			return o, err
		}
		slog.Warn("cancel write conflicted, re-validating",
			"order_id", orderID, "user", userID, "attempt", attempt)
	}
	return nil, ErrRetriesExhausted
}

// tryCancel runs one read-validate-write cancel pass under the player lock.
func (s *Service) tryCancel(ctx context.Context, orderID string) (*model.Order, error) {
	// Re-read under the lock; the status may have changed.
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status.Terminal() {
		return nil, ErrOrderTerminal
	}

	state, err := s.store.GetPlayerState(ctx, o.ScenarioID, o.UserID)
	if err != nil {
		return nil, err
	}

	if o.Side == model.SideBuy && o.Type == model.TypeLimit {
		remaining := o.Quantity.Sub(o.FilledQty).Mul(o.LimitPrice)
		if err := ledger.Release(state, remaining); err != nil {
			return nil, err
		}
	}

	o.Status = model.OrderCanceled
	if err := s.store.CancelOrder(ctx, o, state); err != nil {
		return nil, err
	}

	slog.Info("order canceled", "order_id", o.ID, "user", o.UserID)
	return o, nil
}
