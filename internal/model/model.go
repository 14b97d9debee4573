// Package model defines the core domain types shared across the trading engine.
// All monetary values and quantities use shopspring/decimal — never float64
// for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ScenarioStatus is the lifecycle state of a scenario. Transitions are
// monotonic: draft → scheduled → live → closed → archived.
type ScenarioStatus string

const (
	ScenarioDraft     ScenarioStatus = "draft"
	ScenarioScheduled ScenarioStatus = "scheduled"
	ScenarioLive      ScenarioStatus = "live"
	ScenarioClosed    ScenarioStatus = "closed"
	ScenarioArchived  ScenarioStatus = "archived"
)

// next maps each status to the only status reachable from it.
var next = map[ScenarioStatus]ScenarioStatus{
	ScenarioDraft:     ScenarioScheduled,
	ScenarioScheduled: ScenarioLive,
	ScenarioLive:      ScenarioClosed,
	ScenarioClosed:    ScenarioArchived,
}

// CanAdvanceTo reports whether s may transition to target.
func (s ScenarioStatus) CanAdvanceTo(target ScenarioStatus) bool {
	return next[s] == target
}

// Valid reports whether s is a known status value.
func (s ScenarioStatus) Valid() bool {
	switch s {
	case ScenarioDraft, ScenarioScheduled, ScenarioLive, ScenarioClosed, ScenarioArchived:
		return true
	}
	return false
}

// Scenario is a time-boxed simulated market with its own instrument set and
// starting cash. Immutable once live, except for status and end-time extension.
type Scenario struct {
	ID          string          `json:"id" db:"id"`
	Title       string          `json:"title" db:"title"`
	Prompt      string          `json:"prompt" db:"prompt"`
	InitialCash decimal.Decimal `json:"initial_cash" db:"initial_cash"`
	StartAt     time.Time       `json:"start_at" db:"start_at"`
	EndAt       time.Time       `json:"end_at" db:"end_at"`
	AllowShort  bool            `json:"allow_short" db:"allow_short"`
	Status      ScenarioStatus  `json:"status" db:"status"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Tradable reports whether the scenario accepts orders at the given time:
// the scenario is live and now falls within [start_at, end_at).
func (s *Scenario) Tradable(now time.Time) bool {
	return s.Status == ScenarioLive && !now.Before(s.StartAt) && now.Before(s.EndAt)
}

// Instrument is a tradable simulated symbol within one scenario. Read-only
// once the scenario is live.
type Instrument struct {
	ID            string          `json:"id" db:"id"`
	ScenarioID    string          `json:"scenario_id" db:"scenario_id"`
	Symbol        string          `json:"symbol" db:"symbol"`
	DisplayName   string          `json:"display_name" db:"display_name"`
	StartingPrice decimal.Decimal `json:"starting_price" db:"starting_price"`
	PriceMode     string          `json:"price_mode" db:"price_mode"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// PriceTick is an append-only price observation for one instrument. The
// latest tick per instrument is the instrument's current price.
type PriceTick struct {
	ID           string          `json:"id" db:"id"`
	InstrumentID string          `json:"scenario_stock_id" db:"scenario_stock_id"`
	TS           time.Time       `json:"ts" db:"ts"`
	Price        decimal.Decimal `json:"price" db:"price"`
}

// PlayerState holds a player's cash balances within one scenario. Created
// once per (player, scenario) on first join. cash_available + cash_locked is
// conserved across order operations except realized P&L settlement.
type PlayerState struct {
	ScenarioID    string          `json:"scenario_id" db:"scenario_id"`
	UserID        string          `json:"user_id" db:"user_id"`
	CashAvailable decimal.Decimal `json:"cash_available" db:"cash_available"`
	CashLocked    decimal.Decimal `json:"cash_locked" db:"cash_locked"`
	InitializedAt time.Time       `json:"initialized_at" db:"initialized_at"`
}

// Position is a player's holding in one instrument within one scenario.
// Quantity is signed (negative = short). Zero-quantity rows persist so the
// realized P&L history survives round trips.
type Position struct {
	ScenarioID   string          `json:"scenario_id" db:"scenario_id"`
	UserID       string          `json:"user_id" db:"user_id"`
	InstrumentID string          `json:"scenario_stock_id" db:"scenario_stock_id"`
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"`
	AvgCost      decimal.Decimal `json:"avg_cost" db:"avg_cost"`
	RealizedPnL  decimal.Decimal `json:"realized_pnl" db:"realized_pnl"`
}

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// Valid reports whether s is a known side.
func (s OrderSide) Valid() bool { return s == SideBuy || s == SideSell }

// OrderType distinguishes market from limit orders.
type OrderType string

const (
	TypeMarket OrderType = "market"
	TypeLimit  OrderType = "limit"
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool { return t == TypeMarket || t == TypeLimit }

// OrderStatus is the lifecycle state of an order. Filled, canceled, and
// rejected are terminal.
type OrderStatus string

const (
	OrderPending  OrderStatus = "pending"
	OrderPartial  OrderStatus = "partial"
	OrderFilled   OrderStatus = "filled"
	OrderCanceled OrderStatus = "canceled"
	OrderRejected OrderStatus = "rejected"
)

// Terminal reports whether the order can no longer change state.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderCanceled || s == OrderRejected
}

// Order is a player's instruction to trade. Market orders fill atomically as
// a single trade; non-marketable limit orders rest as pending.
type Order struct {
	ID           string          `json:"id" db:"id"`
	ScenarioID   string          `json:"scenario_id" db:"scenario_id"`
	UserID       string          `json:"user_id" db:"user_id"`
	InstrumentID string          `json:"scenario_stock_id" db:"scenario_stock_id"`
	Side         OrderSide       `json:"side" db:"side"`
	Type         OrderType       `json:"type" db:"type"`
	Quantity     decimal.Decimal `json:"quantity" db:"quantity"`
	LimitPrice   decimal.Decimal `json:"limit_price" db:"limit_price"` // zero for market orders
	Status       OrderStatus     `json:"status" db:"status"`
	FilledQty    decimal.Decimal `json:"filled_qty" db:"filled_qty"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price" db:"avg_fill_price"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Trade is an immutable record of one execution against an order.
// Once created, these are never modified or deleted.
type Trade struct {
	ID           string          `json:"id" db:"id"`
	OrderID      string          `json:"order_id" db:"order_id"`
	ScenarioID   string          `json:"scenario_id" db:"scenario_id"`
	UserID       string          `json:"user_id" db:"user_id"`
	InstrumentID string          `json:"scenario_stock_id" db:"scenario_stock_id"`
	Qty          decimal.Decimal `json:"qty" db:"qty"`
	Price        decimal.Decimal `json:"price" db:"price"`
	TS           time.Time       `json:"ts" db:"ts"`
}

// Valuation is a mark-to-market snapshot of one player's portfolio in one
// scenario: equity = cash + cash_locked + market_value.
type Valuation struct {
	ScenarioID    string          `json:"scenario_id"`
	UserID        string          `json:"user_id"`
	Cash          decimal.Decimal `json:"cash"`
	CashLocked    decimal.Decimal `json:"cash_locked"`
	MarketValue   decimal.Decimal `json:"market_value"`
	Equity        decimal.Decimal `json:"equity"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
}
