// Package ledger implements the cash and position accounting rules of the
// trading engine: weighted-average cost basis, realized P&L on reductions,
// and the cash_available / cash_locked split used for order reservations.
//
// Functions here are pure mutations of in-memory model structs. Persistence
// and atomicity are the caller's concern — the order engine applies one
// trade's full set of ledger effects as a single store transaction.
//
// All monetary values use shopspring/decimal — never float64 for money.
package ledger

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/investomania/trading-engine/internal/model"
)

var (
	// ErrInsufficientFunds is returned when a debit or reservation exceeds
	// the player's available cash.
	ErrInsufficientFunds = errors.New("ledger: insufficient available cash")

	// ErrInsufficientLocked is returned when a release exceeds the player's
	// locked cash. Reservations and releases are paired by the order engine,
	// so hitting this indicates a caller bug rather than a player error.
	ErrInsufficientLocked = errors.New("ledger: release exceeds locked cash")
)

// Reserve moves amount from cash_available to cash_locked, pre-committing
// funds for a resting order. The total cash_available + cash_locked is
// unchanged.
func Reserve(ps *model.PlayerState, amount decimal.Decimal) error {
	if amount.GreaterThan(ps.CashAvailable) {
		return ErrInsufficientFunds
	}
	ps.CashAvailable = ps.CashAvailable.Sub(amount)
	ps.CashLocked = ps.CashLocked.Add(amount)
	return nil
}

// Release moves amount from cash_locked back to cash_available, undoing a
// prior Reserve (order canceled).
func Release(ps *model.PlayerState, amount decimal.Decimal) error {
	if amount.GreaterThan(ps.CashLocked) {
		return ErrInsufficientLocked
	}
	ps.CashLocked = ps.CashLocked.Sub(amount)
	ps.CashAvailable = ps.CashAvailable.Add(amount)
	return nil
}

// SpendLocked consumes previously reserved cash when a resting buy order
// fills: the amount leaves cash_locked without touching cash_available.
func SpendLocked(ps *model.PlayerState, amount decimal.Decimal) error {
	if amount.GreaterThan(ps.CashLocked) {
		return ErrInsufficientLocked
	}
	ps.CashLocked = ps.CashLocked.Sub(amount)
	return nil
}

// Debit removes amount from cash_available. cash_available must never go
// negative; the order engine validates funds before calling, so a failure
// here is a caller bug surfaced as an error rather than silent corruption.
func Debit(ps *model.PlayerState, amount decimal.Decimal) error {
	if amount.GreaterThan(ps.CashAvailable) {
		return ErrInsufficientFunds
	}
	ps.CashAvailable = ps.CashAvailable.Sub(amount)
	return nil
}

// Credit adds amount to cash_available.
func Credit(ps *model.PlayerState, amount decimal.Decimal) {
	ps.CashAvailable = ps.CashAvailable.Add(amount)
}

// ApplyTrade updates a position for one execution and returns the realized
// P&L delta.
//
// Adds (same direction as the current quantity, or a flat position) extend
// the position at a weighted-average cost. Reductions realize
// (price - avgCost) * closedQty, sign-adjusted for shorts, and leave avgCost
// unchanged. A trade that flips the position's sign is split logically: the
// closing portion realizes P&L at the old average cost, and the opening
// portion starts a fresh cost basis at the trade price. Quantity reaching
// exactly zero resets avgCost to zero; the row itself persists.
func ApplyTrade(pos *model.Position, side model.OrderSide, qty, price decimal.Decimal) decimal.Decimal {
	signed := qty
	if side == model.SideSell {
		signed = qty.Neg()
	}

	oldQty := pos.Quantity
	newQty := oldQty.Add(signed)
	realized := decimal.Zero

	switch {
	case oldQty.IsZero() || oldQty.Sign() == signed.Sign():
		// Opening or extending: weighted-average cost basis.
		total := oldQty.Abs().Mul(pos.AvgCost).Add(qty.Mul(price))
		pos.AvgCost = total.Div(newQty.Abs())

	case newQty.Sign() == oldQty.Sign() || newQty.IsZero():
		// Reduction that does not cross zero. closedQty == qty here.
		realized = markDiff(price, pos.AvgCost, oldQty.Sign()).Mul(qty)
		if newQty.IsZero() {
			pos.AvgCost = decimal.Zero
		}

	default:
		// Sign flip: close the entire old position at the old average cost,
		// then reopen the remainder at the trade price.
		realized = markDiff(price, pos.AvgCost, oldQty.Sign()).Mul(oldQty.Abs())
		pos.AvgCost = price
	}

	pos.Quantity = newQty
	pos.RealizedPnL = pos.RealizedPnL.Add(realized)
	return realized
}

// markDiff returns the per-share P&L of closing at price against avgCost.
// For long positions gains come from price rising; for shorts, falling.
func markDiff(price, avgCost decimal.Decimal, dir int) decimal.Decimal {
	diff := price.Sub(avgCost)
	if dir < 0 {
		return diff.Neg()
	}
	return diff
}

// Locks provides per-(scenario, user) mutual exclusion so two concurrent
// orders from the same player cannot both pass the funds check against a
// stale balance. Different players proceed fully in parallel.
type Locks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocks creates an empty lock table.
func NewLocks() *Locks {
	return &Locks{locks: make(map[string]*sync.Mutex)}
}

// For returns the mutex guarding one player's ledger rows in one scenario,
// creating it on first use. Mutexes are never removed; the table is bounded
// by the number of (scenario, player) pairs.
func (l *Locks) For(scenarioID, userID string) *sync.Mutex {
	key := scenarioID + "/" + userID

	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	return m
}
