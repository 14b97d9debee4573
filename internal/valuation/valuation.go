// Package valuation computes mark-to-market portfolio snapshots by combining
// ledger state with the latest prices.
package valuation

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/investomania/trading-engine/internal/model"
	"github.com/investomania/trading-engine/internal/store"
)

// Service computes portfolio valuations.
type Service struct {
	store store.Store
}

// NewService creates a valuation service.
func NewService(st store.Store) *Service {
	return &Service{store: st}
}

// Valuate returns the equity snapshot for one player in one scenario:
//
//	marketValue   = Σ quantity * latestPrice
//	unrealizedPnl = Σ (latestPrice - avgCost) * quantity
//	realizedPnl   = Σ realizedPnl across all positions, closed ones included
//	equity        = cash + cashLocked + marketValue
//
// A player who has not joined the scenario yet gets a zeroed snapshot, and
// an instrument without any price tick contributes zero to market value and
// unrealized P&L — valuation degrades, it never fails.
func (s *Service) Valuate(ctx context.Context, scenarioID, userID string) (*model.Valuation, error) {
	v := &model.Valuation{
		ScenarioID:    scenarioID,
		UserID:        userID,
		Cash:          decimal.Zero,
		CashLocked:    decimal.Zero,
		MarketValue:   decimal.Zero,
		Equity:        decimal.Zero,
		UnrealizedPnL: decimal.Zero,
		RealizedPnL:   decimal.Zero,
	}

	ps, err := s.store.GetPlayerState(ctx, scenarioID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return v, nil
		}
		return nil, err
	}
	v.Cash = ps.CashAvailable
	v.CashLocked = ps.CashLocked

	positions, err := s.store.ListPositions(ctx, scenarioID, userID)
	if err != nil {
		return nil, err
	}

	prices, err := s.store.LatestPriceTicks(ctx, scenarioID)
	if err != nil {
		return nil, err
	}

	for _, p := range positions {
		v.RealizedPnL = v.RealizedPnL.Add(p.RealizedPnL)

		tick, ok := prices[p.InstrumentID]
		if !ok {
			continue // no price yet: zero contribution
		}
		v.MarketValue = v.MarketValue.Add(p.Quantity.Mul(tick.Price))
		v.UnrealizedPnL = v.UnrealizedPnL.Add(tick.Price.Sub(p.AvgCost).Mul(p.Quantity))
	}

	v.Equity = v.Cash.Add(v.CashLocked).Add(v.MarketValue)
	return v, nil
}
