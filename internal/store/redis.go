package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/investomania/trading-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for the reads the UI hammers: scenarios, latest prices, player
// state, and positions. Writes go to the primary store and invalidate the
// affected keys; reads check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

func scenarioKey(id string) string  { return fmt.Sprintf("scenario:%s", id) }
func latestKey(id string) string    { return fmt.Sprintf("latest_tick:%s", id) }
func pricesKey(scn string) string   { return fmt.Sprintf("latest_prices:%s", scn) }
func playerKey(scn, uid string) string {
	return fmt.Sprintf("player_state:%s:%s", scn, uid)
}
func positionsKey(scn, uid string) string {
	return fmt.Sprintf("positions:%s:%s", scn, uid)
}

func (s *CachedStore) set(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

// --- Scenarios ---

func (s *CachedStore) CreateScenario(ctx context.Context, sc *model.Scenario) error {
	if err := s.primary.CreateScenario(ctx, sc); err != nil {
		return err
	}
	s.set(ctx, scenarioKey(sc.ID), sc)
	return nil
}

func (s *CachedStore) GetScenario(ctx context.Context, id string) (*model.Scenario, error) {
	data, err := s.rdb.Get(ctx, scenarioKey(id)).Bytes()
	if err == nil {
		var sc model.Scenario
		if json.Unmarshal(data, &sc) == nil {
			return &sc, nil
		}
	}

	sc, err := s.primary.GetScenario(ctx, id)
	if err != nil {
		return nil, err
	}
	s.set(ctx, scenarioKey(id), sc)
	return sc, nil
}

func (s *CachedStore) UpdateScenarioStatus(ctx context.Context, id string, status model.ScenarioStatus) error {
	if err := s.primary.UpdateScenarioStatus(ctx, id, status); err != nil {
		return err
	}
	s.rdb.Del(ctx, scenarioKey(id))
	return nil
}

func (s *CachedStore) UpdateScenarioEnd(ctx context.Context, id string, endAt time.Time) error {
	if err := s.primary.UpdateScenarioEnd(ctx, id, endAt); err != nil {
		return err
	}
	s.rdb.Del(ctx, scenarioKey(id))
	return nil
}

// --- Price ticks ---

func (s *CachedStore) InsertPriceTick(ctx context.Context, tick *model.PriceTick) error {
	if err := s.primary.InsertPriceTick(ctx, tick); err != nil {
		return err
	}
	// The new tick is now the latest; cache it directly and drop the
	// per-scenario aggregate (its scenario is not known here).
	s.set(ctx, latestKey(tick.InstrumentID), tick)
	return nil
}

func (s *CachedStore) LatestPriceTick(ctx context.Context, instrumentID string) (*model.PriceTick, error) {
	data, err := s.rdb.Get(ctx, latestKey(instrumentID)).Bytes()
	if err == nil {
		var t model.PriceTick
		if json.Unmarshal(data, &t) == nil {
			return &t, nil
		}
	}

	t, err := s.primary.LatestPriceTick(ctx, instrumentID)
	if err != nil {
		return nil, err
	}
	s.set(ctx, latestKey(instrumentID), t)
	return t, nil
}

func (s *CachedStore) LatestPriceTicks(ctx context.Context, scenarioID string) (map[string]model.PriceTick, error) {
	data, err := s.rdb.Get(ctx, pricesKey(scenarioID)).Bytes()
	if err == nil {
		var out map[string]model.PriceTick
		if json.Unmarshal(data, &out) == nil {
			return out, nil
		}
	}

	out, err := s.primary.LatestPriceTicks(ctx, scenarioID)
	if err != nil {
		return nil, err
	}
	// Short TTL keeps this at most one tick interval stale, which the
	// valuation contract tolerates.
	if data, err := json.Marshal(out); err == nil {
		s.rdb.Set(ctx, pricesKey(scenarioID), data, s.ttl)
	}
	return out, nil
}

// --- Player state and positions ---

func (s *CachedStore) CreatePlayerState(ctx context.Context, ps *model.PlayerState) error {
	if err := s.primary.CreatePlayerState(ctx, ps); err != nil {
		return err
	}
	s.set(ctx, playerKey(ps.ScenarioID, ps.UserID), ps)
	return nil
}

func (s *CachedStore) GetPlayerState(ctx context.Context, scenarioID, userID string) (*model.PlayerState, error) {
	data, err := s.rdb.Get(ctx, playerKey(scenarioID, userID)).Bytes()
	if err == nil {
		var ps model.PlayerState
		if json.Unmarshal(data, &ps) == nil {
			return &ps, nil
		}
	}

	ps, err := s.primary.GetPlayerState(ctx, scenarioID, userID)
	if err != nil {
		return nil, err
	}
	s.set(ctx, playerKey(scenarioID, userID), ps)
	return ps, nil
}

func (s *CachedStore) ListPositions(ctx context.Context, scenarioID, userID string) ([]model.Position, error) {
	data, err := s.rdb.Get(ctx, positionsKey(scenarioID, userID)).Bytes()
	if err == nil {
		var out []model.Position
		if json.Unmarshal(data, &out) == nil {
			return out, nil
		}
	}

	out, err := s.primary.ListPositions(ctx, scenarioID, userID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(out); err == nil {
		s.rdb.Set(ctx, positionsKey(scenarioID, userID), data, s.ttl)
	}
	return out, nil
}

// --- Ledger mutations (write to primary, invalidate) ---

func (s *CachedStore) ApplyFill(ctx context.Context, fill *Fill) error {
	if err := s.primary.ApplyFill(ctx, fill); err != nil {
		return err
	}
	ps := fill.State
	s.rdb.Del(ctx,
		playerKey(ps.ScenarioID, ps.UserID),
		positionsKey(ps.ScenarioID, ps.UserID),
	)
	return nil
}

func (s *CachedStore) ReserveOrder(ctx context.Context, order *model.Order, state *model.PlayerState) error {
	if err := s.primary.ReserveOrder(ctx, order, state); err != nil {
		return err
	}
	s.rdb.Del(ctx, playerKey(state.ScenarioID, state.UserID))
	return nil
}

func (s *CachedStore) CancelOrder(ctx context.Context, order *model.Order, state *model.PlayerState) error {
	if err := s.primary.CancelOrder(ctx, order, state); err != nil {
		return err
	}
	s.rdb.Del(ctx, playerKey(state.ScenarioID, state.UserID))
	return nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListScenarios(ctx context.Context) ([]model.Scenario, error) {
	return s.primary.ListScenarios(ctx)
}

func (s *CachedStore) CreateInstrument(ctx context.Context, in *model.Instrument) error {
	return s.primary.CreateInstrument(ctx, in)
}

func (s *CachedStore) GetInstrument(ctx context.Context, id string) (*model.Instrument, error) {
	return s.primary.GetInstrument(ctx, id)
}

func (s *CachedStore) ListInstruments(ctx context.Context, scenarioID string) ([]model.Instrument, error) {
	return s.primary.ListInstruments(ctx, scenarioID)
}

func (s *CachedStore) DeleteInstrument(ctx context.Context, id string) error {
	return s.primary.DeleteInstrument(ctx, id)
}

func (s *CachedStore) ListPriceTicks(ctx context.Context, instrumentID string, limit int) ([]model.PriceTick, error) {
	return s.primary.ListPriceTicks(ctx, instrumentID, limit)
}

func (s *CachedStore) GetPosition(ctx context.Context, scenarioID, userID, instrumentID string) (*model.Position, error) {
	return s.primary.GetPosition(ctx, scenarioID, userID, instrumentID)
}

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return s.primary.GetOrder(ctx, id)
}

func (s *CachedStore) ListOrders(ctx context.Context, scenarioID, userID string) ([]model.Order, error) {
	return s.primary.ListOrders(ctx, scenarioID, userID)
}

func (s *CachedStore) ListTrades(ctx context.Context, scenarioID, userID string) ([]model.Trade, error) {
	return s.primary.ListTrades(ctx, scenarioID, userID)
}
