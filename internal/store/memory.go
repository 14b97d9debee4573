package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/investomania/trading-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	scenarios   map[string]*model.Scenario
	instruments map[string]*model.Instrument
	ticks       map[string][]model.PriceTick // instrumentID → append-only
	states      map[string]*model.PlayerState
	positions   map[string]*model.Position
	orders      map[string]*model.Order
	trades      []model.Trade
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		scenarios:   make(map[string]*model.Scenario),
		instruments: make(map[string]*model.Instrument),
		ticks:       make(map[string][]model.PriceTick),
		states:      make(map[string]*model.PlayerState),
		positions:   make(map[string]*model.Position),
		orders:      make(map[string]*model.Order),
	}
}

func stateKey(scenarioID, userID string) string { return scenarioID + "/" + userID }

func positionKey(scenarioID, userID, instrumentID string) string {
	return scenarioID + "/" + userID + "/" + instrumentID
}

// --- Scenarios ---

func (s *MemoryStore) CreateScenario(_ context.Context, sc *model.Scenario) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.scenarios[sc.ID]; ok {
		return fmt.Errorf("scenario %s: %w", sc.ID, ErrExists)
	}
	cp := *sc
	s.scenarios[sc.ID] = &cp
	return nil
}

func (s *MemoryStore) GetScenario(_ context.Context, id string) (*model.Scenario, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc, ok := s.scenarios[id]
	if !ok {
		return nil, fmt.Errorf("scenario %s: %w", id, ErrNotFound)
	}
	cp := *sc
	return &cp, nil
}

func (s *MemoryStore) ListScenarios(_ context.Context) ([]model.Scenario, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Scenario, 0, len(s.scenarios))
	for _, sc := range s.scenarios {
		out = append(out, *sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateScenarioStatus(_ context.Context, id string, status model.ScenarioStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.scenarios[id]
	if !ok {
		return fmt.Errorf("scenario %s: %w", id, ErrNotFound)
	}
	sc.Status = status
	return nil
}

func (s *MemoryStore) UpdateScenarioEnd(_ context.Context, id string, endAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.scenarios[id]
	if !ok {
		return fmt.Errorf("scenario %s: %w", id, ErrNotFound)
	}
	sc.EndAt = endAt
	return nil
}

// --- Instruments ---

func (s *MemoryStore) CreateInstrument(_ context.Context, in *model.Instrument) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.instruments {
		if existing.ScenarioID == in.ScenarioID && existing.Symbol == in.Symbol {
			return fmt.Errorf("symbol %s in scenario %s: %w", in.Symbol, in.ScenarioID, ErrExists)
		}
	}
	cp := *in
	s.instruments[in.ID] = &cp
	return nil
}

func (s *MemoryStore) GetInstrument(_ context.Context, id string) (*model.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	in, ok := s.instruments[id]
	if !ok {
		return nil, fmt.Errorf("instrument %s: %w", id, ErrNotFound)
	}
	cp := *in
	return &cp, nil
}

func (s *MemoryStore) ListInstruments(_ context.Context, scenarioID string) ([]model.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Instrument
	for _, in := range s.instruments {
		if in.ScenarioID == scenarioID {
			out = append(out, *in)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *MemoryStore) DeleteInstrument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instruments[id]; !ok {
		return fmt.Errorf("instrument %s: %w", id, ErrNotFound)
	}
	delete(s.instruments, id)
	return nil
}

// --- Price ticks ---

func (s *MemoryStore) InsertPriceTick(_ context.Context, tick *model.PriceTick) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticks[tick.InstrumentID] = append(s.ticks[tick.InstrumentID], *tick)
	return nil
}

func (s *MemoryStore) LatestPriceTick(_ context.Context, instrumentID string) (*model.PriceTick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ticks := s.ticks[instrumentID]
	if len(ticks) == 0 {
		return nil, fmt.Errorf("no ticks for instrument %s: %w", instrumentID, ErrNotFound)
	}
	cp := ticks[len(ticks)-1]
	return &cp, nil
}

func (s *MemoryStore) LatestPriceTicks(_ context.Context, scenarioID string) (map[string]model.PriceTick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]model.PriceTick)
	for _, in := range s.instruments {
		if in.ScenarioID != scenarioID {
			continue
		}
		if ticks := s.ticks[in.ID]; len(ticks) > 0 {
			out[in.ID] = ticks[len(ticks)-1]
		}
	}
	return out, nil
}

func (s *MemoryStore) ListPriceTicks(_ context.Context, instrumentID string, limit int) ([]model.PriceTick, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ticks := s.ticks[instrumentID]
	if limit <= 0 || limit > len(ticks) {
		limit = len(ticks)
	}

	// Newest first.
	out := make([]model.PriceTick, 0, limit)
	for i := len(ticks) - 1; i >= len(ticks)-limit; i-- {
		out = append(out, ticks[i])
	}
	return out, nil
}

// --- Player state ---

func (s *MemoryStore) CreatePlayerState(_ context.Context, ps *model.PlayerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stateKey(ps.ScenarioID, ps.UserID)
	if _, ok := s.states[key]; ok {
		return fmt.Errorf("player state %s: %w", key, ErrExists)
	}
	cp := *ps
	s.states[key] = &cp
	return nil
}

func (s *MemoryStore) GetPlayerState(_ context.Context, scenarioID, userID string) (*model.PlayerState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ps, ok := s.states[stateKey(scenarioID, userID)]
	if !ok {
		return nil, fmt.Errorf("player state %s/%s: %w", scenarioID, userID, ErrNotFound)
	}
	cp := *ps
	return &cp, nil
}

// --- Positions ---

func (s *MemoryStore) GetPosition(_ context.Context, scenarioID, userID, instrumentID string) (*model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.positions[positionKey(scenarioID, userID, instrumentID)]
	if !ok {
		return nil, fmt.Errorf("position %s/%s/%s: %w", scenarioID, userID, instrumentID, ErrNotFound)
	}
	cp := *pos
	return &cp, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, scenarioID, userID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Position
	for _, pos := range s.positions {
		if pos.ScenarioID == scenarioID && pos.UserID == userID {
			out = append(out, *pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstrumentID < out[j].InstrumentID })
	return out, nil
}

// --- Orders and trades ---

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) ListOrders(_ context.Context, scenarioID, userID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Order
	for _, o := range s.orders {
		if o.ScenarioID == scenarioID && o.UserID == userID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListTrades(_ context.Context, scenarioID, userID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Trade
	for _, t := range s.trades {
		if t.ScenarioID == scenarioID && t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS.After(out[j].TS) })
	return out, nil
}

// ApplyFill applies all effects of one trade under a single lock section.
func (s *MemoryStore) ApplyFill(_ context.Context, fill *Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	orderCp := *fill.Order
	s.orders[orderCp.ID] = &orderCp

	s.trades = append(s.trades, *fill.Trade)

	posCp := *fill.Position
	s.positions[positionKey(posCp.ScenarioID, posCp.UserID, posCp.InstrumentID)] = &posCp

	stateCp := *fill.State
	s.states[stateKey(stateCp.ScenarioID, stateCp.UserID)] = &stateCp

	return nil
}

func (s *MemoryStore) ReserveOrder(_ context.Context, order *model.Order, state *model.PlayerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	orderCp := *order
	s.orders[orderCp.ID] = &orderCp

	stateCp := *state
	s.states[stateKey(stateCp.ScenarioID, stateCp.UserID)] = &stateCp
	return nil
}

func (s *MemoryStore) CancelOrder(_ context.Context, order *model.Order, state *model.PlayerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[order.ID]; !ok {
		return fmt.Errorf("order %s: %w", order.ID, ErrNotFound)
	}
	orderCp := *order
	s.orders[orderCp.ID] = &orderCp

	stateCp := *state
	s.states[stateKey(stateCp.ScenarioID, stateCp.UserID)] = &stateCp
	return nil
}
