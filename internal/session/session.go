// Package session coordinates the scenario lifecycle and per-player
// initialization. Scenario status moves strictly forward
// (draft → scheduled → live → closed → archived); only live scenarios
// within their time window accept orders, and the instrument list is frozen
// once a scenario goes live.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/investomania/trading-engine/internal/ledger"
	"github.com/investomania/trading-engine/internal/model"
	"github.com/investomania/trading-engine/internal/store"
)

var (
	// ErrInvalidTransition is returned for a non-monotonic status change.
	ErrInvalidTransition = errors.New("session: invalid scenario status transition")

	// ErrScenarioLocked is returned when editing a scenario that is live or
	// beyond.
	ErrScenarioLocked = errors.New("session: scenario is read-only once live")

	// ErrNotExtendable is returned when extending the end time of a
	// scenario that is not live.
	ErrNotExtendable = errors.New("session: end time can only be extended while live")

	// ErrInvalidScenario is returned for malformed scenario parameters.
	ErrInvalidScenario = errors.New("session: invalid scenario parameters")
)

// Service manages scenarios, their instruments, and player initialization.
type Service struct {
	store store.Store
	locks *ledger.Locks
}

// NewService creates a session service. The lock table is shared with the
// order engine so initialization and trading for one player serialize.
func NewService(st store.Store, locks *ledger.Locks) *Service {
	return &Service{store: st, locks: locks}
}

// ScenarioParams are the admin-supplied fields of a new scenario.
type ScenarioParams struct {
	Title       string
	Prompt      string
	InitialCash decimal.Decimal
	StartAt     time.Time
	EndAt       time.Time
	AllowShort  bool
}

// CreateScenario validates params and persists a new draft scenario.
func (s *Service) CreateScenario(ctx context.Context, p ScenarioParams) (*model.Scenario, error) {
	if p.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidScenario)
	}
	if p.InitialCash.Sign() <= 0 {
		return nil, fmt.Errorf("%w: initial cash must be positive", ErrInvalidScenario)
	}
	if !p.EndAt.After(p.StartAt) {
		return nil, fmt.Errorf("%w: end time must be after start time", ErrInvalidScenario)
	}

	sc := &model.Scenario{
		ID:          uuid.New().String(),
		Title:       p.Title,
		Prompt:      p.Prompt,
		InitialCash: p.InitialCash,
		StartAt:     p.StartAt.UTC(),
		EndAt:       p.EndAt.UTC(),
		AllowShort:  p.AllowShort,
		Status:      model.ScenarioDraft,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateScenario(ctx, sc); err != nil {
		return nil, err
	}
	return sc, nil
}

// InstrumentParams are the admin-supplied fields of a new instrument.
type InstrumentParams struct {
	Symbol        string
	DisplayName   string
	StartingPrice decimal.Decimal
	PriceMode     string
}

// AddInstrument attaches an instrument to a scenario. Instruments are
// read-only once the scenario is live.
func (s *Service) AddInstrument(ctx context.Context, scenarioID string, p InstrumentParams) (*model.Instrument, error) {
	sc, err := s.store.GetScenario(ctx, scenarioID)
	if err != nil {
		return nil, err
	}
	if !editable(sc.Status) {
		return nil, ErrScenarioLocked
	}
	if p.Symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", ErrInvalidScenario)
	}
	if p.StartingPrice.Sign() <= 0 {
		return nil, fmt.Errorf("%w: starting price must be positive", ErrInvalidScenario)
	}

	in := &model.Instrument{
		ID:            uuid.New().String(),
		ScenarioID:    scenarioID,
		Symbol:        p.Symbol,
		DisplayName:   p.DisplayName,
		StartingPrice: p.StartingPrice,
		PriceMode:     p.PriceMode,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.store.CreateInstrument(ctx, in); err != nil {
		return nil, err
	}
	return in, nil
}

// RemoveInstrument deletes an instrument while its scenario is still editable.
func (s *Service) RemoveInstrument(ctx context.Context, instrumentID string) error {
	in, err := s.store.GetInstrument(ctx, instrumentID)
	if err != nil {
		return err
	}
	sc, err := s.store.GetScenario(ctx, in.ScenarioID)
	if err != nil {
		return err
	}
	if !editable(sc.Status) {
		return ErrScenarioLocked
	}
	return s.store.DeleteInstrument(ctx, instrumentID)
}

func editable(status model.ScenarioStatus) bool {
	return status == model.ScenarioDraft || status == model.ScenarioScheduled
}

// Transition advances a scenario's status. Transitions are admin-triggered
// and unconditional apart from monotonicity.
func (s *Service) Transition(ctx context.Context, scenarioID string, target model.ScenarioStatus) (*model.Scenario, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, target)
	}
	sc, err := s.store.GetScenario(ctx, scenarioID)
	if err != nil {
		return nil, err
	}
	if !sc.Status.CanAdvanceTo(target) {
		return nil, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, sc.Status, target)
	}
	if err := s.store.UpdateScenarioStatus(ctx, scenarioID, target); err != nil {
		return nil, err
	}
	sc.Status = target
	return sc, nil
}

// ExtendEnd pushes a live scenario's end time out. Shortening is not
// allowed; closing early is a status transition.
func (s *Service) ExtendEnd(ctx context.Context, scenarioID string, endAt time.Time) (*model.Scenario, error) {
	sc, err := s.store.GetScenario(ctx, scenarioID)
	if err != nil {
		return nil, err
	}
	if sc.Status != model.ScenarioLive {
		return nil, ErrNotExtendable
	}
	if !endAt.After(sc.EndAt) {
		return nil, fmt.Errorf("%w: new end %s is not after current end %s", ErrInvalidScenario, endAt, sc.EndAt)
	}
	if err := s.store.UpdateScenarioEnd(ctx, scenarioID, endAt.UTC()); err != nil {
		return nil, err
	}
	sc.EndAt = endAt.UTC()
	return sc, nil
}

// InitializePlayer creates the player's state for a scenario, seeded with
// the scenario's initial cash. Idempotent: an existing state is returned
// unchanged, so re-joining never resets a balance. Position rows are created
// lazily on first trade.
func (s *Service) InitializePlayer(ctx context.Context, scenarioID, userID string) (*model.PlayerState, error) {
	sc, err := s.store.GetScenario(ctx, scenarioID)
	if err != nil {
		return nil, err
	}

	mu := s.locks.For(scenarioID, userID)
	mu.Lock()
	defer mu.Unlock()

	if ps, err := s.store.GetPlayerState(ctx, scenarioID, userID); err == nil {
		return ps, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	ps := &model.PlayerState{
		ScenarioID:    scenarioID,
		UserID:        userID,
		CashAvailable: sc.InitialCash,
		CashLocked:    decimal.Zero,
		InitializedAt: time.Now().UTC(),
	}
	if err := s.store.CreatePlayerState(ctx, ps); err != nil {
		// Lost a race with another instance; the existing row wins.
		if errors.Is(err, store.ErrExists) {
			return s.store.GetPlayerState(ctx, scenarioID, userID)
		}
		return nil, err
	}
	return ps, nil
}
