// Package store defines the persistence interface for the trading engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/investomania/trading-engine/internal/model"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrExists is returned when a unique constraint would be violated.
	ErrExists = errors.New("store: already exists")

	// ErrConflict is returned when a write lost a race with a concurrent
	// update. Callers re-validate and retry a bounded number of times.
	ErrConflict = errors.New("store: write conflict")
)

// Fill bundles the full set of ledger effects of one executed trade. Stores
// apply all of it atomically — order, trade, position, and cash update
// together or not at all.
type Fill struct {
	Order    *model.Order
	Trade    *model.Trade
	Position *model.Position
	State    *model.PlayerState
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer for hot reads.
type Store interface {
	// --- Scenarios ---

	// CreateScenario persists a new scenario.
	CreateScenario(ctx context.Context, sc *model.Scenario) error

	// GetScenario retrieves a scenario by ID.
	GetScenario(ctx context.Context, id string) (*model.Scenario, error)

	// ListScenarios returns all scenarios, newest first.
	ListScenarios(ctx context.Context) ([]model.Scenario, error)

	// UpdateScenarioStatus sets the scenario lifecycle status.
	UpdateScenarioStatus(ctx context.Context, id string, status model.ScenarioStatus) error

	// UpdateScenarioEnd extends the scenario end time.
	UpdateScenarioEnd(ctx context.Context, id string, endAt time.Time) error

	// --- Instruments ---

	// CreateInstrument adds an instrument to a scenario. The symbol must be
	// unique within the scenario (ErrExists otherwise).
	CreateInstrument(ctx context.Context, in *model.Instrument) error

	// GetInstrument retrieves an instrument by ID.
	GetInstrument(ctx context.Context, id string) (*model.Instrument, error)

	// ListInstruments returns a scenario's instruments.
	ListInstruments(ctx context.Context, scenarioID string) ([]model.Instrument, error)

	// DeleteInstrument removes an instrument (only while the scenario is
	// editable; the session service enforces that).
	DeleteInstrument(ctx context.Context, id string) error

	// --- Price ticks (append-only) ---

	// InsertPriceTick appends a tick for an instrument.
	InsertPriceTick(ctx context.Context, tick *model.PriceTick) error

	// LatestPriceTick returns the most recent tick for an instrument.
	LatestPriceTick(ctx context.Context, instrumentID string) (*model.PriceTick, error)

	// LatestPriceTicks returns the most recent tick per instrument in a
	// scenario, keyed by instrument ID. Instruments without ticks are absent.
	LatestPriceTicks(ctx context.Context, scenarioID string) (map[string]model.PriceTick, error)

	// ListPriceTicks returns up to limit ticks for an instrument, newest first.
	ListPriceTicks(ctx context.Context, instrumentID string, limit int) ([]model.PriceTick, error)

	// --- Player state ---

	// CreatePlayerState persists a freshly initialized player state.
	// Returns ErrExists if the (scenario, user) pair is already initialized.
	CreatePlayerState(ctx context.Context, ps *model.PlayerState) error

	// GetPlayerState retrieves a player's state in one scenario.
	GetPlayerState(ctx context.Context, scenarioID, userID string) (*model.PlayerState, error)

	// --- Positions ---

	// GetPosition retrieves one holding. ErrNotFound for never-traded
	// instruments; zero-quantity rows persist and are returned.
	GetPosition(ctx context.Context, scenarioID, userID, instrumentID string) (*model.Position, error)

	// ListPositions returns all of a player's positions in a scenario.
	ListPositions(ctx context.Context, scenarioID, userID string) ([]model.Position, error)

	// --- Orders and trades ---

	// GetOrder retrieves an order by ID.
	GetOrder(ctx context.Context, id string) (*model.Order, error)

	// ListOrders returns a player's orders in a scenario, newest first.
	ListOrders(ctx context.Context, scenarioID, userID string) ([]model.Order, error)

	// ListTrades returns a player's trades in a scenario, newest first.
	ListTrades(ctx context.Context, scenarioID, userID string) ([]model.Trade, error)

	// ApplyFill persists the effects of one executed trade atomically.
	ApplyFill(ctx context.Context, fill *Fill) error

	// ReserveOrder persists a resting order together with the player state
	// carrying its cash reservation, atomically.
	ReserveOrder(ctx context.Context, order *model.Order, state *model.PlayerState) error

	// CancelOrder marks an order canceled and restores its reservation to
	// the player state, atomically.
	CancelOrder(ctx context.Context, order *model.Order, state *model.PlayerState) error
}
