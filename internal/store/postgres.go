package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/investomania/trading-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// mapPgError translates driver errors into the store sentinel errors.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return ErrExists
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return ErrConflict
		}
	}
	return err
}

// --- Scenarios ---

func (s *PostgresStore) CreateScenario(ctx context.Context, sc *model.Scenario) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scenarios (id, title, prompt, initial_cash, start_at, end_at, allow_short, status, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8, $9)`,
		sc.ID, sc.Title, sc.Prompt, sc.InitialCash.String(),
		sc.StartAt, sc.EndAt, sc.AllowShort, string(sc.Status), sc.CreatedAt,
	)
	return mapPgError(err)
}

func scanScenario(row pgx.Row) (*model.Scenario, error) {
	var sc model.Scenario
	var initialCash, status string

	err := row.Scan(&sc.ID, &sc.Title, &sc.Prompt, &initialCash,
		&sc.StartAt, &sc.EndAt, &sc.AllowShort, &status, &sc.CreatedAt)
	if err != nil {
		return nil, err
	}
	sc.InitialCash, _ = decimal.NewFromString(initialCash)
	sc.Status = model.ScenarioStatus(status)
	return &sc, nil
}

const scenarioColumns = `id, title, prompt, initial_cash::TEXT, start_at, end_at, allow_short, status, created_at`

func (s *PostgresStore) GetScenario(ctx context.Context, id string) (*model.Scenario, error) {
	sc, err := scanScenario(s.pool.QueryRow(ctx,
		`SELECT `+scenarioColumns+` FROM scenarios WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get scenario %s: %w", id, mapPgError(err))
	}
	return sc, nil
}

func (s *PostgresStore) ListScenarios(ctx context.Context) ([]model.Scenario, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+scenarioColumns+` FROM scenarios ORDER BY created_at DESC`)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var out []model.Scenario
	for rows.Next() {
		sc, err := scanScenario(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateScenarioStatus(ctx context.Context, id string, status model.ScenarioStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scenarios SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("scenario %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) UpdateScenarioEnd(ctx context.Context, id string, endAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scenarios SET end_at = $2 WHERE id = $1`, id, endAt)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("scenario %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Instruments ---

const instrumentColumns = `id, scenario_id, symbol, display_name, starting_price::TEXT, price_mode, created_at`

func scanInstrument(row pgx.Row) (*model.Instrument, error) {
	var in model.Instrument
	var startingPrice string

	err := row.Scan(&in.ID, &in.ScenarioID, &in.Symbol, &in.DisplayName,
		&startingPrice, &in.PriceMode, &in.CreatedAt)
	if err != nil {
		return nil, err
	}
	in.StartingPrice, _ = decimal.NewFromString(startingPrice)
	return &in, nil
}

func (s *PostgresStore) CreateInstrument(ctx context.Context, in *model.Instrument) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scenario_stocks (id, scenario_id, symbol, display_name, starting_price, price_mode, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7)`,
		in.ID, in.ScenarioID, in.Symbol, in.DisplayName,
		in.StartingPrice.String(), in.PriceMode, in.CreatedAt,
	)
	return mapPgError(err)
}

func (s *PostgresStore) GetInstrument(ctx context.Context, id string) (*model.Instrument, error) {
	in, err := scanInstrument(s.pool.QueryRow(ctx,
		`SELECT `+instrumentColumns+` FROM scenario_stocks WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get instrument %s: %w", id, mapPgError(err))
	}
	return in, nil
}

func (s *PostgresStore) ListInstruments(ctx context.Context, scenarioID string) ([]model.Instrument, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+instrumentColumns+` FROM scenario_stocks WHERE scenario_id = $1 ORDER BY symbol`, scenarioID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var out []model.Instrument
	for rows.Next() {
		in, err := scanInstrument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *in)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteInstrument(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scenario_stocks WHERE id = $1`, id)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("instrument %s: %w", id, ErrNotFound)
	}
	return nil
}

// --- Price ticks ---

func (s *PostgresStore) InsertPriceTick(ctx context.Context, tick *model.PriceTick) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_ticks (id, scenario_stock_id, ts, price)
		 VALUES ($1, $2, $3, $4::NUMERIC)`,
		tick.ID, tick.InstrumentID, tick.TS, tick.Price.String(),
	)
	return mapPgError(err)
}

func (s *PostgresStore) LatestPriceTick(ctx context.Context, instrumentID string) (*model.PriceTick, error) {
	var t model.PriceTick
	var price string

	err := s.pool.QueryRow(ctx,
		`SELECT id, scenario_stock_id, ts, price::TEXT
		 FROM price_ticks WHERE scenario_stock_id = $1
		 ORDER BY ts DESC LIMIT 1`, instrumentID).
		Scan(&t.ID, &t.InstrumentID, &t.TS, &price)
	if err != nil {
		return nil, fmt.Errorf("latest tick for %s: %w", instrumentID, mapPgError(err))
	}
	t.Price, _ = decimal.NewFromString(price)
	return &t, nil
}

func (s *PostgresStore) LatestPriceTicks(ctx context.Context, scenarioID string) (map[string]model.PriceTick, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT ON (pt.scenario_stock_id)
		        pt.id, pt.scenario_stock_id, pt.ts, pt.price::TEXT
		 FROM price_ticks pt
		 JOIN scenario_stocks ss ON ss.id = pt.scenario_stock_id
		 WHERE ss.scenario_id = $1
		 ORDER BY pt.scenario_stock_id, pt.ts DESC`, scenarioID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	out := make(map[string]model.PriceTick)
	for rows.Next() {
		var t model.PriceTick
		var price string
		if err := rows.Scan(&t.ID, &t.InstrumentID, &t.TS, &price); err != nil {
			return nil, err
		}
		t.Price, _ = decimal.NewFromString(price)
		out[t.InstrumentID] = t
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListPriceTicks(ctx context.Context, instrumentID string, limit int) ([]model.PriceTick, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, scenario_stock_id, ts, price::TEXT
		 FROM price_ticks WHERE scenario_stock_id = $1
		 ORDER BY ts DESC LIMIT $2`, instrumentID, limit)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var out []model.PriceTick
	for rows.Next() {
		var t model.PriceTick
		var price string
		if err := rows.Scan(&t.ID, &t.InstrumentID, &t.TS, &price); err != nil {
			return nil, err
		}
		t.Price, _ = decimal.NewFromString(price)
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- Player state ---

func (s *PostgresStore) CreatePlayerState(ctx context.Context, ps *model.PlayerState) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO player_scenario_state (scenario_id, user_id, cash_available, cash_locked, initialized_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5)`,
		ps.ScenarioID, ps.UserID,
		ps.CashAvailable.String(), ps.CashLocked.String(), ps.InitializedAt,
	)
	return mapPgError(err)
}

func (s *PostgresStore) GetPlayerState(ctx context.Context, scenarioID, userID string) (*model.PlayerState, error) {
	var ps model.PlayerState
	var avail, locked string

	err := s.pool.QueryRow(ctx,
		`SELECT scenario_id, user_id, cash_available::TEXT, cash_locked::TEXT, initialized_at
		 FROM player_scenario_state WHERE scenario_id = $1 AND user_id = $2`,
		scenarioID, userID).
		Scan(&ps.ScenarioID, &ps.UserID, &avail, &locked, &ps.InitializedAt)
	if err != nil {
		return nil, fmt.Errorf("player state %s/%s: %w", scenarioID, userID, mapPgError(err))
	}
	ps.CashAvailable, _ = decimal.NewFromString(avail)
	ps.CashLocked, _ = decimal.NewFromString(locked)
	return &ps, nil
}

// --- Positions ---

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var qty, avgCost, realized string

	err := row.Scan(&p.ScenarioID, &p.UserID, &p.InstrumentID, &qty, &avgCost, &realized)
	if err != nil {
		return nil, err
	}
	p.Quantity, _ = decimal.NewFromString(qty)
	p.AvgCost, _ = decimal.NewFromString(avgCost)
	p.RealizedPnL, _ = decimal.NewFromString(realized)
	return &p, nil
}

const positionColumns = `scenario_id, user_id, scenario_stock_id, quantity::TEXT, avg_cost::TEXT, realized_pnl::TEXT`

func (s *PostgresStore) GetPosition(ctx context.Context, scenarioID, userID, instrumentID string) (*model.Position, error) {
	p, err := scanPosition(s.pool.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE scenario_id = $1 AND user_id = $2 AND scenario_stock_id = $3`,
		scenarioID, userID, instrumentID))
	if err != nil {
		return nil, fmt.Errorf("position %s/%s/%s: %w", scenarioID, userID, instrumentID, mapPgError(err))
	}
	return p, nil
}

func (s *PostgresStore) ListPositions(ctx context.Context, scenarioID, userID string) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE scenario_id = $1 AND user_id = $2 ORDER BY scenario_stock_id`,
		scenarioID, userID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var out []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// --- Orders and trades ---

const orderColumns = `id, scenario_id, user_id, scenario_stock_id, side, type,
        quantity::TEXT, limit_price::TEXT, status, filled_qty::TEXT, avg_fill_price::TEXT, created_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var o model.Order
	var side, typ, status string
	var qty, limitPrice, filledQty, avgFill string

	err := row.Scan(&o.ID, &o.ScenarioID, &o.UserID, &o.InstrumentID,
		&side, &typ, &qty, &limitPrice, &status, &filledQty, &avgFill, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	o.Side = model.OrderSide(side)
	o.Type = model.OrderType(typ)
	o.Status = model.OrderStatus(status)
	o.Quantity, _ = decimal.NewFromString(qty)
	o.LimitPrice, _ = decimal.NewFromString(limitPrice)
	o.FilledQty, _ = decimal.NewFromString(filledQty)
	o.AvgFillPrice, _ = decimal.NewFromString(avgFill)
	return &o, nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, mapPgError(err))
	}
	return o, nil
}

func (s *PostgresStore) ListOrders(ctx context.Context, scenarioID, userID string) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE scenario_id = $1 AND user_id = $2 ORDER BY created_at DESC`,
		scenarioID, userID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListTrades(ctx context.Context, scenarioID, userID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, order_id, scenario_id, user_id, scenario_stock_id, qty::TEXT, price::TEXT, ts
		 FROM trades WHERE scenario_id = $1 AND user_id = $2 ORDER BY ts DESC`,
		scenarioID, userID)
	if err != nil {
		return nil, mapPgError(err)
	}
	defer rows.Close()

	var out []model.Trade
	for rows.Next() {
		var t model.Trade
		var qty, price string
		if err := rows.Scan(&t.ID, &t.OrderID, &t.ScenarioID, &t.UserID,
			&t.InstrumentID, &qty, &price, &t.TS); err != nil {
			return nil, err
		}
		t.Qty, _ = decimal.NewFromString(qty)
		t.Price, _ = decimal.NewFromString(price)
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- Atomic mutations ---

func upsertOrder(ctx context.Context, tx pgx.Tx, o *model.Order) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO orders (id, scenario_id, user_id, scenario_stock_id, side, type,
		                     quantity, limit_price, status, filled_qty, avg_fill_price, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9, $10::NUMERIC, $11::NUMERIC, $12)
		 ON CONFLICT (id) DO UPDATE
		 SET status = EXCLUDED.status,
		     filled_qty = EXCLUDED.filled_qty,
		     avg_fill_price = EXCLUDED.avg_fill_price`,
		o.ID, o.ScenarioID, o.UserID, o.InstrumentID, string(o.Side), string(o.Type),
		o.Quantity.String(), o.LimitPrice.String(), string(o.Status),
		o.FilledQty.String(), o.AvgFillPrice.String(), o.CreatedAt,
	)
	return err
}

func updatePlayerState(ctx context.Context, tx pgx.Tx, ps *model.PlayerState) error {
	_, err := tx.Exec(ctx,
		`UPDATE player_scenario_state
		 SET cash_available = $3::NUMERIC, cash_locked = $4::NUMERIC
		 WHERE scenario_id = $1 AND user_id = $2`,
		ps.ScenarioID, ps.UserID, ps.CashAvailable.String(), ps.CashLocked.String(),
	)
	return err
}

// ApplyFill persists order, trade, position, and cash effects in a single
// serializable transaction so the conservation invariant is never observed
// broken.
func (s *PostgresStore) ApplyFill(ctx context.Context, fill *Fill) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return mapPgError(err)
	}
	defer tx.Rollback(ctx)

	if err := upsertOrder(ctx, tx, fill.Order); err != nil {
		return mapPgError(err)
	}

	t := fill.Trade
	if _, err := tx.Exec(ctx,
		`INSERT INTO trades (id, order_id, scenario_id, user_id, scenario_stock_id, qty, price, ts)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8)`,
		t.ID, t.OrderID, t.ScenarioID, t.UserID, t.InstrumentID,
		t.Qty.String(), t.Price.String(), t.TS,
	); err != nil {
		return mapPgError(err)
	}

	p := fill.Position
	if _, err := tx.Exec(ctx,
		`INSERT INTO positions (scenario_id, user_id, scenario_stock_id, quantity, avg_cost, realized_pnl)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC)
		 ON CONFLICT (scenario_id, user_id, scenario_stock_id) DO UPDATE
		 SET quantity = EXCLUDED.quantity,
		     avg_cost = EXCLUDED.avg_cost,
		     realized_pnl = EXCLUDED.realized_pnl`,
		p.ScenarioID, p.UserID, p.InstrumentID,
		p.Quantity.String(), p.AvgCost.String(), p.RealizedPnL.String(),
	); err != nil {
		return mapPgError(err)
	}

	if err := updatePlayerState(ctx, tx, fill.State); err != nil {
		return mapPgError(err)
	}

	return mapPgError(tx.Commit(ctx))
}

func (s *PostgresStore) ReserveOrder(ctx context.Context, order *model.Order, state *model.PlayerState) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return mapPgError(err)
	}
	defer tx.Rollback(ctx)

	if err := upsertOrder(ctx, tx, order); err != nil {
		return mapPgError(err)
	}
	if err := updatePlayerState(ctx, tx, state); err != nil {
		return mapPgError(err)
	}
	return mapPgError(tx.Commit(ctx))
}

func (s *PostgresStore) CancelOrder(ctx context.Context, order *model.Order, state *model.PlayerState) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return mapPgError(err)
	}
	defer tx.Rollback(ctx)

	if err := upsertOrder(ctx, tx, order); err != nil {
		return mapPgError(err)
	}
	if err := updatePlayerState(ctx, tx, state); err != nil {
		return mapPgError(err)
	}
	return mapPgError(tx.Commit(ctx))
}
