package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/investomania/trading-engine/internal/engine"
	"github.com/investomania/trading-engine/internal/model"
)

// PlaceOrderRequest is the JSON body for POST /orders.
type PlaceOrderRequest struct {
	ScenarioID   string          `json:"scenario_id"`
	InstrumentID string          `json:"scenario_stock_id"`
	UserID       string          `json:"user_id"`
	Side         model.OrderSide `json:"side"`
	Type         model.OrderType `json:"type"`
	Quantity     decimal.Decimal `json:"quantity"`
	LimitPrice   decimal.Decimal `json:"limit_price"`
}

// PlaceOrder handles POST /api/v1/orders.
func (s *Server) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req PlaceOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ScenarioID == "" || req.InstrumentID == "" || req.UserID == "" {
		writeError(w, "scenario_id, scenario_stock_id, and user_id are required", http.StatusBadRequest)
		return
	}
	if !req.Side.Valid() {
		writeError(w, "side must be buy or sell", http.StatusBadRequest)
		return
	}
	if !req.Type.Valid() {
		writeError(w, "type must be market or limit", http.StatusBadRequest)
		return
	}

	order, err := s.engine.PlaceOrder(r.Context(), engine.PlaceOrderParams{
		ScenarioID:   req.ScenarioID,
		UserID:       req.UserID,
		InstrumentID: req.InstrumentID,
		Side:         req.Side,
		Type:         req.Type,
		Quantity:     req.Quantity,
		LimitPrice:   req.LimitPrice,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// CancelOrder handles POST /api/v1/orders/{orderID}/cancel.
func (s *Server) CancelOrder(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	order, err := s.engine.CancelOrder(r.Context(), uid, chi.URLParam(r, "orderID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// GetPortfolio handles GET /api/v1/scenarios/{scenarioID}/portfolio.
func (s *Server) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	v, err := s.valuation.Valuate(r.Context(), chi.URLParam(r, "scenarioID"), uid)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// GetPlayerState handles GET /api/v1/scenarios/{scenarioID}/player-state.
func (s *Server) GetPlayerState(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	ps, err := s.store.GetPlayerState(r.Context(), chi.URLParam(r, "scenarioID"), uid)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

// ListPositions handles GET /api/v1/scenarios/{scenarioID}/positions.
func (s *Server) ListPositions(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	positions, err := s.store.ListPositions(r.Context(), chi.URLParam(r, "scenarioID"), uid)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

// ListOrders handles GET /api/v1/scenarios/{scenarioID}/orders.
func (s *Server) ListOrders(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	orders, err := s.store.ListOrders(r.Context(), chi.URLParam(r, "scenarioID"), uid)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// ListTrades handles GET /api/v1/scenarios/{scenarioID}/trades.
func (s *Server) ListTrades(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	trades, err := s.store.ListTrades(r.Context(), chi.URLParam(r, "scenarioID"), uid)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trades)
}

// LatestPrices handles GET /api/v1/scenarios/{scenarioID}/prices: the most
// recent tick per instrument, keyed by instrument ID.
func (s *Server) LatestPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := s.store.LatestPriceTicks(r.Context(), chi.URLParam(r, "scenarioID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prices)
}

// ListTicks handles GET /api/v1/instruments/{instrumentID}/ticks.
func (s *Server) ListTicks(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, "limit must be between 1 and 1000", http.StatusBadRequest)
			return
		}
		limit = n
	}

	ticks, err := s.store.ListPriceTicks(r.Context(), chi.URLParam(r, "instrumentID"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticks)
}

// SimulateTick handles POST /api/v1/instruments/{instrumentID}/tick: force
// one price step outside the scheduler cadence.
func (s *Server) SimulateTick(w http.ResponseWriter, r *http.Request) {
	in, err := s.store.GetInstrument(r.Context(), chi.URLParam(r, "instrumentID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	tick := s.pricegen.Tick(r.Context(), in)
	writeJSON(w, http.StatusCreated, tick)
}
