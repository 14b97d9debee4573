// Package api exposes the trading engine over HTTP. Handlers are thin: they
// decode requests, call the services, and translate service errors to HTTP
// statuses. User identity is explicit in every request (body field or
// user_id query parameter); there is no ambient authentication here.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/investomania/trading-engine/internal/engine"
	"github.com/investomania/trading-engine/internal/metrics"
	"github.com/investomania/trading-engine/internal/pricegen"
	"github.com/investomania/trading-engine/internal/session"
	"github.com/investomania/trading-engine/internal/store"
	"github.com/investomania/trading-engine/internal/stream"
	"github.com/investomania/trading-engine/internal/valuation"
)

// Server wires the services behind the HTTP surface.
type Server struct {
	store     store.Store
	engine    *engine.Service
	session   *session.Service
	valuation *valuation.Service
	pricegen  *pricegen.Generator
	hub       *stream.Hub
}

// NewServer creates the HTTP server facade.
func NewServer(st store.Store, eng *engine.Service, sess *session.Service, val *valuation.Service, gen *pricegen.Generator, hub *stream.Hub) *Server {
	return &Server{
		store:     st,
		engine:    eng,
		session:   sess,
		valuation: val,
		pricegen:  gen,
		hub:       hub,
	}
}

// Router builds the chi router with the full middleware stack and all routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"trading-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time price and trade events.
		r.Get("/ws", s.hub.HandleWS)

		// Scenario management.
		r.Post("/scenarios", s.CreateScenario)
		r.Post("/scenarios/seed", s.SeedScenario)
		r.Get("/scenarios", s.ListScenarios)
		r.Get("/scenarios/{scenarioID}", s.GetScenario)
		r.Post("/scenarios/{scenarioID}/status", s.TransitionScenario)
		r.Post("/scenarios/{scenarioID}/extend", s.ExtendScenario)
		r.Post("/scenarios/{scenarioID}/instruments", s.AddInstrument)
		r.Delete("/instruments/{instrumentID}", s.RemoveInstrument)

		// Player lifecycle.
		r.Post("/scenarios/{scenarioID}/join", s.JoinScenario)

		// Trading.
		r.Post("/orders", s.PlaceOrder)
		r.Post("/orders/{orderID}/cancel", s.CancelOrder)

		// Player projections.
		r.Get("/scenarios/{scenarioID}/portfolio", s.GetPortfolio)
		r.Get("/scenarios/{scenarioID}/player-state", s.GetPlayerState)
		r.Get("/scenarios/{scenarioID}/positions", s.ListPositions)
		r.Get("/scenarios/{scenarioID}/orders", s.ListOrders)
		r.Get("/scenarios/{scenarioID}/trades", s.ListTrades)

		// Prices.
		r.Get("/scenarios/{scenarioID}/prices", s.LatestPrices)
		r.Get("/instruments/{instrumentID}/ticks", s.ListTicks)
		r.Post("/instruments/{instrumentID}/tick", s.SimulateTick)
	})

	return r
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeServiceError maps a service error to an HTTP response. Rejections
// additionally carry a machine-readable reason field.
func writeServiceError(w http.ResponseWriter, err error) {
	var rej *engine.RejectError
	if errors.As(err, &rej) {
		status := http.StatusConflict
		if rej.Reason == engine.ReasonInvalidQuantity || rej.Reason == engine.ReasonInvalidPrice {
			status = http.StatusBadRequest
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]string{
			"error":  err.Error(),
			"reason": string(rej.Reason),
		})
		return
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, store.ErrExists),
		errors.Is(err, store.ErrConflict):
		writeError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, session.ErrInvalidScenario):
		writeError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrScenarioLocked),
		errors.Is(err, session.ErrNotExtendable),
		errors.Is(err, engine.ErrOrderTerminal),
		errors.Is(err, engine.ErrRetriesExhausted):
		writeError(w, err.Error(), http.StatusConflict)
	default:
		writeError(w, "internal error", http.StatusInternalServerError)
	}
}

// userID extracts the required user_id query parameter.
func userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	uid := r.URL.Query().Get("user_id")
	if uid == "" {
		writeError(w, "user_id is required", http.StatusBadRequest)
		return "", false
	}
	return uid, true
}
