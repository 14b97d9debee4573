package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/investomania/trading-engine/internal/model"
	"github.com/investomania/trading-engine/internal/session"
)

// CreateScenarioRequest is the JSON body for scenario creation.
type CreateScenarioRequest struct {
	Title       string          `json:"title"`
	Prompt      string          `json:"prompt"`
	InitialCash decimal.Decimal `json:"initial_cash"`
	StartAt     time.Time       `json:"start_at"`
	EndAt       time.Time       `json:"end_at"`
	AllowShort  bool            `json:"allow_short"`
}

// ScenarioResponse is a scenario projection with its instruments embedded.
type ScenarioResponse struct {
	model.Scenario
	Instruments []model.Instrument `json:"instruments"`
}

// CreateScenario handles POST /api/v1/scenarios.
func (s *Server) CreateScenario(w http.ResponseWriter, r *http.Request) {
	var req CreateScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sc, err := s.session.CreateScenario(r.Context(), session.ScenarioParams{
		Title:       req.Title,
		Prompt:      req.Prompt,
		InitialCash: req.InitialCash,
		StartAt:     req.StartAt,
		EndAt:       req.EndAt,
		AllowShort:  req.AllowShort,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sc)
}

// ListScenarios handles GET /api/v1/scenarios.
func (s *Server) ListScenarios(w http.ResponseWriter, r *http.Request) {
	scenarios, err := s.store.ListScenarios(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scenarios)
}

// GetScenario handles GET /api/v1/scenarios/{scenarioID}.
func (s *Server) GetScenario(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "scenarioID")
	sc, err := s.store.GetScenario(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	instruments, err := s.store.ListInstruments(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ScenarioResponse{Scenario: *sc, Instruments: instruments})
}

// TransitionRequest is the JSON body for a status change.
type TransitionRequest struct {
	Status model.ScenarioStatus `json:"status"`
}

// TransitionScenario handles POST /api/v1/scenarios/{scenarioID}/status.
func (s *Server) TransitionScenario(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sc, err := s.session.Transition(r.Context(), chi.URLParam(r, "scenarioID"), req.Status)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// ExtendRequest is the JSON body for pushing out a live scenario's end time.
type ExtendRequest struct {
	EndAt time.Time `json:"end_at"`
}

// ExtendScenario handles POST /api/v1/scenarios/{scenarioID}/extend.
func (s *Server) ExtendScenario(w http.ResponseWriter, r *http.Request) {
	var req ExtendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	sc, err := s.session.ExtendEnd(r.Context(), chi.URLParam(r, "scenarioID"), req.EndAt)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// AddInstrumentRequest is the JSON body for adding an instrument.
type AddInstrumentRequest struct {
	Symbol        string          `json:"symbol"`
	DisplayName   string          `json:"display_name"`
	StartingPrice decimal.Decimal `json:"starting_price"`
	PriceMode     string          `json:"price_mode"`
}

// AddInstrument handles POST /api/v1/scenarios/{scenarioID}/instruments.
func (s *Server) AddInstrument(w http.ResponseWriter, r *http.Request) {
	var req AddInstrumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	in, err := s.session.AddInstrument(r.Context(), chi.URLParam(r, "scenarioID"), session.InstrumentParams{
		Symbol:        req.Symbol,
		DisplayName:   req.DisplayName,
		StartingPrice: req.StartingPrice,
		PriceMode:     req.PriceMode,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, in)
}

// RemoveInstrument handles DELETE /api/v1/instruments/{instrumentID}.
func (s *Server) RemoveInstrument(w http.ResponseWriter, r *http.Request) {
	if err := s.session.RemoveInstrument(r.Context(), chi.URLParam(r, "instrumentID")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SeedScenario handles POST /api/v1/scenarios/seed: a development shortcut
// that creates a scenario with three priced instruments, already scheduled.
func (s *Server) SeedScenario(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	sc, err := s.session.CreateScenario(r.Context(), session.ScenarioParams{
		Title:       "Tech Bubble 2000",
		Prompt:      "The year is 2000. Dot-com valuations are at all-time highs.",
		InitialCash: decimal.NewFromInt(10000),
		StartAt:     now,
		EndAt:       now.Add(time.Hour),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	seeds := []session.InstrumentParams{
		{Symbol: "PETS", DisplayName: "Pets.com", StartingPrice: decimal.NewFromInt(11)},
		{Symbol: "WBVN", DisplayName: "Webvan", StartingPrice: decimal.NewFromInt(25)},
		{Symbol: "BOO", DisplayName: "Boo.com", StartingPrice: decimal.NewFromInt(8)},
	}
	instruments := make([]model.Instrument, 0, len(seeds))
	for _, p := range seeds {
		in, err := s.session.AddInstrument(r.Context(), sc.ID, p)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		instruments = append(instruments, *in)
	}

	if _, err := s.session.Transition(r.Context(), sc.ID, model.ScenarioScheduled); err != nil {
		writeServiceError(w, err)
		return
	}
	sc.Status = model.ScenarioScheduled

	writeJSON(w, http.StatusCreated, ScenarioResponse{Scenario: *sc, Instruments: instruments})
}

// JoinScenario handles POST /api/v1/scenarios/{scenarioID}/join. Idempotent:
// re-joining returns the existing state untouched.
func (s *Server) JoinScenario(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(w, r)
	if !ok {
		return
	}

	ps, err := s.session.InitializePlayer(r.Context(), chi.URLParam(r, "scenarioID"), uid)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ps)
}
