// Package sched runs the background jobs of the trading engine: the price
// tick loop for live scenarios and the scenario lifecycle sweep that moves
// scheduled scenarios live at their start time and closes them at their end
// time.
package sched

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/investomania/trading-engine/internal/metrics"
	"github.com/investomania/trading-engine/internal/model"
	"github.com/investomania/trading-engine/internal/pricegen"
	"github.com/investomania/trading-engine/internal/session"
	"github.com/investomania/trading-engine/internal/store"
)

// Scheduler drives price generation and scenario lifecycle on cron cadence.
type Scheduler struct {
	cron    *cron.Cron
	store   store.Store
	gen     *pricegen.Generator
	session *session.Service
	baseCtx context.Context
}

// New creates a scheduler. tickInterval sets the price generation cadence;
// the lifecycle sweep runs every 30 seconds regardless.
func New(ctx context.Context, st store.Store, gen *pricegen.Generator, sess *session.Service, tickInterval time.Duration) (*Scheduler, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	s := &Scheduler{
		cron:    cron.New(),
		store:   st,
		gen:     gen,
		session: sess,
		baseCtx: ctx,
	}

	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", tickInterval), func() {
		s.tickLiveScenarios(s.baseCtx)
	}); err != nil {
		return nil, err
	}
	if _, err := s.cron.AddFunc("@every 30s", func() {
		s.sweepLifecycle(s.baseCtx)
	}); err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	slog.Info("scheduler started")
	s.cron.Start()
}

// Stop halts job scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("scheduler stopped")
}

// tickLiveScenarios generates one price tick for every instrument of every
// live scenario.
func (s *Scheduler) tickLiveScenarios(ctx context.Context) {
	scenarios, err := s.store.ListScenarios(ctx)
	if err != nil {
		slog.Error("tick sweep: listing scenarios failed", "err", err)
		return
	}

	live := 0
	now := time.Now().UTC()
	for _, sc := range scenarios {
		if sc.Status != model.ScenarioLive {
			continue
		}
		live++
		if !sc.Tradable(now) {
			continue // live but outside its window; lifecycle sweep will close it
		}
		instruments, err := s.store.ListInstruments(ctx, sc.ID)
		if err != nil {
			slog.Error("tick sweep: listing instruments failed", "scenario", sc.ID, "err", err)
			continue
		}
		for i := range instruments {
			s.gen.Tick(ctx, &instruments[i])
		}
	}
	metrics.LiveScenarios.Set(float64(live))
}

// sweepLifecycle advances scenario statuses on the clock: scheduled
// scenarios go live at their start time, live scenarios close at their end
// time.
func (s *Scheduler) sweepLifecycle(ctx context.Context) {
	scenarios, err := s.store.ListScenarios(ctx)
	if err != nil {
		slog.Error("lifecycle sweep: listing scenarios failed", "err", err)
		return
	}

	now := time.Now().UTC()
	for _, sc := range scenarios {
		switch {
		case sc.Status == model.ScenarioScheduled && !now.Before(sc.StartAt):
			if _, err := s.session.Transition(ctx, sc.ID, model.ScenarioLive); err != nil {
				slog.Error("lifecycle sweep: going live failed", "scenario", sc.ID, "err", err)
				continue
			}
			slog.Info("scenario went live", "scenario", sc.ID, "title", sc.Title)

		case sc.Status == model.ScenarioLive && !now.Before(sc.EndAt):
			if _, err := s.session.Transition(ctx, sc.ID, model.ScenarioClosed); err != nil {
				slog.Error("lifecycle sweep: closing failed", "scenario", sc.ID, "err", err)
				continue
			}
			slog.Info("scenario closed", "scenario", sc.ID, "title", sc.Title)
		}
	}
}
