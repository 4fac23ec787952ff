package services

import (
	"context"
	"fmt"
	"time"

	"github.com/marketbrief/marketbrief/internal/logger"
	"github.com/marketbrief/marketbrief/internal/marketdata"
	"github.com/marketbrief/marketbrief/internal/models"
	"github.com/marketbrief/marketbrief/internal/registry"
	"github.com/marketbrief/marketbrief/internal/store"
)

// SynthesizerConfig tunes report synthesis.
type SynthesizerConfig struct {
	Timeout  time.Duration
	BarDays  int
	Location *time.Location
}

// Synthesizer is the second pipeline stage. It runs in two modes:
// batch mode over the whole registry, triggered by the ingest-completed
// event, and single-entity mode for an on-demand job request. Both
// modes funnel into the same idempotent upsert: at most one report row
// per (ticker, date), and a terminal row is never regenerated, which is
// what makes duplicate triggers and overlapping scheduled/manual runs
// safe.
type Synthesizer struct {
	reg       *registry.Registry
	store     *store.Store
	generator ReportGenerator
	bus       EventBus
	config    SynthesizerConfig
	log       *logger.Logger
}

// NewSynthesizer wires the synthesis stage.
func NewSynthesizer(reg *registry.Registry, st *store.Store, gen ReportGenerator, bus EventBus, cfg SynthesizerConfig, log *logger.Logger) *Synthesizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.BarDays <= 0 {
		cfg.BarDays = 30
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Synthesizer{
		reg:       reg,
		store:     st,
		generator: gen,
		bus:       bus,
		config:    cfg,
		log:       log.With("stage", "synthesis"),
	}
}

// RunBatch synthesizes today's report for every registered instrument,
// then wakes the rendering stage. Per-entity failures mark that row
// failed and the loop moves on; the wake event carries no per-entity
// detail because the renderer re-derives its own work list.
func (s *Synthesizer) RunBatch(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		s.log.Error("Store unreachable, aborting synthesis run.", "error", err)
		return err
	}

	date := time.Now().In(s.config.Location).Format(models.DateLayout)
	var failed int
	for _, inst := range s.reg.All() {
		if err := s.synthesize(ctx, inst, date); err != nil {
			failed++
			s.log.Warn("Report synthesis failed.", "ticker", inst.Symbol, "date", date, "error", err)
		}
	}
	s.log.Info("Synthesis batch complete.", "date", date, "failed", failed)

	if err := s.bus.PublishReportsReady(ctx, models.ReportsReadyEvent{}); err != nil {
		s.log.Error("Failed to publish reports-ready event.", "error", err)
		return fmt.Errorf("publish reports-ready: %w", err)
	}
	return nil
}

// SynthesizeOne handles an on-demand job for a single ticker. An
// unknown ticker is dropped rather than retried: redelivery cannot fix
// a request the registry does not know.
func (s *Synthesizer) SynthesizeOne(ctx context.Context, ticker string) error {
	inst, ok := s.reg.Lookup(ticker)
	if !ok {
		s.log.Warn("Ignoring job for unregistered ticker.", "ticker", ticker)
		return nil
	}
	if err := s.store.Ping(ctx); err != nil {
		return err
	}
	date := time.Now().In(s.config.Location).Format(models.DateLayout)
	return s.synthesize(ctx, inst, date)
}

// synthesize upserts the report row for (instrument, date) and fills it
// in. The row is created pending first; if some other run already took
// it to a terminal state, this run is a no-op.
func (s *Synthesizer) synthesize(ctx context.Context, inst models.Instrument, date string) error {
	row, err := s.store.CreateReportPending(ctx, inst.Symbol, date)
	if err != nil {
		return err
	}
	if row == nil {
		return fmt.Errorf("report row for %s/%s missing after upsert", inst.Symbol, date)
	}
	if row.Terminal() {
		s.log.Info("Report already synthesized, skipping.",
			"ticker", inst.Symbol, "date", date, "status", row.Status)
		return nil
	}

	bars, err := s.store.RecentBars(ctx, inst.Symbol, s.config.BarDays)
	if err != nil {
		return err
	}
	if len(bars) == 0 {
		return s.fail(ctx, row, inst.Symbol, fmt.Errorf("no historical bars"))
	}

	genCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	body, metadata, err := s.generator.Generate(genCtx, inst, toGeneratorBars(bars))
	if err != nil {
		return s.fail(ctx, row, inst.Symbol, err)
	}

	ok, err := s.store.CompleteReport(ctx, row.ID, body, metadata)
	if err != nil {
		return err
	}
	if !ok {
		// A concurrent run reached a terminal state first. Its outcome
		// stands; dropping ours preserves at-most-once synthesis.
		s.log.Info("Report completed elsewhere, discarding result.",
			"ticker", inst.Symbol, "date", date)
		return nil
	}
	s.log.Info("Report synthesized.", "ticker", inst.Symbol, "date", date)
	return nil
}

func (s *Synthesizer) fail(ctx context.Context, row *models.Report, ticker string, cause error) error {
	if _, err := s.store.FailReport(ctx, row.ID, cause.Error()); err != nil {
		s.log.Error("Failed to mark report failed.", "ticker", ticker, "error", err)
	}
	return &SynthesisError{Ticker: ticker, Err: cause}
}

// toGeneratorBars converts stored rows to generator input. RecentBars
// returns newest-first; the generator expects oldest-first.
func toGeneratorBars(rows []models.DailyBar) []marketdata.Bar {
	out := make([]marketdata.Bar, len(rows))
	for i, r := range rows {
		out[len(rows)-1-i] = marketdata.Bar{
			Day:    r.Day,
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		}
	}
	return out
}
