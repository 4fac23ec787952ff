package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marketbrief/marketbrief/internal/logger"
	"github.com/marketbrief/marketbrief/internal/marketdata"
	"github.com/marketbrief/marketbrief/internal/models"
	"github.com/marketbrief/marketbrief/internal/registry"
	"github.com/marketbrief/marketbrief/internal/store"
)

// IngestorConfig tunes the ingest batch.
type IngestorConfig struct {
	FetchTimeout time.Duration
	Parallelism  int
	Location     *time.Location
}

// BatchResult is the aggregate outcome of one ingest run.
type BatchResult struct {
	Succeeded int
	Failed    int
}

// Ingestor is the first pipeline stage: for every registered
// instrument, fetch the latest daily bars and write them to the object
// store and the bars table. Instruments are processed in parallel and
// independently; a failed fetch is counted and logged, never retried
// within the run, and never blocks the rest of the batch.
type Ingestor struct {
	reg     *registry.Registry
	source  marketdata.Source
	store   *store.Store
	objects ObjectStore
	bus     EventBus
	config  IngestorConfig
	log     *logger.Logger
}

// NewIngestor wires the ingest stage.
func NewIngestor(reg *registry.Registry, source marketdata.Source, st *store.Store, objects ObjectStore, bus EventBus, cfg IngestorConfig, log *logger.Logger) *Ingestor {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 8
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Ingestor{
		reg:     reg,
		source:  source,
		store:   st,
		objects: objects,
		bus:     bus,
		config:  cfg,
		log:     log.With("stage", "ingest"),
	}
}

// Run executes one ingest batch over the full registry and fires the
// completion trigger. The trigger fires regardless of partial failures;
// only an unreachable store aborts the run before any work starts.
func (s *Ingestor) Run(ctx context.Context) (BatchResult, error) {
	if err := s.store.Ping(ctx); err != nil {
		s.log.Error("Store unreachable, aborting ingest run.", "error", err)
		return BatchResult{}, err
	}

	runAt := time.Now().In(s.config.Location)
	instruments := s.reg.All()
	s.log.Info("Starting ingest batch.", "instruments", len(instruments))

	var (
		mu     sync.Mutex
		result BatchResult
	)

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.config.Parallelism)
	for _, inst := range instruments {
		inst := inst
		eg.Go(func() error {
			bars, err := s.ingestOne(gctx, inst, runAt)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				s.log.Warn("Instrument ingest failed.", "ticker", inst.Symbol, "error", err)
				return nil // per-entity failures never abort the batch
			}
			result.Succeeded++
			s.log.Info("Instrument ingested.", "ticker", inst.Symbol, "bars", bars)
			return nil
		})
	}
	_ = eg.Wait()

	s.log.Info("Ingest batch complete.", "succeeded", result.Succeeded, "failed", result.Failed)

	ev := models.IngestCompletedEvent{
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
		RunAt:     runAt.Format(time.RFC3339),
	}
	if err := s.bus.PublishIngestCompleted(ctx, ev); err != nil {
		s.log.Error("Failed to publish ingest-completed event.", "error", err)
		return result, fmt.Errorf("publish ingest-completed: %w", err)
	}
	return result, nil
}

// ingestOne fetches one instrument and writes both sinks. The raw blob
// goes first; its timestamp-qualified key means repeat runs on the same
// day never overwrite each other.
func (s *Ingestor) ingestOne(ctx context.Context, inst models.Instrument, runAt time.Time) (int, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, s.config.FetchTimeout)
	defer cancel()

	bars, err := s.source.FetchDaily(fetchCtx, inst.Symbol)
	if err != nil {
		return 0, err
	}

	day := runAt.Format(models.DateLayout)
	raw, err := json.Marshal(map[string]interface{}{
		"ticker":    inst.Symbol,
		"fetchedAt": runAt.Format(time.RFC3339),
		"bars":      bars,
	})
	if err != nil {
		return 0, fmt.Errorf("marshal raw payload: %w", err)
	}

	key := models.RawObjectKey(inst.Symbol, day, runAt)
	if _, err := s.objects.Put(ctx, key, "application/json", raw); err != nil {
		return 0, fmt.Errorf("store raw blob: %w", err)
	}

	rows := make([]models.DailyBar, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, models.DailyBar{
			Ticker:    inst.Symbol,
			Day:       b.Day,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
			FetchedAt: runAt,
		})
	}
	if err := s.store.UpsertBars(ctx, rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}
