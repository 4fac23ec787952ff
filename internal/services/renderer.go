package services

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marketbrief/marketbrief/internal/logger"
	"github.com/marketbrief/marketbrief/internal/models"
	"github.com/marketbrief/marketbrief/internal/store"
)

// RendererConfig tunes the rendering stage.
type RendererConfig struct {
	Timeout     time.Duration
	Parallelism int
	Location    *time.Location
}

// RenderResult is the aggregate outcome of one render run.
type RenderResult struct {
	Date     string
	Rendered int
	Skipped  int
	Failed   int
}

// Renderer is the third pipeline stage. On every trigger it recomputes
// its work list from the reports table — completed rows for the target
// date with no document yet — so it can be re-run arbitrarily: from a
// duplicate event, after a partial failure, or by hand. Rows that
// already have a document are never reprocessed.
type Renderer struct {
	store    *store.Store
	renderer DocumentRenderer
	objects  ObjectStore
	config   RendererConfig
	log      *logger.Logger
}

// NewRenderer wires the rendering stage.
func NewRenderer(st *store.Store, dr DocumentRenderer, objects ObjectStore, cfg RendererConfig, log *logger.Logger) *Renderer {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Renderer{
		store:    st,
		renderer: dr,
		objects:  objects,
		config:   cfg,
		log:      log.With("stage", "render"),
	}
}

// Run renders every outstanding report for the target date. Per-row
// failures leave that row's document path unset, keeping it eligible
// for the next invocation; they never block sibling rows.
func (s *Renderer) Run(ctx context.Context, target models.TargetDate) (RenderResult, error) {
	if err := s.store.Ping(ctx); err != nil {
		s.log.Error("Store unreachable, aborting render run.", "error", err)
		return RenderResult{}, err
	}

	date := target.Resolve(s.config.Location)
	rows, err := s.store.ListRenderable(ctx, date)
	if err != nil {
		s.log.Error("Failed to derive render work list.", "date", date, "error", err)
		return RenderResult{Date: date}, err
	}
	s.log.Info("Render work list derived.", "date", date, "outstanding", len(rows))

	var (
		mu     sync.Mutex
		result = RenderResult{Date: date}
	)

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.config.Parallelism)
	for _, row := range rows {
		row := row
		eg.Go(func() error {
			outcome := s.renderOne(gctx, row)
			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case renderDone:
				result.Rendered++
			case renderSkipped:
				result.Skipped++
			default:
				result.Failed++
			}
			return nil
		})
	}
	_ = eg.Wait()

	s.log.Info("Render run complete.",
		"date", date, "rendered", result.Rendered, "skipped", result.Skipped, "failed", result.Failed)
	return result, nil
}

type renderOutcome int

const (
	renderDone renderOutcome = iota
	renderSkipped
	renderFailed
)

// renderOne renders, uploads, then claims the row. The claim is a
// conditional update on a NULL document path: if a concurrent run won,
// the upload is discarded and the row is skipped. The upload itself is
// safe to repeat since both runs write the same key.
func (s *Renderer) renderOne(ctx context.Context, row models.Report) renderOutcome {
	renderCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	data, err := s.render(renderCtx, row)
	if err != nil {
		rerr := &RenderError{Ticker: row.Ticker, Date: row.ReportDate, Err: err}
		s.log.Warn("Document render failed, row stays eligible.", "ticker", row.Ticker, "error", rerr)
		return renderFailed
	}

	key := models.DocumentObjectKey(row.Ticker, row.ReportDate)
	uri, err := s.objects.Put(renderCtx, key, "application/pdf", data)
	if err != nil {
		s.log.Warn("Document upload failed, row stays eligible.",
			"ticker", row.Ticker, "key", key, "error", err)
		return renderFailed
	}

	claimed, err := s.store.ClaimRender(ctx, row.ID, uri, time.Now().In(s.config.Location))
	if err != nil {
		s.log.Warn("Render claim failed, row stays eligible.", "ticker", row.Ticker, "error", err)
		return renderFailed
	}
	if !claimed {
		s.log.Info("Row already rendered elsewhere, skipping.", "ticker", row.Ticker, "date", row.ReportDate)
		return renderSkipped
	}
	s.log.Info("Document rendered.", "ticker", row.Ticker, "date", row.ReportDate, "uri", uri)
	return renderDone
}

// render runs one document render under the per-unit deadline. The
// call is made on a separate goroutine so a renderer that ignores
// cancellation still cannot hold the worker slot past the deadline.
func (s *Renderer) render(ctx context.Context, row models.Report) ([]byte, error) {
	type rendered struct {
		data []byte
		err  error
	}
	done := make(chan rendered, 1)
	go func() {
		data, err := s.renderer.Render(ctx, row)
		done <- rendered{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		return res.data, res.err
	}
}
