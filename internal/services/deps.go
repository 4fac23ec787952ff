package services

import (
	"context"
	"fmt"
	"time"

	"github.com/marketbrief/marketbrief/internal/marketdata"
	"github.com/marketbrief/marketbrief/internal/models"
)

// External collaborators of the pipeline stages. Production wiring
// lives in internal/gcp and internal/render; tests substitute fakes.

// ObjectStore is a durable put-by-key blob sink. Writes must be safe to
// repeat (the GCS implementation treats an already-existing object as
// success).
type ObjectStore interface {
	Put(ctx context.Context, objectName, contentType string, data []byte) (string, error)
}

// EventBus carries the fire-and-forget signals between stages.
type EventBus interface {
	PublishIngestCompleted(ctx context.Context, ev models.IngestCompletedEvent) error
	PublishReportsReady(ctx context.Context, ev models.ReportsReadyEvent) error
}

// ReportGenerator is the opaque synthesis function: bars in, report
// body and structured metadata out.
type ReportGenerator interface {
	Generate(ctx context.Context, inst models.Instrument, bars []marketdata.Bar) (string, []byte, error)
}

// DocumentRenderer turns a completed report into document bytes. The
// context bounds one document's render; implementations must stop work
// once it is done.
type DocumentRenderer interface {
	Render(ctx context.Context, rep models.Report) ([]byte, error)
}

// Queue is the durable on-demand job queue with bounded-retry and
// dead-letter semantics.
type Queue interface {
	Enqueue(ctx context.Context, job models.JobRequest) error
	Consume(ctx context.Context, workers int, process func(context.Context, models.JobRequest) error) error
}

// Cache is the read path's report cache.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// SynthesisError marks a per-entity synthesis failure. The report row,
// if one was created, has been moved to failed.
type SynthesisError struct {
	Ticker string
	Err    error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesize %s: %v", e.Ticker, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// RenderError marks a per-row render failure. The row's document path
// stays unset, so the next renderer invocation picks it up again.
type RenderError struct {
	Ticker string
	Date   string
	Err    error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s/%s: %v", e.Ticker, e.Date, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }
