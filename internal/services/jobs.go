package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/marketbrief/marketbrief/internal/logger"
	"github.com/marketbrief/marketbrief/internal/models"
	"github.com/marketbrief/marketbrief/internal/registry"
)

// Jobs is the on-demand path around the scheduled pipeline: a request
// is accepted onto the durable queue immediately, and a worker pool
// processes it later by running synthesis in single-entity mode.
type Jobs struct {
	reg     *registry.Registry
	queue   Queue
	synth   *Synthesizer
	workers int
	log     *logger.Logger
}

// NewJobs wires the on-demand job path. synth may be nil for
// enqueue-only wiring; RunWorkers requires it.
func NewJobs(reg *registry.Registry, queue Queue, synth *Synthesizer, workers int, log *logger.Logger) *Jobs {
	if workers <= 0 {
		workers = 4
	}
	return &Jobs{
		reg:     reg,
		queue:   queue,
		synth:   synth,
		workers: workers,
		log:     log.With("component", "jobs"),
	}
}

// Enqueue accepts an on-demand synthesis request and returns its id
// once the queue has it. Processing is decoupled; the caller gets no
// completion signal beyond eventually seeing the report on the read
// path.
func (j *Jobs) Enqueue(ctx context.Context, ticker, requestedBy string) (string, error) {
	if _, ok := j.reg.Lookup(ticker); !ok {
		return "", fmt.Errorf("unknown ticker %q", ticker)
	}
	job := models.JobRequest{
		RequestID:   uuid.NewString(),
		Ticker:      ticker,
		RequestedBy: requestedBy,
	}
	if err := j.queue.Enqueue(ctx, job); err != nil {
		return "", err
	}
	j.log.Info("Job accepted.", "requestId", job.RequestID, "ticker", ticker, "requestedBy", requestedBy)
	return job.RequestID, nil
}

// RunWorkers consumes the queue until ctx is cancelled. A failed job is
// redelivered by the queue after its visibility timeout; the queue
// dead-letters it once the attempt bound is exceeded.
func (j *Jobs) RunWorkers(ctx context.Context) error {
	if j.synth == nil {
		return fmt.Errorf("job workers need a synthesizer")
	}
	j.log.Info("Job workers starting.", "workers", j.workers)
	return j.queue.Consume(ctx, j.workers, j.process)
}

func (j *Jobs) process(ctx context.Context, job models.JobRequest) error {
	log := j.log.With("requestId", job.RequestID, "ticker", job.Ticker)
	log.Info("Processing job.")
	if err := j.synth.SynthesizeOne(ctx, job.Ticker); err != nil {
		log.Warn("Job failed.", "error", err)
		return err
	}
	log.Info("Job done.")
	return nil
}
