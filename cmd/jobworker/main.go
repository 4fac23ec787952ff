package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/marketbrief/marketbrief/internal/app"
)

// jobworker consumes the on-demand queue. Failed jobs become visible
// again after the ack deadline; exhausted ones go to the dead-letter
// topic.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx)
	if err != nil {
		log.Fatalf("jobworker: %v", err)
	}
	defer a.Log.Sync()

	jobs, err := a.JobWorkers(ctx)
	if err != nil {
		a.Log.Fatal("Failed to assemble job workers.", "error", err)
	}

	if err := jobs.RunWorkers(ctx); err != nil && ctx.Err() == nil {
		a.Log.Fatal("Job workers stopped.", "error", err)
	}
	a.Log.Info("Job workers shut down.")
}
