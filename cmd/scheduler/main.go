package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/marketbrief/marketbrief/internal/app"
)

// scheduler is the self-hosted alternative to Cloud Scheduler: it runs
// the ingest batch in-process on the configured cron expression. The
// downstream stages are still woken over the event bus either way.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx)
	if err != nil {
		log.Fatalf("scheduler: %v", err)
	}
	defer a.Log.Sync()

	ingestor, err := a.Ingestor(ctx)
	if err != nil {
		a.Log.Fatal("Failed to assemble ingestor.", "error", err)
	}

	c := cron.New(cron.WithLocation(a.Config.Scheduler.Location()))
	_, err = c.AddFunc(a.Config.Scheduler.CronExpression, func() {
		result, err := ingestor.Run(ctx)
		if err != nil {
			a.Log.Error("Scheduled ingest run failed.", "error", err)
			return
		}
		a.Log.Info("Scheduled ingest run finished.",
			"succeeded", result.Succeeded, "failed", result.Failed)
	})
	if err != nil {
		a.Log.Fatal("Invalid cron expression.",
			"expression", a.Config.Scheduler.CronExpression, "error", err)
	}

	a.Log.Info("Scheduler started.",
		"expression", a.Config.Scheduler.CronExpression,
		"timezone", a.Config.Scheduler.Location().String())
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	a.Log.Info("Scheduler shut down.")
}
