package main

import (
	"context"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/marketbrief/marketbrief/internal/app"
	"github.com/marketbrief/marketbrief/internal/services"
)

var (
	synthesizerInstance *services.Synthesizer
	once                sync.Once
	initErr             error
)

func init() {
	functions.CloudEvent("RunSynthesis", runSynthesis)
}

// main is required by the Go Functions Framework.
func main() {}

// runSynthesis handles the ingest-completed signal. The payload is
// deliberately ignored: the batch re-reads the registry and the bars
// table itself, so a duplicate or stale event is harmless.
func runSynthesis(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		var a *app.App
		if a, initErr = app.New(context.Background()); initErr != nil {
			return
		}
		synthesizerInstance, initErr = a.Synthesizer(context.Background())
	})
	if initErr != nil {
		return initErr
	}

	return synthesizerInstance.RunBatch(ctx)
}
