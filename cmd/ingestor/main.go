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
	ingestorInstance *services.Ingestor
	once             sync.Once
	initErr          error
)

func init() {
	functions.CloudEvent("RunIngest", runIngest)
}

// main is required by the Go Functions Framework.
func main() {}

// runIngest handles the daily scheduler tick. The event payload carries
// nothing the stage needs; the registry is the source of work.
func runIngest(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		var a *app.App
		if a, initErr = app.New(context.Background()); initErr != nil {
			return
		}
		ingestorInstance, initErr = a.Ingestor(context.Background())
	})
	if initErr != nil {
		return initErr
	}

	_, err := ingestorInstance.Run(ctx)
	return err
}
