package main

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/marketbrief/marketbrief/internal/app"
	"github.com/marketbrief/marketbrief/internal/models"
	"github.com/marketbrief/marketbrief/internal/services"
)

var (
	rendererInstance *services.Renderer
	once             sync.Once
	initErr          error
)

func init() {
	functions.CloudEvent("RunRender", runRender)
}

// main is required by the Go Functions Framework.
func main() {}

// pubsubEnvelope is the shape of a Pub/Sub-carried CloudEvent payload.
// Message.Data is base64 on the wire; encoding/json decodes it.
type pubsubEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
	} `json:"message"`
}

// runRender handles the reports-ready signal. The only thing taken from
// the event is the optional explicit date; present means use it, absent
// means today. The work list itself is re-derived from the reports
// table, so this function is safe to invoke any number of times.
func runRender(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		var a *app.App
		if a, initErr = app.New(context.Background()); initErr != nil {
			return
		}
		rendererInstance, initErr = a.Renderer(context.Background())
	})
	if initErr != nil {
		return initErr
	}

	_, err := rendererInstance.Run(ctx, targetFromEvent(e))
	return err
}

func targetFromEvent(e cloudevents.Event) models.TargetDate {
	var env pubsubEnvelope
	if err := json.Unmarshal(e.Data(), &env); err == nil && len(env.Message.Data) > 0 {
		var ev models.ReportsReadyEvent
		if err := json.Unmarshal(env.Message.Data, &ev); err != nil {
			return models.DefaultToday()
		}
		return models.TargetFromEvent(ev)
	}

	// Manually emitted events carry the payload bare, without the
	// Pub/Sub envelope.
	var ev models.ReportsReadyEvent
	if err := json.Unmarshal(e.Data(), &ev); err != nil {
		return models.DefaultToday()
	}
	return models.TargetFromEvent(ev)
}
