package main

import (
	"encoding/base64"
	"fmt"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketbrief/marketbrief/internal/models"
)

func jsonEvent(t *testing.T, payload []byte) cloudevents.Event {
	t.Helper()
	e := cloudevents.NewEvent()
	e.SetType("google.cloud.pubsub.topic.v1.messagePublished")
	require.NoError(t, e.SetData(cloudevents.ApplicationJSON, payload))
	return e
}

func TestTargetFromEnvelopedEvent(t *testing.T) {
	inner := base64.StdEncoding.EncodeToString([]byte(`{"date":"2026-08-28"}`))
	e := jsonEvent(t, []byte(fmt.Sprintf(`{"message":{"data":"%s"}}`, inner)))

	assert.Equal(t, "2026-08-28", targetFromEvent(e).Resolve(time.UTC))
}

func TestTargetFromEnvelopedEventWithoutDate(t *testing.T) {
	inner := base64.StdEncoding.EncodeToString([]byte(`{}`))
	e := jsonEvent(t, []byte(fmt.Sprintf(`{"message":{"data":"%s"}}`, inner)))

	today := time.Now().UTC().Format(models.DateLayout)
	assert.Equal(t, today, targetFromEvent(e).Resolve(time.UTC))
}

func TestTargetFromBarePayloadKeepsExplicitDate(t *testing.T) {
	e := jsonEvent(t, []byte(`{"date":"2026-08-28"}`))

	assert.Equal(t, "2026-08-28", targetFromEvent(e).Resolve(time.UTC))
}

func TestTargetFromMalformedEventDefaultsToToday(t *testing.T) {
	e := jsonEvent(t, []byte(`not json at all`))

	today := time.Now().UTC().Format(models.DateLayout)
	assert.Equal(t, today, targetFromEvent(e).Resolve(time.UTC))
}
