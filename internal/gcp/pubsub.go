package gcp

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/marketbrief/marketbrief/internal/logger"
	"github.com/marketbrief/marketbrief/internal/models"
)

// Bus publishes the fire-and-forget signals between pipeline stages.
// Delivery is at-least-once and the payloads carry no per-entity
// detail, so every consumer re-derives its work list from the reports
// table instead of trusting the event.
type Bus struct {
	ingestCompleted *pubsub.Topic
	reportsReady    *pubsub.Topic
	log             *logger.Logger
}

// NewBus wraps the two inter-stage topics.
func NewBus(client *pubsub.Client, ingestTopic, reportsTopic string, log *logger.Logger) *Bus {
	return &Bus{
		ingestCompleted: client.Topic(ingestTopic),
		reportsReady:    client.Topic(reportsTopic),
		log:             log.With("component", "bus"),
	}
}

// PublishIngestCompleted signals the synthesis stage.
func (b *Bus) PublishIngestCompleted(ctx context.Context, ev models.IngestCompletedEvent) error {
	return b.publish(ctx, b.ingestCompleted, ev)
}

// PublishReportsReady signals the rendering stage.
func (b *Bus) PublishReportsReady(ctx context.Context, ev models.ReportsReadyEvent) error {
	return b.publish(ctx, b.reportsReady, ev)
}

func (b *Bus) publish(ctx context.Context, topic *pubsub.Topic, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	res := topic.Publish(ctx, &pubsub.Message{Data: data})
	if _, err := res.Get(ctx); err != nil {
		return fmt.Errorf("publish to %s: %w", topic.ID(), err)
	}
	b.log.Info("Published event.", "topic", topic.ID())
	return nil
}

// JobQueue is the durable on-demand queue. The subscription is expected
// to be configured with an ack deadline (visibility timeout) and a
// dead-letter topic bound to the configured max delivery attempts; the
// worker also enforces the attempt bound itself so a misconfigured
// subscription cannot retry forever.
type JobQueue struct {
	topic       *pubsub.Topic
	sub         *pubsub.Subscription
	deadLetter  *pubsub.Topic
	maxAttempts int
	log         *logger.Logger
}

// NewJobQueue wraps the queue topic, its worker subscription, and the
// dead-letter topic.
func NewJobQueue(client *pubsub.Client, topic, subscription, deadLetter string, maxAttempts int, log *logger.Logger) *JobQueue {
	return &JobQueue{
		topic:       client.Topic(topic),
		sub:         client.Subscription(subscription),
		deadLetter:  client.Topic(deadLetter),
		maxAttempts: maxAttempts,
		log:         log.With("component", "jobqueue"),
	}
}

// Enqueue appends a job request and returns once the broker has
// accepted it. Processing is fully decoupled from this call.
func (q *JobQueue) Enqueue(ctx context.Context, job models.JobRequest) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	res := q.topic.Publish(ctx, &pubsub.Message{Data: data})
	if _, err := res.Get(ctx); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.RequestID, err)
	}
	return nil
}

// Consume pulls jobs and hands them to process until ctx is cancelled.
// A processing error nacks the message, making it visible again after
// the ack deadline. Once the delivery attempt bound is exceeded the
// message is copied to the dead-letter topic and acked.
func (q *JobQueue) Consume(ctx context.Context, workers int, process func(context.Context, models.JobRequest) error) error {
	q.sub.ReceiveSettings.MaxOutstandingMessages = workers

	return q.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		var job models.JobRequest
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			q.log.Error("Dropping malformed job message.", "error", err)
			q.sendToDeadLetter(ctx, msg.Data)
			msg.Ack()
			return
		}

		attempt := 1
		if msg.DeliveryAttempt != nil {
			attempt = *msg.DeliveryAttempt
		}
		if attempt > q.maxAttempts {
			q.log.Warn("Job exceeded max attempts, dead-lettering.",
				"requestId", job.RequestID, "ticker", job.Ticker, "attempt", attempt)
			q.sendToDeadLetter(ctx, msg.Data)
			msg.Ack()
			return
		}

		if err := process(ctx, job); err != nil {
			q.log.Warn("Job processing failed, will retry.",
				"requestId", job.RequestID, "ticker", job.Ticker, "attempt", attempt, "error", err)
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (q *JobQueue) sendToDeadLetter(ctx context.Context, data []byte) {
	res := q.deadLetter.Publish(ctx, &pubsub.Message{Data: data})
	if _, err := res.Get(ctx); err != nil {
		q.log.Error("Failed to publish to dead-letter topic.", "error", err)
	}
}
