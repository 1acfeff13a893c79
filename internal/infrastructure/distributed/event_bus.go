package distributed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rillrec/internal/core/domain"
	"rillrec/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventType represents the type of event
type EventType string

const (
	EventRecordingSealed EventType = "recording.sealed"
)

const DefaultChannel = "rillrec:events"

// Event represents a distributed event
type Event struct {
	Type       EventType        `json:"type"`
	InstanceID string           `json:"instance_id"`
	Timestamp  time.Time        `json:"timestamp"`
	ChannelID  domain.ChannelID `json:"channel_id,omitempty"`
	Payload    json.RawMessage  `json:"payload,omitempty"`
}

// EventBus hands sealed recordings to downstream consumers over redis
// pub/sub.
type EventBus struct {
	client     *redis.Client
	instanceID string
	channel    string
	logger     *zap.SugaredLogger
	pubsub     *redis.PubSub
}

var _ ports.RecordingPublisher = (*EventBus)(nil)

// NewEventBus creates a new event bus. An empty channel uses DefaultChannel.
func NewEventBus(client *redis.Client, instanceID, channel string, logger *zap.SugaredLogger) *EventBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &EventBus{
		client:     client,
		instanceID: instanceID,
		channel:    channel,
		logger:     logger,
	}
}

// Publish publishes an event to the event bus
func (eb *EventBus) Publish(ctx context.Context, event *Event) error {
	event.InstanceID = eb.instanceID
	event.Timestamp = time.Now()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := eb.client.Publish(ctx, eb.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eb.logger.Debugw("published event",
		"type", event.Type,
		"channel_id", event.ChannelID,
	)

	return nil
}

func (eb *EventBus) PublishSealed(ctx context.Context, rec domain.SealedRecording) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal sealed recording: %w", err)
	}

	return eb.Publish(ctx, &Event{
		Type:      EventRecordingSealed,
		ChannelID: rec.ChannelID,
		Payload:   payload,
	})
}

// Subscribe calls handler for every event published by other instances
// until ctx is done.
func (eb *EventBus) Subscribe(ctx context.Context, handler func(*Event) error) error {
	if eb.pubsub != nil {
		return fmt.Errorf("already subscribed")
	}

	eb.pubsub = eb.client.Subscribe(ctx, eb.channel)
	defer eb.pubsub.Close()

	if _, err := eb.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	ch := eb.pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				eb.logger.Warnw("failed to unmarshal event",
					"error", err,
					"payload", msg.Payload,
				)
				continue
			}

			if event.InstanceID == eb.instanceID {
				continue
			}

			if err := handler(&event); err != nil {
				eb.logger.Warnw("error handling event",
					"type", event.Type,
					"error", err,
				)
			}
		}
	}
}

// Close closes the event bus
func (eb *EventBus) Close() error {
	if eb.pubsub != nil {
		return eb.pubsub.Close()
	}
	return nil
}

// SealedRecording decodes the payload of a recording.sealed event.
func (e *Event) SealedRecording() (domain.SealedRecording, error) {
	var rec domain.SealedRecording
	if e.Type != EventRecordingSealed {
		return rec, fmt.Errorf("unexpected event type %s", e.Type)
	}
	if err := json.Unmarshal(e.Payload, &rec); err != nil {
		return rec, fmt.Errorf("failed to decode sealed recording: %w", err)
	}
	return rec, nil
}

// LogPublisher only logs sealed recordings. It is used when no redis is
// configured.
type LogPublisher struct {
	logger *zap.SugaredLogger
}

func NewLogPublisher(logger *zap.SugaredLogger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) PublishSealed(ctx context.Context, rec domain.SealedRecording) error {
	p.logger.Infow("recording ready for handoff",
		"channel_id", rec.ChannelID,
		"channel_name", rec.ChannelName,
		"path", rec.Path,
	)
	return nil
}
