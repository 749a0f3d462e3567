package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// EventType represents the type of event
type EventType string

const (
	// EventTypeStatusChanged is published on every job status transition
	EventTypeStatusChanged EventType = "SCRAPE_STATUS_CHANGED"

	DefaultStream = "stream:scrape_status"
)

// StatusChangedPayload describes one job status transition.
type StatusChangedPayload struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
	TaskID    string    `json:"task_id"`
	Status    string    `json:"status"`
	ResultURL string    `json:"result_url,omitempty"`
	RowCount  int       `json:"row_count,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// StreamClient is the part of the redis client the publisher needs.
type StreamClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// Publisher appends status events to a redis stream.
type Publisher struct {
	client StreamClient
	stream string
	maxLen int64
	logger *slog.Logger
}

func NewPublisher(client StreamClient, stream string, maxLen int64, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = DefaultStream
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger.With("component", "event_publisher"),
	}
}

// PublishStatus publishes a SCRAPE_STATUS_CHANGED event.
func (p *Publisher) PublishStatus(ctx context.Context, payload *StatusChangedPayload) error {
	// Set event metadata
	if payload.EventID == "" {
		payload.EventID = uuid.New().String()
	}
	if payload.EventType == "" {
		payload.EventType = string(EventTypeStatusChanged)
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now()
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			"event_id":     payload.EventID,
			"event_type":   payload.EventType,
			"aggregate_id": payload.UserID + "/" + payload.TaskID,
			"status":       payload.Status,
			"payload":      string(data),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("event published",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"task_id", payload.TaskID,
		"status", payload.Status,
		"stream_id", id,
	)

	return nil
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) PublishStatus(ctx context.Context, payload *StatusChangedPayload) error {
	return nil
}
