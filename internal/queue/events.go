/**
 * Image status events
 *
 * Tracks per-image status in Redis sets and publishes every transition on the
 * <queue>:events channel so dashboards can follow a batch as it runs.
 */

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Image statuses published by workers
const (
	EventProcessing = "processing"
	EventCompleted  = "completed"
	EventFailed     = "failed"
)

// ImageEvent is one status transition of an image
type ImageEvent struct {
	ImageID   string                 `json:"imageId"`
	Index     int                    `json:"index"`
	Filename  string                 `json:"filename"`
	Status    string                 `json:"-"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"-"`
}

// StatusPublisher records image status transitions
type StatusPublisher interface {
	Publish(ctx context.Context, event ImageEvent) error
}

// EventPublisher publishes image events through Redis
type EventPublisher struct {
	client    *redis.Client
	queueName string
}

// NewEventPublisher connects to Redis
func NewEventPublisher(redisURL, queueName string) (*EventPublisher, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if queueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &EventPublisher{client: client, queueName: queueName}, nil
}

// Key returns the Redis key used for suffix under this queue
func (p *EventPublisher) Key(suffix string) string {
	return fmt.Sprintf("%s:%s", p.queueName, suffix)
}

// Publish moves the image between status sets, stores the details of finished
// images and broadcasts the event.
func (p *EventPublisher) Publish(ctx context.Context, event ImageEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	pipe := p.client.TxPipeline()
	switch event.Status {
	case EventProcessing:
		pipe.SAdd(ctx, p.Key(EventProcessing), event.ImageID)
	case EventCompleted, EventFailed:
		pipe.SRem(ctx, p.Key(EventProcessing), event.ImageID)
		pipe.SAdd(ctx, p.Key(event.Status), event.ImageID)
		// An image retried to success must not stay in the failed set.
		if event.Status == EventCompleted {
			pipe.SRem(ctx, p.Key(EventFailed), event.ImageID)
		}
		if event.Details != nil {
			data, err := json.Marshal(event.Details)
			if err != nil {
				return fmt.Errorf("failed to marshal event details: %w", err)
			}
			hash := "results"
			if event.Status == EventFailed {
				hash = "errors"
			}
			pipe.HSet(ctx, p.Key(hash), event.ImageID, data)
		}
	default:
		return fmt.Errorf("unknown image status %q", event.Status)
	}

	payload, err := eventPayload(event)
	if err != nil {
		return err
	}
	pipe.Publish(ctx, p.Key("events"), payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish %s event for %s: %w", event.Status, event.ImageID, err)
	}
	return nil
}

// Stats returns the size of each status set
func (p *EventPublisher) Stats(ctx context.Context) (map[string]int64, error) {
	stats := make(map[string]int64, 3)
	for _, status := range []string{EventProcessing, EventCompleted, EventFailed} {
		n, err := p.client.SCard(ctx, p.Key(status)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s set: %w", status, err)
		}
		stats[status] = n
	}
	return stats, nil
}

// Close closes the Redis connection
func (p *EventPublisher) Close() error {
	return p.client.Close()
}

func eventPayload(event ImageEvent) ([]byte, error) {
	type wire struct {
		Event     string `json:"event"`
		Timestamp string `json:"timestamp"`
		ImageEvent
	}
	data, err := json.Marshal(wire{
		Event:      "image:" + event.Status,
		Timestamp:  event.Timestamp.Format(time.RFC3339),
		ImageEvent: event,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}
	return data, nil
}
