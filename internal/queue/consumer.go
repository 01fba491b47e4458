/**
 * Queue Consumer for medscan workers
 *
 * Consumes scan:image tasks from Redis with asynq. Each task runs the full
 * per-image pipeline, stores the outcome and publishes status events. Images
 * that cannot be decoded or preprocessed fail permanently; everything else is
 * retried with exponential backoff.
 */

package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	apperrors "github.com/adverant/nexus/medscan/internal/errors"
	"github.com/adverant/nexus/medscan/internal/logging"
	"github.com/adverant/nexus/medscan/internal/processor"
	"github.com/adverant/nexus/medscan/internal/scanner"
	"github.com/adverant/nexus/medscan/internal/storage"
)

// RecordStore persists image outcomes
type RecordStore interface {
	StoreRecord(ctx context.Context, record *storage.ImageRecord) error
}

// Consumer handles task consumption from the Redis queue
type Consumer struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	config *ConsumerConfig
	logger *logging.Logger
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	RedisURL          string
	QueueName         string
	Concurrency       int
	Processor         processor.ImageProcessor
	Store             RecordStore
	Events            StatusPublisher
	ProcessingTimeout int64 // Processing timeout in milliseconds (default: 300000 = 5 minutes)
}

// NewConsumer creates a new queue consumer
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}

	if cfg.QueueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("Processor is required")
	}

	if cfg.Store == nil {
		return nil, fmt.Errorf("Store is required")
	}

	// Parse Redis connection options
	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	logger := logging.NewLogger("consumer")

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				cfg.QueueName: 10, // Priority 10 for main queue
				"default":     1,  // Priority 1 for fallback
			},
			// Exponential backoff: 5s, 10s, 20s, capped at 60s
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				delay := time.Duration(5*(1<<uint(n))) * time.Second
				if delay > 60*time.Second {
					delay = 60 * time.Second
				}
				return delay
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Error("Task processing error",
					"type", task.Type(),
					"payload", string(task.Payload()),
					"retry", retried,
					"max_retry", maxRetry,
					"error", err)
			}),
			Logger: logger.Logrus(),
		},
	)

	return newConsumer(cfg, server, logger), nil
}

func newConsumer(cfg *ConsumerConfig, server *asynq.Server, logger *logging.Logger) *Consumer {
	consumer := &Consumer{
		server: server,
		mux:    asynq.NewServeMux(),
		config: cfg,
		logger: logger,
	}
	consumer.mux.HandleFunc(TypeScanImage, consumer.handleScanImage)
	return consumer
}

// Start starts processing tasks in the background
func (c *Consumer) Start() error {
	c.logger.Info("Starting queue consumer", "concurrency", c.config.Concurrency, "queue", c.config.QueueName)

	if err := c.server.Start(c.mux); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}
	return nil
}

// Stop waits for running tasks and stops the consumer
func (c *Consumer) Stop() {
	c.logger.Info("Stopping queue consumer")
	c.server.Shutdown()
	c.logger.Info("Queue consumer stopped")
}

// handleScanImage processes one scan:image task
func (c *Consumer) handleScanImage(ctx context.Context, task *asynq.Task) error {
	startTime := time.Now()

	job, err := ParseScanPayload(task.Payload())
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	ref := job.Ref
	log := c.logger.With("run_id", job.RunID.String(), "image_id", ref.ID.String(), "index", ref.Index, "file", ref.Filename)
	log.Info("Processing image")

	c.publish(ctx, log, ImageEvent{ImageID: ref.ID.String(), Index: ref.Index, Filename: ref.Filename, Status: EventProcessing})

	timeout := time.Duration(300000) * time.Millisecond
	if c.config.ProcessingTimeout > 0 {
		timeout = time.Duration(c.config.ProcessingTimeout) * time.Millisecond
	}

	processCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcome := c.config.Processor.ProcessImage(processCtx, ref)
	outcome.RunID = job.RunID
	duration := time.Since(startTime)

	if processCtx.Err() == context.DeadlineExceeded {
		log.Error("Processing timed out", "duration", duration, "timeout", timeout)
		outcome.Status = processor.StatusFailed
		outcome.Err = apperrors.NewProcessingTimeoutError(ref.ID.String(), timeout, processCtx.Err())
	}

	record := outcome.ToRecord()
	if err := c.config.Store.StoreRecord(ctx, &record); err != nil {
		storeErr := apperrors.NewStorageFailedError(ref.ID.String(), err)
		c.publish(ctx, log, failedEvent(ref, storeErr, duration))
		return storeErr
	}

	if outcome.Succeeded() {
		details := map[string]interface{}{
			"chosenVariant":  record.ChosenVariant,
			"partial":        record.Partial,
			"chemicals":      record.Chemicals,
			"diseases":       record.Diseases,
			"processingTime": duration.Milliseconds(),
		}
		c.publish(ctx, log, ImageEvent{
			ImageID:  ref.ID.String(),
			Index:    ref.Index,
			Filename: ref.Filename,
			Status:   EventCompleted,
			Details:  details,
		})
		log.Info("Image completed", "duration", duration)
		return nil
	}

	c.publish(ctx, log, failedEvent(ref, outcome.Err, duration))
	log.Warn("Image failed", "duration", duration, "error", outcome.Err)

	if outcome.Err == nil {
		return fmt.Errorf("image %s failed without an error", ref.Filename)
	}
	if !retryable(outcome.Err) {
		return fmt.Errorf("%v: %w", outcome.Err, asynq.SkipRetry)
	}
	return outcome.Err
}

func (c *Consumer) publish(ctx context.Context, log *logging.Logger, event ImageEvent) {
	if c.config.Events == nil {
		return
	}
	if err := c.config.Events.Publish(ctx, event); err != nil {
		log.Warn("Failed to publish image event", "status", event.Status, "error", err)
	}
}

func failedEvent(ref scanner.ImageRef, err *apperrors.ProcessingError, duration time.Duration) ImageEvent {
	details := map[string]interface{}{}
	if err != nil {
		details = err.ToMap()
	}
	details["processingTime"] = duration.Milliseconds()
	return ImageEvent{
		ImageID:  ref.ID.String(),
		Index:    ref.Index,
		Filename: ref.Filename,
		Status:   EventFailed,
		Details:  details,
	}
}

// Decoding and preprocessing are deterministic, so retrying cannot help.
func retryable(err *apperrors.ProcessingError) bool {
	if err == nil {
		return true
	}
	switch err.Code {
	case apperrors.ErrorLoadFailed, apperrors.ErrorPreprocessFailed:
		return false
	default:
		return true
	}
}
