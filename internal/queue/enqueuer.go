package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/medscan/internal/logging"
	"github.com/adverant/nexus/medscan/internal/scanner"
)

// Enqueuer submits one scan:image task per source image
type Enqueuer struct {
	client    *asynq.Client
	queueName string
	maxRetry  int
	logger    *logging.Logger
}

// NewEnqueuer creates an enqueuer for the given Redis URL and queue
func NewEnqueuer(redisURL, queueName string, maxRetry int) (*Enqueuer, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("RedisURL is required")
	}
	if queueName == "" {
		return nil, fmt.Errorf("QueueName is required")
	}

	redisOpt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	return &Enqueuer{
		client:    asynq.NewClient(redisOpt),
		queueName: queueName,
		maxRetry:  maxRetry,
		logger:    logging.NewLogger("enqueuer"),
	}, nil
}

// TaskOptions returns the options every scan task is enqueued with. The task
// ID combines the run and image IDs, so an image already waiting in the queue
// for the same run is not added twice.
func (e *Enqueuer) TaskOptions(runID uuid.UUID, ref scanner.ImageRef) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(e.queueName),
		asynq.TaskID(runID.String() + ":" + ref.ID.String()),
		asynq.MaxRetry(e.maxRetry),
	}
}

// EnqueueImages enqueues refs of a run in order and returns how many tasks
// were added. Images that already have a pending task are skipped.
func (e *Enqueuer) EnqueueImages(ctx context.Context, runID uuid.UUID, refs []scanner.ImageRef) (int, error) {
	enqueued := 0
	for _, ref := range refs {
		task, err := NewScanTask(runID, ref)
		if err != nil {
			return enqueued, err
		}

		info, err := e.client.EnqueueContext(ctx, task, e.TaskOptions(runID, ref)...)
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			e.logger.Warn("Image already queued, skipping", "image_id", ref.ID.String(), "file", ref.Filename)
			continue
		}
		if err != nil {
			return enqueued, fmt.Errorf("failed to enqueue %s: %w", ref.Filename, err)
		}

		enqueued++
		e.logger.Debug("Image enqueued", "task_id", info.ID, "queue", info.Queue, "index", ref.Index, "file", ref.Filename)
	}

	e.logger.Info("Images enqueued", "run_id", runID.String(), "queue", e.queueName, "enqueued", enqueued, "skipped", len(refs)-enqueued)
	return enqueued, nil
}

// Close closes the asynq client
func (e *Enqueuer) Close() error {
	return e.client.Close()
}
