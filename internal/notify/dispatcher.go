package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/etapa-dev/sgp-workflow-api/internal/models"
	"github.com/etapa-dev/sgp-workflow-api/pkg/config"
	"github.com/etapa-dev/sgp-workflow-api/pkg/jobs"
)

// Dispatcher decouples event emission from delivery. Services call Emit
// after their transaction commits; workers publish asynchronously with
// retries, so delivery problems never surface on the mutation path.
type Dispatcher struct {
	queue     *jobs.Queue
	publisher Publisher
	logger    *zap.Logger
}

// NewDispatcher builds a dispatcher backed by the in-memory job queue.
func NewDispatcher(publisher Publisher, cfg config.NotificationsConfig, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{publisher: publisher, logger: logger}
	d.queue = jobs.NewQueue("workflow-events", d.handle, jobs.QueueConfig{
		Workers:    cfg.WorkerConcurrency,
		BufferSize: cfg.BufferSize,
		MaxRetries: cfg.WorkerRetries,
		RetryDelay: cfg.RetryDelay,
		Logger:     logger,
	})
	return d
}

// Start launches the delivery workers.
func (d *Dispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop drains the workers.
func (d *Dispatcher) Stop() {
	d.queue.Stop()
}

// Emit enqueues the event for at-least-once delivery. Failures are logged
// and swallowed: the state mutation already committed and must stand.
func (d *Dispatcher) Emit(event models.WorkflowEvent) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	job := jobs.Job{
		ID:      uuid.NewString(),
		Type:    "workflow-event",
		Payload: event,
	}
	if err := d.queue.Enqueue(job); err != nil {
		d.logger.Warn("failed to enqueue workflow event",
			zap.String("subject_id", event.SubjectID),
			zap.String("title", event.Title),
			zap.Error(err))
	}
}

func (d *Dispatcher) handle(ctx context.Context, job jobs.Job) error {
	event, ok := job.Payload.(models.WorkflowEvent)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", job.Payload)
	}
	return d.publisher.Publish(ctx, event)
}
