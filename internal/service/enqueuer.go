package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/littlehero/api/internal/model"
)

// Enqueuer schedules generation of a book job.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// AsynqEnqueuer queues book:generate tasks. The task ID is the job ID, so a
// second enqueue of the same job is refused by asynq.
type AsynqEnqueuer struct {
	client   *asynq.Client
	queue    string
	maxRetry int
}

func NewAsynqEnqueuer(client *asynq.Client, queue string, maxRetry int) *AsynqEnqueuer {
	if queue == "" {
		queue = "books"
	}
	return &AsynqEnqueuer{client: client, queue: queue, maxRetry: maxRetry}
}

func (e *AsynqEnqueuer) Enqueue(ctx context.Context, jobID string) error {
	task, err := NewBookTask(jobID)
	if err != nil {
		return err
	}

	_, err = e.client.EnqueueContext(ctx, task,
		asynq.Queue(e.queue),
		asynq.TaskID(jobID),
		asynq.MaxRetry(e.maxRetry),
		asynq.Retention(24*time.Hour),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// requeueWindow keeps concurrent sweeps from queueing one job twice.
const requeueWindow = 10 * time.Minute

// Requeue queues a job whose original task is gone. The original task ID
// may still be held by an archived task, so the task gets a fresh ID and
// a uniqueness lock instead.
func (e *AsynqEnqueuer) Requeue(ctx context.Context, jobID string) error {
	task, err := NewBookTask(jobID)
	if err != nil {
		return err
	}

	_, err = e.client.EnqueueContext(ctx, task,
		asynq.Queue(e.queue),
		asynq.MaxRetry(e.maxRetry),
		asynq.Unique(requeueWindow),
		asynq.Retention(24*time.Hour),
	)
	if errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to requeue task: %w", err)
	}
	return nil
}

// NewBookTask builds the generation task for a job.
func NewBookTask(jobID string) (*asynq.Task, error) {
	data, err := json.Marshal(model.BookTaskPayload{JobID: jobID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(model.TaskTypeBookGenerate, data), nil
}
