package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/littlehero/api/internal/bookjob"
	"github.com/rs/zerolog"
)

// Requeuer puts a live job back on the generation queue.
type Requeuer interface {
	Requeue(ctx context.Context, jobID string) error
}

// SweepWorker runs the periodic book:sweep task. A live job that nobody
// holds a lease on and that has not changed for staleAfter has lost its
// task, either to a crash before enqueue or to an archived delivery, and is
// queued again.
type SweepWorker struct {
	machine    *bookjob.Machine
	requeuer   Requeuer
	staleAfter time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

func NewSweepWorker(machine *bookjob.Machine, requeuer Requeuer, staleAfter time.Duration, log zerolog.Logger) *SweepWorker {
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	return &SweepWorker{
		machine:    machine,
		requeuer:   requeuer,
		staleAfter: staleAfter,
		now:        time.Now,
		log:        log.With().Str("component", "book_sweep").Logger(),
	}
}

// WithClock replaces the clock used to judge staleness.
func (w *SweepWorker) WithClock(now func() time.Time) *SweepWorker {
	w.now = now
	return w
}

func (w *SweepWorker) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	_, err := w.Sweep(ctx)
	return err
}

// Sweep requeues stranded jobs and returns their ids.
func (w *SweepWorker) Sweep(ctx context.Context) ([]string, error) {
	live, err := w.machine.ListLive(ctx)
	if err != nil {
		return nil, fmt.Errorf("book sweep: %w", err)
	}

	cutoff := w.now().Add(-w.staleAfter)
	var requeued []string
	var errs []error
	for _, job := range live {
		if job.UpdatedAt.After(cutoff) {
			continue
		}
		held, err := w.machine.Store().LeaseHeld(ctx, job.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if held {
			continue
		}
		if err := w.requeuer.Requeue(ctx, job.ID); err != nil {
			errs = append(errs, fmt.Errorf("requeue book %s: %w", job.ID, err))
			continue
		}
		w.log.Warn().
			Str("job_id", job.ID).
			Str("status", string(job.Status)).
			Time("updated_at", job.UpdatedAt).
			Msg("requeued stranded book job")
		requeued = append(requeued, job.ID)
	}

	if len(requeued) > 0 || len(errs) > 0 {
		w.log.Info().Int("live", len(live)).Int("requeued", len(requeued)).Int("errors", len(errs)).Msg("book sweep finished")
	}
	return requeued, errors.Join(errs...)
}
