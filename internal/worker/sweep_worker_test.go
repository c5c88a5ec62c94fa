package worker

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/littlehero/api/internal/model"
	"github.com/rs/zerolog"
)

type requeueFunc func(ctx context.Context, jobID string) error

func (f requeueFunc) Requeue(ctx context.Context, jobID string) error { return f(ctx, jobID) }

func TestSweep_RequeuesStrandedJobs(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	now := time.Now().UTC()
	var mu sync.Mutex
	h.machine.WithClock(func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	})
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	stranded := h.newJob(t, "")
	leased := h.newJob(t, "")
	if err := h.machine.Store().AcquireLease(ctx, leased.ID, "busy-worker", time.Hour); err != nil {
		t.Fatal(err)
	}
	done := h.newJob(t, "")
	if err := h.worker.Run(ctx, done.ID); err != nil {
		t.Fatal(err)
	}
	advance(10 * time.Minute)
	fresh := h.newJob(t, "")

	var requeued []string
	sweeper := NewSweepWorker(h.machine, requeueFunc(func(ctx context.Context, jobID string) error {
		requeued = append(requeued, jobID)
		return h.worker.Run(ctx, jobID)
	}), 15*time.Minute, zerolog.Nop()).WithClock(func() time.Time { return now.Add(10 * time.Minute) })

	got, err := sweeper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(got) != 1 || got[0] != stranded.ID || !slices.Equal(got, requeued) {
		t.Fatalf("expected only %s requeued, got %v", stranded.ID, got)
	}
	if s := h.job(t, stranded.ID).Status; s != model.BookStatusCompleted {
		t.Errorf("requeued job ended %s", s)
	}
	for _, id := range []string{leased.ID, fresh.ID} {
		if s := h.job(t, id).Status; s != model.BookStatusPending {
			t.Errorf("job %s should be left alone, got %s", id, s)
		}
	}
}

func TestSweep_ReportsRequeueErrors(t *testing.T) {
	h := newHarness(t, Config{})
	ctx := context.Background()

	first := h.newJob(t, "")
	second := h.newJob(t, "")

	var attempted []string
	sweeper := NewSweepWorker(h.machine, requeueFunc(func(_ context.Context, jobID string) error {
		attempted = append(attempted, jobID)
		if jobID == first.ID {
			return errors.New("queue unavailable")
		}
		return nil
	}), time.Minute, zerolog.Nop()).WithClock(func() time.Time { return time.Now().Add(time.Hour) })

	got, err := sweeper.Sweep(ctx)
	if err == nil {
		t.Fatal("expected the failed requeue to be reported")
	}
	if len(attempted) != 2 {
		t.Errorf("one failure must not stop the sweep, attempted %v", attempted)
	}
	if len(got) != 1 || got[0] != second.ID {
		t.Errorf("expected %s requeued, got %v", second.ID, got)
	}
}
