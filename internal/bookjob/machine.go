// Package bookjob owns the status of book jobs: the permitted transitions,
// the atomic writes that pair a status change with the asset refs that
// justify it, and the per-job lease that keeps two workers apart.
package bookjob

import (
	"context"
	"fmt"
	"time"

	"github.com/littlehero/api/internal/model"
)

// Listener is told about every successful write.
type Listener interface {
	JobChanged(job *model.BookJob)
}

// Machine applies state changes to jobs held in a Store.
type Machine struct {
	store     Store
	now       func() time.Time
	listeners []Listener
}

func NewMachine(store Store) *Machine {
	return &Machine{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the clock used for timestamps.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

// Subscribe registers a listener. It must be called before the machine is
// shared.
func (m *Machine) Subscribe(l Listener) {
	m.listeners = append(m.listeners, l)
}

// Store exposes the underlying store for lease handling.
func (m *Machine) Store() Store {
	return m.store
}

func (m *Machine) notify(job *model.BookJob) {
	for _, l := range m.listeners {
		l.JobChanged(job.Clone())
	}
}

// Create persists a new job in pending.
func (m *Machine) Create(ctx context.Context, job *model.BookJob) error {
	now := m.now()
	job.Status = model.BookStatusPending
	if job.StatusDetail == "" {
		job.StatusDetail = "queued"
	}
	if job.AssetRefs == nil {
		job.AssetRefs = map[string]string{}
	}
	job.CreatedAt = now
	job.UpdatedAt = now
	job.CompletedAt = nil

	if err := m.store.Create(ctx, job); err != nil {
		return err
	}
	m.notify(job)
	return nil
}

func (m *Machine) Get(ctx context.Context, id string) (*model.BookJob, error) {
	return m.store.Get(ctx, id)
}

// ListByOwner returns one page (1-based) of an owner's jobs, newest first,
// and the owner's total job count.
func (m *Machine) ListByOwner(ctx context.Context, ownerID string, page, limit int) ([]*model.BookJob, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	return m.store.ListByOwner(ctx, ownerID, (page-1)*limit, limit)
}

// ListLive returns every job that is not yet terminal.
func (m *Machine) ListLive(ctx context.Context) ([]*model.BookJob, error) {
	return m.store.ListLive(ctx)
}

func (m *Machine) update(ctx context.Context, id string, fn UpdateFunc) (*model.BookJob, error) {
	job, err := m.store.Update(ctx, id, func(job *model.BookJob) error {
		if err := fn(job); err != nil {
			return err
		}
		job.UpdatedAt = m.now()
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.notify(job)
	return job, nil
}

// checkTransition validates target against the job's persisted status and
// the refs the target requires.
func checkTransition(job *model.BookJob, target model.BookStatus) error {
	if job.Status.Terminal() {
		return terminalErr(job.ID, job.Status)
	}
	if !CanTransition(job.Status, target) {
		return fmt.Errorf("book %s: %s -> %s: %w", job.ID, job.Status, target, ErrInvalidTransition)
	}
	switch target {
	case model.BookStatusAssemblingPDF:
		if missing := job.MissingPages(); len(missing) > 0 {
			return fmt.Errorf("book %s: illustrations missing for pages %v: %w", job.ID, missing, ErrInvalidTransition)
		}
	case model.BookStatusCompleted:
		if _, ok := job.Ref(model.RolePDF); !ok {
			return fmt.Errorf("book %s: no pdf recorded: %w", job.ID, ErrInvalidTransition)
		}
		if _, ok := job.Ref(model.RoleThumbnail); !ok {
			return fmt.Errorf("book %s: no thumbnail recorded: %w", job.ID, ErrInvalidTransition)
		}
	}
	return nil
}

// Transition moves a job to target. Nothing is written when the transition
// is not permitted.
func (m *Machine) Transition(ctx context.Context, id string, target model.BookStatus, detail string) (*model.BookJob, error) {
	return m.update(ctx, id, func(job *model.BookJob) error {
		if err := checkTransition(job, target); err != nil {
			return err
		}
		job.Status = target
		job.StatusDetail = detail
		if target == model.BookStatusCompleted {
			t := m.now()
			job.CompletedAt = &t
		}
		return nil
	})
}

// RecordIllustration stores the ref of one page. The first illustration of
// a pending job moves it to generating_illustrations in the same write.
func (m *Machine) RecordIllustration(ctx context.Context, id string, page int, key string) (*model.BookJob, error) {
	return m.update(ctx, id, func(job *model.BookJob) error {
		if job.Status.Terminal() {
			return terminalErr(job.ID, job.Status)
		}
		if page < 1 || page > job.PageCount {
			return fmt.Errorf("book %s: page %d out of range 1..%d: %w", job.ID, page, job.PageCount, ErrInvalidTransition)
		}
		switch job.Status {
		case model.BookStatusPending:
			job.Status = model.BookStatusGeneratingIllustrations
		case model.BookStatusGeneratingIllustrations:
		default:
			return fmt.Errorf("book %s: cannot record illustration in %s: %w", job.ID, job.Status, ErrInvalidTransition)
		}
		job.AssetRefs[model.IllustrationRole(page)] = key
		job.StatusDetail = fmt.Sprintf("illustrated page %d of %d", job.PageCount-len(job.MissingPages()), job.PageCount)
		return nil
	})
}

// Complete records the final assets and marks the job completed in one
// write.
func (m *Machine) Complete(ctx context.Context, id, pdfKey, thumbnailKey, detail string) (*model.BookJob, error) {
	return m.update(ctx, id, func(job *model.BookJob) error {
		if job.Status.Terminal() {
			return terminalErr(job.ID, job.Status)
		}
		if job.Status != model.BookStatusAssemblingPDF {
			return fmt.Errorf("book %s: cannot complete from %s: %w", job.ID, job.Status, ErrInvalidTransition)
		}
		if pdfKey == "" || thumbnailKey == "" {
			return fmt.Errorf("book %s: pdf and thumbnail keys are required: %w", job.ID, ErrInvalidTransition)
		}
		job.AssetRefs[model.RolePDF] = pdfKey
		job.AssetRefs[model.RoleThumbnail] = thumbnailKey
		if err := checkTransition(job, model.BookStatusCompleted); err != nil {
			return err
		}
		t := m.now()
		job.Status = model.BookStatusCompleted
		job.StatusDetail = detail
		job.CompletedAt = &t
		return nil
	})
}

// Fail marks a live job failed. Refs are kept.
func (m *Machine) Fail(ctx context.Context, id, detail string) (*model.BookJob, error) {
	return m.Transition(ctx, id, model.BookStatusFailed, detail)
}

// Progress is the resume point of a job, derived from its persisted status
// and refs alone.
type Progress struct {
	Status        model.BookStatus
	Total         int
	Done          int
	Missing       []int
	NeedsAssembly bool
	Terminal      bool
}

func ProgressOf(job *model.BookJob) Progress {
	missing := job.MissingPages()
	_, hasPDF := job.Ref(model.RolePDF)
	return Progress{
		Status:        job.Status,
		Total:         job.PageCount,
		Done:          job.PageCount - len(missing),
		Missing:       missing,
		NeedsAssembly: !job.Status.Terminal() && len(missing) == 0 && !hasPDF,
		Terminal:      job.Status.Terminal(),
	}
}

// Percent is a rough completion figure for status displays.
func (p Progress) Percent() int {
	switch {
	case p.Status == model.BookStatusCompleted:
		return 100
	case p.Total == 0:
		return 0
	}
	// illustrations carry 90%, assembly the rest
	pct := p.Done * 90 / p.Total
	if p.Status == model.BookStatusAssemblingPDF {
		pct = 95
	}
	return pct
}
