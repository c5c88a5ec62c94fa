package bookjob

import (
	"context"
	"time"

	"github.com/littlehero/api/internal/model"
)

// UpdateFunc mutates a freshly loaded job. Returning an error aborts the
// update and nothing is written.
type UpdateFunc func(job *model.BookJob) error

// Store persists book jobs. Update must apply fn atomically with respect to
// concurrent updates of the same job.
type Store interface {
	Create(ctx context.Context, job *model.BookJob) error
	Get(ctx context.Context, id string) (*model.BookJob, error)
	Update(ctx context.Context, id string, fn UpdateFunc) (*model.BookJob, error)
	ListByOwner(ctx context.Context, ownerID string, offset, limit int) ([]*model.BookJob, int64, error)
	// ListLive returns every job that has not reached a terminal status.
	ListLive(ctx context.Context) ([]*model.BookJob, error)

	AcquireLease(ctx context.Context, id, holder string, ttl time.Duration) error
	RenewLease(ctx context.Context, id, holder string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, id, holder string) error
	LeaseHeld(ctx context.Context, id string) (bool, error)
}
