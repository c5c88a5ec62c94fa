package bookjob

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/littlehero/api/internal/model"
)

type lease struct {
	holder  string
	expires time.Time
}

// MemoryStore keeps jobs in process. It backs tests and single-process
// development runs.
type MemoryStore struct {
	mu     sync.Mutex
	jobs   map[string]*model.BookJob
	leases map[string]lease
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:   make(map[string]*model.BookJob),
		leases: make(map[string]lease),
		now:    time.Now,
	}
}

// WithClock replaces the clock used for lease expiry.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Create(ctx context.Context, job *model.BookJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("book %s: %w", job.ID, ErrExists)
	}
	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*model.BookJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("book %s: %w", id, ErrNotFound)
	}
	return job.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, id string, fn UpdateFunc) (*model.BookJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("book %s: %w", id, ErrNotFound)
	}
	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.jobs[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) ListByOwner(ctx context.Context, ownerID string, offset, limit int) ([]*model.BookJob, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var owned []*model.BookJob
	for _, job := range s.jobs {
		if job.OwnerID == ownerID {
			owned = append(owned, job)
		}
	}
	sort.Slice(owned, func(i, j int) bool {
		if owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].ID > owned[j].ID
		}
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})

	total := int64(len(owned))
	if offset >= len(owned) {
		return []*model.BookJob{}, total, nil
	}
	end := min(offset+limit, len(owned))
	out := make([]*model.BookJob, 0, end-offset)
	for _, job := range owned[offset:end] {
		out = append(out, job.Clone())
	}
	return out, total, nil
}

func (s *MemoryStore) ListLive(ctx context.Context) ([]*model.BookJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var live []*model.BookJob
	for _, job := range s.jobs {
		if !job.Status.Terminal() {
			live = append(live, job.Clone())
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].UpdatedAt.Before(live[j].UpdatedAt) })
	return live, nil
}

func (s *MemoryStore) AcquireLease(ctx context.Context, id, holder string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if l, ok := s.leases[id]; ok && now.Before(l.expires) && l.holder != holder {
		return fmt.Errorf("book %s: %w", id, ErrLeaseHeld)
	}
	s.leases[id] = lease{holder: holder, expires: now.Add(ttl)}
	return nil
}

func (s *MemoryStore) RenewLease(ctx context.Context, id, holder string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	l, ok := s.leases[id]
	if !ok || l.holder != holder || !now.Before(l.expires) {
		return fmt.Errorf("book %s: %w", id, ErrLeaseLost)
	}
	s.leases[id] = lease{holder: holder, expires: now.Add(ttl)}
	return nil
}

func (s *MemoryStore) ReleaseLease(ctx context.Context, id, holder string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.leases[id]; ok && l.holder == holder {
		delete(s.leases, id)
	}
	return nil
}

func (s *MemoryStore) LeaseHeld(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[id]
	return ok && s.now().Before(l.expires), nil
}
