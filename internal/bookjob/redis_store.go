package bookjob

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/littlehero/api/internal/model"
	"github.com/redis/go-redis/v9"
)

const maxUpdateAttempts = 10

// renewScript extends the lease only while holder still owns it.
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the lease only while holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// liveKey indexes the jobs that have not reached a terminal status.
const liveKey = "books:live"

// RedisStore keeps each job as a JSON document at book:{id}, an owner
// index sorted by creation time, the live set, and leases at
// book:lease:{id}.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func jobKey(id string) string {
	return fmt.Sprintf("book:%s", id)
}

func leaseKey(id string) string {
	return fmt.Sprintf("book:lease:%s", id)
}

func ownerKey(ownerID string) string {
	return fmt.Sprintf("books:owner:%s", ownerID)
}

func (s *RedisStore) Create(ctx context.Context, job *model.BookJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal book %s: %w", job.ID, err)
	}

	ok, err := s.rdb.SetNX(ctx, jobKey(job.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to save book %s: %w", job.ID, err)
	}
	if !ok {
		return fmt.Errorf("book %s: %w", job.ID, ErrExists)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, ownerKey(job.OwnerID), redis.Z{
			Score:  float64(job.CreatedAt.UnixMilli()),
			Member: job.ID,
		})
		if !job.Status.Terminal() {
			pipe.SAdd(ctx, liveKey, job.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to index book %s: %w", job.ID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*model.BookJob, error) {
	data, err := s.rdb.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("book %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load book %s: %w", id, err)
	}
	return decodeJob(id, data)
}

func decodeJob(id string, data []byte) (*model.BookJob, error) {
	var job model.BookJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode book %s: %w", id, err)
	}
	if job.AssetRefs == nil {
		job.AssetRefs = map[string]string{}
	}
	return &job, nil
}

// Update runs fn inside WATCH/MULTI and retries when another writer got
// there first.
func (s *RedisStore) Update(ctx context.Context, id string, fn UpdateFunc) (*model.BookJob, error) {
	key := jobKey(id)
	var updated *model.BookJob

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("book %s: %w", id, ErrNotFound)
			}
			return err
		}
		job, err := decodeJob(id, data)
		if err != nil {
			return err
		}
		if err := fn(job); err != nil {
			return err
		}
		out, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal book %s: %w", id, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			if job.Status.Terminal() {
				pipe.SRem(ctx, liveKey, id)
			}
			return nil
		})
		if err == nil {
			updated = job
		}
		return err
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		err := s.rdb.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("book %s: %w", id, ErrConflict)
}

func (s *RedisStore) ListByOwner(ctx context.Context, ownerID string, offset, limit int) ([]*model.BookJob, int64, error) {
	key := ownerKey(ownerID)
	total, err := s.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count books: %w", err)
	}

	ids, err := s.rdb.ZRevRange(ctx, key, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list books: %w", err)
	}
	if len(ids) == 0 {
		return []*model.BookJob{}, total, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = jobKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load books: %w", err)
	}

	jobs := make([]*model.BookJob, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		job, err := decodeJob(ids[i], []byte(raw))
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}
	return jobs, total, nil
}

func (s *RedisStore) ListLive(ctx context.Context) ([]*model.BookJob, error) {
	ids, err := s.rdb.SMembers(ctx, liveKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list live books: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = jobKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load live books: %w", err)
	}

	jobs := make([]*model.BookJob, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		job, err := decodeJob(ids[i], []byte(raw))
		if err != nil {
			return nil, err
		}
		if !job.Status.Terminal() {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

func (s *RedisStore) AcquireLease(ctx context.Context, id, holder string, ttl time.Duration) error {
	ok, err := s.rdb.SetNX(ctx, leaseKey(id), holder, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire lease on book %s: %w", id, err)
	}
	if ok {
		return nil
	}
	// re-entrant for the same holder
	if err := s.RenewLease(ctx, id, holder, ttl); err == nil {
		return nil
	}
	return fmt.Errorf("book %s: %w", id, ErrLeaseHeld)
}

func (s *RedisStore) RenewLease(ctx context.Context, id, holder string, ttl time.Duration) error {
	n, err := renewScript.Run(ctx, s.rdb, []string{leaseKey(id)}, holder, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("failed to renew lease on book %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("book %s: %w", id, ErrLeaseLost)
	}
	return nil
}

func (s *RedisStore) ReleaseLease(ctx context.Context, id, holder string) error {
	if err := releaseScript.Run(ctx, s.rdb, []string{leaseKey(id)}, holder).Err(); err != nil {
		return fmt.Errorf("failed to release lease on book %s: %w", id, err)
	}
	return nil
}

func (s *RedisStore) LeaseHeld(ctx context.Context, id string) (bool, error) {
	n, err := s.rdb.Exists(ctx, leaseKey(id)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check lease on book %s: %w", id, err)
	}
	return n > 0, nil
}
