package jobstore

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/visekai/tessellate/internal/job"
)

// RedisStore is a shared store over Redis, for deployments where the
// transport layer polls job state from a different process than the one
// running the scheduler. TTL expiry is delegated to Redis.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to the Redis instance at the given URL.
func NewRedisStore(url string, ttl time.Duration) (*RedisStore, error) {
	if url == "" {
		return nil, errors.New("redis url cannot be empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: redis.NewClient(opts), ttl: ttl}, nil
}

// Put stores the job snapshot, refreshing its TTL.
func (s *RedisStore) Put(ctx context.Context, j job.Job) error {
	val, err := encode(j)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key(j.ID), val, s.ttl).Err()
}

// Get returns the stored snapshot or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, id uuid.UUID) (job.Job, error) {
	raw, err := s.client.Get(ctx, key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return job.Job{}, ErrNotFound
	}
	if err != nil {
		return job.Job{}, err
	}
	return decode(raw)
}

// List returns stored snapshots matching the filter, newest first.
func (s *RedisStore) List(ctx context.Context, f Filter) ([]job.Job, error) {
	var jobs []job.Job
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		raw, err := s.client.Get(ctx, iter.Val()).Result()
		if errors.Is(err, redis.Nil) {
			continue // expired between scan and get
		}
		if err != nil {
			return nil, err
		}
		j, err := decode(raw)
		if err != nil {
			return nil, err
		}
		if f.State == "" || j.State == f.State {
			jobs = append(jobs, j)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return sortAndLimit(jobs, f), nil
}

// Close releases the client connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
