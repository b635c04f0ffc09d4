// Package jobstore holds the authoritative job snapshots consulted by the
// transport layer. The scheduler is the sole writer per job id, so
// last-writer-wins semantics are sufficient; reads must never block
// scheduler writes for long. Records expire per the store's retention TTL.
package jobstore

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/visekai/tessellate/internal/job"
)

// ErrNotFound is returned when no record exists for a job id, including
// records already evicted by the retention policy.
var ErrNotFound = errors.New("job not found")

// Filter narrows List results.
type Filter struct {
	State job.State // empty matches all states
	Limit int       // 0 means no limit
}

// Store is the shared key-value record of job state keyed by job id.
type Store interface {
	Put(ctx context.Context, j job.Job) error
	Get(ctx context.Context, id uuid.UUID) (job.Job, error)
	List(ctx context.Context, f Filter) ([]job.Job, error)
	Close() error
}

// Config holds store parameters.
type Config struct {
	Backend  string        // "memory" or "redis"
	RedisURL string        // required for the redis backend
	JobTTL   time.Duration // retention per record, 0 keeps records forever
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		Backend: "memory",
		JobTTL:  24 * time.Hour,
	}
}

// Open creates a store for the configured backend.
func Open(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(cfg.JobTTL)
	case "redis":
		return NewRedisStore(cfg.RedisURL, cfg.JobTTL)
	}
	return nil, errors.New("unknown store backend: " + cfg.Backend)
}

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

const keyPrefix = "job:"

func key(id uuid.UUID) string { return keyPrefix + id.String() }

func encode(j job.Job) (string, error) {
	b, err := codec.Marshal(j)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decode(s string) (job.Job, error) {
	var j job.Job
	err := codec.UnmarshalFromString(s, &j)
	return j, err
}

// sortAndLimit orders jobs newest-first and applies the filter limit.
func sortAndLimit(jobs []job.Job, f Filter) []job.Job {
	sort.Slice(jobs, func(i, k int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
		}
		return jobs[i].ID.String() < jobs[k].ID.String()
	})
	if f.Limit > 0 && len(jobs) > f.Limit {
		jobs = jobs[:f.Limit]
	}
	return jobs
}
