package jobstore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/buntdb"

	"github.com/visekai/tessellate/internal/job"
)

// MemoryStore is an in-process store backed by buntdb. buntdb gives us
// concurrent readers during writes and native per-key TTL expiry, which
// is exactly the retention contract.
type MemoryStore struct {
	db  *buntdb.DB
	ttl time.Duration
}

// NewMemoryStore creates an in-memory store with the given retention TTL.
func NewMemoryStore(ttl time.Duration) (*MemoryStore, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, err
	}
	return &MemoryStore{db: db, ttl: ttl}, nil
}

// Put stores the job snapshot, refreshing its TTL.
func (s *MemoryStore) Put(_ context.Context, j job.Job) error {
	val, err := encode(j)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		var opts *buntdb.SetOptions
		if s.ttl > 0 {
			opts = &buntdb.SetOptions{Expires: true, TTL: s.ttl}
		}
		_, _, err := tx.Set(key(j.ID), val, opts)
		return err
	})
}

// Get returns the stored snapshot or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (job.Job, error) {
	var raw string
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key(id))
		if err != nil {
			return err
		}
		raw = v
		return nil
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return job.Job{}, ErrNotFound
	}
	if err != nil {
		return job.Job{}, err
	}
	return decode(raw)
}

// List returns stored snapshots matching the filter, newest first.
func (s *MemoryStore) List(_ context.Context, f Filter) ([]job.Job, error) {
	var jobs []job.Job
	err := s.db.View(func(tx *buntdb.Tx) error {
		var inner error
		iterErr := tx.AscendKeys(keyPrefix+"*", func(_, value string) bool {
			j, err := decode(value)
			if err != nil {
				inner = err
				return false
			}
			if f.State == "" || j.State == f.State {
				jobs = append(jobs, j)
			}
			return true
		})
		if inner != nil {
			return inner
		}
		return iterErr
	})
	if err != nil {
		return nil, err
	}
	return sortAndLimit(jobs, f), nil
}

// Close releases the underlying database.
func (s *MemoryStore) Close() error {
	return s.db.Close()
}
