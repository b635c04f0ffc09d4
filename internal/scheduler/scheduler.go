// Package scheduler drives jobs through the tiling, inference, and
// assembly phases over a bounded worker pool. Job state transitions are
// monotonic (pending -> running -> completed|failed) and the scheduler is
// the sole writer of a job's store record for the job's lifetime.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/visekai/tessellate/internal/assemble"
	"github.com/visekai/tessellate/internal/engine"
	"github.com/visekai/tessellate/internal/job"
	"github.com/visekai/tessellate/internal/jobstore"
	"github.com/visekai/tessellate/internal/tiler"
)

// Config holds scheduler parameters.
type Config struct {
	MaxConcurrentJobs int           // worker pool size, one slot per running job
	MaxBatchSize      int           // tiles per engine call, must respect the engine cap
	RetryCount        int           // retries per batch after the first attempt
	RetryBackoff      time.Duration // base backoff between attempts, doubled each retry
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentJobs: 4,
		MaxBatchSize:      8,
		RetryCount:        2,
		RetryBackoff:      500 * time.Millisecond,
	}
}

// Validate checks configuration invariants.
func (c Config) Validate() error {
	if c.MaxConcurrentJobs <= 0 {
		return errors.New("max concurrent jobs must be positive")
	}
	if c.MaxBatchSize <= 0 {
		return errors.New("max batch size must be positive")
	}
	if c.RetryCount < 0 {
		return errors.New("retry count cannot be negative")
	}
	return nil
}

// Scheduler owns job execution. Construct with New, release with Close.
type Scheduler struct {
	cfg       Config
	tiler     *tiler.Tiler
	engine    *engine.Engine
	assembler *assemble.Assembler
	store     jobstore.Store

	slots   chan struct{}
	baseCtx context.Context
	stop    context.CancelFunc

	mu      sync.Mutex
	cancels map[uuid.UUID]context.CancelFunc
	closed  bool
	wg      sync.WaitGroup
}

// New creates a scheduler over the given components.
func New(t *tiler.Tiler, e *engine.Engine, a *assemble.Assembler, store jobstore.Store, cfg Config) (*Scheduler, error) {
	if t == nil || e == nil || a == nil || store == nil {
		return nil, errors.New("scheduler requires tiler, engine, assembler and store")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxBatchSize > e.Config().MaxBatchSize {
		return nil, fmt.Errorf("scheduler batch size %d exceeds engine cap %d",
			cfg.MaxBatchSize, e.Config().MaxBatchSize)
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:       cfg,
		tiler:     t,
		engine:    e,
		assembler: a,
		store:     store,
		slots:     make(chan struct{}, cfg.MaxConcurrentJobs),
		baseCtx:   ctx,
		stop:      stop,
		cancels:   make(map[uuid.UUID]context.CancelFunc),
	}, nil
}

// Submit creates a job for one image and schedules it. Unknown mode,
// resolution, or output format strings are reported immediately and no
// job is created; undecodable images fail the job during its tiling
// phase. The scheduler takes ownership of the image buffer.
func (s *Scheduler) Submit(ctx context.Context, image []byte, mode, resolution, format string) (uuid.UUID, error) {
	m, err := job.ParseMode(mode)
	if err != nil {
		return uuid.Nil, &tiler.UnsupportedModeError{Mode: mode}
	}
	r, err := job.ParseResolution(resolution)
	if err != nil {
		return uuid.Nil, &tiler.UnsupportedModeError{Mode: resolution}
	}
	f, err := job.ParseOutputFormat(format)
	if err != nil {
		return uuid.Nil, err
	}

	j := job.Job{
		ID:         uuid.New(),
		State:      job.StatePending,
		Mode:       m,
		Resolution: r,
		Format:     f,
		CreatedAt:  time.Now().UTC(),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return uuid.Nil, errors.New("scheduler closed")
	}
	jobCtx, cancel := context.WithCancel(s.baseCtx)
	s.cancels[j.ID] = cancel
	s.wg.Add(1)
	s.mu.Unlock()

	if err := s.store.Put(ctx, j); err != nil {
		s.release(j.ID)
		s.wg.Done()
		return uuid.Nil, fmt.Errorf("failed to store job: %w", err)
	}
	jobsSubmitted.Inc()
	slog.Info("job submitted", "job_id", j.ID, "mode", m, "resolution", r)

	go s.run(jobCtx, j, image)
	return j.ID, nil
}

// Get returns the current snapshot for a job id.
func (s *Scheduler) Get(ctx context.Context, id uuid.UUID) (job.Job, error) {
	return s.store.Get(ctx, id)
}

// List returns job snapshots matching the filter.
func (s *Scheduler) List(ctx context.Context, f jobstore.Filter) ([]job.Job, error) {
	return s.store.List(ctx, f)
}

// Cancel requests cooperative cancellation of a pending or running job.
// An in-flight inference batch is allowed to finish; no further batches
// are issued. Terminal jobs cannot be cancelled.
func (s *Scheduler) Cancel(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()
	if ok {
		cancel()
		slog.Info("job cancellation requested", "job_id", id)
		return nil
	}

	j, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("cannot cancel job in state %s", j.State)
}

// Close stops accepting jobs, cancels anything still queued or running,
// and waits for workers to finish.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stop()
	s.wg.Wait()
	return nil
}

func (s *Scheduler) release(id uuid.UUID) {
	s.mu.Lock()
	if cancel, ok := s.cancels[id]; ok {
		cancel()
		delete(s.cancels, id)
	}
	s.mu.Unlock()
}

// run executes one job end to end on a worker slot.
func (s *Scheduler) run(ctx context.Context, j job.Job, image []byte) {
	defer s.wg.Done()
	defer s.release(j.ID)

	// Await a worker slot; cancellation while pending short-circuits.
	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-ctx.Done():
		s.fail(&j, job.ErrKindCancelled, errors.New("job cancelled"))
		return
	}

	now := time.Now().UTC()
	j.State = job.StateRunning
	j.StartedAt = &now
	s.persist(j)
	runningJobs.Inc()
	defer runningJobs.Dec()
	start := time.Now()

	// Phase 1: tiling. Failures here are user input errors, fatal.
	img, err := s.tiler.Decode(image)
	if err != nil {
		s.fail(&j, classify(err), err)
		return
	}
	tiling, err := s.tiler.Plan(j.ID, img, j.Mode, j.Resolution)
	if err != nil {
		s.fail(&j, classify(err), err)
		return
	}
	tilesPerJob.Observe(float64(len(tiling.Tiles)))

	// Phase 2: inference. Batches are dispatched sequentially per job;
	// cancellation is checked between batches, never mid-batch.
	results := make([]engine.TileResult, 0, len(tiling.Tiles))
	for _, batch := range splitBatches(tiling.Tiles, s.cfg.MaxBatchSize) {
		if ctx.Err() != nil {
			s.fail(&j, job.ErrKindCancelled, errors.New("job cancelled"))
			return
		}
		batchResults, err := s.inferWithRetry(ctx, j.ID, batch)
		if err != nil {
			s.fail(&j, classify(err), err)
			return
		}
		results = append(results, batchResults...)
	}
	if ctx.Err() != nil {
		s.fail(&j, job.ErrKindCancelled, errors.New("job cancelled"))
		return
	}

	// Phase 3: assembly. Failures indicate a programming defect.
	doc, err := s.assembler.Assemble(tiling, results)
	if err != nil {
		s.fail(&j, job.ErrKindInternal, err)
		return
	}

	done := time.Now().UTC()
	j.State = job.StateCompleted
	j.Result = doc
	j.CompletedAt = &done
	s.persist(j)
	jobsFinished.WithLabelValues(string(job.StateCompleted)).Inc()
	jobDuration.Observe(time.Since(start).Seconds())
	slog.Info("job completed", "job_id", j.ID,
		"tiles", len(tiling.Tiles), "confidence", doc.Confidence,
		"duration", time.Since(start))
}

// inferWithRetry runs one batch with the job-level retry budget. Only
// engine timeouts are retried; the in-flight call itself is shielded from
// job cancellation so batches always finish once dispatched.
func (s *Scheduler) inferWithRetry(ctx context.Context, id uuid.UUID, batch []tiler.Tile) ([]engine.TileResult, error) {
	attempts := s.cfg.RetryCount + 1
	backoff := s.cfg.RetryBackoff
	for attempt := 1; ; attempt++ {
		results, err := s.engine.Infer(context.WithoutCancel(ctx), batch)
		if err == nil {
			return results, nil
		}
		var timeout *engine.EngineTimeoutError
		if !errors.As(err, &timeout) || attempt >= attempts {
			return nil, err
		}
		batchRetries.Inc()
		slog.Warn("inference timed out, retrying",
			"job_id", id, "attempt", attempt, "max_attempts", attempts, "backoff", backoff)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		backoff *= 2
	}
}

func (s *Scheduler) fail(j *job.Job, kind job.ErrorKind, err error) {
	now := time.Now().UTC()
	j.State = job.StateFailed
	j.ErrorKind = kind
	j.Error = err.Error()
	j.CompletedAt = &now
	s.persist(*j)
	jobsFinished.WithLabelValues(string(kind)).Inc()
	if kind == job.ErrKindCancelled {
		slog.Info("job cancelled", "job_id", j.ID)
		return
	}
	slog.Error("job failed", "job_id", j.ID, "kind", kind, "error", err)
}

// persist writes the authoritative snapshot. Store write failures are
// logged but do not alter the in-memory state machine.
func (s *Scheduler) persist(j job.Job) {
	if err := s.store.Put(context.Background(), j); err != nil {
		slog.Error("failed to persist job state", "job_id", j.ID, "state", j.State, "error", err)
	}
}

// classify maps component errors onto the job error taxonomy.
func classify(err error) job.ErrorKind {
	var (
		invalidImage *tiler.InvalidImageError
		badMode      *tiler.UnsupportedModeError
		timeout      *engine.EngineTimeoutError
		unavailable  *engine.EngineUnavailableError
		tooLarge     *engine.BatchTooLargeError
	)
	switch {
	case errors.As(err, &invalidImage):
		return job.ErrKindInvalidImage
	case errors.As(err, &badMode):
		return job.ErrKindUnsupportedMode
	case errors.As(err, &timeout):
		return job.ErrKindEngineTimeout
	case errors.As(err, &unavailable):
		return job.ErrKindEngineUnavailable
	case errors.As(err, &tooLarge):
		return job.ErrKindBatchTooLarge
	case errors.Is(err, context.Canceled):
		return job.ErrKindCancelled
	}
	return job.ErrKindInternal
}

func splitBatches(tiles []tiler.Tile, size int) [][]tiler.Tile {
	var batches [][]tiler.Tile
	for start := 0; start < len(tiles); start += size {
		end := min(start+size, len(tiles))
		batches = append(batches, tiles[start:end])
	}
	return batches
}
