// Package batch submits many images through the job pipeline from the
// command line: file discovery, parallel submission over a worker pool,
// and result formatting.
package batch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/visekai/tessellate/internal/job"
)

// Submitter is the slice of the scheduler the batch runner needs.
type Submitter interface {
	Submit(ctx context.Context, image []byte, mode, resolution, format string) (uuid.UUID, error)
	Get(ctx context.Context, id uuid.UUID) (job.Job, error)
}

// Run discovers image files under the given paths and drives each one
// through the pipeline, at most cfg.Workers files in flight at a time.
// Per-file failures are recorded on the result, not returned as errors.
func Run(ctx context.Context, sched Submitter, paths []string, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	files, err := discoverImageFiles(paths, cfg.Recursive, cfg.IncludePatterns, cfg.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to discover image files: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no image files found")
	}

	start := time.Now()
	results := processFilesParallel(ctx, sched, files, cfg)
	return &Result{
		Results:     results,
		Duration:    time.Since(start),
		WorkerCount: cfg.Workers,
	}, nil
}

// processFilesParallel fans the files out over a bounded worker pool and
// returns per-file results in discovery order.
func processFilesParallel(ctx context.Context, sched Submitter, files []string, cfg Config) []FileResult {
	type indexed struct {
		idx  int
		path string
	}

	work := make(chan indexed)
	results := make([]FileResult, len(files))

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range work {
				results[item.idx] = processFile(ctx, sched, item.path, cfg)
			}
		}()
	}

	for i, path := range files {
		work <- indexed{idx: i, path: path}
	}
	close(work)
	wg.Wait()

	sort.SliceStable(results, func(i, k int) bool { return results[i].Path < results[k].Path })
	return results
}

// processFile submits one file and polls until its job is terminal.
func processFile(ctx context.Context, sched Submitter, path string, cfg Config) FileResult {
	fr := FileResult{Path: path}

	data, err := os.ReadFile(path) //nolint:gosec // paths come from CLI discovery
	if err != nil {
		fr.Job = failedJob(job.ErrKindInvalidImage, fmt.Errorf("failed to read %s: %w", path, err))
		return fr
	}

	id, err := sched.Submit(ctx, data, cfg.Mode, cfg.Resolution, cfg.Format)
	if err != nil {
		fr.Job = failedJob(job.ErrKindUnsupportedMode, err)
		return fr
	}

	for {
		j, err := sched.Get(ctx, id)
		if err != nil {
			fr.Job = failedJob(job.ErrKindInternal, err)
			return fr
		}
		if j.State.Terminal() {
			fr.Job = j
			return fr
		}
		select {
		case <-time.After(cfg.PollInterval):
		case <-ctx.Done():
			fr.Job = failedJob(job.ErrKindCancelled, ctx.Err())
			return fr
		}
	}
}

// failedJob synthesizes a terminal snapshot for files that never made it
// into the pipeline, so formatting treats all outcomes uniformly.
func failedJob(kind job.ErrorKind, err error) job.Job {
	now := time.Now().UTC()
	return job.Job{
		State:       job.StateFailed,
		ErrorKind:   kind,
		Error:       err.Error(),
		CreatedAt:   now,
		CompletedAt: &now,
	}
}
