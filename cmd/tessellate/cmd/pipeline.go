package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/visekai/tessellate/internal/assemble"
	"github.com/visekai/tessellate/internal/config"
	"github.com/visekai/tessellate/internal/engine"
	"github.com/visekai/tessellate/internal/jobstore"
	"github.com/visekai/tessellate/internal/scheduler"
	"github.com/visekai/tessellate/internal/tiler"
)

// components bundles the constructed pipeline for teardown.
type components struct {
	Scheduler *scheduler.Scheduler
	Engine    *engine.Engine
	Store     jobstore.Store
}

// Close tears the pipeline down in dependency order.
func (c *components) Close() {
	if c.Scheduler != nil {
		_ = c.Scheduler.Close()
	}
	if c.Engine != nil {
		_ = c.Engine.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

// buildPipeline constructs the tiler, engine, assembler, store, and
// scheduler from the loaded configuration.
func buildPipeline(cfg *config.Config) (*components, error) {
	t, err := tiler.New(tiler.Config{
		BasePixelSize:  cfg.Pipeline.Tiler.BasePixelSize,
		TileTargetSize: cfg.Pipeline.Tiler.TileTargetSize,
		MinCrops:       cfg.Pipeline.Tiler.MinCrops,
		MaxCrops:       cfg.Pipeline.Tiler.MaxCrops,
		CropMode:       cfg.Pipeline.Tiler.CropMode,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build tiler: %w", err)
	}

	var model engine.Model
	if url := cfg.Pipeline.Engine.ModelURL; url != "" {
		model = engine.NewHTTPModel(url)
	} else {
		slog.Warn("no model URL configured, using the deterministic fake model")
		model = &engine.FakeModel{}
	}

	eng, err := engine.New(model, engine.Config{
		MaxBatchSize: cfg.Pipeline.Engine.MaxBatchSize,
		Timeout:      time.Duration(cfg.Pipeline.Engine.TimeoutMs) * time.Millisecond,
		Devices:      cfg.Pipeline.Engine.Devices,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build engine: %w", err)
	}

	asm, err := assemble.New(assemble.Config{
		SimilarityThreshold: cfg.Pipeline.Assembler.SimilarityThreshold,
	})
	if err != nil {
		_ = eng.Close()
		return nil, fmt.Errorf("failed to build assembler: %w", err)
	}

	store, err := jobstore.Open(jobstore.Config{
		Backend:  cfg.Store.Backend,
		RedisURL: cfg.Store.RedisURL,
		JobTTL:   time.Duration(cfg.Store.JobTTLSeconds) * time.Second,
	})
	if err != nil {
		_ = eng.Close()
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}

	sched, err := scheduler.New(t, eng, asm, store, scheduler.Config{
		MaxConcurrentJobs: cfg.Pipeline.Scheduler.MaxConcurrentJobs,
		MaxBatchSize:      cfg.Pipeline.Engine.MaxBatchSize,
		RetryCount:        cfg.Pipeline.Scheduler.RetryCount,
		RetryBackoff:      time.Duration(cfg.Pipeline.Scheduler.RetryBackoffMs) * time.Millisecond,
	})
	if err != nil {
		_ = eng.Close()
		_ = store.Close()
		return nil, fmt.Errorf("failed to build scheduler: %w", err)
	}

	return &components{Scheduler: sched, Engine: eng, Store: store}, nil
}
