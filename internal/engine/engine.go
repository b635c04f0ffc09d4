// Package engine wraps the opaque OCR model behind a batch inference
// interface. The model is assumed single-threaded per device, so the
// engine funnels all batches through a FIFO admission queue with one
// dispatcher goroutine per device. Callers from concurrent jobs share the
// queue fairly; nobody is starved because admission order is preserved.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/visekai/tessellate/internal/job"
	"github.com/visekai/tessellate/internal/tiler"
)

// TileResult is the per-tile output of one inference pass.
type TileResult struct {
	Index      int          `json:"index"`
	Text       string       `json:"text"`
	Confidence float64      `json:"confidence"`
	Boxes      []job.Region `json:"boxes,omitempty"`
}

// Model is the capability interface over the underlying OCR model.
// Implementations must return one result per input tile, in input order.
type Model interface {
	Infer(ctx context.Context, tiles []tiler.Tile) ([]TileResult, error)
}

// Config holds engine parameters.
type Config struct {
	MaxBatchSize int           // hard cap on tiles per Infer call
	Timeout      time.Duration // per-batch model call timeout
	Devices      int           // dispatcher goroutines, one per physical device
	QueueDepth   int           // buffered admission queue length
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		MaxBatchSize: 8,
		Timeout:      30 * time.Second,
		Devices:      1,
		QueueDepth:   64,
	}
}

// Validate checks configuration invariants.
func (c Config) Validate() error {
	if c.MaxBatchSize <= 0 {
		return errors.New("max batch size must be positive")
	}
	if c.Timeout <= 0 {
		return errors.New("engine timeout must be positive")
	}
	if c.Devices <= 0 {
		return errors.New("device count must be positive")
	}
	return nil
}

// ErrEngineClosed is returned for calls after Close.
var ErrEngineClosed = errors.New("inference engine closed")

type request struct {
	ctx   context.Context
	tiles []tiler.Tile
	reply chan response
}

type response struct {
	results []TileResult
	err     error
}

// Engine owns all access to the inference model. It is safe for use by
// multiple concurrent jobs.
type Engine struct {
	cfg      Config
	model    Model
	requests chan *request
	done     chan struct{}
	wg       sync.WaitGroup

	mu     sync.RWMutex // guards closed against concurrent enqueues
	closed bool
}

// New creates an engine over the given model and starts its dispatchers.
func New(model Model, cfg Config) (*Engine, error) {
	if model == nil {
		return nil, errors.New("model cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = DefaultConfig().QueueDepth
	}
	e := &Engine{
		cfg:      cfg,
		model:    model,
		requests: make(chan *request, cfg.QueueDepth),
		done:     make(chan struct{}),
	}
	for i := 0; i < cfg.Devices; i++ {
		e.wg.Add(1)
		go e.dispatch()
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.cfg }

// Infer runs one batch of tiles through the model and returns results in
// input order, one per tile. Batches above MaxBatchSize are rejected with
// *BatchTooLargeError. Model timeouts surface as *EngineTimeoutError,
// device failures as *EngineUnavailableError.
func (e *Engine) Infer(ctx context.Context, tiles []tiler.Tile) ([]TileResult, error) {
	if len(tiles) == 0 {
		return nil, errors.New("empty batch")
	}
	if len(tiles) > e.cfg.MaxBatchSize {
		err := &BatchTooLargeError{Size: len(tiles), Max: e.cfg.MaxBatchSize}
		// Config/programming defect: should never happen when the
		// scheduler splits batches correctly.
		slog.Error("batch exceeds engine cap", "size", len(tiles), "max", e.cfg.MaxBatchSize)
		return nil, err
	}

	req := &request{ctx: ctx, tiles: tiles, reply: make(chan response, 1)}

	// Enqueue under the read lock so Close cannot finish its drain while a
	// send is still in flight; every accepted request gets a reply.
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ErrEngineClosed
	}
	select {
	case e.requests <- req:
		e.mu.RUnlock()
	case <-ctx.Done():
		e.mu.RUnlock()
		return nil, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		return resp.results, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the dispatchers. In-flight batches finish; queued requests
// are failed with ErrEngineClosed. Close is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.done)
	}
	e.mu.Unlock()
	e.wg.Wait()
	return nil
}

func (e *Engine) dispatch() {
	defer e.wg.Done()
	for {
		select {
		case req := <-e.requests:
			results, err := e.runBatch(req.ctx, req.tiles)
			req.reply <- response{results: results, err: err}
		case <-e.done:
			// Fail anything still queued before exiting.
			for {
				select {
				case req := <-e.requests:
					req.reply <- response{err: ErrEngineClosed}
				default:
					return
				}
			}
		}
	}
}

func (e *Engine) runBatch(ctx context.Context, tiles []tiler.Tile) ([]TileResult, error) {
	cctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	results, err := e.model.Infer(cctx, tiles)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &EngineTimeoutError{Timeout: e.cfg.Timeout, Err: err}
		}
		return nil, &EngineUnavailableError{Err: err}
	}
	if len(results) != len(tiles) {
		return nil, &EngineUnavailableError{
			Err: errors.New("model returned wrong result count"),
		}
	}
	// Re-stamp indexes so results always line up with input tiles,
	// regardless of what the model put there.
	for i := range results {
		results[i].Index = tiles[i].Index
	}
	return results, nil
}
