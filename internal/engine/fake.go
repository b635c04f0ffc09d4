package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/visekai/tessellate/internal/tiler"
)

// FakeModel is a deterministic in-process Model used by tests and by the
// CLI when no remote backend is configured. Output text is derived from
// tile geometry so identical inputs always produce identical results.
type FakeModel struct {
	// Errs is consumed one entry per Infer call; a non-nil entry fails
	// that call with the given error before any tile is processed.
	Errs []error
	// Delay is slept per call while honoring the context, so tests can
	// trigger engine timeouts.
	Delay time.Duration
	// TileFails marks tile indexes that produce an empty zero-confidence
	// result instead of text.
	TileFails map[int]bool
	// TextFor overrides the default deterministic text generator.
	TextFor func(t tiler.Tile) string

	mu      sync.Mutex
	calls   int
	batches [][]int
}

// Infer implements Model.
func (m *FakeModel) Infer(ctx context.Context, tiles []tiler.Tile) ([]TileResult, error) {
	m.mu.Lock()
	call := m.calls
	m.calls++
	indexes := make([]int, len(tiles))
	for i, t := range tiles {
		indexes[i] = t.Index
	}
	m.batches = append(m.batches, indexes)
	var scripted error
	if call < len(m.Errs) {
		scripted = m.Errs[call]
	}
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if scripted != nil {
		return nil, scripted
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]TileResult, len(tiles))
	for i, t := range tiles {
		if m.TileFails[t.Index] {
			results[i] = TileResult{Index: t.Index}
			continue
		}
		results[i] = TileResult{
			Index:      t.Index,
			Text:       m.textFor(t),
			Confidence: 0.9,
		}
	}
	return results, nil
}

func (m *FakeModel) textFor(t tiler.Tile) string {
	if m.TextFor != nil {
		return m.TextFor(t)
	}
	r := t.Region
	return fmt.Sprintf("tile %d text (%d,%d %dx%d)", t.Index, r.Min.X, r.Min.Y, r.Dx(), r.Dy())
}

// Calls returns how many Infer calls the model has seen.
func (m *FakeModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Batches returns the tile indexes of every batch received, in order.
func (m *FakeModel) Batches() [][]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]int, len(m.batches))
	copy(out, m.batches)
	return out
}
