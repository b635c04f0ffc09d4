// Package assemble merges per-tile inference output into one
// document-level result. Merge order and the confidence formula are
// policy choices, not model behavior: tiles merge top-to-bottom then
// left-to-right, and aggregate confidence is the length-weighted mean of
// tile confidences.
package assemble

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/agext/levenshtein"
	"golang.org/x/text/unicode/norm"

	"github.com/visekai/tessellate/internal/engine"
	"github.com/visekai/tessellate/internal/job"
	"github.com/visekai/tessellate/internal/tiler"
)

// Config holds assembler parameters.
type Config struct {
	// SimilarityThreshold is the normalized similarity above which two
	// text lines from overlapping tiles count as the same span.
	SimilarityThreshold float64
}

// DefaultConfig returns the default assembler configuration.
func DefaultConfig() Config {
	return Config{SimilarityThreshold: 0.85}
}

// Validate checks configuration invariants.
func (c Config) Validate() error {
	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return errors.New("similarity threshold must be in (0, 1]")
	}
	return nil
}

// Assembler merges tile results according to an immutable configuration.
type Assembler struct {
	cfg Config
}

// New creates an assembler with the given configuration.
func New(cfg Config) (*Assembler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Assembler{cfg: cfg}, nil
}

// contribution tracks the lines a tile added to the merged document,
// used to de-duplicate spans shared with overlapping tiles.
type contribution struct {
	tile  tiler.Tile
	lines []string
}

// Assemble merges the ordered tile results for one tiling into a
// DocumentResult. It requires exactly one result per tile; anything else
// is an invariant violation and fails the call.
func (a *Assembler) Assemble(tiling tiler.Tiling, results []engine.TileResult) (*job.DocumentResult, error) {
	if len(results) != len(tiling.Tiles) {
		return nil, fmt.Errorf("got %d tile results for %d tiles", len(results), len(tiling.Tiles))
	}
	byIndex := make(map[int]engine.TileResult, len(results))
	for _, r := range results {
		byIndex[r.Index] = r
	}
	for _, t := range tiling.Tiles {
		if _, ok := byIndex[t.Index]; !ok {
			return nil, fmt.Errorf("missing result for tile %d", t.Index)
		}
	}

	crops := tiling.Crops()
	var text string
	if len(crops) == 0 {
		// No crops: the base view is authoritative.
		text = cleanText(byIndex[tiling.Base().Index].Text)
	} else {
		text = a.mergeCrops(crops, byIndex)
	}

	doc := &job.DocumentResult{
		Text:       text,
		Markdown:   renderMarkdown(text),
		Confidence: aggregateConfidence(tiling, byIndex, len(crops) > 0),
		Tiles:      traces(tiling, byIndex),
	}
	return doc, nil
}

// mergeCrops joins crop texts in spatial order, dropping lines that
// duplicate a span already contributed by an overlapping crop.
func (a *Assembler) mergeCrops(crops []tiler.Tile, byIndex map[int]engine.TileResult) string {
	ordered := make([]tiler.Tile, len(crops))
	copy(ordered, crops)
	sort.SliceStable(ordered, func(i, j int) bool {
		ri, rj := ordered[i].Region, ordered[j].Region
		if ri.Min.Y != rj.Min.Y {
			return ri.Min.Y < rj.Min.Y
		}
		return ri.Min.X < rj.Min.X
	})

	var merged []string
	var contribs []contribution
	for _, t := range ordered {
		var kept []string
		for _, line := range splitLines(byIndex[t.Index].Text) {
			if a.duplicatesEarlier(t, line, contribs) {
				continue
			}
			kept = append(kept, line)
			merged = append(merged, line)
		}
		contribs = append(contribs, contribution{tile: t, lines: kept})
	}
	return strings.Join(merged, "\n")
}

// duplicatesEarlier reports whether line repeats a span already emitted
// by a crop whose region overlaps t's region.
func (a *Assembler) duplicatesEarlier(t tiler.Tile, line string, contribs []contribution) bool {
	for _, c := range contribs {
		if !c.tile.Region.Overlaps(t.Region) {
			continue
		}
		for _, prev := range c.lines {
			if similarity(prev, line) >= a.cfg.SimilarityThreshold {
				return true
			}
		}
	}
	return false
}

// aggregateConfidence is the length-weighted mean of tile confidences:
// tiles contributing more characters weigh more. With no text at all it
// falls back to a plain mean over the used tiles.
func aggregateConfidence(tiling tiler.Tiling, byIndex map[int]engine.TileResult, useCrops bool) float64 {
	used := tiling.Tiles[:1]
	if useCrops {
		used = tiling.Crops()
	}
	var weighted, totalChars, plain float64
	for _, t := range used {
		r := byIndex[t.Index]
		n := float64(len([]rune(strings.TrimSpace(r.Text))))
		weighted += r.Confidence * n
		totalChars += n
		plain += r.Confidence
	}
	if totalChars > 0 {
		return weighted / totalChars
	}
	if len(used) > 0 {
		return plain / float64(len(used))
	}
	return 0
}

func traces(tiling tiler.Tiling, byIndex map[int]engine.TileResult) []job.TileTrace {
	out := make([]job.TileTrace, len(tiling.Tiles))
	for i, t := range tiling.Tiles {
		r := byIndex[t.Index]
		out[i] = job.TileTrace{
			Index: t.Index,
			Region: job.Region{
				X: t.Region.Min.X,
				Y: t.Region.Min.Y,
				W: t.Region.Dx(),
				H: t.Region.Dy(),
			},
			Confidence: r.Confidence,
			Chars:      len([]rune(r.Text)),
		}
	}
	return out
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if t := strings.TrimRight(line, " \t\r"); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func cleanText(s string) string {
	return strings.Join(splitLines(s), "\n")
}

// similarity compares two lines after NFC normalization and whitespace
// trimming, returning a score in [0, 1].
func similarity(a, b string) float64 {
	na := norm.NFC.String(strings.TrimSpace(a))
	nb := norm.NFC.String(strings.TrimSpace(b))
	if na == "" || nb == "" {
		return 0
	}
	return levenshtein.Similarity(na, nb, nil)
}
