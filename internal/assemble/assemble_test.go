package assemble

import (
	"image"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visekai/tessellate/internal/engine"
	"github.com/visekai/tessellate/internal/tiler"
)

func newAssembler(t *testing.T) *Assembler {
	t.Helper()
	a, err := New(DefaultConfig())
	require.NoError(t, err)
	return a
}

// tilingOf builds a tiling from explicit regions. The first region is the
// base view, the rest are crops.
func tilingOf(regions ...image.Rectangle) tiler.Tiling {
	id := uuid.New()
	tiling := tiler.Tiling{
		JobID:        id,
		SourceWidth:  regions[0].Dx(),
		SourceHeight: regions[0].Dy(),
	}
	for i, r := range regions {
		tiling.Tiles = append(tiling.Tiles, tiler.Tile{
			JobID:  id,
			Index:  i,
			Region: r,
		})
	}
	return tiling
}

func resultsOf(texts ...string) []engine.TileResult {
	out := make([]engine.TileResult, len(texts))
	for i, text := range texts {
		out[i] = engine.TileResult{Index: i, Text: text, Confidence: 0.9}
	}
	return out
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	require.Error(t, Config{SimilarityThreshold: 0}.Validate())
	require.Error(t, Config{SimilarityThreshold: 1.5}.Validate())
}

func TestAssemble_ResultCountMismatch(t *testing.T) {
	a := newAssembler(t)
	tiling := tilingOf(image.Rect(0, 0, 100, 100))

	_, err := a.Assemble(tiling, nil)
	require.Error(t, err)

	_, err = a.Assemble(tiling, resultsOf("one", "two"))
	require.Error(t, err)
}

func TestAssemble_MissingTileIndex(t *testing.T) {
	a := newAssembler(t)
	tiling := tilingOf(image.Rect(0, 0, 100, 100), image.Rect(0, 0, 50, 100), image.Rect(50, 0, 100, 100))

	results := resultsOf("base", "left", "right")
	results[2].Index = 42
	_, err := a.Assemble(tiling, results)
	require.Error(t, err)
}

func TestAssemble_BaseOnly(t *testing.T) {
	a := newAssembler(t)
	tiling := tilingOf(image.Rect(0, 0, 100, 100))

	doc, err := a.Assemble(tiling, resultsOf("hello world\n\n  \nsecond line  "))
	require.NoError(t, err)
	assert.Equal(t, "hello world\nsecond line", doc.Text)
	assert.InDelta(t, 0.9, doc.Confidence, 1e-9)
	require.Len(t, doc.Tiles, 1)
	assert.Equal(t, 0, doc.Tiles[0].Index)
}

func TestAssemble_CropsMergeInSpatialOrder(t *testing.T) {
	a := newAssembler(t)
	// Crops deliberately indexed out of spatial order: the merge must
	// follow geometry, not tile index.
	tiling := tilingOf(
		image.Rect(0, 0, 100, 200),
		image.Rect(0, 100, 100, 200), // bottom
		image.Rect(0, 0, 100, 100),   // top
	)

	doc, err := a.Assemble(tiling, resultsOf("base text", "bottom text", "top text"))
	require.NoError(t, err)
	assert.Equal(t, "top text\nbottom text", doc.Text)
}

func TestAssemble_RowsMergeLeftToRight(t *testing.T) {
	a := newAssembler(t)
	tiling := tilingOf(
		image.Rect(0, 0, 200, 200),
		image.Rect(100, 0, 200, 100), // top right
		image.Rect(0, 0, 100, 100),   // top left
		image.Rect(0, 100, 200, 200), // bottom
	)

	doc, err := a.Assemble(tiling, resultsOf("base", "B", "A", "C"))
	require.NoError(t, err)
	assert.Equal(t, "A\nB\nC", doc.Text)
}

func TestAssemble_DropsNearDuplicateFromOverlappingCrop(t *testing.T) {
	a := newAssembler(t)
	// Overlapping crops that both read the shared span.
	tiling := tilingOf(
		image.Rect(0, 0, 100, 200),
		image.Rect(0, 0, 100, 120),
		image.Rect(0, 80, 100, 200),
	)

	doc, err := a.Assemble(tiling, resultsOf(
		"base",
		"first paragraph\nshared boundary line",
		"shared boundary line\nsecond paragraph",
	))
	require.NoError(t, err)
	assert.Equal(t, "first paragraph\nshared boundary line\nsecond paragraph", doc.Text)
}

func TestAssemble_NearMissSpellingStillDeduplicated(t *testing.T) {
	a := newAssembler(t)
	tiling := tilingOf(
		image.Rect(0, 0, 100, 200),
		image.Rect(0, 0, 100, 120),
		image.Rect(0, 80, 100, 200),
	)

	// One character differs; similarity stays above the 0.85 default.
	doc, err := a.Assemble(tiling, resultsOf(
		"base",
		"the quick brown fox jumps",
		"the quick brown fox jumbs\ntail text",
	))
	require.NoError(t, err)
	assert.Equal(t, "the quick brown fox jumps\ntail text", doc.Text)
}

func TestAssemble_DisjointCropsNeverDeduplicated(t *testing.T) {
	a := newAssembler(t)
	tiling := tilingOf(
		image.Rect(0, 0, 100, 200),
		image.Rect(0, 0, 100, 100),
		image.Rect(0, 100, 100, 200),
	)

	// Identical text in non-overlapping crops is a genuine repetition,
	// not a tiling artifact, and must survive the merge.
	doc, err := a.Assemble(tiling, resultsOf("base", "repeated line", "repeated line"))
	require.NoError(t, err)
	assert.Equal(t, "repeated line\nrepeated line", doc.Text)
}

func TestAssemble_Idempotent(t *testing.T) {
	a := newAssembler(t)
	tiling := tilingOf(
		image.Rect(0, 0, 200, 200),
		image.Rect(0, 0, 200, 100),
		image.Rect(0, 100, 200, 200),
	)
	results := resultsOf("base", "upper half", "lower half")

	first, err := a.Assemble(tiling, results)
	require.NoError(t, err)
	second, err := a.Assemble(tiling, results)
	require.NoError(t, err)
	assert.Equal(t, first.Text, second.Text)
	assert.Equal(t, first.Markdown, second.Markdown)
	assert.Equal(t, first.Confidence, second.Confidence)
}

func TestAssemble_ConfidenceLengthWeighted(t *testing.T) {
	a := newAssembler(t)
	tiling := tilingOf(
		image.Rect(0, 0, 200, 200),
		image.Rect(0, 0, 200, 100),
		image.Rect(0, 100, 200, 200),
	)

	results := []engine.TileResult{
		{Index: 0, Text: "base", Confidence: 0.5},
		{Index: 1, Text: "aaaaaaaaaa", Confidence: 1.0}, // 10 chars
		{Index: 2, Text: "bbbbb", Confidence: 0.4},      // 5 chars
	}
	doc, err := a.Assemble(tiling, results)
	require.NoError(t, err)
	// (1.0*10 + 0.4*5) / 15
	assert.InDelta(t, 0.8, doc.Confidence, 1e-9)
}

func TestAssemble_ConfidenceFallsBackToPlainMean(t *testing.T) {
	a := newAssembler(t)
	tiling := tilingOf(
		image.Rect(0, 0, 200, 200),
		image.Rect(0, 0, 200, 100),
		image.Rect(0, 100, 200, 200),
	)

	results := []engine.TileResult{
		{Index: 0, Text: "", Confidence: 0.5},
		{Index: 1, Text: "", Confidence: 0.8},
		{Index: 2, Text: "", Confidence: 0.2},
	}
	doc, err := a.Assemble(tiling, results)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, doc.Confidence, 1e-9)
	assert.Empty(t, doc.Text)
}

func TestAssemble_TracesCoverAllTiles(t *testing.T) {
	a := newAssembler(t)
	tiling := tilingOf(
		image.Rect(0, 0, 200, 200),
		image.Rect(0, 0, 200, 100),
		image.Rect(0, 100, 200, 200),
	)

	doc, err := a.Assemble(tiling, resultsOf("base", "top", "bottom"))
	require.NoError(t, err)
	require.Len(t, doc.Tiles, 3)
	assert.Equal(t, 200, doc.Tiles[0].Region.W)
	assert.Equal(t, 200, doc.Tiles[0].Region.H)
	assert.Equal(t, 100, doc.Tiles[1].Region.H)
	assert.Equal(t, 100, doc.Tiles[2].Region.Y)
	assert.Equal(t, len("top"), doc.Tiles[1].Chars)
}

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, similarity("same line", "same line"), 1e-9)
	assert.InDelta(t, 1.0, similarity("  same line ", "same line"), 1e-9)
	assert.Zero(t, similarity("", "anything"))
	assert.Less(t, similarity("completely different", "zzzz"), 0.5)
	// Composed and decomposed forms of the same text compare equal.
	assert.InDelta(t, 1.0, similarity("café", "café"), 1e-9)
}
