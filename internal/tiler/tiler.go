// Package tiler splits a source image into one downscaled base view plus
// a set of adaptive crops sized for the inference model. Tiling is pure
// and deterministic: identical inputs and configuration always produce
// identical tile geometry.
package tiler

import (
	"bytes"
	"errors"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	_ "golang.org/x/image/bmp"

	"github.com/visekai/tessellate/internal/job"
)

// Config holds tiling parameters.
type Config struct {
	BasePixelSize  int  // long edge of the downscaled base view for the "base" tier
	TileTargetSize int  // maximum long edge of an emitted crop
	MinCrops       int  // minimum number of crops when crop mode is on
	MaxCrops       int  // maximum number of crops when crop mode is on
	CropMode       bool // emit adaptive crops in addition to the base view
}

// DefaultConfig returns the default tiling configuration.
func DefaultConfig() Config {
	return Config{
		BasePixelSize:  1024,
		TileTargetSize: 640,
		MinCrops:       2,
		MaxCrops:       6,
		CropMode:       true,
	}
}

// Validate checks configuration invariants.
func (c Config) Validate() error {
	if c.BasePixelSize <= 0 {
		return errors.New("base pixel size must be positive")
	}
	if c.TileTargetSize <= 0 {
		return errors.New("tile target size must be positive")
	}
	if c.MinCrops < 1 {
		return errors.New("min crops must be at least 1")
	}
	if c.MaxCrops < c.MinCrops {
		return errors.New("max crops must be >= min crops")
	}
	return nil
}

// basePixelSize maps a resolution tier to the base view long edge.
// The gundam tier uses the base size; it differs only in that crops are
// always produced alongside the base view.
func (c Config) basePixelSize(res job.Resolution) int {
	switch res {
	case job.ResolutionTiny:
		return 512
	case job.ResolutionSmall:
		return 640
	case job.ResolutionLarge:
		return 1280
	default:
		return c.BasePixelSize
	}
}

// Tile is a rectangular sub-region of the input image, already resized
// for the inference model. Tiles are ephemeral and share no mutable state.
type Tile struct {
	JobID  uuid.UUID
	Index  int
	Region image.Rectangle // pixel region in source coordinates
	Image  image.Image     // model-ready pixels
}

// Tiling is the ordered output of a tiling pass: the base view first,
// followed by crops in row-major order.
type Tiling struct {
	JobID        uuid.UUID
	SourceWidth  int
	SourceHeight int
	GridCols     int
	GridRows     int
	Tiles        []Tile
}

// Base returns the mandatory whole-image tile.
func (t Tiling) Base() Tile { return t.Tiles[0] }

// Crops returns the adaptive crops, excluding the base view.
func (t Tiling) Crops() []Tile { return t.Tiles[1:] }

// Tiler plans tilings according to an immutable configuration.
type Tiler struct {
	cfg Config
}

// New creates a tiler with the given configuration.
func New(cfg Config) (*Tiler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Tiler{cfg: cfg}, nil
}

// Config returns the tiler configuration.
func (t *Tiler) Config() Config { return t.cfg }

// Decode decodes an image byte buffer. Undecodable input or an image with
// zero area yields *InvalidImageError.
func (t *Tiler) Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, &InvalidImageError{Reason: "empty image buffer"}
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &InvalidImageError{Reason: "undecodable image", Err: err}
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, &InvalidImageError{Reason: "image has zero area"}
	}
	return img, nil
}

// Plan computes the tiling for one image. The first tile is always the
// base view; crops follow in row-major order when crop mode is enabled.
// Unknown modes yield *UnsupportedModeError, nil or zero-area images
// *InvalidImageError.
func (t *Tiler) Plan(jobID uuid.UUID, img image.Image, mode job.Mode, res job.Resolution) (Tiling, error) {
	if _, err := job.ParseMode(string(mode)); err != nil {
		return Tiling{}, &UnsupportedModeError{Mode: string(mode)}
	}
	if _, err := job.ParseResolution(string(res)); err != nil {
		return Tiling{}, &UnsupportedModeError{Mode: string(res)}
	}
	if img == nil {
		return Tiling{}, &InvalidImageError{Reason: "nil image"}
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return Tiling{}, &InvalidImageError{Reason: "image has zero area"}
	}

	baseSize := t.cfg.basePixelSize(res)
	tiling := Tiling{
		JobID:        jobID,
		SourceWidth:  w,
		SourceHeight: h,
	}

	// Base view: the whole image, downscaled to fit the tier size.
	tiling.Tiles = append(tiling.Tiles, Tile{
		JobID:  jobID,
		Index:  0,
		Region: image.Rect(0, 0, w, h),
		Image:  fitWithin(img, baseSize),
	})

	cropMode := t.cfg.CropMode || res == job.ResolutionGundam
	if !cropMode {
		return tiling, nil
	}

	cols, rows := t.selectGrid(w, h)
	tiling.GridCols = cols
	tiling.GridRows = rows

	idx := 1
	for r := 0; r < rows; r++ {
		y0 := h * r / rows
		y1 := h * (r + 1) / rows
		for c := 0; c < cols; c++ {
			x0 := w * c / cols
			x1 := w * (c + 1) / cols
			region := image.Rect(x0, y0, x1, y1).Add(bounds.Min)
			crop := imaging.Crop(img, region)
			tiling.Tiles = append(tiling.Tiles, Tile{
				JobID:  jobID,
				Index:  idx,
				Region: image.Rect(x0, y0, x1, y1),
				Image:  fitWithin(crop, t.cfg.TileTargetSize),
			})
			idx++
		}
	}
	return tiling, nil
}

// selectGrid picks the crop grid (cols x rows) whose cell count lies in
// [MinCrops, MaxCrops] and whose aspect ratio best matches the image.
// Ties prefer the grid whose cell count is closest to the number of
// target-sized cells the image would naturally need.
func (t *Tiler) selectGrid(w, h int) (int, int) {
	aspect := float64(w) / float64(h)
	needed := ceilDiv(w, t.cfg.TileTargetSize) * ceilDiv(h, t.cfg.TileTargetSize)

	bestCols, bestRows := 1, 1
	bestDiff := -1.0
	bestCount := 0
	for n := t.cfg.MinCrops; n <= t.cfg.MaxCrops; n++ {
		for cols := 1; cols <= n; cols++ {
			if n%cols != 0 {
				continue
			}
			rows := n / cols
			diff := abs(float64(cols)/float64(rows) - aspect)
			switch {
			case bestDiff < 0 || diff < bestDiff:
				bestCols, bestRows, bestDiff, bestCount = cols, rows, diff, n
			case diff == bestDiff && abs(float64(n-needed)) < abs(float64(bestCount-needed)):
				bestCols, bestRows, bestCount = cols, rows, n
			}
		}
	}
	return bestCols, bestRows
}

// fitWithin downscales img so its long edge does not exceed size,
// preserving aspect ratio. Images already within bounds pass through a
// resize to normalized pixel format but keep their dimensions.
func fitWithin(img image.Image, size int) image.Image {
	b := img.Bounds()
	if b.Dx() <= size && b.Dy() <= size {
		return imaging.Clone(img)
	}
	return imaging.Fit(img, size, size, imaging.Lanczos)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
