package tiler

import (
	"image"
	"testing"

	"github.com/google/uuid"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/visekai/tessellate/internal/job"
)

// genDimensions generates random image dimensions.
func genDimensions() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(50, 1600),
		gen.IntRange(50, 1600),
	).Map(func(vals []interface{}) image.Rectangle {
		w, ok := vals[0].(int)
		if !ok {
			panic("expected int")
		}
		h, ok := vals[1].(int)
		if !ok {
			panic("expected int")
		}
		return image.Rect(0, 0, w, h)
	})
}

func planFor(t *testing.T, bounds image.Rectangle) Tiling {
	t.Helper()
	tl, err := New(DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	tiling, err := tl.Plan(uuid.New(), image.NewNRGBA(bounds), job.ModeDocument, job.ResolutionBase)
	if err != nil {
		t.Fatal(err)
	}
	return tiling
}

// TestPlan_CropsPartitionSource verifies crop regions tile the source exactly.
func TestPlan_CropsPartitionSource(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("crop region areas sum to the source area", prop.ForAll(
		func(bounds image.Rectangle) bool {
			tiling := planFor(t, bounds)
			area := 0
			for _, crop := range tiling.Crops() {
				area += crop.Region.Dx() * crop.Region.Dy()
			}
			return area == bounds.Dx()*bounds.Dy()
		},
		genDimensions(),
	))

	properties.Property("crop regions stay within source bounds", prop.ForAll(
		func(bounds image.Rectangle) bool {
			tiling := planFor(t, bounds)
			for _, crop := range tiling.Crops() {
				if !crop.Region.In(bounds) {
					return false
				}
			}
			return true
		},
		genDimensions(),
	))

	properties.Property("crop regions do not overlap", prop.ForAll(
		func(bounds image.Rectangle) bool {
			crops := planFor(t, bounds).Crops()
			for i := range crops {
				for j := i + 1; j < len(crops); j++ {
					if crops[i].Region.Overlaps(crops[j].Region) {
						return false
					}
				}
			}
			return true
		},
		genDimensions(),
	))

	properties.TestingRun(t)
}

// TestPlan_CropCountBounds verifies the crop count honors the configured range.
func TestPlan_CropCountBounds(t *testing.T) {
	properties := gopter.NewProperties(nil)
	cfg := DefaultConfig()

	properties.Property("crop count is within [MinCrops, MaxCrops]", prop.ForAll(
		func(bounds image.Rectangle) bool {
			crops := len(planFor(t, bounds).Crops())
			return crops >= cfg.MinCrops && crops <= cfg.MaxCrops
		},
		genDimensions(),
	))

	properties.TestingRun(t)
}

// TestPlan_TileSizeBounds verifies emitted pixels respect the tier sizes.
func TestPlan_TileSizeBounds(t *testing.T) {
	properties := gopter.NewProperties(nil)
	cfg := DefaultConfig()

	properties.Property("base view fits the base size, crops fit the target size", prop.ForAll(
		func(bounds image.Rectangle) bool {
			tiling := planFor(t, bounds)
			base := tiling.Base().Image.Bounds()
			if base.Dx() > cfg.BasePixelSize || base.Dy() > cfg.BasePixelSize {
				return false
			}
			for _, crop := range tiling.Crops() {
				b := crop.Image.Bounds()
				if b.Dx() > cfg.TileTargetSize || b.Dy() > cfg.TileTargetSize {
					return false
				}
			}
			return true
		},
		genDimensions(),
	))

	properties.TestingRun(t)
}
