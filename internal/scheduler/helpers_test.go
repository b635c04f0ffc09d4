package scheduler

import (
	"testing"

	"github.com/visekai/tessellate/internal/testutil"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	return testutil.NewPNG(t, w, h)
}
