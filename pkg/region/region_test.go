package region

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"

	"voxelseg/internal/models"
)

var dims = models.Dimensions{Width: 10, Height: 10, Depth: 10}

func collect(t *testing.T, seq func(func(int) bool)) []int {
	t.Helper()
	var out []int
	seq(func(i int) bool {
		out = append(out, i)
		return true
	})
	return out
}

func TestAll(t *testing.T) {
	got := collect(t, All(models.Dimensions{Width: 2, Height: 2, Depth: 1}))
	assert.Equal(t, []int{0, 1, 2, 3}, got)
}

func TestIndicesPassesThrough(t *testing.T) {
	assert.Equal(t, []int{2, 2, -1}, collect(t, Indices(2, 2, -1)))
}

// TestSphereIsClippedAndUnique verifies a sphere at a corner only yields
// in-bounds voxels, each once
func TestSphereIsClippedAndUnique(t *testing.T) {
	got := collect(t, Sphere(dims, models.Coord{}, 1))
	// centre plus the three positive neighbours
	assert.ElementsMatch(t, []int{0, 1, 10, 100}, got)

	full := collect(t, Sphere(dims, models.Coord{X: 5, Y: 5, Z: 5}, 1))
	assert.Len(t, full, 7)
}

func TestCircleStaysInSlice(t *testing.T) {
	center := models.Coord{X: 5, Y: 5, Z: 3}
	for _, i := range collect(t, Circle(dims, center, 2)) {
		assert.Equal(t, 3, dims.Coord(i).Z)
	}
	assert.Len(t, collect(t, Circle(dims, center, 2)), 13)
	assert.Empty(t, collect(t, Circle(dims, center, -1)))
}

func TestBox(t *testing.T) {
	got := collect(t, Box(dims, models.Coord{X: 8, Y: 9, Z: 9}, models.Coord{X: 12, Y: 12, Z: 12}))
	assert.Equal(t, []int{998, 999}, got)

	assert.Empty(t, collect(t, Box(dims, models.Coord{X: 20}, models.Coord{X: 30})))
	assert.Empty(t, collect(t, Box(dims, models.Coord{X: 3}, models.Coord{X: 2})))
}

func TestStrokeDeduplicates(t *testing.T) {
	got := collect(t, Stroke(dims, models.Coord{X: 1, Y: 5, Z: 5}, models.Coord{X: 4, Y: 5, Z: 5}, 1))
	sorted := slices.Clone(got)
	slices.Sort(sorted)
	assert.Equal(t, len(sorted), len(slices.Compact(sorted)))
	// four centres along x, each contributing its own voxel
	for x := 1; x <= 4; x++ {
		assert.Contains(t, got, dims.Index(models.Coord{X: x, Y: 5, Z: 5}))
	}
}

func TestEarlyStop(t *testing.T) {
	n := 0
	for range All(dims) {
		n++
		if n == 3 {
			break
		}
	}
	assert.Equal(t, 3, n)
}
