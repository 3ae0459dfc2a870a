// Package region turns brush geometry into sequences of candidate voxel
// indices. Every sequence is finite and clipped to the volume, and yields
// each index at most once.
package region

import (
	"iter"
	"math"

	"voxelseg/internal/models"
)

// All yields every index of the volume in storage order.
func All(dims models.Dimensions) iter.Seq[int] {
	return func(yield func(int) bool) {
		n := dims.Len()
		for i := 0; i < n; i++ {
			if !yield(i) {
				return
			}
		}
	}
}

// Indices yields the given indices unchanged. Out-of-range values are
// passed through so the consumer can report them.
func Indices(indices ...int) iter.Seq[int] {
	return func(yield func(int) bool) {
		for _, i := range indices {
			if !yield(i) {
				return
			}
		}
	}
}

// Box yields the voxels of the axis-aligned box between min and max,
// both inclusive, clipped to the volume.
func Box(dims models.Dimensions, min, max models.Coord) iter.Seq[int] {
	lo := models.Coord{X: clamp(min.X, 0, dims.Width-1), Y: clamp(min.Y, 0, dims.Height-1), Z: clamp(min.Z, 0, dims.Depth-1)}
	hi := models.Coord{X: clamp(max.X, 0, dims.Width-1), Y: clamp(max.Y, 0, dims.Height-1), Z: clamp(max.Z, 0, dims.Depth-1)}
	return func(yield func(int) bool) {
		if dims.Len() == 0 || min.X > max.X || min.Y > max.Y || min.Z > max.Z {
			return
		}
		if max.X < 0 || max.Y < 0 || max.Z < 0 ||
			min.X >= dims.Width || min.Y >= dims.Height || min.Z >= dims.Depth {
			return
		}
		for z := lo.Z; z <= hi.Z; z++ {
			for y := lo.Y; y <= hi.Y; y++ {
				for x := lo.X; x <= hi.X; x++ {
					if !yield(dims.Index(models.Coord{X: x, Y: y, Z: z})) {
						return
					}
				}
			}
		}
	}
}

// Sphere yields the voxels whose centres lie within radius of center.
func Sphere(dims models.Dimensions, center models.Coord, radius float64) iter.Seq[int] {
	return ellipsoid(dims, center, radius, radius)
}

// Circle yields the voxels of the disc of the given radius in the slice
// containing center (constant z).
func Circle(dims models.Dimensions, center models.Coord, radius float64) iter.Seq[int] {
	return ellipsoid(dims, center, radius, 0)
}

func ellipsoid(dims models.Dimensions, center models.Coord, radius, zRadius float64) iter.Seq[int] {
	return func(yield func(int) bool) {
		if radius < 0 {
			return
		}
		r := int(math.Floor(radius))
		rz := int(math.Floor(zRadius))
		r2 := radius * radius
		for dz := -rz; dz <= rz; dz++ {
			for dy := -r; dy <= r; dy++ {
				for dx := -r; dx <= r; dx++ {
					d2 := float64(dx*dx + dy*dy + dz*dz)
					if d2 > r2 {
						continue
					}
					c := models.Coord{X: center.X + dx, Y: center.Y + dy, Z: center.Z + dz}
					if !dims.Contains(c) {
						continue
					}
					if !yield(dims.Index(c)) {
						return
					}
				}
			}
		}
	}
}

// Stroke yields the union of spheres swept from `from` to `to`, sampled
// once per voxel step along the segment. Overlapping voxels are yielded
// once.
func Stroke(dims models.Dimensions, from, to models.Coord, radius float64) iter.Seq[int] {
	return func(yield func(int) bool) {
		dx := float64(to.X - from.X)
		dy := float64(to.Y - from.Y)
		dz := float64(to.Z - from.Z)
		steps := int(math.Ceil(math.Max(math.Abs(dx), math.Max(math.Abs(dy), math.Abs(dz)))))
		seen := make(map[int]struct{})
		for s := 0; s <= steps; s++ {
			t := 0.0
			if steps > 0 {
				t = float64(s) / float64(steps)
			}
			c := models.Coord{
				X: from.X + int(math.Round(dx*t)),
				Y: from.Y + int(math.Round(dy*t)),
				Z: from.Z + int(math.Round(dz*t)),
			}
			for i := range Sphere(dims, c, radius) {
				if _, ok := seen[i]; ok {
					continue
				}
				seen[i] = struct{}{}
				if !yield(i) {
					return
				}
			}
		}
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
