package models

import "fmt"

// SegmentIndex identifies a labelled region of a segmentation.
// Index 0 is reserved for unlabelled background.
type SegmentIndex uint16

// Background is the segment index of unlabelled voxels.
const Background SegmentIndex = 0

// Coord is a voxel position in index space.
type Coord struct {
	X, Y, Z int
}

// Dimensions describes the extent of a volume in voxels.
// Voxels are stored as a 1D array in row-major order: x varies fastest,
// then y, then z.
type Dimensions struct {
	// Width is the number of voxels along x
	Width int

	// Height is the number of voxels along y
	Height int

	// Depth is the number of voxels along z (the slice axis)
	Depth int
}

// Len returns the total number of voxels.
func (d Dimensions) Len() int {
	if d.Width <= 0 || d.Height <= 0 || d.Depth <= 0 {
		return 0
	}
	return d.Width * d.Height * d.Depth
}

// Validate reports whether every axis is positive.
func (d Dimensions) Validate() error {
	if d.Width <= 0 || d.Height <= 0 || d.Depth <= 0 {
		return fmt.Errorf("invalid dimensions %dx%dx%d: all axes must be positive", d.Width, d.Height, d.Depth)
	}
	return nil
}

// Contains reports whether c lies inside the volume.
func (d Dimensions) Contains(c Coord) bool {
	return c.X >= 0 && c.Y >= 0 && c.Z >= 0 &&
		c.X < d.Width && c.Y < d.Height && c.Z < d.Depth
}

// Index converts a coordinate to its flat index.
// The caller must ensure the coordinate is inside the volume.
func (d Dimensions) Index(c Coord) int {
	return c.Z*d.Width*d.Height + c.Y*d.Width + c.X
}

// Coord converts a flat index back to a coordinate.
func (d Dimensions) Coord(index int) Coord {
	plane := d.Width * d.Height
	z := index / plane
	rem := index % plane
	return Coord{X: rem % d.Width, Y: rem / d.Width, Z: z}
}

// Volume is the scalar image the segmentation is drawn over.
// The segmentation engine only reads it (threshold tests); loading and
// caching belong to the image collaborator.
type Volume struct {
	// Data is the 3D intensity data as a 1D array in row-major order
	Data []float64

	Dimensions

	// VoxelSize is the physical size of each voxel in mm
	VoxelSize struct {
		X, Y, Z float64
	}
}

// NewVolume allocates a zeroed intensity volume.
func NewVolume(dims Dimensions) *Volume {
	return &Volume{
		Data:       make([]float64, dims.Len()),
		Dimensions: dims,
	}
}

// Intensity returns the scalar value at index.
func (v *Volume) Intensity(index int) (float64, error) {
	if index < 0 || index >= len(v.Data) {
		return 0, fmt.Errorf("intensity index %d out of range [0,%d)", index, len(v.Data))
	}
	return v.Data[index], nil
}
