package voxel

import (
	"fmt"
	"sync/atomic"

	"voxelseg/internal/models"
)

// LabelVolume is a dense segmentation: one segment index per voxel.
// Every successful Set increments Version, which lets an in-flight edit
// detect that the volume changed underneath it.
type LabelVolume struct {
	data    []models.SegmentIndex
	dims    models.Dimensions
	version atomic.Uint64
	editing atomic.Bool
}

// NewLabelVolume allocates a volume filled with background.
func NewLabelVolume(dims models.Dimensions) (*LabelVolume, error) {
	if err := dims.Validate(); err != nil {
		return nil, err
	}
	return &LabelVolume{
		data: make([]models.SegmentIndex, dims.Len()),
		dims: dims,
	}, nil
}

// LabelVolumeFrom wraps existing data. The slice is used directly, not copied.
func LabelVolumeFrom(dims models.Dimensions, data []models.SegmentIndex) (*LabelVolume, error) {
	if err := dims.Validate(); err != nil {
		return nil, err
	}
	if len(data) != dims.Len() {
		return nil, fmt.Errorf("label data has %d voxels, dimensions need %d", len(data), dims.Len())
	}
	return &LabelVolume{data: data, dims: dims}, nil
}

// Dimensions returns the volume extent.
func (v *LabelVolume) Dimensions() models.Dimensions { return v.dims }

// Len returns the number of voxels.
func (v *LabelVolume) Len() int { return len(v.data) }

// Get returns the segment index at index.
func (v *LabelVolume) Get(index int) (models.SegmentIndex, error) {
	if err := CheckIndex(index, len(v.data)); err != nil {
		return 0, err
	}
	return v.data[index], nil
}

// Set writes a segment index and bumps the version.
func (v *LabelVolume) Set(index int, value models.SegmentIndex) error {
	if err := CheckIndex(index, len(v.data)); err != nil {
		return err
	}
	v.data[index] = value
	v.version.Add(1)
	return nil
}

// Version returns the number of writes applied so far.
func (v *LabelVolume) Version() uint64 { return v.version.Load() }

// Acquire claims the volume's single edit slot.
func (v *LabelVolume) Acquire() bool { return v.editing.CompareAndSwap(false, true) }

// Release frees the edit slot.
func (v *LabelVolume) Release() { v.editing.Store(false) }

// Snapshot returns a copy of the voxel data.
func (v *LabelVolume) Snapshot() []models.SegmentIndex {
	out := make([]models.SegmentIndex, len(v.data))
	copy(out, v.data)
	return out
}

// Histogram counts voxels per segment index.
func (v *LabelVolume) Histogram() map[models.SegmentIndex]int {
	counts := make(map[models.SegmentIndex]int)
	for _, s := range v.data {
		counts[s]++
	}
	return counts
}
