package strategy

import (
	"voxelseg/internal/models"
	"voxelseg/pkg/locks"
	"voxelseg/pkg/voxel"
)

// Intensities reads the scalar image underneath the segmentation.
// *models.Volume satisfies it.
type Intensities interface {
	Intensity(index int) (float64, error)
}

// ThresholdConfig bounds the intensities a threshold step lets through.
type ThresholdConfig struct {
	// Lower and Upper are inclusive bounds
	Lower float64
	Upper float64

	// Dynamic derives Lower and Upper from the image around the seeds
	// when the operation starts.
	Dynamic bool

	// Deviations is the number of standard deviations either side of the
	// neighbourhood mean used by the dynamic range.
	Deviations float64

	// NeighborhoodRadius is the half-size, in voxels, of the cube sampled
	// around each seed by the dynamic range.
	NeighborhoodRadius int
}

// IslandConfig controls the island filter.
type IslandConfig struct {
	// MinSize removes connected components with fewer voxels.
	MinSize int
}

// InterpolationConfig controls slice-gap interpolation.
type InterpolationConfig struct {
	// MaxGap is the largest number of empty slices filled between two
	// painted voxels of the same column.
	MaxGap int
}

// Stats counts what the set-value step did during an operation.
type Stats struct {
	Written    int
	Unchanged  int
	Suppressed int
	Vetoed     int
	Removed    int
}

// OperationData is everything the steps of one operation can see.
// It is built when the operation begins and stays fixed for its duration,
// apart from the preview buffer contents, Stats, and a threshold range a
// dynamic threshold derives during Init.
type OperationData struct {
	SegmentIndex        models.SegmentIndex
	PreviewSegmentIndex *models.SegmentIndex

	Locks locks.Set

	// Committed is the label volume; steps never write to it.
	Committed voxel.Reader
	Preview   *voxel.Buffer

	// Image is optional and only needed by threshold steps.
	Image Intensities
	Dims  models.Dimensions

	// Seeds are the indices the user clicked or the brush centres.
	Seeds []int

	Threshold     ThresholdConfig
	Island        IslandConfig
	Interpolation InterpolationConfig

	Stats Stats
}

// WriteValue is the value preview writes use: the preview segment index
// when set, otherwise the segment index.
func (op *OperationData) WriteValue() models.SegmentIndex {
	if op.PreviewSegmentIndex != nil {
		return *op.PreviewSegmentIndex
	}
	return op.SegmentIndex
}

// CommitValue maps a preview entry to the value committed for it.
func (op *OperationData) CommitValue(preview models.SegmentIndex) models.SegmentIndex {
	if op.PreviewSegmentIndex != nil && preview == *op.PreviewSegmentIndex {
		return op.SegmentIndex
	}
	return preview
}

// Existing reads the preview entry at index, falling back to the
// committed value.
func (op *OperationData) Existing(index int) (models.SegmentIndex, error) {
	return voxel.Overlay(op.Preview, op.Committed).Get(index)
}

// isPreviewSegment reports whether v equals the preview segment index.
func (op *OperationData) isPreviewSegment(v models.SegmentIndex) bool {
	return op.PreviewSegmentIndex != nil && v == *op.PreviewSegmentIndex
}
