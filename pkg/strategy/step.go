// Package strategy implements voxel editing behaviours as ordered
// pipelines of small steps. A step may veto a voxel, which stops the rest
// of the pipeline for it; writes only ever land in the preview buffer.
package strategy

import (
	"errors"

	"voxelseg/internal/models"
)

var (
	// ErrUnknownPipeline is returned for an unrecognised pipeline name.
	ErrUnknownPipeline = errors.New("unknown strategy pipeline")

	// ErrMissingImage is returned when a threshold step has no image.
	ErrMissingImage = errors.New("threshold step requires an intensity image")

	// ErrNoSeeds is returned when a dynamic threshold has nothing to sample.
	ErrNoSeeds = errors.New("dynamic threshold requires at least one seed")
)

// Kind tags the closed set of step types.
type Kind int

const (
	KindSetValue Kind = iota + 1
	KindThreshold
	KindIslandFilter
	KindInterpolate
)

func (k Kind) String() string {
	switch k {
	case KindSetValue:
		return "set-value"
	case KindThreshold:
		return "threshold-test"
	case KindIslandFilter:
		return "island-filter"
	case KindInterpolate:
		return "interpolate"
	default:
		return "unknown"
	}
}

// Verdict tells the composer whether to run the next step for a voxel.
type Verdict int

const (
	Continue Verdict = iota
	Stop
)

// Step is one element of a pipeline. The set of steps is closed: only
// this package provides implementations.
type Step interface {
	Kind() Kind
	sealed()
}

// VoxelStep runs once per candidate voxel.
type VoxelStep interface {
	Step
	Voxel(op *OperationData, index int, value models.SegmentIndex) (Verdict, error)
}

// Initializer runs once when the operation begins.
type Initializer interface {
	Step
	Init(op *OperationData) error
}

// Finisher runs once over the whole preview before it is committed.
type Finisher interface {
	Step
	Finish(op *OperationData) error
}
