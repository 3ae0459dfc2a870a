package strategy

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"voxelseg/internal/models"
	"voxelseg/pkg/region"
)

// Threshold vetoes voxels whose image intensity falls outside the
// operation's threshold range.
type Threshold struct{}

func (Threshold) Kind() Kind { return KindThreshold }
func (Threshold) sealed()    {}

// Init checks an image is present and, for a dynamic threshold, derives
// the range from the intensities around the seeds.
func (Threshold) Init(op *OperationData) error {
	if op.Image == nil {
		return ErrMissingImage
	}
	if !op.Threshold.Dynamic {
		if op.Threshold.Lower > op.Threshold.Upper {
			return fmt.Errorf("threshold range [%g,%g] is empty", op.Threshold.Lower, op.Threshold.Upper)
		}
		return nil
	}
	lower, upper, err := dynamicRange(op)
	if err != nil {
		return err
	}
	op.Threshold.Lower, op.Threshold.Upper = lower, upper
	return nil
}

// Voxel lets in-range voxels through to the next step.
func (Threshold) Voxel(op *OperationData, index int, _ models.SegmentIndex) (Verdict, error) {
	v, err := op.Image.Intensity(index)
	if err != nil {
		return Stop, err
	}
	if v < op.Threshold.Lower || v > op.Threshold.Upper {
		op.Stats.Vetoed++
		return Stop, nil
	}
	return Continue, nil
}

// dynamicRange samples a cube around every seed and returns
// mean ± Deviations·stddev of the sampled intensities.
func dynamicRange(op *OperationData) (float64, float64, error) {
	if len(op.Seeds) == 0 {
		return 0, 0, ErrNoSeeds
	}
	r := op.Threshold.NeighborhoodRadius
	var samples []float64
	seen := make(map[int]struct{})
	for _, seed := range op.Seeds {
		if seed < 0 || seed >= op.Dims.Len() {
			return 0, 0, fmt.Errorf("seed %d: out of range [0,%d)", seed, op.Dims.Len())
		}
		c := op.Dims.Coord(seed)
		lo := models.Coord{X: c.X - r, Y: c.Y - r, Z: c.Z - r}
		hi := models.Coord{X: c.X + r, Y: c.Y + r, Z: c.Z + r}
		for i := range region.Box(op.Dims, lo, hi) {
			if _, ok := seen[i]; ok {
				continue
			}
			seen[i] = struct{}{}
			v, err := op.Image.Intensity(i)
			if err != nil {
				return 0, 0, err
			}
			samples = append(samples, v)
		}
	}

	mean, std := stat.MeanStdDev(samples, nil)
	if len(samples) < 2 {
		std = 0
	}
	k := op.Threshold.Deviations
	return mean - k*std, mean + k*std, nil
}
