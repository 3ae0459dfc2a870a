package strategy

import "voxelseg/internal/models"

// Interpolate closes gaps between painted slices. For every (x,y) column
// the stroke touched, two slices holding the segment are joined when at
// most Interpolation.MaxGap slices separate them and at least one of the
// two was painted by this operation. A slice holds the segment when its
// preview entry is the write value, or when it has no preview entry and
// the committed value is the segment index. Filled voxels go through the
// set-value rules, so locks still hold.
type Interpolate struct{}

func (Interpolate) Kind() Kind { return KindInterpolate }
func (Interpolate) sealed()    {}

func (Interpolate) Finish(op *OperationData) error {
	maxGap := op.Interpolation.MaxGap
	if maxGap <= 0 {
		return nil
	}
	write := op.WriteValue()
	plane := op.Dims.Width * op.Dims.Height

	var columns []int
	touched := make(map[int]bool)
	for _, index := range op.Preview.Indices() {
		v, _, err := op.Preview.Lookup(index)
		if err != nil {
			return err
		}
		if v != write || touched[index%plane] {
			continue
		}
		touched[index%plane] = true
		columns = append(columns, index%plane)
	}

	for _, col := range columns {
		if err := fillColumn(op, col, plane, write, maxGap); err != nil {
			return err
		}
	}
	return nil
}

func fillColumn(op *OperationData, col, plane int, write models.SegmentIndex, maxGap int) error {
	prev, prevPainted := -1, false
	for z := 0; z < op.Dims.Depth; z++ {
		end, painted, err := gapEnd(op, z*plane+col, write)
		if err != nil {
			return err
		}
		if !end {
			continue
		}
		gap := z - prev - 1
		if prev >= 0 && gap >= 1 && gap <= maxGap && (painted || prevPainted) {
			for g := prev + 1; g < z; g++ {
				if _, err := setValue(op, g*plane+col); err != nil {
					return err
				}
			}
		}
		prev, prevPainted = z, painted
	}
	return nil
}

// gapEnd reports whether index holds the segment and whether this
// operation painted it.
func gapEnd(op *OperationData, index int, write models.SegmentIndex) (end, painted bool, err error) {
	v, ok, err := op.Preview.Lookup(index)
	if err != nil {
		return false, false, err
	}
	if ok {
		return v == write, v == write, nil
	}
	c, err := op.Committed.Get(index)
	if err != nil {
		return false, false, err
	}
	return c == op.SegmentIndex, false, nil
}
