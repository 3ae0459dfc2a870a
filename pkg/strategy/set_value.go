package strategy

import "voxelseg/internal/models"

// SetValue writes the operation's value into the preview buffer unless
// the voxel already holds it or is locked. It always ends the pipeline.
type SetValue struct{}

func (SetValue) Kind() Kind { return KindSetValue }
func (SetValue) sealed()    {}

// Voxel applies the write rules to one voxel:
//
//  1. the existing value is read from the preview, then the label volume
//  2. equal to the segment index: nothing to do
//  3. equal to the preview segment index: already painted this pass
//  4. a locked segment: the write is suppressed
//  5. otherwise the write value lands in the preview
func (SetValue) Voxel(op *OperationData, index int, _ models.SegmentIndex) (Verdict, error) {
	_, err := setValue(op, index)
	return Stop, err
}

// setValue applies the write rules and reports whether the preview changed.
func setValue(op *OperationData, index int) (bool, error) {
	existing, err := op.Existing(index)
	if err != nil {
		return false, err
	}
	if existing == op.SegmentIndex || op.isPreviewSegment(existing) {
		op.Stats.Unchanged++
		return false, nil
	}
	if op.Locks.Contains(existing) {
		op.Stats.Suppressed++
		return false, nil
	}
	if err := op.Preview.Set(index, op.WriteValue()); err != nil {
		return false, err
	}
	op.Stats.Written++
	return true, nil
}
