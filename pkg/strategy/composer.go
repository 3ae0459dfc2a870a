package strategy

import (
	"fmt"
	"iter"

	"voxelseg/internal/models"
	"voxelseg/pkg/voxel"
)

// Strategy is an ordered pipeline of steps applied per voxel.
type Strategy struct {
	name  string
	steps []Step
}

// Compose builds a strategy that runs steps in the given order.
func Compose(steps ...Step) *Strategy {
	return &Strategy{name: "custom", steps: append([]Step(nil), steps...)}
}

// Name returns the pipeline name the strategy was built from.
func (s *Strategy) Name() string { return s.name }

// Kinds lists the step kinds in pipeline order.
func (s *Strategy) Kinds() []Kind {
	out := make([]Kind, len(s.steps))
	for i, st := range s.steps {
		out[i] = st.Kind()
	}
	return out
}

// Init runs every Initializer in order.
func (s *Strategy) Init(op *OperationData) error {
	for _, st := range s.steps {
		initializer, ok := st.(Initializer)
		if !ok {
			continue
		}
		if err := initializer.Init(op); err != nil {
			return fmt.Errorf("%s init: %w", st.Kind(), err)
		}
	}
	return nil
}

// Apply drives one voxel through the voxel steps until one stops it.
func (s *Strategy) Apply(op *OperationData, index int, value models.SegmentIndex) error {
	if err := voxel.CheckIndex(index, op.Preview.Len()); err != nil {
		return err
	}
	for _, st := range s.steps {
		vs, ok := st.(VoxelStep)
		if !ok {
			continue
		}
		verdict, err := vs.Voxel(op, index, value)
		if err != nil {
			return fmt.Errorf("%s at %d: %w", st.Kind(), index, err)
		}
		if verdict == Stop {
			return nil
		}
	}
	return nil
}

// ApplyRegion applies the strategy to every index of seq, in order, and
// stops at the first error. It returns how many indices were applied.
func (s *Strategy) ApplyRegion(op *OperationData, seq iter.Seq[int], value models.SegmentIndex) (int, error) {
	n := 0
	for index := range seq {
		if err := s.Apply(op, index, value); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Finish runs every Finisher in order.
func (s *Strategy) Finish(op *OperationData) error {
	for _, st := range s.steps {
		fin, ok := st.(Finisher)
		if !ok {
			continue
		}
		if err := fin.Finish(op); err != nil {
			return fmt.Errorf("%s finish: %w", st.Kind(), err)
		}
	}
	return nil
}
