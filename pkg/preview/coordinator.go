// Package preview owns the lifecycle of an edit's preview buffer: an
// operation begins, accumulates writes in the buffer, and then either
// commits them to the label volume in one step or discards them.
package preview

import (
	"errors"
	"fmt"
	"iter"
	"sync"

	"voxelseg/internal/models"
	"voxelseg/pkg/strategy"
	"voxelseg/pkg/voxel"
)

var (
	// ErrConcurrentOperation is returned by Begin while an operation is
	// active. Commit or cancel the active one first.
	ErrConcurrentOperation = errors.New("another operation is active")

	// ErrInvalidState is returned when an action is not allowed in the
	// current state.
	ErrInvalidState = errors.New("invalid operation state")

	// ErrConflict is returned by Commit when the label volume changed
	// after Begin. The operation stays active; cancel it and retry.
	ErrConflict = errors.New("label volume modified during operation")
)

// State is the coordinator lifecycle state.
type State int

const (
	Idle State = iota
	Active
	Committed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Committed:
		return "committed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CommitResult describes a successful commit.
type CommitResult struct {
	// Indices lists the committed voxels in ascending order.
	Indices []int
	Stats   strategy.Stats
}

// Coordinator allows at most one active operation on a label volume.
// When the volume is Exclusive the limit also holds across coordinators
// sharing it.
type Coordinator struct {
	mu        sync.Mutex
	volume    voxel.Accessor
	exclusive voxel.Exclusive

	state State
	last  State

	op       *strategy.OperationData
	strategy *strategy.Strategy

	// baseVersion is the volume version at Begin, when the volume is
	// Versioned; otherwise reads records the committed values steps saw.
	baseVersion uint64
	versioned   voxel.Versioned
	reads       *recordingReader
}

// NewCoordinator returns an idle coordinator for volume.
func NewCoordinator(volume voxel.Accessor) *Coordinator {
	c := &Coordinator{volume: volume, state: Idle, last: Idle}
	c.versioned, _ = volume.(voxel.Versioned)
	c.exclusive, _ = volume.(voxel.Exclusive)
	return c
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastOutcome returns Committed or Cancelled for the most recent finished
// operation, or Idle if none has finished.
func (c *Coordinator) LastOutcome() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Begin starts an operation. The coordinator binds op to a fresh preview
// buffer and a read-only view of the volume, then runs the strategy's
// Init hooks; if they fail the coordinator stays idle.
func (c *Coordinator) Begin(op *strategy.OperationData, s *strategy.Strategy) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Active {
		return ErrConcurrentOperation
	}
	if op == nil || s == nil {
		return fmt.Errorf("begin: %w: nil operation or strategy", ErrInvalidState)
	}
	if op.Dims.Len() != c.volume.Len() {
		return fmt.Errorf("begin: operation addresses %d voxels, volume has %d", op.Dims.Len(), c.volume.Len())
	}
	if c.exclusive != nil && !c.exclusive.Acquire() {
		return ErrConcurrentOperation
	}

	c.reads = newRecordingReader(c.volume)
	op.Committed = voxel.ReadOnly(c.reads)
	op.Preview = voxel.NewBuffer(c.volume.Len())
	if c.versioned != nil {
		c.baseVersion = c.versioned.Version()
	}

	if err := s.Init(op); err != nil {
		c.reads = nil
		c.release()
		return fmt.Errorf("begin: %w", err)
	}

	c.op = op
	c.strategy = s
	c.state = Active
	return nil
}

// Operation returns the active operation data, or nil when idle.
func (c *Coordinator) Operation() *strategy.OperationData {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.op
}

// Apply runs the strategy at index with the operation's segment index.
func (c *Coordinator) Apply(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Active {
		return fmt.Errorf("apply: %w: %s", ErrInvalidState, c.state)
	}
	return c.strategy.Apply(c.op, index, c.op.SegmentIndex)
}

// ApplyRegion runs the strategy over every index of seq in order and
// returns how many were applied before any error.
func (c *Coordinator) ApplyRegion(seq iter.Seq[int]) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Active {
		return 0, fmt.Errorf("apply region: %w: %s", ErrInvalidState, c.state)
	}
	return c.strategy.ApplyRegion(c.op, seq, c.op.SegmentIndex)
}

// PreviewValue returns the preview entry at index for display.
func (c *Coordinator) PreviewValue(index int) (models.SegmentIndex, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Active {
		return 0, false, fmt.Errorf("preview value: %w: %s", ErrInvalidState, c.state)
	}
	return c.op.Preview.Lookup(index)
}

// Commit finishes the strategy, checks the volume is unchanged since
// Begin, and writes every preview entry into the volume. Entries holding
// the preview segment index are committed as the segment index. Either
// every entry lands or, on failure, none does, and the preview is left as
// it was before the call.
func (c *Coordinator) Commit() (CommitResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Active {
		return CommitResult{}, fmt.Errorf("commit: %w: %s", ErrInvalidState, c.state)
	}
	if err := c.checkConflict(); err != nil {
		return CommitResult{}, fmt.Errorf("commit: %w", err)
	}

	saved, stats := c.op.Preview.Entries(), c.op.Stats
	indices, err := c.finishAndWrite()
	if err != nil {
		return CommitResult{}, fmt.Errorf("commit: %w", errors.Join(err, c.restore(saved, stats)))
	}

	result := CommitResult{Indices: indices, Stats: c.op.Stats}
	c.finish(Committed)
	return result, nil
}

func (c *Coordinator) finishAndWrite() ([]int, error) {
	if err := c.strategy.Finish(c.op); err != nil {
		return nil, err
	}
	if err := c.checkConflict(); err != nil {
		return nil, err
	}
	indices := c.op.Preview.Indices()
	for _, index := range indices {
		if err := voxel.CheckIndex(index, c.volume.Len()); err != nil {
			return nil, err
		}
	}
	if err := c.write(indices); err != nil {
		return nil, err
	}
	return indices, nil
}

// restore puts back the preview and stats saved before Finish ran.
func (c *Coordinator) restore(entries map[int]models.SegmentIndex, stats strategy.Stats) error {
	c.op.Preview.Reset()
	c.op.Stats = stats
	var errs []error
	for index, v := range entries {
		if err := c.op.Preview.Set(index, v); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Cancel discards the preview without touching the volume.
func (c *Coordinator) Cancel() (strategy.Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Active {
		return strategy.Stats{}, fmt.Errorf("cancel: %w: %s", ErrInvalidState, c.state)
	}
	stats := c.op.Stats
	c.finish(Cancelled)
	return stats, nil
}

func (c *Coordinator) checkConflict() error {
	if c.versioned != nil {
		if v := c.versioned.Version(); v != c.baseVersion {
			return fmt.Errorf("%w: version %d, began at %d", ErrConflict, v, c.baseVersion)
		}
		return nil
	}
	for index, seen := range c.reads.seen {
		current, err := c.volume.Get(index)
		if err != nil {
			return err
		}
		if current != seen {
			return fmt.Errorf("%w: voxel %d changed from %d to %d", ErrConflict, index, seen, current)
		}
	}
	return nil
}

// write applies the preview entries in order. If a write fails, the
// voxels already written are restored in reverse order; restore failures
// are joined to the returned error.
func (c *Coordinator) write(indices []int) error {
	prior := make([]models.SegmentIndex, 0, len(indices))
	for n, index := range indices {
		old, err := c.volume.Get(index)
		if err == nil {
			var v models.SegmentIndex
			if v, _, err = c.op.Preview.Lookup(index); err == nil {
				err = c.volume.Set(index, c.op.CommitValue(v))
			}
		}
		if err != nil {
			errs := []error{fmt.Errorf("write voxel %d: %w", index, err)}
			for i := n - 1; i >= 0; i-- {
				if rerr := c.volume.Set(indices[i], prior[i]); rerr != nil {
					errs = append(errs, fmt.Errorf("rollback voxel %d: %w", indices[i], rerr))
				}
			}
			return errors.Join(errs...)
		}
		prior = append(prior, old)
	}
	return nil
}

func (c *Coordinator) finish(outcome State) {
	c.op.Preview.Reset()
	c.op = nil
	c.strategy = nil
	c.reads = nil
	c.last = outcome
	c.state = Idle
	c.release()
}

func (c *Coordinator) release() {
	if c.exclusive != nil {
		c.exclusive.Release()
	}
}

// recordingReader remembers the first value read at each index so a
// volume without a version counter can still be checked for changes.
type recordingReader struct {
	voxel.Reader
	seen map[int]models.SegmentIndex
}

func newRecordingReader(r voxel.Reader) *recordingReader {
	return &recordingReader{Reader: r, seen: make(map[int]models.SegmentIndex)}
}

func (r *recordingReader) Get(index int) (models.SegmentIndex, error) {
	v, err := r.Reader.Get(index)
	if err != nil {
		return v, err
	}
	if _, ok := r.seen[index]; !ok {
		r.seen[index] = v
	}
	return v, nil
}
