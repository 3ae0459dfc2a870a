package preview

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxelseg/internal/models"
	"voxelseg/pkg/locks"
	"voxelseg/pkg/region"
	"voxelseg/pkg/strategy"
	"voxelseg/pkg/voxel"
)

func newVolume(t *testing.T, values ...models.SegmentIndex) *voxel.LabelVolume {
	t.Helper()
	v, err := voxel.LabelVolumeFrom(models.Dimensions{Width: len(values), Height: 1, Depth: 1}, values)
	require.NoError(t, err)
	return v
}

func fillOp(vol voxel.Reader, segment models.SegmentIndex) *strategy.OperationData {
	return &strategy.OperationData{
		SegmentIndex: segment,
		Dims:         models.Dimensions{Width: vol.Len(), Height: 1, Depth: 1},
	}
}

func mustFill(t *testing.T) *strategy.Strategy {
	t.Helper()
	s, err := strategy.PipelineFill.Build()
	require.NoError(t, err)
	return s
}

// TestRepaintWritesOnce paints indices 2, 2, 5 with segment 3 and commits
func TestRepaintWritesOnce(t *testing.T) {
	vol := newVolume(t, make([]models.SegmentIndex, 10)...)
	c := NewCoordinator(vol)

	require.NoError(t, c.Begin(fillOp(vol, 3), mustFill(t)))
	for _, i := range []int{2, 2, 5} {
		require.NoError(t, c.Apply(i))
	}
	assert.Equal(t, map[int]models.SegmentIndex{2: 3, 5: 3}, c.Operation().Preview.Entries())

	res, err := c.Commit()
	require.NoError(t, err)
	assert.Equal(t, []int{2, 5}, res.Indices)
	assert.Equal(t, 2, res.Stats.Written)
	assert.Equal(t, []models.SegmentIndex{0, 0, 3, 0, 0, 3, 0, 0, 0, 0}, vol.Snapshot())
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, Committed, c.LastOutcome())
}

// TestLockedCommittedValueSuppressed verifies a write onto a locked
// committed segment is suppressed
func TestLockedCommittedValueSuppressed(t *testing.T) {
	initial := make([]models.SegmentIndex, 10)
	initial[5] = 3
	vol := newVolume(t, initial...)
	c := NewCoordinator(vol)

	op := fillOp(vol, 7)
	op.Locks = locks.NewSet(3)
	require.NoError(t, c.Begin(op, mustFill(t)))
	require.NoError(t, c.Apply(5))

	_, ok, err := c.PreviewValue(5)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, op.Stats.Suppressed)
}

// TestPreviewSegmentNotCommitted verifies the preview display index never
// reaches the volume
func TestPreviewSegmentNotCommitted(t *testing.T) {
	vol := newVolume(t, make([]models.SegmentIndex, 10)...)
	c := NewCoordinator(vol)

	op := fillOp(vol, 3)
	preview := models.SegmentIndex(99)
	op.PreviewSegmentIndex = &preview
	require.NoError(t, c.Begin(op, mustFill(t)))
	require.NoError(t, c.Apply(4))

	v, ok, err := c.PreviewValue(4)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.SegmentIndex(99), v)

	_, err = c.Commit()
	require.NoError(t, err)
	got, err := vol.Get(4)
	require.NoError(t, err)
	assert.Equal(t, models.SegmentIndex(3), got)
}

func TestCancelLeavesVolumeUnchanged(t *testing.T) {
	vol := newVolume(t, 1, 0, 2, 0, 0)
	before := vol.Snapshot()
	c := NewCoordinator(vol)

	require.NoError(t, c.Begin(fillOp(vol, 4), mustFill(t)))
	_, err := c.ApplyRegion(region.All(models.Dimensions{Width: 5, Height: 1, Depth: 1}))
	require.NoError(t, err)

	stats, err := c.Cancel()
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Written)
	assert.Equal(t, before, vol.Snapshot())
	assert.Equal(t, uint64(0), vol.Version())
	assert.Equal(t, Cancelled, c.LastOutcome())
}

// TestSingleActiveOperation verifies a second Begin is refused and the
// first operation carries on untouched
func TestSingleActiveOperation(t *testing.T) {
	vol := newVolume(t, make([]models.SegmentIndex, 4)...)
	c := NewCoordinator(vol)

	first := fillOp(vol, 1)
	require.NoError(t, c.Begin(first, mustFill(t)))
	require.NoError(t, c.Apply(0))

	second := fillOp(vol, 2)
	err := c.Begin(second, mustFill(t))
	assert.ErrorIs(t, err, ErrConcurrentOperation)
	assert.Nil(t, second.Preview)

	assert.Same(t, first, c.Operation())
	require.NoError(t, c.Apply(1))
	_, err = c.Commit()
	require.NoError(t, err)
	assert.Equal(t, []models.SegmentIndex{1, 1, 0, 0}, vol.Snapshot())
}

// TestSharedVolumeSingleOperation verifies two coordinators over one label
// volume cannot both hold an active operation
func TestSharedVolumeSingleOperation(t *testing.T) {
	vol := newVolume(t, make([]models.SegmentIndex, 4)...)
	a, b := NewCoordinator(vol), NewCoordinator(vol)

	require.NoError(t, a.Begin(fillOp(vol, 1), mustFill(t)))
	assert.ErrorIs(t, b.Begin(fillOp(vol, 2), mustFill(t)), ErrConcurrentOperation)
	assert.Equal(t, Idle, b.State())

	_, err := a.Cancel()
	require.NoError(t, err)
	require.NoError(t, b.Begin(fillOp(vol, 2), mustFill(t)))
	assert.ErrorIs(t, a.Begin(fillOp(vol, 1), mustFill(t)), ErrConcurrentOperation)

	_, err = b.Commit()
	require.NoError(t, err)
	require.NoError(t, a.Begin(fillOp(vol, 1), mustFill(t)))
}

// TestInitFailureReleasesVolume verifies a failed Begin leaves the volume
// free for another coordinator
func TestInitFailureReleasesVolume(t *testing.T) {
	vol := newVolume(t, 0, 0)
	s, err := strategy.PipelineThresholdPaint.Build()
	require.NoError(t, err)

	require.ErrorIs(t, NewCoordinator(vol).Begin(fillOp(vol, 1), s), strategy.ErrMissingImage)
	require.NoError(t, NewCoordinator(vol).Begin(fillOp(vol, 1), mustFill(t)))
}

func TestInvalidState(t *testing.T) {
	vol := newVolume(t, 0, 0)
	c := NewCoordinator(vol)

	assert.ErrorIs(t, c.Apply(0), ErrInvalidState)
	_, err := c.ApplyRegion(region.Indices(0))
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = c.Commit()
	assert.ErrorIs(t, err, ErrInvalidState)
	_, err = c.Cancel()
	assert.ErrorIs(t, err, ErrInvalidState)
	_, _, err = c.PreviewValue(0)
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, "idle", c.State().String())
}

func TestAddressingErrorLeavesVolume(t *testing.T) {
	vol := newVolume(t, 0, 0, 0)
	c := NewCoordinator(vol)
	require.NoError(t, c.Begin(fillOp(vol, 1), mustFill(t)))

	err := c.Apply(3)
	assert.ErrorIs(t, err, voxel.ErrAddressing)
	assert.Equal(t, Active, c.State())

	_, err = c.Cancel()
	require.NoError(t, err)
	assert.Equal(t, []models.SegmentIndex{0, 0, 0}, vol.Snapshot())
}

// TestCommitConflict verifies an external write between Begin and Commit
// is detected and the preview survives for the caller to cancel
func TestCommitConflict(t *testing.T) {
	vol := newVolume(t, 0, 0, 0)
	c := NewCoordinator(vol)
	require.NoError(t, c.Begin(fillOp(vol, 1), mustFill(t)))
	require.NoError(t, c.Apply(0))

	require.NoError(t, vol.Set(2, 8))

	_, err := c.Commit()
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, Active, c.State())
	assert.Equal(t, 1, c.Operation().Preview.Count())

	_, err = c.Cancel()
	require.NoError(t, err)
	assert.Equal(t, []models.SegmentIndex{0, 0, 8}, vol.Snapshot())
}

// plainVolume has no version counter and can fail writes on demand.
// When stuck, every write after the first failure fails too.
type plainVolume struct {
	data    []models.SegmentIndex
	failAt  int
	failing bool
	stuck   bool
	broken  bool
}

func (p *plainVolume) Len() int { return len(p.data) }

func (p *plainVolume) Get(i int) (models.SegmentIndex, error) {
	if err := voxel.CheckIndex(i, len(p.data)); err != nil {
		return 0, err
	}
	return p.data[i], nil
}

func (p *plainVolume) Set(i int, v models.SegmentIndex) error {
	if err := voxel.CheckIndex(i, len(p.data)); err != nil {
		return err
	}
	if p.broken || (p.failing && i == p.failAt) {
		p.broken = p.stuck
		return errDiskFull
	}
	p.data[i] = v
	return nil
}

var errDiskFull = errors.New("disk full")

func TestCommitConflictWithoutVersion(t *testing.T) {
	vol := &plainVolume{data: make([]models.SegmentIndex, 4)}
	c := NewCoordinator(vol)
	require.NoError(t, c.Begin(fillOp(vol, 1), mustFill(t)))
	require.NoError(t, c.Apply(1))

	// untouched voxels may change
	vol.data[3] = 6
	require.NoError(t, c.Apply(2))
	vol.data[2] = 6

	_, err := c.Commit()
	assert.ErrorIs(t, err, ErrConflict)
}

// TestCommitRollsBack verifies a failing write restores earlier writes
func TestCommitRollsBack(t *testing.T) {
	vol := &plainVolume{data: []models.SegmentIndex{0, 2, 0, 0}, failAt: 3, failing: true}
	c := NewCoordinator(vol)
	require.NoError(t, c.Begin(fillOp(vol, 1), mustFill(t)))
	_, err := c.ApplyRegion(region.Indices(0, 1, 2, 3))
	require.NoError(t, err)

	_, err = c.Commit()
	require.Error(t, err)
	assert.Equal(t, []models.SegmentIndex{0, 2, 0, 0}, vol.data)
	assert.Equal(t, Active, c.State())

	vol.failing = false
	_, err = c.Commit()
	require.NoError(t, err)
	assert.Equal(t, []models.SegmentIndex{1, 1, 1, 1}, vol.data)
}

// TestCommitReportsRollbackFailures verifies that writes which cannot be
// undone are reported alongside the original failure
func TestCommitReportsRollbackFailures(t *testing.T) {
	vol := &plainVolume{data: make([]models.SegmentIndex, 4), failAt: 2, failing: true, stuck: true}
	c := NewCoordinator(vol)
	require.NoError(t, c.Begin(fillOp(vol, 1), mustFill(t)))
	_, err := c.ApplyRegion(region.Indices(0, 1, 2, 3))
	require.NoError(t, err)

	_, err = c.Commit()
	require.ErrorIs(t, err, errDiskFull)
	assert.Contains(t, err.Error(), "write voxel 2")
	assert.Contains(t, err.Error(), "rollback voxel 1")
	assert.Contains(t, err.Error(), "rollback voxel 0")
	assert.Equal(t, Active, c.State())
}

// TestConflictLeavesPreviewUntouched verifies a conflicting commit does not
// run the finishing steps, so the preview matches what the user painted
func TestConflictLeavesPreviewUntouched(t *testing.T) {
	dims := models.Dimensions{Width: 1, Height: 1, Depth: 4}
	vol, err := voxel.NewLabelVolume(dims)
	require.NoError(t, err)
	s, err := strategy.PipelineInterpolateFill.Build()
	require.NoError(t, err)

	op := &strategy.OperationData{
		SegmentIndex:  1,
		Dims:          dims,
		Interpolation: strategy.InterpolationConfig{MaxGap: 1},
	}
	c := NewCoordinator(vol)
	require.NoError(t, c.Begin(op, s))
	_, err = c.ApplyRegion(region.Indices(0, 2))
	require.NoError(t, err)
	require.NoError(t, vol.Set(3, 7))

	_, err = c.Commit()
	require.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, []int{0, 2}, op.Preview.Indices())
	assert.Equal(t, 2, op.Stats.Written)
}

// TestFailedWriteRestoresPreview verifies a retried commit sees the same
// preview, so finishing steps do not run twice over their own output
func TestFailedWriteRestoresPreview(t *testing.T) {
	vol := &plainVolume{data: make([]models.SegmentIndex, 3), failAt: 0, failing: true}
	s, err := strategy.PipelineInterpolateFill.Build()
	require.NoError(t, err)

	// depth 3 with one voxel per slice
	op := &strategy.OperationData{
		SegmentIndex:  1,
		Dims:          models.Dimensions{Width: 1, Height: 1, Depth: 3},
		Interpolation: strategy.InterpolationConfig{MaxGap: 1},
	}
	c := NewCoordinator(vol)
	require.NoError(t, c.Begin(op, s))
	_, err = c.ApplyRegion(region.Indices(0, 2))
	require.NoError(t, err)

	_, err = c.Commit()
	require.ErrorIs(t, err, errDiskFull)
	assert.Equal(t, []int{0, 2}, op.Preview.Indices())
	assert.Equal(t, 2, op.Stats.Written)

	vol.failing = false
	res, err := c.Commit()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, res.Indices)
	assert.Equal(t, 3, res.Stats.Written)
	assert.Equal(t, []models.SegmentIndex{1, 1, 1}, vol.data)
}

func TestBeginInitFailureStaysIdle(t *testing.T) {
	vol := newVolume(t, 0, 0)
	c := NewCoordinator(vol)
	s, err := strategy.PipelineThresholdPaint.Build()
	require.NoError(t, err)

	err = c.Begin(fillOp(vol, 1), s)
	assert.ErrorIs(t, err, strategy.ErrMissingImage)
	assert.Equal(t, Idle, c.State())

	err = c.Begin(&strategy.OperationData{Dims: models.Dimensions{Width: 5, Height: 1, Depth: 1}}, mustFill(t))
	assert.Error(t, err)
	assert.Equal(t, Idle, c.State())
}

// TestLockPrecedenceRandomized paints random indices and checks that no
// voxel holding a locked segment changes in preview or volume
func TestLockPrecedenceRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	initial := make([]models.SegmentIndex, 64)
	for i := range initial {
		initial[i] = models.SegmentIndex(rng.Intn(4))
	}
	vol := newVolume(t, initial...)
	before := vol.Snapshot()
	c := NewCoordinator(vol)

	op := fillOp(vol, 1)
	op.Locks = locks.NewSet(2, 3)
	require.NoError(t, c.Begin(op, mustFill(t)))
	for n := 0; n < 500; n++ {
		require.NoError(t, c.Apply(rng.Intn(len(initial))))
	}
	for i, v := range before {
		if v == 2 || v == 3 {
			_, ok, err := c.PreviewValue(i)
			require.NoError(t, err)
			assert.False(t, ok, "locked voxel %d in preview", i)
		}
	}

	_, err := c.Commit()
	require.NoError(t, err)
	after := vol.Snapshot()
	for i, v := range before {
		if v == 2 || v == 3 {
			assert.Equal(t, v, after[i], "locked voxel %d changed", i)
		}
	}
}
