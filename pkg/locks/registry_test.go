package locks

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"voxelseg/internal/models"
)

func TestRegistryLockUnlock(t *testing.T) {
	r := NewRegistry(4)
	assert.True(t, r.IsLocked(4))
	assert.False(t, r.IsLocked(3))

	r.Lock(3)
	r.Lock(3)
	assert.Equal(t, []models.SegmentIndex{3, 4}, r.Locked())

	r.Unlock(4)
	r.SetLocked(7, true)
	r.SetLocked(3, false)
	assert.Equal(t, []models.SegmentIndex{7}, r.Locked())
}

// TestSnapshotIsolation verifies that a snapshot does not observe later
// registry changes
func TestSnapshotIsolation(t *testing.T) {
	r := NewRegistry(1)
	snap := r.Snapshot()

	r.Lock(2)
	r.Unlock(1)

	assert.True(t, snap.Contains(1))
	assert.False(t, snap.Contains(2))
	assert.Equal(t, 1, snap.Len())

	var zero Set
	assert.False(t, zero.Contains(0))
	assert.Empty(t, zero.Slice())
}

func TestRegistryConcurrentUse(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(seg models.SegmentIndex) {
			defer wg.Done()
			r.Lock(seg)
			_ = r.Snapshot()
			_ = r.IsLocked(seg)
		}(models.SegmentIndex(i))
	}
	wg.Wait()
	assert.Len(t, r.Locked(), 16)
}

func TestNewSet(t *testing.T) {
	s := NewSet(5, 2, 5)
	assert.Equal(t, []models.SegmentIndex{2, 5}, s.Slice())
}
