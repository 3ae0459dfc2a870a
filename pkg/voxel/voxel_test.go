package voxel

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxelseg/internal/models"
)

func newTestVolume(t *testing.T, n int) *LabelVolume {
	t.Helper()
	v, err := NewLabelVolume(models.Dimensions{Width: n, Height: 1, Depth: 1})
	require.NoError(t, err)
	return v
}

// TestLabelVolumeAddressing verifies out-of-range access fails with an
// addressing error and leaves the volume untouched
func TestLabelVolumeAddressing(t *testing.T) {
	v := newTestVolume(t, 10)

	for _, idx := range []int{-1, 10, 1000} {
		_, err := v.Get(idx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrAddressing))

		var addrErr *AddressingError
		require.True(t, errors.As(v.Set(idx, 1), &addrErr))
		assert.Equal(t, idx, addrErr.Index)
		assert.Equal(t, 10, addrErr.Length)
	}
	assert.Equal(t, uint64(0), v.Version())
}

func TestLabelVolumeVersion(t *testing.T) {
	v := newTestVolume(t, 4)
	require.NoError(t, v.Set(1, 5))
	require.NoError(t, v.Set(1, 5))

	got, err := v.Get(1)
	require.NoError(t, err)
	assert.Equal(t, models.SegmentIndex(5), got)
	assert.Equal(t, uint64(2), v.Version())
	assert.Equal(t, map[models.SegmentIndex]int{0: 3, 5: 1}, v.Histogram())
}

func TestLabelVolumeEditSlot(t *testing.T) {
	v := newTestVolume(t, 2)
	var _ Exclusive = v

	assert.True(t, v.Acquire())
	assert.False(t, v.Acquire())
	v.Release()
	assert.True(t, v.Acquire())
}

func TestLabelVolumeFromRejectsLength(t *testing.T) {
	_, err := LabelVolumeFrom(models.Dimensions{Width: 2, Height: 2, Depth: 1}, make([]models.SegmentIndex, 3))
	assert.Error(t, err)
}

// TestBufferDistinguishesAbsent verifies that an explicit background entry
// is not confused with a missing one
func TestBufferDistinguishesAbsent(t *testing.T) {
	b := NewBuffer(8)
	require.NoError(t, b.Set(3, 0))
	require.NoError(t, b.Set(1, 7))

	v, ok, err := b.Lookup(3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, models.SegmentIndex(0), v)

	_, ok, err = b.Lookup(4)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, []int{1, 3}, b.Indices())
	assert.Equal(t, 2, b.Count())

	b.Delete(3)
	assert.Equal(t, []int{1}, b.Indices())

	_, _, err = b.Lookup(8)
	assert.ErrorIs(t, err, ErrAddressing)

	b.Reset()
	assert.Equal(t, 0, b.Count())
}

// TestOverlayPrefersPreview verifies the preview entry wins over the
// committed value and absent entries fall through
func TestOverlayPrefersPreview(t *testing.T) {
	committed := newTestVolume(t, 4)
	require.NoError(t, committed.Set(0, 2))
	require.NoError(t, committed.Set(1, 2))

	preview := NewBuffer(4)
	require.NoError(t, preview.Set(1, 9))

	r := Overlay(preview, committed)
	got, err := r.Get(0)
	require.NoError(t, err)
	assert.Equal(t, models.SegmentIndex(2), got)

	got, err = r.Get(1)
	require.NoError(t, err)
	assert.Equal(t, models.SegmentIndex(9), got)

	_, err = r.Get(4)
	assert.ErrorIs(t, err, ErrAddressing)
}

func TestReadOnly(t *testing.T) {
	v := newTestVolume(t, 2)
	ro := ReadOnly(v)
	assert.ErrorIs(t, ro.Set(0, 1), ErrReadOnly)
	assert.Equal(t, 2, ro.Len())
	assert.Equal(t, uint64(0), v.Version())
}
