package voxel

import (
	"slices"

	"voxelseg/internal/models"
)

// Buffer is a sparse overlay of provisional segment indices for a volume
// of fixed length. Absent entries are distinct from entries holding 0.
type Buffer struct {
	entries map[int]models.SegmentIndex
	length  int
}

// NewBuffer returns an empty buffer addressing [0, length).
func NewBuffer(length int) *Buffer {
	return &Buffer{
		entries: make(map[int]models.SegmentIndex),
		length:  length,
	}
}

// Lookup returns the entry at index and whether one exists.
func (b *Buffer) Lookup(index int) (models.SegmentIndex, bool, error) {
	if err := CheckIndex(index, b.length); err != nil {
		return 0, false, err
	}
	v, ok := b.entries[index]
	return v, ok, nil
}

// Get returns the entry at index, or background when absent.
func (b *Buffer) Get(index int) (models.SegmentIndex, error) {
	v, _, err := b.Lookup(index)
	return v, err
}

// Set stores an entry.
func (b *Buffer) Set(index int, value models.SegmentIndex) error {
	if err := CheckIndex(index, b.length); err != nil {
		return err
	}
	b.entries[index] = value
	return nil
}

// Delete removes an entry if present.
func (b *Buffer) Delete(index int) {
	delete(b.entries, index)
}

// Len returns the addressable length, not the entry count.
func (b *Buffer) Len() int { return b.length }

// Count returns the number of entries.
func (b *Buffer) Count() int { return len(b.entries) }

// Indices returns the indices holding entries in ascending order.
func (b *Buffer) Indices() []int {
	out := make([]int, 0, len(b.entries))
	for i := range b.entries {
		out = append(out, i)
	}
	slices.Sort(out)
	return out
}

// Entries returns a copy of all entries.
func (b *Buffer) Entries() map[int]models.SegmentIndex {
	out := make(map[int]models.SegmentIndex, len(b.entries))
	for i, v := range b.entries {
		out[i] = v
	}
	return out
}

// Reset drops all entries.
func (b *Buffer) Reset() {
	clear(b.entries)
}
