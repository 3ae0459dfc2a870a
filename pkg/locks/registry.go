// Package locks tracks which segment indices are protected from being
// overwritten. Operations work against an immutable Set snapshot so that
// lock changes made mid-stroke only apply from the next operation on.
package locks

import (
	"slices"
	"sync"

	"voxelseg/internal/models"
)

// Set is an immutable snapshot of locked segment indices.
// The zero value locks nothing.
type Set struct {
	members map[models.SegmentIndex]struct{}
}

// NewSet builds a snapshot from explicit indices.
func NewSet(indices ...models.SegmentIndex) Set {
	members := make(map[models.SegmentIndex]struct{}, len(indices))
	for _, s := range indices {
		members[s] = struct{}{}
	}
	return Set{members: members}
}

// Contains reports whether s is locked.
func (s Set) Contains(segment models.SegmentIndex) bool {
	_, ok := s.members[segment]
	return ok
}

// Len returns the number of locked indices.
func (s Set) Len() int { return len(s.members) }

// Slice returns the locked indices in ascending order.
func (s Set) Slice() []models.SegmentIndex {
	out := make([]models.SegmentIndex, 0, len(s.members))
	for seg := range s.members {
		out = append(out, seg)
	}
	slices.Sort(out)
	return out
}

// Registry is the mutable set of locked segments for a segmentation.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	locked map[models.SegmentIndex]struct{}
}

// NewRegistry returns a registry with the given segments locked.
func NewRegistry(initial ...models.SegmentIndex) *Registry {
	r := &Registry{locked: make(map[models.SegmentIndex]struct{})}
	for _, s := range initial {
		r.locked[s] = struct{}{}
	}
	return r
}

// Lock protects segment. Locking twice is a no-op.
func (r *Registry) Lock(segment models.SegmentIndex) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locked[segment] = struct{}{}
}

// Unlock removes protection from segment.
func (r *Registry) Unlock(segment models.SegmentIndex) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locked, segment)
}

// SetLocked locks or unlocks segment.
func (r *Registry) SetLocked(segment models.SegmentIndex, locked bool) {
	if locked {
		r.Lock(segment)
		return
	}
	r.Unlock(segment)
}

// IsLocked reports whether segment is currently locked.
func (r *Registry) IsLocked(segment models.SegmentIndex) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.locked[segment]
	return ok
}

// Locked returns the locked segments in ascending order.
func (r *Registry) Locked() []models.SegmentIndex {
	return r.Snapshot().Slice()
}

// Snapshot copies the current lock state.
func (r *Registry) Snapshot() Set {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := make(map[models.SegmentIndex]struct{}, len(r.locked))
	for s := range r.locked {
		members[s] = struct{}{}
	}
	return Set{members: members}
}
