// Package voxel provides uniform get/set access to flattened label data,
// independent of whether it is stored densely (a committed label volume)
// or sparsely (a preview buffer).
package voxel

import (
	"errors"
	"fmt"

	"voxelseg/internal/models"
)

var (
	// ErrAddressing is matched by every AddressingError.
	ErrAddressing = errors.New("voxel index out of range")

	// ErrReadOnly is returned by Set on a read-only accessor.
	ErrReadOnly = errors.New("accessor is read-only")
)

// AddressingError reports an index outside [0, Length).
// It always indicates a caller bug.
type AddressingError struct {
	Index  int
	Length int
}

func (e *AddressingError) Error() string {
	return fmt.Sprintf("voxel index %d out of range [0,%d)", e.Index, e.Length)
}

// Is makes errors.Is(err, ErrAddressing) hold.
func (e *AddressingError) Is(target error) bool {
	return target == ErrAddressing
}

// CheckIndex returns an AddressingError when index is outside [0, length).
func CheckIndex(index, length int) error {
	if index < 0 || index >= length {
		return &AddressingError{Index: index, Length: length}
	}
	return nil
}

// Reader reads segment indices by flat voxel index.
type Reader interface {
	Get(index int) (models.SegmentIndex, error)
	Len() int
}

// Accessor reads and writes segment indices by flat voxel index.
type Accessor interface {
	Reader
	Set(index int, value models.SegmentIndex) error
}

// Versioned is implemented by accessors that count their mutations.
type Versioned interface {
	Version() uint64
}

// Exclusive is implemented by volumes that admit one active edit at a
// time, however many coordinators are bound to them.
type Exclusive interface {
	// Acquire claims the edit slot and reports whether it was free.
	Acquire() bool
	Release()
}

type readOnly struct {
	Reader
}

func (readOnly) Set(int, models.SegmentIndex) error { return ErrReadOnly }

// ReadOnly wraps r so that Set always fails.
func ReadOnly(r Reader) Accessor {
	return readOnly{Reader: r}
}

// overlay reads the preview first and falls back to the committed data.
type overlay struct {
	preview   *Buffer
	committed Reader
}

// Overlay returns a reader that resolves each index against preview first,
// then committed when no preview entry exists.
func Overlay(preview *Buffer, committed Reader) Reader {
	return overlay{preview: preview, committed: committed}
}

func (o overlay) Get(index int) (models.SegmentIndex, error) {
	v, ok, err := o.preview.Lookup(index)
	if err != nil {
		return 0, err
	}
	if ok {
		return v, nil
	}
	return o.committed.Get(index)
}

func (o overlay) Len() int { return o.committed.Len() }
