// Package buffer provides the backing-storage descriptor a realized
// LazyBuffer owns. No real device memory is allocated here — concrete
// buffer allocation and data movement are out of scope for the
// scheduler — but the descriptor tracks enough state to support the
// image-dtype fallback and the realized/unrealized distinction.
package buffer

import "lazysched/internal/dtype"

// ImageOptions marks a buffer as texture-backed on the accelerator.
type ImageOptions struct {
	Shape []int
}

// Buffer is owned by exactly one base LazyBuffer; views never own one.
// An ASSIGN node shares its target's Buffer instance so writes land in
// place.
type Buffer struct {
	Device    string
	Size      int
	DType     dtype.DType
	Allocated bool
	Options   *ImageOptions
}

func New(device string, size int, d dtype.DType) *Buffer {
	return &Buffer{Device: device, Size: size, DType: d}
}

// Allocate marks the buffer as backed by real storage. It is a no-op
// bookkeeping flip — this module never touches device memory.
func (b *Buffer) Allocate() { b.Allocated = true }

// Downgrade is called by the scheduler's image-dtype fallback: it
// changes the element dtype and clears any image backing, and only
// succeeds if the buffer has not yet been allocated.
func (b *Buffer) Downgrade(to dtype.DType) bool {
	if b.Allocated {
		return false
	}
	b.DType = to
	b.Options = nil
	return true
}
