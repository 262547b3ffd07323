package lazybuffer

import "lazysched/internal/shapetracker"

// Reshape reinterprets lb's elements under a new shape.
func (lb *LazyBuffer) Reshape(shape []shapetracker.Dim) *LazyBuffer {
	if shapetracker.DimsEqual(lb.Shape(), shape) {
		return lb
	}
	return NewView(lb.Base, lb.ST.Reshape(shape))
}

// Pad grows each axis by (low, high) zero-filled elements.
func (lb *LazyBuffer) Pad(arg [][2]int) *LazyBuffer {
	return NewView(lb.Base, lb.ST.Pad(arg))
}

// Expand broadcasts size-1 axes up to shape.
func (lb *LazyBuffer) Expand(shape []shapetracker.Dim) *LazyBuffer {
	if shapetracker.DimsEqual(lb.Shape(), shape) {
		return lb
	}
	return NewView(lb.Base, lb.ST.Expand(shape))
}

// Permute reorders lb's axes.
func (lb *LazyBuffer) Permute(order []int) *LazyBuffer {
	return NewView(lb.Base, lb.ST.Permute(order))
}

// Shrink restricts each axis to [low, high).
func (lb *LazyBuffer) Shrink(arg [][2]int) *LazyBuffer {
	return NewView(lb.Base, lb.ST.Shrink(arg))
}

// Stride subsamples each axis by arg[i].
func (lb *LazyBuffer) Stride(arg []int) *LazyBuffer {
	return NewView(lb.Base, lb.ST.Stride(arg))
}
