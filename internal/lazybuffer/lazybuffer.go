// Package lazybuffer implements the user-facing immutable DAG node the
// scheduler consumes: LazyBuffer. Each node is either a base (owns an
// op, its sources, and a backing buffer slot) or a view (a ShapeTracker
// layered on top of a base). Constructors apply the algebraic
// simplification rules inline and dedup through a weak-valued
// structural cache, the way the teacher's compiler package folds
// constant expressions during a single parse pass rather than as a
// separate optimization stage.
package lazybuffer

import (
	"sync"
	"weak"

	"lazysched/internal/buffer"
	"lazysched/internal/config"
	"lazysched/internal/dtype"
	"lazysched/internal/ops"
	"lazysched/internal/shapetracker"
)

var cfgOnce = sync.OnceValue(config.FromEnv)

func cfg() config.Config { return cfgOnce() }

// contigChild is the optional back-reference recorded by Contiguous so a
// later elementwise construction can re-fuse through the realized node
// instead of re-deriving it from the pre-realize source chain.
type contigChild struct {
	ref     weak.Pointer[LazyBuffer]
	inverse shapetracker.ShapeTracker
}

// LazyBuffer is either a base node (Base == the node itself) carrying an
// op, its sources and a buffer slot, or a view node whose Base points at
// the base it reinterprets.
type LazyBuffer struct {
	Device string
	ST     shapetracker.ShapeTracker
	DType  dtype.DType
	Base   *LazyBuffer

	Op            ops.Op
	Arg           any
	Srcs          []*LazyBuffer
	Buf           *buffer.Buffer
	ForcedRealize bool
	contigChild   *contigChild
}

// IsBase reports whether lb owns its own op/srcs/buffer rather than
// reinterpreting another node's.
func (lb *LazyBuffer) IsBase() bool { return lb.Base == lb }

// Shape is the logical shape of the node's top-level view.
func (lb *LazyBuffer) Shape() []shapetracker.Dim { return lb.ST.Shape() }

// IntShape is Shape with every axis resolved to a concrete int.
func (lb *LazyBuffer) IntShape() []int { return lb.ST.IntShape() }

// Size is the logical element count of the node.
func (lb *LazyBuffer) Size() int { return lb.ST.Size() }

// Realized returns the node's backing buffer if it has been allocated.
func (lb *LazyBuffer) Realized() *buffer.Buffer {
	if lb.Base.Buf != nil && lb.Base.Buf.Allocated {
		return lb.Base.Buf
	}
	return nil
}

func (lb *LazyBuffer) IsRealized() bool { return lb.Realized() != nil }

// IsUnrealizedConst reports whether lb's base is an unrealized CONST.
func (lb *LazyBuffer) IsUnrealizedConst() bool {
	return lb.Base.Op.IsLoad() && lb.Base.Op.Load == ops.CONST && !lb.IsRealized()
}

// IsUnrealizedUnmaskedConst additionally requires the current view to
// carry no mask, matching the precondition for constant folding.
func (lb *LazyBuffer) IsUnrealizedUnmaskedConst() bool {
	return lb.IsUnrealizedConst() && !lb.ST.HasMask()
}

// Realize marks the node's buffer as allocated, the only externally
// visible effect a completed device realization would have on this
// module's bookkeeping (device dispatch itself is out of scope).
func (lb *LazyBuffer) Realize() *LazyBuffer {
	lb.Base.Buf.Allocate()
	return lb
}
