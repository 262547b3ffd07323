// Package shapetracker implements the view-composition algebra the
// scheduler needs: a stack of affine Views describing how a flat buffer
// is reinterpreted as an N-dimensional tensor, with reshape/pad/expand/
// permute/shrink/stride, composition, simplification, inversion and
// symbolic-variable binding.
//
// This is the scheduler's one external collaborator that still needs a
// concrete body to compile: the full tinygrad ShapeTracker merges an
// arbitrary stack of strided, masked views into a minimal form using a
// general affine solver. This port restricts Simplify to the shapes the
// scheduler actually produces (see DESIGN.md) — a pushed view folds into
// its parent only when it is a plain, unmasked reshape of it.
package shapetracker

import (
	"fmt"
	"strings"
)

// ShapeTracker is an ordered stack of Views; Views[len-1] is the
// logical, user-facing view; each earlier view is a reinterpretation of
// the one before it, down to the flat buffer.
type ShapeTracker struct {
	Views []View
}

// FromShape builds a fresh contiguous ShapeTracker over shape.
func FromShape(shape []Dim) ShapeTracker {
	return ShapeTracker{Views: []View{viewFromShape(shape)}}
}

func FromIntShape(shape []int) ShapeTracker { return FromShape(fromInts(shape)) }

func (st ShapeTracker) top() View { return st.Views[len(st.Views)-1] }

// Shape returns the logical shape of the tracker's top view.
func (st ShapeTracker) Shape() []Dim { return st.top().Shape }

func (st ShapeTracker) IntShape() []int { return toInts(st.top().Shape) }

// Size is the logical element count of the top view (ignoring masking).
func (st ShapeTracker) Size() int { return st.top().size() }

// RealSize is the in-bounds element count, accounting for masking.
func (st ShapeTracker) RealSize() int { return st.top().realSize() }

// Contiguous reports whether the tracker is exactly one unmasked,
// offset-zero, row-major view.
func (st ShapeTracker) Contiguous() bool {
	return len(st.Views) == 1 && st.top().contiguous()
}

// RealStrides returns the top view's per-axis strides.
func (st ShapeTracker) RealStrides() []int { return cloneInts(st.top().Strides) }

// UnitStrideAxes returns axes of the top view with stride 1.
func (st ShapeTracker) UnitStrideAxes() []int { return st.top().unitStrideAxes() }

func (st ShapeTracker) clone() ShapeTracker {
	views := make([]View, len(st.Views))
	for i, v := range st.Views {
		views[i] = View{Shape: cloneDims(v.Shape), Strides: cloneInts(v.Strides), Offset: v.Offset, Mask: clonePairs(v.Mask)}
	}
	return ShapeTracker{Views: views}
}

// replaceTop returns a copy of st with its top view replaced by nv.
func (st ShapeTracker) replaceTop(nv View) ShapeTracker {
	out := st.clone()
	out.Views[len(out.Views)-1] = nv
	return out
}

// Reshape reinterprets the top view's elements under a new shape. Valid
// only when the element count matches; the scheduler never reshapes a
// masked view except through Pad/Shrink, which manage their own masks.
func (st ShapeTracker) Reshape(newShape []Dim) ShapeTracker {
	top := st.top()
	if top.contiguous() {
		nv := viewFromShape(newShape)
		nv.Offset = top.Offset
		return st.replaceTop(nv)
	}
	// Non-contiguous reshape: push a fresh layer on top.
	out := st.clone()
	out.Views = append(out.Views, viewFromShape(newShape))
	return out
}

// Pad grows each axis by (low, high) zero-filled elements, recording the
// original in-bounds region as a mask.
func (st ShapeTracker) Pad(arg [][2]int) ShapeTracker {
	top := st.top()
	shape := make([]Dim, len(top.Shape))
	mask := make([]MaskPair, len(top.Shape))
	offset := top.Offset
	for i, d := range top.Shape {
		lo, hi := arg[i][0], arg[i][1]
		shape[i] = I(d.Val + lo + hi)
		base := MaskPair{Low: 0, High: d.Val}
		if top.Mask != nil {
			base = top.Mask[i]
		}
		mask[i] = MaskPair{Low: base.Low + lo, High: base.High + lo}
		offset -= lo * top.Strides[i]
	}
	nv := View{Shape: shape, Strides: cloneInts(top.Strides), Offset: offset, Mask: mask}
	return st.replaceTop(nv)
}

// Expand broadcasts size-1 axes up to the target shape (stride 0).
func (st ShapeTracker) Expand(newShape []Dim) ShapeTracker {
	top := st.top()
	shape := make([]Dim, len(newShape))
	strides := make([]int, len(newShape))
	var mask []MaskPair
	if top.Mask != nil {
		mask = make([]MaskPair, len(newShape))
	}
	for i, d := range newShape {
		if top.Shape[i].Val == 1 && d.Val != 1 {
			shape[i] = d
			strides[i] = 0
			if mask != nil {
				mask[i] = MaskPair{Low: 0, High: d.Val}
			}
		} else {
			shape[i] = d
			strides[i] = top.Strides[i]
			if mask != nil {
				mask[i] = top.Mask[i]
			}
		}
	}
	nv := View{Shape: shape, Strides: strides, Offset: top.Offset, Mask: mask}
	return st.replaceTop(nv)
}

// Permute reorders axes.
func (st ShapeTracker) Permute(order []int) ShapeTracker {
	top := st.top()
	shape := make([]Dim, len(order))
	strides := make([]int, len(order))
	var mask []MaskPair
	if top.Mask != nil {
		mask = make([]MaskPair, len(order))
	}
	for i, axis := range order {
		shape[i] = top.Shape[axis]
		strides[i] = top.Strides[axis]
		if mask != nil {
			mask[i] = top.Mask[axis]
		}
	}
	nv := View{Shape: shape, Strides: strides, Offset: top.Offset, Mask: mask}
	return st.replaceTop(nv)
}

// Shrink restricts each axis to [low, high).
func (st ShapeTracker) Shrink(arg [][2]int) ShapeTracker {
	top := st.top()
	shape := make([]Dim, len(top.Shape))
	offset := top.Offset
	var mask []MaskPair
	for i := range top.Shape {
		lo, hi := arg[i][0], arg[i][1]
		shape[i] = I(hi - lo)
		offset += lo * top.Strides[i]
		if top.Mask != nil {
			m := top.Mask[i]
			nlo, nhi := m.Low-lo, m.High-lo
			if nlo < 0 {
				nlo = 0
			}
			if nhi > hi-lo {
				nhi = hi - lo
			}
			if mask == nil {
				mask = make([]MaskPair, len(top.Shape))
			}
			mask[i] = MaskPair{Low: nlo, High: nhi}
		}
	}
	nv := View{Shape: shape, Strides: cloneInts(top.Strides), Offset: offset, Mask: mask}
	return st.replaceTop(nv)
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// Stride subsamples each axis by arg[i] (negative values reverse it).
func (st ShapeTracker) Stride(arg []int) ShapeTracker {
	top := st.top()
	shape := make([]Dim, len(top.Shape))
	strides := make([]int, len(top.Shape))
	offset := top.Offset
	for i, step := range arg {
		n := top.Shape[i].Val
		newN := (n + absInt(step) - 1) / absInt(step)
		shape[i] = I(newN)
		if step < 0 {
			offset += (n - 1) * top.Strides[i]
			strides[i] = top.Strides[i] * step
		} else {
			strides[i] = top.Strides[i] * step
		}
	}
	nv := View{Shape: shape, Strides: strides, Offset: offset, Mask: nil}
	return st.replaceTop(nv)
}

// Add composes st (the base) with other (an additional view layered on
// top); other's shape must equal st's shape. Matches tinygrad's `+`.
func (st ShapeTracker) Add(other ShapeTracker) ShapeTracker {
	out := st.clone()
	out.Views = append(out.Views, other.clone().Views...)
	return out.Simplify()
}

// Digest returns a content digest of st suitable for use as a map key
// (e.g. a structural cache key or an AST-lowering memo key): two
// trackers with equal Digest are interchangeable for every purpose this
// package cares about.
func (st ShapeTracker) Digest() string {
	var sb strings.Builder
	for _, v := range st.Views {
		sb.WriteByte('[')
		for _, d := range v.Shape {
			if d.IsVar() {
				fmt.Fprintf(&sb, "v%p,", d.V)
			} else {
				fmt.Fprintf(&sb, "%d,", d.Val)
			}
		}
		sb.WriteByte(';')
		for _, s := range v.Strides {
			fmt.Fprintf(&sb, "%d,", s)
		}
		fmt.Fprintf(&sb, ";%d;", v.Offset)
		for _, m := range v.Mask {
			fmt.Fprintf(&sb, "%d-%d,", m.Low, m.High)
		}
		sb.WriteByte(']')
	}
	return sb.String()
}

// Simplify folds a pushed view into its parent when the child is a
// plain, unmasked reinterpretation of the same element count — the
// restricted merge described in the package doc.
func (st ShapeTracker) Simplify() ShapeTracker {
	out := st.clone()
	for len(out.Views) > 1 {
		n := len(out.Views)
		child, parent := out.Views[n-1], out.Views[n-2]
		if child.Mask != nil || !child.contiguous() || child.size() != parent.size() {
			break
		}
		// child only changes the logical shape; re-derive parent's view
		// under the new shape when parent is itself contiguous (pure
		// reshape-of-contiguous), or drop child when it restates parent's
		// shape unchanged. Any other stack is left as it is.
		if parent.contiguous() {
			nv := viewFromShape(child.Shape)
			nv.Offset = parent.Offset
			out.Views = out.Views[:n-1]
			out.Views[n-2] = nv
		} else if dimsEqual(child.Shape, parent.Shape) {
			out.Views = out.Views[:n-1]
		} else {
			break
		}
	}
	return out
}

// Invert attempts to compute the ShapeTracker that maps baseShape back
// through st, for the contiguous_child re-fusion hint. It only succeeds
// for single-view, unmasked, permutation-free trackers (a pure reshape),
// matching the "optional, may be omitted" guidance for this hint.
func (st ShapeTracker) Invert(baseShape []Dim) (ShapeTracker, bool) {
	if len(st.Views) != 1 {
		return ShapeTracker{}, false
	}
	top := st.Views[0]
	if top.Mask != nil || top.Offset != 0 || !top.contiguous() {
		return ShapeTracker{}, false
	}
	if prodDims(top.Shape) != prodDims(baseShape) {
		return ShapeTracker{}, false
	}
	return FromShape(baseShape), true
}

// Unbind replaces any symbolic Var-valued extent with its bound value,
// returning the stripped tracker and the collected bindings.
func (st ShapeTracker) Unbind() (ShapeTracker, map[*Var]int) {
	vals := map[*Var]int{}
	out := st.clone()
	for vi, v := range out.Views {
		for i, d := range v.Shape {
			if d.IsVar() {
				vals[d.V] = d.V.Val
				out.Views[vi].Shape[i] = I(d.Val)
			}
		}
	}
	return out, vals
}

// VarVals collects the symbolic variable bindings referenced anywhere in
// the tracker without stripping them.
func (st ShapeTracker) VarVals() map[*Var]int {
	vals := map[*Var]int{}
	for _, v := range st.Views {
		for _, d := range v.Shape {
			if d.IsVar() {
				vals[d.V] = d.V.Val
			}
		}
	}
	return vals
}

// AllInt reports whether every axis of the top view is a concrete int.
func (st ShapeTracker) AllInt() bool { return allInt(st.top().Shape) }

// HasMask reports whether the top view carries a mask.
func (st ShapeTracker) HasMask() bool { return st.top().Mask != nil }

// IsContiguousMaskedShrink reports whether st is a single masked view
// whose in-bounds region is a plain shrink of a contiguous tracker —
// the only masked-assign shape this port accepts, per the restriction
// on multi-view masked assigns noted in the package doc.
func (st ShapeTracker) IsContiguousMaskedShrink() bool {
	if len(st.Views) != 1 {
		return false
	}
	top := st.Views[0]
	if top.Mask == nil {
		return false
	}
	arg := make([][2]int, len(top.Mask))
	for i, m := range top.Mask {
		arg[i] = [2]int{m.Low, m.High}
	}
	a := st.Shrink(arg).top()
	b := FromShape(top.Shape).Shrink(arg).top()
	return a.Offset == b.Offset && dimsEqual(a.Shape, b.Shape) && fmt.Sprint(a.Strides) == fmt.Sprint(b.Strides)
}
