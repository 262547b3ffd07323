package shapetracker

import "fmt"

// Var is a symbolic integer extent bound to a concrete value once the
// scheduler unbinds a ShapeTracker. It mirrors tinygrad's shape.symbolic
// Variable just enough to support dynamic shapes threading through the
// scheduler without forcing every dimension to be a compile-time constant.
type Var struct {
	Name     string
	Min, Max int
	Val      int // the value this instance is currently bound to
	bound    bool
}

func NewVar(name string, min, max, val int) *Var {
	return &Var{Name: name, Min: min, Max: max, Val: val, bound: true}
}

func (v *Var) String() string { return fmt.Sprintf("%s[%d:%d]=%d", v.Name, v.Min, v.Max, v.Val) }

// Dim is one shape/stride extent: either a concrete int or a bound Var.
type Dim struct {
	V   *Var
	Val int
}

func I(v int) Dim        { return Dim{Val: v} }
func Sym(v *Var) Dim     { return Dim{V: v, Val: v.Val} }
func (d Dim) Int() int   { return d.Val }
func (d Dim) IsVar() bool { return d.V != nil }

func (d Dim) String() string {
	if d.V != nil {
		return d.V.String()
	}
	return fmt.Sprintf("%d", d.Val)
}

func dimsEqual(a, b []Dim) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Val != b[i].Val {
			return false
		}
	}
	return true
}

func allInt(dims []Dim) bool {
	for _, d := range dims {
		if d.IsVar() {
			return false
		}
	}
	return true
}

func toInts(dims []Dim) []int {
	out := make([]int, len(dims))
	for i, d := range dims {
		out[i] = d.Val
	}
	return out
}

func fromInts(xs []int) []Dim {
	out := make([]Dim, len(xs))
	for i, x := range xs {
		out[i] = I(x)
	}
	return out
}

func prodDims(dims []Dim) int {
	p := 1
	for _, d := range dims {
		p *= d.Val
	}
	return p
}

// Dims converts a plain int shape into concrete Dim values.
func Dims(xs []int) []Dim { return fromInts(xs) }

// ToInts converts a Dim shape back into plain ints.
func ToInts(dims []Dim) []int { return toInts(dims) }

// DimsEqual reports whether two Dim shapes have the same concrete extents.
func DimsEqual(a, b []Dim) bool { return dimsEqual(a, b) }

// AllIntDims reports whether every dim in shape is a concrete int.
func AllIntDims(shape []Dim) bool { return allInt(shape) }

// ProdDims is the element count of shape.
func ProdDims(shape []Dim) int { return prodDims(shape) }
