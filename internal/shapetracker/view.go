package shapetracker

// MaskPair is the [low, high) valid range of one axis; an axis outside
// its mask reads as zero. A nil Mask on a View means "no masking".
type MaskPair struct{ Low, High int }

// View is a single affine reinterpretation of a flat buffer: Shape gives
// the logical extents, Strides gives the per-axis stride into the
// buffer below this view, Offset shifts the base address, and Mask (if
// non-nil) marks padded regions that must read as zero.
type View struct {
	Shape   []Dim
	Strides []int
	Offset  int
	Mask    []MaskPair
}

func contiguousStrides(shape []Dim) []int {
	strides := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		if shape[i].Val == 1 {
			strides[i] = 0
		} else {
			strides[i] = acc
		}
		acc *= shape[i].Val
	}
	return strides
}

func viewFromShape(shape []Dim) View {
	return View{Shape: shape, Strides: contiguousStrides(shape), Offset: 0, Mask: nil}
}

func (v View) size() int { return prodDims(v.Shape) }

func (v View) contiguous() bool {
	if v.Offset != 0 || v.Mask != nil {
		return false
	}
	want := contiguousStrides(v.Shape)
	for i := range want {
		if v.Strides[i] != want[i] {
			return false
		}
	}
	return true
}

// realSize accounts for masking: the number of in-bounds elements.
func (v View) realSize() int {
	if v.Mask == nil {
		return v.size()
	}
	n := 1
	for i, s := range v.Shape {
		_ = s
		n *= v.Mask[i].High - v.Mask[i].Low
	}
	return n
}

func (v View) unitStrideAxes() []int {
	var axes []int
	for i, s := range v.Strides {
		if s == 1 {
			axes = append(axes, i)
		}
	}
	return axes
}

func clonePairs(m []MaskPair) []MaskPair {
	if m == nil {
		return nil
	}
	out := make([]MaskPair, len(m))
	copy(out, m)
	return out
}

func cloneInts(xs []int) []int {
	out := make([]int, len(xs))
	copy(out, xs)
	return out
}

func cloneDims(xs []Dim) []Dim {
	out := make([]Dim, len(xs))
	copy(out, xs)
	return out
}
