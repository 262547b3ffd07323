package shapetracker

import "testing"

func TestFromShapeContiguous(t *testing.T) {
	st := FromIntShape([]int{2, 3})
	if !st.Contiguous() {
		t.Fatalf("fresh FromIntShape tracker should be contiguous")
	}
	if got := st.IntShape(); got[0] != 2 || got[1] != 3 {
		t.Fatalf("unexpected shape %v", got)
	}
	if st.Size() != 6 {
		t.Fatalf("size = %d, want 6", st.Size())
	}
}

func TestReshapePreservesElementCount(t *testing.T) {
	st := FromIntShape([]int{2, 3})
	reshaped := st.Reshape(Dims([]int{6}))
	if reshaped.Size() != 6 {
		t.Fatalf("reshape changed element count: %d", reshaped.Size())
	}
	if !reshaped.Contiguous() {
		t.Fatalf("plain reshape of a contiguous tracker should stay contiguous")
	}
}

func TestExpandBroadcastsUnitAxis(t *testing.T) {
	st := FromIntShape([]int{1, 3})
	expanded := st.Expand(Dims([]int{4, 3}))
	strides := expanded.RealStrides()
	if strides[0] != 0 {
		t.Fatalf("expanded axis should carry stride 0, got %d", strides[0])
	}
	if expanded.Size() != 12 {
		t.Fatalf("expanded size = %d, want 12", expanded.Size())
	}
}

func TestPadRecordsMask(t *testing.T) {
	st := FromIntShape([]int{4})
	padded := st.Pad([][2]int{{1, 1}})
	if !padded.HasMask() {
		t.Fatalf("pad should introduce a mask")
	}
	if padded.Size() != 6 {
		t.Fatalf("padded size = %d, want 6", padded.Size())
	}
	if padded.RealSize() != 4 {
		t.Fatalf("padded real size = %d, want 4 (unpadded element count)", padded.RealSize())
	}
}

func TestShrinkRestrictsAxis(t *testing.T) {
	st := FromIntShape([]int{8})
	shrunk := st.Shrink([][2]int{{2, 5}})
	if shrunk.Size() != 3 {
		t.Fatalf("shrunk size = %d, want 3", shrunk.Size())
	}
}

func TestPermuteReordersAxes(t *testing.T) {
	st := FromIntShape([]int{2, 3, 4})
	permuted := st.Permute([]int{2, 0, 1})
	got := permuted.IntShape()
	want := []int{4, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("permuted shape = %v, want %v", got, want)
		}
	}
}

func TestSimplifyFoldsPlainReshapeOfContiguous(t *testing.T) {
	st := FromIntShape([]int{2, 3})
	pushed := st.Add(FromIntShape([]int{2, 3}))
	if len(pushed.Views) != 1 {
		t.Fatalf("Simplify should fold a contiguous identity layer into one view, got %d views", len(pushed.Views))
	}
}

func TestInvertRoundTripsPureReshape(t *testing.T) {
	st := FromIntShape([]int{2, 3})
	reshaped := st.Reshape(Dims([]int{6}))
	inv, ok := reshaped.Invert(Dims([]int{2, 3}))
	if !ok {
		t.Fatalf("Invert should succeed for a pure unmasked reshape")
	}
	if inv.Size() != 6 {
		t.Fatalf("inverted tracker size = %d, want 6", inv.Size())
	}
}

func TestInvertRejectsMaskedTracker(t *testing.T) {
	st := FromIntShape([]int{4}).Pad([][2]int{{1, 1}})
	if _, ok := st.Invert(Dims([]int{6})); ok {
		t.Fatalf("Invert should refuse a masked tracker")
	}
}

func TestUnbindStripsSymbolicVars(t *testing.T) {
	v := NewVar("n", 1, 16, 8)
	st := FromShape([]Dim{Sym(v), I(3)})
	stripped, vals := st.Unbind()
	if stripped.IntShape()[0] != 8 {
		t.Fatalf("unbound shape should resolve to the var's bound value")
	}
	if vals[v] != 8 {
		t.Fatalf("Unbind should report the bound value, got %d", vals[v])
	}
}

func TestIsContiguousMaskedShrink(t *testing.T) {
	st := FromIntShape([]int{4}).Pad([][2]int{{0, 1}})
	if !st.IsContiguousMaskedShrink() {
		t.Fatalf("single masked view should report IsContiguousMaskedShrink")
	}
	plain := FromIntShape([]int{4})
	if plain.IsContiguousMaskedShrink() {
		t.Fatalf("unmasked tracker should not report IsContiguousMaskedShrink")
	}
}
