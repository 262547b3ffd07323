package ops

import (
	"testing"

	"lazysched/internal/dtype"
	"lazysched/internal/shapetracker"
)

func loadNode(idx int, dt dtype.DType, shape []int) *LazyOp {
	return NewLazyOp(Buf(LOAD), nil, MemBuffer{Idx: idx, DType: dt, ST: shapetracker.FromIntShape(shape)})
}

func TestLazyOpEqualStructural(t *testing.T) {
	a := NewLazyOp(B(ADD), []*LazyOp{loadNode(0, dtype.Float32_, []int{4}), loadNode(1, dtype.Float32_, []int{4})}, nil)
	b := NewLazyOp(B(ADD), []*LazyOp{loadNode(0, dtype.Float32_, []int{4}), loadNode(1, dtype.Float32_, []int{4})}, nil)
	if !a.Equal(b) {
		t.Fatalf("structurally identical trees should compare equal")
	}
	c := NewLazyOp(B(MUL), []*LazyOp{loadNode(0, dtype.Float32_, []int{4}), loadNode(1, dtype.Float32_, []int{4})}, nil)
	if a.Equal(c) {
		t.Fatalf("trees with different top ops should not compare equal")
	}
}

func TestLazyOpKeyStableAcrossInstances(t *testing.T) {
	a := NewLazyOp(U(NEG), []*LazyOp{loadNode(0, dtype.Float32_, []int{2, 2})}, nil)
	b := NewLazyOp(U(NEG), []*LazyOp{loadNode(0, dtype.Float32_, []int{2, 2})}, nil)
	if string(a.Key()) != string(b.Key()) {
		t.Fatalf("content-identical ASTs should share the same Key digest")
	}
	c := NewLazyOp(U(NEG), []*LazyOp{loadNode(1, dtype.Float32_, []int{2, 2})}, nil)
	if string(a.Key()) == string(c.Key()) {
		t.Fatalf("ASTs differing only in buffer index should hash differently")
	}
}

func TestLazyOpDTypeDerivation(t *testing.T) {
	load := loadNode(0, dtype.Int32_, []int{4})
	cmp := NewLazyOp(B(CMPLT), []*LazyOp{load, load}, nil)
	if !cmp.DType().Equal(dtype.Bool_) {
		t.Fatalf("CMPLT should always produce bool, got %s", cmp.DType())
	}
	cast := NewLazyOp(U(CAST), []*LazyOp{load}, CastArg{DType: dtype.Float64_})
	if !cast.DType().Equal(dtype.Float64_) {
		t.Fatalf("CAST should report its target dtype, got %s", cast.DType())
	}
}

func TestLazyOpsFlattenDedup(t *testing.T) {
	shared := loadNode(0, dtype.Float32_, []int{4})
	top := NewLazyOp(B(ADD), []*LazyOp{shared, shared}, nil)
	flat := top.Lazyops()
	if len(flat) != 2 {
		t.Fatalf("flattening a tree with one shared child should dedup to 2 nodes, got %d", len(flat))
	}
}

func TestDedupPreservesOrder(t *testing.T) {
	in := []int{3, 1, 3, 2, 1}
	got := Dedup(in)
	want := []int{3, 1, 2}
	if len(got) != len(want) {
		t.Fatalf("Dedup length = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Dedup = %v, want %v", got, want)
		}
	}
}

func TestExecALUConstantFolding(t *testing.T) {
	tests := []struct {
		name string
		op   Op
		dt   dtype.DType
		args []any
		want any
	}{
		{"add floats", B(ADD), dtype.Float32_, []any{2.0, 3.0}, 5.0},
		{"mul floats", B(MUL), dtype.Float32_, []any{2.0, 4.0}, 8.0},
		{"cmplt true", B(CMPLT), dtype.Bool_, []any{1.0, 2.0}, true},
		{"cmplt false", B(CMPLT), dtype.Bool_, []any{2.0, 1.0}, false},
		{"neg float", U(NEG), dtype.Float32_, []any{5.0}, -5.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExecALU(tt.op, tt.dt, tt.args)
			if got != tt.want {
				t.Fatalf("ExecALU(%v) = %v, want %v", tt.op, got, tt.want)
			}
		})
	}
}
