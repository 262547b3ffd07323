package schedcheck

import (
	"testing"

	"lazysched/internal/buffer"
	"lazysched/internal/dtype"
	"lazysched/internal/ops"
)

func buf() *buffer.Buffer { return buffer.New("CLANG", 4, dtype.Float32_) }

func storeItem(outs, ins []*buffer.Buffer) *ops.ScheduleItem {
	return &ops.ScheduleItem{
		AST:     []*ops.LazyOp{ops.NewLazyOp(ops.Buf(ops.STORE), nil, nil)},
		Outputs: outs,
		Inputs:  ins,
	}
}

func TestNoSelfReferenceCatchesReadWriteOverlap(t *testing.T) {
	b := buf()
	bad := storeItem([]*buffer.Buffer{b}, []*buffer.Buffer{b})
	if err := NoSelfReference([]*ops.ScheduleItem{bad}); err == nil {
		t.Fatalf("expected a self-reference violation")
	}
}

func TestNoSelfReferenceAllowsAssignInPlaceOverlap(t *testing.T) {
	b := buf()
	assign := storeItem([]*buffer.Buffer{b}, []*buffer.Buffer{b})
	assign.IsAssign = true
	if err := NoSelfReference([]*ops.ScheduleItem{assign}); err != nil {
		t.Fatalf("an assign item reading and writing its target should be allowed: %v", err)
	}
}

func TestNoDuplicateOutputsCatchesDoubleWrite(t *testing.T) {
	b := buf()
	first := storeItem([]*buffer.Buffer{b}, nil)
	second := storeItem([]*buffer.Buffer{b}, nil)
	if err := NoDuplicateOutputs([]*ops.ScheduleItem{first, second}); err == nil {
		t.Fatalf("expected a duplicate-output violation")
	}
}

func TestInputsRealizedBeforeUseCatchesUnproducedRead(t *testing.T) {
	a, b := buf(), buf()
	item := storeItem([]*buffer.Buffer{b}, []*buffer.Buffer{a})
	if err := InputsRealizedBeforeUse([]*ops.ScheduleItem{item}, nil); err == nil {
		t.Fatalf("expected a violation: a is neither pre-realized nor produced")
	}
	if err := InputsRealizedBeforeUse([]*ops.ScheduleItem{item}, map[*buffer.Buffer]bool{a: true}); err != nil {
		t.Fatalf("pre-realized input should satisfy the check: %v", err)
	}
}

func TestInputsRealizedBeforeUseAllowsProducedChain(t *testing.T) {
	a, b := buf(), buf()
	first := storeItem([]*buffer.Buffer{a}, nil)
	second := storeItem([]*buffer.Buffer{b}, []*buffer.Buffer{a})
	if err := InputsRealizedBeforeUse([]*ops.ScheduleItem{first, second}, nil); err != nil {
		t.Fatalf("a produced by an earlier item should satisfy the check: %v", err)
	}
}

func TestSingleStoreASTRejectsBareElementwiseTop(t *testing.T) {
	b := buf()
	item := &ops.ScheduleItem{
		AST:     []*ops.LazyOp{ops.NewLazyOp(ops.B(ops.ADD), nil, nil)},
		Outputs: []*buffer.Buffer{b},
	}
	if err := SingleStoreAST([]*ops.ScheduleItem{item}); err == nil {
		t.Fatalf("a non-STORE, non-loadop AST top should be rejected")
	}
}

func TestSingleStoreASTAllowsLoadOpTop(t *testing.T) {
	b := buf()
	item := &ops.ScheduleItem{
		AST:     []*ops.LazyOp{ops.NewLazyOp(ops.L(ops.EMPTY), nil, nil)},
		Outputs: []*buffer.Buffer{b},
	}
	if err := SingleStoreAST([]*ops.ScheduleItem{item}); err != nil {
		t.Fatalf("a bare loadop top should be allowed: %v", err)
	}
}
