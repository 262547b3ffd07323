package scheduler

import (
	"testing"

	"lazysched/internal/buffer"
	"lazysched/internal/dtype"
	"lazysched/internal/lazybuffer"
	"lazysched/internal/ops"
	"lazysched/internal/schedcheck"
	"lazysched/internal/shapetracker"
)

func realizedInput(shape []int) *lazybuffer.LazyBuffer {
	b := lazybuffer.LoadOp(ops.EMPTY, shapetracker.Dims(shape), dtype.Float32_, "CLANG", nil, nil, true)
	return b.Realize()
}

func preRealizedSet(outs []*lazybuffer.LazyBuffer) map[*buffer.Buffer]bool {
	pre := map[*buffer.Buffer]bool{}
	var walk func(b *lazybuffer.LazyBuffer, seen map[*lazybuffer.LazyBuffer]bool)
	walk = func(b *lazybuffer.LazyBuffer, seen map[*lazybuffer.LazyBuffer]bool) {
		base := b.Base
		if seen[base] {
			return
		}
		seen[base] = true
		if base.IsRealized() {
			pre[base.Buf] = true
			return
		}
		for _, s := range base.Srcs {
			walk(s, seen)
		}
	}
	for _, o := range outs {
		walk(o, map[*lazybuffer.LazyBuffer]bool{})
	}
	return pre
}

// TestScheduleSingleItemForSimpleAdd mirrors spec.md scenario 2: a + 2
// over a single realized input schedules as exactly one item.
func TestScheduleSingleItemForSimpleAdd(t *testing.T) {
	a := realizedInput([]int{4})
	two := lazybuffer.Const(2.0, dtype.Float32_, "CLANG", []int{4})
	out, err := lazybuffer.E(ops.B(ops.ADD), []*lazybuffer.LazyBuffer{a, two}, nil)
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}

	sched, err := CreateSchedule([]*lazybuffer.LazyBuffer{out}, nil)
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	if len(sched) != 1 {
		t.Fatalf("expected 1 schedule item, got %d", len(sched))
	}
	if err := schedcheck.All(sched, preRealizedSet([]*lazybuffer.LazyBuffer{a})); err != nil {
		t.Fatalf("invariant violation: %v", err)
	}
}

// TestScheduleFusesReduceIntoConsumer mirrors spec.md scenario 4:
// x.sum(axis=0) + 1 fuses into a single kernel rather than materializing
// the reduce separately.
func TestScheduleFusesReduceIntoConsumer(t *testing.T) {
	x := realizedInput([]int{8, 8})
	r, err := lazybuffer.R(x, ops.SUM, []int{0})
	if err != nil {
		t.Fatalf("build reduce: %v", err)
	}
	one := lazybuffer.Const(1.0, dtype.Float32_, "CLANG", r.IntShape())
	out, err := lazybuffer.E(ops.B(ops.ADD), []*lazybuffer.LazyBuffer{r, one}, nil)
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}

	sched, err := CreateSchedule([]*lazybuffer.LazyBuffer{out}, nil)
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	if len(sched) != 1 {
		t.Fatalf("reduce feeding a single consumer should fuse into one item, got %d", len(sched))
	}
	if err := schedcheck.All(sched, preRealizedSet([]*lazybuffer.LazyBuffer{x})); err != nil {
		t.Fatalf("invariant violation: %v", err)
	}
}

// TestScheduleForcesRealizeForMultipleConsumers mirrors spec.md scenario
// 5: a reduce read by two distinct consumers must realize on its own,
// producing three items (the reduce, then each consumer).
func TestScheduleForcesRealizeForMultipleConsumers(t *testing.T) {
	x := realizedInput([]int{8, 8})
	r, err := lazybuffer.R(x, ops.SUM, []int{0})
	if err != nil {
		t.Fatalf("build reduce: %v", err)
	}
	two := lazybuffer.Const(2.0, dtype.Float32_, "CLANG", r.IntShape())
	three := lazybuffer.Const(3.0, dtype.Float32_, "CLANG", r.IntShape())
	a, err := lazybuffer.E(ops.B(ops.MUL), []*lazybuffer.LazyBuffer{r, two}, nil)
	if err != nil {
		t.Fatalf("build a: %v", err)
	}
	b, err := lazybuffer.E(ops.B(ops.ADD), []*lazybuffer.LazyBuffer{r, three}, nil)
	if err != nil {
		t.Fatalf("build b: %v", err)
	}

	sched, err := CreateSchedule([]*lazybuffer.LazyBuffer{a, b}, nil)
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	if len(sched) != 3 {
		t.Fatalf("expected 3 items (reduce + 2 consumers), got %d", len(sched))
	}
	if err := schedcheck.All(sched, preRealizedSet([]*lazybuffer.LazyBuffer{x})); err != nil {
		t.Fatalf("invariant violation: %v", err)
	}

	reduceOut := sched[0].Outputs[0]
	for _, item := range sched[1:] {
		reads := false
		for _, in := range item.Inputs {
			if in == reduceOut {
				reads = true
			}
		}
		if !reads {
			t.Fatalf("both consumers should read the independently realized reduce's output")
		}
	}
}

// TestScheduleOrdersAssignAfterReaders mirrors spec.md scenario 6: a
// consumer reading b's pre-assign value must schedule before the assign
// that overwrites b.
func TestScheduleOrdersAssignAfterReaders(t *testing.T) {
	b := realizedInput([]int{4})
	two := lazybuffer.Const(2.0, dtype.Float32_, "CLANG", []int{4})
	one := lazybuffer.Const(1.0, dtype.Float32_, "CLANG", []int{4})
	c, err := lazybuffer.E(ops.B(ops.MUL), []*lazybuffer.LazyBuffer{b, two}, nil)
	if err != nil {
		t.Fatalf("build c: %v", err)
	}
	bPlusOne, err := lazybuffer.E(ops.B(ops.ADD), []*lazybuffer.LazyBuffer{b, one}, nil)
	if err != nil {
		t.Fatalf("build b+1: %v", err)
	}
	assigned, err := b.Assign(bPlusOne)
	if err != nil {
		t.Fatalf("build assign: %v", err)
	}

	sched, err := CreateSchedule([]*lazybuffer.LazyBuffer{c, assigned}, nil)
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	if len(sched) != 2 {
		t.Fatalf("expected 2 items (c, assign), got %d", len(sched))
	}
	cIdx, assignIdx := -1, -1
	for i, item := range sched {
		for _, out := range item.Outputs {
			if out == b.Buf {
				assignIdx = i
			}
		}
	}
	for i, item := range sched {
		if i != assignIdx {
			cIdx = i
		}
	}
	if cIdx < 0 || assignIdx < 0 {
		t.Fatalf("could not locate c/assign items in schedule")
	}
	if cIdx > assignIdx {
		t.Fatalf("c (reads b's pre-assign value) must schedule before the assign, got c at %d, assign at %d", cIdx, assignIdx)
	}
	if err := schedcheck.All(sched, preRealizedSet([]*lazybuffer.LazyBuffer{b})); err != nil {
		t.Fatalf("invariant violation: %v", err)
	}
}

// TestScheduleIsIdempotentOnAlreadyScheduledOutputs verifies that
// scheduling the same outputs twice through a shared `seen` set produces
// no items the second time.
func TestScheduleIsIdempotentOnAlreadyScheduledOutputs(t *testing.T) {
	a := realizedInput([]int{4})
	two := lazybuffer.Const(2.0, dtype.Float32_, "CLANG", []int{4})
	out, err := lazybuffer.E(ops.B(ops.ADD), []*lazybuffer.LazyBuffer{a, two}, nil)
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}

	seen := map[*lazybuffer.LazyBuffer]bool{}
	first, err := CreateSchedule([]*lazybuffer.LazyBuffer{out}, seen)
	if err != nil {
		t.Fatalf("first CreateSchedule: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("expected 1 item on first call, got %d", len(first))
	}

	second, err := CreateSchedule([]*lazybuffer.LazyBuffer{out}, seen)
	if err != nil {
		t.Fatalf("second CreateSchedule: %v", err)
	}
	if len(second) != 0 {
		t.Fatalf("re-scheduling an already-seen output should produce no items, got %d", len(second))
	}
}

// TestScheduleHandlesDeeplyNestedInputs guards the fix where inputs
// realized several AST-lowering hops below a realize target's direct
// Srcs must still be collected as the fused kernel's inputs: z=(x+y)+1
// with x and y both pre-realized.
func TestScheduleHandlesDeeplyNestedInputs(t *testing.T) {
	x := realizedInput([]int{4})
	y := realizedInput([]int{4})
	xy, err := lazybuffer.E(ops.B(ops.ADD), []*lazybuffer.LazyBuffer{x, y}, nil)
	if err != nil {
		t.Fatalf("build x+y: %v", err)
	}
	one := lazybuffer.Const(1.0, dtype.Float32_, "CLANG", []int{4})
	z, err := lazybuffer.E(ops.B(ops.ADD), []*lazybuffer.LazyBuffer{xy, one}, nil)
	if err != nil {
		t.Fatalf("build z: %v", err)
	}

	sched, err := CreateSchedule([]*lazybuffer.LazyBuffer{z}, nil)
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	if len(sched) != 1 {
		t.Fatalf("(x+y)+1 should fuse into a single kernel, got %d items", len(sched))
	}
	if len(sched[0].Inputs) != 2 {
		t.Fatalf("fused kernel should read both x and y as inputs, got %d", len(sched[0].Inputs))
	}
	if err := schedcheck.All(sched, preRealizedSet([]*lazybuffer.LazyBuffer{x, y})); err != nil {
		t.Fatalf("invariant violation: %v", err)
	}
}

func findLoad(op *ops.LazyOp) *ops.LazyOp {
	for _, n := range op.Lazyops() {
		if n.Op.IsBuffer() && n.Op.Buffer == ops.LOAD {
			return n
		}
	}
	return nil
}

// TestLowerComposesShapeTrackersAcrossViewHops guards the fix where
// lower() replaced the running view with each node's own ST instead of
// composing it: x reshaped, negated, permuted and negated again must
// read through the full two-hop composition, not just the innermost
// view.
func TestLowerComposesShapeTrackersAcrossViewHops(t *testing.T) {
	x := realizedInput([]int{2, 3})
	view1 := x.Reshape(shapetracker.Dims([]int{3, 2}))
	y, err := lazybuffer.E(ops.U(ops.NEG), []*lazybuffer.LazyBuffer{view1}, nil)
	if err != nil {
		t.Fatalf("build y: %v", err)
	}
	view2 := y.Permute([]int{1, 0})
	out, err := lazybuffer.E(ops.U(ops.NEG), []*lazybuffer.LazyBuffer{view2}, nil)
	if err != nil {
		t.Fatalf("build out: %v", err)
	}

	sched, err := CreateSchedule([]*lazybuffer.LazyBuffer{out}, nil)
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	if len(sched) != 1 {
		t.Fatalf("expected 1 schedule item, got %d", len(sched))
	}
	load := findLoad(sched[0].AST[0])
	if load == nil {
		t.Fatalf("could not find the LOAD reading x in the lowered AST")
	}
	got := load.Arg.(ops.MemBuffer).ST
	expected := view1.ST.Add(view2.ST.Add(shapetracker.FromShape(out.Shape())))
	if got.Digest() != expected.Digest() {
		t.Fatalf("LOAD's composed view digest = %q, want %q (view hops must compose, not replace)", got.Digest(), expected.Digest())
	}
}

// TestLowerMemoizesSharedSubtreesByBufAndView guards the (buf,
// running_st) memo cache: a node read twice through the same view
// within one schedule item must lower to the identical *LazyOp, not two
// structurally-equal but distinct allocations.
func TestLowerMemoizesSharedSubtreesByBufAndView(t *testing.T) {
	p := realizedInput([]int{4})
	out, err := lazybuffer.E(ops.B(ops.ADD), []*lazybuffer.LazyBuffer{p, p}, nil)
	if err != nil {
		t.Fatalf("build out: %v", err)
	}

	sched, err := CreateSchedule([]*lazybuffer.LazyBuffer{out}, nil)
	if err != nil {
		t.Fatalf("CreateSchedule: %v", err)
	}
	add := sched[0].AST[0].Src[0]
	if add.Src[0] != add.Src[1] {
		t.Fatalf("both occurrences of p reached through the same view should lower to the same *LazyOp pointer")
	}
}

// TestComputeReduceSinkComposesMultipleViewHops guards the fix where
// computeReduceSink replaced the accumulated tracker at each BFS hop
// instead of composing it: a reduce source reached through a
// non-contiguous view, then through a reshape at an intermediate node,
// must be judged invalid (the composed view is not contiguous) rather
// than wrongly validated against only the last hop's view.
func TestComputeReduceSinkComposesMultipleViewHops(t *testing.T) {
	r := realizedInput([]int{4})
	v1 := lazybuffer.NewView(r, r.ST.Stride([]int{-1}))
	mid := lazybuffer.LoadOp(ops.EMPTY, shapetracker.Dims([]int{4}), dtype.Float32_, "CLANG", nil, nil, false)
	v2 := lazybuffer.NewView(mid, shapetracker.FromShape(shapetracker.Dims([]int{2, 2})))
	sink := lazybuffer.LoadOp(ops.EMPTY, shapetracker.Dims([]int{2, 2}), dtype.Float32_, "CLANG", nil, nil, false)

	d := newDiscoveryState()
	d.children[r] = []childEdge{{consumer: mid, through: v1}}
	d.children[mid] = []childEdge{{consumer: sink, through: v2}}
	d.realizes[sink] = true

	if _, ok := computeReduceSink(d, r); ok {
		t.Fatalf("composing a reversed view with a reshape should yield a non-contiguous tracker, so the sink should be rejected")
	}
}

// TestSameShapeTrackerDistinguishesStridesAndMasks guards the fix from
// comparing only shape+offset to comparing full digests: two trackers
// that agree on shape and offset but disagree on strides or masking
// read different elements and must not compare equal.
func TestSameShapeTrackerDistinguishesStridesAndMasks(t *testing.T) {
	a := shapetracker.FromShape(shapetracker.Dims([]int{2, 2}))
	b := a.Permute([]int{1, 0})
	if sameShapeTracker(a, b) {
		t.Fatalf("same shape and offset but different strides should not compare equal")
	}

	c := a.Pad([][2]int{{0, 0}, {0, 1}})
	e := shapetracker.FromShape(shapetracker.Dims(c.IntShape()))
	if sameShapeTracker(c, e) {
		t.Fatalf("a masked tracker should not compare equal to an unmasked tracker of the same resulting shape")
	}
}

// TestDiscoverChecksExpandBoundaryPerViewNotPerBase guards the fix
// where checkExpandBoundary only ran the first time a base was
// discovered: a base reached first through a safe, masked view and then
// through a second, unsafe expanded view must still be forced to
// realize on the second view's account.
func TestDiscoverChecksExpandBoundaryPerViewNotPerBase(t *testing.T) {
	x := realizedInput([]int{1})
	b, err := lazybuffer.E(ops.U(ops.NEG), []*lazybuffer.LazyBuffer{x}, nil)
	if err != nil {
		t.Fatalf("build b: %v", err)
	}
	safeView := b.Pad([][2]int{{0, 3}})
	unsafeView := b.Expand(shapetracker.Dims([]int{8}))
	outSafe, err := lazybuffer.E(ops.U(ops.NEG), []*lazybuffer.LazyBuffer{safeView}, nil)
	if err != nil {
		t.Fatalf("build outSafe: %v", err)
	}
	outUnsafe, err := lazybuffer.E(ops.U(ops.NEG), []*lazybuffer.LazyBuffer{unsafeView}, nil)
	if err != nil {
		t.Fatalf("build outUnsafe: %v", err)
	}

	d := discoverGraph([]*lazybuffer.LazyBuffer{outSafe, outUnsafe})
	if !d.realizes[b] {
		t.Fatalf("the second, unsafe view over b should force a realize even though b was already discovered via the first, safe view")
	}
}
