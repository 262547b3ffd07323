package scheduler

import (
	"lazysched/internal/buffer"
	"lazysched/internal/lazybuffer"
	"lazysched/internal/ops"
	"lazysched/internal/schederr"
	"lazysched/internal/shapetracker"
)

// lowerCtx carries the per-schedule-item state threaded through the
// recursive AST lowering: the ordered input buffer list (index 0 is
// reserved for the output), the active pending assign target, and the
// variable bindings collected from every unbound ShapeTracker along
// the way.
type lowerCtx struct {
	out        *lazybuffer.LazyBuffer
	realizes   map[*lazybuffer.LazyBuffer]bool
	inputs     []*lazybuffer.LazyBuffer
	inputIndex map[*lazybuffer.LazyBuffer]int
	assignTo   *lazybuffer.LazyBuffer
	assignIdx  int
	varVals    map[*shapetracker.Var]int
	memo       map[lowerMemoKey]*ops.LazyOp
}

// lowerMemoKey is the (buf, running_st) memo key from spec §4.4: two
// paths reaching the same base through the same composed view produce
// the identical LazyOp, so a shared subtree is built once, not once per
// path.
type lowerMemoKey struct {
	buf *lazybuffer.LazyBuffer
	st  string
}

func newLowerCtx(out *lazybuffer.LazyBuffer, realizes map[*lazybuffer.LazyBuffer]bool) *lowerCtx {
	return &lowerCtx{
		out:        out,
		realizes:   realizes,
		inputIndex: map[*lazybuffer.LazyBuffer]int{},
		varVals:    map[*shapetracker.Var]int{},
		memo:       map[lowerMemoKey]*ops.LazyOp{},
	}
}

func (c *lowerCtx) inputIdx(b *lazybuffer.LazyBuffer) int {
	if idx, ok := c.inputIndex[b]; ok {
		return idx
	}
	c.inputs = append(c.inputs, b)
	idx := len(c.inputs)
	c.inputIndex[b] = idx
	return idx
}

func (c *lowerCtx) mergeVars(vals map[*shapetracker.Var]int) {
	for v, n := range vals {
		c.varVals[v] = n
	}
}

// lower recursively builds the LazyOp tree for buf as read through
// runningST, the net view accumulated from the traversal root down to
// this node. It composes buf's own view into runningST (rather than
// replacing it) before descending, so a node reached through several
// stacked views keeps every hop's transform, and memoizes on the
// resulting (base, view) pair so a subtree shared by two call paths is
// lowered once.
func (c *lowerCtx) lower(buf *lazybuffer.LazyBuffer, runningST shapetracker.ShapeTracker) (*ops.LazyOp, error) {
	if buf.Base != buf {
		runningST = buf.ST.Add(runningST)
		buf = buf.Base
	}

	key := lowerMemoKey{buf: buf, st: runningST.Digest()}
	if op, ok := c.memo[key]; ok {
		return op, nil
	}
	op, err := c.lowerBase(buf, runningST)
	if err != nil {
		return nil, err
	}
	c.memo[key] = op
	return op, nil
}

// lowerBase builds the LazyOp tree for buf (already normalized to its
// base) read through runningST.
func (c *lowerCtx) lowerBase(buf *lazybuffer.LazyBuffer, runningST shapetracker.ShapeTracker) (*ops.LazyOp, error) {
	if buf == c.assignTo {
		if !(runningST.Contiguous() || runningST.IsContiguousMaskedShrink()) {
			return nil, schederr.NewAssignError("assign target view must be contiguous for assign")
		}
		unbound, vals := runningST.Unbind()
		c.mergeVars(vals)
		return ops.NewLazyOp(ops.Buf(ops.LOAD), nil, ops.MemBuffer{Idx: c.assignIdx, DType: buf.DType, ST: unbound}), nil
	}

	if buf.IsRealized() || (c.realizes[buf] && buf != c.out) {
		unbound, vals := runningST.Unbind()
		c.mergeVars(vals)
		idx := c.inputIdx(buf)
		return ops.NewLazyOp(ops.Buf(ops.LOAD), nil, ops.MemBuffer{Idx: idx, DType: buf.DType, ST: unbound}), nil
	}

	if buf.Op.IsLoad() {
		switch buf.Op.Load {
		case ops.CONST:
			unbound, vals := runningST.Simplify().Unbind()
			c.mergeVars(vals)
			return ops.NewLazyOp(ops.Buf(ops.BCONST), nil, ops.ConstBuffer{Val: buf.Arg, DType: buf.DType, ST: unbound}), nil
		case ops.CONTIGUOUS:
			if buf == c.out {
				return c.lower(buf.Srcs[0], runningST)
			}
		case ops.ASSIGN:
			if buf == c.out {
				target := buf.Srcs[1].Base
				prevTo, prevIdx := c.assignTo, c.assignIdx
				c.assignTo = target
				c.assignIdx = c.inputIdx(target)
				result, err := c.lower(buf.Srcs[0], runningST)
				c.assignTo, c.assignIdx = prevTo, prevIdx
				return result, err
			}
		}
	}

	if buf.Op.IsReduce() {
		if !runningST.Contiguous() {
			return nil, schederr.NewIntegrityError("reduce node reached with a non-contiguous incoming view")
		}
		childRunning := shapetracker.FromShape(buf.Srcs[0].Shape())
		child, err := c.lower(buf.Srcs[0], childRunning)
		if err != nil {
			return nil, err
		}
		return ops.NewLazyOp(buf.Op, []*ops.LazyOp{child}, buf.Arg), nil
	}

	children := make([]*ops.LazyOp, len(buf.Srcs))
	for i, s := range buf.Srcs {
		child, err := c.lower(s, runningST)
		if err != nil {
			return nil, err
		}
		children[i] = child
	}
	return ops.NewLazyOp(buf.Op, children, buf.Arg), nil
}

// scheduleOne lowers a single realize target into a ScheduleItem. It
// also returns the ordered LazyBuffers backing each input slot, so the
// caller can build the topological edges between realize targets
// without re-walking the lowered AST.
func scheduleOne(out *lazybuffer.LazyBuffer, realizes map[*lazybuffer.LazyBuffer]bool, bind reduceForOp) (*ops.ScheduleItem, []*lazybuffer.LazyBuffer, map[*shapetracker.Var]int, error) {
	if out.Op.IsLoad() && (out.Op.Load == ops.CUSTOM || out.Op.Load == ops.COPY || out.Op.Load == ops.EMPTY) {
		ast := ops.NewLazyOp(out.Op, nil, out.Arg)
		inputs := make([]*buffer.Buffer, len(out.Srcs))
		inputBufs := make([]*lazybuffer.LazyBuffer, len(out.Srcs))
		for i, s := range out.Srcs {
			inputs[i] = s.Base.Buf
			inputBufs[i] = s.Base
		}
		return &ops.ScheduleItem{AST: []*ops.LazyOp{ast}, Outputs: []*buffer.Buffer{out.Buf}, Inputs: inputs}, inputBufs, nil, nil
	}

	ctx := newLowerCtx(out, realizes)
	inner, err := ctx.lower(out, shapetracker.FromShape(out.Shape()))
	if err != nil {
		return nil, nil, nil, err
	}

	outputView := shapetracker.FromShape(out.Shape())
	if sink := bind[out]; sink != nil {
		outputView = shapetracker.FromShape(sink.Shape())
	}
	if out.Op.IsLoad() && out.Op.Load == ops.ASSIGN {
		outputView = out.ST
	}
	storeArg := ops.MemBuffer{Idx: 0, DType: out.DType, ST: outputView}
	ast := ops.NewLazyOp(ops.Buf(ops.STORE), []*ops.LazyOp{inner}, storeArg)

	inputBufs := make([]*buffer.Buffer, len(ctx.inputs))
	for i, b := range ctx.inputs {
		inputBufs[i] = b.Buf
	}
	isAssign := out.Op.IsLoad() && out.Op.Load == ops.ASSIGN
	return &ops.ScheduleItem{AST: []*ops.LazyOp{ast}, Outputs: []*buffer.Buffer{out.Buf}, Inputs: inputBufs, IsAssign: isAssign}, ctx.inputs, ctx.varVals, nil
}
