package ops

import "lazysched/internal/buffer"

// ScheduleItem is a single kernel ready for code generation: one or more
// top-level STORE LazyOps sharing a fused AST, the buffers they write,
// and the buffers they read.
type ScheduleItem struct {
	AST     []*LazyOp
	Outputs []*buffer.Buffer
	Inputs  []*buffer.Buffer

	// IsAssign marks an in-place update: the item legitimately reads and
	// writes the same buffer (the pre-assign value and the new value
	// share a buffer slot), which schedcheck's self-reference check must
	// not flag as a bug.
	IsAssign bool
}
