// Package costmodel folds a LazyOp AST into a FlopCounter reporting the
// output shape, total flops, and per-input memory traffic. It is the
// "~10% of core" cost interpreter component of the scheduler.
package costmodel

import (
	"encoding/hex"
	"sync"

	"lazysched/internal/ops"
	"lazysched/internal/shapetracker"
)

// FlopCounter is the folded cost of one LazyOp subtree.
type FlopCounter struct {
	Shape []shapetracker.Dim
	Flops int64
	Mem   map[int]int64
}

// MemEstimate sums the per-input memory traffic.
func (f *FlopCounter) MemEstimate() int64 {
	var sum int64
	for _, v := range f.Mem {
		sum += v
	}
	return sum
}

// consumeFlops returns the accumulated flops and resets them to zero —
// this is what makes a subtree shared by two parents count its flops
// exactly once in the total, matching tinygrad's consume_flops.
func (f *FlopCounter) consumeFlops() int64 {
	ret := f.Flops
	f.Flops = 0
	return ret
}

func mergeMem(dst map[int]int64, srcs ...map[int]int64) map[int]int64 {
	out := make(map[int]int64, len(dst))
	for k, v := range dst {
		out[k] = v
	}
	for _, src := range srcs {
		for k, v := range src {
			out[k] = v
		}
	}
	return out
}

func prod(shape []shapetracker.Dim) int64 {
	p := int64(1)
	for _, d := range shape {
		p *= int64(d.Int())
	}
	return p
}

var (
	globalMu    sync.Mutex
	globalCache = map[string]*FlopCounter{}
)

// GetLazyOpInfo folds ast into a FlopCounter. The result is memoized by
// the AST's content digest, so structurally identical ASTs (even from
// different LazyOp instances) reuse the same folded cost — safe because
// LazyOps are immutable and content-hashed.
func GetLazyOpInfo(ast *ops.LazyOp) *FlopCounter {
	key := hex.EncodeToString(ast.Key())
	globalMu.Lock()
	if c, ok := globalCache[key]; ok {
		globalMu.Unlock()
		return cloneCounter(c)
	}
	globalMu.Unlock()

	memo := map[string]*FlopCounter{}
	result := runAST(ast, memo)

	globalMu.Lock()
	globalCache[key] = cloneCounter(result)
	globalMu.Unlock()
	return result
}

func cloneCounter(f *FlopCounter) *FlopCounter {
	mem := make(map[int]int64, len(f.Mem))
	for k, v := range f.Mem {
		mem[k] = v
	}
	return &FlopCounter{Shape: f.Shape, Flops: f.Flops, Mem: mem}
}

func runAST(n *ops.LazyOp, memo map[string]*FlopCounter) *FlopCounter {
	key := hex.EncodeToString(n.Key())
	if c, ok := memo[key]; ok {
		return c
	}
	var ret *FlopCounter
	switch {
	case n.Op.IsBuffer() && n.Op.Buffer == ops.LOAD:
		arg := n.Arg.(ops.MemBuffer)
		ret = &FlopCounter{
			Shape: arg.ST.Shape(),
			Flops: 0,
			Mem:   map[int]int64{arg.Idx: int64(arg.DType.ItemSize()) * int64(arg.ST.RealSize())},
		}
	case n.Op.IsBuffer() && n.Op.Buffer == ops.BCONST:
		arg := n.Arg.(ops.ConstBuffer)
		ret = &FlopCounter{Shape: arg.ST.Shape(), Flops: 0, Mem: map[int]int64{}}
	case n.Op.IsBuffer() && n.Op.Buffer == ops.STORE:
		arg := n.Arg.(ops.MemBuffer)
		child := runAST(n.Src[0], memo)
		ret = &FlopCounter{
			Shape: arg.ST.Shape(),
			Flops: child.consumeFlops(),
			Mem:   mergeMem(child.Mem, map[int]int64{arg.Idx: int64(arg.DType.ItemSize()) * int64(arg.ST.RealSize())}),
		}
	case n.Op.IsUnary() && n.Op.Unary == ops.CAST:
		child := runAST(n.Src[0], memo)
		ret = &FlopCounter{Shape: child.Shape, Flops: child.consumeFlops(), Mem: mergeMem(child.Mem)}
	case n.Op.IsUnary():
		child := runAST(n.Src[0], memo)
		ret = &FlopCounter{Shape: child.Shape, Flops: child.consumeFlops() + prod(child.Shape), Mem: mergeMem(child.Mem)}
	case n.Op.IsBinary():
		a, b := runAST(n.Src[0], memo), runAST(n.Src[1], memo)
		ret = &FlopCounter{Shape: a.Shape, Flops: a.consumeFlops() + b.consumeFlops() + prod(a.Shape), Mem: mergeMem(a.Mem, b.Mem)}
	case n.Op.IsTernary():
		a, b, c := runAST(n.Src[0], memo), runAST(n.Src[1], memo), runAST(n.Src[2], memo)
		ret = &FlopCounter{Shape: a.Shape, Flops: a.consumeFlops() + b.consumeFlops() + c.consumeFlops() + prod(a.Shape), Mem: mergeMem(a.Mem, b.Mem, c.Mem)}
	case n.Op.IsReduce():
		child := runAST(n.Src[0], memo)
		axes := n.Arg.([]int)
		axisSet := map[int]bool{}
		for _, a := range axes {
			axisSet[a] = true
		}
		newShape := make([]shapetracker.Dim, len(child.Shape))
		for i, d := range child.Shape {
			if axisSet[i] {
				newShape[i] = shapetracker.I(1)
			} else {
				newShape[i] = d
			}
		}
		ret = &FlopCounter{Shape: newShape, Flops: child.consumeFlops() + prod(child.Shape), Mem: mergeMem(child.Mem)}
	default:
		ret = &FlopCounter{Shape: nil, Flops: 0, Mem: map[int]int64{}}
	}
	memo[key] = ret
	return ret
}
