package ops

import (
	"crypto/sha256"
	"fmt"
	"hash/fnv"
	"sort"

	"lazysched/internal/dtype"
	"lazysched/internal/shapetracker"
)

// MemBuffer is the leaf payload of a BufferOps.LOAD node and the output
// payload of BufferOps.STORE: a buffer index plus the view under which
// it is read or written.
type MemBuffer struct {
	Idx   int
	DType dtype.DType
	ST    shapetracker.ShapeTracker
}

// ConstBuffer is the leaf payload of a BufferOps.CONST node.
type ConstBuffer struct {
	Val   any
	DType dtype.DType
	ST    shapetracker.ShapeTracker
}

// LazyOp is the immutable lowered-AST node: an op tag, its ordered
// children, and an op-specific argument. Equality is structural with an
// identity fast path and a memoization context so a graph with shared
// subtrees compares in O(size) instead of exponential time.
type LazyOp struct {
	Op  Op
	Src []*LazyOp
	Arg any

	hash     uint64
	hashSet  bool
	key      []byte
	keySet   bool
	lazyops  []*LazyOp
	flatSet  bool
}

func NewLazyOp(op Op, src []*LazyOp, arg any) *LazyOp {
	return &LazyOp{Op: op, Src: src, Arg: arg}
}

// Equal compares two LazyOp trees structurally, using an identity fast
// path and a per-call memo so repeated shared subtrees are compared once.
func (l *LazyOp) Equal(o *LazyOp) bool {
	return l.cachedCompare(o, map[[2]*LazyOp]bool{})
}

func (l *LazyOp) cachedCompare(o *LazyOp, memo map[[2]*LazyOp]bool) bool {
	if l == o {
		return true
	}
	if l == nil || o == nil {
		return false
	}
	if !l.Op.Equal(o.Op) || !argEqual(l.Arg, o.Arg) || len(l.Src) != len(o.Src) {
		return false
	}
	key := [2]*LazyOp{l, o}
	if v, ok := memo[key]; ok {
		return v
	}
	memo[key] = true // break cycles optimistically; LazyOp trees are acyclic in practice
	for i := range l.Src {
		if !l.Src[i].cachedCompare(o.Src[i], memo) {
			memo[key] = false
			return false
		}
	}
	return true
}

func argEqual(a, b any) bool {
	switch av := a.(type) {
	case []int:
		bv, ok := b.([]int)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	case MemBuffer:
		bv, ok := b.(MemBuffer)
		return ok && av.Idx == bv.Idx && av.DType.Equal(bv.DType) && av.ST.Digest() == bv.ST.Digest()
	case ConstBuffer:
		bv, ok := b.(ConstBuffer)
		return ok && av.Val == bv.Val && av.DType.Equal(bv.DType) && av.ST.Digest() == bv.ST.Digest()
	case CastArg:
		bv, ok := b.(CastArg)
		return ok && av.Bitcast == bv.Bitcast && av.DType.Equal(bv.DType)
	default:
		return a == b
	}
}

// DType derives the node's output dtype from its op and children, the
// same switch tinygrad's LazyOp.dtype cached_property uses.
func (l *LazyOp) DType() dtype.DType {
	switch {
	case l.Op.IsBuffer():
		switch l.Op.Buffer {
		case LOAD:
			return l.Arg.(MemBuffer).DType
		case BCONST:
			return l.Arg.(ConstBuffer).DType
		case STORE:
			return l.Arg.(MemBuffer).DType
		}
	case l.Op.IsUnary() && l.Op.Unary == CAST:
		return l.Arg.(CastArg).DType
	case l.Op.IsBinary() && (l.Op.Binary == CMPLT || l.Op.Binary == CMPEQ):
		return dtype.Bool_
	}
	if len(l.Src) > 0 {
		return l.Src[len(l.Src)-1].DType()
	}
	return dtype.Float32_
}

// CastArg is the Arg payload of a UnaryOps.CAST LazyOp.
type CastArg struct {
	DType   dtype.DType
	Bitcast bool
}

// Hash is the memoized structural hash, cheaper than Key for use as a
// map key when exact SHA-256 collision resistance isn't needed.
func (l *LazyOp) Hash() uint64 {
	if l.hashSet {
		return l.hash
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "(%v, %v)", l.Op, l.Arg)
	for _, s := range l.Src {
		var b [8]byte
		sh := s.Hash()
		for i := range b {
			b[i] = byte(sh >> (8 * i))
		}
		h.Write(b[:])
	}
	l.hash = h.Sum64()
	l.hashSet = true
	return l.hash
}

// Key is the memoized SHA-256 content digest of the node's structural
// payload, used to identify identical ASTs for cost-model memoization.
func (l *LazyOp) Key() []byte {
	if l.keySet {
		return l.key
	}
	h := sha256.New()
	fmt.Fprintf(h, "(%v, %v)", l.Op, l.Arg)
	for _, s := range l.Src {
		h.Write(s.Key())
	}
	l.key = h.Sum(nil)
	l.keySet = true
	return l.key
}

// Lazyops flattens the tree into a deduplicated list of distinct nodes,
// self first.
func (l *LazyOp) Lazyops() []*LazyOp {
	if l.flatSet {
		return l.lazyops
	}
	seen := map[*LazyOp]bool{}
	var out []*LazyOp
	var walk func(n *LazyOp)
	walk = func(n *LazyOp) {
		if seen[n] {
			return
		}
		seen[n] = true
		out = append(out, n)
		for _, s := range n.Src {
			walk(s)
		}
	}
	walk(l)
	l.lazyops = out
	l.flatSet = true
	return out
}

// Vars returns the sorted, deduplicated set of symbolic variables
// referenced by any BufferOps leaf in the tree.
func (l *LazyOp) Vars() []*shapetracker.Var {
	seen := map[*shapetracker.Var]bool{}
	var out []*shapetracker.Var
	for _, n := range l.Lazyops() {
		if !n.Op.IsBuffer() {
			continue
		}
		var st shapetracker.ShapeTracker
		switch n.Op.Buffer {
		case LOAD, STORE:
			st = n.Arg.(MemBuffer).ST
		case BCONST:
			st = n.Arg.(ConstBuffer).ST
		}
		for v := range st.VarVals() {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dedup removes duplicate pointers from a slice, preserving order —
// mirrors tinygrad's helpers.dedup used throughout the scheduler.
func Dedup[T comparable](in []T) []T {
	seen := map[T]bool{}
	out := make([]T, 0, len(in))
	for _, x := range in {
		if !seen[x] {
			seen[x] = true
			out = append(out, x)
		}
	}
	return out
}
