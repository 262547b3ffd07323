// Package scheduler turns a set of output LazyBuffers into an ordered
// list of ScheduleItems: it discovers which nodes must materialize,
// groups reductions with the elementwise ops that consume them, lowers
// each materialization group into a fused LazyOp AST, and orders the
// resulting items with Kahn's algorithm.
package scheduler

import (
	"fmt"

	"lazysched/internal/dtype"
	"lazysched/internal/lazybuffer"
	"lazysched/internal/ops"
)

// OnEvent, when non-nil, is called for every discover and realize
// decision made while building a schedule. cmd/lazysched wires this up
// to internal/graphlog, which forwards the events to an attached GRAPH
// visualizer; left
// nil, discovery carries no observation overhead at all.
var OnEvent func(kind, node, info string)

func emit(kind string, b *lazybuffer.LazyBuffer) {
	if OnEvent != nil {
		OnEvent(kind, fmt.Sprintf("%p", b), b.Op.String())
	}
}

// childEdge records that consumer reads base through the LazyBuffer
// object `through` — which is base itself when read without an
// intervening view, or a view node otherwise.
type childEdge struct {
	consumer *lazybuffer.LazyBuffer
	through  *lazybuffer.LazyBuffer
}

// discoveryState is the result of recurse_lb: the ordered set of base
// nodes reached, which of them must materialize, which carry a pending
// simple pad, and the base-to-consumer back-edge index.
type discoveryState struct {
	allbufs      []*lazybuffer.LazyBuffer
	allbufsSet   map[*lazybuffer.LazyBuffer]bool
	realizes     map[*lazybuffer.LazyBuffer]bool
	realizeOrder []*lazybuffer.LazyBuffer
	simplePads   map[*lazybuffer.LazyBuffer]bool
	children     map[*lazybuffer.LazyBuffer][]childEdge
}

// markRealize adds b to realizes, recording discovery order so Kahn's
// algorithm can break emission ties deterministically.
func (d *discoveryState) markRealize(b *lazybuffer.LazyBuffer) {
	if d.realizes[b] {
		return
	}
	d.realizes[b] = true
	d.realizeOrder = append(d.realizeOrder, b)
	emit("realize", b)
}

func newDiscoveryState() *discoveryState {
	return &discoveryState{
		allbufsSet: map[*lazybuffer.LazyBuffer]bool{},
		realizes:   map[*lazybuffer.LazyBuffer]bool{},
		simplePads: map[*lazybuffer.LazyBuffer]bool{},
		children:   map[*lazybuffer.LazyBuffer][]childEdge{},
	}
}

// discoverGraph runs recurse_lb from every output, seeding each
// unrealized output as a realize target before traversal.
func discoverGraph(outs []*lazybuffer.LazyBuffer) *discoveryState {
	d := newDiscoveryState()
	for _, out := range outs {
		if !out.IsRealized() {
			d.markRealize(out.Base)
		}
	}
	for _, out := range outs {
		d.visit(out)
	}
	d.promoteUnsafePads()
	return d
}

func (d *discoveryState) visit(buf *lazybuffer.LazyBuffer) {
	b := buf.Base
	if b.IsRealized() {
		return
	}
	// CONST leaves are never realize points: they're re-embedded as
	// BufferOps.CONST wherever they're read, never materialized, and
	// carry no sources to recurse into.
	if b.Op.IsLoad() && b.Op.Load == ops.CONST {
		if !d.allbufsSet[b] {
			d.allbufs = append(d.allbufs, b)
			d.allbufsSet[b] = true
		}
		return
	}

	// applyImageFallback and checkExpandBoundary inspect buf's own view,
	// not just its base, so they must run for every distinct view that
	// reaches b — a second, differently-shaped view over an
	// already-discovered base can still need its own expand-boundary
	// realize even though recursing into b's srcs again would be
	// redundant.
	alreadyDiscovered := d.allbufsSet[b]
	if !alreadyDiscovered {
		emit("discover", b)
	}
	applyImageFallback(buf)
	d.checkExpandBoundary(buf, b)
	if alreadyDiscovered {
		return
	}

	if b.Op.IsLoad() {
		d.markRealize(b)
		if b.Op.Load == ops.COPY && len(b.Srcs) > 0 {
			d.markRealize(b.Srcs[0].Base)
		}
	}
	if b.ForcedRealize {
		d.markRealize(b)
	}

	d.allbufs = append(d.allbufs, b)
	d.allbufsSet[b] = true

	for _, s := range b.Srcs {
		d.visit(s)
		d.children[s.Base] = append(d.children[s.Base], childEdge{consumer: b, through: s})
	}
}

// applyImageFallback downgrades an ImageDType base whose current view
// can't actually be addressed as an image to float32, the first time
// any node sees it and only while its buffer is unallocated.
func applyImageFallback(buf *lazybuffer.LazyBuffer) {
	b := buf.Base
	if !b.DType.IsImage() {
		return
	}
	imgCount := 1
	for _, s := range b.DType.ImageShape {
		imgCount *= s
	}
	mismatched := imgCount != buf.Size()
	divisible := false
	shape := buf.IntShape()
	for _, axis := range buf.ST.UnitStrideAxes() {
		if shape[axis]%4 == 0 {
			divisible = true
			break
		}
	}
	if mismatched || !divisible {
		if b.Buf.Downgrade(dtype.Float32_) {
			b.DType = dtype.Float32_
		}
	}
}

// checkExpandBoundary forces a realize when buf presents a view larger
// than its base's own size unless the extra region is accounted for by
// a mask that never reads outside the base's element count.
func (d *discoveryState) checkExpandBoundary(buf, b *lazybuffer.LazyBuffer) {
	if buf == b || buf.Size() <= b.Size() {
		return
	}
	if buf.ST.HasMask() && buf.ST.RealSize() <= b.Size() {
		d.simplePads[b] = true
		return
	}
	d.markRealize(b)
}

// promoteUnsafePads forces a realize on any simple_pads base whose
// computation reaches an unsafe-pad op before crossing an already
// realized boundary — zero-padding such ops would change their result.
func (d *discoveryState) promoteUnsafePads() {
	for b := range d.simplePads {
		if d.dependsOnUnsafeOp(b) {
			d.markRealize(b)
		}
	}
}

func (d *discoveryState) dependsOnUnsafeOp(root *lazybuffer.LazyBuffer) bool {
	seen := map[*lazybuffer.LazyBuffer]bool{}
	stack := []*lazybuffer.LazyBuffer{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		if n != root && d.realizes[n] {
			continue
		}
		if ops.UnsafePadOps[n.Op] {
			return true
		}
		for _, s := range n.Srcs {
			stack = append(stack, s.Base)
		}
	}
	return false
}
