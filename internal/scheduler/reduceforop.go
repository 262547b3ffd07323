package scheduler

import (
	"lazysched/internal/lazybuffer"
	"lazysched/internal/shapetracker"
)

// reduceForOp binds a materialized sink to the single reduce it
// consumes, fixing the kernel's output shape when a reduce fuses into
// its consumer instead of materializing on its own.
type reduceForOp map[*lazybuffer.LazyBuffer]*lazybuffer.LazyBuffer

// runReduceForOp walks every non-realized reduce base in discovery
// order and either binds it to a unique consuming sink or forces it to
// realize on its own.
func runReduceForOp(d *discoveryState) reduceForOp {
	bind := reduceForOp{}
	for _, b := range d.allbufs {
		if !b.Op.IsReduce() || d.realizes[b] {
			continue
		}
		sink, ok := computeReduceSink(d, b)
		if ok && bind[sink] == nil {
			bind[sink] = b
			continue
		}
		if ok {
			// sink already claimed by a different reduce: give up on
			// fusing and realize this reduce independently.
			d.markRealize(b)
			continue
		}
		if chased, okc := chaseUniqueChildChain(d, b); okc && bind[chased] == nil {
			d.markRealize(chased)
			bind[chased] = b
			continue
		}
		d.markRealize(b)
	}
	return bind
}

// computeReduceSink walks r's consumer closure breadth-first. It
// succeeds when the closure contains exactly one realized descendant,
// no intermediate descendant is itself a reduce, and the accumulated
// shape tracker at that sink is contiguous and size-equal to r.
func computeReduceSink(d *discoveryState, r *lazybuffer.LazyBuffer) (*lazybuffer.LazyBuffer, bool) {
	type frontier struct {
		node *lazybuffer.LazyBuffer
		st   shapetracker.ShapeTracker
	}
	start := shapetracker.FromShape(r.Shape())
	queue := make([]frontier, 0, len(d.children[r]))
	for _, e := range d.children[r] {
		st := start
		if e.through != e.through.Base {
			st = start.Add(e.through.ST)
		}
		queue = append(queue, frontier{node: e.consumer, st: st})
	}

	visited := map[*lazybuffer.LazyBuffer]shapetracker.ShapeTracker{}
	var sinks []*lazybuffer.LazyBuffer
	invalid := false

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		n := item.node
		if prev, ok := visited[n]; ok {
			if !sameShapeTracker(prev, item.st) {
				invalid = true
			}
			continue
		}
		visited[n] = item.st

		if d.realizes[n] {
			sinks = append(sinks, n)
			continue
		}
		if n.Op.IsReduce() {
			invalid = true
			continue
		}
		for _, e := range d.children[n] {
			st := item.st
			if e.through != e.through.Base {
				st = item.st.Add(e.through.ST)
			}
			queue = append(queue, frontier{node: e.consumer, st: st})
		}
	}

	if invalid || len(sinks) != 1 {
		return nil, false
	}
	sink := sinks[0]
	st := visited[sink]
	if !st.Contiguous() || st.Size() != r.Size() {
		return nil, false
	}
	return sink, true
}

// sameShapeTracker reports whether two trackers are interchangeable for
// every purpose this package cares about: same shape, strides, offset
// and mask at every view, not just shape and offset — two paths that
// agree on shape but disagree on stride or masking read different
// elements and must not be treated as a shared, valid sink.
func sameShapeTracker(a, b shapetracker.ShapeTracker) bool {
	return a.Digest() == b.Digest()
}

// chaseUniqueChildChain walks forward from r along single-child,
// contiguous-or-unviewed hops as far as it safely can, returning the
// furthest descendant reached — the fallback when computeReduceSink
// fails on what looks like a single shape mismatch.
func chaseUniqueChildChain(d *discoveryState, r *lazybuffer.LazyBuffer) (*lazybuffer.LazyBuffer, bool) {
	cur := r
	var last *lazybuffer.LazyBuffer
	for {
		edges := d.children[cur]
		if len(edges) != 1 {
			break
		}
		e := edges[0]
		if e.through != e.through.Base && !e.through.ST.Contiguous() {
			break
		}
		if e.consumer.Op.IsReduce() {
			break
		}
		last = e.consumer
		cur = e.consumer
		if d.realizes[cur] {
			return last, true
		}
	}
	if last != nil {
		return last, true
	}
	return nil, false
}
