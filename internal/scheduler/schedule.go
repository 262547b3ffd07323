package scheduler

import (
	"lazysched/internal/lazybuffer"
	"lazysched/internal/ops"
	"lazysched/internal/schederr"
	"lazysched/internal/shapetracker"
)

// lsi pairs a lowered ScheduleItem with the realize-target LazyBuffer
// it came from, so the Kahn's-algorithm driver can build edges between
// items by walking their input/output LazyBuffers.
type lsi struct {
	out  *lazybuffer.LazyBuffer
	item *ops.ScheduleItem
	vars map[*shapetracker.Var]int

	inputs   []*lazybuffer.LazyBuffer
	assignTo *lazybuffer.LazyBuffer
}

// CreateScheduleWithVars discovers, groups, lowers and orders a
// schedule for outs, skipping any output already present in seen. It
// returns the ordered ScheduleItems and the merged variable bindings.
func CreateScheduleWithVars(outs []*lazybuffer.LazyBuffer, seen map[*lazybuffer.LazyBuffer]bool) ([]*ops.ScheduleItem, map[*shapetracker.Var]int, error) {
	if seen == nil {
		seen = map[*lazybuffer.LazyBuffer]bool{}
	}

	var pending []*lazybuffer.LazyBuffer
	for _, out := range outs {
		if out.IsRealized() || seen[out.Base] {
			continue
		}
		pending = append(pending, out)
	}
	if len(pending) == 0 {
		return nil, nil, nil
	}

	d := discoverGraph(pending)
	bind := runReduceForOp(d)

	items := make(map[*lazybuffer.LazyBuffer]*lsi, len(d.realizeOrder))
	for _, b := range d.realizeOrder {
		item, inputBufs, vars, err := scheduleOne(b, d.realizes, bind)
		if err != nil {
			return nil, nil, err
		}
		entry := &lsi{out: b, item: item, vars: vars, inputs: inputBufs}
		if b.Op.IsLoad() && b.Op.Load == ops.ASSIGN {
			entry.assignTo = b.Srcs[1].Base
		}
		items[b] = entry
	}

	ordered, err := kahnOrder(d.realizeOrder, items)
	if err != nil {
		return nil, nil, err
	}

	varVals := map[*shapetracker.Var]int{}
	result := make([]*ops.ScheduleItem, 0, len(ordered))
	for _, e := range ordered {
		for v, n := range e.vars {
			varVals[v] = n
		}
		result = append(result, e.item)
		seen[e.out] = true
		e.out.Srcs = nil
	}
	return result, varVals, nil
}

// CreateSchedule is CreateScheduleWithVars with the additional
// guarantee that no free (unbound) variables remain in the result.
func CreateSchedule(outs []*lazybuffer.LazyBuffer, seen map[*lazybuffer.LazyBuffer]bool) ([]*ops.ScheduleItem, error) {
	sched, vars, err := CreateScheduleWithVars(outs, seen)
	if err != nil {
		return nil, err
	}
	if len(vars) != 0 {
		return nil, schederr.NewIntegrityError("schedule has %d unbound variables", len(vars))
	}
	return sched, nil
}

// kahnOrder runs Kahn's algorithm over the realize-order-indexed lsi
// set, breaking ties by realizeOrder's discovery order so the result is
// deterministic given the same outputs and configuration.
func kahnOrder(order []*lazybuffer.LazyBuffer, items map[*lazybuffer.LazyBuffer]*lsi) ([]*lsi, error) {
	indeg := map[*lazybuffer.LazyBuffer]int{}
	edges := map[*lazybuffer.LazyBuffer][]*lazybuffer.LazyBuffer{}
	for _, b := range order {
		indeg[b] = 0
	}
	addEdge := func(from, to *lazybuffer.LazyBuffer) {
		edges[from] = append(edges[from], to)
		indeg[to]++
	}

	for _, b := range order {
		e := items[b]
		for _, in := range e.inputs {
			if _, ok := items[in]; ok && in != b {
				addEdge(in, b)
			}
		}
	}
	// Assign-ordering edges: every other realize target that reads the
	// assign's pre-write value must schedule before the assign itself.
	for _, b := range order {
		e := items[b]
		if e.assignTo == nil {
			continue
		}
		for _, other := range order {
			if other == b {
				continue
			}
			oe := items[other]
			for _, in := range oe.inputs {
				if in == e.assignTo {
					addEdge(other, b)
					break
				}
			}
		}
	}

	ready := make([]*lazybuffer.LazyBuffer, 0, len(order))
	for _, b := range order {
		if indeg[b] == 0 {
			ready = append(ready, b)
		}
	}

	var result []*lsi
	scheduled := map[*lazybuffer.LazyBuffer]bool{}
	for len(ready) > 0 {
		b := ready[0]
		ready = ready[1:]
		if scheduled[b] {
			continue
		}
		scheduled[b] = true
		result = append(result, items[b])

		for _, to := range edges[b] {
			indeg[to]--
			if indeg[to] == 0 {
				ready = append(ready, to)
			}
		}
		// Preserve discovery-order tie-breaking: re-sort the ready
		// queue to the subsequence of `order` whenever more than one
		// item is eligible, rather than relying on append order alone.
		if len(ready) > 1 {
			ready = reorderByDiscovery(ready, order)
		}
	}

	for _, b := range order {
		if indeg[b] > 0 {
			return nil, schederr.NewIntegrityError("cycle detected while ordering schedule: %d items remain with nonzero in-degree", countNonzero(indeg))
		}
	}
	if len(result) != len(order) {
		return nil, schederr.NewIntegrityError("schedule count mismatch: scheduled %d of %d prescheduled items", len(result), len(order))
	}
	return result, nil
}

func reorderByDiscovery(ready, order []*lazybuffer.LazyBuffer) []*lazybuffer.LazyBuffer {
	readySet := map[*lazybuffer.LazyBuffer]bool{}
	for _, b := range ready {
		readySet[b] = true
	}
	out := make([]*lazybuffer.LazyBuffer, 0, len(ready))
	for _, b := range order {
		if readySet[b] {
			out = append(out, b)
		}
	}
	return out
}

func countNonzero(m map[*lazybuffer.LazyBuffer]int) int {
	n := 0
	for _, v := range m {
		if v > 0 {
			n++
		}
	}
	return n
}
