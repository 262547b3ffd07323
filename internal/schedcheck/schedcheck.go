// Package schedcheck asserts the quantified invariants of spec.md §8
// against a produced schedule and the set of buffers realized before
// it. It is used by the scheduler
// package's own tests and by the CLI's "check" subcommand, grounded on
// the teacher's testing module's pattern of small composable assertion
// helpers returning a descriptive error instead of panicking.
package schedcheck

import (
	"fmt"

	"lazysched/internal/buffer"
	"lazysched/internal/ops"
)

// NoSelfReference asserts that no ScheduleItem reads a buffer it also
// writes in the same item. Assign items are exempt: an in-place update
// legitimately reads the pre-assign value and writes the new one
// through the same buffer slot.
func NoSelfReference(sched []*ops.ScheduleItem) error {
	for i, item := range sched {
		if item.IsAssign {
			continue
		}
		outs := map[*buffer.Buffer]bool{}
		for _, o := range item.Outputs {
			outs[o] = true
		}
		for _, in := range item.Inputs {
			if outs[in] {
				return fmt.Errorf("schedcheck: item %d reads and writes the same buffer", i)
			}
		}
	}
	return nil
}

// InputsRealizedBeforeUse asserts that every ScheduleItem's inputs are
// either already realized on entry (tracked via preRealized) or were
// produced as an earlier item's output.
func InputsRealizedBeforeUse(sched []*ops.ScheduleItem, preRealized map[*buffer.Buffer]bool) error {
	produced := map[*buffer.Buffer]bool{}
	for k, v := range preRealized {
		produced[k] = v
	}
	for i, item := range sched {
		for _, in := range item.Inputs {
			if !produced[in] {
				return fmt.Errorf("schedcheck: item %d reads buffer not yet realized or produced", i)
			}
		}
		for _, out := range item.Outputs {
			produced[out] = true
		}
	}
	return nil
}

// NoDuplicateOutputs asserts that no buffer is written by more than one
// ScheduleItem — a LazyBuffer's srcs are detached once scheduled
// (spec.md §4.5), so a double-write indicates a scheduling bug.
func NoDuplicateOutputs(sched []*ops.ScheduleItem) error {
	seen := map[*buffer.Buffer]int{}
	for i, item := range sched {
		for _, out := range item.Outputs {
			if prev, ok := seen[out]; ok {
				return fmt.Errorf("schedcheck: buffer written by both item %d and item %d", prev, i)
			}
			seen[out] = i
		}
	}
	return nil
}

// SingleStoreAST asserts every ScheduleItem's AST tops are STORE (or,
// for CUSTOM/COPY/EMPTY trivial items, the bare loadop itself).
func SingleStoreAST(sched []*ops.ScheduleItem) error {
	for i, item := range sched {
		for _, ast := range item.AST {
			if ast.Op.IsBuffer() && ast.Op.Buffer == ops.STORE {
				continue
			}
			if ast.Op.IsLoad() {
				continue
			}
			return fmt.Errorf("schedcheck: item %d has a non-STORE, non-loadop AST top (%s)", i, ast.Op.String())
		}
	}
	return nil
}

// All runs every structural check above in sequence, returning the
// first failure.
func All(sched []*ops.ScheduleItem, preRealized map[*buffer.Buffer]bool) error {
	if err := NoSelfReference(sched); err != nil {
		return err
	}
	if err := NoDuplicateOutputs(sched); err != nil {
		return err
	}
	if err := InputsRealizedBeforeUse(sched, preRealized); err != nil {
		return err
	}
	if err := SingleStoreAST(sched); err != nil {
		return err
	}
	return nil
}
