// Package report renders a finished schedule as human-readable text or
// JSON, grounded on the teacher's reporting module's summary/appendix
// structure but scaled down to what a schedule needs: one entry per
// ScheduleItem with a humanized flop/byte count and a correlation id.
package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"lazysched/internal/costmodel"
	"lazysched/internal/ops"
)

// ItemSummary is one ScheduleItem's report row.
type ItemSummary struct {
	ID       string `json:"id"`
	Index    int    `json:"index"`
	Op       string `json:"top_op"`
	Flops    int64  `json:"flops"`
	MemBytes int64  `json:"mem_bytes"`
	Inputs   int    `json:"inputs"`
	Outputs  int    `json:"outputs"`
}

// Report is a full schedule summary: one ItemSummary per ScheduleItem
// plus schedule-wide totals.
type Report struct {
	Items      []ItemSummary `json:"items"`
	TotalFlops int64         `json:"total_flops"`
	TotalMem   int64         `json:"total_mem_bytes"`
}

// BuildSchedule produces a Report for a full schedule, assigning each
// item a fresh uuid correlation id. The id appears only in the report;
// the trace store and graph log do not record it.
func BuildSchedule(sched []*ops.ScheduleItem) *Report {
	r := &Report{Items: make([]ItemSummary, 0, len(sched))}
	for i, item := range sched {
		var flops, mem int64
		topOp := "?"
		for _, ast := range item.AST {
			info := costmodel.GetLazyOpInfo(ast)
			flops += info.Flops
			mem += info.MemEstimate()
			topOp = ast.Op.String()
		}
		r.Items = append(r.Items, ItemSummary{
			ID:       uuid.NewString(),
			Index:    i,
			Op:       topOp,
			Flops:    flops,
			MemBytes: mem,
			Inputs:   len(item.Inputs),
			Outputs:  len(item.Outputs),
		})
		r.TotalFlops += flops
		r.TotalMem += mem
	}
	return r
}

// Text renders r the way a terminal CLI would: one humanized line per
// item plus a humanized total.
func (r *Report) Text() string {
	var b strings.Builder
	for _, it := range r.Items {
		fmt.Fprintf(&b, "[%d] %s  flops=%s mem=%s in=%d out=%d  id=%s\n",
			it.Index, it.Op, humanize.Comma(it.Flops), humanize.Bytes(uint64(it.MemBytes)), it.Inputs, it.Outputs, it.ID)
	}
	fmt.Fprintf(&b, "total: flops=%s mem=%s items=%s\n",
		humanize.Comma(r.TotalFlops), humanize.Bytes(uint64(r.TotalMem)), humanize.Comma(int64(len(r.Items))))
	return b.String()
}

// JSON renders r as indented JSON.
func (r *Report) JSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
