// cmd/lazysched/main.go
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/kr/pretty"
	"github.com/mattn/go-isatty"

	"lazysched/internal/buffer"
	"lazysched/internal/config"
	"lazysched/internal/dtype"
	"lazysched/internal/graphlog"
	"lazysched/internal/lazybuffer"
	"lazysched/internal/ops"
	"lazysched/internal/report"
	"lazysched/internal/schedcheck"
	"lazysched/internal/scheduler"
	"lazysched/internal/shapetracker"
	"lazysched/internal/tracestore"
)

const version = "0.1.0"

var graphs = map[string]func() []*lazybuffer.LazyBuffer{
	"add":        graphAdd,
	"reducefuse": graphReduceFuse,
	"forcedreal": graphForcedRealize,
	"assign":     graphAssign,
}

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		usage()
		return
	}

	switch args[0] {
	case "--help", "-h", "help":
		usage()
	case "--version", "-v", "version":
		fmt.Println("lazysched", version)
	case "list":
		for name := range graphs {
			fmt.Println(name)
		}
	case "run":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: lazysched run <graph>")
			os.Exit(1)
		}
		runGraph(args[1])
	case "check":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: lazysched check <graph>")
			os.Exit(1)
		}
		checkGraph(args[1])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Println(`lazysched - lazy tensor scheduler demo driver

Usage:
  lazysched list              list the canned demo graphs
  lazysched run <graph>       schedule a demo graph and print a report
  lazysched check <graph>     schedule a demo graph and assert spec invariants
  lazysched version           print the version
  lazysched help              show this message`)
}

func runGraph(name string) {
	outs, ok := buildGraph(name)
	if !ok {
		return
	}

	cfg := config.FromEnv()
	logger, err := graphlog.New(cfg.LogOps, cfg.Graph, cfg.GraphAddr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "graphlog:", err)
		os.Exit(1)
	}
	defer logger.Close()
	scheduler.OnEvent = func(kind, node, info string) {
		logger.Emit(graphlog.Event{Kind: kind, Node: node, Info: info})
	}
	defer func() { scheduler.OnEvent = nil }()

	store, err := tracestore.Open(cfg.TraceDSN)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tracestore:", err)
		os.Exit(1)
	}
	defer store.Close()

	sched, err := scheduler.CreateSchedule(outs, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "schedule error:", err)
		os.Exit(1)
	}

	now := time.Now()
	for _, item := range sched {
		logger.LogOp(item)
		store.RecordItem(item, now)
	}

	if cfg.Debug > 0 {
		for i, item := range sched {
			fmt.Fprintf(os.Stderr, "-- item %d --\n", i)
			pretty.Fprintf(os.Stderr, "%# v\n", item)
		}
	}

	if isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Printf("schedule: %s (%d item(s))\n", name, len(sched))
	}
	fmt.Print(report.BuildSchedule(sched).Text())
}

func checkGraph(name string) {
	outs, ok := buildGraph(name)
	if !ok {
		return
	}
	pre := preRealizedBuffers(outs)

	sched, err := scheduler.CreateSchedule(outs, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "schedule error:", err)
		os.Exit(1)
	}
	if err := schedcheck.All(sched, pre); err != nil {
		fmt.Fprintln(os.Stderr, "invariant violation:", err)
		os.Exit(1)
	}
	fmt.Printf("%s: %d item(s), all invariants hold\n", name, len(sched))
}

// preRealizedBuffers walks every node reachable from outs and collects
// the backing Buffer of each already-realized ancestor, the full set
// schedcheck.InputsRealizedBeforeUse needs to treat as available on
// entry — checking outs themselves isn't enough, since a realized
// input several hops upstream never appears there directly.
func preRealizedBuffers(outs []*lazybuffer.LazyBuffer) map[*buffer.Buffer]bool {
	pre := map[*buffer.Buffer]bool{}
	seen := map[*lazybuffer.LazyBuffer]bool{}
	var walk func(b *lazybuffer.LazyBuffer)
	walk = func(b *lazybuffer.LazyBuffer) {
		base := b.Base
		if seen[base] {
			return
		}
		seen[base] = true
		if buf := base.Realized(); buf != nil {
			pre[buf] = true
			return
		}
		for _, s := range base.Srcs {
			walk(s)
		}
	}
	for _, o := range outs {
		walk(o)
	}
	return pre
}

func buildGraph(name string) ([]*lazybuffer.LazyBuffer, bool) {
	build, ok := graphs[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown graph %q; try 'lazysched list'\n", name)
		return nil, false
	}
	return build(), true
}

func realizedInput(shape []int) *lazybuffer.LazyBuffer {
	b := lazybuffer.LoadOp(ops.EMPTY, shapetracker.Dims(shape), dtype.Float32_, "CLANG", nil, nil, true)
	return b.Realize()
}

// graphAdd mirrors spec.md §8 scenario 2: a = tensor([1,2]); out = a + 2.
func graphAdd() []*lazybuffer.LazyBuffer {
	a := realizedInput([]int{2})
	two := lazybuffer.Const(2.0, dtype.Float32_, "CLANG", []int{2})
	out, err := lazybuffer.E(ops.B(ops.ADD), []*lazybuffer.LazyBuffer{a, two}, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return []*lazybuffer.LazyBuffer{out}
}

// graphReduceFuse mirrors spec.md §8 scenario 4: x.sum(axis=0) + 1.
func graphReduceFuse() []*lazybuffer.LazyBuffer {
	x := realizedInput([]int{10, 10})
	r, err := lazybuffer.R(x, ops.SUM, []int{0})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	one := lazybuffer.Const(1.0, dtype.Float32_, "CLANG", r.IntShape())
	out, err := lazybuffer.E(ops.B(ops.ADD), []*lazybuffer.LazyBuffer{r, one}, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return []*lazybuffer.LazyBuffer{out}
}

// graphForcedRealize mirrors spec.md §8 scenario 5: r = x.sum(axis=0);
// a = r*2; b = r+3; both a and b consume the same unrealized reduce.
func graphForcedRealize() []*lazybuffer.LazyBuffer {
	x := realizedInput([]int{8, 8})
	r, err := lazybuffer.R(x, ops.SUM, []int{0})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	two := lazybuffer.Const(2.0, dtype.Float32_, "CLANG", r.IntShape())
	three := lazybuffer.Const(3.0, dtype.Float32_, "CLANG", r.IntShape())
	a, err := lazybuffer.E(ops.B(ops.MUL), []*lazybuffer.LazyBuffer{r, two}, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	b, err := lazybuffer.E(ops.B(ops.ADD), []*lazybuffer.LazyBuffer{r, three}, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return []*lazybuffer.LazyBuffer{a, b}
}

// graphAssign mirrors spec.md §8 scenario 6: b realized; c = b*2;
// b.assign(b+1). c must schedule before the assign to b.
func graphAssign() []*lazybuffer.LazyBuffer {
	b := realizedInput([]int{4})
	two := lazybuffer.Const(2.0, dtype.Float32_, "CLANG", []int{4})
	one := lazybuffer.Const(1.0, dtype.Float32_, "CLANG", []int{4})
	c, err := lazybuffer.E(ops.B(ops.MUL), []*lazybuffer.LazyBuffer{b, two}, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	bPlusOne, err := lazybuffer.E(ops.B(ops.ADD), []*lazybuffer.LazyBuffer{b, one}, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	assigned, err := b.Assign(bPlusOne)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return []*lazybuffer.LazyBuffer{c, assigned}
}
