// Package config reads the environment variables that tune scheduler
// behavior, following the same direct os.Getenv style the rest of this
// codebase uses for its own settings (no config-file or flags library).
package config

import (
	"os"
	"strconv"
)

// Config is a snapshot of the scheduler's environment-derived settings.
type Config struct {
	// LazyCache enables the structural weak-value cache in lazybuffer.
	LazyCache bool
	// CastBeforeView controls whether CAST is pushed below a pending
	// movement op or applied after it when both are mergeable.
	CastBeforeView bool
	// SplitReduceOp enables splitting a large single-kernel reduce into
	// a two-stage reduce when the reduced volume reaches
	// ReduceOpSplitThreshold.
	SplitReduceOp bool
	// ReduceOpSplitThreshold is the reduced-volume element count at or
	// above which SplitReduceOp takes effect.
	ReduceOpSplitThreshold int
	// Graph enables discovery/realize event broadcasting in
	// internal/graphlog.
	Graph bool
	// GraphAddr is the websocket address graphlog serves on when Graph
	// is set; if empty, no server is started and graph events are
	// dropped.
	GraphAddr string
	// LogOps, when non-empty, is the file path internal/graphlog appends
	// every scheduled item's AST to.
	LogOps string
	// Debug is the debug verbosity level; 0 disables debug output.
	Debug int
	// TraceDSN, when non-empty, is the DSN internal/tracestore persists
	// ScheduleItem summaries to.
	TraceDSN string
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// FromEnv reads the current environment into a Config.
func FromEnv() Config {
	return Config{
		LazyCache:              getBool("LAZYCACHE", true),
		CastBeforeView:         getBool("CAST_BEFORE_VIEW", true),
		SplitReduceOp:          getBool("SPLIT_REDUCEOP", true),
		ReduceOpSplitThreshold: getInt("REDUCEOP_SPLIT_THRESHOLD", 32768),
		Graph:                  getBool("GRAPH", false),
		GraphAddr:              os.Getenv("LAZYSCHED_GRAPH_ADDR"),
		LogOps:                 os.Getenv("LOGOPS"),
		Debug:                  getInt("DEBUG", 0),
		TraceDSN:               os.Getenv("LAZYSCHED_TRACE_DSN"),
	}
}
