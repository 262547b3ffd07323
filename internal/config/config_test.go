package config

import "testing"

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("LAZYCACHE", "")
	t.Setenv("LOGOPS", "")
	t.Setenv("GRAPH", "")
	t.Setenv("DEBUG", "")
	t.Setenv("REDUCEOP_SPLIT_THRESHOLD", "")
	t.Setenv("LAZYSCHED_TRACE_DSN", "")

	cfg := FromEnv()
	if !cfg.LazyCache {
		t.Fatalf("LazyCache should default to true")
	}
	if cfg.Graph {
		t.Fatalf("Graph should default to false")
	}
	if cfg.LogOps != "" {
		t.Fatalf("LogOps should default to empty, got %q", cfg.LogOps)
	}
	if cfg.ReduceOpSplitThreshold != 32768 {
		t.Fatalf("ReduceOpSplitThreshold default = %d, want 32768", cfg.ReduceOpSplitThreshold)
	}
}

func TestLogOpsReadsFilePathNotBoolean(t *testing.T) {
	t.Setenv("LOGOPS", "/tmp/ops.log")
	cfg := FromEnv()
	if cfg.LogOps != "/tmp/ops.log" {
		t.Fatalf("LOGOPS should be read as a file path, got %q", cfg.LogOps)
	}
}

func TestGetIntFallsBackOnUnparsable(t *testing.T) {
	t.Setenv("REDUCEOP_SPLIT_THRESHOLD", "not-a-number")
	cfg := FromEnv()
	if cfg.ReduceOpSplitThreshold != 32768 {
		t.Fatalf("unparsable int env var should fall back to default, got %d", cfg.ReduceOpSplitThreshold)
	}
}

func TestGetBoolFalsyValues(t *testing.T) {
	t.Setenv("GRAPH", "false")
	cfg := FromEnv()
	if cfg.Graph {
		t.Fatalf("GRAPH=false should disable graph logging")
	}
	t.Setenv("GRAPH", "1")
	cfg = FromEnv()
	if !cfg.Graph {
		t.Fatalf("GRAPH=1 should enable graph logging")
	}
}
