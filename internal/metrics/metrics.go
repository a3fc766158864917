package metrics

import (
	"os"
	"sync"
	"time"
)

// Package metrics provides a minimal instrumentation interface with a no-op
// default and optional Prometheus-backed implementation enabled via env.

// Recorder defines the metrics surface used across the codebase.
type Recorder interface {
	IncOpTotal(op string, success bool)
	ObserveOpSeconds(op string, success bool, seconds float64)
	IncCacheHit(op string)
	IncCacheMiss(op string)
	IncRetry(op string)
}

// noopRecorder implements Recorder with no-ops.
type noopRecorder struct{}

func (n *noopRecorder) IncOpTotal(string, bool)                {}
func (n *noopRecorder) ObserveOpSeconds(string, bool, float64) {}
func (n *noopRecorder) IncCacheHit(string)                     {}
func (n *noopRecorder) IncCacheMiss(string)                    {}
func (n *noopRecorder) IncRetry(string)                        {}

var (
	recMu    sync.RWMutex
	recorder Recorder = &noopRecorder{}
)

// Default returns the current recorder.
func Default() Recorder {
	recMu.RLock()
	defer recMu.RUnlock()
	return recorder
}

// SetRecorder swaps the global recorder implementation.
func SetRecorder(r Recorder) {
	recMu.Lock()
	defer recMu.Unlock()
	recorder = r
}

// TimeOp is a helper to time graph operations.
func TimeOp(op string) func(success bool) {
	start := time.Now()
	return func(success bool) {
		dur := time.Since(start).Seconds()
		Default().IncOpTotal(op, success)
		Default().ObserveOpSeconds(op, success, dur)
	}
}

// InitFromEnv enables the Prometheus exporter if METRICS_PROMETHEUS is set.
// It also starts a small HTTP server on METRICS_ADDR (default :9090)
// with endpoints: /metrics (prom) and /healthz (200 ok).
func InitFromEnv() {
	if os.Getenv("METRICS_PROMETHEUS") == "" {
		return
	}
	addr := os.Getenv("METRICS_ADDR")
	if addr == "" {
		addr = ":9090"
	}
	// Try to install prometheus recorder; if it fails, keep noop.
	_ = enablePrometheus(addr)
}
