// Package cache provides deterministic cache key derivation and a
// read-through coordinator over a pluggable backend. The cache is an
// optional accelerator: every failure is logged and absorbed so graph
// operations keep working against storage alone.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/carmcp/codegraph-go/internal/metrics"
)

// Namespace prefixes every key so a shared backend can be flushed or
// inspected per application.
const Namespace = "graph"

// DefaultTTL is used when the coordinator is constructed with a
// non-positive TTL.
const DefaultTTL = time.Hour

// Provider is the minimal backend surface the coordinator needs.
// Implementations must treat a missing key as (_, false, nil), not an error.
type Provider interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) (int, error)
	Keys(ctx context.Context, pattern string) ([]string, error)
}

// Key derives a deterministic cache key for an operation and its
// arguments: the canonical form "op:arg1:arg2:..." is hashed so keys stay
// bounded regardless of argument size, and the operation name is kept in
// the key for debuggability and targeted invalidation.
func Key(op string, args ...any) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, op)
	for _, a := range args {
		parts = append(parts, fmt.Sprint(a))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return fmt.Sprintf("%s:%s:%x", Namespace, op, sum[:16])
}

// Pattern returns the glob matching every key derived for op.
func Pattern(op string) string {
	return fmt.Sprintf("%s:%s*", Namespace, op)
}

// Coordinator wraps an optional Provider with JSON serialization, a
// shared TTL, and swallow-all error handling. A nil-provider coordinator
// is valid and degrades every call to a no-op.
type Coordinator struct {
	provider Provider
	ttl      time.Duration
	log      *slog.Logger
}

// NewCoordinator builds a coordinator over p. p may be nil to disable
// caching entirely.
func NewCoordinator(p Provider, ttl time.Duration) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Coordinator{provider: p, ttl: ttl, log: slog.Default().With("component", "cache")}
}

// Enabled reports whether a backend is configured.
func (c *Coordinator) Enabled() bool {
	return c != nil && c.provider != nil
}

// GetJSON looks key up and unmarshals the cached value into dest.
// Any backend or decode failure counts as a miss.
func (c *Coordinator) GetJSON(ctx context.Context, op, key string, dest any) bool {
	if !c.Enabled() {
		return false
	}
	val, ok, err := c.provider.Get(ctx, key)
	if err != nil {
		c.log.Warn("cache get failed", "key", key, "error", err)
		metrics.Default().IncCacheMiss(op)
		return false
	}
	if !ok {
		metrics.Default().IncCacheMiss(op)
		return false
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		c.log.Warn("cache value corrupt, dropping", "key", key, "error", err)
		_, _ = c.provider.Delete(ctx, key)
		metrics.Default().IncCacheMiss(op)
		return false
	}
	metrics.Default().IncCacheHit(op)
	return true
}

// SetJSON stores v under key with the coordinator TTL, best-effort.
func (c *Coordinator) SetJSON(ctx context.Context, key string, v any) {
	if !c.Enabled() {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		c.log.Warn("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.provider.Set(ctx, key, string(data), c.ttl); err != nil {
		c.log.Warn("cache set failed", "key", key, "error", err)
	}
}

// Invalidate removes every key matching the given glob patterns.
// Failures are logged and absorbed.
func (c *Coordinator) Invalidate(ctx context.Context, patterns ...string) {
	if !c.Enabled() {
		return
	}
	for _, pattern := range patterns {
		keys, err := c.provider.Keys(ctx, pattern)
		if err != nil {
			c.log.Warn("cache keys lookup failed", "pattern", pattern, "error", err)
			continue
		}
		if len(keys) == 0 {
			continue
		}
		if _, err := c.provider.Delete(ctx, keys...); err != nil {
			c.log.Warn("cache invalidate failed", "pattern", pattern, "error", err)
		}
	}
}

// Flush removes every key in the namespace.
func (c *Coordinator) Flush(ctx context.Context) {
	c.Invalidate(ctx, Namespace+":*")
}
