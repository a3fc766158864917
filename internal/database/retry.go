package database

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/carmcp/codegraph-go/internal/metrics"
)

// execContexter is satisfied by *sql.DB and *sql.Tx.
type execContexter interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// queryContexter is satisfied by *sql.DB and *sql.Tx.
type queryContexter interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// busyFragments are the driver error strings that mark transient lock
// contention. Anything else propagates immediately.
var busyFragments = []string{
	"database is locked",
	"database is busy",
	"SQLITE_BUSY",
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, frag := range busyFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}

// withRetry runs fn up to cfg.MaxRetries times, backing off
// RetryBaseDelay << attempt between tries on busy errors only. Context
// cancellation aborts the sleep; exhausted retries return the last busy
// error.
func withRetry(ctx context.Context, cfg *Config, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		err = fn()
		if err == nil || !isBusyErr(err) {
			return err
		}
		if attempt == cfg.MaxRetries-1 {
			break
		}
		metrics.Default().IncRetry(op)
		delay := cfg.RetryBaseDelay << attempt
		slog.Warn("database busy, retrying", "op", op, "attempt", attempt+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// execRetry executes a statement with busy-retry semantics.
func execRetry(ctx context.Context, cfg *Config, e execContexter, op, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := withRetry(ctx, cfg, op, func() error {
		var err error
		res, err = e.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

// queryRetry runs a query with busy-retry semantics. The caller owns the
// returned rows.
func queryRetry(ctx context.Context, cfg *Config, q queryContexter, op, query string, args ...any) (*sql.Rows, error) {
	var rows *sql.Rows
	err := withRetry(ctx, cfg, op, func() error {
		var err error
		rows, err = q.QueryContext(ctx, query, args...)
		return err
	})
	return rows, err
}
