package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/tursodatabase/go-libsql"
)

// ConnManager owns the single database connection and the single write
// lock for a graph. The pool is capped at one connection so PRAGMA state
// and SQLite's single-writer model hold; Close is idempotent and the next
// Conn call transparently reopens.
//
// Go has no reentrant lock, so the write mutex is separate from the
// handle guard: write operations take Lock() for their full duration,
// and internal helpers receive the open handle as a parameter rather
// than re-acquiring anything.
type ConnManager struct {
	cfg *Config

	stateMu sync.RWMutex
	db      *sql.DB

	writeMu sync.Mutex
}

// NewConnManager opens the database eagerly so configuration errors
// surface at construction time.
func NewConnManager(ctx context.Context, cfg *Config) (*ConnManager, error) {
	cfg.normalize()
	cm := &ConnManager{cfg: cfg}
	if _, err := cm.Conn(ctx); err != nil {
		return nil, err
	}
	return cm, nil
}

// Conn returns the live handle, opening it if the manager is fresh or
// was closed.
func (cm *ConnManager) Conn(ctx context.Context) (*sql.DB, error) {
	cm.stateMu.RLock()
	db := cm.db
	cm.stateMu.RUnlock()
	if db != nil {
		return db, nil
	}

	cm.stateMu.Lock()
	defer cm.stateMu.Unlock()
	if cm.db != nil {
		return cm.db, nil
	}
	db, err := cm.open(ctx)
	if err != nil {
		return nil, storageErrorf("connect", err)
	}
	cm.db = db
	return cm.db, nil
}

// Lock exposes the write mutex. Mutating operations hold it for their
// full duration and release it on every path.
func (cm *ConnManager) Lock() *sync.Mutex {
	return &cm.writeMu
}

// Close releases the connection. Safe to call repeatedly; a later Conn
// reopens.
func (cm *ConnManager) Close() error {
	cm.stateMu.Lock()
	defer cm.stateMu.Unlock()
	if cm.db == nil {
		return nil
	}
	err := cm.db.Close()
	cm.db = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// Path returns the configured database file path without any URL scheme.
func (cm *ConnManager) Path() string {
	return strings.TrimPrefix(cm.cfg.Path, "file:")
}

func (cm *ConnManager) open(ctx context.Context) (*sql.DB, error) {
	url := cm.cfg.Path
	if !strings.HasPrefix(url, "file:") {
		if dir := filepath.Dir(url); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		url = "file:" + url
	}

	db, err := sql.Open("libsql", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: keeps PRAGMAs effective and serializes the driver.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	slog.Debug("database opened", "url", url)
	return db, nil
}

// applySchema runs the DDL in a single transaction.
func applySchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit schema: %w", err)
	}
	return nil
}
