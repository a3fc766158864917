package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/carmcp/codegraph-go/internal/apptype"
	"github.com/carmcp/codegraph-go/internal/cache"
	"github.com/carmcp/codegraph-go/internal/metrics"
)

// MaintenanceManager implements clear, stats, backup, and restore.
type MaintenanceManager struct {
	conn  *ConnManager
	cfg   *Config
	cache *cache.Coordinator
}

func NewMaintenanceManager(conn *ConnManager, cfg *Config, coord *cache.Coordinator) *MaintenanceManager {
	return &MaintenanceManager{conn: conn, cfg: cfg, cache: coord}
}

// Clear removes every entity, relation, and observation, reclaims file
// space, and flushes the cache namespace. It returns the counts removed.
func (m *MaintenanceManager) Clear(ctx context.Context) (result *apptype.ClearResult, err error) {
	done := metrics.TimeOp("clear")
	defer func() { done(err == nil) }()

	mu := m.conn.Lock()
	mu.Lock()
	defer mu.Unlock()

	db, err := m.conn.Conn(ctx)
	if err != nil {
		return nil, err
	}

	result = &apptype.ClearResult{}
	counts := []struct {
		table string
		dest  *int64
	}{
		{"entities", &result.EntityCount},
		{"relations", &result.RelationCount},
		{"observations", &result.ObservationCount},
	}
	for _, c := range counts {
		if *c.dest, err = m.countRows(ctx, db, "clear", c.table); err != nil {
			return nil, storageErrorf("clear", err)
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageErrorf("clear", err)
	}
	defer tx.Rollback()

	// Children first so the deletes do not depend on cascade order.
	for _, table := range []string{"relations", "observations", "entities"} {
		if _, err = execRetry(ctx, m.cfg, tx, "clear", "DELETE FROM "+table); err != nil {
			return nil, storageErrorf("clear", err)
		}
	}
	if err = tx.Commit(); err != nil {
		return nil, storageErrorf("clear", err)
	}

	// VACUUM cannot run inside a transaction; failure only costs disk space.
	if _, vErr := db.ExecContext(ctx, "VACUUM"); vErr != nil {
		slog.Warn("vacuum after clear failed", "error", vErr)
	}

	m.cache.Flush(ctx)
	slog.Info("graph cleared",
		"entities", result.EntityCount,
		"relations", result.RelationCount,
		"observations", result.ObservationCount)
	return result, nil
}

// Stats summarizes the graph contents. The summary is cached under a
// single fixed key and invalidated by Clear and Restore.
func (m *MaintenanceManager) Stats(ctx context.Context) (stats *apptype.Stats, err error) {
	done := metrics.TimeOp("stats")
	defer func() { done(err == nil) }()

	key := cache.Key("stats")
	var cached apptype.Stats
	if m.cache.GetJSON(ctx, "stats", key, &cached) {
		return &cached, nil
	}

	db, err := m.conn.Conn(ctx)
	if err != nil {
		return nil, err
	}
	stats, err = m.statsFromDB(ctx, db)
	if err != nil {
		return nil, err
	}
	m.cache.SetJSON(ctx, key, stats)
	return stats, nil
}

// Backup copies the database file into dir (the configured backup
// directory when dir is empty) with a timestamped name, plus a JSON
// stats sidecar. The write lock is held so the copy is consistent.
func (m *MaintenanceManager) Backup(ctx context.Context, dir string) (info *apptype.BackupInfo, err error) {
	done := metrics.TimeOp("backup")
	defer func() { done(err == nil) }()

	if dir == "" {
		dir = m.cfg.BackupDir
	}
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return nil, storageErrorf("backup", fmt.Errorf("failed to create backup directory: %w", err))
	}

	mu := m.conn.Lock()
	mu.Lock()
	defer mu.Unlock()

	db, err := m.conn.Conn(ctx)
	if err != nil {
		return nil, err
	}
	stats, err := m.statsFromDB(ctx, db)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	stamp := now.Format("20060102-150405")
	dbPath := filepath.Join(dir, fmt.Sprintf("codegraph-%s.db", stamp))
	statsPath := filepath.Join(dir, fmt.Sprintf("codegraph-%s.stats.json", stamp))

	// Fold any WAL content into the main file so the copy is complete.
	if _, cpErr := db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); cpErr != nil {
		slog.Warn("wal checkpoint before backup failed", "error", cpErr)
	}
	if err = copyFile(m.conn.Path(), dbPath); err != nil {
		return nil, storageErrorf("backup", err)
	}
	statsJSON, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return nil, storageErrorf("backup", err)
	}
	if err = os.WriteFile(statsPath, statsJSON, 0o644); err != nil {
		return nil, storageErrorf("backup", fmt.Errorf("failed to write stats sidecar: %w", err))
	}

	slog.Info("backup written", "database", dbPath, "stats", statsPath)
	return &apptype.BackupInfo{DatabasePath: dbPath, StatsPath: statsPath, CreatedAt: now}, nil
}

// RestoreFiles swaps the live database file for a backup, keeping a
// .bak safety copy of the previous file. The caller must have closed
// the connection and quiesced writers; the facade owns that sequencing.
func (m *MaintenanceManager) RestoreFiles(backupPath string) error {
	if backupPath == "" {
		return validationErrorf("backup path cannot be empty")
	}
	if _, err := os.Stat(backupPath); err != nil {
		return validationErrorf("backup file not found: %s", backupPath)
	}

	live := m.conn.Path()
	if _, err := os.Stat(live); err == nil {
		if err := copyFile(live, live+".bak"); err != nil {
			return storageErrorf("restore", fmt.Errorf("failed to write safety copy: %w", err))
		}
	}
	if err := copyFile(backupPath, live); err != nil {
		return storageErrorf("restore", err)
	}
	// Stale journal files must not outlive the swapped database.
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(live + suffix)
	}
	slog.Info("database restored", "from", backupPath, "safety_copy", live+".bak")
	return nil
}

func (m *MaintenanceManager) statsFromDB(ctx context.Context, db *sql.DB) (*apptype.Stats, error) {
	stats := &apptype.Stats{GeneratedAt: time.Now().UTC()}

	var err error
	if stats.EntityCount, err = m.countRows(ctx, db, "stats", "entities"); err != nil {
		return nil, storageErrorf("stats", err)
	}
	if stats.RelationCount, err = m.countRows(ctx, db, "stats", "relations"); err != nil {
		return nil, storageErrorf("stats", err)
	}
	if stats.ObservationCount, err = m.countRows(ctx, db, "stats", "observations"); err != nil {
		return nil, storageErrorf("stats", err)
	}

	if stats.EntityTypes, err = m.typeCounts(ctx, db,
		"SELECT entity_type, COUNT(*) FROM entities GROUP BY entity_type ORDER BY COUNT(*) DESC"); err != nil {
		return nil, storageErrorf("stats", err)
	}
	if stats.RelationTypes, err = m.typeCounts(ctx, db,
		"SELECT relation_type, COUNT(*) FROM relations GROUP BY relation_type ORDER BY COUNT(*) DESC"); err != nil {
		return nil, storageErrorf("stats", err)
	}

	if stats.MostObserved, err = m.mostObserved(ctx, db); err != nil {
		return nil, storageErrorf("stats", err)
	}

	if fi, statErr := os.Stat(m.conn.Path()); statErr == nil {
		stats.FileSizeBytes = fi.Size()
		stats.FileSizeMB = float64(fi.Size()) / (1024 * 1024)
	}
	return stats, nil
}

func (m *MaintenanceManager) countRows(ctx context.Context, db *sql.DB, op, table string) (int64, error) {
	rows, err := queryRetry(ctx, m.cfg, db, op, "SELECT COUNT(*) FROM "+table)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	var count int64
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return 0, err
		}
	}
	return count, rows.Err()
}

func (m *MaintenanceManager) typeCounts(ctx context.Context, db *sql.DB, query string) ([]apptype.TypeCount, error) {
	rows, err := queryRetry(ctx, m.cfg, db, "stats", query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []apptype.TypeCount{}
	for rows.Next() {
		var tc apptype.TypeCount
		if err := rows.Scan(&tc.Type, &tc.Count); err != nil {
			slog.Warn("failed to scan type count row", "error", err)
			continue
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

func (m *MaintenanceManager) mostObserved(ctx context.Context, db *sql.DB) ([]apptype.ObservedEntity, error) {
	rows, err := queryRetry(ctx, m.cfg, db, "stats",
		`SELECT e.id, e.name, e.entity_type, COUNT(o.id) AS n
		 FROM entities e JOIN observations o ON o.entity_id = e.id
		 GROUP BY e.id, e.name, e.entity_type
		 ORDER BY n DESC LIMIT 10`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []apptype.ObservedEntity{}
	for rows.Next() {
		var oe apptype.ObservedEntity
		if err := rows.Scan(&oe.ID, &oe.Name, &oe.EntityType, &oe.ObservationCount); err != nil {
			slog.Warn("failed to scan most-observed row", "error", err)
			continue
		}
		out = append(out, oe)
	}
	return out, rows.Err()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	return out.Sync()
}
