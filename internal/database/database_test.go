package database

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/carmcp/codegraph-go/internal/cache"
	"github.com/carmcp/codegraph-go/internal/embeddings"
)

// managers bundles everything a test needs against one database.
type managers struct {
	conn         *ConnManager
	cfg          *Config
	coord        *cache.Coordinator
	entities     *EntityManager
	observations *ObservationManager
	relations    *RelationManager
	search       *SearchManager
	maintenance  *MaintenanceManager
}

func setupConn(t *testing.T, cfg *Config) *ConnManager {
	t.Helper()
	cm, err := NewConnManager(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cm.Close() })
	return cm
}

func memoryConfig() *Config {
	return &Config{Path: fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())}
}

func fileConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		Path:      filepath.Join(t.TempDir(), "graph.db"),
		BackupDir: filepath.Join(t.TempDir(), "backups"),
	}
}

func newManagers(t *testing.T, cfg *Config, coord *cache.Coordinator, embed embeddings.Func) *managers {
	t.Helper()
	cm := setupConn(t, cfg)
	if coord == nil {
		coord = cache.NewCoordinator(nil, cfg.CacheTTL)
	}
	return &managers{
		conn:         cm,
		cfg:          cfg,
		coord:        coord,
		entities:     NewEntityManager(cm, cfg, coord, embed),
		observations: NewObservationManager(cm, cfg, coord, embed),
		relations:    NewRelationManager(cm, cfg, coord),
		search:       NewSearchManager(cm, cfg, coord, embed),
		maintenance:  NewMaintenanceManager(cm, cfg, coord),
	}
}

// setupManagers builds an uncached in-memory graph.
func setupManagers(t *testing.T) *managers {
	t.Helper()
	return newManagers(t, memoryConfig(), nil, nil)
}

// setupCachedManagers builds an in-memory graph with a miniredis-backed
// cache, returning the miniredis handle for direct inspection.
func setupCachedManagers(t *testing.T) (*managers, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	provider, err := cache.NewRedisProvider(&redis.Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Close() })
	coord := cache.NewCoordinator(provider, time.Minute)
	return newManagers(t, memoryConfig(), coord, nil), mr
}

func (m *managers) mustCreateEntity(t *testing.T, name, entityType string) string {
	t.Helper()
	id, err := m.entities.CreateEntity(context.Background(), name, entityType, nil, nil)
	require.NoError(t, err)
	return id
}
