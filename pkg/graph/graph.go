// Package graph is the public facade over the knowledge graph: it wires
// the connection manager, cache coordinator, and embedding function into
// the domain managers and exposes every operation on one handle.
package graph

import (
	"context"

	"github.com/carmcp/codegraph-go/internal/apptype"
	"github.com/carmcp/codegraph-go/internal/cache"
	"github.com/carmcp/codegraph-go/internal/database"
	"github.com/carmcp/codegraph-go/internal/embeddings"
)

// Aliases so consumers can name every argument and result type without
// reaching into internal packages.
type (
	Entity            = apptype.Entity
	Observation       = apptype.Observation
	Relation          = apptype.Relation
	RelationInfo      = apptype.RelationInfo
	SearchHit         = apptype.SearchHit
	Stats             = apptype.Stats
	ClearResult       = apptype.ClearResult
	BackupInfo        = apptype.BackupInfo
	Properties        = apptype.Properties
	UpdateEntityPatch = database.UpdateEntityPatch
	SearchOptions     = database.SearchOptions
	ValidationError   = database.ValidationError
	StorageError      = database.StorageError
	CacheProvider     = cache.Provider
	EmbeddingFunc     = embeddings.Func
)

// ErrEntityNotFound is returned when an operation requires an entity
// that does not exist.
var ErrEntityNotFound = database.ErrEntityNotFound

// Relation query directions.
const (
	DirectionOutgoing = database.DirectionOutgoing
	DirectionIncoming = database.DirectionIncoming
	DirectionBoth     = database.DirectionBoth
)

// Option customizes a Graph at Open time.
type Option func(*Graph)

// WithCacheProvider enables the read-through cache on the given backend.
// Without it the graph runs storage-only.
func WithCacheProvider(p cache.Provider) Option {
	return func(g *Graph) { g.provider = p }
}

// WithEmbeddingFunc enables best-effort semantic embedding of entity
// names, observation texts, and search queries.
func WithEmbeddingFunc(f embeddings.Func) Option {
	return func(g *Graph) { g.embed = f }
}

// Graph is a persistent entity-relation-observation store. It is safe
// for concurrent use; a single internal lock serializes writers.
type Graph struct {
	cfg      *database.Config
	provider cache.Provider
	embed    embeddings.Func

	conn  *database.ConnManager
	coord *cache.Coordinator

	entities     *database.EntityManager
	observations *database.ObservationManager
	relations    *database.RelationManager
	search       *database.SearchManager
	maintenance  *database.MaintenanceManager
}

// Open connects to the database at cfg.Path, applies the schema, and
// returns a ready Graph.
func Open(ctx context.Context, cfg *Config, opts ...Option) (*Graph, error) {
	g := &Graph{cfg: cfg.internal()}
	for _, opt := range opts {
		opt(g)
	}

	conn, err := database.NewConnManager(ctx, g.cfg)
	if err != nil {
		return nil, err
	}
	g.conn = conn
	g.coord = cache.NewCoordinator(g.provider, g.cfg.CacheTTL)
	g.rebuild()
	return g, nil
}

// rebuild re-instantiates every manager against the current connection
// manager. Called at Open and again after Restore swaps the database
// file.
func (g *Graph) rebuild() {
	g.entities = database.NewEntityManager(g.conn, g.cfg, g.coord, g.embed)
	g.observations = database.NewObservationManager(g.conn, g.cfg, g.coord, g.embed)
	g.relations = database.NewRelationManager(g.conn, g.cfg, g.coord)
	g.search = database.NewSearchManager(g.conn, g.cfg, g.coord, g.embed)
	g.maintenance = database.NewMaintenanceManager(g.conn, g.cfg, g.coord)
}

// Close releases the database connection. Safe to call repeatedly; any
// later operation transparently reconnects.
func (g *Graph) Close() error {
	return g.conn.Close()
}

// CreateEntity stores a new entity and returns its id; an existing
// (name, entityType) pair returns the existing id.
func (g *Graph) CreateEntity(ctx context.Context, name, entityType string, embedding []float32, props Properties) (string, error) {
	return g.entities.CreateEntity(ctx, name, entityType, embedding, props)
}

// GetEntity returns the entity with the given id, or nil when absent.
func (g *Graph) GetEntity(ctx context.Context, id string) (*Entity, error) {
	return g.entities.GetEntity(ctx, id)
}

// GetEntityByName returns the first entity with the given name, or nil.
func (g *Graph) GetEntityByName(ctx context.Context, name string) (*Entity, error) {
	return g.entities.GetEntityByName(ctx, name)
}

// UpdateEntity applies a partial patch; false means the id is unknown.
func (g *Graph) UpdateEntity(ctx context.Context, id string, patch UpdateEntityPatch) (bool, error) {
	return g.entities.UpdateEntity(ctx, id, patch)
}

// DeleteEntity removes an entity and cascades to its observations and
// relations; false means the id is unknown.
func (g *Graph) DeleteEntity(ctx context.Context, id string) (bool, error) {
	return g.entities.DeleteEntity(ctx, id)
}

// AddObservation attaches a note to an existing entity.
func (g *Graph) AddObservation(ctx context.Context, entityID, text string, embedding []float32, props Properties) (string, error) {
	return g.observations.AddObservation(ctx, entityID, text, embedding, props)
}

// GetObservations returns an entity's observations newest first.
func (g *Graph) GetObservations(ctx context.Context, entityID string, limit int) ([]Observation, error) {
	return g.observations.GetObservations(ctx, entityID, limit)
}

// DeleteObservation removes one observation; false means unknown id.
func (g *Graph) DeleteObservation(ctx context.Context, id string) (bool, error) {
	return g.observations.DeleteObservation(ctx, id)
}

// CreateRelation stores a directed edge between two existing entities.
func (g *Graph) CreateRelation(ctx context.Context, fromID, toID, relationType string, confidence float64, props Properties) (string, error) {
	return g.relations.CreateRelation(ctx, fromID, toID, relationType, confidence, props)
}

// GetRelations returns the relations touching an entity.
func (g *Graph) GetRelations(ctx context.Context, entityID, direction, relationType string) ([]RelationInfo, error) {
	return g.relations.GetRelations(ctx, entityID, direction, relationType)
}

// DeleteRelation removes one relation; false means unknown id.
func (g *Graph) DeleteRelation(ctx context.Context, id string) (bool, error) {
	return g.relations.DeleteRelation(ctx, id)
}

// SearchEntities ranks entities against a text query.
func (g *Graph) SearchEntities(ctx context.Context, query string, opts SearchOptions) ([]SearchHit, error) {
	return g.search.SearchEntities(ctx, query, opts)
}

// Clear removes all graph data and flushes the cache.
func (g *Graph) Clear(ctx context.Context) (*ClearResult, error) {
	return g.maintenance.Clear(ctx)
}

// Stats summarizes the graph contents.
func (g *Graph) Stats(ctx context.Context) (*Stats, error) {
	return g.maintenance.Stats(ctx)
}

// Backup writes a timestamped copy of the database plus a stats sidecar
// into dir (the configured backup directory when dir is empty).
func (g *Graph) Backup(ctx context.Context, dir string) (*BackupInfo, error) {
	return g.maintenance.Backup(ctx, dir)
}

// Restore replaces the live database with a backup: writers are
// quiesced, the connection closed, the file swapped (keeping a .bak
// safety copy), then the connection is reopened, every manager rebuilt,
// and the cache flushed.
func (g *Graph) Restore(ctx context.Context, backupPath string) error {
	mu := g.conn.Lock()
	mu.Lock()
	defer mu.Unlock()

	if err := g.conn.Close(); err != nil {
		return err
	}
	restoreErr := g.maintenance.RestoreFiles(backupPath)

	// Reconnect even when the swap failed so the graph stays usable.
	if _, err := g.conn.Conn(ctx); err != nil {
		return err
	}
	g.rebuild()
	if restoreErr != nil {
		return restoreErr
	}
	g.coord.Flush(ctx)
	return nil
}
