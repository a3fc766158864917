package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carmcp/codegraph-go/internal/apptype"
	"github.com/carmcp/codegraph-go/internal/cache"
	"github.com/carmcp/codegraph-go/internal/embeddings"
	"github.com/carmcp/codegraph-go/internal/metrics"
)

// EntityManager implements entity CRUD over the shared connection.
type EntityManager struct {
	conn  *ConnManager
	cfg   *Config
	cache *cache.Coordinator
	embed embeddings.Func
}

func NewEntityManager(conn *ConnManager, cfg *Config, coord *cache.Coordinator, embed embeddings.Func) *EntityManager {
	return &EntityManager{conn: conn, cfg: cfg, cache: coord, embed: embed}
}

// UpdateEntityPatch carries the fields an UpdateEntity call changes.
// Nil pointer fields are left untouched; a non-nil Embedding or
// Properties replaces the stored value wholesale.
type UpdateEntityPatch struct {
	Name       *string
	EntityType *string
	Embedding  []float32
	Properties apptype.Properties
}

// CreateEntity stores a new entity and returns its id. Creating an
// entity whose (name, entity_type) pair already exists returns the
// existing id without modifying anything. When no embedding is supplied
// and an embedding function is configured, the name is embedded
// best-effort.
func (m *EntityManager) CreateEntity(ctx context.Context, name, entityType string, embedding []float32, props apptype.Properties) (id string, err error) {
	done := metrics.TimeOp("create_entity")
	defer func() { done(err == nil) }()

	if strings.TrimSpace(name) == "" || strings.TrimSpace(entityType) == "" {
		return "", validationErrorf("entity name and entity type cannot be empty")
	}

	if embedding == nil && m.embed != nil {
		vec, embErr := m.embed(ctx, name)
		if embErr != nil {
			slog.Warn("failed to generate entity embedding", "name", name, "error", embErr)
		} else {
			embedding = vec
		}
	}

	mu := m.conn.Lock()
	mu.Lock()
	defer mu.Unlock()

	db, err := m.conn.Conn(ctx)
	if err != nil {
		return "", err
	}

	existing, err := m.findByNameAndType(ctx, db, name, entityType)
	if err != nil {
		return "", storageErrorf("create_entity", err)
	}
	if existing != "" {
		return existing, nil
	}

	ent := apptype.Entity{
		ID:         uuid.NewString(),
		Name:       name,
		EntityType: entityType,
		Embedding:  embedding,
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
		Properties: props,
	}
	embText, err := marshalEmbedding(embedding)
	if err != nil {
		return "", validationErrorf("invalid embedding: %v", err)
	}
	propsText, err := marshalProps(props)
	if err != nil {
		return "", validationErrorf("invalid properties: %v", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", storageErrorf("create_entity", err)
	}
	defer tx.Rollback()

	_, err = execRetry(ctx, m.cfg, tx, "create_entity",
		`INSERT INTO entities (id, name, entity_type, embedding, created_at, updated_at, properties)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ent.ID, ent.Name, ent.EntityType, embText, formatTime(ent.CreatedAt), formatTime(ent.UpdatedAt), propsText)
	if err != nil {
		return "", storageErrorf("create_entity", err)
	}
	if err = tx.Commit(); err != nil {
		return "", storageErrorf("create_entity", err)
	}

	// A fresh entity has no observations; cache the get shape directly.
	cached := ent
	cached.Properties = withObservations(props, []string{})
	m.cache.SetJSON(ctx, cache.Key("get_entity", ent.ID), &cached)
	m.cache.Invalidate(ctx, cache.Pattern("get_entity_by_name"), cache.Pattern("search_entities"))

	return ent.ID, nil
}

// GetEntity returns the entity with the given id, or nil when it does
// not exist. Observation texts are folded newest-first into
// Properties["observations"].
func (m *EntityManager) GetEntity(ctx context.Context, id string) (ent *apptype.Entity, err error) {
	done := metrics.TimeOp("get_entity")
	defer func() { done(err == nil) }()

	if id == "" {
		return nil, nil
	}

	key := cache.Key("get_entity", id)
	var cached apptype.Entity
	if m.cache.GetJSON(ctx, "get_entity", key, &cached) {
		normalizeObservationsFold(&cached)
		return &cached, nil
	}

	db, err := m.conn.Conn(ctx)
	if err != nil {
		return nil, err
	}
	ent, err = m.loadEntity(ctx, db, "get_entity", "id = ?", id)
	if err != nil || ent == nil {
		return ent, err
	}
	m.cache.SetJSON(ctx, key, ent)
	return ent, nil
}

// GetEntityByName returns the first entity with the given name, or nil.
func (m *EntityManager) GetEntityByName(ctx context.Context, name string) (ent *apptype.Entity, err error) {
	done := metrics.TimeOp("get_entity_by_name")
	defer func() { done(err == nil) }()

	if name == "" {
		return nil, nil
	}

	key := cache.Key("get_entity_by_name", name)
	var cached apptype.Entity
	if m.cache.GetJSON(ctx, "get_entity_by_name", key, &cached) {
		normalizeObservationsFold(&cached)
		return &cached, nil
	}

	db, err := m.conn.Conn(ctx)
	if err != nil {
		return nil, err
	}
	ent, err = m.loadEntity(ctx, db, "get_entity_by_name", "name = ?", name)
	if err != nil || ent == nil {
		return ent, err
	}
	m.cache.SetJSON(ctx, key, ent)
	return ent, nil
}

// UpdateEntity applies a partial patch and bumps updated_at. It returns
// false when no entity has the given id.
func (m *EntityManager) UpdateEntity(ctx context.Context, id string, patch UpdateEntityPatch) (updated bool, err error) {
	done := metrics.TimeOp("update_entity")
	defer func() { done(err == nil) }()

	if id == "" {
		return false, validationErrorf("entity id cannot be empty")
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return false, validationErrorf("entity name cannot be empty")
	}
	if patch.EntityType != nil && strings.TrimSpace(*patch.EntityType) == "" {
		return false, validationErrorf("entity type cannot be empty")
	}

	mu := m.conn.Lock()
	mu.Lock()
	defer mu.Unlock()

	db, err := m.conn.Conn(ctx)
	if err != nil {
		return false, err
	}
	exists, err := m.entityExists(ctx, db, "update_entity", id)
	if err != nil {
		return false, storageErrorf("update_entity", err)
	}
	if !exists {
		return false, nil
	}

	sets := []string{"updated_at = ?"}
	args := []any{formatTime(time.Now())}
	if patch.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *patch.Name)
	}
	if patch.EntityType != nil {
		sets = append(sets, "entity_type = ?")
		args = append(args, *patch.EntityType)
	}
	if patch.Embedding != nil {
		embText, mErr := marshalEmbedding(patch.Embedding)
		if mErr != nil {
			return false, validationErrorf("invalid embedding: %v", mErr)
		}
		sets = append(sets, "embedding = ?")
		args = append(args, embText)
	}
	if patch.Properties != nil {
		propsText, mErr := marshalProps(patch.Properties)
		if mErr != nil {
			return false, validationErrorf("invalid properties: %v", mErr)
		}
		sets = append(sets, "properties = ?")
		args = append(args, propsText)
	}
	args = append(args, id)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, storageErrorf("update_entity", err)
	}
	defer tx.Rollback()

	query := fmt.Sprintf("UPDATE entities SET %s WHERE id = ?", strings.Join(sets, ", "))
	if _, err = execRetry(ctx, m.cfg, tx, "update_entity", query, args...); err != nil {
		return false, storageErrorf("update_entity", err)
	}
	if err = tx.Commit(); err != nil {
		return false, storageErrorf("update_entity", err)
	}

	m.cache.Invalidate(ctx,
		cache.Pattern("get_entity"),
		cache.Pattern("get_entity_by_name"),
		cache.Pattern("search_entities"))
	return true, nil
}

// DeleteEntity removes an entity and, via foreign key cascade, its
// observations and relations. It returns false when the id is unknown.
func (m *EntityManager) DeleteEntity(ctx context.Context, id string) (deleted bool, err error) {
	done := metrics.TimeOp("delete_entity")
	defer func() { done(err == nil) }()

	if id == "" {
		return false, validationErrorf("entity id cannot be empty")
	}

	mu := m.conn.Lock()
	mu.Lock()
	defer mu.Unlock()

	db, err := m.conn.Conn(ctx)
	if err != nil {
		return false, err
	}
	exists, err := m.entityExists(ctx, db, "delete_entity", id)
	if err != nil {
		return false, storageErrorf("delete_entity", err)
	}
	if !exists {
		return false, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, storageErrorf("delete_entity", err)
	}
	defer tx.Rollback()

	if _, err = execRetry(ctx, m.cfg, tx, "delete_entity", "DELETE FROM entities WHERE id = ?", id); err != nil {
		return false, storageErrorf("delete_entity", err)
	}
	if err = tx.Commit(); err != nil {
		return false, storageErrorf("delete_entity", err)
	}

	m.cache.Invalidate(ctx,
		cache.Pattern("get_entity"),
		cache.Pattern("get_entity_by_name"),
		cache.Pattern("search_entities"),
		cache.Pattern("get_relations"),
		cache.Pattern("get_observations"))
	return true, nil
}

func (m *EntityManager) findByNameAndType(ctx context.Context, q queryContexter, name, entityType string) (string, error) {
	rows, err := queryRetry(ctx, m.cfg, q, "create_entity",
		"SELECT id FROM entities WHERE name = ? AND entity_type = ? LIMIT 1", name, entityType)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	if rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", err
		}
		return id, nil
	}
	return "", rows.Err()
}

func (m *EntityManager) entityExists(ctx context.Context, q queryContexter, op, id string) (bool, error) {
	rows, err := queryRetry(ctx, m.cfg, q, op, "SELECT 1 FROM entities WHERE id = ?", id)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

// loadEntity fetches one entity by the given predicate and folds its
// observation texts, newest first, into Properties["observations"].
func (m *EntityManager) loadEntity(ctx context.Context, db *sql.DB, op, where string, arg any) (*apptype.Entity, error) {
	query := fmt.Sprintf(
		"SELECT id, name, entity_type, embedding, created_at, updated_at, properties FROM entities WHERE %s LIMIT 1", where)
	rows, err := queryRetry(ctx, m.cfg, db, op, query, arg)
	if err != nil {
		return nil, storageErrorf(op, err)
	}

	var ent *apptype.Entity
	if rows.Next() {
		ent, err = scanEntity(rows)
	}
	if err == nil {
		err = rows.Err()
	}
	// The single pooled connection must be released before the
	// observation query below can run.
	rows.Close()
	if err != nil {
		return nil, storageErrorf(op, err)
	}
	if ent == nil {
		return nil, nil
	}

	texts, err := m.observationTexts(ctx, db, op, ent.ID)
	if err != nil {
		slog.Warn("failed to load entity observations", "entity_id", ent.ID, "error", err)
	} else {
		ent.Properties = withObservations(ent.Properties, texts)
	}
	return ent, nil
}

func (m *EntityManager) observationTexts(ctx context.Context, db *sql.DB, op, entityID string) ([]string, error) {
	rows, err := queryRetry(ctx, m.cfg, db, op,
		"SELECT observation FROM observations WHERE entity_id = ? ORDER BY created_at DESC", entityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	texts := []string{}
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			slog.Warn("failed to scan observation row", "error", err)
			continue
		}
		texts = append(texts, text)
	}
	return texts, rows.Err()
}

func scanEntity(rows *sql.Rows) (*apptype.Entity, error) {
	var (
		ent                  apptype.Entity
		embText, propsText   sql.NullString
		createdAt, updatedAt string
	)
	if err := rows.Scan(&ent.ID, &ent.Name, &ent.EntityType, &embText, &createdAt, &updatedAt, &propsText); err != nil {
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}
	ent.Embedding = unmarshalEmbedding(embText)
	ent.CreatedAt = parseTime(createdAt)
	ent.UpdatedAt = parseTime(updatedAt)
	ent.Properties = unmarshalProps(propsText)
	return &ent, nil
}

// withObservations copies props and sets the folded observation list,
// leaving the caller's map untouched.
func withObservations(props apptype.Properties, texts []string) apptype.Properties {
	out := make(apptype.Properties, len(props)+1)
	for k, v := range props {
		out[k] = v
	}
	out["observations"] = texts
	return out
}

// normalizeObservationsFold rewrites a JSON-decoded observation fold
// back to []string so warm and cold reads return the same shape.
func normalizeObservationsFold(ent *apptype.Entity) {
	raw, ok := ent.Properties["observations"]
	if !ok {
		return
	}
	if _, ok := raw.([]string); ok {
		return
	}
	items, ok := raw.([]any)
	if !ok {
		return
	}
	texts := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			texts = append(texts, s)
		}
	}
	ent.Properties["observations"] = texts
}
