package database

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carmcp/codegraph-go/internal/apptype"
	"github.com/carmcp/codegraph-go/internal/cache"
	"github.com/carmcp/codegraph-go/internal/embeddings"
	"github.com/carmcp/codegraph-go/internal/metrics"
)

// ObservationManager implements observation add/get/delete. Observations
// are immutable; there is deliberately no update operation.
type ObservationManager struct {
	conn  *ConnManager
	cfg   *Config
	cache *cache.Coordinator
	embed embeddings.Func
}

func NewObservationManager(conn *ConnManager, cfg *Config, coord *cache.Coordinator, embed embeddings.Func) *ObservationManager {
	return &ObservationManager{conn: conn, cfg: cfg, cache: coord, embed: embed}
}

// AddObservation attaches a timestamped note to an entity and touches
// the entity's updated_at. The entity must exist.
func (m *ObservationManager) AddObservation(ctx context.Context, entityID, text string, embedding []float32, props apptype.Properties) (id string, err error) {
	done := metrics.TimeOp("add_observation")
	defer func() { done(err == nil) }()

	if entityID == "" {
		return "", validationErrorf("entity id cannot be empty")
	}
	if strings.TrimSpace(text) == "" {
		return "", validationErrorf("observation text cannot be empty")
	}

	if embedding == nil && m.embed != nil {
		vec, embErr := m.embed(ctx, text)
		if embErr != nil {
			slog.Warn("failed to generate observation embedding", "entity_id", entityID, "error", embErr)
		} else {
			embedding = vec
		}
	}

	embText, err := marshalEmbedding(embedding)
	if err != nil {
		return "", validationErrorf("invalid embedding: %v", err)
	}
	propsText, err := marshalProps(props)
	if err != nil {
		return "", validationErrorf("invalid properties: %v", err)
	}

	mu := m.conn.Lock()
	mu.Lock()
	defer mu.Unlock()

	db, err := m.conn.Conn(ctx)
	if err != nil {
		return "", err
	}
	exists, err := m.parentExists(ctx, db, "add_observation", entityID)
	if err != nil {
		return "", storageErrorf("add_observation", err)
	}
	if !exists {
		return "", ErrEntityNotFound
	}

	obsID := uuid.NewString()
	now := formatTime(time.Now())

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", storageErrorf("add_observation", err)
	}
	defer tx.Rollback()

	_, err = execRetry(ctx, m.cfg, tx, "add_observation",
		`INSERT INTO observations (id, entity_id, observation, embedding, created_at, properties)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		obsID, entityID, text, embText, now, propsText)
	if err != nil {
		return "", storageErrorf("add_observation", err)
	}
	if _, err = execRetry(ctx, m.cfg, tx, "add_observation",
		"UPDATE entities SET updated_at = ? WHERE id = ?", now, entityID); err != nil {
		return "", storageErrorf("add_observation", err)
	}
	if err = tx.Commit(); err != nil {
		return "", storageErrorf("add_observation", err)
	}

	m.cache.Invalidate(ctx,
		cache.Pattern("get_entity"),
		cache.Pattern("get_entity_by_name"),
		cache.Pattern("get_observations"))
	return obsID, nil
}

// GetObservations returns an entity's observations newest first. A
// non-positive limit returns all of them. The entity must exist.
func (m *ObservationManager) GetObservations(ctx context.Context, entityID string, limit int) (obs []apptype.Observation, err error) {
	done := metrics.TimeOp("get_observations")
	defer func() { done(err == nil) }()

	if entityID == "" {
		return nil, validationErrorf("entity id cannot be empty")
	}

	key := cache.Key("get_observations", entityID, limit)
	var cached []apptype.Observation
	if m.cache.GetJSON(ctx, "get_observations", key, &cached) {
		return cached, nil
	}

	db, err := m.conn.Conn(ctx)
	if err != nil {
		return nil, err
	}
	exists, err := m.parentExists(ctx, db, "get_observations", entityID)
	if err != nil {
		return nil, storageErrorf("get_observations", err)
	}
	if !exists {
		return nil, ErrEntityNotFound
	}

	query := `SELECT id, entity_id, observation, embedding, created_at, properties
		 FROM observations WHERE entity_id = ? ORDER BY created_at DESC`
	args := []any{entityID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := queryRetry(ctx, m.cfg, db, "get_observations", query, args...)
	if err != nil {
		return nil, storageErrorf("get_observations", err)
	}
	defer rows.Close()

	obs = []apptype.Observation{}
	for rows.Next() {
		var (
			o                  apptype.Observation
			embText, propsText sql.NullString
			createdAt          string
		)
		if err := rows.Scan(&o.ID, &o.EntityID, &o.Observation, &embText, &createdAt, &propsText); err != nil {
			slog.Warn("failed to scan observation row", "error", err)
			continue
		}
		o.Embedding = unmarshalEmbedding(embText)
		o.CreatedAt = parseTime(createdAt)
		o.Properties = unmarshalProps(propsText)
		obs = append(obs, o)
	}
	if err = rows.Err(); err != nil {
		return nil, storageErrorf("get_observations", err)
	}

	m.cache.SetJSON(ctx, key, obs)
	return obs, nil
}

// DeleteObservation removes one observation and touches its parent's
// updated_at. It returns false when the id is unknown.
func (m *ObservationManager) DeleteObservation(ctx context.Context, id string) (deleted bool, err error) {
	done := metrics.TimeOp("delete_observation")
	defer func() { done(err == nil) }()

	if id == "" {
		return false, validationErrorf("observation id cannot be empty")
	}

	mu := m.conn.Lock()
	mu.Lock()
	defer mu.Unlock()

	db, err := m.conn.Conn(ctx)
	if err != nil {
		return false, err
	}

	entityID, found, err := m.parentOf(ctx, db, id)
	if err != nil {
		return false, storageErrorf("delete_observation", err)
	}
	if !found {
		return false, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, storageErrorf("delete_observation", err)
	}
	defer tx.Rollback()

	if _, err = execRetry(ctx, m.cfg, tx, "delete_observation",
		"DELETE FROM observations WHERE id = ?", id); err != nil {
		return false, storageErrorf("delete_observation", err)
	}
	if _, err = execRetry(ctx, m.cfg, tx, "delete_observation",
		"UPDATE entities SET updated_at = ? WHERE id = ?", formatTime(time.Now()), entityID); err != nil {
		return false, storageErrorf("delete_observation", err)
	}
	if err = tx.Commit(); err != nil {
		return false, storageErrorf("delete_observation", err)
	}

	m.cache.Invalidate(ctx,
		cache.Pattern("get_entity"),
		cache.Pattern("get_entity_by_name"),
		cache.Pattern("get_observations"))
	return true, nil
}

func (m *ObservationManager) parentExists(ctx context.Context, q queryContexter, op, entityID string) (bool, error) {
	rows, err := queryRetry(ctx, m.cfg, q, op, "SELECT 1 FROM entities WHERE id = ?", entityID)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

func (m *ObservationManager) parentOf(ctx context.Context, q queryContexter, obsID string) (string, bool, error) {
	rows, err := queryRetry(ctx, m.cfg, q, "delete_observation",
		"SELECT entity_id FROM observations WHERE id = ?", obsID)
	if err != nil {
		return "", false, err
	}
	defer rows.Close()
	if rows.Next() {
		var entityID string
		if err := rows.Scan(&entityID); err != nil {
			return "", false, err
		}
		return entityID, true, nil
	}
	return "", false, rows.Err()
}
