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
	"github.com/carmcp/codegraph-go/internal/metrics"
)

// Relation query directions.
const (
	DirectionOutgoing = "outgoing"
	DirectionIncoming = "incoming"
	DirectionBoth     = "both"
)

// RelationManager implements relation CRUD over the shared connection.
type RelationManager struct {
	conn  *ConnManager
	cfg   *Config
	cache *cache.Coordinator
}

func NewRelationManager(conn *ConnManager, cfg *Config, coord *cache.Coordinator) *RelationManager {
	return &RelationManager{conn: conn, cfg: cfg, cache: coord}
}

// CreateRelation stores a directed edge between two existing entities
// and returns its id. The (from, to, relation_type) triple is
// deduplicated: recreating it returns the existing id. Confidence must
// be in [0, 1]; validation happens before any storage access, so a
// rejected call leaves the graph untouched. Self-referential relations
// are allowed.
func (m *RelationManager) CreateRelation(ctx context.Context, fromID, toID, relationType string, confidence float64, props apptype.Properties) (id string, err error) {
	done := metrics.TimeOp("create_relation")
	defer func() { done(err == nil) }()

	if fromID == "" || toID == "" {
		return "", validationErrorf("relation endpoints cannot be empty")
	}
	if strings.TrimSpace(relationType) == "" {
		return "", validationErrorf("relation type cannot be empty")
	}
	if confidence < 0 || confidence > 1 {
		return "", validationErrorf("confidence must be between 0 and 1, got %v", confidence)
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

	for _, endpoint := range []string{fromID, toID} {
		exists, exErr := m.endpointExists(ctx, db, endpoint)
		if exErr != nil {
			return "", storageErrorf("create_relation", exErr)
		}
		if !exists {
			return "", ErrEntityNotFound
		}
	}

	existing, err := m.findTriple(ctx, db, fromID, toID, relationType)
	if err != nil {
		return "", storageErrorf("create_relation", err)
	}
	if existing != "" {
		return existing, nil
	}

	relID := uuid.NewString()
	now := formatTime(time.Now())

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return "", storageErrorf("create_relation", err)
	}
	defer tx.Rollback()

	_, err = execRetry(ctx, m.cfg, tx, "create_relation",
		`INSERT INTO relations (id, from_entity_id, to_entity_id, relation_type, confidence, created_at, properties)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		relID, fromID, toID, relationType, confidence, now, propsText)
	if err != nil {
		return "", storageErrorf("create_relation", err)
	}
	if _, err = execRetry(ctx, m.cfg, tx, "create_relation",
		"UPDATE entities SET updated_at = ? WHERE id IN (?, ?)", now, fromID, toID); err != nil {
		return "", storageErrorf("create_relation", err)
	}
	if err = tx.Commit(); err != nil {
		return "", storageErrorf("create_relation", err)
	}

	m.cache.Invalidate(ctx,
		cache.Pattern("get_relations"),
		cache.Pattern("get_entity"),
		cache.Pattern("get_entity_by_name"))
	return relID, nil
}

// GetRelations returns the relations touching an entity, joined with
// endpoint names. Direction is one of outgoing, incoming, or both; an
// unknown entity yields an empty slice.
func (m *RelationManager) GetRelations(ctx context.Context, entityID, direction, relationType string) (infos []apptype.RelationInfo, err error) {
	done := metrics.TimeOp("get_relations")
	defer func() { done(err == nil) }()

	if entityID == "" {
		return nil, validationErrorf("entity id cannot be empty")
	}
	if direction == "" {
		direction = DirectionBoth
	}
	switch direction {
	case DirectionOutgoing, DirectionIncoming, DirectionBoth:
	default:
		return nil, validationErrorf("direction must be outgoing, incoming, or both, got %q", direction)
	}

	key := cache.Key("get_relations", entityID, direction, relationType)
	var cached []apptype.RelationInfo
	if m.cache.GetJSON(ctx, "get_relations", key, &cached) {
		return cached, nil
	}

	db, err := m.conn.Conn(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT r.id, r.from_entity_id, r.to_entity_id, r.relation_type, r.confidence,
			r.created_at, r.properties, ef.name, et.name
		FROM relations r
		JOIN entities ef ON ef.id = r.from_entity_id
		JOIN entities et ON et.id = r.to_entity_id`
	var (
		conds []string
		args  []any
	)
	switch direction {
	case DirectionOutgoing:
		conds = append(conds, "r.from_entity_id = ?")
		args = append(args, entityID)
	case DirectionIncoming:
		conds = append(conds, "r.to_entity_id = ?")
		args = append(args, entityID)
	case DirectionBoth:
		conds = append(conds, "(r.from_entity_id = ? OR r.to_entity_id = ?)")
		args = append(args, entityID, entityID)
	}
	if relationType != "" {
		conds = append(conds, "r.relation_type = ?")
		args = append(args, relationType)
	}
	query += " WHERE " + strings.Join(conds, " AND ") + " ORDER BY r.created_at DESC"

	rows, err := queryRetry(ctx, m.cfg, db, "get_relations", query, args...)
	if err != nil {
		return nil, storageErrorf("get_relations", err)
	}
	defer rows.Close()

	infos = []apptype.RelationInfo{}
	for rows.Next() {
		var (
			info      apptype.RelationInfo
			propsText sql.NullString
			createdAt string
		)
		if err := rows.Scan(&info.ID, &info.FromEntityID, &info.ToEntityID, &info.RelationType,
			&info.Confidence, &createdAt, &propsText, &info.FromEntityName, &info.ToEntityName); err != nil {
			slog.Warn("failed to scan relation row", "error", err)
			continue
		}
		info.CreatedAt = parseTime(createdAt)
		info.Properties = unmarshalProps(propsText)
		if info.FromEntityID == entityID {
			info.Direction = DirectionOutgoing
		} else {
			info.Direction = DirectionIncoming
		}
		infos = append(infos, info)
	}
	if err = rows.Err(); err != nil {
		return nil, storageErrorf("get_relations", err)
	}

	m.cache.SetJSON(ctx, key, infos)
	return infos, nil
}

// DeleteRelation removes one relation and touches both endpoints'
// updated_at. It returns false when the id is unknown.
func (m *RelationManager) DeleteRelation(ctx context.Context, id string) (deleted bool, err error) {
	done := metrics.TimeOp("delete_relation")
	defer func() { done(err == nil) }()

	if id == "" {
		return false, validationErrorf("relation id cannot be empty")
	}

	mu := m.conn.Lock()
	mu.Lock()
	defer mu.Unlock()

	db, err := m.conn.Conn(ctx)
	if err != nil {
		return false, err
	}

	fromID, toID, found, err := m.endpointsOf(ctx, db, id)
	if err != nil {
		return false, storageErrorf("delete_relation", err)
	}
	if !found {
		return false, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, storageErrorf("delete_relation", err)
	}
	defer tx.Rollback()

	if _, err = execRetry(ctx, m.cfg, tx, "delete_relation",
		"DELETE FROM relations WHERE id = ?", id); err != nil {
		return false, storageErrorf("delete_relation", err)
	}
	if _, err = execRetry(ctx, m.cfg, tx, "delete_relation",
		"UPDATE entities SET updated_at = ? WHERE id IN (?, ?)",
		formatTime(time.Now()), fromID, toID); err != nil {
		return false, storageErrorf("delete_relation", err)
	}
	if err = tx.Commit(); err != nil {
		return false, storageErrorf("delete_relation", err)
	}

	m.cache.Invalidate(ctx,
		cache.Pattern("get_relations"),
		cache.Pattern("get_entity"),
		cache.Pattern("get_entity_by_name"))
	return true, nil
}

func (m *RelationManager) endpointExists(ctx context.Context, q queryContexter, entityID string) (bool, error) {
	rows, err := queryRetry(ctx, m.cfg, q, "create_relation", "SELECT 1 FROM entities WHERE id = ?", entityID)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

func (m *RelationManager) findTriple(ctx context.Context, q queryContexter, fromID, toID, relationType string) (string, error) {
	rows, err := queryRetry(ctx, m.cfg, q, "create_relation",
		"SELECT id FROM relations WHERE from_entity_id = ? AND to_entity_id = ? AND relation_type = ? LIMIT 1",
		fromID, toID, relationType)
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

func (m *RelationManager) endpointsOf(ctx context.Context, q queryContexter, relID string) (string, string, bool, error) {
	rows, err := queryRetry(ctx, m.cfg, q, "delete_relation",
		"SELECT from_entity_id, to_entity_id FROM relations WHERE id = ?", relID)
	if err != nil {
		return "", "", false, err
	}
	defer rows.Close()
	if rows.Next() {
		var fromID, toID string
		if err := rows.Scan(&fromID, &toID); err != nil {
			return "", "", false, err
		}
		return fromID, toID, true, nil
	}
	return "", "", false, rows.Err()
}
