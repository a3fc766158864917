package database

import (
	"context"
	"database/sql"
	"log/slog"
	"sort"
	"strings"

	"github.com/carmcp/codegraph-go/internal/apptype"
	"github.com/carmcp/codegraph-go/internal/cache"
	"github.com/carmcp/codegraph-go/internal/embeddings"
	"github.com/carmcp/codegraph-go/internal/metrics"
)

// Text-match score tiers.
const (
	scoreExact     = 1.0
	scorePrefix    = 0.8
	scoreSubstring = 0.6
	scoreOther     = 0.4
)

// DefaultSearchLimit caps results when the caller does not.
const DefaultSearchLimit = 10

// SearchOptions narrows and bounds a search.
type SearchOptions struct {
	// EntityType restricts hits to one type when non-empty.
	EntityType string
	// Limit caps the result count; non-positive means DefaultSearchLimit.
	Limit int
	// MinSimilarity drops hits scoring below it.
	MinSimilarity float64
}

// SearchManager ranks entities against a text query, blending tiered
// name matching with embedding similarity when vectors are available.
type SearchManager struct {
	conn  *ConnManager
	cfg   *Config
	cache *cache.Coordinator
	embed embeddings.Func
}

func NewSearchManager(conn *ConnManager, cfg *Config, coord *cache.Coordinator, embed embeddings.Func) *SearchManager {
	return &SearchManager{conn: conn, cfg: cfg, cache: coord, embed: embed}
}

// SearchEntities returns entities ranked by similarity to query,
// descending, truncated to the limit. Name matches score by tier
// (exact 1.0, prefix 0.8, substring 0.6, other 0.4); when both a query
// embedding and a stored embedding exist, the clamped dot product can
// lift a hit above its text tier. An empty query returns no hits.
func (m *SearchManager) SearchEntities(ctx context.Context, query string, opts SearchOptions) (hits []apptype.SearchHit, err error) {
	done := metrics.TimeOp("search_entities")
	defer func() { done(err == nil) }()

	query = strings.TrimSpace(query)
	if query == "" {
		return []apptype.SearchHit{}, nil
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultSearchLimit
	}

	key := cache.Key("search_entities", query, opts.EntityType, opts.Limit, opts.MinSimilarity)
	var cached []apptype.SearchHit
	if m.cache.GetJSON(ctx, "search_entities", key, &cached) {
		return cached, nil
	}

	db, err := m.conn.Conn(ctx)
	if err != nil {
		return nil, err
	}

	var queryVec []float32
	if m.embed != nil {
		vec, embErr := m.embed(ctx, query)
		if embErr != nil {
			slog.Warn("failed to embed search query", "error", embErr)
		} else {
			queryVec = vec
		}
	}

	candidates, err := m.textCandidates(ctx, db, query, opts.EntityType)
	if err != nil {
		return nil, storageErrorf("search_entities", err)
	}

	// Widen to embedded rows when vector search can contribute and the
	// text match alone came up short.
	if queryVec != nil && len(candidates) < opts.Limit {
		extra, widenErr := m.embeddedCandidates(ctx, db, opts.EntityType, candidateIDs(candidates))
		if widenErr != nil {
			return nil, storageErrorf("search_entities", widenErr)
		}
		candidates = append(candidates, extra...)
	}

	lowerQuery := strings.ToLower(query)
	hits = []apptype.SearchHit{}
	for _, c := range candidates {
		score := scoreOther
		if c.textMatch {
			score = textScore(strings.ToLower(c.hit.Name), lowerQuery)
		}
		if queryVec != nil && len(c.embedding) > 0 {
			if vs := clamp01(dotProduct(queryVec, c.embedding)); vs > score {
				score = vs
			}
		}
		if score < opts.MinSimilarity {
			continue
		}
		hit := c.hit
		hit.Similarity = score
		hits = append(hits, hit)
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > opts.Limit {
		hits = hits[:opts.Limit]
	}

	m.cache.SetJSON(ctx, key, hits)
	return hits, nil
}

type searchCandidate struct {
	hit       apptype.SearchHit
	embedding []float32
	textMatch bool
}

const searchSelect = `SELECT e.id, e.name, e.entity_type, e.embedding, e.created_at, e.updated_at, e.properties,
	(SELECT COUNT(*) FROM observations o WHERE o.entity_id = e.id) AS observation_count
	FROM entities e`

func (m *SearchManager) textCandidates(ctx context.Context, db *sql.DB, query, entityType string) ([]searchCandidate, error) {
	sqlQuery := searchSelect + " WHERE e.name LIKE ?"
	args := []any{"%" + query + "%"}
	if entityType != "" {
		sqlQuery += " AND e.entity_type = ?"
		args = append(args, entityType)
	}
	return m.scanCandidates(ctx, db, sqlQuery, args, true)
}

func (m *SearchManager) embeddedCandidates(ctx context.Context, db *sql.DB, entityType string, exclude map[string]bool) ([]searchCandidate, error) {
	sqlQuery := searchSelect + " WHERE e.embedding IS NOT NULL AND e.embedding != ''"
	args := []any{}
	if entityType != "" {
		sqlQuery += " AND e.entity_type = ?"
		args = append(args, entityType)
	}
	all, err := m.scanCandidates(ctx, db, sqlQuery, args, false)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, c := range all {
		if !exclude[c.hit.ID] {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *SearchManager) scanCandidates(ctx context.Context, db *sql.DB, query string, args []any, textMatch bool) ([]searchCandidate, error) {
	rows, err := queryRetry(ctx, m.cfg, db, "search_entities", query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []searchCandidate
	for rows.Next() {
		var (
			c                    searchCandidate
			embText, propsText   sql.NullString
			createdAt, updatedAt string
		)
		if err := rows.Scan(&c.hit.ID, &c.hit.Name, &c.hit.EntityType, &embText,
			&createdAt, &updatedAt, &propsText, &c.hit.ObservationCount); err != nil {
			slog.Warn("failed to scan search row", "error", err)
			continue
		}
		c.hit.CreatedAt = parseTime(createdAt)
		c.hit.UpdatedAt = parseTime(updatedAt)
		c.hit.Properties = unmarshalProps(propsText)
		c.embedding = unmarshalEmbedding(embText)
		c.textMatch = textMatch
		out = append(out, c)
	}
	return out, rows.Err()
}

func candidateIDs(cands []searchCandidate) map[string]bool {
	ids := make(map[string]bool, len(cands))
	for _, c := range cands {
		ids[c.hit.ID] = true
	}
	return ids
}

func textScore(lowerName, lowerQuery string) float64 {
	switch {
	case lowerName == lowerQuery:
		return scoreExact
	case strings.HasPrefix(lowerName, lowerQuery):
		return scorePrefix
	case strings.Contains(lowerName, lowerQuery):
		return scoreSubstring
	default:
		return scoreOther
	}
}

func dotProduct(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
