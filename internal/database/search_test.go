package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchEntitiesTiers(t *testing.T) {
	m := setupManagers(t)
	ctx := context.Background()

	m.mustCreateEntity(t, "parser", "module")
	m.mustCreateEntity(t, "parser-combinator", "module")
	m.mustCreateEntity(t, "json-parser", "module")
	m.mustCreateEntity(t, "renderer", "module")

	hits, err := m.search.SearchEntities(ctx, "parser", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, "parser", hits[0].Name)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-9)
	assert.Equal(t, "parser-combinator", hits[1].Name)
	assert.InDelta(t, 0.8, hits[1].Similarity, 1e-9)
	assert.Equal(t, "json-parser", hits[2].Name)
	assert.InDelta(t, 0.6, hits[2].Similarity, 1e-9)
}

func TestSearchEntitiesCaseInsensitive(t *testing.T) {
	m := setupManagers(t)
	ctx := context.Background()

	m.mustCreateEntity(t, "Parser", "module")
	hits, err := m.search.SearchEntities(ctx, "parser", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-9)
}

func TestSearchEntitiesTypeFilter(t *testing.T) {
	m := setupManagers(t)
	ctx := context.Background()

	m.mustCreateEntity(t, "parser", "module")
	m.mustCreateEntity(t, "parser", "concept")

	hits, err := m.search.SearchEntities(ctx, "parser", SearchOptions{EntityType: "concept"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "concept", hits[0].EntityType)
}

func TestSearchEntitiesLimitAndMinSimilarity(t *testing.T) {
	m := setupManagers(t)
	ctx := context.Background()

	m.mustCreateEntity(t, "cache", "module")
	m.mustCreateEntity(t, "cache-layer", "module")
	m.mustCreateEntity(t, "redis-cache", "module")

	hits, err := m.search.SearchEntities(ctx, "cache", SearchOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	// Substring tier (0.6) is dropped by the threshold.
	hits, err = m.search.SearchEntities(ctx, "cache", SearchOptions{MinSimilarity: 0.7})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	for _, h := range hits {
		assert.GreaterOrEqual(t, h.Similarity, 0.7)
	}
}

func TestSearchEntitiesEmptyQuery(t *testing.T) {
	m := setupManagers(t)

	hits, err := m.search.SearchEntities(context.Background(), "   ", SearchOptions{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchEntitiesObservationCount(t *testing.T) {
	m := setupManagers(t)
	ctx := context.Background()

	id := m.mustCreateEntity(t, "observed", "module")
	m.mustCreateEntity(t, "observed-too", "module")
	for i := 0; i < 3; i++ {
		_, err := m.observations.AddObservation(ctx, id, "note", nil, nil)
		require.NoError(t, err)
	}

	hits, err := m.search.SearchEntities(ctx, "observed", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, 3, hits[0].ObservationCount)
	assert.Equal(t, 0, hits[1].ObservationCount)
}

func TestSearchEntitiesVectorBlend(t *testing.T) {
	// The embedding function maps known texts to fixed unit vectors so
	// dot products are predictable.
	vectors := map[string][]float32{
		"semantic query": {1, 0},
		"aligned":        {1, 0},
		"orthogonal":     {0, 1},
	}
	embed := func(ctx context.Context, text string) ([]float32, error) {
		return vectors[text], nil
	}
	m := newManagers(t, memoryConfig(), nil, embed)
	ctx := context.Background()

	// Neither name matches the query text, so without vectors they would
	// not surface at all.
	alignedID, err := m.entities.CreateEntity(ctx, "aligned", "module", nil, nil)
	require.NoError(t, err)
	_, err = m.entities.CreateEntity(ctx, "orthogonal", "module", nil, nil)
	require.NoError(t, err)

	hits, err := m.search.SearchEntities(ctx, "semantic query", SearchOptions{MinSimilarity: 0.5})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, alignedID, hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
}

func TestSearchEntitiesVectorLiftsTextTier(t *testing.T) {
	vectors := map[string][]float32{
		"cache": {1, 0},
	}
	embed := func(ctx context.Context, text string) ([]float32, error) {
		if v, ok := vectors[text]; ok {
			return v, nil
		}
		return []float32{1, 0}, nil
	}
	m := newManagers(t, memoryConfig(), nil, embed)
	ctx := context.Background()

	// Substring tier alone scores 0.6; the perfectly aligned embedding
	// lifts it to 1.0.
	_, err := m.entities.CreateEntity(ctx, "redis-cache", "module", nil, nil)
	require.NoError(t, err)

	hits, err := m.search.SearchEntities(ctx, "cache", SearchOptions{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
}

func TestTextScore(t *testing.T) {
	assert.InDelta(t, scoreExact, textScore("parser", "parser"), 1e-9)
	assert.InDelta(t, scorePrefix, textScore("parser-combinator", "parser"), 1e-9)
	assert.InDelta(t, scoreSubstring, textScore("json-parser", "parser"), 1e-9)
	assert.InDelta(t, scoreOther, textScore("renderer", "parser"), 1e-9)
}

func TestDotProductClamp(t *testing.T) {
	assert.InDelta(t, 1.0, clamp01(dotProduct([]float32{1, 1}, []float32{1, 1})), 1e-9)
	assert.InDelta(t, 0.0, clamp01(dotProduct([]float32{1, 0}, []float32{-1, 0})), 1e-9)
	assert.InDelta(t, 0.5, clamp01(dotProduct([]float32{0.5, 0.5}, []float32{1, 0})), 1e-6)
	// Mismatched lengths use the shorter vector.
	assert.InDelta(t, 1.0, dotProduct([]float32{1}, []float32{1, 1}), 1e-9)
}
