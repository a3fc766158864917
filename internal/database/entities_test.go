package database

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carmcp/codegraph-go/internal/apptype"
)

func TestCreateAndGetEntity(t *testing.T) {
	m := setupManagers(t)
	ctx := context.Background()

	id, err := m.entities.CreateEntity(ctx, "auth-service", "service", []float32{0.1, 0.2}, apptype.Properties{"lang": "go"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	ent, err := m.entities.GetEntity(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, ent)
	assert.Equal(t, id, ent.ID)
	assert.Equal(t, "auth-service", ent.Name)
	assert.Equal(t, "service", ent.EntityType)
	assert.Equal(t, []float32{0.1, 0.2}, ent.Embedding)
	assert.Equal(t, "go", ent.Properties["lang"])
	assert.False(t, ent.CreatedAt.IsZero())
	assert.False(t, ent.UpdatedAt.IsZero())
	// The observation fold is present even when empty.
	assert.Contains(t, ent.Properties, "observations")
}

func TestCreateEntityValidation(t *testing.T) {
	m := setupManagers(t)
	ctx := context.Background()

	var vErr *ValidationError
	_, err := m.entities.CreateEntity(ctx, "", "service", nil, nil)
	require.ErrorAs(t, err, &vErr)

	_, err = m.entities.CreateEntity(ctx, "name", "  ", nil, nil)
	require.ErrorAs(t, err, &vErr)
}

func TestCreateEntityDedup(t *testing.T) {
	m := setupManagers(t)
	ctx := context.Background()

	id1, err := m.entities.CreateEntity(ctx, "parser", "module", nil, nil)
	require.NoError(t, err)
	id2, err := m.entities.CreateEntity(ctx, "parser", "module", nil, apptype.Properties{"ignored": true})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	// Same name with a different type is a distinct entity.
	id3, err := m.entities.CreateEntity(ctx, "parser", "concept", nil, nil)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestGetEntityMissingReturnsNil(t *testing.T) {
	m := setupManagers(t)
	ctx := context.Background()

	ent, err := m.entities.GetEntity(ctx, "does-not-exist")
	require.NoError(t, err)
	assert.Nil(t, ent)

	ent, err = m.entities.GetEntity(ctx, "")
	require.NoError(t, err)
	assert.Nil(t, ent)
}

func TestGetEntityByName(t *testing.T) {
	m := setupManagers(t)
	ctx := context.Background()

	id := m.mustCreateEntity(t, "cache-layer", "component")

	ent, err := m.entities.GetEntityByName(ctx, "cache-layer")
	require.NoError(t, err)
	require.NotNil(t, ent)
	assert.Equal(t, id, ent.ID)

	ent, err = m.entities.GetEntityByName(ctx, "no-such-name")
	require.NoError(t, err)
	assert.Nil(t, ent)
}

func TestGetEntityFoldsObservationsNewestFirst(t *testing.T) {
	m := setupManagers(t)
	ctx := context.Background()

	id := m.mustCreateEntity(t, "scheduler", "service")
	for _, text := range []string{"first note", "second note", "third note"} {
		_, err := m.observations.AddObservation(ctx, id, text, nil, nil)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	ent, err := m.entities.GetEntity(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, ent)

	folded, ok := ent.Properties["observations"].([]string)
	require.True(t, ok)
	assert.Equal(t, []string{"third note", "second note", "first note"}, folded)
}

// Entity reads issue a second query for the observation fold over the
// same single-connection pool; a cold read must finish rather than
// block waiting on itself.
func TestGetEntityColdReadCompletes(t *testing.T) {
	m := setupManagers(t)
	ctx := context.Background()

	id := m.mustCreateEntity(t, "cold-read", "service")
	_, err := m.observations.AddObservation(ctx, id, "loaded alongside the entity", nil, nil)
	require.NoError(t, err)

	type result struct {
		ent *apptype.Entity
		err error
	}
	results := make(chan result, 2)
	go func() {
		ent, err := m.entities.GetEntity(ctx, id)
		results <- result{ent, err}
		ent, err = m.entities.GetEntityByName(ctx, "cold-read")
		results <- result{ent, err}
	}()

	for i := 0; i < 2; i++ {
		select {
		case r := <-results:
			require.NoError(t, r.err)
			require.NotNil(t, r.ent)
			assert.Equal(t, []string{"loaded alongside the entity"}, r.ent.Properties["observations"])
		case <-time.After(10 * time.Second):
			t.Fatal("entity read blocked on the single connection")
		}
	}
}

func TestUpdateEntity(t *testing.T) {
	m := setupManagers(t)
	ctx := context.Background()

	id := m.mustCreateEntity(t, "old-name", "service")
	before, err := m.entities.GetEntity(ctx, id)
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	newName := "new-name"
	updated, err := m.entities.UpdateEntity(ctx, id, UpdateEntityPatch{
		Name:       &newName,
		Properties: apptype.Properties{"owner": "infra"},
	})
	require.NoError(t, err)
	assert.True(t, updated)

	after, err := m.entities.GetEntity(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, after)
	assert.Equal(t, "new-name", after.Name)
	assert.Equal(t, "service", after.EntityType)
	assert.Equal(t, "infra", after.Properties["owner"])
	assert.True(t, after.UpdatedAt.After(before.UpdatedAt))
}

func TestUpdateEntityMissingReturnsFalse(t *testing.T) {
	m := setupManagers(t)

	name := "whatever"
	updated, err := m.entities.UpdateEntity(context.Background(), "missing-id", UpdateEntityPatch{Name: &name})
	require.NoError(t, err)
	assert.False(t, updated)
}

func TestDeleteEntityCascades(t *testing.T) {
	m := setupManagers(t)
	ctx := context.Background()

	a := m.mustCreateEntity(t, "a", "t")
	b := m.mustCreateEntity(t, "b", "t")
	obsID, err := m.observations.AddObservation(ctx, a, "note", nil, nil)
	require.NoError(t, err)
	relID, err := m.relations.CreateRelation(ctx, a, b, "depends_on", 0.9, nil)
	require.NoError(t, err)

	deleted, err := m.entities.DeleteEntity(ctx, a)
	require.NoError(t, err)
	assert.True(t, deleted)

	ent, err := m.entities.GetEntity(ctx, a)
	require.NoError(t, err)
	assert.Nil(t, ent)

	// Cascade removed the attached observation and relation.
	gone, err := m.observations.DeleteObservation(ctx, obsID)
	require.NoError(t, err)
	assert.False(t, gone)
	gone, err = m.relations.DeleteRelation(ctx, relID)
	require.NoError(t, err)
	assert.False(t, gone)

	// The surviving endpoint is untouched.
	ent, err = m.entities.GetEntity(ctx, b)
	require.NoError(t, err)
	assert.NotNil(t, ent)
}

func TestDeleteEntityMissingReturnsFalse(t *testing.T) {
	m := setupManagers(t)

	deleted, err := m.entities.DeleteEntity(context.Background(), "missing-id")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestCreateEntityUsesEmbeddingFunc(t *testing.T) {
	embedded := []string{}
	embed := func(ctx context.Context, text string) ([]float32, error) {
		embedded = append(embedded, text)
		return []float32{0.5, 0.5}, nil
	}
	m := newManagers(t, memoryConfig(), nil, embed)
	ctx := context.Background()

	id, err := m.entities.CreateEntity(ctx, "indexer", "service", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"indexer"}, embedded)

	ent, err := m.entities.GetEntity(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, ent.Embedding)
}

func TestCreateEntityEmbeddingFailureIsNotFatal(t *testing.T) {
	embed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("embedding backend down")
	}
	m := newManagers(t, memoryConfig(), nil, embed)

	id, err := m.entities.CreateEntity(context.Background(), "indexer", "service", nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, id)
}

func TestConcurrentCreatesNoLostWrites(t *testing.T) {
	m := newManagers(t, fileConfig(t), nil, nil)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = m.entities.CreateEntity(ctx, fmt.Sprintf("entity-%d", i), "worker", nil, nil)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		ent, err := m.entities.GetEntity(ctx, ids[i])
		require.NoError(t, err)
		require.NotNil(t, ent, "entity %d lost", i)
	}

	stats, err := m.maintenance.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(n), stats.EntityCount)
}
