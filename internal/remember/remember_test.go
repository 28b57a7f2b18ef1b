package remember

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/claudia-memory/claudia/internal/storage"
	"github.com/claudia-memory/claudia/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := sqlite.Open(context.Background(), storage.Config{
		Path:                dbPath,
		EmbeddingDimensions: 8,
		EmbeddingModel:      "test-model",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRememberFactDedupesByContent(t *testing.T) {
	store := newTestStore(t)
	svc := New(store, nil)
	ctx := context.Background()

	in := FactInput{Content: "Sarah prefers async standups", Type: "preference"}

	first, err := svc.RememberFact(ctx, in)
	require.NoError(t, err)

	second, err := svc.RememberFact(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, first.Memory.ID, second.Memory.ID)

	memories, err := store.AllMemoriesAboveImportance(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, memories, 1)
}

func TestRememberFactLinksAboutEntities(t *testing.T) {
	store := newTestStore(t)
	svc := New(store, nil)
	ctx := context.Background()

	result, err := svc.RememberFact(ctx, FactInput{
		Content:       "Maria is leading the Phoenix migration",
		Type:          "fact",
		AboutEntities: []string{"Maria Gomez"},
	})
	require.NoError(t, err)

	linked, err := store.MemoriesForEntity(ctx, mustResolveEntityID(t, ctx, store, "Maria Gomez"), 10)
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, result.Memory.ID, linked[0].ID)
}

func TestRememberEntityIsIdempotentByCanonicalName(t *testing.T) {
	store := newTestStore(t)
	svc := New(store, nil)
	ctx := context.Background()

	first, err := svc.RememberEntity(ctx, EntityInput{Name: "Acme Corp", Type: "organization"})
	require.NoError(t, err)

	second, err := svc.RememberEntity(ctx, EntityInput{Name: "Acme Corp", Type: "organization", Description: "a client"})
	require.NoError(t, err)

	assert.Equal(t, first.Entity.ID, second.Entity.ID)

	refetched, err := store.GetEntity(ctx, second.Entity.ID)
	require.NoError(t, err)
	assert.Equal(t, "a client", refetched.Description)
}

func TestRelateEntitiesCreatesRelationship(t *testing.T) {
	store := newTestStore(t)
	svc := New(store, nil)
	ctx := context.Background()

	_, err := svc.RelateEntities(ctx, RelateInput{
		SourceName:       "Maria Gomez",
		TargetName:       "Acme Corp",
		RelationshipType: "works_at",
	})
	require.NoError(t, err)

	entityID := mustResolveEntityID(t, ctx, store, "Maria Gomez")
	rels, err := store.CurrentRelationshipsForEntity(ctx, entityID, false)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "works_at", rels[0].Type)
}

func TestAutoCreatedEndpointsArePersons(t *testing.T) {
	store := newTestStore(t)
	svc := New(store, nil)
	ctx := context.Background()

	_, err := svc.RelateEntities(ctx, RelateInput{
		SourceName: "Dana Whitfield", TargetName: "Omar Haddad", RelationshipType: "works_with",
	})
	require.NoError(t, err)

	for _, name := range []string{"Dana Whitfield", "Omar Haddad"} {
		entities, err := store.SearchEntities(ctx, name, nil, 1)
		require.NoError(t, err)
		require.NotEmpty(t, entities)
		assert.Equal(t, "person", entities[0].Type)
	}
}

func TestRelateEntitiesStrengthensOnRepeat(t *testing.T) {
	store := newTestStore(t)
	svc := New(store, nil)
	ctx := context.Background()

	first, err := svc.RelateEntities(ctx, RelateInput{
		SourceName: "Maria Gomez", TargetName: "Acme Corp",
		RelationshipType: "works_with", Strength: 0.5,
	})
	require.NoError(t, err)

	second, err := svc.RelateEntities(ctx, RelateInput{
		SourceName: "Maria Gomez", TargetName: "Acme Corp",
		RelationshipType: "works_with",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "re-observing strengthens in place")
	assert.InDelta(t, 0.6, second.Strength, 1e-9)
}

func TestRelateEntitiesSupersedeClosesOldTarget(t *testing.T) {
	store := newTestStore(t)
	svc := New(store, nil)
	ctx := context.Background()

	_, err := svc.RelateEntities(ctx, RelateInput{
		SourceName: "Sarah Chen", TargetName: "Acme Corp", RelationshipType: "works_at",
	})
	require.NoError(t, err)

	_, err = svc.RelateEntities(ctx, RelateInput{
		SourceName: "Sarah Chen", TargetName: "Beta Corp", RelationshipType: "works_at",
		Supersedes: true,
	})
	require.NoError(t, err)

	sarahID := mustResolveEntityID(t, ctx, store, "Sarah Chen")
	current, err := store.CurrentRelationshipsForEntity(ctx, sarahID, false)
	require.NoError(t, err)
	require.Len(t, current, 1, "exactly one current works_at survives")

	betaID := mustResolveEntityID(t, ctx, store, "Beta Corp")
	assert.Equal(t, betaID, current[0].TargetID)

	all, err := store.CurrentRelationshipsForEntity(ctx, sarahID, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, r := range all {
		if r.InvalidAt != nil {
			assert.Contains(t, r.Type, "__superseded_")
		}
	}
}

func TestBufferTurnAndEndSession(t *testing.T) {
	store := newTestStore(t)
	svc := New(store, nil)
	ctx := context.Background()

	episodeID, turnNum, err := svc.BufferTurn(ctx, "session-1", "hi", "hello")
	require.NoError(t, err)
	assert.Equal(t, 1, turnNum)

	out, err := svc.EndSession(ctx, EndSessionInput{
		SessionID: "session-1",
		Narrative: "Discussed the Phoenix rollout timeline.",
		Facts: []FactInput{
			{Content: "Phoenix ships next Friday", Type: "commitment", DeadlineAt: nil},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, episodeID, out.EpisodeID)
	assert.Equal(t, 1, out.FactsStored)
}

func TestMergeEntitiesRepointsAndSoftDeletes(t *testing.T) {
	store := newTestStore(t)
	svc := New(store, nil)
	ctx := context.Background()

	a, err := svc.RememberEntity(ctx, EntityInput{Name: "Bob Smith", Type: "person"})
	require.NoError(t, err)
	b, err := svc.RememberEntity(ctx, EntityInput{Name: "Robert Smith", Type: "person"})
	require.NoError(t, err)

	_, err = svc.RememberFact(ctx, FactInput{Content: "Bob joined the design review", AboutEntities: []string{"Bob Smith"}})
	require.NoError(t, err)

	require.NoError(t, svc.MergeEntities(ctx, a.Entity.ID, b.Entity.ID, "duplicate person"))

	linked, err := store.MemoriesForEntity(ctx, b.Entity.ID, 10)
	require.NoError(t, err)
	assert.Len(t, linked, 1)

	deleted, err := store.GetEntity(ctx, a.Entity.ID)
	require.NoError(t, err)
	assert.NotNil(t, deleted.DeletedAt)
}

func mustResolveEntityID(t *testing.T, ctx context.Context, store storage.Store, name string) int64 {
	t.Helper()
	entities, err := store.SearchEntities(ctx, name, nil, 5)
	require.NoError(t, err)
	require.NotEmpty(t, entities)
	return entities[0].ID
}
