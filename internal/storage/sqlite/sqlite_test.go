package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudia-memory/claudia/internal/storage"
	"github.com/claudia-memory/claudia/internal/types"
)

func newTestStore(t *testing.T) *SQLiteStorage {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := Open(context.Background(), storage.Config{
		Path:                dbPath,
		EmbeddingDimensions: 4,
		EmbeddingModel:      "test-model",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func createTestEntity(t *testing.T, store *SQLiteStorage, name, entityType string) *types.Entity {
	t.Helper()
	e := &types.Entity{Name: name, CanonicalName: canonicalize(name), Type: entityType, Importance: 0.5}
	require.NoError(t, store.CreateEntity(context.Background(), e))
	return e
}

func createTestMemory(t *testing.T, store *SQLiteStorage, content string, importance float64) *types.Memory {
	t.Helper()
	m := &types.Memory{
		Content:            content,
		ContentHash:        content, // tests don't care about real hashing here
		Type:               "fact",
		Importance:         importance,
		Confidence:         1.0,
		OriginType:         types.OriginUserStated,
		VerificationStatus: types.VerificationPending,
	}
	id, err := store.CreateMemory(context.Background(), m)
	require.NoError(t, err)
	m.ID = id
	return m
}

func TestOpenIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	cfg := storage.Config{Path: dbPath, EmbeddingDimensions: 4, EmbeddingModel: "test-model"}

	store, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = Open(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, store.Close())
}

func TestDimensionMismatchDegradesToScalar(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := Open(context.Background(), storage.Config{Path: dbPath, EmbeddingDimensions: 4, EmbeddingModel: "test-model"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	// Reopen with different dimensions: the store still opens, vectors are off.
	store, err = Open(context.Background(), storage.Config{Path: dbPath, EmbeddingDimensions: 8, EmbeddingModel: "test-model"})
	require.NoError(t, err)
	defer store.Close()

	assert.False(t, store.vecUsable)

	ok, err := store.CheckEmbeddingDimension(context.Background(), "test-model", 8)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRelationshipSupersedePreservesHistory(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sarah := createTestEntity(t, store, "Sarah Chen", "person")
	acme := createTestEntity(t, store, "Acme Corp", "organization")
	beta := createTestEntity(t, store, "Beta Corp", "organization")

	firstID, err := store.CreateRelationship(ctx, &types.Relationship{
		SourceID: sarah.ID, TargetID: acme.ID, Type: "works_at",
		Strength: 1.0, Direction: types.DirectionBidirectional,
		OriginType: types.OriginUserStated, ValidAt: time.Now(),
	})
	require.NoError(t, err)

	require.NoError(t, store.CloseRelationship(ctx, firstID, "works_at", time.Now()))
	_, err = store.CreateRelationship(ctx, &types.Relationship{
		SourceID: sarah.ID, TargetID: beta.ID, Type: "works_at",
		Strength: 1.0, Direction: types.DirectionBidirectional,
		OriginType: types.OriginUserStated, ValidAt: time.Now(),
	})
	require.NoError(t, err)

	current, err := store.CurrentRelationshipsForEntity(ctx, sarah.ID, false)
	require.NoError(t, err)
	require.Len(t, current, 1)
	assert.Equal(t, beta.ID, current[0].TargetID)
	assert.Equal(t, "works_at", current[0].Type)

	all, err := store.CurrentRelationshipsForEntity(ctx, sarah.ID, true)
	require.NoError(t, err)
	require.Len(t, all, 2)

	var superseded *types.Relationship
	for _, r := range all {
		if r.InvalidAt != nil {
			superseded = r
		}
	}
	require.NotNil(t, superseded)
	assert.Contains(t, superseded.Type, "__superseded_")
}

func TestUpcomingDeadlinesSortsOverdueFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	past := time.Now().Add(-48 * time.Hour)
	future := time.Now().Add(5 * 24 * time.Hour)

	overdue := createTestMemory(t, store, "send the board deck", 0.9)
	_, err := store.db.ExecContext(ctx, `UPDATE memories SET type = 'commitment', deadline_at = ? WHERE id = ?`, past, overdue.ID)
	require.NoError(t, err)

	upcoming := createTestMemory(t, store, "review the Q3 plan", 0.9)
	_, err = store.db.ExecContext(ctx, `UPDATE memories SET type = 'commitment', deadline_at = ? WHERE id = ?`, future, upcoming.ID)
	require.NoError(t, err)

	deadlines, err := store.UpcomingDeadlines(ctx, 14)
	require.NoError(t, err)
	require.Len(t, deadlines, 2)
	assert.Equal(t, overdue.ID, deadlines[0].ID, "overdue items sort before future items")
}

func TestDecayImportancesNeverCrossesFloor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	m := createTestMemory(t, store, "the annual retreat is in September", 0.9)

	prev := 0.9
	for i := 0; i < 100; i++ {
		_, err := store.DecayImportances(ctx, 0.995, 0.7, 0.1)
		require.NoError(t, err)

		got, err := store.GetMemory(ctx, m.ID)
		require.NoError(t, err)
		assert.LessOrEqual(t, got.Importance, prev)
		assert.GreaterOrEqual(t, got.Importance, 0.1)
		prev = got.Importance
	}
}

func TestDecayAtFloorIsNoOp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	m := createTestMemory(t, store, "a faint memory", 0.1)
	_, err := store.DecayImportances(ctx, 0.995, 0.7, 0.1)
	require.NoError(t, err)

	got, err := store.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.1, got.Importance)
}

func TestBoostRecentlyAccessedClampsAtOne(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	m := createTestMemory(t, store, "frequently recalled fact", 0.99)
	require.NoError(t, store.TouchMemoryAccess(ctx, m.ID))

	_, err := store.BoostRecentlyAccessed(ctx, time.Now().Add(-time.Hour), 1.05)
	require.NoError(t, err)

	got, err := store.GetMemory(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Importance)
}

func TestEntitySummaryRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := createTestEntity(t, store, "Maria Gomez", "person")

	_, _, ok, err := store.EntitySummary(ctx, e.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.SetEntitySummary(ctx, e.ID, "Maria leads the Phoenix migration."))

	summary, updatedAt, ok, err := store.EntitySummary(ctx, e.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Maria leads the Phoenix migration.", summary)
	assert.WithinDuration(t, time.Now(), updatedAt, time.Minute)
}

func TestPendingPredictionsSkipsShownAndExpired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	expired := time.Now().Add(-time.Hour)
	_, err := store.CreatePrediction(ctx, &types.Prediction{Kind: "reminder", Content: "too late", Priority: 0.9, ExpiresAt: &expired})
	require.NoError(t, err)

	shownID, err := store.CreatePrediction(ctx, &types.Prediction{Kind: "reminder", Content: "already seen", Priority: 0.8})
	require.NoError(t, err)
	require.NoError(t, store.MarkPredictionShown(ctx, shownID))

	_, err = store.CreatePrediction(ctx, &types.Prediction{Kind: "suggestion", Content: "reach out to Sarah", Priority: 0.7})
	require.NoError(t, err)

	pending, err := store.PendingPredictions(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "reach out to Sarah", pending[0].Content)
}

func TestCoMentionedPersonPairs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := createTestEntity(t, store, "Alice Jones", "person")
	b := createTestEntity(t, store, "Bob Lee", "person")

	for _, content := range []string{"Alice and Bob met about Phoenix", "Alice and Bob paired on the review"} {
		m := createTestMemory(t, store, content, 0.8)
		require.NoError(t, store.LinkMemoryEntity(ctx, m.ID, a.ID, "about"))
		require.NoError(t, store.LinkMemoryEntity(ctx, m.ID, b.ID, "about"))
	}

	pairs, err := store.CoMentionedPersonPairs(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	assert.Equal(t, 2, pairs[0].Shared)
}

func TestStatsCountsLiveRowsOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	createTestMemory(t, store, "alive", 0.5)
	dead := createTestMemory(t, store, "dead", 0.5)
	require.NoError(t, store.InvalidateMemory(ctx, dead.ID, "test"))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats["memories"])
}

func TestResetVectorTablesUpdatesMeta(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertVector(ctx, "memory_embeddings", 1, []float32{1, 0, 0, 0}))
	require.NoError(t, store.ResetVectorTables(ctx, "new-model", 8))

	model, ok, err := store.GetMeta(ctx, "embedding_model")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new-model", model)

	hits, err := store.VectorKNN(ctx, "memory_embeddings", []float32{1, 0, 0, 0, 0, 0, 0, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestPruneRetentionDeletesOldRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendAudit(ctx, "test", "old entry"))
	_, err := store.db.ExecContext(ctx, `UPDATE audit_log SET created_at = datetime('now', '-120 days')`)
	require.NoError(t, err)
	require.NoError(t, store.AppendAudit(ctx, "test", "fresh entry"))

	deleted, err := store.PruneRetention(ctx, 90, 30, 60, 90)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted["audit_log"])
}
