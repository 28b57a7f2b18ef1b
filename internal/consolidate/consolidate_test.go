package consolidate

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudia-memory/claudia/internal/storage"
	"github.com/claudia-memory/claudia/internal/storage/sqlite"
	"github.com/claudia-memory/claudia/internal/types"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := sqlite.Open(context.Background(), storage.Config{
		Path:                dbPath,
		EmbeddingDimensions: 4,
		EmbeddingModel:      "test-model",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testOptions() Options {
	return Options{
		DecayRateDaily:           0.995,
		MinImportance:            0.1,
		EnableMerging:            true,
		SimilarityMergeThreshold: 0.92,
		EnableEntitySummaries:    true,
		SummaryMinMemories:       2,
		EnableAutoDedupe:         true,
		AutoDedupeThreshold:      0.90,
		AuditRetentionDays:       90,
		PredictionRetentionDays:  30,
		TurnBufferRetentionDays:  60,
		MetricsRetentionDays:     90,
	}
}

func storeMemory(t *testing.T, store storage.Store, content string, importance float64) int64 {
	t.Helper()
	var id int64
	err := store.RunInTransaction(context.Background(), func(tx storage.Transaction) error {
		var err error
		id, err = tx.CreateMemory(context.Background(), &types.Memory{
			Content: content, ContentHash: content, Type: "fact",
			Importance: importance, Confidence: 1.0,
			OriginType: types.OriginUserStated, VerificationStatus: types.VerificationVerified,
		})
		return err
	})
	require.NoError(t, err)
	return id
}

func storeEntity(t *testing.T, store storage.Store, name string) int64 {
	t.Helper()
	e := &types.Entity{Name: name, CanonicalName: name, Type: "person", Importance: 0.5}
	require.NoError(t, store.CreateEntity(context.Background(), e))
	return e.ID
}

func TestDecayIsMonotoneAndBounded(t *testing.T) {
	store := newTestStore(t)
	svc := New(store, nil, nil, testOptions())
	ctx := context.Background()

	id := storeMemory(t, store, "the annual company retreat is in September", 0.9)

	report, err := svc.RunDecayOnly(ctx)
	require.NoError(t, err)
	assert.Positive(t, report.Decayed)

	first, err := store.GetMemory(ctx, id)
	require.NoError(t, err)
	assert.Less(t, first.Importance, 0.9)
	assert.Greater(t, first.Importance, 0.1)

	for i := 0; i < 100; i++ {
		_, err := svc.RunDecayOnly(ctx)
		require.NoError(t, err)
	}
	final, err := store.GetMemory(ctx, id)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, final.Importance, 0.1)
}

func TestMemoryMergingFoldsNearDuplicates(t *testing.T) {
	store := newTestStore(t)
	svc := New(store, nil, nil, testOptions())
	ctx := context.Background()

	entityID := storeEntity(t, store, "maria gomez")

	// Five memories linked to the entity; two share an almost identical vector.
	vectors := [][]float32{
		{1, 0, 0, 0},
		{0.99, 0.01, 0, 0}, // near-duplicate of the first
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
	ids := make([]int64, len(vectors))
	for i, vec := range vectors {
		id := storeMemory(t, store, string(rune('a'+i))+" distinct content", 0.5+float64(i)*0.05)
		ids[i] = id
		require.NoError(t, store.LinkMemoryEntity(ctx, id, entityID, "about"))
		require.NoError(t, store.UpsertVector(ctx, "memory_embeddings", id, vec))
	}

	report := &Report{}
	require.NoError(t, svc.runMemoryMerging(ctx, report))
	assert.Equal(t, 1, report.MemoriesMerged)

	// The lower-scored duplicate was tombstoned with importance 0.001.
	dup, err := store.GetMemory(ctx, ids[0])
	require.NoError(t, err)
	assert.NotNil(t, dup.InvalidatedAt)
	assert.InDelta(t, 0.001, dup.Importance, 1e-9)

	primary, err := store.GetMemory(ctx, ids[1])
	require.NoError(t, err)
	assert.Nil(t, primary.InvalidatedAt)
	assert.Contains(t, primary.Metadata, "merged_from")
}

func TestPatternDetectionFindsCoMentions(t *testing.T) {
	store := newTestStore(t)
	svc := New(store, nil, nil, testOptions())
	ctx := context.Background()

	a := storeEntity(t, store, "alice jones")
	b := storeEntity(t, store, "bob lee")
	for _, content := range []string{"alice and bob on phoenix", "alice and bob on the retro"} {
		id := storeMemory(t, store, content, 0.8)
		require.NoError(t, store.LinkMemoryEntity(ctx, id, a, "about"))
		require.NoError(t, store.LinkMemoryEntity(ctx, id, b, "about"))
	}

	report := &Report{}
	require.NoError(t, svc.runPatternDetection(ctx, report))
	assert.Positive(t, report.PatternsDetected)

	patterns, err := store.ActivePatterns(ctx, 0)
	require.NoError(t, err)

	found := false
	for _, p := range patterns {
		if p.Name == "co_mention:alice jones+bob lee" {
			found = true
		}
	}
	assert.True(t, found, "expected a co-mention pattern for the unlinked pair")
}

func TestPatternDetectionIsIdempotentWithoutNewData(t *testing.T) {
	store := newTestStore(t)
	svc := New(store, nil, nil, testOptions())
	ctx := context.Background()

	a := storeEntity(t, store, "alice jones")
	b := storeEntity(t, store, "bob lee")
	for _, content := range []string{"pairing session one", "pairing session two"} {
		id := storeMemory(t, store, content, 0.8)
		require.NoError(t, store.LinkMemoryEntity(ctx, id, a, "about"))
		require.NoError(t, store.LinkMemoryEntity(ctx, id, b, "about"))
	}

	require.NoError(t, svc.runPatternDetection(ctx, &Report{}))
	first, err := store.ActivePatterns(ctx, 0)
	require.NoError(t, err)

	require.NoError(t, svc.runPatternDetection(ctx, &Report{}))
	second, err := store.ActivePatterns(ctx, 0)
	require.NoError(t, err)

	assert.Equal(t, len(first), len(second), "re-running detection without new data must not create new patterns")
}

func TestPredictionsUseFeedbackMultiplier(t *testing.T) {
	store := newTestStore(t)
	svc := New(store, nil, nil, testOptions())
	ctx := context.Background()

	// Below five shown predictions the multiplier is neutral.
	assert.Equal(t, 1.0, svc.feedbackMultiplier(ctx, "reconnect"))

	for i := 0; i < 6; i++ {
		id, err := store.CreatePrediction(ctx, &types.Prediction{Kind: "reconnect", Content: "x", Priority: 0.5})
		require.NoError(t, err)
		require.NoError(t, store.MarkPredictionShown(ctx, id))
	}
	assert.Equal(t, 0.5, svc.feedbackMultiplier(ctx, "reconnect"), "never-acted-on predictions damp priority")
}

func TestAutoDedupeSurfacesCandidatesWithoutMerging(t *testing.T) {
	store := newTestStore(t)
	svc := New(store, nil, nil, testOptions())
	ctx := context.Background()

	a := storeEntity(t, store, "jon smith")
	b := storeEntity(t, store, "john smith")
	require.NoError(t, store.UpsertVector(ctx, "entity_embeddings", a, []float32{1, 0, 0, 0}))
	require.NoError(t, store.UpsertVector(ctx, "entity_embeddings", b, []float32{0.99, 0.01, 0, 0}))

	report := &Report{}
	require.NoError(t, svc.runAutoDedupe(ctx, report))
	assert.Equal(t, 1, report.DedupeCandidates)

	// Both entities are still live: candidates are surfaced, never auto-merged.
	ea, err := store.GetEntity(ctx, a)
	require.NoError(t, err)
	assert.Nil(t, ea.DeletedAt)
	eb, err := store.GetEntity(ctx, b)
	require.NoError(t, err)
	assert.Nil(t, eb.DeletedAt)
}

func TestRunFullSurvivesPhaseFailures(t *testing.T) {
	store := newTestStore(t)
	opts := testOptions()
	opts.EnableBackup = false
	svc := New(store, nil, nil, opts)

	storeMemory(t, store, "a fact to decay", 0.8)

	report, err := svc.RunFull(context.Background())
	require.NoError(t, err)
	assert.Positive(t, report.Decayed)
	assert.NotNil(t, report.RetentionDeleted)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 0}, []float32{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosine([]float32{1}, []float32{1, 0}), "mismatched lengths score zero")
}

func TestBoostAfterAccessStaysWithinBounds(t *testing.T) {
	store := newTestStore(t)
	svc := New(store, nil, nil, testOptions())
	ctx := context.Background()

	id := storeMemory(t, store, "often recalled", 0.99)
	require.NoError(t, store.TouchMemoryAccess(ctx, id))

	_, err := svc.RunDecayOnly(ctx)
	require.NoError(t, err)

	got, err := store.GetMemory(ctx, id)
	require.NoError(t, err)
	assert.LessOrEqual(t, got.Importance, 1.0)
}
