package verifier

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

// storePendingMemory inserts a pending memory backdated past the
// verification buffer so RunOnce picks it up.
func storePendingMemory(t *testing.T, store storage.Store, content, memType string) int64 {
	t.Helper()
	ctx := context.Background()
	var id int64
	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		var err error
		id, err = tx.CreateMemory(ctx, &types.Memory{
			Content: content, ContentHash: content, Type: memType,
			Importance: 0.8, Confidence: 1.0,
			OriginType: types.OriginUserStated, VerificationStatus: types.VerificationPending,
		})
		return err
	})
	require.NoError(t, err)
	_, err = store.UnderlyingDB().ExecContext(ctx,
		`UPDATE memories SET created_at = datetime('now', '-10 minutes') WHERE id = ?`, id)
	require.NoError(t, err)
	return id
}

func TestRunOnceVerifiesCleanFact(t *testing.T) {
	store := newTestStore(t)
	svc := New(store, nil, 10)
	ctx := context.Background()

	id := storePendingMemory(t, store, "the retro moved to Thursdays", "fact")

	report, err := svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Examined)
	assert.Equal(t, 1, report.Verified)

	m, err := store.GetMemory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.VerificationVerified, m.VerificationStatus)
	assert.NotNil(t, m.VerifiedAt)
}

func TestRunOnceFlagsCommitmentWithoutDeadline(t *testing.T) {
	store := newTestStore(t)
	svc := New(store, nil, 10)
	ctx := context.Background()

	id := storePendingMemory(t, store, "I will send the numbers over at some point", "commitment")

	report, err := svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Flagged)

	m, err := store.GetMemory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.VerificationFlagged, m.VerificationStatus)
	assert.InDelta(t, 0.1, m.Importance, 1e-9, "flagged memories drop to low importance")
}

func TestRunOnceLeavesCommitmentWithDeadlinePhraseAlone(t *testing.T) {
	store := newTestStore(t)
	svc := New(store, nil, 10)
	ctx := context.Background()

	id := storePendingMemory(t, store, "I will send the numbers by Friday", "commitment")

	report, err := svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Verified)

	m, err := store.GetMemory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.VerificationVerified, m.VerificationStatus)
}

func TestRunOnceFlagsNearDuplicateLinkedEntity(t *testing.T) {
	store := newTestStore(t)
	svc := New(store, nil, 10)
	ctx := context.Background()

	jon := &types.Entity{Name: "Jon Smith", CanonicalName: "jon smith", Type: "person", Importance: 0.5}
	require.NoError(t, store.CreateEntity(ctx, jon))
	john := &types.Entity{Name: "John Smith", CanonicalName: "john smith", Type: "person", Importance: 0.5}
	require.NoError(t, store.CreateEntity(ctx, john))

	id := storePendingMemory(t, store, "Jon is presenting at the offsite", "fact")
	require.NoError(t, store.LinkMemoryEntity(ctx, id, jon.ID, "about"))

	report, err := svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Flagged)
}

func TestRunOnceSkipsFreshMemories(t *testing.T) {
	store := newTestStore(t)
	svc := New(store, nil, 10)
	ctx := context.Background()

	// Created now: inside the 5-minute buffer, so not yet eligible.
	err := store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		_, err := tx.CreateMemory(ctx, &types.Memory{
			Content: "fresh", ContentHash: "fresh", Type: "fact",
			Importance: 0.5, Confidence: 1.0,
			OriginType: types.OriginUserStated, VerificationStatus: types.VerificationPending,
		})
		return err
	})
	require.NoError(t, err)

	report, err := svc.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Examined)
}
