package remember

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudia-memory/claudia/internal/extractor"
	"github.com/claudia-memory/claudia/internal/types"
)

func TestIngestTurnWithoutPipelineJustBuffers(t *testing.T) {
	store := newTestStore(t)
	svc := New(store, nil)
	ctx := context.Background()

	_, turnNumber, err := svc.IngestTurn(ctx, "sess-1", "hello there", "hi")
	require.NoError(t, err)
	assert.Equal(t, 1, turnNumber)

	memories, err := store.AllMemoriesAboveImportance(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, memories, "no pipeline means no extraction")
}

func TestIngestTurnExtractsEntitiesAndCommitments(t *testing.T) {
	store := newTestStore(t)
	svc := New(store, nil).WithPipeline(extractor.NewPipeline())
	ctx := context.Background()

	_, _, err := svc.IngestTurn(ctx, "sess-2",
		"Talked to Sarah Chen today. I'll send the proposal by Friday.", "noted")
	require.NoError(t, err)

	entities, err := store.SearchEntities(ctx, "sarah chen", nil, 5)
	require.NoError(t, err)
	require.NotEmpty(t, entities, "person name extracted from the turn")

	memories, err := store.AllMemoriesAboveImportance(ctx, 0)
	require.NoError(t, err)

	var commitment *types.Memory
	for _, m := range memories {
		if m.Type == "commitment" {
			commitment = m
		}
	}
	require.NotNil(t, commitment, "the I'll-send phrase became a commitment memory")
	assert.Equal(t, types.OriginExtracted, commitment.OriginType)
	assert.NotNil(t, commitment.DeadlineAt, "\"by Friday\" resolved to a concrete deadline")
}
