package recall

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/claudia-memory/claudia/internal/remember"
	"github.com/claudia-memory/claudia/internal/storage"
	"github.com/claudia-memory/claudia/internal/storage/sqlite"
	"github.com/claudia-memory/claudia/internal/types"
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

func testOptions() Options {
	return Options{
		MaxResults:            20,
		EnableRRF:              true,
		RRFK:                   60,
		VectorWeight:           0.5,
		ImportanceWeight:       0.25,
		RecencyWeight:          0.1,
		FTSWeight:              0.15,
		GraphProximityEnabled:  true,
		GraphProximityWeight:   0.15,
		RecencyHalfLifeDays:    30,
	}
}

func TestRecallFindsFTSMatch(t *testing.T) {
	store := newTestStore(t)
	wsvc := remember.New(store, nil)
	ctx := context.Background()

	_, err := wsvc.RememberFact(ctx, remember.FactInput{Content: "The Phoenix project ships next quarter", Type: "fact"})
	require.NoError(t, err)
	_, err = wsvc.RememberFact(ctx, remember.FactInput{Content: "Unrelated note about lunch", Type: "fact"})
	require.NoError(t, err)

	rsvc := New(store, nil, testOptions())
	results, err := rsvc.Recall(ctx, "Phoenix project", types.RecallFilter{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Memory.Content, "Phoenix")
}

func TestRecallAboutEntity(t *testing.T) {
	store := newTestStore(t)
	wsvc := remember.New(store, nil)
	ctx := context.Background()

	_, err := wsvc.RememberFact(ctx, remember.FactInput{
		Content:       "Maria is leading the migration",
		AboutEntities: []string{"Maria Gomez"},
	})
	require.NoError(t, err)

	rsvc := New(store, nil, testOptions())
	memories, err := rsvc.RecallAbout(ctx, "Maria Gomez", 10)
	require.NoError(t, err)
	require.Len(t, memories, 1)
}

func TestRecallUpcomingDeadlines(t *testing.T) {
	store := newTestStore(t)
	wsvc := remember.New(store, nil)
	ctx := context.Background()

	deadline := time.Now().Add(48 * time.Hour)
	_, err := wsvc.RememberFact(ctx, remember.FactInput{
		Content:    "Submit the budget review by Friday",
		Type:       "commitment",
		DeadlineAt: &deadline,
	})
	require.NoError(t, err)

	rsvc := New(store, nil, testOptions())
	upcoming, err := rsvc.RecallUpcomingDeadlines(ctx, 7)
	require.NoError(t, err)
	require.Len(t, upcoming, 1)
}

func TestEntityOverview(t *testing.T) {
	store := newTestStore(t)
	wsvc := remember.New(store, nil)
	ctx := context.Background()

	_, err := wsvc.RememberEntity(ctx, remember.EntityInput{Name: "Acme Corp", Type: "organization"})
	require.NoError(t, err)
	_, err = wsvc.RememberFact(ctx, remember.FactInput{Content: "Acme renewed the contract", AboutEntities: []string{"Acme Corp"}})
	require.NoError(t, err)

	rsvc := New(store, nil, testOptions())
	overview, err := rsvc.EntityOverview(ctx, "Acme Corp")
	require.NoError(t, err)
	require.NotNil(t, overview)
	assert.Len(t, overview.RecentMemories, 1)
}
