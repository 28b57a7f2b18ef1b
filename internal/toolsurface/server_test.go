package toolsurface

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/claudia-memory/claudia/internal/consolidate"
	"github.com/claudia-memory/claudia/internal/recall"
	"github.com/claudia-memory/claudia/internal/remember"
	"github.com/claudia-memory/claudia/internal/storage"
	"github.com/claudia-memory/claudia/internal/storage/sqlite"
)

func newTestServer(t *testing.T) (*Server, storage.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := sqlite.Open(context.Background(), storage.Config{
		Path:                dbPath,
		EmbeddingDimensions: 4,
		EmbeddingModel:      "test-model",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	rem := remember.New(store, nil)
	rec := recall.New(store, nil, recall.Options{MaxResults: 20, EnableRRF: true, RRFK: 60})
	cons := consolidate.New(store, nil, nil, consolidate.Options{DecayRateDaily: 0.995, MinImportance: 0.1})
	return NewServer(store, rem, rec, cons), store
}

func call(t *testing.T, s *Server, method string, params map[string]any) map[string]any {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)

	resp := s.Handle(context.Background(), &Request{ID: 1, Method: method, Params: raw})
	require.False(t, resp.IsError, "unexpected tool error: %s", resp.Error)
	require.NotNil(t, resp.Result)
	require.Len(t, resp.Result.Content, 1)
	assert.Equal(t, "text", resp.Result.Content[0].Type)

	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp.Result.Content[0].Text), &out))
	return out
}

func TestRememberThenRecallRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)

	first := call(t, s, OpRemember, map[string]any{
		"content": "the board meeting moved to Thursday",
		"type":    "fact",
	})
	require.Contains(t, first, "memory_id")

	// Duplicate content returns the same id (idempotent success).
	second := call(t, s, OpRemember, map[string]any{
		"content": "the board meeting moved to Thursday",
		"type":    "fact",
	})
	assert.Equal(t, first["memory_id"], second["memory_id"])

	recalled := call(t, s, OpRecall, map[string]any{"query": "board meeting"})
	memories := recalled["memories"].([]any)
	require.NotEmpty(t, memories)
	hit := memories[0].(map[string]any)
	assert.Contains(t, hit["content"], "board meeting")
}

func TestRelateAndAboutWithHistory(t *testing.T) {
	s, _ := newTestServer(t)

	call(t, s, OpRelate, map[string]any{
		"source": "Sarah Chen", "target": "Acme Corp", "type": "works_at",
	})
	call(t, s, OpRelate, map[string]any{
		"source": "Sarah Chen", "target": "Beta Corp", "type": "works_at", "supersedes": true,
	})

	about := call(t, s, OpAbout, map[string]any{"entity": "Sarah Chen"})
	require.Equal(t, true, about["found"])
	current := about["relationships"].([]any)
	worksAt := 0
	for _, r := range current {
		if r.(map[string]any)["type"] == "works_at" {
			worksAt++
		}
	}
	assert.Equal(t, 1, worksAt, "default view shows exactly one current works_at")

	historical := call(t, s, OpAbout, map[string]any{"entity": "Sarah Chen", "include_historical": true})
	all := historical["relationships"].([]any)
	assert.Greater(t, len(all), worksAt, "historical view includes the superseded row")
}

func TestEndSessionStoresFactsFromJSONStringArrays(t *testing.T) {
	s, store := newTestServer(t)

	// Arrays arriving as JSON strings must be coerced, per the surface contract.
	out := call(t, s, OpEndSession, map[string]any{
		"session_id": "sess-1",
		"narrative":  "Planned the Phoenix cutover with Maria.",
		"facts":      `[{"content": "cutover is next Friday", "type": "fact"}]`,
		"entities":   `[{"name": "Maria Gomez", "type": "person"}]`,
	})
	assert.Equal(t, float64(1), out["facts"])
	assert.Equal(t, float64(1), out["entities"])

	episodes, err := store.RecentEpisodes(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, episodes, 1)
	assert.True(t, episodes[0].IsSummarized)
}

func TestBufferTurnAssignsSequentialNumbers(t *testing.T) {
	s, _ := newTestServer(t)

	first := call(t, s, OpBufferTurn, map[string]any{
		"session_id": "sess-2", "user_content": "hi", "assistant_content": "hello",
	})
	second := call(t, s, OpBufferTurn, map[string]any{
		"session_id": "sess-2", "user_content": "more", "assistant_content": "sure",
	})
	assert.Equal(t, float64(1), first["turn_number"])
	assert.Equal(t, float64(2), second["turn_number"])
	assert.Equal(t, first["episode_id"], second["episode_id"])
}

func TestUnknownToolReturnsInBandError(t *testing.T) {
	s, _ := newTestServer(t)

	resp := s.Handle(context.Background(), &Request{ID: 9, Method: "memory.nonsense"})
	assert.True(t, resp.IsError)
	assert.Contains(t, resp.Error, "unknown tool")
}

func TestServeFraming(t *testing.T) {
	s, _ := newTestServer(t)

	reqBytes, err := json.Marshal(Request{ID: 1, Method: OpRemember, Params: json.RawMessage(`{"content": "framed fact"}`)})
	require.NoError(t, err)

	var in bytes.Buffer
	require.NoError(t, WriteFrame(&in, reqBytes))

	var out bytes.Buffer
	require.NoError(t, s.Serve(context.Background(), &in, &out))

	payload, err := ReadFrame(&out)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal(payload, &resp))
	assert.False(t, resp.IsError)
	require.NotNil(t, resp.Result)
}

func TestUpcomingTagsUrgency(t *testing.T) {
	s, store := newTestServer(t)

	id := call(t, s, OpRemember, map[string]any{
		"content": "send the deck by tomorrow", "type": "commitment",
	})["memory_id"].(float64)

	// Force an overdue deadline regardless of the temporal parser's verdict.
	_, err := store.UnderlyingDB().ExecContext(context.Background(),
		`UPDATE memories SET deadline_at = datetime('now', '-2 days') WHERE id = ?`, int64(id))
	require.NoError(t, err)

	out := call(t, s, OpUpcoming, map[string]any{"days": "14"})
	deadlines := out["deadlines"].([]any)
	require.NotEmpty(t, deadlines)
	assert.Equal(t, "overdue", deadlines[0].(map[string]any)["urgency"])
}
