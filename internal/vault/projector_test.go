package vault

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
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

func TestSyncAllWritesEntityNotes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := &types.Entity{Name: "Maria Gomez", CanonicalName: "maria gomez", Type: "person", Importance: 0.8, Description: "leads Phoenix"}
	require.NoError(t, store.CreateEntity(ctx, e))

	baseDir := t.TempDir()
	projector := New(store, baseDir)

	report, err := projector.SyncAll(ctx)
	require.NoError(t, err)
	assert.Positive(t, report.Written)

	notePath := filepath.Join(baseDir, "people", "Maria Gomez.md")
	raw, err := os.ReadFile(notePath)
	require.NoError(t, err)
	content := string(raw)

	assert.True(t, strings.HasPrefix(content, "---\n"), "note starts with YAML frontmatter")
	assert.Contains(t, content, "claudia_id: 1")
	assert.Contains(t, content, "sync_hash:")
	assert.Contains(t, content, "# Maria Gomez")
	assert.Contains(t, content, "leads Phoenix")

	homeRaw, err := os.ReadFile(filepath.Join(baseDir, "Home.md"))
	require.NoError(t, err)
	assert.Contains(t, string(homeRaw), "# Home")
}

func TestSyncAllIsStableWithoutChanges(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := &types.Entity{Name: "Acme Corp", CanonicalName: "acme corp", Type: "organization", Importance: 0.5}
	require.NoError(t, store.CreateEntity(ctx, e))

	projector := New(store, t.TempDir())
	_, err := projector.SyncAll(ctx)
	require.NoError(t, err)

	second, err := projector.SyncAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, second.Written, "unchanged notes are not rewritten")
	assert.Positive(t, second.Unchanged)
}

func TestOperatorEditsArePreserved(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := &types.Entity{Name: "Beta Corp", CanonicalName: "beta corp", Type: "organization", Importance: 0.5}
	require.NoError(t, store.CreateEntity(ctx, e))

	baseDir := t.TempDir()
	projector := New(store, baseDir)
	_, err := projector.SyncAll(ctx)
	require.NoError(t, err)

	notePath := filepath.Join(baseDir, "organizations", "Beta Corp.md")
	raw, err := os.ReadFile(notePath)
	require.NoError(t, err)
	edited := string(raw) + "\nMy handwritten annotation.\n"
	require.NoError(t, os.WriteFile(notePath, []byte(edited), 0o644))

	// Mutate the entity so a rewrite would normally happen.
	require.NoError(t, store.UpdateEntity(ctx, e.ID, map[string]any{"description": "a new client"}))

	report, err := projector.SyncAll(ctx)
	require.NoError(t, err)
	assert.Contains(t, report.Conflicts, notePath)

	after, err := os.ReadFile(notePath)
	require.NoError(t, err)
	assert.Contains(t, string(after), "My handwritten annotation", "operator edit survives sync")
}

func TestRelationshipsRenderAsWikiLinks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sarah := &types.Entity{Name: "Sarah Chen", CanonicalName: "sarah chen", Type: "person", Importance: 0.8}
	require.NoError(t, store.CreateEntity(ctx, sarah))
	acme := &types.Entity{Name: "Acme Corp", CanonicalName: "acme corp", Type: "organization", Importance: 0.5}
	require.NoError(t, store.CreateEntity(ctx, acme))

	_, err := store.CreateRelationship(ctx, &types.Relationship{
		SourceID: sarah.ID, TargetID: acme.ID, Type: "works_at",
		Strength: 0.9, Direction: types.DirectionBidirectional, OriginType: types.OriginUserStated,
	})
	require.NoError(t, err)

	baseDir := t.TempDir()
	_, err = New(store, baseDir).SyncAll(ctx)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(baseDir, "people", "Sarah Chen.md"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "[[Acme Corp]]")
}

func TestRelationshipCanvasLinksConnectedEntities(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	maria := &types.Entity{Name: "Maria Gomez", CanonicalName: "maria gomez", Type: "person", Importance: 0.8}
	require.NoError(t, store.CreateEntity(ctx, maria))
	phoenix := &types.Entity{Name: "Phoenix", CanonicalName: "phoenix", Type: "project", Importance: 0.7}
	require.NoError(t, store.CreateEntity(ctx, phoenix))
	loner := &types.Entity{Name: "Unconnected Person", CanonicalName: "unconnected person", Type: "person", Importance: 0.4}
	require.NoError(t, store.CreateEntity(ctx, loner))

	_, err := store.CreateRelationship(ctx, &types.Relationship{
		SourceID: maria.ID, TargetID: phoenix.ID, Type: "leads",
		Strength: 0.9, Direction: types.DirectionBidirectional, OriginType: types.OriginUserStated,
	})
	require.NoError(t, err)

	baseDir := t.TempDir()
	_, err = New(store, baseDir).SyncAll(ctx)
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(baseDir, "canvases", "relationship-map.canvas"))
	require.NoError(t, err)

	var c struct {
		Nodes []map[string]any `json:"nodes"`
		Edges []map[string]any `json:"edges"`
	}
	require.NoError(t, json.Unmarshal(raw, &c))

	require.Len(t, c.Nodes, 2, "only connected entities earn canvas nodes")
	require.Len(t, c.Edges, 1)
	assert.Equal(t, "leads", c.Edges[0]["label"])

	files := []string{c.Nodes[0]["file"].(string), c.Nodes[1]["file"].(string)}
	assert.Contains(t, files, "people/Maria Gomez.md")
	assert.Contains(t, files, "projects/Phoenix.md")
}

func TestNoteFilenameSanitizesSeparators(t *testing.T) {
	assert.Equal(t, "a-b.md", noteFilename("a/b"))
	assert.Equal(t, "untitled.md", noteFilename("  "))
}

func TestBodyHashIsTwelveHexChars(t *testing.T) {
	h := bodyHash("some body")
	assert.Len(t, h, 12)
	assert.Equal(t, h, bodyHash("some body"), "hash is stable")
	assert.NotEqual(t, h, bodyHash("other body"))
}
