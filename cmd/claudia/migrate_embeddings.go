package main

import (
	"context"
	"fmt"
	"time"

	"github.com/claudia-memory/claudia/internal/config"
)

// runMigrateEmbeddings is the --migrate-embeddings run mode: drop and
// recreate the vector tables under the configured (model, dimensions), then
// re-embed every memory, entity, episode narrative, and reflection.
func runMigrateEmbeddings(ctx context.Context, dataDir string) error {
	svc, err := openServices(ctx, dataDir)
	if err != nil {
		return err
	}
	defer svc.store.Close()

	if svc.embed == nil {
		return fmt.Errorf("embedding provider is not reachable; cannot regenerate vectors")
	}
	if !svc.embed.Available(ctx) {
		return fmt.Errorf("embedding provider failed its liveness probe; start it and retry")
	}

	model := config.GetString("embedding_model")
	dims := config.GetInt("embedding_dimensions")
	fmt.Printf("rebuilding vector tables for %s (%d dims)\n", model, dims)

	if err := svc.store.ResetVectorTables(ctx, model, dims); err != nil {
		return err
	}
	svc.embed.SetMismatchFlag(false)
	svc.embed.ClearCache()

	embedded := 0
	reembed := func(table string, ownerID int64, text string) {
		if text == "" {
			return
		}
		vec, err := svc.embed.Generate(ctx, text)
		if err != nil {
			return
		}
		if err := svc.store.UpsertVector(ctx, table, ownerID, vec); err == nil {
			embedded++
		}
	}

	memories, err := svc.store.AllMemoriesAboveImportance(ctx, 0)
	if err != nil {
		return err
	}
	for _, m := range memories {
		reembed("memory_embeddings", m.ID, m.Content)
	}

	entities, err := svc.store.ListEntities(ctx)
	if err != nil {
		return err
	}
	for _, e := range entities {
		reembed("entity_embeddings", e.ID, e.Name+" "+e.Description)
	}

	episodes, err := svc.store.RecentEpisodes(ctx, 10000)
	if err != nil {
		return err
	}
	for _, ep := range episodes {
		if ep.IsSummarized {
			reembed("episode_embeddings", ep.ID, ep.Narrative)
		}
	}

	reflections, err := svc.store.AllReflections(ctx)
	if err != nil {
		return err
	}
	for _, r := range reflections {
		reembed("reflection_embeddings", r.ID, r.Content)
	}

	_ = svc.store.AppendAudit(ctx, "embedding_migration",
		fmt.Sprintf("model=%s dims=%d embedded=%d at %s", model, dims, embedded, time.Now().UTC().Format(time.RFC3339)))
	fmt.Printf("re-embedded %d records\n", embedded)
	return nil
}
