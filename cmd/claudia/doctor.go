package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/claudia-memory/claudia/internal/config"
	"github.com/claudia-memory/claudia/internal/storage"
	"github.com/claudia-memory/claudia/internal/storage/sqlite"
	"github.com/claudia-memory/claudia/internal/ui"
	"github.com/claudia-memory/claudia/internal/utils"
)

// runDoctor is the --check run mode: database open, quick_check integrity,
// WAL mode, the recorded embedding model and dimensions, readable row counts,
// and (with vault sync on) vault directory presence, each reported pass/fail.
// It does not probe the embedding provider, the daemon lock, or vault drift.
func runDoctor(ctx context.Context, dataDir string) error {
	fmt.Println(ui.TitleStyle.Render("claudia doctor"))

	failed := false
	pass, fail := "ok", "FAIL"
	if ui.ShouldUseEmoji() {
		pass, fail = "✓", "✗"
	}
	check := func(name string, ok bool, detail string) {
		mark := ui.MutedStyle.Render(pass)
		if !ok {
			mark = ui.WarnStyle.Render(fail)
			failed = true
		}
		fmt.Printf("  %-28s %s", name, mark)
		if detail != "" {
			fmt.Printf("  %s", ui.MutedStyle.Render(detail))
		}
		fmt.Println()
	}

	dbPath := databasePath(dataDir)
	store, err := sqlite.Open(ctx, storage.Config{
		Path:                dbPath,
		EmbeddingModel:      config.GetString("embedding_model"),
		EmbeddingDimensions: config.GetInt("embedding_dimensions"),
	})
	check("database open", err == nil, dbPath)
	if err != nil {
		return fmt.Errorf("database open failed: %w", err)
	}
	defer store.Close()

	var integrity string
	err = store.UnderlyingDB().QueryRowContext(ctx, "PRAGMA quick_check(1)").Scan(&integrity)
	check("database integrity", err == nil && integrity == "ok", integrity)

	var journalMode string
	err = store.UnderlyingDB().QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode)
	check("WAL mode", err == nil && journalMode == "wal", journalMode)

	model, _, err := store.GetMeta(ctx, "embedding_model")
	check("embedding model recorded", err == nil && model != "",
		fmt.Sprintf("%s (%d dims)", model, config.GetInt("embedding_dimensions")))

	ok, err := store.CheckEmbeddingDimension(ctx, config.GetString("embedding_model"), config.GetInt("embedding_dimensions"))
	check("embedding dimensions", err == nil && ok, "")
	if err == nil && !ok {
		fmt.Println(ui.WarnStyle.Render("    run claudia --migrate-embeddings to rebuild the vector tables"))
	}

	stats, err := store.Stats(ctx)
	check("row counts readable", err == nil,
		fmt.Sprintf("%d memories, %d entities", stats["memories"], stats["entities"]))

	vaultDir := filepath.Join(config.GetString("vault_base_dir"), utils.ProjectHash(flagProjectDir))
	if config.GetBool("vault_sync_enabled") {
		if _, err := os.Stat(vaultDir); err == nil {
			check("vault directory", true, vaultDir)
		} else {
			check("vault directory", true, "not yet created")
		}
	}

	if failed {
		return fmt.Errorf("one or more checks failed")
	}
	fmt.Println(ui.MutedStyle.Render("all checks passed"))
	return nil
}
