package main

import (
	"context"

	"github.com/claudia-memory/claudia/internal/ui"
)

// runTUI is the --tui run mode: the read-only terminal dashboard over the
// same database the daemon serves (SQLite MVCC keeps readers lock-free).
func runTUI(ctx context.Context, dataDir string) error {
	svc, err := openServices(ctx, dataDir)
	if err != nil {
		return err
	}
	defer svc.store.Close()

	return ui.RunDashboard(svc.store)
}
