package main

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/claudia-memory/claudia/internal/config"
	"github.com/claudia-memory/claudia/internal/debug"
	"github.com/claudia-memory/claudia/internal/ui"
)

// dedupeCandidatePattern extracts the two entity ids from a
// dedupe_candidate prediction's content.
var dedupeCandidatePattern = regexp.MustCompile(`#(\d+)\) and .*#(\d+)\)`)

// dedupeCmd reviews the dedupe candidates surfaced by consolidation and
// merges the approved pairs. Candidates are never merged automatically;
// this interactive pass is the only path from candidate to merge.
var dedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Review and approve pending entity dedupe candidates",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, err := resolveDataDir()
		if err != nil {
			return err
		}
		if err := config.Initialize(dataDir); err != nil {
			return err
		}
		if err := debug.Init(config.GetString("log_path"), flagDebug); err != nil {
			return err
		}

		ctx := cmd.Context()
		svc, err := openServices(ctx, dataDir)
		if err != nil {
			return err
		}
		defer svc.store.Close()

		predictions, err := svc.store.PendingPredictions(ctx, 50)
		if err != nil {
			return err
		}

		reviewed, merged := 0, 0
		for _, p := range predictions {
			if p.Kind != "dedupe_candidate" {
				continue
			}
			match := dedupeCandidatePattern.FindStringSubmatch(p.Content)
			if match == nil {
				continue
			}
			sourceID, _ := strconv.ParseInt(match[1], 10, 64)
			targetID, _ := strconv.ParseInt(match[2], 10, 64)

			source, err := svc.store.GetEntity(ctx, sourceID)
			if err != nil || source == nil || source.DeletedAt != nil {
				_ = svc.store.MarkPredictionShown(ctx, p.ID)
				continue
			}
			target, err := svc.store.GetEntity(ctx, targetID)
			if err != nil || target == nil || target.DeletedAt != nil {
				_ = svc.store.MarkPredictionShown(ctx, p.ID)
				continue
			}

			reviewed++
			approved, err := ui.ConfirmMerge(source.Name, target.Name)
			if err != nil {
				return err
			}
			if !approved {
				_ = svc.store.MarkPredictionShown(ctx, p.ID)
				continue
			}
			if err := svc.remember.MergeEntities(ctx, sourceID, targetID, "dedupe approved"); err != nil {
				fmt.Println(ui.WarnStyle.Render(fmt.Sprintf("merge failed: %v", err)))
				continue
			}
			_ = svc.store.MarkPredictionActedOn(ctx, p.ID)
			merged++
		}

		fmt.Printf("reviewed %d candidates, merged %d\n", reviewed, merged)
		return nil
	},
}
