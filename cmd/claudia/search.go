package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/claudia-memory/claudia/internal/config"
	"github.com/claudia-memory/claudia/internal/types"
	"github.com/claudia-memory/claudia/internal/ui"
	"github.com/claudia-memory/claudia/internal/utils"
)

// searchCmd is the CLI twin of the memory.search_entities tool, rendered as
// a styled table for interactive use.
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search entities by name or alias",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, err := resolveDataDir()
		if err != nil {
			return err
		}
		if err := config.Initialize(dataDir); err != nil {
			return err
		}

		ctx := cmd.Context()
		svc, err := openServices(ctx, dataDir)
		if err != nil {
			return err
		}
		defer svc.store.Close()

		query := strings.Join(args, " ")
		entities, err := svc.recall.SearchEntities(ctx, query, nil, 20)
		if err != nil {
			return err
		}
		if len(entities) == 0 {
			fmt.Printf("no entities match %q\n", query)
			if suggestion := closestEntityName(ctx, svc, query); suggestion != "" {
				fmt.Printf("did you mean %q?\n", suggestion)
			}
			return nil
		}

		tbl := ui.NewSearchTable(ui.GetWidth()).
			Headers("Name", "Type", "Importance", "Description")
		for _, e := range entities {
			desc := e.Description
			if len(desc) > 60 {
				desc = desc[:57] + "…"
			}
			importance := ui.ImportanceStyle(e.Importance).Render(fmt.Sprintf("%.2f", e.Importance))
			if e.AttentionTier == types.TierArchive {
				importance = ui.TableWarningStyle.Render(fmt.Sprintf("%.2f", e.Importance))
			}
			tbl.Row(e.Name, e.Type, importance, desc)
		}
		if ui.ShouldUseColor() {
			fmt.Println(tbl.String())
			return nil
		}
		// Plain output for pipes and NO_COLOR terminals.
		for _, e := range entities {
			fmt.Printf("%s\t%s\t%.2f\t%s\n", e.Name, e.Type, e.Importance, e.Description)
		}
		return nil
	},
}

// closestEntityName finds the nearest-by-edit-distance live entity name for
// a typo suggestion, within a small distance bound so unrelated names are
// never offered.
func closestEntityName(ctx context.Context, svc *services, query string) string {
	entities, err := svc.store.ListEntities(ctx)
	if err != nil {
		return ""
	}
	best, bestDist := "", 4
	lower := strings.ToLower(query)
	for _, e := range entities {
		d := utils.ComputeDistance(lower, e.CanonicalName)
		if d < bestDist {
			best, bestDist = e.Name, d
		}
	}
	return best
}
