package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/claudia-memory/claudia/internal/config"
	"github.com/claudia-memory/claudia/internal/ui"
)

// configCmd prints every effective configuration value and where it came
// from (default, config file, or environment variable).
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show effective configuration and value sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		dataDir, err := resolveDataDir()
		if err != nil {
			return err
		}
		if err := config.Initialize(dataDir); err != nil {
			return err
		}

		settings := config.AllSettings()
		keys := make([]string, 0, len(settings))
		for k := range settings {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Println(ui.TitleStyle.Render("claudia configuration"))
		for _, k := range keys {
			source := config.GetValueSource(k)
			line := fmt.Sprintf("  %-36s %-24v", k, settings[k])
			if source != config.SourceDefault {
				line += ui.WarnStyle.Render(fmt.Sprintf("(%s)", source))
			} else {
				line += ui.MutedStyle.Render("(default)")
			}
			fmt.Println(line)
		}
		return nil
	},
}
