// Command claudia is the personal memory daemon: it ingests conversation
// turns over a stdio tool-call surface, maintains the memory graph in the
// background, and projects a read-only markdown vault.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/claudia-memory/claudia/internal/config"
	"github.com/claudia-memory/claudia/internal/debug"
)

var (
	flagStandalone        bool
	flagDebug             bool
	flagConsolidate       bool
	flagCheck             bool
	flagTUI               bool
	flagMigrateEmbeddings bool
	flagProjectDir        string
)

var rootCmd = &cobra.Command{
	Use:   "claudia",
	Short: "Local personal memory engine",
	Long: `Claudia is a local, single-user memory engine that runs beside an AI
coding assistant: it extracts entities, facts, commitments, and relationships
from conversation turns, stores them in a bi-temporal graph, and serves
low-latency recall over a stdio tool-call interface.`,
	SilenceUsage:  true,
	SilenceErrors: true,
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

		switch {
		case flagCheck:
			return runDoctor(cmd.Context(), dataDir)
		case flagConsolidate:
			return runConsolidateOnce(cmd.Context(), dataDir)
		case flagMigrateEmbeddings:
			return runMigrateEmbeddings(cmd.Context(), dataDir)
		case flagTUI:
			return runTUI(cmd.Context(), dataDir)
		default:
			return runDaemon(cmd.Context(), dataDir)
		}
	},
}

func resolveDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	dataDir := filepath.Join(home, ".claudia")
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	return dataDir, nil
}

func main() {
	rootCmd.PersistentFlags().BoolVar(&flagStandalone, "standalone", false, "run without an attached parent process (no stdio tool loop)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "echo debug logging to stderr")
	rootCmd.PersistentFlags().BoolVar(&flagConsolidate, "consolidate", false, "run one full consolidation pass and exit")
	rootCmd.PersistentFlags().BoolVar(&flagCheck, "check", false, "run health checks and exit")
	rootCmd.PersistentFlags().BoolVar(&flagTUI, "tui", false, "open the terminal dashboard")
	rootCmd.PersistentFlags().BoolVar(&flagMigrateEmbeddings, "migrate-embeddings", false, "rebuild the vector tables under the configured model and exit")
	rootCmd.PersistentFlags().StringVar(&flagProjectDir, "project-dir", "", "project directory this daemon serves (namespaces the database)")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dedupeCmd)
	rootCmd.AddCommand(searchCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "claudia:", err)
		os.Exit(1)
	}
}
