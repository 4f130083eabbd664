// Package cli provides the chunkstore command line interface.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/chunkstore/internal/core/ports/driving"
	"github.com/custodia-labs/chunkstore/internal/logger"
)

// version is set at build time via ldflags.
var version = "dev"

// Services injected by main.
var (
	chunkStorage    driving.ChunkStorage
	settingsService driving.SettingsService
)

// Global flags.
var (
	verbose    bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "chunkstore",
	Short: "Batched storage for embedded document chunks",
	Long: `chunkstore validates embedded text chunks and stores them in sub-batches
against SQLite, PostgreSQL with pgvector, or a Supabase/PostgREST endpoint.

Partial failures never abort a batch: every command reports how many records
committed and why the others did not.`,
	SilenceUsage: true,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.SetVerbose(verbose)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Print debug logging to stderr")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
}

// SetServices injects the core services used by the commands.
func SetServices(storage driving.ChunkStorage, settings driving.SettingsService) {
	chunkStorage = storage
	settingsService = settings
}

// SetVersion sets the version reported by the version command.
func SetVersion(v string) {
	if v != "" {
		version = v
	}
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
