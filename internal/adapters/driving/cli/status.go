package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show storage statistics",
	Long:  `Count stored chunks and distinct documents. Figures are queried live.`,
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the store is reachable",
	Args:  cobra.NoArgs,
	RunE:  runHealth,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(healthCmd)
}

func runStats(cmd *cobra.Command, _ []string) error {
	if chunkStorage == nil {
		return errors.New("chunk storage not configured")
	}

	stats, err := chunkStorage.GetStorageStats(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	if jsonOutput {
		return writeJSON(cmd, stats)
	}

	cmd.Println("Storage Statistics")
	cmd.Println("==================")
	cmd.Printf("  Chunks: %d\n", stats.TotalChunks)
	cmd.Printf("  Documents: %d\n", stats.TotalDocuments)
	cmd.Printf("  Avg chunks per document: %.2f\n", stats.AvgChunksPerDocument)
	cmd.Printf("  Sub-batch size: %d\n", stats.SubBatchSize)
	cmd.Printf("  Queried at: %s\n", stats.QueriedAt.Format(time.RFC3339))
	return nil
}

func runHealth(cmd *cobra.Command, _ []string) error {
	if chunkStorage == nil {
		return errors.New("chunk storage not configured")
	}

	err := chunkStorage.HealthCheck(cmd.Context())
	if jsonOutput {
		out := struct {
			Healthy bool   `json:"healthy"`
			Error   string `json:"error,omitempty"`
		}{Healthy: err == nil}
		if err != nil {
			out.Error = err.Error()
		}
		if werr := writeJSON(cmd, out); werr != nil {
			return werr
		}
	}
	if err != nil {
		return fmt.Errorf("store is not healthy: %w", err)
	}

	if !jsonOutput {
		cmd.Println("Store is healthy.")
	}
	return nil
}
