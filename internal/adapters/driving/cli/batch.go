package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/chunkstore/internal/chunkfile"
	"github.com/custodia-labs/chunkstore/internal/core/domain"
)

var saveCmd = &cobra.Command{
	Use:   "save [file]",
	Short: "Save chunks from a JSON Lines file",
	Long: `Validate and upsert every chunk in a JSON Lines file. Use - to read stdin.

Each line is one chunk:
  {"id":"...","document_id":"...","content":"...","filename":"a.pdf",
   "page_number":1,"start_pos":{"x":0,"y":0},"embedding":[...],"token_count":12}

Invalid chunks are reported and skipped; the rest are stored.`,
	Args: cobra.ExactArgs(1),
	RunE: runSave,
}

var updateEmbeddingsCmd = &cobra.Command{
	Use:   "update-embeddings [file]",
	Short: "Replace embeddings from a JSON Lines file",
	Long:  `Replace the embeddings of existing chunks. Each line is {"id":"...","embedding":[...]}.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runUpdateEmbeddings,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [file]",
	Short: "Delete chunks listed in a file",
	Long:  `Delete the chunks whose ids are listed one per line. Ids that are not stored count as deleted.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var checkCmd = &cobra.Command{
	Use:   "check [file]",
	Short: "List which ids are already stored",
	Long:  `Read ids one per line and print those that already exist in the store.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(updateEmbeddingsCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(checkCmd)
}

func runSave(cmd *cobra.Command, args []string) error {
	if chunkStorage == nil {
		return errors.New("chunk storage not configured")
	}

	var records []domain.ChunkRecord
	err := withInput(cmd, args[0], func(r io.Reader) error {
		var err error
		records, err = chunkfile.DecodeChunks(r)
		return err
	})
	if err != nil {
		return err
	}

	outcome, err := chunkStorage.SaveChunksBatch(cmd.Context(), records)
	if err != nil {
		return fmt.Errorf("failed to save chunks: %w", err)
	}
	return printOutcome(cmd, "Saved", outcome)
}

func runUpdateEmbeddings(cmd *cobra.Command, args []string) error {
	if chunkStorage == nil {
		return errors.New("chunk storage not configured")
	}

	var updates []domain.EmbeddingUpdate
	err := withInput(cmd, args[0], func(r io.Reader) error {
		var err error
		updates, err = chunkfile.DecodeUpdates(r)
		return err
	})
	if err != nil {
		return err
	}

	outcome, err := chunkStorage.UpdateEmbeddingsBatch(cmd.Context(), updates)
	if err != nil {
		return fmt.Errorf("failed to update embeddings: %w", err)
	}
	return printOutcome(cmd, "Updated", outcome)
}

func runDelete(cmd *cobra.Command, args []string) error {
	if chunkStorage == nil {
		return errors.New("chunk storage not configured")
	}

	ids, err := readIDs(cmd, args[0])
	if err != nil {
		return err
	}

	outcome, err := chunkStorage.DeleteChunksBatch(cmd.Context(), ids)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return printOutcome(cmd, "Deleted", outcome)
}

func runCheck(cmd *cobra.Command, args []string) error {
	if chunkStorage == nil {
		return errors.New("chunk storage not configured")
	}

	ids, err := readIDs(cmd, args[0])
	if err != nil {
		return err
	}

	existing, err := chunkStorage.CheckDuplicates(cmd.Context(), ids)
	if err != nil {
		return fmt.Errorf("failed to check duplicates: %w", err)
	}
	if existing == nil {
		existing = []string{}
	}

	if jsonOutput {
		return writeJSON(cmd, struct {
			Existing []string `json:"existing"`
			Count    int      `json:"count"`
		}{existing, len(existing)})
	}

	for _, id := range existing {
		cmd.Println(id)
	}
	cmd.Printf("%d of %d ids already stored\n", len(existing), len(ids))
	return nil
}

func readIDs(cmd *cobra.Command, name string) ([]string, error) {
	var ids []string
	err := withInput(cmd, name, func(r io.Reader) error {
		var err error
		ids, err = chunkfile.DecodeIDs(r)
		return err
	})
	return ids, err
}

// withInput opens name, or stdin when name is "-", and passes it to fn.
func withInput(cmd *cobra.Command, name string, fn func(io.Reader) error) error {
	if name == "-" {
		if err := fn(cmd.InOrStdin()); err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		return nil
	}

	f, err := os.Open(name)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	defer f.Close()

	if err := fn(f); err != nil {
		return fmt.Errorf("reading %s: %w", name, err)
	}
	return nil
}

// printOutcome reports a batch result. It returns an error when any record
// failed so the process exits non-zero.
func printOutcome(cmd *cobra.Command, verb string, outcome *domain.BatchOutcome) error {
	if jsonOutput {
		if err := writeJSON(cmd, struct {
			*domain.BatchOutcome
			SuccessRate float64 `json:"success_rate"`
		}{outcome, outcome.SuccessRate()}); err != nil {
			return err
		}
	} else {
		cmd.Printf("%s %d of %d records (%.2f%% success)\n",
			verb, outcome.SuccessCount, outcome.TotalCount, outcome.SuccessRate()*100)
		if outcome.FailureCount > 0 {
			cmd.Println()
			cmd.Println("Failures:")
			for _, f := range outcome.Failures {
				cmd.Printf("  %s  %s\n", displayID(f.ID), f.Error())
			}
		}
	}

	if outcome.FailureCount > 0 {
		return fmt.Errorf("%d of %d records failed", outcome.FailureCount, outcome.TotalCount)
	}
	return nil
}

func displayID(id string) string {
	if id == "" {
		return "(no id)"
	}
	return id
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}
