package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/custodia-labs/chunkstore/internal/core/domain"
	"github.com/custodia-labs/chunkstore/internal/core/services"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage application settings",
	Long: `View and configure the storage backend, batching and vector limits.

Settings live in ~/.chunkstore/config.toml. CHUNKSTORE_* environment variables
override them, e.g. CHUNKSTORE_STORAGE_BACKEND=postgres.`,
	RunE: runSettingsShow,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a single setting",
	Long:  `Set a single setting by key. Run 'chunkstore settings keys' to list keys.`,
	Args:  cobra.ExactArgs(2),
	RunE:  runSettingsSet,
}

var settingsKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List setting keys",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		for _, key := range services.SettingKeys() {
			cmd.Println(key)
		}
	},
}

var settingsWizardCmd = &cobra.Command{
	Use:   "wizard",
	Short: "Interactive setup wizard",
	Long:  `Run an interactive wizard to choose a storage backend and its connection settings.`,
	RunE:  runSettingsWizard,
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsKeysCmd)
	settingsCmd.AddCommand(settingsWizardCmd)
	rootCmd.AddCommand(settingsCmd)
}

func runSettingsShow(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	settings, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	cmd.Println("Current Settings")
	cmd.Println("================")
	cmd.Println()

	cmd.Println("[Storage]")
	cmd.Printf("  Backend: %s\n", settings.Storage.Backend.Description())
	cmd.Printf("  Sub-batch size: %d\n", settings.Storage.SubBatchSize)
	cmd.Printf("  Concurrency: %d\n", settings.Storage.Concurrency)
	if settings.Storage.Backend == domain.StorageBackendSQLite {
		dataDir := settings.Storage.DataDir
		if dataDir == "" {
			dataDir = "(default)"
		}
		cmd.Printf("  Data dir: %s\n", dataDir)
	}
	cmd.Println()

	switch settings.Storage.Backend {
	case domain.StorageBackendPostgres:
		cmd.Println("[Postgres]")
		cmd.Printf("  DSN: %s\n", valueOrUnset(maskDSN(settings.Postgres.DSN)))
		cmd.Printf("  Table: %s\n", settings.Postgres.Table)
		cmd.Println()
	case domain.StorageBackendREST:
		cmd.Println("[REST]")
		cmd.Printf("  URL: %s\n", valueOrUnset(settings.REST.URL))
		if settings.REST.APIKey != "" {
			cmd.Printf("  API Key: %s\n", maskAPIKey(settings.REST.APIKey))
		} else {
			cmd.Printf("  API Key: (not set)\n")
		}
		cmd.Printf("  Table: %s\n", settings.REST.Table)
		cmd.Printf("  Timeout: %s\n", settings.REST.Timeout)
		cmd.Println()
	}

	cmd.Println("[Vector]")
	cmd.Printf("  Dimensions: %d\n", settings.Vector.Dimensions)
	cmd.Printf("  Max norm: %g\n", settings.Vector.MaxNorm)
	cmd.Println()

	cmd.Println("[Retry]")
	cmd.Printf("  Max attempts: %d\n", settings.Retry.MaxAttempts)
	cmd.Printf("  Base delay: %s\n", settings.Retry.BaseDelay)
	if settings.Retry.RatePerSecond > 0 {
		cmd.Printf("  Rate limit: %g calls/s\n", settings.Retry.RatePerSecond)
	} else {
		cmd.Printf("  Rate limit: off\n")
	}
	cmd.Println()

	if err := settingsService.Validate(); err != nil {
		cmd.Printf("Warning: %v\n", err)
		cmd.Println("Run 'chunkstore settings wizard' to fix configuration issues.")
	} else {
		cmd.Println("Configuration is valid.")
	}

	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	if err := settingsService.Set(args[0], args[1]); err != nil {
		return fmt.Errorf("failed to set %s: %w", args[0], err)
	}

	shown := args[1]
	if args[0] == services.KeyRESTAPIKey {
		shown = maskAPIKey(shown)
	}
	cmd.Printf("Set %s = %s\n", args[0], shown)
	return nil
}

func runSettingsWizard(cmd *cobra.Command, _ []string) error {
	if settingsService == nil {
		return errors.New("settings service not configured")
	}

	current, err := settingsService.Get()
	if err != nil {
		return fmt.Errorf("failed to get settings: %w", err)
	}

	cmd.Println("chunkstore Settings Wizard")
	cmd.Println("==========================")
	cmd.Println()

	reader := bufio.NewReader(cmd.InOrStdin())

	// Step 1: Backend
	cmd.Println("Step 1: Select Storage Backend")
	cmd.Println("------------------------------")
	backends := domain.AllStorageBackends()
	defaultIdx := 1
	for i, b := range backends {
		cmd.Printf("  %d. %s\n", i+1, b.Description())
		if b == current.Storage.Backend {
			defaultIdx = i + 1
		}
	}
	cmd.Printf("\nEnter choice [%d]: ", defaultIdx)
	backend := backends[parseChoice(readLine(reader), len(backends), defaultIdx)-1]

	values := [][2]string{{services.KeyStorageBackend, backend.String()}}

	// Step 2: Connection
	cmd.Println()
	cmd.Println("Step 2: Connection")
	cmd.Println("------------------")
	switch backend {
	case domain.StorageBackendSQLite:
		dir := prompt(cmd, reader, "Data directory", current.Storage.DataDir)
		values = append(values, [2]string{services.KeyStorageDataDir, dir})
	case domain.StorageBackendPostgres:
		dsn := prompt(cmd, reader, "Connection string", current.Postgres.DSN)
		if dsn == "" {
			return errors.New("a connection string is required for the postgres backend")
		}
		table := prompt(cmd, reader, "Table", current.Postgres.Table)
		values = append(values,
			[2]string{services.KeyPostgresDSN, dsn},
			[2]string{services.KeyPostgresTable, table})
	case domain.StorageBackendREST:
		url := prompt(cmd, reader, "Project URL", current.REST.URL)
		if url == "" {
			return errors.New("a project URL is required for the rest backend")
		}
		cmd.Print("Enter API key: ")
		apiKey := readSecret(cmd.InOrStdin(), reader)
		cmd.Println()
		if apiKey == "" {
			apiKey = current.REST.APIKey
		}
		if apiKey == "" {
			return errors.New("API key is required for the rest backend")
		}
		table := prompt(cmd, reader, "Table", current.REST.Table)
		values = append(values,
			[2]string{services.KeyRESTURL, url},
			[2]string{services.KeyRESTAPIKey, apiKey},
			[2]string{services.KeyRESTTable, table})
	default:
		cmd.Println("Nothing to configure.")
	}

	// Step 3: Batching and vectors
	cmd.Println()
	cmd.Println("Step 3: Batching")
	cmd.Println("----------------")
	values = append(values,
		[2]string{services.KeyStorageSubBatch,
			prompt(cmd, reader, "Sub-batch size", strconv.Itoa(current.Storage.SubBatchSize))},
		[2]string{services.KeyVectorDimensions,
			prompt(cmd, reader, "Embedding dimensions", strconv.Itoa(current.Vector.Dimensions))})

	for _, kv := range values {
		if kv[1] == "" {
			continue
		}
		if err := settingsService.Set(kv[0], kv[1]); err != nil {
			return fmt.Errorf("failed to set %s: %w", kv[0], err)
		}
	}

	cmd.Println()
	if err := settingsService.Validate(); err != nil {
		cmd.Printf("Warning: %v\n", err)
		return nil
	}
	cmd.Printf("Storage configured: %s\n", backend.Description())
	return nil
}

// prompt asks for a value, returning def when the answer is empty.
func prompt(cmd *cobra.Command, reader *bufio.Reader, label, def string) string {
	if def != "" {
		cmd.Printf("%s [%s]: ", label, def)
	} else {
		cmd.Printf("%s: ", label)
	}
	if v := readLine(reader); v != "" {
		return v
	}
	return def
}

// Helper functions.

//nolint:errcheck // CLI helper, error ignored for UX
func readLine(reader *bufio.Reader) string {
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

func parseChoice(input string, maxVal, defaultVal int) int {
	if input == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(input)
	if err != nil || val < 1 || val > maxVal {
		return defaultVal
	}
	return val
}

// readSecret reads without echo when in is a terminal, otherwise a plain line.
func readSecret(in io.Reader, reader *bufio.Reader) string {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		password, err := term.ReadPassword(int(f.Fd()))
		if err == nil {
			return strings.TrimSpace(string(password))
		}
	}
	return readLine(reader)
}

func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// maskDSN hides the password of a URL-style connection string.
func maskDSN(dsn string) string {
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return dsn
	}
	userinfo, host := rest[:at], rest[at+1:]
	user, _, hasPassword := strings.Cut(userinfo, ":")
	if !hasPassword {
		return dsn
	}
	return scheme + "://" + user + ":****@" + host
}

func valueOrUnset(v string) string {
	if v == "" {
		return "(not set)"
	}
	return v
}
