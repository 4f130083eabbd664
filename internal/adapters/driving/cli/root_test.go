package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/chunkstore/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/chunkstore/internal/chunkfile"
	"github.com/custodia-labs/chunkstore/internal/core/domain"
	"github.com/custodia-labs/chunkstore/internal/core/services"
)

const (
	testDocID = "a3c9e1f0-2b4d-4c6e-8f0a-1b3d5f7a9c2e"
	testID1   = "6f1c2b1e-8a4d-4f7e-9c55-0d7b3e2a9f10"
	testID2   = "0b6e7f3a-1c2d-4e5f-8a9b-c0d1e2f3a4b5"
)

// testEnv holds the stores behind the injected services.
type testEnv struct {
	store  *memory.ChunkStore
	config *memory.ConfigStore
}

// setupTestServices wires an engine over an in-memory store with
// two-dimensional vectors and returns a cleanup function.
func setupTestServices(t *testing.T) (*testEnv, func()) {
	t.Helper()
	origStorage, origSettings := chunkStorage, settingsService

	env := &testEnv{store: memory.NewChunkStore(), config: memory.NewConfigStore()}
	engine, err := services.NewStorageEngine(env.store,
		services.WithSubBatchSize(10),
		services.WithVectorLimits(domain.VectorLimits{Dimensions: 2, MaxNorm: 1000}))
	require.NoError(t, err)
	SetServices(engine, services.NewSettingsService(env.config))

	return env, func() {
		chunkStorage, settingsService = origStorage, origSettings
		jsonOutput = false
		verbose = false
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
	}
}

// runCLI executes the root command with args and returns its standard output.
func runCLI(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func testRecord(id string, embedding ...float32) domain.ChunkRecord {
	if len(embedding) == 0 {
		embedding = []float32{0.6, 0.8}
	}
	return domain.NewChunkRecord(domain.ChunkFields{
		ID:         id,
		DocumentID: testDocID,
		Content:    "chunk " + id[:4],
		SourceName: "manual.pdf",
		PageNumber: 1,
		Embedding:  embedding,
		TokenCount: 2,
	})
}

func writeChunks(t *testing.T, records ...domain.ChunkRecord) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, chunkfile.EncodeChunks(&buf, records))
	return writeFile(t, "chunks.jsonl", buf.String())
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRootCmd_Use(t *testing.T) {
	assert.Equal(t, "chunkstore", rootCmd.Use)
	assert.True(t, rootCmd.SilenceUsage)
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	commands := rootCmd.Commands()
	commandNames := make([]string, 0, len(commands))
	for _, cmd := range commands {
		commandNames = append(commandNames, cmd.Name())
	}

	for _, name := range []string{
		"save", "update-embeddings", "delete", "check",
		"stats", "health", "settings", "mcp", "watch", "version",
	} {
		assert.Contains(t, commandNames, name)
	}
}

func TestRootCmd_PersistentFlags(t *testing.T) {
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("verbose"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("json"))
}

func TestSetVersion(t *testing.T) {
	original := version
	defer func() { version = original }()

	SetVersion("1.2.3")
	assert.Equal(t, "1.2.3", version)

	SetVersion("")
	assert.Equal(t, "1.2.3", version)
}

func TestCommands_ServiceNotConfigured(t *testing.T) {
	origStorage, origSettings := chunkStorage, settingsService
	chunkStorage, settingsService = nil, nil
	defer func() {
		chunkStorage, settingsService = origStorage, origSettings
		rootCmd.SetArgs(nil)
	}()

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"save", "x.jsonl"}, "chunk storage not configured"},
		{[]string{"update-embeddings", "x.jsonl"}, "chunk storage not configured"},
		{[]string{"delete", "ids.txt"}, "chunk storage not configured"},
		{[]string{"check", "ids.txt"}, "chunk storage not configured"},
		{[]string{"stats"}, "chunk storage not configured"},
		{[]string{"health"}, "chunk storage not configured"},
		{[]string{"mcp", "serve"}, "chunk storage not configured"},
		{[]string{"watch", "."}, "chunk storage not configured"},
		{[]string{"settings", "show"}, "settings service not configured"},
		{[]string{"settings", "set", "a", "b"}, "settings service not configured"},
		{[]string{"settings", "wizard"}, "settings service not configured"},
	}

	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			_, err := runCLI(tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

