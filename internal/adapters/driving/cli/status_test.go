package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/chunkstore/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/chunkstore/internal/core/domain"
)

func TestStatsCmd(t *testing.T) {
	_, cleanup := setupTestServices(t)
	defer cleanup()

	_, err := runCLI("save", writeChunks(t, testRecord(testID1), testRecord(testID2)))
	require.NoError(t, err)

	t.Run("text", func(t *testing.T) {
		out, err := runCLI("stats")
		require.NoError(t, err)
		assert.Contains(t, out, "Chunks: 2")
		assert.Contains(t, out, "Documents: 1")
		assert.Contains(t, out, "Avg chunks per document: 2.00")
		assert.Contains(t, out, "Sub-batch size: 10")
	})

	t.Run("json", func(t *testing.T) {
		defer func() { jsonOutput = false }()
		out, err := runCLI("stats", "--json")
		require.NoError(t, err)

		var stats domain.StatsSnapshot
		require.NoError(t, json.Unmarshal([]byte(out), &stats))
		assert.Equal(t, 2, stats.TotalChunks)
		assert.Equal(t, 1, stats.TotalDocuments)
		assert.Equal(t, 2.0, stats.AvgChunksPerDocument)
		assert.False(t, stats.QueriedAt.IsZero())
	})
}

func TestStatsCmd_StoreFailure(t *testing.T) {
	env, cleanup := setupTestServices(t)
	defer cleanup()
	env.store.FailAll(memory.OpStats, domain.ErrStoreUnavailable)

	_, err := runCLI("stats")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get stats")
}

func TestStatsCmd_RejectsArgs(t *testing.T) {
	_, cleanup := setupTestServices(t)
	defer cleanup()

	_, err := runCLI("stats", "extra")
	assert.Error(t, err)
}

func TestHealthCmd(t *testing.T) {
	env, cleanup := setupTestServices(t)
	defer cleanup()

	t.Run("healthy", func(t *testing.T) {
		out, err := runCLI("health")
		require.NoError(t, err)
		assert.Contains(t, out, "Store is healthy.")
	})

	t.Run("unhealthy", func(t *testing.T) {
		env.store.FailAll(memory.OpPing, domain.ErrStoreUnavailable)
		defer env.store.FailAll(memory.OpPing, nil)

		out, err := runCLI("health")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
		assert.NotContains(t, out, "healthy.")
	})

	t.Run("unhealthy json", func(t *testing.T) {
		env.store.FailAll(memory.OpPing, domain.ErrStoreUnavailable)
		defer env.store.FailAll(memory.OpPing, nil)
		defer func() { jsonOutput = false }()

		out, err := runCLI("health", "--json")
		require.Error(t, err)

		var decoded struct {
			Healthy bool   `json:"healthy"`
			Error   string `json:"error"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &decoded))
		assert.False(t, decoded.Healthy)
		assert.Contains(t, decoded.Error, "store unavailable")
	})
}
