package mcp

import (
	"context"

	"github.com/custodia-labs/chunkstore/internal/core/domain"
)

// mockStorage is a mock implementation of driving.ChunkStorage.
type mockStorage struct {
	outcome  *domain.BatchOutcome
	existing []string
	stats    *domain.StatsSnapshot
	err      error
	health   error

	savedRecords []domain.ChunkRecord
	updates      []domain.EmbeddingUpdate
	deleted      []string
	checked      []string
}

func (m *mockStorage) SaveChunksBatch(_ context.Context, records []domain.ChunkRecord) (*domain.BatchOutcome, error) {
	m.savedRecords = records
	return m.result()
}

func (m *mockStorage) UpdateEmbeddingsBatch(_ context.Context, updates []domain.EmbeddingUpdate) (*domain.BatchOutcome, error) {
	m.updates = updates
	return m.result()
}

func (m *mockStorage) DeleteChunksBatch(_ context.Context, ids []string) (*domain.BatchOutcome, error) {
	m.deleted = ids
	return m.result()
}

func (m *mockStorage) CheckDuplicates(_ context.Context, ids []string) ([]string, error) {
	m.checked = ids
	return m.existing, m.err
}

func (m *mockStorage) GetStorageStats(_ context.Context) (*domain.StatsSnapshot, error) {
	return m.stats, m.err
}

func (m *mockStorage) HealthCheck(_ context.Context) error {
	return m.health
}

func (m *mockStorage) result() (*domain.BatchOutcome, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.outcome == nil {
		return domain.NewBatchOutcome(), nil
	}
	return m.outcome, nil
}

// mockSettingsService is a mock implementation of driving.SettingsService.
type mockSettingsService struct {
	settings *domain.AppSettings
	err      error
}

func (m *mockSettingsService) Get() (*domain.AppSettings, error) {
	return m.settings, m.err
}

func (m *mockSettingsService) Save(_ *domain.AppSettings) error {
	return m.err
}

func (m *mockSettingsService) Set(_, _ string) error {
	return m.err
}

func (m *mockSettingsService) Validate() error {
	return m.err
}

func (m *mockSettingsService) GetDefaults() domain.AppSettings {
	return domain.DefaultAppSettings()
}
