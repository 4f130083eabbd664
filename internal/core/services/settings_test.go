package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/chunkstore/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/chunkstore/internal/core/domain"
)

func TestNewSettingsService(t *testing.T) {
	service := NewSettingsService(memory.NewConfigStore())
	require.NotNil(t, service)
}

func TestSettingsService_Get_ReturnsDefaults(t *testing.T) {
	service := NewSettingsService(memory.NewConfigStore())

	settings, err := service.Get()

	require.NoError(t, err)
	require.NotNil(t, settings)
	assert.Equal(t, domain.DefaultAppSettings(), *settings)
}

func TestSettingsService_Get_ReturnsStoredValues(t *testing.T) {
	store := memory.NewConfigStore()
	_ = store.Set(KeyStorageBackend, "rest")
	_ = store.Set(KeyStorageSubBatch, int64(250))
	_ = store.Set(KeyStorageConcurrency, 4)
	_ = store.Set(KeyRESTURL, "https://xyz.supabase.co")
	_ = store.Set(KeyRESTAPIKey, "anon")
	_ = store.Set(KeyRESTTimeout, 5)
	_ = store.Set(KeyVectorDimensions, 768)
	_ = store.Set(KeyVectorMaxNorm, int64(50))
	_ = store.Set(KeyRetryBaseDelay, 50)
	_ = store.Set(KeyRetryRate, 2.5)

	settings, err := NewSettingsService(store).Get()

	require.NoError(t, err)
	assert.Equal(t, domain.StorageBackendREST, settings.Storage.Backend)
	assert.Equal(t, 250, settings.Storage.SubBatchSize)
	assert.Equal(t, 4, settings.Storage.Concurrency)
	assert.Equal(t, "https://xyz.supabase.co", settings.REST.URL)
	assert.Equal(t, "anon", settings.REST.APIKey)
	assert.Equal(t, 5*time.Second, settings.REST.Timeout)
	assert.Equal(t, 768, settings.Vector.Dimensions)
	assert.Equal(t, 50.0, settings.Vector.MaxNorm)
	assert.Equal(t, 50*time.Millisecond, settings.Retry.BaseDelay)
	assert.Equal(t, 2.5, settings.Retry.RatePerSecond)
}

func TestSettingsService_Get_InvalidBackendReturnsDefault(t *testing.T) {
	store := memory.NewConfigStore()
	_ = store.Set(KeyStorageBackend, "mongodb")

	settings, err := NewSettingsService(store).Get()

	require.NoError(t, err)
	assert.Equal(t, domain.StorageBackendSQLite, settings.Storage.Backend)
}

func TestSettingsService_SaveThenGet(t *testing.T) {
	store := memory.NewConfigStore()
	service := NewSettingsService(store)

	want := domain.DefaultAppSettings()
	want.Storage.Backend = domain.StorageBackendPostgres
	want.Storage.SubBatchSize = 500
	want.Postgres.DSN = "postgres://localhost/chunks"
	want.Retry.MaxAttempts = 5
	want.Retry.BaseDelay = time.Second
	want.Retry.RatePerSecond = 10

	require.NoError(t, service.Save(&want))

	got, err := service.Get()
	require.NoError(t, err)
	assert.Equal(t, want, *got)

	_, hasKey := store.Get(KeyRESTAPIKey)
	assert.False(t, hasKey, "empty api key is not persisted")
}

func TestSettingsService_Set(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		want    any
		wantErr error
	}{
		{"backend", KeyStorageBackend, "memory", "memory", nil},
		{"backend invalid", KeyStorageBackend, "redis", nil, domain.ErrUnsupportedType},
		{"int", KeyStorageSubBatch, " 200 ", 200, nil},
		{"int invalid", KeyStorageSubBatch, "lots", nil, domain.ErrInvalidInput},
		{"int negative", KeyStorageConcurrency, "-1", nil, domain.ErrInvalidInput},
		{"float", KeyVectorMaxNorm, "12.5", 12.5, nil},
		{"float invalid", KeyRetryRate, "fast", nil, domain.ErrInvalidInput},
		{"string", KeyRESTURL, "http://localhost:54321", "http://localhost:54321", nil},
		{"unknown key", "search.mode", "hybrid", nil, domain.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewConfigStore()
			err := NewSettingsService(store).Set(tt.key, tt.value)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				_, exists := store.Get(tt.key)
				assert.False(t, exists)
				return
			}
			require.NoError(t, err)
			got, _ := store.Get(tt.key)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSettingsService_Validate(t *testing.T) {
	store := memory.NewConfigStore()
	service := NewSettingsService(store)
	assert.NoError(t, service.Validate())

	require.NoError(t, service.Set(KeyStorageBackend, "rest"))
	assert.ErrorIs(t, service.Validate(), domain.ErrConfiguration)

	require.NoError(t, service.Set(KeyRESTURL, "https://xyz.supabase.co"))
	require.NoError(t, service.Set(KeyRESTAPIKey, "anon"))
	assert.NoError(t, service.Validate())
}

func TestSettingKeys(t *testing.T) {
	keys := SettingKeys()
	assert.Len(t, keys, len(settingKeys))
	assert.IsNonDecreasing(t, keys)
	assert.Contains(t, keys, KeyStorageBackend)
}

func TestSettingsService_GetDefaults(t *testing.T) {
	assert.Equal(t, domain.DefaultAppSettings(), NewSettingsService(memory.NewConfigStore()).GetDefaults())
}
