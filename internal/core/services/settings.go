package services

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/custodia-labs/chunkstore/internal/core/domain"
	"github.com/custodia-labs/chunkstore/internal/core/ports/driven"
	"github.com/custodia-labs/chunkstore/internal/core/ports/driving"
)

// Ensure SettingsService implements the interface.
var _ driving.SettingsService = (*SettingsService)(nil)

// Config keys for settings storage.
//
//nolint:gosec // G101: These are config key names, not actual credentials.
const (
	KeyStorageBackend     = "storage.backend"
	KeyStorageSubBatch    = "storage.sub_batch_size"
	KeyStorageConcurrency = "storage.concurrency"
	KeyStorageDataDir     = "storage.data_dir"
	KeyPostgresDSN        = "postgres.dsn"
	KeyPostgresTable      = "postgres.table"
	KeyRESTURL            = "rest.url"
	KeyRESTAPIKey         = "rest.api_key"
	KeyRESTTable          = "rest.table"
	KeyRESTTimeout        = "rest.timeout_seconds"
	KeyVectorDimensions   = "vector.dimensions"
	KeyVectorMaxNorm      = "vector.max_norm"
	KeyRetryMaxAttempts   = "retry.max_attempts"
	KeyRetryBaseDelay     = "retry.base_delay_ms"
	KeyRetryRate          = "retry.rate_per_second"
)

type keyKind int

const (
	kindString keyKind = iota
	kindInt
	kindFloat
	kindBackend
)

// settingKeys lists every key Set accepts and how its value is parsed.
var settingKeys = map[string]keyKind{
	KeyStorageBackend:     kindBackend,
	KeyStorageSubBatch:    kindInt,
	KeyStorageConcurrency: kindInt,
	KeyStorageDataDir:     kindString,
	KeyPostgresDSN:        kindString,
	KeyPostgresTable:      kindString,
	KeyRESTURL:            kindString,
	KeyRESTAPIKey:         kindString,
	KeyRESTTable:          kindString,
	KeyRESTTimeout:        kindInt,
	KeyVectorDimensions:   kindInt,
	KeyVectorMaxNorm:      kindFloat,
	KeyRetryMaxAttempts:   kindInt,
	KeyRetryBaseDelay:     kindInt,
	KeyRetryRate:          kindFloat,
}

// SettingKeys returns every supported config key in sorted order.
func SettingKeys() []string {
	keys := make([]string, 0, len(settingKeys))
	for k := range settingKeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SettingsService manages application settings.
type SettingsService struct {
	configStore driven.ConfigStore
}

// NewSettingsService creates a new settings service.
func NewSettingsService(configStore driven.ConfigStore) *SettingsService {
	return &SettingsService{configStore: configStore}
}

// Get retrieves current application settings.
// Missing or unusable values fall back to defaults.
func (s *SettingsService) Get() (*domain.AppSettings, error) {
	d := domain.DefaultAppSettings()

	settings := &domain.AppSettings{
		Storage: domain.StorageSettings{
			Backend:      s.getBackend(d.Storage.Backend),
			SubBatchSize: s.getInt(KeyStorageSubBatch, d.Storage.SubBatchSize),
			Concurrency:  s.getInt(KeyStorageConcurrency, d.Storage.Concurrency),
			DataDir:      s.configStore.GetString(KeyStorageDataDir),
		},
		Vector: domain.VectorSettings{
			Dimensions: s.getInt(KeyVectorDimensions, d.Vector.Dimensions),
			MaxNorm:    s.getFloat(KeyVectorMaxNorm, d.Vector.MaxNorm),
		},
		Postgres: domain.PostgresSettings{
			DSN:   s.configStore.GetString(KeyPostgresDSN),
			Table: s.getString(KeyPostgresTable, d.Postgres.Table),
		},
		REST: domain.RESTSettings{
			URL:     s.configStore.GetString(KeyRESTURL),
			APIKey:  s.configStore.GetString(KeyRESTAPIKey),
			Table:   s.getString(KeyRESTTable, d.REST.Table),
			Timeout: s.getSeconds(KeyRESTTimeout, d.REST.Timeout),
		},
		Retry: domain.RetrySettings{
			MaxAttempts:   s.getInt(KeyRetryMaxAttempts, d.Retry.MaxAttempts),
			BaseDelay:     s.getMillis(KeyRetryBaseDelay, d.Retry.BaseDelay),
			RatePerSecond: s.configStore.GetFloat(KeyRetryRate),
		},
	}

	return settings, nil
}

// Save persists application settings.
func (s *SettingsService) Save(settings *domain.AppSettings) error {
	values := []struct {
		key   string
		value any
	}{
		{KeyStorageBackend, settings.Storage.Backend.String()},
		{KeyStorageSubBatch, settings.Storage.SubBatchSize},
		{KeyStorageConcurrency, settings.Storage.Concurrency},
		{KeyStorageDataDir, settings.Storage.DataDir},
		{KeyPostgresDSN, settings.Postgres.DSN},
		{KeyPostgresTable, settings.Postgres.Table},
		{KeyRESTURL, settings.REST.URL},
		{KeyRESTTable, settings.REST.Table},
		{KeyRESTTimeout, int(settings.REST.Timeout / time.Second)},
		{KeyVectorDimensions, settings.Vector.Dimensions},
		{KeyVectorMaxNorm, settings.Vector.MaxNorm},
		{KeyRetryMaxAttempts, settings.Retry.MaxAttempts},
		{KeyRetryBaseDelay, int(settings.Retry.BaseDelay / time.Millisecond)},
		{KeyRetryRate, settings.Retry.RatePerSecond},
	}
	for _, v := range values {
		if err := s.configStore.Set(v.key, v.value); err != nil {
			return fmt.Errorf("save %s: %w", v.key, err)
		}
	}

	// Keys are only written when present so an env-provided secret is not
	// copied into the config file.
	if settings.REST.APIKey != "" {
		if err := s.configStore.Set(KeyRESTAPIKey, settings.REST.APIKey); err != nil {
			return fmt.Errorf("save %s: %w", KeyRESTAPIKey, err)
		}
	}

	return nil
}

// Set parses value according to the key's type and stores it.
func (s *SettingsService) Set(key, value string) error {
	kind, ok := settingKeys[key]
	if !ok {
		return fmt.Errorf("%w: unknown setting %q", domain.ErrInvalidInput, key)
	}
	value = strings.TrimSpace(value)

	var parsed any
	switch kind {
	case kindBackend:
		b := domain.StorageBackend(value)
		if !b.IsValid() {
			return fmt.Errorf("%w: storage backend %q", domain.ErrUnsupportedType, value)
		}
		parsed = b.String()
	case kindInt:
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%w: %s must be an integer, got %q", domain.ErrInvalidInput, key, value)
		}
		if n < 0 {
			return fmt.Errorf("%w: %s must not be negative", domain.ErrInvalidInput, key)
		}
		parsed = n
	case kindFloat:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("%w: %s must be a number, got %q", domain.ErrInvalidInput, key, value)
		}
		if f < 0 {
			return fmt.Errorf("%w: %s must not be negative", domain.ErrInvalidInput, key)
		}
		parsed = f
	default:
		parsed = value
	}

	if err := s.configStore.Set(key, parsed); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

// Validate checks if current settings are usable for the configured backend.
func (s *SettingsService) Validate() error {
	settings, err := s.Get()
	if err != nil {
		return err
	}
	return settings.Validate()
}

// GetDefaults returns default settings.
func (s *SettingsService) GetDefaults() domain.AppSettings {
	return domain.DefaultAppSettings()
}

// Helper methods for reading config with defaults.

func (s *SettingsService) getString(key, defaultVal string) string {
	val := s.configStore.GetString(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getInt(key string, defaultVal int) int {
	val := s.configStore.GetInt(key)
	if val == 0 {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getFloat(key string, defaultVal float64) float64 {
	val := s.configStore.GetFloat(key)
	if val == 0 {
		return defaultVal
	}
	return val
}

func (s *SettingsService) getSeconds(key string, defaultVal time.Duration) time.Duration {
	if n := s.configStore.GetInt(key); n > 0 {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}

func (s *SettingsService) getMillis(key string, defaultVal time.Duration) time.Duration {
	if n := s.configStore.GetInt(key); n > 0 {
		return time.Duration(n) * time.Millisecond
	}
	return defaultVal
}

func (s *SettingsService) getBackend(defaultVal domain.StorageBackend) domain.StorageBackend {
	val := s.configStore.GetString(KeyStorageBackend)
	if val == "" {
		return defaultVal
	}
	backend := domain.StorageBackend(val)
	if !backend.IsValid() {
		return defaultVal
	}
	return backend
}
