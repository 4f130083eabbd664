package domain

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStorageBackend_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		backend  StorageBackend
		expected bool
	}{
		{"memory is valid", StorageBackendMemory, true},
		{"sqlite is valid", StorageBackendSQLite, true},
		{"postgres is valid", StorageBackendPostgres, true},
		{"rest is valid", StorageBackendREST, true},
		{"empty string is invalid", StorageBackend(""), false},
		{"unknown backend is invalid", StorageBackend("milvus"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.backend.IsValid())
		})
	}
}

func TestStorageBackend_IsRemote(t *testing.T) {
	assert.False(t, StorageBackendMemory.IsRemote())
	assert.False(t, StorageBackendSQLite.IsRemote())
	assert.True(t, StorageBackendPostgres.IsRemote())
	assert.True(t, StorageBackendREST.IsRemote())
}

func TestStorageBackend_Description(t *testing.T) {
	for _, b := range AllStorageBackends() {
		assert.NotEqual(t, unknownDescription, b.Description(), b.String())
	}
	assert.Equal(t, unknownDescription, StorageBackend("nope").Description())
}

func TestDefaultAppSettings(t *testing.T) {
	s := DefaultAppSettings()

	assert.Equal(t, StorageBackendSQLite, s.Storage.Backend)
	assert.Equal(t, 100, s.Storage.SubBatchSize)
	assert.Equal(t, 1, s.Storage.Concurrency)
	assert.Equal(t, 1536, s.Vector.Dimensions)
	assert.Equal(t, 1000.0, s.Vector.MaxNorm)
	assert.NoError(t, s.Validate())
}

func TestAppSettings_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AppSettings)
		wantErr error
	}{
		{"unknown backend", func(s *AppSettings) { s.Storage.Backend = "x" }, ErrUnsupportedType},
		{"zero sub-batch size", func(s *AppSettings) { s.Storage.SubBatchSize = 0 }, ErrConfiguration},
		{"negative concurrency", func(s *AppSettings) { s.Storage.Concurrency = -1 }, ErrConfiguration},
		{"zero dimensions", func(s *AppSettings) { s.Vector.Dimensions = 0 }, ErrConfiguration},
		{"zero max norm", func(s *AppSettings) { s.Vector.MaxNorm = 0 }, ErrConfiguration},
		{"NaN max norm", func(s *AppSettings) { s.Vector.MaxNorm = math.NaN() }, ErrConfiguration},
		{"zero attempts", func(s *AppSettings) { s.Retry.MaxAttempts = 0 }, ErrConfiguration},
		{"postgres without dsn", func(s *AppSettings) { s.Storage.Backend = StorageBackendPostgres }, ErrConfiguration},
		{"rest without key", func(s *AppSettings) {
			s.Storage.Backend = StorageBackendREST
			s.REST.URL = "https://example.supabase.co"
		}, ErrConfiguration},
		{"postgres with dsn", func(s *AppSettings) {
			s.Storage.Backend = StorageBackendPostgres
			s.Postgres.DSN = "postgres://localhost/chunks"
		}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultAppSettings()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestVectorSettings_Limits(t *testing.T) {
	limits := VectorSettings{Dimensions: 8, MaxNorm: 2}.Limits()
	assert.Equal(t, VectorLimits{Dimensions: 8, MaxNorm: 2}, limits)
	assert.Equal(t, VectorLimits{Dimensions: 1536, MaxNorm: 1000}, DefaultVectorLimits())
}
