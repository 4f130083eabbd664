package domain

import (
	"fmt"
	"math"
	"time"
)

const unknownDescription = "Unknown"

// Engine defaults.
const (
	// DefaultSubBatchSize is the number of rows sent in one bulk call.
	DefaultSubBatchSize = 100

	// DefaultConcurrency submits sub-batches one at a time.
	DefaultConcurrency = 1

	// DefaultMaxNorm is the ceiling on an embedding's Euclidean norm.
	// Anything above it is treated as a corrupted or unnormalised vector.
	DefaultMaxNorm = 1000.0
)

// StorageBackend identifies the remote store implementation.
type StorageBackend string

// Available storage backends.
const (
	// StorageBackendMemory keeps rows in process memory. Nothing is persisted.
	StorageBackendMemory StorageBackend = "memory"

	// StorageBackendSQLite stores rows in a local SQLite database.
	StorageBackendSQLite StorageBackend = "sqlite"

	// StorageBackendPostgres stores rows in PostgreSQL with pgvector.
	StorageBackendPostgres StorageBackend = "postgres"

	// StorageBackendREST stores rows through a Supabase/PostgREST endpoint.
	StorageBackendREST StorageBackend = "rest"
)

// IsValid returns true if the backend is recognised.
func (b StorageBackend) IsValid() bool {
	switch b {
	case StorageBackendMemory, StorageBackendSQLite, StorageBackendPostgres, StorageBackendREST:
		return true
	default:
		return false
	}
}

// IsRemote returns true if the backend talks to a server over the network.
func (b StorageBackend) IsRemote() bool {
	return b == StorageBackendPostgres || b == StorageBackendREST
}

// String returns the string representation.
func (b StorageBackend) String() string {
	return string(b)
}

// Description returns a human-readable description of the backend.
func (b StorageBackend) Description() string {
	switch b {
	case StorageBackendMemory:
		return "Memory (ephemeral, for testing)"
	case StorageBackendSQLite:
		return "SQLite (local file)"
	case StorageBackendPostgres:
		return "PostgreSQL + pgvector"
	case StorageBackendREST:
		return "Supabase / PostgREST"
	default:
		return unknownDescription
	}
}

// AllStorageBackends returns all available storage backends.
func AllStorageBackends() []StorageBackend {
	return []StorageBackend{
		StorageBackendMemory,
		StorageBackendSQLite,
		StorageBackendPostgres,
		StorageBackendREST,
	}
}

// StorageSettings holds batch engine configuration.
type StorageSettings struct {
	// Backend selects the store implementation.
	Backend StorageBackend

	// SubBatchSize is the number of rows per bulk call.
	SubBatchSize int

	// Concurrency is the maximum number of sub-batches in flight.
	Concurrency int

	// DataDir is where the SQLite backend keeps its database.
	// Empty means ~/.chunkstore/data.
	DataDir string
}

// VectorSettings holds embedding sanity limits.
type VectorSettings struct {
	// Dimensions is the required embedding length.
	Dimensions int

	// MaxNorm is the upper bound on an embedding's Euclidean norm.
	MaxNorm float64
}

// Limits converts the settings into validation limits.
func (v VectorSettings) Limits() VectorLimits {
	return VectorLimits{Dimensions: v.Dimensions, MaxNorm: v.MaxNorm}
}

// PostgresSettings holds the PostgreSQL backend connection.
type PostgresSettings struct {
	// DSN is a libpq-style connection string or URL.
	DSN string

	// Table is the chunk table name.
	Table string
}

// RESTSettings holds the Supabase/PostgREST backend connection.
type RESTSettings struct {
	// URL is the project URL, e.g. https://xyz.supabase.co.
	URL string

	// APIKey is sent as both apikey and bearer token.
	APIKey string

	// Table is the chunk table name.
	Table string

	// Timeout bounds each HTTP request.
	Timeout time.Duration
}

// IsConfigured returns true if the endpoint and key are set.
func (r RESTSettings) IsConfigured() bool {
	return r.URL != "" && r.APIKey != ""
}

// RetrySettings holds the retry and throttling policy applied around the store.
type RetrySettings struct {
	// MaxAttempts is the total number of tries per call, including the first.
	// 1 disables retries.
	MaxAttempts int

	// BaseDelay is the first backoff delay; each retry doubles it.
	BaseDelay time.Duration

	// RatePerSecond limits store calls per second. 0 disables throttling.
	RatePerSecond float64
}

// VectorLimits are the embedding checks enforced before any store call.
type VectorLimits struct {
	Dimensions int
	MaxNorm    float64
}

// DefaultVectorLimits returns the limits of the reference deployment.
func DefaultVectorLimits() VectorLimits {
	return VectorLimits{Dimensions: DefaultDimensions, MaxNorm: DefaultMaxNorm}
}

// AppSettings holds all application settings.
type AppSettings struct {
	// Storage holds batch engine settings.
	Storage StorageSettings

	// Vector holds embedding limits.
	Vector VectorSettings

	// Postgres holds PostgreSQL backend settings.
	Postgres PostgresSettings

	// REST holds Supabase/PostgREST backend settings.
	REST RESTSettings

	// Retry holds the store retry policy.
	Retry RetrySettings
}

// DefaultAppSettings returns settings with sensible defaults.
// The SQLite backend works without any further configuration.
func DefaultAppSettings() AppSettings {
	return AppSettings{
		Storage: StorageSettings{
			Backend:      StorageBackendSQLite,
			SubBatchSize: DefaultSubBatchSize,
			Concurrency:  DefaultConcurrency,
		},
		Vector: VectorSettings{
			Dimensions: DefaultDimensions,
			MaxNorm:    DefaultMaxNorm,
		},
		Postgres: PostgresSettings{
			Table: "document_chunks",
		},
		REST: RESTSettings{
			Table:   "document_chunks",
			Timeout: 30 * time.Second,
		},
		Retry: RetrySettings{
			MaxAttempts: 3,
			BaseDelay:   200 * time.Millisecond,
		},
	}
}

// Validate checks the settings are usable for the configured backend.
func (s AppSettings) Validate() error {
	if !s.Storage.Backend.IsValid() {
		return fmt.Errorf("%w: storage backend %q", ErrUnsupportedType, s.Storage.Backend)
	}
	if s.Storage.SubBatchSize <= 0 {
		return fmt.Errorf("%w: sub_batch_size must be > 0, got %d", ErrConfiguration, s.Storage.SubBatchSize)
	}
	if s.Storage.Concurrency <= 0 {
		return fmt.Errorf("%w: concurrency must be > 0, got %d", ErrConfiguration, s.Storage.Concurrency)
	}
	if s.Vector.Dimensions <= 0 {
		return fmt.Errorf("%w: vector dimensions must be > 0, got %d", ErrConfiguration, s.Vector.Dimensions)
	}
	if !(s.Vector.MaxNorm > 0) || math.IsInf(s.Vector.MaxNorm, 1) {
		return fmt.Errorf("%w: vector max_norm must be a finite number > 0, got %g", ErrConfiguration, s.Vector.MaxNorm)
	}
	if s.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("%w: retry max_attempts must be > 0, got %d", ErrConfiguration, s.Retry.MaxAttempts)
	}
	switch s.Storage.Backend {
	case StorageBackendPostgres:
		if s.Postgres.DSN == "" {
			return fmt.Errorf("%w: postgres.dsn is required for the postgres backend", ErrConfiguration)
		}
	case StorageBackendREST:
		if !s.REST.IsConfigured() {
			return fmt.Errorf("%w: rest.url and rest.api_key are required for the rest backend", ErrConfiguration)
		}
	}
	return nil
}
