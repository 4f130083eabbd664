// Package domain defines the core business entities for chunkstore.
//
// This package is part of the hexagonal architecture's innermost layer.
// It has NO external dependencies and defines the fundamental types:
//
//   - ChunkRecord: An embedded text chunk ready for persistence
//   - EmbeddingUpdate: A replacement embedding for an existing chunk
//   - BatchOutcome: The aggregate result of a batch operation
//   - StatsSnapshot: Storage statistics at a point in time
//   - RowResult: The store's verdict on a single row
//
// # Architectural Position
//
// Domain is at the centre of the hexagon. It may only import
// the Go standard library. All other packages depend on domain,
// never the reverse.
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
