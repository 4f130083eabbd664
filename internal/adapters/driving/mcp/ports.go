package mcp

import (
	"github.com/custodia-labs/chunkstore/internal/core/ports/driving"
)

// Ports aggregates all driving port interfaces required by the MCP server.
// This provides a single injection point for dependency injection.
type Ports struct {
	// Storage is the batch storage engine.
	Storage driving.ChunkStorage

	// Settings exposes the active configuration. Optional.
	Settings driving.SettingsService
}

// Validate ensures all required ports are set.
// Returns an error if any required port is nil.
func (p *Ports) Validate() error {
	if p.Storage == nil {
		return ErrMissingStorage
	}
	return nil
}
