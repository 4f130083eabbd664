// Package mcp provides an MCP (Model Context Protocol) server adapter for chunkstore.
// It lets AI assistants save, update, delete and inspect stored chunks.
package mcp

import "errors"

// ErrMissingStorage is returned when the chunk storage port is not provided.
var ErrMissingStorage = errors.New("mcp: chunk storage is required")
