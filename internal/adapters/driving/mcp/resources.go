package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	// uriScheme is the custom URI scheme for chunkstore resources.
	uriScheme = "chunkstore://"
)

// registerResources registers all resource handlers with the MCP server.
func (s *Server) registerResources() {
	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "stats",
		Name:        "stats",
		Description: "Current chunk and document totals",
		MIMEType:    "application/json",
	}, s.handleStatsResource)

	s.server.AddResource(&mcp.Resource{
		URI:         uriScheme + "settings",
		Name:        "settings",
		Description: "Active storage configuration with secrets masked",
		MIMEType:    "application/json",
	}, s.handleSettingsResource)

	s.server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: uriScheme + "chunks/{chunkId}",
		Name:        "chunk-exists",
		Description: "Whether a chunk with the given id is stored",
		MIMEType:    "application/json",
	}, s.handleChunkResource)
}

func (s *Server) handleStatsResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	stats, err := s.ports.Storage.GetStorageStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting stats: %w", err)
	}
	return jsonResource(req.Params.URI, stats)
}

// handleSettingsResource returns {} when no settings service is wired.
func (s *Server) handleSettingsResource(
	_ context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	if s.ports.Settings == nil {
		return jsonResource(req.Params.URI, struct{}{})
	}

	settings, err := s.ports.Settings.Get()
	if err != nil {
		return nil, fmt.Errorf("getting settings: %w", err)
	}

	type settingsInfo struct {
		Backend      string  `json:"backend"`
		SubBatchSize int     `json:"sub_batch_size"`
		Concurrency  int     `json:"concurrency"`
		Dimensions   int     `json:"dimensions"`
		MaxNorm      float64 `json:"max_norm"`
		RESTURL      string  `json:"rest_url,omitempty"`
		RESTAPIKey   string  `json:"rest_api_key,omitempty"`
		MaxAttempts  int     `json:"retry_max_attempts"`
		BaseDelay    string  `json:"retry_base_delay"`
	}

	info := settingsInfo{
		Backend:      settings.Storage.Backend.String(),
		SubBatchSize: settings.Storage.SubBatchSize,
		Concurrency:  settings.Storage.Concurrency,
		Dimensions:   settings.Vector.Dimensions,
		MaxNorm:      settings.Vector.MaxNorm,
		RESTURL:      settings.REST.URL,
		MaxAttempts:  settings.Retry.MaxAttempts,
		BaseDelay:    settings.Retry.BaseDelay.Round(time.Millisecond).String(),
	}
	if settings.REST.APIKey != "" {
		info.RESTAPIKey = maskSecret(settings.REST.APIKey)
	}
	return jsonResource(req.Params.URI, info)
}

func (s *Server) handleChunkResource(
	ctx context.Context,
	req *mcp.ReadResourceRequest,
) (*mcp.ReadResourceResult, error) {
	// Extract chunkId from URI: chunkstore://chunks/{chunkId}
	chunkID := extractChunkID(req.Params.URI)
	if chunkID == "" {
		return nil, mcp.ResourceNotFoundError(req.Params.URI)
	}

	existing, err := s.ports.Storage.CheckDuplicates(ctx, []string{chunkID})
	if err != nil {
		return nil, fmt.Errorf("checking chunk: %w", err)
	}

	return jsonResource(req.Params.URI, struct {
		ID     string `json:"id"`
		Exists bool   `json:"exists"`
	}{ID: chunkID, Exists: len(existing) > 0})
}

func jsonResource(uri string, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshalling %s: %w", uri, err)
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		}},
	}, nil
}

// extractChunkID extracts the chunk ID from a URI like chunkstore://chunks/{chunkId}.
func extractChunkID(uri string) string {
	const prefix = uriScheme + "chunks/"

	if !strings.HasPrefix(uri, prefix) {
		return ""
	}

	id := strings.TrimPrefix(uri, prefix)
	if strings.Contains(id, "/") {
		return ""
	}
	return id
}

func maskSecret(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
