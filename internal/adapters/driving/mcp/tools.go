package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/custodia-labs/chunkstore/internal/core/domain"
)

// PositionInput is a point on a source page.
type PositionInput struct {
	X float64 `json:"x" jsonschema:"horizontal page coordinate"`
	Y float64 `json:"y" jsonschema:"vertical page coordinate"`
}

// ChunkInput is one chunk passed to save_chunks.
type ChunkInput struct {
	ID            string         `json:"id" jsonschema:"chunk UUID"`
	DocumentID    string         `json:"document_id" jsonschema:"parent document UUID"`
	Content       string         `json:"content" jsonschema:"chunk text, 1 to 10000 characters"`
	Filename      string         `json:"filename" jsonschema:"source file name"`
	PageNumber    int            `json:"page_number" jsonschema:"1-based page number"`
	ChapterNumber *int           `json:"chapter_number,omitempty" jsonschema:"1-based chapter number"`
	SectionName   *string        `json:"section_name,omitempty" jsonschema:"section heading"`
	StartPos      *PositionInput `json:"start_pos,omitempty" jsonschema:"start position on the page"`
	EndPos        *PositionInput `json:"end_pos,omitempty" jsonschema:"end position on the page"`
	Embedding     []float32      `json:"embedding" jsonschema:"embedding vector"`
	TokenCount    int            `json:"token_count" jsonschema:"number of tokens in content"`
}

// SaveChunksInput is the input schema for the save_chunks tool.
type SaveChunksInput struct {
	Chunks []ChunkInput `json:"chunks" jsonschema:"chunks to upsert"`
}

// EmbeddingInput is one embedding replacement.
type EmbeddingInput struct {
	ID        string    `json:"id" jsonschema:"chunk UUID"`
	Embedding []float32 `json:"embedding" jsonschema:"new embedding vector"`
}

// UpdateEmbeddingsInput is the input schema for the update_embeddings tool.
type UpdateEmbeddingsInput struct {
	Updates []EmbeddingInput `json:"updates" jsonschema:"embedding replacements"`
}

// IDsInput is the input schema for tools that take chunk ids.
type IDsInput struct {
	IDs []string `json:"ids" jsonschema:"chunk UUIDs"`
}

// EmptyInput is the input schema for tools without arguments.
type EmptyInput struct{}

// OutcomeOutput is the output schema for the batch tools.
type OutcomeOutput struct {
	SuccessCount int      `json:"success_count"`
	FailureCount int      `json:"failure_count"`
	TotalCount   int      `json:"total_count"`
	SuccessRate  float64  `json:"success_rate"`
	FailedIDs    []string `json:"failed_ids"`
	Errors       []string `json:"errors"`
}

// DuplicatesOutput is the output schema for the check_duplicates tool.
type DuplicatesOutput struct {
	Existing []string `json:"existing"`
	Count    int      `json:"count"`
}

// StatsOutput is the output schema for the storage_stats tool.
type StatsOutput struct {
	TotalChunks          int     `json:"total_chunks"`
	TotalDocuments       int     `json:"total_documents"`
	AvgChunksPerDocument float64 `json:"avg_chunks_per_document"`
	SubBatchSize         int     `json:"sub_batch_size"`
	QueriedAt            string  `json:"queried_at"`
}

// HealthOutput is the output schema for the health_check tool.
type HealthOutput struct {
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// registerTools registers all tool handlers with the MCP server.
func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "save_chunks",
		Description: "Validate and upsert embedded chunks, reporting per-chunk failures",
	}, s.handleSaveChunks)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "update_embeddings",
		Description: "Replace the embeddings of existing chunks",
	}, s.handleUpdateEmbeddings)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "delete_chunks",
		Description: "Delete chunks by id; ids that do not exist count as deleted",
	}, s.handleDeleteChunks)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "check_duplicates",
		Description: "Return which of the given chunk ids are already stored",
	}, s.handleCheckDuplicates)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "storage_stats",
		Description: "Count stored chunks and documents",
	}, s.handleStorageStats)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "health_check",
		Description: "Check that the chunk store is reachable",
	}, s.handleHealthCheck)
}

func (s *Server) handleSaveChunks(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input SaveChunksInput,
) (*mcp.CallToolResult, OutcomeOutput, error) {
	records := make([]domain.ChunkRecord, len(input.Chunks))
	for i := range input.Chunks {
		records[i] = input.Chunks[i].toRecord()
	}

	outcome, err := s.ports.Storage.SaveChunksBatch(ctx, records)
	if err != nil {
		return nil, OutcomeOutput{}, fmt.Errorf("saving chunks: %w", err)
	}
	return nil, toOutcomeOutput(outcome), nil
}

func (s *Server) handleUpdateEmbeddings(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input UpdateEmbeddingsInput,
) (*mcp.CallToolResult, OutcomeOutput, error) {
	updates := make([]domain.EmbeddingUpdate, len(input.Updates))
	for i, u := range input.Updates {
		updates[i] = domain.NewEmbeddingUpdate(u.ID, u.Embedding)
	}

	outcome, err := s.ports.Storage.UpdateEmbeddingsBatch(ctx, updates)
	if err != nil {
		return nil, OutcomeOutput{}, fmt.Errorf("updating embeddings: %w", err)
	}
	return nil, toOutcomeOutput(outcome), nil
}

func (s *Server) handleDeleteChunks(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input IDsInput,
) (*mcp.CallToolResult, OutcomeOutput, error) {
	outcome, err := s.ports.Storage.DeleteChunksBatch(ctx, input.IDs)
	if err != nil {
		return nil, OutcomeOutput{}, fmt.Errorf("deleting chunks: %w", err)
	}
	return nil, toOutcomeOutput(outcome), nil
}

func (s *Server) handleCheckDuplicates(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	input IDsInput,
) (*mcp.CallToolResult, DuplicatesOutput, error) {
	existing, err := s.ports.Storage.CheckDuplicates(ctx, input.IDs)
	if err != nil {
		return nil, DuplicatesOutput{}, err
	}
	if existing == nil {
		existing = []string{}
	}
	return nil, DuplicatesOutput{Existing: existing, Count: len(existing)}, nil
}

func (s *Server) handleStorageStats(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ EmptyInput,
) (*mcp.CallToolResult, StatsOutput, error) {
	stats, err := s.ports.Storage.GetStorageStats(ctx)
	if err != nil {
		return nil, StatsOutput{}, err
	}
	return nil, StatsOutput{
		TotalChunks:          stats.TotalChunks,
		TotalDocuments:       stats.TotalDocuments,
		AvgChunksPerDocument: stats.AvgChunksPerDocument,
		SubBatchSize:         stats.SubBatchSize,
		QueriedAt:            stats.QueriedAt.Format(time.RFC3339),
	}, nil
}

// handleHealthCheck reports an unreachable store as unhealthy rather than
// as a tool error.
func (s *Server) handleHealthCheck(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	_ EmptyInput,
) (*mcp.CallToolResult, HealthOutput, error) {
	if err := s.ports.Storage.HealthCheck(ctx); err != nil {
		return nil, HealthOutput{Healthy: false, Error: err.Error()}, nil
	}
	return nil, HealthOutput{Healthy: true}, nil
}

func (c *ChunkInput) toRecord() domain.ChunkRecord {
	return domain.NewChunkRecord(domain.ChunkFields{
		ID:            c.ID,
		DocumentID:    c.DocumentID,
		Content:       c.Content,
		SourceName:    c.Filename,
		PageNumber:    c.PageNumber,
		ChapterNumber: c.ChapterNumber,
		SectionName:   c.SectionName,
		StartPosition: c.StartPos.toDomain(),
		EndPosition:   c.EndPos.toDomain(),
		Embedding:     c.Embedding,
		TokenCount:    c.TokenCount,
	})
}

func (p *PositionInput) toDomain() *domain.Position {
	if p == nil {
		return nil
	}
	return &domain.Position{X: p.X, Y: p.Y}
}

func toOutcomeOutput(o *domain.BatchOutcome) OutcomeOutput {
	out := OutcomeOutput{
		SuccessCount: o.SuccessCount,
		FailureCount: o.FailureCount,
		TotalCount:   o.TotalCount,
		SuccessRate:  o.SuccessRate(),
		FailedIDs:    o.FailedIDs,
		Errors:       o.Errors,
	}
	if out.FailedIDs == nil {
		out.FailedIDs = []string{}
	}
	if out.Errors == nil {
		out.Errors = []string{}
	}
	return out
}
