package domain

import "time"

// DefaultDimensions is the embedding dimensionality of the reference deployment
// (text-embedding-3-small).
const DefaultDimensions = 1536

// MaxContentLength is the maximum chunk content length in characters.
const MaxContentLength = 10000

// Position is a point on a source page, in page coordinates.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`

	partial bool
}

// PartialPosition returns a position that was supplied with only one of its
// coordinates. Validation rejects it; the missing coordinate is zero.
func PartialPosition(x, y float64) *Position {
	return &Position{X: x, Y: y, partial: true}
}

// IsComplete reports whether both coordinates were supplied.
func (p Position) IsComplete() bool {
	return !p.partial
}

// ChunkRecord is a bounded span of source text plus its embedding and
// locational metadata. It is immutable once constructed: corrections are
// modelled as delete and re-save, or as an EmbeddingUpdate.
type ChunkRecord struct {
	// ID is the canonical UUID string of the chunk.
	ID string

	// DocumentID links to the parent document.
	DocumentID string

	// Content is the chunk text.
	Content string

	// SourceName is the original file name.
	SourceName string

	// PageNumber is the 1-based page the chunk starts on.
	PageNumber int

	// ChapterNumber is the 1-based chapter, if known.
	ChapterNumber *int

	// SectionName is the section heading, if known.
	SectionName *string

	// StartPosition and EndPosition locate the chunk on the page.
	StartPosition *Position
	EndPosition   *Position

	// Embedding is the vector representation of Content.
	Embedding []float32

	// TokenCount is the number of model tokens in Content.
	TokenCount int

	// CreatedAt is set at construction time.
	CreatedAt time.Time
}

// ChunkFields carries the caller-supplied fields of a ChunkRecord.
type ChunkFields struct {
	ID            string
	DocumentID    string
	Content       string
	SourceName    string
	PageNumber    int
	ChapterNumber *int
	SectionName   *string
	StartPosition *Position
	EndPosition   *Position
	Embedding     []float32
	TokenCount    int
}

// NewChunkRecord builds a ChunkRecord stamped with the current time.
// Slices and optional values are copied so later changes to f do not leak in.
// No validation happens here; see the validation package.
func NewChunkRecord(f ChunkFields) ChunkRecord {
	return newChunkRecord(f, time.Now().UTC())
}

// RestoreChunkRecord rebuilds a ChunkRecord read back from storage,
// keeping its original creation time.
func RestoreChunkRecord(f ChunkFields, createdAt time.Time) ChunkRecord {
	return newChunkRecord(f, createdAt)
}

func newChunkRecord(f ChunkFields, createdAt time.Time) ChunkRecord {
	return ChunkRecord{
		ID:            f.ID,
		DocumentID:    f.DocumentID,
		Content:       f.Content,
		SourceName:    f.SourceName,
		PageNumber:    f.PageNumber,
		ChapterNumber: copyPtr(f.ChapterNumber),
		SectionName:   copyPtr(f.SectionName),
		StartPosition: copyPtr(f.StartPosition),
		EndPosition:   copyPtr(f.EndPosition),
		Embedding:     CopyEmbedding(f.Embedding),
		TokenCount:    f.TokenCount,
		CreatedAt:     createdAt,
	}
}

// EmbeddingUpdate replaces the embedding of an existing chunk.
type EmbeddingUpdate struct {
	ID        string
	Embedding []float32
}

// NewEmbeddingUpdate builds an EmbeddingUpdate with its own copy of the vector.
func NewEmbeddingUpdate(id string, embedding []float32) EmbeddingUpdate {
	return EmbeddingUpdate{ID: id, Embedding: CopyEmbedding(embedding)}
}

// CopyEmbedding returns a copy of v, or nil if v is nil.
func CopyEmbedding(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
