// Package validation enforces the chunk invariants that must hold before
// anything is sent to a store. Every function here is pure: no I/O, no
// logging, no global state.
package validation

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/custodia-labs/chunkstore/internal/core/domain"
)

// Field names used in ValidationError.
const (
	FieldID            = "id"
	FieldDocumentID    = "document_id"
	FieldContent       = "content"
	FieldSourceName    = "source_name"
	FieldPageNumber    = "page_number"
	FieldChapterNumber = "chapter_number"
	FieldStartPosition = "start_position"
	FieldEndPosition   = "end_position"
	FieldEmbedding     = "embedding"
	FieldTokenCount    = "token_count"
)

const canonicalUUIDLen = 36

func invalid(field, format string, args ...any) error {
	return &domain.ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ValidateChunk checks every field of a ChunkRecord. It returns the first
// violation found, as a *domain.ValidationError.
func ValidateChunk(c domain.ChunkRecord, limits domain.VectorLimits) error {
	if err := validateUUID(FieldID, c.ID); err != nil {
		return err
	}
	if err := validateUUID(FieldDocumentID, c.DocumentID); err != nil {
		return err
	}
	if err := validateContent(c.Content); err != nil {
		return err
	}
	if strings.TrimSpace(c.SourceName) == "" {
		return invalid(FieldSourceName, "must not be empty")
	}
	if c.PageNumber <= 0 {
		return invalid(FieldPageNumber, "must be > 0, got %d", c.PageNumber)
	}
	if c.ChapterNumber != nil && *c.ChapterNumber <= 0 {
		return invalid(FieldChapterNumber, "must be > 0 when set, got %d", *c.ChapterNumber)
	}
	if err := validatePosition(FieldStartPosition, c.StartPosition); err != nil {
		return err
	}
	if err := validatePosition(FieldEndPosition, c.EndPosition); err != nil {
		return err
	}
	if err := ValidateEmbedding(c.Embedding, limits); err != nil {
		return err
	}
	if c.TokenCount <= 0 {
		return invalid(FieldTokenCount, "must be > 0, got %d", c.TokenCount)
	}
	return nil
}

// ValidateEmbeddingUpdate checks only the fields an embedding update touches.
func ValidateEmbeddingUpdate(u domain.EmbeddingUpdate, limits domain.VectorLimits) error {
	if err := ValidateID(u.ID); err != nil {
		return err
	}
	return ValidateEmbedding(u.Embedding, limits)
}

// ValidateID checks that id is a canonical UUID string.
func ValidateID(id string) error {
	return validateUUID(FieldID, id)
}

// ValidateEmbedding checks dimensionality, finiteness and norm bounds.
func ValidateEmbedding(v []float32, limits domain.VectorLimits) error {
	if len(v) == 0 {
		return invalid(FieldEmbedding, "must not be empty")
	}
	if len(v) != limits.Dimensions {
		return invalid(FieldEmbedding, "must have %d dimensions, got %d", limits.Dimensions, len(v))
	}

	var sum float64
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) {
			return invalid(FieldEmbedding, "NaN at index %d", i)
		}
		if math.IsInf(f, 0) {
			return invalid(FieldEmbedding, "infinite value at index %d", i)
		}
		sum += f * f
	}

	norm := math.Sqrt(sum)
	if norm == 0 {
		return invalid(FieldEmbedding, "zero vector")
	}
	if !(norm <= limits.MaxNorm) {
		return invalid(FieldEmbedding, "norm %.4g exceeds limit %.4g", norm, limits.MaxNorm)
	}
	return nil
}

func validateUUID(field, s string) error {
	if s == "" {
		return invalid(field, "must not be empty")
	}
	// uuid.Parse also accepts braced, urn: and unhyphenated forms.
	if _, err := uuid.Parse(s); err != nil || len(s) != canonicalUUIDLen {
		return invalid(field, "not a valid UUID: %q", s)
	}
	return nil
}

func validateContent(s string) error {
	n := utf8.RuneCountInString(s)
	if n == 0 || strings.TrimSpace(s) == "" {
		return invalid(FieldContent, "must not be empty")
	}
	if n > domain.MaxContentLength {
		return invalid(FieldContent, "too long: %d characters (max %d)", n, domain.MaxContentLength)
	}
	return nil
}

func validatePosition(field string, p *domain.Position) error {
	if p == nil {
		return nil
	}
	if !p.IsComplete() {
		return invalid(field, "must contain both x and y")
	}
	if !isFinite(p.X) || !isFinite(p.Y) {
		return invalid(field, "x and y must be finite numbers")
	}
	return nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
