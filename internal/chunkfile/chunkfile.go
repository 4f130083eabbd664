// Package chunkfile reads and writes chunk batches as JSON Lines.
//
// Each non-blank line of a chunk file is one object using the column names
// of the document_chunks table:
//
//	{"id":"...","document_id":"...","content":"...","filename":"a.pdf",
//	 "page_number":1,"start_pos":{"x":0,"y":0},"embedding":[...],"token_count":12}
//
// Update files carry {"id","embedding"} objects and id files carry one id
// per line. Blank lines and lines starting with # are skipped.
package chunkfile

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/custodia-labs/chunkstore/internal/core/domain"
)

// maxLineBytes bounds a single line. A 1536-dimension embedding is ~30KB.
const maxLineBytes = 16 << 20

// Extension is the file extension of chunk files.
const Extension = ".jsonl"

// position keeps track of which coordinates were present so a half-specified
// position fails validation for its record only.
type position struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

func (p *position) toDomain() *domain.Position {
	if p == nil {
		return nil
	}
	if p.X == nil || p.Y == nil {
		var x, y float64
		if p.X != nil {
			x = *p.X
		}
		if p.Y != nil {
			y = *p.Y
		}
		return domain.PartialPosition(x, y)
	}
	return &domain.Position{X: *p.X, Y: *p.Y}
}

type chunkLine struct {
	ID            string     `json:"id"`
	DocumentID    string     `json:"document_id"`
	Content       string     `json:"content"`
	Filename      string     `json:"filename"`
	PageNumber    int        `json:"page_number"`
	ChapterNumber *int       `json:"chapter_number,omitempty"`
	SectionName   *string    `json:"section_name,omitempty"`
	StartPos      *position  `json:"start_pos,omitempty"`
	EndPos        *position  `json:"end_pos,omitempty"`
	Embedding     []float32  `json:"embedding"`
	TokenCount    int        `json:"token_count"`
	CreatedAt     *time.Time `json:"created_at,omitempty"`
}

type updateLine struct {
	ID        string    `json:"id"`
	Embedding []float32 `json:"embedding"`
}

// LineError reports the 1-based line that failed to decode.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// DecodeChunks reads chunk records. Records without created_at are stamped
// with the current time.
func DecodeChunks(r io.Reader) ([]domain.ChunkRecord, error) {
	var records []domain.ChunkRecord
	err := eachLine(r, func(line []byte) error {
		var cl chunkLine
		if err := decodeStrict(line, &cl); err != nil {
			return err
		}
		f := domain.ChunkFields{
			ID:            cl.ID,
			DocumentID:    cl.DocumentID,
			Content:       cl.Content,
			SourceName:    cl.Filename,
			PageNumber:    cl.PageNumber,
			ChapterNumber: cl.ChapterNumber,
			SectionName:   cl.SectionName,
			StartPosition: cl.StartPos.toDomain(),
			EndPosition:   cl.EndPos.toDomain(),
			Embedding:     cl.Embedding,
			TokenCount:    cl.TokenCount,
		}
		if cl.CreatedAt != nil {
			records = append(records, domain.RestoreChunkRecord(f, cl.CreatedAt.UTC()))
		} else {
			records = append(records, domain.NewChunkRecord(f))
		}
		return nil
	})
	return records, err
}

// DecodeUpdates reads embedding updates.
func DecodeUpdates(r io.Reader) ([]domain.EmbeddingUpdate, error) {
	var updates []domain.EmbeddingUpdate
	err := eachLine(r, func(line []byte) error {
		var ul updateLine
		if err := decodeStrict(line, &ul); err != nil {
			return err
		}
		updates = append(updates, domain.NewEmbeddingUpdate(ul.ID, ul.Embedding))
		return nil
	})
	return updates, err
}

// DecodeIDs reads one id per line. A line may also be a JSON string.
func DecodeIDs(r io.Reader) ([]string, error) {
	var ids []string
	err := eachLine(r, func(line []byte) error {
		if line[0] == '"' {
			var id string
			if err := json.Unmarshal(line, &id); err != nil {
				return err
			}
			ids = append(ids, id)
			return nil
		}
		ids = append(ids, string(line))
		return nil
	})
	return ids, err
}

// EncodeChunks writes records as JSON Lines.
func EncodeChunks(w io.Writer, records []domain.ChunkRecord) error {
	enc := json.NewEncoder(w)
	for i := range records {
		c := records[i]
		created := c.CreatedAt
		cl := chunkLine{
			ID:            c.ID,
			DocumentID:    c.DocumentID,
			Content:       c.Content,
			Filename:      c.SourceName,
			PageNumber:    c.PageNumber,
			ChapterNumber: c.ChapterNumber,
			SectionName:   c.SectionName,
			StartPos:      fromDomain(c.StartPosition),
			EndPos:        fromDomain(c.EndPosition),
			Embedding:     c.Embedding,
			TokenCount:    c.TokenCount,
			CreatedAt:     &created,
		}
		if err := enc.Encode(cl); err != nil {
			return fmt.Errorf("encoding chunk %s: %w", c.ID, err)
		}
	}
	return nil
}

func fromDomain(p *domain.Position) *position {
	if p == nil {
		return nil
	}
	x, y := p.X, p.Y
	return &position{X: &x, Y: &y}
}

func decodeStrict(line []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after object")
	}
	return nil
}

// eachLine calls fn for every non-blank, non-comment line.
func eachLine(r io.Reader, fn func(line []byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	n := 0
	for sc.Scan() {
		n++
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		if err := fn(line); err != nil {
			return &LineError{Line: n, Err: err}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading line %d: %w", n+1, err)
	}
	return nil
}

// IsChunkFile reports whether name has the chunk file extension.
func IsChunkFile(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), Extension)
}
