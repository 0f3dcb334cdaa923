// Package chunker splits document text into overlapping chunks. Sizes are
// measured in runes.
package chunker

import (
	"docrag/types"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

type Chunker struct {
	size    int
	overlap int
}

type Option func(*Chunker)

func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		c.size = size
	}
}

func WithChunkOverlap(overlap int) Option {
	return func(c *Chunker) {
		c.overlap = overlap
	}
}

func New(opts ...Option) *Chunker {
	c := &Chunker{
		size:    DefaultChunkSize,
		overlap: DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.size <= 0 {
		c.size = DefaultChunkSize
	}
	if c.overlap < 0 {
		c.overlap = 0
	}
	if c.overlap >= c.size {
		c.overlap = c.size / 5
	}
	return c
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk splits a document and stamps every piece with the document's
// provenance and its position.
func (c *Chunker) Chunk(doc types.Document) []types.Chunk {
	parts := c.Split(doc.Content, doc.Type)
	chunks := make([]types.Chunk, 0, len(parts))
	for i, p := range parts {
		chunks = append(chunks, types.Chunk{
			ID:       types.ChunkID(doc.ID, i),
			DocID:    doc.ID,
			Source:   doc.Source,
			Type:     doc.Type,
			Page:     doc.Page,
			Position: i,
			Content:  p,
		})
	}
	return chunks
}

// ChunkAll chunks documents in order.
func (c *Chunker) ChunkAll(docs []types.Document) []types.Chunk {
	var chunks []types.Chunk
	for _, d := range docs {
		chunks = append(chunks, c.Chunk(d)...)
	}
	return chunks
}

// Split cuts text into windows of at most Size runes. Every window after
// the first starts exactly Overlap runes before the end of the previous
// one. A window ends at the strongest separator for the content type found
// in its upper half, or at the size limit when there is none.
func (c *Chunker) Split(text string, t types.ContentType) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	n := len(runes)
	if n <= c.size {
		return []string{text}
	}

	seps := separatorsFor(t)
	var out []string
	start := 0
	for {
		limit := start + c.size
		if limit >= n {
			out = append(out, string(runes[start:]))
			return out
		}
		end := c.boundary(runes, seps, start, limit)
		out = append(out, string(runes[start:end]))
		start = end - c.overlap
	}
}

func (c *Chunker) boundary(runes []rune, seps []separator, start, limit int) int {
	minEnd := start + c.size/2
	if m := start + c.overlap + 1; m > minEnd {
		minEnd = m
	}
	for _, sep := range seps {
		for i := limit - sep.cut; i >= start && i+sep.cut >= minEnd; i-- {
			if hasPrefixAt(runes, i, sep.text) {
				return i + sep.cut
			}
		}
	}
	return limit
}

func hasPrefixAt(runes []rune, i int, prefix []rune) bool {
	if i+len(prefix) > len(runes) {
		return false
	}
	for j, r := range prefix {
		if runes[i+j] != r {
			return false
		}
	}
	return true
}
