package indexer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"docrag/chunker"
	"docrag/model"
	"docrag/store"
	"docrag/types"
)

const defaultBatchSize = 64

type Indexer struct {
	embedder  model.Embedder
	writer    store.Writer
	logger    *slog.Logger
	batchSize int
	size      int
	overlap   int
}

type Option func(*Indexer)

// WithBatchSize sets how many chunks are sent to the embedder at once.
func WithBatchSize(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.batchSize = n
		}
	}
}

// WithChunking records the chunker settings in the manifest.
func WithChunking(size, overlap int) Option {
	return func(ix *Indexer) {
		ix.size = size
		ix.overlap = overlap
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(ix *Indexer) {
		if l != nil {
			ix.logger = l
		}
	}
}

func New(embedder model.Embedder, writer store.Writer, opts ...Option) *Indexer {
	ix := &Indexer{
		embedder:  embedder,
		writer:    writer,
		logger:    slog.Default(),
		batchSize: defaultBatchSize,
		size:      chunker.DefaultChunkSize,
		overlap:   chunker.DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Report describes the outcome of one indexing run.
type Report struct {
	Empty     bool
	Documents int
	Persisted int
	Dimension int
	Duration  time.Duration
}

// Index embeds chunks and replaces the index with them. An empty input is
// a no-op: nothing is written and the previous index stays in place.
func (ix *Indexer) Index(ctx context.Context, chunks []types.Chunk) (Report, error) {
	if len(chunks) == 0 {
		ix.logger.Info("nothing to index")
		return Report{Empty: true}, nil
	}
	started := time.Now()

	entries, dim, err := ix.embed(ctx, chunks)
	if err != nil {
		return Report{}, err
	}

	docs := make(map[uuid.UUID]struct{})
	for _, c := range chunks {
		docs[c.DocID] = struct{}{}
	}

	info := ix.embedder.Info()
	info.Dimension = dim
	m := store.Manifest{
		Embedding:    info,
		ChunkSize:    ix.size,
		ChunkOverlap: ix.overlap,
		Documents:    len(docs),
		BuiltAt:      time.Now().UTC(),
	}
	if err := ix.writer.Rebuild(ctx, m, entries); err != nil {
		return Report{}, fmt.Errorf("persist index: %w", err)
	}

	r := Report{
		Documents: len(docs),
		Persisted: len(entries),
		Dimension: dim,
		Duration:  time.Since(started),
	}
	ix.logger.Info("index rebuilt",
		"documents", r.Documents,
		"entries", r.Persisted,
		"dimension", r.Dimension,
		"duration", r.Duration)
	return r, nil
}

func (ix *Indexer) embed(ctx context.Context, chunks []types.Chunk) ([]types.Entry, int, error) {
	want := ix.embedder.Info().Dimension
	entries := make([]types.Entry, 0, len(chunks))

	for start := 0; start < len(chunks); start += ix.batchSize {
		end := min(start+ix.batchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}

		vecs, err := ix.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, 0, fmt.Errorf("embed chunks %d-%d: %w", start, end, err)
		}
		if len(vecs) != len(texts) {
			return nil, 0, fmt.Errorf("embed chunks %d-%d: got %d vectors", start, end, len(vecs))
		}

		for i, v := range vecs {
			if want == 0 {
				want = len(v)
			}
			if len(v) != want {
				return nil, 0, fmt.Errorf("%w: chunk %s has dimension %d, expected %d",
					types.ErrEmbeddingMismatch, chunks[start+i].ID, len(v), want)
			}
			entries = append(entries, types.Entry{Chunk: chunks[start+i], Embedding: v})
		}
		ix.logger.Debug("embedded batch", "from", start, "to", end, "total", len(chunks))
	}
	return entries, want, nil
}
