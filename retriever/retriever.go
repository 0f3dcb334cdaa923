package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"docrag/model"
	"docrag/store"
	"docrag/types"
)

const (
	DefaultK = 4
	MaxK     = 50
)

// Retriever answers similarity queries against one opened index. It holds
// no mutable state and may be shared between requests.
type Retriever struct {
	reader   store.Reader
	embedder model.Embedder
	k        int
	logger   *slog.Logger
}

type Option func(*Retriever)

func WithDefaultK(k int) Option {
	return func(r *Retriever) { r.k = clampK(k, DefaultK) }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Retriever) {
		if l != nil {
			r.logger = l
		}
	}
}

// Open checks that the index was built with the same embedding
// configuration as embedder and fails with types.ErrEmbeddingMismatch if
// it was not.
func Open(ctx context.Context, reader store.Reader, embedder model.Embedder, opts ...Option) (*Retriever, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m := reader.Manifest()
	if err := m.Check(embedder.Info()); err != nil {
		return nil, err
	}

	r := &Retriever{
		reader:   reader,
		embedder: embedder,
		k:        DefaultK,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger.Info("index opened",
		"entries", reader.Count(),
		"model", m.Embedding.Model,
		"dimension", m.Embedding.Dimension,
		"built_at", m.BuiltAt)
	return r, nil
}

func (r *Retriever) Count() int { return r.reader.Count() }

func (r *Retriever) Manifest() store.Manifest { return r.reader.Manifest() }

// Retrieve returns at most k hits ordered by non-increasing similarity.
// k <= 0 selects the default.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]types.Hit, error) {
	k = clampK(k, r.k)
	if strings.TrimSpace(query) == "" || r.reader.Count() == 0 {
		return nil, nil
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := r.reader.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	r.logger.Debug("retrieved", "k", k, "hits", len(hits))
	return hits, nil
}

// Close releases the underlying index.
func (r *Retriever) Close() error { return r.reader.Close() }

func clampK(k, fallback int) int {
	if k <= 0 {
		k = fallback
	}
	return max(1, min(k, MaxK))
}
