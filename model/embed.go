package model

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"docrag/config"
	"docrag/types"
)

// Embedder maps text to a fixed-dimension vector. Implementations are safe
// for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Info() types.EmbeddingInfo
}

// NewEmbedder is the only way the pipeline builds an embedder, so indexing
// and querying always read the same configuration.
func NewEmbedder(cfg config.Embedding) (Embedder, error) {
	switch cfg.Provider {
	case "hash":
		return NewHashEmbedder(cfg), nil
	case "ollama":
		return NewOllamaEmbedder(cfg), nil
	case "openai":
		return NewOpenAIEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

func infoFromConfig(cfg config.Embedding) types.EmbeddingInfo {
	return types.EmbeddingInfo{
		Provider:  cfg.Provider,
		Model:     cfg.Model,
		Dimension: cfg.Dimension,
		Normalize: cfg.Normalize,
		Device:    cfg.Device,
	}
}

// batcher fans a batch out to single-text requests with bounded
// concurrency and an optional request rate.
type batcher struct {
	sem     *semaphore.Weighted
	limiter *rate.Limiter
}

func newBatcher(cfg config.Embedding) *batcher {
	n := cfg.BatchConcurrency
	if n < 1 {
		n = 1
	}
	b := &batcher{sem: semaphore.NewWeighted(int64(n))}
	if cfg.RequestsPerSecond > 0 {
		burst := int(math.Ceil(cfg.RequestsPerSecond))
		b.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return b
}

func (b *batcher) wait(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	return b.limiter.Wait(ctx)
}

// each calls fn for 0..n-1, at most BatchConcurrency at a time, and
// stops at the first error.
func (b *batcher) each(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		if err := b.sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer b.sem.Release(1)
			return fn(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func checkDimension(v []float32, want int) error {
	if len(v) == 0 {
		return fmt.Errorf("empty embedding returned")
	}
	if want > 0 && len(v) != want {
		return fmt.Errorf("embedding has dimension %d, configured %d: %w", len(v), want, types.ErrEmbeddingMismatch)
	}
	return nil
}

func l2normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}

// CosineSimilarity of two equal-length vectors; 0 when either is zero.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
