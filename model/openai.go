package model

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"docrag/config"
	"docrag/types"
)

// OpenAIEmbedder talks to any OpenAI-compatible /v1/embeddings endpoint.
type OpenAIEmbedder struct {
	cfg     config.Embedding
	client  *openai.Client
	batcher *batcher
}

func NewOpenAIEmbedder(cfg config.Embedding) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY environment variable not set")
	}
	return &OpenAIEmbedder{
		cfg:     cfg,
		client:  newOpenAIClient(cfg.URL, cfg.APIKey),
		batcher: newBatcher(cfg),
	}, nil
}

func newOpenAIClient(baseURL, key string) *openai.Client {
	clientCfg := openai.DefaultConfig(key)
	if baseURL != "" {
		clientCfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(clientCfg)
}

func (e *OpenAIEmbedder) Info() types.EmbeddingInfo {
	return infoFromConfig(e.cfg)
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch sends texts in slices of BatchSize, several slices at a time.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	size := max(e.cfg.BatchSize, 1)
	groups := (len(texts) + size - 1) / size

	out := make([][]float32, len(texts))
	err := e.batcher.each(ctx, groups, func(ctx context.Context, g int) error {
		start := g * size
		end := min(start+size, len(texts))
		vecs, err := e.embed(ctx, texts[start:end])
		if err != nil {
			return fmt.Errorf("embed batch %d: %w", g, err)
		}
		copy(out[start:end], vecs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *OpenAIEmbedder) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.batcher.wait(ctx); err != nil {
		return nil, err
	}
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.cfg.Model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("openai returned embedding index %d out of range", d.Index)
		}
		v := make([]float32, len(d.Embedding))
		for i := range d.Embedding {
			v[i] = float32(d.Embedding[i])
		}
		if err := checkDimension(v, e.cfg.Dimension); err != nil {
			return nil, err
		}
		if e.cfg.Normalize {
			l2normalize(v)
		}
		out[d.Index] = v
	}
	return out, nil
}
