package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"docrag/config"
	"docrag/types"
)

// OllamaEmbedder creates embeddings through a local Ollama server.
type OllamaEmbedder struct {
	cfg     config.Embedding
	apiURL  string
	client  *http.Client
	batcher *batcher
}

type OllamaEmbeddingRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Options map[string]any `json:"options,omitempty"`
}

type OllamaEmbeddingResponse struct {
	Embedding []float64 `json:"embedding"`
}

func NewOllamaEmbedder(cfg config.Embedding) *OllamaEmbedder {
	return &OllamaEmbedder{
		cfg:     cfg,
		apiURL:  endpoint(cfg.URL, "/api/embeddings"),
		client:  &http.Client{},
		batcher: newBatcher(cfg),
	}
}

func (e *OllamaEmbedder) Info() types.EmbeddingInfo {
	return infoFromConfig(e.cfg)
}

func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	err := e.batcher.each(ctx, len(texts), func(ctx context.Context, i int) error {
		v, err := e.Embed(ctx, texts[i])
		if err != nil {
			return fmt.Errorf("embed text %d: %w", i, err)
		}
		out[i] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.batcher.wait(ctx); err != nil {
		return nil, err
	}

	req := OllamaEmbeddingRequest{
		Model:  e.cfg.Model,
		Prompt: text,
	}
	if e.cfg.Device == "cpu" {
		req.Options = map[string]any{"num_gpu": 0}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var ollamaResp OllamaEmbeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	embedding := make([]float32, len(ollamaResp.Embedding))
	for i, v := range ollamaResp.Embedding {
		embedding[i] = float32(v)
	}
	if err := checkDimension(embedding, e.cfg.Dimension); err != nil {
		return nil, err
	}
	if e.cfg.Normalize {
		l2normalize(embedding)
	}
	return embedding, nil
}

// endpoint appends path to a base URL unless the URL already points at it.
func endpoint(base, path string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, path) {
		return base
	}
	return base + path
}
