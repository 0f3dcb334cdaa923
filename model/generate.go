package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"docrag/config"
)

// Prompt is one generation request. Temperature 0 with a fixed seed gives
// reproducible output on runtimes that honour it.
type Prompt struct {
	System      string
	User        string
	Temperature float64
	Seed        int
}

// Generator turns a prompt into text.
type Generator interface {
	Generate(ctx context.Context, p Prompt) (string, error)
}

func NewGenerator(cfg config.LLM) (Generator, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllamaGenerator(cfg), nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, errors.New("OPENAI_API_KEY environment variable not set")
		}
		return NewOpenAIGenerator(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

type OllamaGenerator struct {
	apiURL string
	model  string
	client *http.Client
}

type GenerateRequest struct {
	Model   string          `json:"model"`
	System  string          `json:"system,omitempty"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options GenerateOptions `json:"options"`
}

type GenerateOptions struct {
	Temperature float64 `json:"temperature"`
	Seed        int     `json:"seed"`
}

type GenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func NewOllamaGenerator(cfg config.LLM) *OllamaGenerator {
	return &OllamaGenerator{
		apiURL: endpoint(cfg.URL, "/api/generate"),
		model:  cfg.Model,
		client: &http.Client{},
	}
}

func (g *OllamaGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	reqBody, err := json.Marshal(GenerateRequest{
		Model:  g.model,
		System: p.System,
		Prompt: p.User,
		Options: GenerateOptions{
			Temperature: p.Temperature,
			Seed:        p.Seed,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("ollama API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	// A non-streaming reply is a single object; a streaming one is a
	// sequence of objects ending with done=true. Both decode the same way.
	decoder := json.NewDecoder(resp.Body)
	var b strings.Builder
	for {
		var chunk GenerateResponse
		if err := decoder.Decode(&chunk); err == io.EOF {
			break
		} else if err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		if chunk.Error != "" {
			return "", fmt.Errorf("ollama: %s", chunk.Error)
		}
		b.WriteString(chunk.Response)
		if chunk.Done {
			break
		}
	}
	return b.String(), nil
}

// OpenAIGenerator uses an OpenAI-compatible chat completions endpoint.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

func NewOpenAIGenerator(cfg config.LLM) *OpenAIGenerator {
	return &OpenAIGenerator{
		client: newOpenAIClient(cfg.URL, cfg.APIKey),
		model:  cfg.Model,
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, p Prompt) (string, error) {
	temperature := float32(p.Temperature)
	if temperature == 0 {
		// zero is dropped by omitempty and the server would use its default
		temperature = math.SmallestNonzeroFloat32
	}
	seed := p.Seed

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: p.System},
			{Role: openai.ChatMessageRoleUser, Content: p.User},
		},
		Temperature: temperature,
		Seed:        &seed,
	})
	if err != nil {
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
