package model

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/config"
)

func TestOllamaGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req GenerateRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		assert.Equal(t, "llama3", req.Model)
		assert.False(t, req.Stream)
		assert.Equal(t, 0.0, req.Options.Temperature)
		assert.Equal(t, 7, req.Options.Seed)

		switch req.Prompt {
		case "stream":
			enc := json.NewEncoder(w)
			enc.Encode(GenerateResponse{Response: "Hello"})
			enc.Encode(GenerateResponse{Response: ", world"})
			enc.Encode(GenerateResponse{Done: true})
		case "slow":
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		case "broken":
			http.Error(w, "boom", http.StatusInternalServerError)
		case "error":
			json.NewEncoder(w).Encode(GenerateResponse{Error: "model 'llama3' not found"})
		default:
			json.NewEncoder(w).Encode(GenerateResponse{Response: "answer: " + req.System, Done: true})
		}
	}))
	defer srv.Close()

	g := NewOllamaGenerator(config.LLM{URL: srv.URL, Model: "llama3"})
	ctx := context.Background()

	t.Run("single response", func(t *testing.T) {
		out, err := g.Generate(ctx, Prompt{System: "sys", User: "q", Seed: 7})
		require.NoError(t, err)
		assert.Equal(t, "answer: sys", out)
	})

	t.Run("streamed response", func(t *testing.T) {
		out, err := g.Generate(ctx, Prompt{User: "stream", Seed: 7})
		require.NoError(t, err)
		assert.Equal(t, "Hello, world", out)
	})

	t.Run("status error", func(t *testing.T) {
		_, err := g.Generate(ctx, Prompt{User: "broken", Seed: 7})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "status 500")
	})

	t.Run("error body", func(t *testing.T) {
		_, err := g.Generate(ctx, Prompt{User: "error", Seed: 7})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("deadline", func(t *testing.T) {
		tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err := g.Generate(tctx, Prompt{User: "slow", Seed: 7})
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})
}

func TestOpenAIGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		var req struct {
			Model       string  `json:"model"`
			Temperature float64 `json:"temperature"`
			Seed        *int    `json:"seed"`
			Messages    []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		assert.Equal(t, "gpt-4o-mini", req.Model)
		assert.Less(t, req.Temperature, 1e-30)
		if assert.NotNil(t, req.Seed) {
			assert.Equal(t, 42, *req.Seed)
		}
		if !assert.Len(t, req.Messages, 2) {
			return
		}
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"model":  req.Model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": "The warehouse closes at 9pm."},
				"finish_reason": "stop",
			}},
		})
	}))
	defer srv.Close()

	g, err := NewGenerator(config.LLM{Provider: "openai", URL: srv.URL + "/v1", Model: "gpt-4o-mini", APIKey: "sk-test"})
	require.NoError(t, err)

	out, err := g.Generate(context.Background(), Prompt{System: "sys", User: "When?", Seed: 42})
	require.NoError(t, err)
	assert.Equal(t, "The warehouse closes at 9pm.", out)
}

func TestNewGenerator(t *testing.T) {
	g, err := NewGenerator(config.LLM{Provider: "ollama", URL: "http://localhost:11434", Model: "llama3"})
	require.NoError(t, err)
	assert.IsType(t, &OllamaGenerator{}, g)

	_, err = NewGenerator(config.LLM{Provider: "openai", URL: "http://x", Model: "m"})
	assert.Error(t, err)

	_, err = NewGenerator(config.LLM{Provider: "gemini"})
	assert.Error(t, err)
}
