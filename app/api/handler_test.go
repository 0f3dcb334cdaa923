package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/types"
)

type fakePipeline struct {
	answer   *types.Answer
	err      error
	question string
	k        int
}

func (p *fakePipeline) Ask(ctx context.Context, question string, k int) (*types.Answer, error) {
	p.question, p.k = question, k
	return p.answer, p.err
}

func (p *fakePipeline) Reload(ctx context.Context) error { return p.err }

type fixedStatus Status

func (s fixedStatus) Status() Status { return Status(s) }

func newTestApp(p *fakePipeline, st Status) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	check := NewCheckHandler(fixedStatus(st))
	query := NewQueryHandler(p)
	reload := NewReloadHandler(p, fixedStatus(st))

	app.Get("/", check.HandleRoot)
	app.Get("/check/healthy", check.HandleHealthy)
	app.Get("/check/ready", check.HandleReady)
	app.Post("/query", query.HandleQuery)
	app.Post("/api/v1/reload", reload.HandleReload)
	return app
}

func do(t *testing.T, app *fiber.App, method, path, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Add("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func TestHandleQuery(t *testing.T) {
	p := &fakePipeline{answer: &types.Answer{
		Text: "The warehouse closes at 9pm.",
		Sources: []types.Chunk{
			{Source: "data/hours.md", Content: "The warehouse closes at 9pm on weekdays."},
		},
	}}
	app := newTestApp(p, Status{Ready: true})

	code, body := do(t, app, http.MethodPost, "/query", `{"text":"When does the warehouse close?","k":2}`)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "When does the warehouse close?", p.question)
	assert.Equal(t, 2, p.k)

	var resp types.QueryResponse
	require.NoError(t, json.Unmarshal([]byte(body), &resp))
	assert.Equal(t, "The warehouse closes at 9pm.", resp.Answer)
	require.Len(t, resp.SourceDocuments, 1)
	assert.Equal(t, "data/hours.md", resp.SourceDocuments[0].Source)
	assert.Equal(t, "The warehouse closes at 9pm on weekdays.", resp.SourceDocuments[0].Content)
}

func TestHandleQueryInsufficientContext(t *testing.T) {
	p := &fakePipeline{answer: &types.Answer{Text: "I don't know.", Insufficient: true}}
	app := newTestApp(p, Status{Ready: true})

	code, body := do(t, app, http.MethodPost, "/query", `{"text":"What is the capital of Mars?"}`)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"answer":"I don't know.","source_documents":[]}`, body)
}

func TestHandleQueryRequestErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
		want string
	}{
		{"malformed json", `{"text":`, http.StatusBadRequest, "invalid JSON request"},
		{"missing text", `{}`, http.StatusUnprocessableEntity, `"text"`},
		{"blank text", `{"text":"   "}`, http.StatusUnprocessableEntity, "notblank"},
		{"k too large", `{"text":"hi","k":51}`, http.StatusUnprocessableEntity, `"k"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePipeline{answer: &types.Answer{Text: "x"}}
			code, body := do(t, newTestApp(p, Status{Ready: true}), http.MethodPost, "/query", tt.body)
			assert.Equal(t, tt.code, code)
			assert.Contains(t, body, tt.want)
			assert.Empty(t, p.question)
		})
	}
}

func TestHandleQueryPipelineErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"not ready", types.ErrNotReady, http.StatusServiceUnavailable},
		{"index missing", fmt.Errorf("open: %w", types.ErrIndexNotFound), http.StatusServiceUnavailable},
		{"generation timeout", fmt.Errorf("%w after 1s", types.ErrGenerationTimeout), http.StatusGatewayTimeout},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"generation failed", fmt.Errorf("%w: boom", types.ErrGenerationFailed), http.StatusBadGateway},
		{"mismatch", types.ErrEmbeddingMismatch, http.StatusConflict},
		{"other", errors.New("secret detail"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakePipeline{err: tt.err}
			code, body := do(t, newTestApp(p, Status{}), http.MethodPost, "/query", `{"text":"hello"}`)
			assert.Equal(t, tt.code, code)
			assert.NotContains(t, body, "secret detail")

			var apiErr Error
			require.NoError(t, json.Unmarshal([]byte(body), &apiErr))
			assert.Equal(t, tt.code, apiErr.Code)
			assert.NotEmpty(t, apiErr.Message)
		})
	}
}

func TestCheckHandlers(t *testing.T) {
	built := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ready := newTestApp(&fakePipeline{}, Status{Ready: true, Entries: 12, EmbeddingModel: "all-minilm", BuiltAt: &built})
	notReady := newTestApp(&fakePipeline{}, Status{Error: "index not found"})

	code, body := do(t, ready, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"message":"RAG API is running"}`, body)

	code, body = do(t, notReady, http.MethodGet, "/check/healthy", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"result":"ok"}`, body)

	code, body = do(t, ready, http.MethodGet, "/check/ready", "")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"ready":true,"entries":12,"embedding_model":"all-minilm","built_at":"2026-01-02T03:04:05Z"}`, body)

	code, body = do(t, notReady, http.MethodGet, "/check/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.JSONEq(t, `{"ready":false,"entries":0,"error":"index not found"}`, body)
}

func TestHandleReload(t *testing.T) {
	code, body := do(t, newTestApp(&fakePipeline{}, Status{Ready: true, Entries: 3}), http.MethodPost, "/api/v1/reload", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"entries":3`)

	code, _ = do(t, newTestApp(&fakePipeline{err: types.ErrIndexNotFound}, Status{}), http.MethodPost, "/api/v1/reload", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}
