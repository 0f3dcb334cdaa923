package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/app/agent"
	"docrag/chunker"
	"docrag/config"
	"docrag/indexer"
	"docrag/model"
	"docrag/store"
	"docrag/types"
)

type stubGenerator struct {
	mu      sync.Mutex
	prompts []model.Prompt
	reply   string
	err     error
}

func (g *stubGenerator) Generate(ctx context.Context, p model.Prompt) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, p)
	return g.reply, g.err
}

func (g *stubGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.SourceDir = t.TempDir()
	cfg.Index.Path = t.TempDir()
	cfg.Embedding.Provider = "hash"
	cfg.Embedding.Model = "test"
	cfg.Embedding.Dimension = 256
	cfg.Server.InitRetry = 10 * time.Millisecond
	cfg.Server.RequestTimeout = 5 * time.Second
	require.NoError(t, cfg.Validate())
	return cfg
}

func buildIndex(t *testing.T, cfg *config.Config, docs ...types.Document) {
	t.Helper()
	c := chunker.New(chunker.WithChunkSize(cfg.Chunking.Size), chunker.WithChunkOverlap(cfg.Chunking.Overlap))
	_, err := indexer.New(model.NewHashEmbedder(cfg.Embedding), store.NewSQLiteWriter(cfg.Index.Path)).
		Index(context.Background(), c.ChunkAll(docs))
	require.NoError(t, err)
}

func warehouseDocs() []types.Document {
	return []types.Document{
		{ID: types.DocumentID("hours.txt", 0), Source: "hours.txt", Type: types.PlainText, Content: "The warehouse closes at 9pm on weekdays."},
		{ID: types.DocumentID("payroll.txt", 0), Source: "payroll.txt", Type: types.PlainText, Content: "Salaries are paid on the last business day."},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, gen *stubGenerator) (*Server, *Runtime) {
	t.Helper()
	rt, err := NewRuntime(cfg, nil, WithGenerator(gen), WithTokenCounter(agent.EstimateTokens))
	require.NoError(t, err)
	t.Cleanup(func() { rt.Close() })
	return NewServer(cfg.Server.Addr, rt, nil), rt
}

func post(t *testing.T, s *Server, path, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func get(t *testing.T, s *Server, path string) (int, string) {
	t.Helper()
	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, path, nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func TestQueryEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	buildIndex(t, cfg, warehouseDocs()...)
	gen := &stubGenerator{reply: "  The warehouse closes at 9pm.  "}
	s, rt := newTestServer(t, cfg, gen)
	rt.Init(context.Background())
	require.True(t, rt.Ready())

	for _, path := range []string{"/query", "/api/v1/query"} {
		code, body := post(t, s, path, `{"text":"When does the warehouse close?","k":1}`)
		require.Equal(t, http.StatusOK, code, body)

		var resp types.QueryResponse
		require.NoError(t, json.Unmarshal([]byte(body), &resp))
		assert.Equal(t, "The warehouse closes at 9pm.", resp.Answer)
		require.Len(t, resp.SourceDocuments, 1)
		assert.Equal(t, "hours.txt", resp.SourceDocuments[0].Source)
	}

	require.Equal(t, 2, gen.calls())
	assert.Contains(t, gen.prompts[0].User, "closes at 9pm")
	assert.Contains(t, gen.prompts[0].User, "When does the warehouse close?")
	assert.Zero(t, gen.prompts[0].Temperature)
}

func TestQueryBeforeIndexExists(t *testing.T) {
	cfg := testConfig(t)
	gen := &stubGenerator{reply: "ok"}
	s, rt := newTestServer(t, cfg, gen)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rt.Init(ctx)
		close(done)
	}()

	code, body := post(t, s, "/query", `{"text":"hello"}`)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "not ready")

	require.Eventually(t, func() bool {
		return strings.Contains(rt.Status().Error, "index not found")
	}, 5*time.Second, 5*time.Millisecond)
	code, body = get(t, s, "/check/ready")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body, "index not found")

	buildIndex(t, cfg, warehouseDocs()...)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not become ready after the index appeared")
	}
	cancel()

	code, body = get(t, s, "/check/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"entries":2`)

	code, _ = post(t, s, "/query", `{"text":"When does the warehouse close?"}`)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, gen.calls())
}

func TestInitStopsOnEmbeddingMismatch(t *testing.T) {
	cfg := testConfig(t)
	other := *cfg
	other.Embedding.Model = "other"
	buildIndex(t, &other, warehouseDocs()...)

	cfg.Server.InitRetry = time.Hour
	_, rt := newTestServer(t, cfg, &stubGenerator{})

	done := make(chan struct{})
	go func() {
		rt.Init(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("init kept retrying on an embedding mismatch")
	}
	assert.False(t, rt.Ready())
	assert.Contains(t, rt.Status().Error, "model")
}

func TestReloadPicksUpRebuild(t *testing.T) {
	cfg := testConfig(t)
	buildIndex(t, cfg, warehouseDocs()[:1]...)
	s, rt := newTestServer(t, cfg, &stubGenerator{reply: "ok"})
	require.NoError(t, rt.Reload(context.Background()))
	assert.Equal(t, 1, rt.Status().Entries)

	buildIndex(t, cfg, warehouseDocs()...)
	code, body := post(t, s, "/api/v1/reload", "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Contains(t, body, `"entries":2`)
	assert.Equal(t, 2, rt.Status().Entries)
}

func TestQueryErrors(t *testing.T) {
	cfg := testConfig(t)
	buildIndex(t, cfg, warehouseDocs()...)

	t.Run("generation failure", func(t *testing.T) {
		s, rt := newTestServer(t, cfg, &stubGenerator{err: assert.AnError})
		rt.Init(context.Background())
		code, _ := post(t, s, "/query", `{"text":"warehouse"}`)
		assert.Equal(t, http.StatusBadGateway, code)
	})

	t.Run("generation timeout", func(t *testing.T) {
		s, rt := newTestServer(t, cfg, &stubGenerator{err: context.DeadlineExceeded})
		rt.Init(context.Background())
		code, _ := post(t, s, "/query", `{"text":"warehouse"}`)
		assert.Equal(t, http.StatusGatewayTimeout, code)
	})

	t.Run("validation", func(t *testing.T) {
		s, _ := newTestServer(t, cfg, &stubGenerator{})
		code, _ := post(t, s, "/query", `{"text":""}`)
		assert.Equal(t, http.StatusUnprocessableEntity, code)
	})

	t.Run("malformed", func(t *testing.T) {
		s, _ := newTestServer(t, cfg, &stubGenerator{})
		code, _ := post(t, s, "/query", `not json`)
		assert.Equal(t, http.StatusBadRequest, code)
	})
}

func TestRootAndHealth(t *testing.T) {
	s, _ := newTestServer(t, testConfig(t), &stubGenerator{})

	code, body := get(t, s, "/")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"message":"RAG API is running"}`, body)

	code, body = get(t, s, "/check/healthy")
	assert.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `{"result":"ok"}`, body)
}
