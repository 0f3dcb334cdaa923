package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"docrag/app/agent"
	"docrag/app/api"
	"docrag/config"
	"docrag/model"
	"docrag/retriever"
	"docrag/store"
	"docrag/types"
)

// pipeline is one opened index with everything needed to answer from it.
// It is never modified after creation.
type pipeline struct {
	retriever *retriever.Retriever
	composer  *agent.Composer
}

// Runtime is the application context of the query server. It is built
// once at start; handlers only read it.
type Runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	embedder  model.Embedder
	generator model.Generator
	open      func(ctx context.Context) (store.Reader, error)
	counter   agent.TokenCounter

	current atomic.Pointer[pipeline]
	ready   atomic.Bool
	lastErr atomic.Value // string

	reloadMu sync.Mutex
}

type RuntimeOption func(*Runtime)

// WithIndexOpener replaces how the index is opened.
func WithIndexOpener(open func(ctx context.Context) (store.Reader, error)) RuntimeOption {
	return func(r *Runtime) { r.open = open }
}

func WithGenerator(g model.Generator) RuntimeOption {
	return func(r *Runtime) { r.generator = g }
}

func WithTokenCounter(f agent.TokenCounter) RuntimeOption {
	return func(r *Runtime) { r.counter = f }
}

func NewRuntime(cfg *config.Config, logger *slog.Logger, opts ...RuntimeOption) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	embedder, err := model.NewEmbedder(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	r := &Runtime{
		cfg:      cfg,
		logger:   logger,
		embedder: embedder,
		open: func(ctx context.Context) (store.Reader, error) {
			return store.OpenReader(ctx, cfg.Index, store.WithLogger(logger))
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.generator == nil {
		if r.generator, err = model.NewGenerator(cfg.LLM); err != nil {
			return nil, err
		}
	}
	r.lastErr.Store("not initialized")
	return r, nil
}

// Ready reports whether queries can be answered.
func (r *Runtime) Ready() bool { return r.ready.Load() }

// Reload opens the index and, if it matches the embedding configuration,
// swaps it in for new requests. Requests already running keep the
// pipeline they started with.
func (r *Runtime) Reload(ctx context.Context) error {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	reader, err := r.open(ctx)
	if err != nil {
		r.lastErr.Store(err.Error())
		return err
	}
	ret, err := retriever.Open(ctx, reader, r.embedder,
		retriever.WithDefaultK(r.cfg.Retrieval.K),
		retriever.WithLogger(r.logger))
	if err != nil {
		reader.Close()
		r.lastErr.Store(err.Error())
		return err
	}

	opts := []agent.Option{
		agent.WithChunkOverlap(ret.Manifest().ChunkOverlap),
		agent.WithLogger(r.logger),
	}
	if r.counter != nil {
		opts = append(opts, agent.WithTokenCounter(r.counter))
	}
	next := &pipeline{
		retriever: ret,
		composer:  agent.NewComposer(ret, r.generator, r.cfg.LLM, opts...),
	}
	// requests still searching the previous index finish within the
	// request timeout
	if prev := r.current.Swap(next); prev != nil {
		time.AfterFunc(r.cfg.Server.RequestTimeout, func() { prev.retriever.Close() })
	}
	r.ready.Store(true)
	r.lastErr.Store("")
	r.logger.Info("RAG pipeline ready", "entries", ret.Count())
	return nil
}

// Init tries to load the index until it succeeds or ctx ends, waiting
// cfg.Server.InitRetry between attempts. An embedding mismatch stops the
// retries since waiting cannot fix it.
func (r *Runtime) Init(ctx context.Context) {
	for {
		err := r.Reload(ctx)
		if err == nil {
			return
		}
		if errors.Is(err, types.ErrEmbeddingMismatch) {
			r.logger.Error("index does not match the embedding configuration, not retrying", "error", err)
			return
		}
		r.logger.Warn("RAG pipeline not ready, will retry", "error", err, "retry_in", r.cfg.Server.InitRetry)

		select {
		case <-ctx.Done():
			return
		case <-time.After(r.cfg.Server.InitRetry):
		}
	}
}

// Ask answers one question within the configured request timeout.
func (r *Runtime) Ask(ctx context.Context, question string, k int) (*types.Answer, error) {
	p := r.current.Load()
	if p == nil {
		return nil, types.ErrNotReady
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Server.RequestTimeout)
	defer cancel()

	answer, err := p.composer.AnswerK(ctx, question, k)
	if err != nil {
		return nil, fmt.Errorf("answer question: %w", err)
	}
	return answer, nil
}

func (r *Runtime) Status() api.Status {
	p := r.current.Load()
	if p == nil {
		msg, _ := r.lastErr.Load().(string)
		return api.Status{Ready: false, Error: msg}
	}
	m := p.retriever.Manifest()
	built := m.BuiltAt
	return api.Status{
		Ready:          true,
		Entries:        p.retriever.Count(),
		EmbeddingModel: m.Embedding.Model,
		BuiltAt:        &built,
	}
}

func (r *Runtime) Close() error {
	if p := r.current.Load(); p != nil {
		return p.retriever.Close()
	}
	return nil
}
