package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docrag/chunker"
	"docrag/config"
	"docrag/indexer"
	"docrag/loader/internal"
	"docrag/model"
	"docrag/store"
)

const shutdownTimeout = 5 * time.Second

// Service runs one ingestion: load, chunk, embed and publish.
type Service struct {
	logger  *slog.Logger
	loader  *internal.Loader
	chunker *chunker.Chunker
	indexer *indexer.Indexer
	closers []func() error
}

func New(loader *internal.Loader, ch *chunker.Chunker, ix *indexer.Indexer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:  logger,
		loader:  loader,
		chunker: ch,
		indexer: ix,
	}
}

// FromConfig wires a service from the shared configuration, so ingestion
// embeds with exactly the settings the query side will validate against.
func FromConfig(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Service, error) {
	loader, err := internal.New(cfg.Loader, logger)
	if err != nil {
		return nil, err
	}
	embedder, err := model.NewEmbedder(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	writer, err := store.OpenWriter(ctx, cfg.Index, store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	ch := chunker.New(
		chunker.WithChunkSize(cfg.Chunking.Size),
		chunker.WithChunkOverlap(cfg.Chunking.Overlap),
	)
	ix := indexer.New(embedder, writer,
		indexer.WithBatchSize(cfg.Embedding.BatchSize),
		indexer.WithChunking(ch.Size(), ch.Overlap()),
		indexer.WithLogger(logger),
	)

	s := New(loader, ch, ix, logger)
	s.closers = append(s.closers, writer.Close)
	return s, nil
}

type Summary struct {
	Source      string
	Files       int
	Skipped     int
	Failed      int
	Documents   int
	Chunks      int
	Entries     int
	NoDocuments bool
	NoChunks    bool
	Duration    time.Duration
}

func (s *Summary) String() string {
	switch {
	case s.NoDocuments:
		return fmt.Sprintf("no documents found in %s", s.Source)
	case s.NoChunks:
		return fmt.Sprintf("documents loaded: %d, no chunks produced", s.Documents)
	}
	return fmt.Sprintf("documents loaded: %d, chunks produced: %d, entries persisted: %d",
		s.Documents, s.Chunks, s.Entries)
}

// Ingest rebuilds the index from source. Finding nothing to index is not
// an error; the summary says so and the existing index is left alone.
func (s *Service) Ingest(ctx context.Context, source string) (*Summary, error) {
	start := time.Now()
	sum := &Summary{Source: source}

	res, err := s.loader.Load(ctx, source)
	if err != nil {
		return nil, err
	}
	sum.Files = res.Files
	sum.Skipped = res.Skipped
	sum.Failed = res.Failed()
	sum.Documents = len(res.Documents)

	if sum.Documents == 0 {
		sum.NoDocuments = true
		sum.Duration = time.Since(start)
		s.logger.Warn("no documents found", "source", source)
		return sum, nil
	}

	chunks := s.chunker.ChunkAll(res.Documents)
	sum.Chunks = len(chunks)
	s.logger.Info("documents chunked",
		"documents", sum.Documents,
		"chunks", sum.Chunks,
		"size", s.chunker.Size(),
		"overlap", s.chunker.Overlap())

	report, err := s.indexer.Index(ctx, chunks)
	if err != nil {
		return nil, err
	}
	sum.NoChunks = report.Empty
	sum.Entries = report.Persisted
	sum.Duration = time.Since(start)
	return sum, nil
}

// Run ingests source until it finishes or the process receives SIGINT or
// SIGTERM. On a signal the run is cancelled and given a short grace
// period; an interrupted run never publishes a partial index.
func (s *Service) Run(source string) (*Summary, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type outcome struct {
		sum *Summary
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		sum, err := s.Ingest(ctx, source)
		done <- outcome{sum, err}
	}()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigch)

	select {
	case out := <-done:
		return out.sum, out.err
	case sig := <-sigch:
		s.logger.Info("received shutdown signal, cancelling ingestion", "signal", sig.String())
		cancel()
	}

	select {
	case out := <-done:
		if out.err == nil {
			return out.sum, nil
		}
		return nil, fmt.Errorf("ingestion interrupted: %w", out.err)
	case <-time.After(shutdownTimeout):
		return nil, fmt.Errorf("ingestion interrupted: timed out after %s waiting to stop", shutdownTimeout)
	}
}

func (s *Service) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	s.logger.Info("loader service stopped")
	return first
}
