package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"docrag/config"
	"docrag/types"
)

const manifestVersion = 1

// Manifest describes how an index was built. It is stored next to the
// entries and checked by every reader before the index is searched.
type Manifest struct {
	Version      int                 `json:"version"`
	Embedding    types.EmbeddingInfo `json:"embedding"`
	ChunkSize    int                 `json:"chunk_size"`
	ChunkOverlap int                 `json:"chunk_overlap"`
	Documents    int                 `json:"documents"`
	Entries      int                 `json:"entries"`
	BuiltAt      time.Time           `json:"built_at"`
}

// Check reports whether vectors made with info can be compared against
// this index. A zero dimension in info means "not configured".
func (m Manifest) Check(info types.EmbeddingInfo) error {
	var diffs []string
	if m.Embedding.Provider != info.Provider {
		diffs = append(diffs, fmt.Sprintf("provider %q != %q", m.Embedding.Provider, info.Provider))
	}
	if m.Embedding.Model != info.Model {
		diffs = append(diffs, fmt.Sprintf("model %q != %q", m.Embedding.Model, info.Model))
	}
	if info.Dimension > 0 && m.Embedding.Dimension != info.Dimension {
		diffs = append(diffs, fmt.Sprintf("dimension %d != %d", m.Embedding.Dimension, info.Dimension))
	}
	if m.Embedding.Normalize != info.Normalize {
		diffs = append(diffs, fmt.Sprintf("normalize %t != %t", m.Embedding.Normalize, info.Normalize))
	}
	if m.Embedding.Device != info.Device {
		diffs = append(diffs, fmt.Sprintf("device %q != %q", m.Embedding.Device, info.Device))
	}
	if len(diffs) > 0 {
		return fmt.Errorf("%w: index has %s", types.ErrEmbeddingMismatch, strings.Join(diffs, ", "))
	}
	return nil
}

// Writer replaces the whole content of an index. Readers never see a
// partially written index.
type Writer interface {
	Rebuild(ctx context.Context, m Manifest, entries []types.Entry) error
	Close() error
}

// Reader is a read-only, concurrency-safe view of a built index.
type Reader interface {
	Manifest() Manifest
	Count() int
	Search(ctx context.Context, vec []float32, k int) ([]types.Hit, error)
	Close() error
}

type Option func(*options)

type options struct {
	logger *slog.Logger
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func newOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func OpenWriter(ctx context.Context, cfg config.Index, opts ...Option) (Writer, error) {
	switch cfg.Backend {
	case "sqlite":
		return NewSQLiteWriter(cfg.Path, opts...), nil
	case "postgres":
		return NewPostgresStore(ctx, cfg.DSN, cfg.Table, opts...)
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.Backend)
	}
}

// OpenReader opens an existing index. types.ErrIndexNotFound means nothing
// was ever built at the location.
func OpenReader(ctx context.Context, cfg config.Index, opts ...Option) (Reader, error) {
	switch cfg.Backend {
	case "sqlite":
		r, err := OpenSQLiteReader(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return r, nil
	case "postgres":
		s, err := NewPostgresStore(ctx, cfg.DSN, cfg.Table, opts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrIndexUnavailable, err)
		}
		if err := s.Load(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.Backend)
	}
}

func checkVersion(m Manifest) error {
	if m.Version != manifestVersion {
		return fmt.Errorf("%w: manifest version %d, want %d", types.ErrIndexUnavailable, m.Version, manifestVersion)
	}
	return nil
}
