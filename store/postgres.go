package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"docrag/types"
)

// PostgresStore keeps an index in two tables, <prefix>_manifest and
// <prefix>_chunks, and searches it with pgvector's cosine distance.
type PostgresStore struct {
	pool     *pgxpool.Pool
	tables   tableNames
	manifest Manifest
	count    int
	logger   *slog.Logger
}

type tableNames struct {
	manifest string
	chunks   string
	index    string
}

func newTableNames(prefix string) tableNames {
	return tableNames{
		manifest: pgx.Identifier{prefix + "_manifest"}.Sanitize(),
		chunks:   pgx.Identifier{prefix + "_chunks"}.Sanitize(),
		index:    pgx.Identifier{prefix + "_chunks_embedding_idx"}.Sanitize(),
	}
}

func NewPostgresStore(ctx context.Context, connStr, prefix string, opts ...Option) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{
		pool:   pool,
		tables: newTableNames(prefix),
		logger: newOptions(opts).logger,
	}, nil
}

func (t tableNames) schema(dimension int) string {
	return fmt.Sprintf(`
	CREATE EXTENSION IF NOT EXISTS vector;

	DROP TABLE IF EXISTS %[1]s;
	DROP TABLE IF EXISTS %[2]s;

	CREATE TABLE %[1]s (
		id    INT PRIMARY KEY,
		value JSONB NOT NULL
	);

	CREATE TABLE %[2]s (
		seq       BIGSERIAL PRIMARY KEY,
		id        UUID NOT NULL UNIQUE,
		doc_id    UUID NOT NULL,
		source    TEXT NOT NULL,
		type      TEXT NOT NULL,
		page      INT NOT NULL,
		position  INT NOT NULL,
		content   TEXT NOT NULL,
		embedding vector(%[3]d) NOT NULL
	);
	`, t.manifest, t.chunks, dimension)
}

func (t tableNames) vectorIndex() string {
	return fmt.Sprintf(`CREATE INDEX %s ON %s USING hnsw (embedding vector_cosine_ops)`, t.index, t.chunks)
}

func (t tableNames) searchQuery() string {
	return fmt.Sprintf(`
		SELECT id, doc_id, source, type, page, position, content,
		       1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1, seq
		LIMIT $2
	`, t.chunks)
}

// Rebuild drops and recreates both tables inside one transaction. The
// drop locks the tables, so concurrent searches wait for the commit and
// then read the new build; Search checks that build against the manifest
// it was opened with.
func (p *PostgresStore) Rebuild(ctx context.Context, m Manifest, entries []types.Entry) error {
	m.Version = manifestVersion
	m.Entries = len(entries)
	manifest, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, p.tables.schema(m.Embedding.Dimension)); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (id, value) VALUES (1, $1)`, p.tables.manifest), manifest); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}

	insert := fmt.Sprintf(`
		INSERT INTO %s (id, doc_id, source, type, page, position, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, p.tables.chunks)

	const batchSize = 500
	for start := 0; start < len(entries); start += batchSize {
		end := min(start+batchSize, len(entries))
		batch := &pgx.Batch{}
		for _, e := range entries[start:end] {
			c := e.Chunk
			batch.Queue(insert, c.ID, c.DocID, c.Source, c.Type.String(), c.Page, c.Position, c.Content, pgvector.NewVector(e.Embedding))
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("save chunks %d-%d: %w", start, end, err)
		}
	}

	if _, err := tx.Exec(ctx, p.tables.vectorIndex()); err != nil {
		return fmt.Errorf("create vector index: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	p.logger.Info("index published", "entries", len(entries), "table", p.tables.chunks)
	return nil
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (p *PostgresStore) readManifest(ctx context.Context, q rowQuerier) (Manifest, error) {
	var (
		raw []byte
		m   Manifest
	)
	err := q.QueryRow(ctx, fmt.Sprintf(`SELECT value FROM %s WHERE id = 1`, p.tables.manifest)).Scan(&raw)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42P01" || errors.Is(err, pgx.ErrNoRows) {
			return m, fmt.Errorf("%w: %s", types.ErrIndexNotFound, p.tables.manifest)
		}
		return m, fmt.Errorf("%w: %v", types.ErrIndexUnavailable, err)
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("%w: decode manifest: %v", types.ErrIndexUnavailable, err)
	}
	return m, checkVersion(m)
}

// Load reads the manifest and entry count of an existing index.
func (p *PostgresStore) Load(ctx context.Context) error {
	m, err := p.readManifest(ctx, p.pool)
	if err != nil {
		return err
	}
	p.manifest = m
	if err := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, p.tables.chunks)).Scan(&p.count); err != nil {
		return fmt.Errorf("%w: %v", types.ErrIndexUnavailable, err)
	}
	return nil
}

// checkRebuild fails when the index was rebuilt with another embedding
// configuration since it was loaded. A rebuild with the same
// configuration stays searchable.
func checkRebuild(loaded, current Manifest) error {
	if err := current.Check(loaded.Embedding); err != nil {
		return fmt.Errorf("index rebuilt at %s: %w", current.BuiltAt.Format(time.RFC3339), err)
	}
	return nil
}

func (p *PostgresStore) Manifest() Manifest { return p.manifest }

func (p *PostgresStore) Count() int { return p.count }

func (p *PostgresStore) Search(ctx context.Context, queryVec []float32, limit int) ([]types.Hit, error) {
	if limit <= 0 || p.count == 0 {
		return nil, nil
	}
	if len(queryVec) != p.manifest.Embedding.Dimension {
		return nil, fmt.Errorf("%w: query dimension %d, index dimension %d",
			types.ErrEmbeddingMismatch, len(queryVec), p.manifest.Embedding.Dimension)
	}

	// the manifest and the rows are read from one snapshot
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrIndexUnavailable, err)
	}
	defer tx.Rollback(ctx)

	current, err := p.readManifest(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := checkRebuild(p.manifest, current); err != nil {
		return nil, err
	}

	rows, err := tx.Query(ctx, p.tables.searchQuery(), pgvector.NewVector(queryVec), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []types.Hit
	for rows.Next() {
		var (
			h  types.Hit
			ct string
		)
		if err := rows.Scan(
			&h.Chunk.ID,
			&h.Chunk.DocID,
			&h.Chunk.Source,
			&ct,
			&h.Chunk.Page,
			&h.Chunk.Position,
			&h.Chunk.Content,
			&h.Score); err != nil {
			return nil, err
		}
		h.Chunk.Type, _ = types.ParseContentType(ct)
		h.Rank = len(hits) + 1
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
		p.logger.Debug("postgres pool closed", "table", p.tables.chunks)
	}
	return nil
}
