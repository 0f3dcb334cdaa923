package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"docrag/model"
	"docrag/types"
)

// IndexFile is the name of the database inside the index directory.
const IndexFile = "index.sqlite"

const sqliteSchema = `
CREATE TABLE meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE chunks (
	seq       INTEGER PRIMARY KEY,
	id        TEXT NOT NULL UNIQUE,
	doc_id    TEXT NOT NULL,
	source    TEXT NOT NULL,
	type      TEXT NOT NULL,
	page      INTEGER NOT NULL,
	position  INTEGER NOT NULL,
	content   TEXT NOT NULL,
	embedding TEXT NOT NULL
);

CREATE INDEX idx_chunks_doc_id ON chunks(doc_id);
CREATE INDEX idx_chunks_source ON chunks(source);
`

// SQLiteWriter builds an index file in a directory. Each rebuild writes a
// fresh staging file and renames it over the live one.
type SQLiteWriter struct {
	dir    string
	logger *slog.Logger
}

func NewSQLiteWriter(dir string, opts ...Option) *SQLiteWriter {
	return &SQLiteWriter{dir: dir, logger: newOptions(opts).logger}
}

func (w *SQLiteWriter) Close() error { return nil }

func (w *SQLiteWriter) Rebuild(ctx context.Context, m Manifest, entries []types.Entry) (err error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	staging := filepath.Join(w.dir, fmt.Sprintf(".%s.%s.tmp", IndexFile, uuid.NewString()))
	defer func() {
		if err != nil {
			os.Remove(staging)
		}
	}()

	db, err := sql.Open("sqlite", staging)
	if err != nil {
		return fmt.Errorf("open staging index: %w", err)
	}
	if err := writeSQLite(ctx, db, m, entries); err != nil {
		db.Close()
		return err
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("close staging index: %w", err)
	}

	final := filepath.Join(w.dir, IndexFile)
	if err := os.Rename(staging, final); err != nil {
		return fmt.Errorf("publish index: %w", err)
	}
	w.logger.Info("index published", "entries", len(entries), "path", final)
	return nil
}

func writeSQLite(ctx context.Context, db *sql.DB, m Manifest, entries []types.Entry) error {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	m.Version = manifestVersion
	m.Entries = len(entries)
	manifest, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES ('manifest', ?)`, string(manifest)); err != nil {
		return fmt.Errorf("save manifest: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, doc_id, source, type, page, position, content, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		vec, err := json.Marshal(e.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding: %w", err)
		}
		c := e.Chunk
		if _, err := stmt.ExecContext(ctx,
			c.ID.String(), c.DocID.String(), c.Source, c.Type.String(), c.Page, c.Position, c.Content, string(vec),
		); err != nil {
			return fmt.Errorf("save chunk %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

// SQLiteReader holds a whole index in memory. It is immutable after
// opening, so searches need no locking.
type SQLiteReader struct {
	manifest Manifest
	entries  []types.Entry
}

func OpenSQLiteReader(ctx context.Context, dir string) (*SQLiteReader, error) {
	path := filepath.Join(dir, IndexFile)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", types.ErrIndexNotFound, path)
		}
		return nil, fmt.Errorf("%w: %v", types.ErrIndexUnavailable, err)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrIndexUnavailable, err)
	}
	defer db.Close()

	r := &SQLiteReader{}
	if err := r.load(ctx, db); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrIndexUnavailable, path, err)
	}
	return r, nil
}

func (r *SQLiteReader) load(ctx context.Context, db *sql.DB) error {
	var raw string
	if err := db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'manifest'`).Scan(&raw); err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	if err := json.Unmarshal([]byte(raw), &r.manifest); err != nil {
		return fmt.Errorf("decode manifest: %w", err)
	}
	if err := checkVersion(r.manifest); err != nil {
		return err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, doc_id, source, type, page, position, content, embedding
		FROM chunks ORDER BY seq`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e             types.Entry
			id, docID, ct string
			vec           string
		)
		if err := rows.Scan(&id, &docID, &e.Chunk.Source, &ct, &e.Chunk.Page, &e.Chunk.Position, &e.Chunk.Content, &vec); err != nil {
			return err
		}
		if e.Chunk.ID, err = uuid.Parse(id); err != nil {
			return fmt.Errorf("chunk id %q: %w", id, err)
		}
		if e.Chunk.DocID, err = uuid.Parse(docID); err != nil {
			return fmt.Errorf("document id %q: %w", docID, err)
		}
		e.Chunk.Type, _ = types.ParseContentType(ct)
		if err := json.Unmarshal([]byte(vec), &e.Embedding); err != nil {
			return fmt.Errorf("decode embedding of %s: %w", id, err)
		}
		r.entries = append(r.entries, e)
	}
	return rows.Err()
}

func (r *SQLiteReader) Manifest() Manifest { return r.manifest }

func (r *SQLiteReader) Count() int { return len(r.entries) }

func (r *SQLiteReader) Close() error { return nil }

// Search scores every entry by cosine similarity. Equal scores keep
// insertion order.
func (r *SQLiteReader) Search(ctx context.Context, vec []float32, k int) ([]types.Hit, error) {
	if k <= 0 || len(r.entries) == 0 {
		return nil, nil
	}
	if len(vec) != r.manifest.Embedding.Dimension {
		return nil, fmt.Errorf("%w: query dimension %d, index dimension %d",
			types.ErrEmbeddingMismatch, len(vec), r.manifest.Embedding.Dimension)
	}

	hits := make([]types.Hit, len(r.entries))
	for i, e := range r.entries {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		hits[i] = types.Hit{Chunk: e.Chunk, Score: model.CosineSimilarity(vec, e.Embedding)}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	for i := range hits {
		hits[i].Rank = i + 1
	}
	return hits, nil
}
