package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	_ "modernc.org/sqlite"

	"kb/internal/domain"
	"kb/internal/logger"
	"kb/internal/vectorstore"
	"kb/internal/vectorstore/memory"
)

// MetaDimension records the vector size in the meta table.
const MetaDimension = "dimension"

const schema = `
CREATE TABLE IF NOT EXISTS chunks (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	rid       TEXT NOT NULL UNIQUE,
	content   TEXT NOT NULL,
	metadata  TEXT NOT NULL,
	embedding BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const upsertMeta = `INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`

// Index is a vector index persisted in a single SQLite file. Vectors are
// loaded into a memory.Storage on first search and searched there.
type Index struct {
	db   *sql.DB
	path string

	mu     sync.Mutex
	loaded *memory.Storage
}

// Create opens the index at path for writing, creating the file and schema
// when missing.
func Create(path string) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create index dir: %w", err)
	}
	db, err := open(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Index{db: db, path: path}, nil
}

// Open opens an existing index. It returns vectorstore.ErrIndexUnavailable
// when nothing has been ingested at path.
func Open(path string) (*Index, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: no index at %s", vectorstore.ErrIndexUnavailable, path)
		}
		return nil, fmt.Errorf("stat index: %w", err)
	}
	db, err := open(path)
	if err != nil {
		return nil, err
	}
	var name string
	err = db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='chunks'`).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		db.Close()
		return nil, fmt.Errorf("%w: %s has no chunks table", vectorstore.ErrIndexUnavailable, path)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("inspect schema: %w", err)
	}
	return &Index{db: db, path: path}, nil
}

func open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	return db, nil
}

// Path returns the file backing the index.
func (x *Index) Path() string { return x.path }

// Close closes the underlying database connection.
func (x *Index) Close() error {
	return x.db.Close()
}

// Init records the vector dimension.
func (x *Index) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	return x.SetMeta(ctx, MetaDimension, strconv.Itoa(dimension))
}

// Dimension returns the recorded vector dimension, or 0 when unset.
func (x *Index) Dimension(ctx context.Context) (int, error) {
	v, ok, err := x.Meta(ctx, MetaDimension)
	if err != nil || !ok {
		return 0, err
	}
	return strconv.Atoi(v)
}

// SetMeta stores a key/value pair alongside the vectors.
func (x *Index) SetMeta(ctx context.Context, key, value string) error {
	_, err := x.db.ExecContext(ctx, upsertMeta, key, value)
	if err != nil {
		return fmt.Errorf("set meta %s: %w", key, err)
	}
	return nil
}

// Meta reads a value stored with SetMeta.
func (x *Index) Meta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := x.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get meta %s: %w", key, err)
	}
	return value, true, nil
}

// Upsert inserts chunks with their vectors in one transaction. A chunk whose
// ID is already stored is updated in place and keeps its insertion position.
func (x *Index) Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float64) error {
	return x.UpsertWithMeta(ctx, chunks, vectors, nil)
}

// UpsertWithMeta writes chunks, the vector dimension and the given meta
// entries in a single transaction. On error the index is left as it was.
func (x *Index) UpsertWithMeta(ctx context.Context, chunks []domain.Chunk, vectors [][]float64, meta map[string]string) error {
	if len(chunks) != len(vectors) {
		return errors.New("chunks and vectors length mismatch")
	}
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (rid, content, metadata, embedding) VALUES (?, ?, ?, ?)
		ON CONFLICT(rid) DO UPDATE SET content = excluded.content, metadata = excluded.metadata, embedding = excluded.embedding`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for i, ch := range chunks {
		raw, err := json.Marshal(ch.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata for %s: %w", ch.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, ch.ID, ch.Content, string(raw), encodeVector(vectors[i])); err != nil {
			return fmt.Errorf("upsert %s: %w", ch.ID, err)
		}
	}

	entries := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		entries[k] = v
	}
	if len(vectors) > 0 {
		if len(vectors[0]) == 0 {
			return errors.New("invalid dimension")
		}
		entries[MetaDimension] = strconv.Itoa(len(vectors[0]))
	}
	for k, v := range entries {
		if _, err := tx.ExecContext(ctx, upsertMeta, k, v); err != nil {
			return fmt.Errorf("set meta %s: %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	x.invalidate()
	return nil
}

// Clear removes every chunk but keeps the meta table.
func (x *Index) Clear(ctx context.Context) error {
	if _, err := x.db.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	x.invalidate()
	return nil
}

// Count returns the number of stored chunks.
func (x *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}

// Chunks returns every stored chunk in insertion order.
func (x *Index) Chunks(ctx context.Context) ([]domain.Chunk, error) {
	var out []domain.Chunk
	err := x.scan(ctx, func(ch domain.Chunk, _ []float64) {
		out = append(out, ch)
	})
	return out, err
}

// Load reads every row in insertion order into an in-memory search engine.
func (x *Index) Load(ctx context.Context) (*memory.Storage, error) {
	dim, err := x.Dimension(ctx)
	if err != nil {
		return nil, err
	}
	store := memory.NewStorage()
	if dim == 0 {
		return store, nil
	}
	if err := store.Init(ctx, dim); err != nil {
		return nil, err
	}
	var chunks []domain.Chunk
	var vectors [][]float64
	err = x.scan(ctx, func(ch domain.Chunk, vec []float64) {
		chunks = append(chunks, ch)
		vectors = append(vectors, vec)
	})
	if err != nil {
		return nil, err
	}
	if err := store.Upsert(ctx, chunks, vectors); err != nil {
		return nil, fmt.Errorf("load %s: %w", x.path, err)
	}
	logger.WithFields(map[string]interface{}{
		"path":      x.path,
		"chunks":    store.Len(),
		"dimension": store.Dimension(),
	}).Debug("sqlite: index loaded")
	return store, nil
}

// Search loads the index on first use and answers from memory.
func (x *Index) Search(ctx context.Context, vector []float64, topK int) (domain.RetrievalResult, error) {
	x.mu.Lock()
	store := x.loaded
	if store == nil {
		var err error
		store, err = x.Load(ctx)
		if err != nil {
			x.mu.Unlock()
			return nil, err
		}
		x.loaded = store
	}
	x.mu.Unlock()
	return store.Search(ctx, vector, topK)
}

func (x *Index) invalidate() {
	x.mu.Lock()
	x.loaded = nil
	x.mu.Unlock()
}

func (x *Index) scan(ctx context.Context, fn func(domain.Chunk, []float64)) error {
	rows, err := x.db.QueryContext(ctx, `SELECT rid, content, metadata, embedding FROM chunks ORDER BY id`)
	if err != nil {
		return fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			ch   domain.Chunk
			meta string
			blob []byte
		)
		if err := rows.Scan(&ch.ID, &ch.Content, &meta, &blob); err != nil {
			return fmt.Errorf("scan chunk: %w", err)
		}
		if err := json.Unmarshal([]byte(meta), &ch.Metadata); err != nil {
			return fmt.Errorf("decode metadata for %s: %w", ch.ID, err)
		}
		vec, err := decodeVector(blob)
		if err != nil {
			return fmt.Errorf("decode vector for %s: %w", ch.ID, err)
		}
		fn(ch, vec)
	}
	return rows.Err()
}

// encodeVector stores a vector as little-endian float32 values.
func encodeVector(v []float64) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(float32(f)))
	}
	return buf
}

func decodeVector(buf []byte) ([]float64, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("blob length %d is not a multiple of 4", len(buf))
	}
	v := make([]float64, len(buf)/4)
	for i := range v {
		v[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:])))
	}
	return v, nil
}
