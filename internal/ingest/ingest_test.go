package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb/internal/chunker"
	"kb/internal/domain"
	"kb/internal/embedding/tfidf"
	"kb/internal/summarizer"
	"kb/internal/vectorstore/memory"
	"kb/internal/vectorstore/sqlite"
)

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	}
}

func newSQLiteService(t *testing.T) (*Service, *sqlite.Index) {
	t.Helper()
	idx, err := sqlite.Create(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	svc := NewService(chunker.NewWindowChunker(200, 20), tfidf.NewEmbedder(), idx, summarizer.NewFrequency(), 2)
	return svc, idx
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"a.txt":       "\uFEFFAlpha document about cats.",
		"nested/b.md": "# Title\n\nBeta notes on dogs.",
		"empty.txt":   "   ",
		"skip.csv":    "x,y",
		"broken.pdf":  "this is not a pdf",
	})

	docs, err := Load(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "Alpha document about cats.", docs[0].Content)
	assert.Equal(t, filepath.Join(dir, "a.txt"), docs[0].Metadata[domain.MetaSource])
	assert.Equal(t, filepath.Join(dir, "nested", "b.md"), docs[1].Path)
	assert.NotEqual(t, docs[0].ID, docs[1].ID)
}

func TestLoadMissingDir(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestPageDocuments(t *testing.T) {
	docs := pageDocuments("/d/book.pdf", []string{"first page", "  ", "third page"})
	require.Len(t, docs, 2)
	assert.Equal(t, 1, docs[0].Metadata[domain.MetaPage])
	assert.Equal(t, 3, docs[1].Metadata[domain.MetaPage])
	assert.Equal(t, "/d/book.pdf", docs[1].Metadata[domain.MetaSource])
	assert.NotEqual(t, docs[0].ID, docs[1].ID)
}

func TestRunEmptyDir(t *testing.T) {
	svc, _ := newSQLiteService(t)
	_, err := svc.Run(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrNoDocuments)
}

func TestRunPersistsIndexAndEmbedderState(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"cats.txt": "Cats purr when they are content. Cats sleep most of the day.",
		"dogs.md":  "Dogs bark at strangers. Dogs enjoy long walks in the park.",
	})
	svc, idx := newSQLiteService(t)

	report, err := svc.Run(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Documents)
	assert.Equal(t, 2, report.Chunks)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, "tfidf", report.Embedder)
	assert.NotEmpty(t, report.Summary)

	name, ok, err := idx.Meta(ctx, MetaEmbedder)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "tfidf", name)

	state, ok, err := idx.Meta(ctx, MetaEmbedderState)
	require.NoError(t, err)
	require.True(t, ok)

	restored := tfidf.NewEmbedder()
	require.NoError(t, restored.UnmarshalState([]byte(state)))
	vec, err := restored.Embed(ctx, "why do dogs bark")
	require.NoError(t, err)
	res, err := idx.Search(ctx, vec, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "dogs.md", res[0].Chunk.Origin())
}

func TestRunAppendsAndReingestIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.txt": "Apples grow on trees in orchards."})
	svc, idx := newSQLiteService(t)

	_, err := svc.Run(ctx, dir)
	require.NoError(t, err)

	writeFiles(t, dir, map[string]string{"b.txt": "Bananas grow in tropical climates."})
	report, err := svc.Run(ctx, dir)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Chunks)
	assert.Equal(t, 2, report.Total)

	other := t.TempDir()
	writeFiles(t, other, map[string]string{"c.txt": "Cherries are small stone fruits."})
	report, err = svc.Run(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Chunks)
	assert.Equal(t, 3, report.Total, "earlier chunks are kept")

	chunks, err := idx.Chunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", chunks[0].Origin(), "insertion order survives re-embedding")
}

func TestRunRejectsDifferentEmbedder(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"a.txt": "Some text."})
	svc, idx := newSQLiteService(t)
	require.NoError(t, idx.SetMeta(ctx, MetaEmbedder, "openai:all-minilm"))

	_, err := svc.Run(ctx, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai:all-minilm")
}

type failingWrites struct {
	*sqlite.Index
}

func (f failingWrites) Upsert(context.Context, []domain.Chunk, [][]float64) error {
	return errors.New("disk full")
}

func (f failingWrites) UpsertWithMeta(context.Context, []domain.Chunk, [][]float64, map[string]string) error {
	return errors.New("disk full")
}

func TestFailedWriteKeepsPreviousIndexQueryable(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"cats.txt": "Cats purr when they are content."})
	svc, idx := newSQLiteService(t)
	_, err := svc.Run(ctx, dir)
	require.NoError(t, err)

	dimBefore, err := idx.Dimension(ctx)
	require.NoError(t, err)
	stateBefore, _, err := idx.Meta(ctx, MetaEmbedderState)
	require.NoError(t, err)

	writeFiles(t, dir, map[string]string{"dogs.txt": "Dogs bark loudly at strangers walking past the garden gate."})
	broken := NewService(chunker.NewWindowChunker(200, 20), tfidf.NewEmbedder(), failingWrites{idx}, nil, 0)
	_, err = broken.Run(ctx, dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	dimAfter, err := idx.Dimension(ctx)
	require.NoError(t, err)
	assert.Equal(t, dimBefore, dimAfter)
	stateAfter, _, err := idx.Meta(ctx, MetaEmbedderState)
	require.NoError(t, err)
	assert.Equal(t, stateBefore, stateAfter)

	restored := tfidf.NewEmbedder()
	require.NoError(t, restored.UnmarshalState([]byte(stateAfter)))
	vec, err := restored.Embed(ctx, "why do cats purr")
	require.NoError(t, err)
	res, err := idx.Search(ctx, vec, 3)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "cats.txt", res[0].Chunk.Origin())
}

func TestIngestIntoMemoryStore(t *testing.T) {
	store := memory.NewStorage()
	svc := NewService(chunker.NewSentenceChunker(1, 0), tfidf.NewEmbedder(), store, nil, 0)
	report, err := svc.Ingest(context.Background(), []domain.Document{
		{ID: "d", Path: "/x/notes.txt", Content: "First fact. Second fact. Third fact."},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Chunks)
	assert.Equal(t, 3, store.Len())
	assert.Empty(t, report.Summary)
}

func TestChunkIDIsStableUUID(t *testing.T) {
	assert.Equal(t, ChunkID("doc:0"), ChunkID("doc:0"))
	assert.NotEqual(t, ChunkID("doc:0"), ChunkID("doc:1"))
	assert.Len(t, ChunkID("doc:0"), 36)
}

func TestMerge(t *testing.T) {
	c := func(id, content string) domain.Chunk { return domain.Chunk{ID: id, Content: content} }
	got := merge(
		[]domain.Chunk{c("a", "old a"), c("b", "old b")},
		[]domain.Chunk{c("c", "new c"), c("a", "new a")},
	)
	assert.Equal(t, []domain.Chunk{c("a", "new a"), c("b", "old b"), c("c", "new c")}, got)
}
