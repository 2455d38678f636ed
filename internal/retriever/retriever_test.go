package retriever

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb/internal/domain"
	"kb/internal/vectorstore"
	"kb/internal/vectorstore/memory"
)

// axisEmbedder maps a handful of words onto fixed axes.
type axisEmbedder struct{}

func (axisEmbedder) Name() string { return "axis" }
func (axisEmbedder) Prepare([]string) error { return nil }
func (axisEmbedder) Dimension() int { return 2 }
func (e axisEmbedder) EmbedAll(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		out[i], _ = e.Embed(ctx, t)
	}
	return out, nil
}
func (axisEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	switch text {
	case "cats":
		return []float64{1, 0}, nil
	case "dogs":
		return []float64{0, 1}, nil
	case "unknown words":
		return []float64{0, 0}, nil
	}
	return []float64{0.5, 0.5}, nil
}

func seeded(t *testing.T) *memory.Storage {
	t.Helper()
	ctx := context.Background()
	s := memory.NewStorage()
	require.NoError(t, s.Init(ctx, 2))
	require.NoError(t, s.Upsert(ctx,
		[]domain.Chunk{{ID: "c"}, {ID: "d"}, {ID: "m"}},
		[][]float64{{1, 0}, {0, 1}, {0.5, 0.5}},
	))
	return s
}

func opened(s vectorstore.Searcher) *Retriever {
	return New(func(context.Context) (domain.Embedder, vectorstore.Searcher, error) {
		return axisEmbedder{}, s, nil
	})
}

func TestSearchOrdersByDistance(t *testing.T) {
	r := opened(seeded(t))

	res, err := r.Search(context.Background(), "dogs", 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "d", res[0].Chunk.ID)
	assert.Equal(t, "m", res[1].Chunk.ID)
	assert.LessOrEqual(t, res[0].Distance, res[1].Distance)
}

func TestSearchKLargerThanIndex(t *testing.T) {
	r := opened(seeded(t))
	res, err := r.Search(context.Background(), "cats", 10)
	require.NoError(t, err)
	assert.Len(t, res, 3)
}

func TestSearchRejectsBadInput(t *testing.T) {
	r := opened(seeded(t))
	_, err := r.Search(context.Background(), "cats", 0)
	assert.Error(t, err)
	_, err = r.Search(context.Background(), "   ", 3)
	assert.Error(t, err)
}

func TestLazyLoadRetriesAfterFailure(t *testing.T) {
	calls := 0
	store := seeded(t)
	r := New(func(context.Context) (domain.Embedder, vectorstore.Searcher, error) {
		calls++
		if calls == 1 {
			return nil, nil, fmt.Errorf("%w: nothing ingested", vectorstore.ErrIndexUnavailable)
		}
		return axisEmbedder{}, store, nil
	})

	_, err := r.Search(context.Background(), "cats", 1)
	assert.ErrorIs(t, err, vectorstore.ErrIndexUnavailable)

	require.NoError(t, r.Ready(context.Background()))
	res, err := r.Search(context.Background(), "cats", 1)
	require.NoError(t, err)
	assert.Equal(t, "c", res[0].Chunk.ID)
	assert.Equal(t, 2, calls, "a loaded index is cached")
}

type failingSearcher struct{}

func (failingSearcher) Search(context.Context, []float64, int) (domain.RetrievalResult, error) {
	return nil, errors.New("disk on fire")
}

func TestSearchWrapsIndexErrors(t *testing.T) {
	r := opened(failingSearcher{})
	_, err := r.Search(context.Background(), "cats", 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "search index")
}

func TestZeroQueryVectorIsEmptyRetrieval(t *testing.T) {
	r := opened(seeded(t))
	res, err := r.Search(context.Background(), "unknown words", 3)
	require.NoError(t, err)
	assert.Empty(t, res)
}

type closingSearcher struct {
	*memory.Storage
	closed *int
}

func (c closingSearcher) Close() error {
	*c.closed++
	return nil
}

func TestCloseReleasesIndexAndReloads(t *testing.T) {
	closed, loads := 0, 0
	store := seeded(t)
	r := New(func(context.Context) (domain.Embedder, vectorstore.Searcher, error) {
		loads++
		return axisEmbedder{}, closingSearcher{Storage: store, closed: &closed}, nil
	})

	require.NoError(t, r.Close(), "closing before any load is a no-op")
	assert.Equal(t, 0, closed)

	_, err := r.Search(context.Background(), "cats", 1)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, 1, closed)

	_, err = r.Search(context.Background(), "cats", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
}
