package tfidf

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func norm(v []float64) float64 {
	s := 0.0
	for _, x := range v {
		s += x * x
	}
	return math.Sqrt(s)
}

func TestPrepareAndEmbed(t *testing.T) {
	ctx := context.Background()
	e := NewEmbedder()

	_, err := e.Embed(ctx, "golang")
	require.Error(t, err, "unprepared embedder must refuse")

	require.NoError(t, e.Prepare([]string{
		"Go channels carry values between goroutines.",
		"The garbage collector reclaims memory.",
	}))
	assert.Equal(t, "tfidf", e.Name())
	assert.Greater(t, e.Dimension(), 0)

	t.Run("vectors are unit length", func(t *testing.T) {
		v, err := e.Embed(ctx, "goroutines and channels")
		require.NoError(t, err)
		assert.Len(t, v, e.Dimension())
		assert.InDelta(t, 1.0, norm(v), 1e-9)
	})

	t.Run("out of vocabulary text is the zero vector", func(t *testing.T) {
		v, err := e.Embed(ctx, "the of and")
		require.NoError(t, err)
		assert.Equal(t, 0.0, norm(v))
	})

	t.Run("embed all preserves order", func(t *testing.T) {
		vs, err := e.EmbedAll(ctx, []string{"memory", "channels"})
		require.NoError(t, err)
		require.Len(t, vs, 2)
		a, _ := e.Embed(ctx, "memory")
		assert.Equal(t, a, vs[0])
	})
}

func TestPrepareRejectsEmptyCorpus(t *testing.T) {
	e := NewEmbedder()
	assert.Error(t, e.Prepare(nil))
	assert.Error(t, e.Prepare([]string{"the and of"}))
}

func TestStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := NewEmbedder()
	require.NoError(t, src.Prepare([]string{"alpha beta", "beta gamma", "gamma delta"}))

	data, err := src.MarshalState()
	require.NoError(t, err)

	dst := NewEmbedder()
	require.NoError(t, dst.UnmarshalState(data))
	assert.Equal(t, src.Dimension(), dst.Dimension())

	want, err := src.Embed(ctx, "beta gamma gamma")
	require.NoError(t, err)
	got, err := dst.Embed(ctx, "beta gamma gamma")
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStateErrors(t *testing.T) {
	_, err := NewEmbedder().MarshalState()
	assert.Error(t, err)

	assert.Error(t, NewEmbedder().UnmarshalState([]byte("{")))
	assert.Error(t, NewEmbedder().UnmarshalState([]byte(`{"terms":["a"],"idf":[]}`)))
}
