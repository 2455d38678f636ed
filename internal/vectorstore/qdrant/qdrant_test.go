package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kb/internal/domain"
	"kb/internal/vectorstore"
)

type fakeQdrant struct {
	mu      sync.Mutex
	created bool
	config  map[string]any
	points  []map[string]any
	apiKeys []string
}

func (f *fakeQdrant) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/collections/kb", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.apiKeys = append(f.apiKeys, r.Header.Get("api-key"))
		switch r.Method {
		case http.MethodGet:
			if !f.created {
				http.Error(w, `{"status":{"error":"Not found"}}`, http.StatusNotFound)
				return
			}
			w.Write([]byte(`{"result":{}}`))
		case http.MethodPut:
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&f.config))
			f.created = true
			w.Write([]byte(`{"result":true}`))
		case http.MethodDelete:
			if !f.created {
				http.Error(w, "missing", http.StatusNotFound)
				return
			}
			f.created = false
			w.Write([]byte(`{"result":true}`))
		}
	})
	mux.HandleFunc("/collections/kb/points", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var body struct {
			Points []map[string]any `json:"points"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.points = append(f.points, body.Points...)
		w.Write([]byte(`{"result":{"status":"completed"}}`))
	})
	mux.HandleFunc("/collections/kb/points/search", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if !f.created {
			http.Error(w, "missing", http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"result":[
			{"id":"x","score":0.5,"payload":{"chunk_id":"doc:0","content":"alpha","metadata":{"source":"/d/a.pdf","page":3}}},
			{"id":"y","score":1.0,"payload":{"chunk_id":"doc:1","content":"beta","metadata":{"source":"/d/a.pdf"}}}
		]}`))
	})
	return mux
}

func newTestStorage(t *testing.T) (*Storage, *fakeQdrant) {
	t.Helper()
	fake := &fakeQdrant{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)
	return NewStorage(Config{URL: srv.URL + "/", APIKey: "secret", Collection: "kb"}), fake
}

func TestSearchMissingCollection(t *testing.T) {
	s, _ := newTestStorage(t)
	_, err := s.Search(context.Background(), []float64{1, 0}, 3)
	assert.ErrorIs(t, err, vectorstore.ErrIndexUnavailable)
	assert.ErrorIs(t, s.Exists(context.Background()), vectorstore.ErrIndexUnavailable)
}

func TestInitUpsertSearch(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStorage(t)

	require.NoError(t, s.Init(ctx, 2))
	require.NoError(t, s.Init(ctx, 2), "second init sees the existing collection")
	vectors := fake.config["vectors"].(map[string]any)
	assert.Equal(t, "Euclid", vectors["distance"])
	assert.EqualValues(t, 2, vectors["size"])

	id := uuid.NewString()
	require.NoError(t, s.Upsert(ctx,
		[]domain.Chunk{
			{ID: id, Content: "alpha", Metadata: domain.Metadata{"source": "a.pdf"}},
			{ID: "doc:1", Content: "beta"},
		},
		[][]float64{{1, 0}, {0, 1}},
	))
	require.Len(t, fake.points, 2)
	assert.Equal(t, id, fake.points[0]["id"])
	assert.Equal(t, PointID("doc:1"), fake.points[1]["id"])

	res, err := s.Search(ctx, []float64{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "doc:0", res[0].Chunk.ID)
	assert.InDelta(t, 0.25, res[0].Distance, 1e-9)
	assert.InDelta(t, 1.0, res[1].Distance, 1e-9)
	loc, ok := res[0].Chunk.Locator()
	assert.True(t, ok)
	assert.Equal(t, "3", loc)

	for _, k := range fake.apiKeys {
		assert.Equal(t, "secret", k)
	}
}

func TestClearIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStorage(t)
	require.NoError(t, s.Init(ctx, 2))
	require.NoError(t, s.Clear(ctx))
	require.NoError(t, s.Clear(ctx))
}

func TestPointIDStable(t *testing.T) {
	assert.Equal(t, PointID("doc:7"), PointID("doc:7"))
	assert.NotEqual(t, PointID("doc:7"), PointID("doc:8"))
	_, err := uuid.Parse(PointID("doc:7"))
	assert.NoError(t, err)
}

func TestSearchRejectsBadK(t *testing.T) {
	s, _ := newTestStorage(t)
	_, err := s.Search(context.Background(), []float64{1}, 0)
	assert.Error(t, err)
}
