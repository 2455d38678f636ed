package retriever

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"kb/internal/domain"
	"kb/internal/logger"
	"kb/internal/vectorstore"
)

// Loader opens the persisted index and returns the embedder that produced
// it. It is called on the first Search and again after any failure, so an
// operator can ingest while the session stays up.
type Loader func(ctx context.Context) (domain.Embedder, vectorstore.Searcher, error)

// Retriever turns a question into the k nearest stored chunks.
type Retriever struct {
	load Loader

	mu       sync.Mutex
	embedder domain.Embedder
	searcher vectorstore.Searcher
}

func New(load Loader) *Retriever {
	return &Retriever{load: load}
}

// Close releases the loaded index when it holds resources. The next Search
// loads it again.
func (r *Retriever) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.searcher.(io.Closer)
	r.embedder, r.searcher = nil, nil
	if !ok {
		return nil
	}
	return c.Close()
}

// Ready loads the index if needed and reports vectorstore.ErrIndexUnavailable
// when nothing has been ingested.
func (r *Retriever) Ready(ctx context.Context) error {
	_, _, err := r.ensure(ctx)
	return err
}

// Search embeds query and returns at most k chunks ascending by distance.
func (r *Retriever) Search(ctx context.Context, query string, k int) (domain.RetrievalResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("invalid k %d", k)
	}
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("empty query")
	}
	embedder, searcher, err := r.ensure(ctx)
	if err != nil {
		return nil, err
	}
	vec, err := embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	// A query sharing no vocabulary with the corpus embeds to zero and is
	// equidistant from everything; report it as an empty retrieval.
	if isZero(vec) {
		logger.Debug("retriever: query vector is zero, returning no matches")
		return domain.RetrievalResult{}, nil
	}
	res, err := searcher.Search(ctx, vec, k)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	logger.WithFields(map[string]interface{}{
		"k":       k,
		"results": len(res),
	}).Debug("retriever: search done")
	return res, nil
}

func (r *Retriever) ensure(ctx context.Context) (domain.Embedder, vectorstore.Searcher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.embedder != nil && r.searcher != nil {
		return r.embedder, r.searcher, nil
	}
	if r.load == nil {
		return nil, nil, vectorstore.ErrIndexUnavailable
	}
	embedder, searcher, err := r.load(ctx)
	if err != nil {
		return nil, nil, err
	}
	r.embedder, r.searcher = embedder, searcher
	return embedder, searcher, nil
}

func isZero(vec []float64) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
