package vectorstore

import (
	"context"
	"errors"

	"kb/internal/domain"
)

// ErrIndexUnavailable is returned when no persisted index exists at the
// configured location. Callers should ask the operator to run ingestion.
var ErrIndexUnavailable = errors.New("index unavailable")

// Searcher answers nearest-neighbour queries. Results are ascending by
// squared Euclidean distance; ties keep insertion order.
type Searcher interface {
	Search(ctx context.Context, vector []float64, topK int) (domain.RetrievalResult, error)
}

// Storage persists vectors and supports similarity search.
type Storage interface {
	Searcher
	Init(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, chunks []domain.Chunk, vectors [][]float64) error
	Clear(ctx context.Context) error
}

// SquaredL2 is the distance metric shared by every backend.
func SquaredL2(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
