package domain

import "context"

// Embedder converts free text into a numeric vector representation.
// Implementations may require a preparation phase over the corpus.
type Embedder interface {
	Name() string
	Prepare(corpus []string) error
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedAll(ctx context.Context, texts []string) ([][]float64, error)
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}

// Retriever returns the k chunks nearest to a free-text query.
type Retriever interface {
	Search(ctx context.Context, query string, k int) (RetrievalResult, error)
}

// TextStream is a finite, non-restartable sequence of generated text fragments.
type TextStream interface {
	Next() bool
	Current() string
	Err() error
	Close() error
}

// Generator streams a completion for a fully rendered prompt.
type Generator interface {
	Stream(ctx context.Context, prompt string) (TextStream, error)
}
