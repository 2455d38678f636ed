package main

import (
	"context"
	"fmt"
	"time"

	"kb/internal/answer"
	"kb/internal/chunker"
	"kb/internal/confidence"
	"kb/internal/config"
	"kb/internal/domain"
	"kb/internal/embedding/openai"
	"kb/internal/embedding/tfidf"
	"kb/internal/generation"
	"kb/internal/ingest"
	"kb/internal/prompt"
	"kb/internal/retriever"
	"kb/internal/vectorstore"
	"kb/internal/vectorstore/qdrant"
	"kb/internal/vectorstore/sqlite"
)

func buildEmbedder(cfg *config.AppConfig) (domain.Embedder, error) {
	switch cfg.Embedder.Type {
	case "tfidf", "":
		return tfidf.NewEmbedder(), nil
	case "openai":
		oc := cfg.Embedder.OpenAI
		client, err := openai.NewClient(openai.Config{
			BaseURL:   oc.BaseURL,
			APIKeyEnv: oc.APIKeyEnv,
			Model:     oc.Model,
			Timeout:   time.Duration(oc.TimeoutSecs) * time.Second,
			BatchSize: oc.BatchSize,
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder: %w", err)
		}
		return client, nil
	}
	return nil, fmt.Errorf("unknown embedder: %s", cfg.Embedder.Type)
}

func buildChunker(cfg *config.AppConfig) domain.Chunker {
	if cfg.Chunker.Type == "sentence" {
		return chunker.NewSentenceChunker(cfg.Chunker.SentencesPerChunk, cfg.Chunker.OverlapSentences)
	}
	return chunker.NewWindowChunker(cfg.Chunker.ChunkSize, cfg.Chunker.ChunkOverlap)
}

func newQdrant(cfg *config.AppConfig) *qdrant.Storage {
	q := cfg.VectorStore.Qdrant
	return qdrant.NewStorage(qdrant.Config{
		URL:        q.URL,
		APIKey:     q.APIKey,
		Collection: q.Collection,
		Timeout:    time.Duration(q.TimeoutSecs) * time.Second,
	})
}

// openIngestStore opens the index for writing. The returned func releases it.
func openIngestStore(cfg *config.AppConfig) (vectorstore.Storage, string, func(), error) {
	if cfg.VectorStore.Type == "qdrant" {
		s := newQdrant(cfg)
		return s, fmt.Sprintf("%s/collections/%s", cfg.VectorStore.Qdrant.URL, cfg.VectorStore.Qdrant.Collection), func() {}, nil
	}
	idx, err := sqlite.Create(cfg.IndexPath())
	if err != nil {
		return nil, "", nil, err
	}
	return idx, idx.Path(), func() { idx.Close() }, nil
}

// indexLoader opens the persisted index on first use and restores the
// embedder it was built with.
func indexLoader(cfg *config.AppConfig) retriever.Loader {
	return func(ctx context.Context) (domain.Embedder, vectorstore.Searcher, error) {
		if cfg.VectorStore.Type == "qdrant" {
			s := newQdrant(cfg)
			if err := s.Exists(ctx); err != nil {
				return nil, nil, err
			}
			emb, err := buildEmbedder(cfg)
			return emb, s, err
		}

		idx, err := sqlite.Open(cfg.IndexPath())
		if err != nil {
			return nil, nil, err
		}
		emb, err := restoreEmbedder(ctx, cfg, idx)
		if err != nil {
			idx.Close()
			return nil, nil, err
		}
		return emb, idx, nil
	}
}

func restoreEmbedder(ctx context.Context, cfg *config.AppConfig, idx *sqlite.Index) (domain.Embedder, error) {
	name, ok, err := idx.Meta(ctx, ingest.MetaEmbedder)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s has no embedder recorded", vectorstore.ErrIndexUnavailable, idx.Path())
	}
	if name == "tfidf" {
		state, ok, err := idx.Meta(ctx, ingest.MetaEmbedderState)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: tfidf vocabulary missing from %s", vectorstore.ErrIndexUnavailable, idx.Path())
		}
		emb := tfidf.NewEmbedder()
		if err := emb.UnmarshalState([]byte(state)); err != nil {
			return nil, err
		}
		return emb, nil
	}
	emb, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	if emb.Name() != name {
		return nil, fmt.Errorf("index was built with embedder %q but %q is configured", name, emb.Name())
	}
	return emb, nil
}

func buildGenerator(cfg *config.AppConfig, apiURL string) (*generation.Client, error) {
	g := cfg.Generation
	headers := make(map[string]string, len(g.Headers)+1)
	for k, v := range g.Headers {
		headers[k] = v
	}
	base := g.BaseURL
	if apiURL != "" {
		base = generationBaseURL(apiURL)
		headers["ngrok-skip-browser-warning"] = "true"
	}
	return generation.NewClient(generation.Config{
		BaseURL:     base,
		APIKeyEnv:   g.APIKeyEnv,
		Model:       g.Model,
		Temperature: g.Temperature,
		Timeout:     time.Duration(g.TimeoutSecs) * time.Second,
		Headers:     headers,
	})
}

// chatSystem is everything a chat session needs.
type chatSystem struct {
	orchestrator *answer.Orchestrator
	retriever    *retriever.Retriever
	model        string
}

func buildOrchestrator(cfg *config.AppConfig, opts chatOptions) (*chatSystem, error) {
	gen, err := buildGenerator(cfg, opts.apiURL)
	if err != nil {
		return nil, err
	}
	r := retriever.New(indexLoader(cfg))
	eval, err := confidence.New(confidence.Config{
		SafeThreshold: cfg.Query.SafeThreshold,
		ScoreCeiling:  cfg.Query.ScoreCeiling,
		HighScore:     cfg.Query.HighScore,
		MediumScore:   cfg.Query.MediumScore,
	})
	if err != nil {
		return nil, fmt.Errorf("confidence: %w", err)
	}
	o := answer.New(r, eval, gen, answer.Config{
		TopK:        cfg.Query.TopK,
		DefaultMode: prompt.ParseMode(cfg.Query.Mode),
	})
	return &chatSystem{orchestrator: o, retriever: r, model: gen.Model()}, nil
}
