package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"kb/internal/domain"
	"kb/internal/logger"
	"kb/internal/vectorstore"
)

// ErrNoDocuments is returned when the docs directory has nothing to ingest.
var ErrNoDocuments = errors.New("no documents found to ingest")

// Meta keys shared with the query side.
const (
	MetaEmbedder      = "embedder"
	MetaEmbedderState = "embedder_state"
)

// chunkNamespace scopes chunk UUIDs so re-ingesting a file overwrites its chunks.
var chunkNamespace = uuid.MustParse("6f1c2b0e-3f57-5d2a-9a51-4b1f0c7d2e11")

// MetaStore is implemented by indexes that persist embedder state next to
// their vectors. UpsertWithMeta must apply chunks, dimension and meta
// atomically so a failed write leaves the previous index queryable.
type MetaStore interface {
	Meta(ctx context.Context, key string) (string, bool, error)
	Chunks(ctx context.Context) ([]domain.Chunk, error)
	UpsertWithMeta(ctx context.Context, chunks []domain.Chunk, vectors [][]float64, meta map[string]string) error
}

// StatefulEmbedder builds its vector space from the corpus. Adding documents
// changes every vector, so the whole index is re-embedded.
type StatefulEmbedder interface {
	domain.Embedder
	MarshalState() ([]byte, error)
}

// Report summarizes one ingestion run.
type Report struct {
	Documents int
	Chunks    int
	Total     int
	Embedder  string
	Summary   string
}

type Service struct {
	chunker      domain.Chunker
	embedder     domain.Embedder
	store        vectorstore.Storage
	summarizer   domain.Summarizer
	maxSentences int
}

func NewService(chunker domain.Chunker, embedder domain.Embedder, store vectorstore.Storage, summarizer domain.Summarizer, maxSentences int) *Service {
	return &Service{chunker: chunker, embedder: embedder, store: store, summarizer: summarizer, maxSentences: maxSentences}
}

// Run loads dir, chunks and embeds it, and adds the chunks to the index.
// Chunks from earlier runs are kept; re-ingested files replace their own chunks.
func (s *Service) Run(ctx context.Context, dir string) (Report, error) {
	docs, err := Load(ctx, dir)
	if err != nil {
		return Report{}, err
	}
	if len(docs) == 0 {
		return Report{}, fmt.Errorf("%w in %s", ErrNoDocuments, dir)
	}
	return s.Ingest(ctx, docs)
}

// Ingest indexes already loaded documents.
func (s *Service) Ingest(ctx context.Context, docs []domain.Document) (Report, error) {
	if len(docs) == 0 {
		return Report{}, ErrNoDocuments
	}
	log := logger.WithFields(logrus.Fields{"documents": len(docs), "embedder": s.embedder.Name()})

	var fresh []domain.Chunk
	var corpus strings.Builder
	for _, d := range docs {
		chunks, err := s.chunker.Chunk(d)
		if err != nil {
			return Report{}, fmt.Errorf("chunk %s: %w", d.Path, err)
		}
		for i := range chunks {
			chunks[i].ID = ChunkID(chunks[i].ID)
		}
		fresh = append(fresh, chunks...)
		corpus.WriteString(d.Content)
		corpus.WriteString("\n")
	}
	if len(fresh) == 0 {
		return Report{}, ErrNoDocuments
	}

	meta, _ := s.store.(MetaStore)
	if meta != nil {
		if err := s.checkEmbedder(ctx, meta); err != nil {
			return Report{}, err
		}
	}

	batch := fresh
	if _, isStateful := s.embedder.(StatefulEmbedder); isStateful && meta != nil {
		existing, err := meta.Chunks(ctx)
		if err != nil {
			return Report{}, fmt.Errorf("read existing chunks: %w", err)
		}
		batch = merge(existing, fresh)
	}
	log.WithFields(logrus.Fields{"new_chunks": len(fresh), "embedding": len(batch)}).Info("ingest: embedding chunks")

	texts := make([]string, len(batch))
	for i, ch := range batch {
		texts[i] = ch.Content
	}
	if err := s.embedder.Prepare(texts); err != nil {
		return Report{}, fmt.Errorf("prepare embedder: %w", err)
	}
	vectors, err := s.embedder.EmbedAll(ctx, texts)
	if err != nil {
		return Report{}, fmt.Errorf("embed: %w", err)
	}
	if len(vectors) != len(batch) || len(vectors[0]) == 0 {
		return Report{}, errors.New("embedder returned no vectors")
	}

	if err := s.write(ctx, meta, batch, vectors); err != nil {
		return Report{}, err
	}

	report := Report{
		Documents: len(docs),
		Chunks:    len(fresh),
		Total:     len(batch),
		Embedder:  s.embedder.Name(),
	}
	if meta != nil {
		if all, err := meta.Chunks(ctx); err == nil {
			report.Total = len(all)
		}
	}
	if s.summarizer != nil {
		summary, err := s.summarizer.Summarize(corpus.String(), s.maxSentences)
		if err != nil {
			logger.Warn("ingest: summary failed: %v", err)
		}
		report.Summary = summary
	}
	log.WithFields(logrus.Fields{"chunks": report.Chunks, "total": report.Total}).Info("ingest: done")
	return report, nil
}

func (s *Service) write(ctx context.Context, meta MetaStore, chunks []domain.Chunk, vectors [][]float64) error {
	if meta == nil {
		if err := s.store.Init(ctx, len(vectors[0])); err != nil {
			return fmt.Errorf("init index: %w", err)
		}
		if err := s.store.Upsert(ctx, chunks, vectors); err != nil {
			return fmt.Errorf("write index: %w", err)
		}
		return nil
	}
	entries := map[string]string{MetaEmbedder: s.embedder.Name()}
	if stateful, ok := s.embedder.(StatefulEmbedder); ok {
		state, err := stateful.MarshalState()
		if err != nil {
			return fmt.Errorf("save embedder state: %w", err)
		}
		entries[MetaEmbedderState] = string(state)
	}
	if err := meta.UpsertWithMeta(ctx, chunks, vectors, entries); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	return nil
}

// ChunkID derives a stable UUID from a document-scoped chunk key.
func ChunkID(key string) string {
	return uuid.NewSHA1(chunkNamespace, []byte(key)).String()
}

func (s *Service) checkEmbedder(ctx context.Context, meta MetaStore) error {
	prev, ok, err := meta.Meta(ctx, MetaEmbedder)
	if err != nil {
		return err
	}
	if ok && prev != s.embedder.Name() {
		return fmt.Errorf("index was built with embedder %q, configured embedder is %q; remove the index to rebuild it", prev, s.embedder.Name())
	}
	return nil
}

// merge keeps existing chunks in place, replacing any that are re-ingested,
// and appends the rest.
func merge(existing, fresh []domain.Chunk) []domain.Chunk {
	byID := make(map[string]int, len(fresh))
	for i, ch := range fresh {
		byID[ch.ID] = i
	}
	out := make([]domain.Chunk, 0, len(existing)+len(fresh))
	used := make(map[string]bool, len(fresh))
	for _, ch := range existing {
		if i, ok := byID[ch.ID]; ok {
			out = append(out, fresh[i])
			used[ch.ID] = true
			continue
		}
		out = append(out, ch)
	}
	for _, ch := range fresh {
		if !used[ch.ID] {
			out = append(out, ch)
		}
	}
	return out
}
