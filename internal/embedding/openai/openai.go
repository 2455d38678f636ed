package openai

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"kb/internal/logger"
)

// localAPIKey is sent when no key is configured; Ollama ignores it.
const localAPIKey = "ollama"

// Client is an OpenAI-compatible embeddings client implementing the Embedder interface.
type Client struct {
	sdk       openaisdk.Client
	model     string
	batchSize int
	dimension int
}

// Config configures the OpenAI-compatible embeddings client.
type Config struct {
	BaseURL   string
	APIKeyEnv string
	Model     string
	Timeout   time.Duration
	BatchSize int
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewClient creates a new embeddings client using the provided configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1/"
	}
	if cfg.Model == "" {
		return nil, errors.New("embedding model is required")
	}
	key := ""
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	if key == "" {
		key = localAPIKey
	}
	t := cfg.Timeout
	if t == 0 {
		t = 30 * time.Second
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 32
	}
	sdk := openaisdk.NewClient(
		option.WithBaseURL(cfg.BaseURL),
		option.WithAPIKey(key),
		option.WithRequestTimeout(t),
	)
	return &Client{sdk: sdk, model: cfg.Model, batchSize: batch}, nil
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "openai:" + c.model }

// Prepare is not required for remote embedding. We will lazily set dimension on first embed.
func (c *Client) Prepare(corpus []string) error { return nil }

// Dimension returns the dimensionality of the produced embedding vectors.
func (c *Client) Dimension() int { return c.dimension }

// Embed returns an embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	vecs, err := c.embedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedAll embeds texts in batches of the configured size, preserving order.
func (c *Client) EmbedAll(ctx context.Context, texts []string) ([][]float64, error) {
	all := make([][]float64, 0, len(texts))
	for i := 0; i < len(texts); i += c.batchSize {
		j := i + c.batchSize
		if j > len(texts) {
			j = len(texts)
		}
		vecs, err := c.embedBatch(ctx, texts[i:j])
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"model":       c.model,
				"batch_start": i,
				"batch_end":   j,
				"error":       err,
			}).Error("openai: embedding batch failed")
			return nil, err
		}
		logger.WithFields(map[string]interface{}{
			"batch_start": i,
			"batch_end":   j,
			"vectors":     len(vecs),
		}).Debug("openai: embedding batch done")
		all = append(all, vecs...)
	}
	return all, nil
}

func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float64, error) {
	var out embeddingResponse
	req := embeddingRequest{Model: c.model, Input: batch}
	if err := c.sdk.Post(ctx, "embeddings", req, &out); err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if out.Error != nil {
		return nil, errors.New(out.Error.Message)
	}
	if len(out.Data) != len(batch) {
		return nil, fmt.Errorf("openai embeddings: got %d vectors for %d inputs", len(out.Data), len(batch))
	}
	sort.SliceStable(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })
	vectors := make([][]float64, len(out.Data))
	for i := range out.Data {
		v := out.Data[i].Embedding
		if len(v) == 0 {
			return nil, errors.New("empty embedding")
		}
		if c.dimension == 0 {
			c.dimension = len(v)
		}
		if len(v) != c.dimension {
			return nil, fmt.Errorf("embedding dimension %d, expected %d", len(v), c.dimension)
		}
		vectors[i] = v
	}
	return vectors, nil
}
