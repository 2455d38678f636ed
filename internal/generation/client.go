package generation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/ssestream"

	"kb/internal/domain"
	"kb/internal/logger"
)

// ErrUnreachable marks a failure of the generation service, either before the
// first fragment or mid-stream. The query fails; the session does not.
var ErrUnreachable = errors.New("generation service unreachable")

const localAPIKey = "ollama"

// Config configures the OpenAI-compatible chat completions endpoint.
type Config struct {
	BaseURL     string
	APIKeyEnv   string
	Model       string
	Temperature float64
	Timeout     time.Duration
	Headers     map[string]string
}

// Client streams chat completions and implements domain.Generator.
type Client struct {
	sdk         openaisdk.Client
	model       string
	temperature float64
}

// NewClient builds a client. Requests are never retried: a failed query is
// reported to the user, who may simply ask again.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Model == "" {
		return nil, errors.New("generation model is required")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("generation base url is required")
	}
	key := ""
	if cfg.APIKeyEnv != "" {
		key = os.Getenv(cfg.APIKeyEnv)
	}
	if key == "" {
		key = localAPIKey
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	base := cfg.BaseURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	opts := []option.RequestOption{
		option.WithBaseURL(base),
		option.WithAPIKey(key),
		option.WithRequestTimeout(timeout),
		option.WithMaxRetries(0),
	}
	for k, v := range cfg.Headers {
		opts = append(opts, option.WithHeader(k, v))
	}
	return &Client{
		sdk:         openaisdk.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
	}, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Stream sends prompt as a single user message and returns the completion
// as it is produced.
func (c *Client) Stream(ctx context.Context, prompt string) (domain.TextStream, error) {
	logger.WithFields(map[string]interface{}{
		"model":      c.model,
		"prompt_len": len(prompt),
	}).Debug("generation: stream started")

	s := c.sdk.Chat.Completions.NewStreaming(ctx, openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(c.model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.UserMessage(prompt),
		},
		Temperature: openaisdk.Float(c.temperature),
	})
	return &textStream{ctx: ctx, s: s}, nil
}

// textStream adapts the SDK chunk stream to domain.TextStream, skipping
// chunks that carry no content (role headers, finish markers).
type textStream struct {
	ctx     context.Context
	s       *ssestream.Stream[openaisdk.ChatCompletionChunk]
	current string
	err     error
}

func (t *textStream) Next() bool {
	if t.err != nil {
		return false
	}
	for t.s.Next() {
		chunk := t.s.Current()
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		t.current = chunk.Choices[0].Delta.Content
		return true
	}
	if err := t.s.Err(); err != nil {
		t.err = classify(t.ctx, err)
	}
	return false
}

func (t *textStream) Current() string { return t.current }

func (t *textStream) Err() error { return t.err }

func (t *textStream) Close() error { return t.s.Close() }

// classify keeps cancellation distinguishable from a broken service.
func classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %w", ErrUnreachable, err)
}
