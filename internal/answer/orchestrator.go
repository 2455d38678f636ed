// Package answer runs one question through retrieval, the confidence gate
// and generation, and hands the caller a stream that always ends with a
// metadata footer.
package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"kb/internal/confidence"
	"kb/internal/domain"
	"kb/internal/logger"
	"kb/internal/prompt"
)

// Refusal is emitted instead of an answer when the gate is closed.
const Refusal = "I cannot find the answer in the provided documents (confidence too low)."

// Evaluator scores a retrieval result.
type Evaluator interface {
	Evaluate(result domain.RetrievalResult) confidence.Verdict
}

// Config is fixed at construction.
type Config struct {
	// TopK is used when a caller passes k <= 0.
	TopK int
	// DefaultMode is used when a caller passes an empty mode.
	DefaultMode prompt.Mode
}

func DefaultConfig() Config {
	return Config{TopK: 3, DefaultMode: prompt.ModeStandard}
}

type Orchestrator struct {
	retriever domain.Retriever
	evaluator Evaluator
	generator domain.Generator
	cfg       Config
}

func New(retriever domain.Retriever, evaluator Evaluator, generator domain.Generator, cfg Config) *Orchestrator {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultConfig().TopK
	}
	if cfg.DefaultMode == "" {
		cfg.DefaultMode = prompt.ModeStandard
	}
	return &Orchestrator{retriever: retriever, evaluator: evaluator, generator: generator, cfg: cfg}
}

// Answer retrieves and evaluates eagerly, so an unavailable index is
// reported here and no stream is created. Generation starts on the first
// call to Next.
func (o *Orchestrator) Answer(ctx context.Context, question string, mode prompt.Mode, k int) (*Stream, error) {
	if k <= 0 {
		k = o.cfg.TopK
	}
	if mode == "" {
		mode = o.cfg.DefaultMode
	}
	s := &Stream{ctx: ctx, generator: o.generator, state: StateIdle}
	s.log = logger.WithFields(logrus.Fields{"question_len": len(question), "k": k, "mode": string(mode)})

	s.transition(StateRetrieving)
	result, err := o.retriever.Search(ctx, question, k)
	if err != nil {
		s.transition(StateFailed)
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	s.result = result

	s.transition(StateEvaluating)
	s.verdict = o.evaluator.Evaluate(result)
	s.log = s.log.WithFields(logrus.Fields{
		"label":   s.verdict.Label,
		"top1":    s.verdict.Details.Top1,
		"average": s.verdict.Details.Average,
		"count":   s.verdict.Details.Count,
	})

	if !s.verdict.SafeToAnswer {
		s.transition(StateGated)
		return s, nil
	}
	s.prompt = prompt.Select(mode).Render(joinContext(result), question)
	s.transition(StateGenerating)
	return s, nil
}

func joinContext(result domain.RetrievalResult) string {
	parts := make([]string, len(result))
	for i, sc := range result {
		parts[i] = sc.Chunk.Content
	}
	return strings.Join(parts, "\n\n")
}
