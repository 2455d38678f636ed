// Package confidence decides whether a retrieval result is good enough to
// answer from, and how confident the answer should look to the user.
//
// Two stages are applied: a hard gate on the best (top-1) distance, and a
// display score derived from the average distance. Neither is a probability;
// both constants were tuned for one embedding model and stay overridable.
package confidence

import (
	"fmt"

	"kb/internal/domain"
)

// Labels, in the order they are considered.
const (
	LabelNoAnswer = "No Answer"
	LabelUnsafe   = "Unsafe / No Answer"
	LabelHigh     = "High"
	LabelMedium   = "Medium"
	LabelLow      = "Low"
)

const (
	DefaultSafeThreshold = 1.1
	DefaultScoreCeiling  = 1.2
	DefaultHighScore     = 75.0
	DefaultMediumScore   = 50.0
)

// Config holds the heuristic constants.
type Config struct {
	// SafeThreshold is the top-1 distance at or above which answering is refused.
	SafeThreshold float64
	// ScoreCeiling is the average distance that maps to a score of zero.
	ScoreCeiling float64
	HighScore    float64
	MediumScore  float64
}

func DefaultConfig() Config {
	return Config{
		SafeThreshold: DefaultSafeThreshold,
		ScoreCeiling:  DefaultScoreCeiling,
		HighScore:     DefaultHighScore,
		MediumScore:   DefaultMediumScore,
	}
}

// Details are the raw statistics a verdict was computed from.
type Details struct {
	Top1    float64
	Average float64
	Count   int
}

// Verdict is the outcome of evaluating one retrieval result.
type Verdict struct {
	Label        string
	Score        float64
	Explanation  string
	SafeToAnswer bool
	Details      Details
}

// Evaluator applies a Config. The zero value is not usable; use New.
type Evaluator struct {
	cfg Config
}

// New returns an evaluator. A non-positive SafeThreshold or ScoreCeiling
// falls back to its default. Score cutoffs are taken as given unless both are
// zero, and HighScore must exceed MediumScore.
func New(cfg Config) (*Evaluator, error) {
	def := DefaultConfig()
	if cfg.SafeThreshold <= 0 {
		cfg.SafeThreshold = def.SafeThreshold
	}
	if cfg.ScoreCeiling <= 0 {
		cfg.ScoreCeiling = def.ScoreCeiling
	}
	if cfg.HighScore == 0 && cfg.MediumScore == 0 {
		cfg.HighScore, cfg.MediumScore = def.HighScore, def.MediumScore
	}
	if cfg.MediumScore < 0 || cfg.HighScore > 100 {
		return nil, fmt.Errorf("score cutoffs must lie in [0, 100], got high %.1f medium %.1f", cfg.HighScore, cfg.MediumScore)
	}
	if cfg.HighScore <= cfg.MediumScore {
		return nil, fmt.Errorf("high score cutoff %.1f must exceed medium cutoff %.1f", cfg.HighScore, cfg.MediumScore)
	}
	return &Evaluator{cfg: cfg}, nil
}

// Default returns an evaluator using DefaultConfig.
func Default() *Evaluator {
	return &Evaluator{cfg: DefaultConfig()}
}

// Config returns the constants in effect.
func (e *Evaluator) Config() Config { return e.cfg }

// Evaluate is a pure function of result.
func (e *Evaluator) Evaluate(result domain.RetrievalResult) Verdict {
	if len(result) == 0 {
		return Verdict{
			Label:       LabelNoAnswer,
			Score:       0,
			Explanation: "no matching documents found",
		}
	}

	top1 := result[0].Distance
	sum := 0.0
	for _, sc := range result {
		if sc.Distance < top1 {
			top1 = sc.Distance
		}
		sum += sc.Distance
	}
	d := Details{Top1: top1, Average: sum / float64(len(result)), Count: len(result)}

	safe := d.Top1 < e.cfg.SafeThreshold
	score := max(0, e.cfg.ScoreCeiling-d.Average) / e.cfg.ScoreCeiling * 100

	var label string
	switch {
	case !safe:
		label = LabelUnsafe
	case score > e.cfg.HighScore:
		label = LabelHigh
	case score > e.cfg.MediumScore:
		label = LabelMedium
	default:
		label = LabelLow
	}

	return Verdict{
		Label:        label,
		Score:        score,
		Explanation:  e.explain(d, safe),
		SafeToAnswer: safe,
		Details:      d,
	}
}

func (e *Evaluator) explain(d Details, safe bool) string {
	cmp := "<"
	if !safe {
		cmp = ">="
	}
	return fmt.Sprintf("best match distance %.4f %s safe threshold %.2f; average distance %.4f over %d sources (lower distance is better)",
		d.Top1, cmp, e.cfg.SafeThreshold, d.Average, d.Count)
}

// Evaluate applies the default constants.
func Evaluate(result domain.RetrievalResult) Verdict {
	return Default().Evaluate(result)
}
