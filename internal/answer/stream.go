package answer

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"kb/internal/confidence"
	"kb/internal/domain"
	"kb/internal/generation"
)

// State is the position of one query in its lifecycle.
type State int

const (
	StateIdle State = iota
	StateRetrieving
	StateEvaluating
	StateGated
	StateGenerating
	StateRendering
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRetrieving:
		return "Retrieving"
	case StateEvaluating:
		return "Evaluating"
	case StateGated:
		return "Gated"
	case StateGenerating:
		return "Generating"
	case StateRendering:
		return "Rendering"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type FragmentKind int

const (
	FragmentText FragmentKind = iota
	FragmentRefusal
	FragmentFooter
)

// Fragment is one piece of the answer.
type Fragment struct {
	Kind FragmentKind
	Text string
}

// Stream is a pull-based, single-use sequence of fragments. The last
// fragment is always the footer unless the context is cancelled first.
//
//	for s.Next() {
//		fmt.Print(s.Fragment().Text)
//	}
//	if err := s.Err(); err != nil { ... }
type Stream struct {
	ctx       context.Context
	generator domain.Generator
	prompt    string
	verdict   confidence.Verdict
	result    domain.RetrievalResult
	log       *logrus.Entry

	state   State
	text    domain.TextStream
	current Fragment
	genErr  error
	err     error
}

// Verdict is available as soon as Answer returns.
func (s *Stream) Verdict() confidence.Verdict { return s.verdict }

// Result returns the retrieved chunks the answer is based on.
func (s *Stream) Result() domain.RetrievalResult { return s.result }

func (s *Stream) State() State { return s.state }

func (s *Stream) Fragment() Fragment { return s.current }

// Err is nil after a clean run. After a generation failure it wraps
// generation.ErrUnreachable; after cancellation it is the context error.
func (s *Stream) Err() error { return s.err }

// Next advances to the next fragment.
func (s *Stream) Next() bool {
	if s.state == StateDone || s.state == StateFailed {
		return false
	}
	if err := s.ctx.Err(); err != nil {
		s.abort(err)
		return false
	}

	switch s.state {
	case StateGated:
		s.current = Fragment{Kind: FragmentRefusal, Text: Refusal}
		s.transition(StateRendering)
		return true

	case StateGenerating:
		if s.text == nil {
			text, err := s.generator.Stream(s.ctx, s.prompt)
			if err != nil {
				if s.ctx.Err() != nil {
					s.abort(s.ctx.Err())
					return false
				}
				s.genErr = unreachable(err)
				s.log.WithError(err).Warn("answer: generation failed to start")
				return s.footer()
			}
			s.text = text
		}
		if s.text.Next() {
			s.current = Fragment{Kind: FragmentText, Text: s.text.Current()}
			return true
		}
		err := s.text.Err()
		s.closeText()
		if s.ctx.Err() != nil || errors.Is(err, context.Canceled) {
			s.abort(context.Canceled)
			return false
		}
		if err != nil {
			s.genErr = unreachable(err)
			s.log.WithError(err).Warn("answer: generation failed mid-stream")
		}
		return s.footer()

	case StateRendering:
		return s.footer()
	}
	return false
}

// Close releases the generation stream if the consumer stops early.
func (s *Stream) Close() error {
	if s.state != StateDone && s.state != StateFailed {
		s.abort(context.Canceled)
	}
	return nil
}

func (s *Stream) footer() bool {
	if s.state != StateRendering {
		s.transition(StateRendering)
	}
	s.current = Fragment{Kind: FragmentFooter, Text: Render(s.verdict, s.result)}
	s.err = s.genErr
	s.transition(StateDone)
	return true
}

func (s *Stream) abort(err error) {
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	s.closeText()
	s.err = err
	s.current = Fragment{}
	s.transition(StateFailed)
}

func (s *Stream) closeText() {
	if s.text != nil {
		s.text.Close()
		s.text = nil
	}
}

func (s *Stream) transition(to State) {
	s.log.WithField("from", s.state.String()).Debugf("answer: %s", to)
	s.state = to
}

func unreachable(err error) error {
	if errors.Is(err, generation.ErrUnreachable) {
		return err
	}
	return fmt.Errorf("%w: %w", generation.ErrUnreachable, err)
}
