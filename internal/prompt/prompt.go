package prompt

import (
	"strings"
)

// Mode selects the instructions given to the model.
type Mode string

const (
	ModeStandard      Mode = "standard"
	ModeSummarize     Mode = "summarize"
	ModeExplainSimple Mode = "explain_simple"
	ModeExam          Mode = "exam"
)

// Modes lists every supported mode in display order.
var Modes = []Mode{ModeStandard, ModeSummarize, ModeExplainSimple, ModeExam}

// ParseMode maps user input to a Mode. Unknown or empty input is ModeStandard.
func ParseMode(s string) Mode {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := templates[m]; ok {
		return m
	}
	return ModeStandard
}

// Valid reports whether m names a known template.
func (m Mode) Valid() bool {
	_, ok := templates[m]
	return ok
}

const (
	contextSlot  = "{context}"
	questionSlot = "{question}"
)

// Template is a prompt with exactly two slots, {context} and {question}.
type Template struct {
	Mode Mode
	text string
}

// Render fills both slots. Substitution is single-pass, so slot markers that
// appear inside the context or question are left alone.
func (t Template) Render(context, question string) string {
	r := strings.NewReplacer(contextSlot, context, questionSlot, question)
	return r.Replace(t.text)
}

// Select returns the template for mode, falling back to ModeStandard.
func Select(mode Mode) Template {
	if text, ok := templates[mode]; ok {
		return Template{Mode: mode, text: text}
	}
	return Template{Mode: ModeStandard, text: templates[ModeStandard]}
}

const preamble = `You are a helpful personal knowledge assistant.
Use ONLY the information in the CONTEXT below. Do NOT make up information and do NOT add facts from outside knowledge.
`

const footer = `
CONTEXT:
{context}

QUESTION:
{question}

ANSWER:
`

var templates = map[Mode]string{
	ModeStandard: preamble + `
Answer the QUESTION concisely and directly.
If the answer is not in the context, say "I cannot find the answer in the provided documents."
` + footer,

	ModeSummarize: preamble + `
Summarize what the context says about the QUESTION as a short list of bullet points.
If the context says nothing about it, say "I cannot find the answer in the provided documents."
` + footer,

	ModeExplainSimple: preamble + `
Explain the answer to the QUESTION as if to a beginner, in simple words.
Use a short analogy if it helps, but keep every fact grounded in the context.
` + footer,

	ModeExam: preamble + `
Write a short quiz of 3 questions, each followed by its answer, that tests understanding of the context as it relates to the QUESTION.
Every question and answer must come from the context.
` + footer,
}
