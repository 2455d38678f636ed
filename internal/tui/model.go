package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"kb/internal/answer"
	"kb/internal/prompt"
	"kb/internal/vectorstore"
)

// IndexMissing is shown when a question is asked before anything was ingested.
const IndexMissing = "Index not found! Please run 'kb ingest' first."

// Asker is the TUI-facing subset of the answer orchestrator.
type Asker interface {
	Answer(ctx context.Context, question string, mode prompt.Mode, k int) (*answer.Stream, error)
}

// Options are fixed for the session.
type Options struct {
	Mode    prompt.Mode
	TopK    int
	Verbose bool
	Title   string

	// Threshold is the safe threshold shown in verbose details.
	Threshold float64
}

type startedMsg struct {
	question string
	stream   *answer.Stream
	err      error
}

type fragmentMsg struct {
	stream   *answer.Stream
	fragment answer.Fragment
}

type doneMsg struct {
	err error
}

// Model is the Bubble Tea model for the chat session.
type Model struct {
	ctx      context.Context
	asker    Asker
	opts     Options
	input    textinput.Model
	viewport viewport.Model

	transcript string
	status     string
	ready      bool

	busy   bool
	cancel context.CancelFunc
}

// New creates a chat model. ctx bounds every query of the session.
func New(ctx context.Context, asker Asker, opts Options) Model {
	if opts.Mode == "" {
		opts.Mode = prompt.ModeStandard
	}
	if opts.Title == "" {
		opts.Title = "Personal Knowledge Base"
	}
	ti := textinput.New()
	ti.Prompt = "Query: "
	ti.Placeholder = "Ask a question, or 'exit' to quit"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{
		ctx:      ctx,
		asker:    asker,
		opts:     opts,
		input:    ti,
		viewport: vp,
		status:   fmt.Sprintf("Ready (mode: %s). Ctrl-C aborts an answer, twice quits.", opts.Mode),
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Transcript returns everything shown so far, without styling of the input box.
func (m Model) Transcript() string { return m.transcript }

// Update handles key and window events and the answer stream.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		_, vh := transcriptStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		reserved := 1 + 1 + qh + vh // header, status
		m.viewport.Width = max(20, msg.Width-2)
		m.viewport.Height = max(3, msg.Height-reserved-1)
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			if m.busy {
				m.cancel()
				m.status = "Aborting..."
				return m, nil
			}
			return m, tea.Quit
		case tea.KeyCtrlD:
			return m, tea.Quit
		case tea.KeyEnter:
			return m.submit()
		case tea.KeyUp, tea.KeyDown, tea.KeyPgUp, tea.KeyPgDown:
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return m, cmd
		}

	case startedMsg:
		if msg.err != nil {
			m.busy = false
			m.cancel()
			switch {
			case errors.Is(msg.err, context.Canceled):
				m.append(refusalStyle.Render("[aborted]") + "\n")
			case errors.Is(msg.err, vectorstore.ErrIndexUnavailable):
				m.append(errorStyle.Render(IndexMissing) + "\n")
			default:
				m.append(errorStyle.Render("Error during query: "+msg.err.Error()) + "\n")
			}
			m.status = "Ready."
			m.refresh()
			return m, nil
		}
		if m.opts.Verbose {
			m.append(detailStyle.Render(Details(msg.stream, msg.question, m.opts.Threshold)) + "\n")
		}
		m.status = "Thinking..."
		m.refresh()
		return m, next(msg.stream)

	case fragmentMsg:
		switch msg.fragment.Kind {
		case answer.FragmentRefusal:
			m.append(refusalStyle.Render(msg.fragment.Text))
		case answer.FragmentFooter:
			m.append(footerStyle.Render(msg.fragment.Text))
		default:
			m.append(msg.fragment.Text)
		}
		m.refresh()
		return m, next(msg.stream)

	case doneMsg:
		m.busy = false
		m.cancel()
		switch {
		case errors.Is(msg.err, context.Canceled):
			m.append("\n" + refusalStyle.Render("[aborted]"))
		case msg.err != nil:
			m.append("\n" + errorStyle.Render("Error during query: "+msg.err.Error()))
		}
		m.append("\n")
		m.status = "Ready."
		m.refresh()
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	q := strings.TrimSpace(m.input.Value())
	if q == "" || m.busy {
		return m, nil
	}
	switch strings.ToLower(q) {
	case "exit", "quit", "q":
		return m, tea.Quit
	}
	m.input.Reset()
	m.busy = true
	ctx, cancel := context.WithCancel(m.ctx)
	m.cancel = cancel
	m.append(queryStyle.Render("Query: "+q) + "\n")
	m.status = "Searching..."
	m.refresh()

	asker, mode, k := m.asker, m.opts.Mode, m.opts.TopK
	return m, func() tea.Msg {
		s, err := asker.Answer(ctx, q, mode, k)
		return startedMsg{question: q, stream: s, err: err}
	}
}

// next pulls one fragment. The following pull is only issued once this
// fragment has been handled, so the stream is never advanced concurrently.
func next(s *answer.Stream) tea.Cmd {
	return func() tea.Msg {
		if s.Next() {
			return fragmentMsg{stream: s, fragment: s.Fragment()}
		}
		return doneMsg{err: s.Err()}
	}
}

func (m *Model) append(text string) {
	m.transcript += text
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.transcript)
	m.viewport.GotoBottom()
}

// View renders the header, transcript, query box and status line.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14")).Render(m.opts.Title)
	body := transcriptStyle.Render(m.viewport.View())
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	return header + "\n" + body + "\n" + input + "\n" + status
}

var (
	transcriptStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	refusalStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	footerStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	detailStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
)
