package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"

	"kb/internal/answer"
	"kb/internal/config"
	"kb/internal/tui"
	"kb/internal/vectorstore"
)

var (
	cyan   = color.New(color.FgCyan)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed)
	green  = color.New(color.FgGreen)
	blue   = color.New(color.FgBlue)
	grey   = color.New(color.FgHiBlack)
)

func runChat(cfg *config.AppConfig, opts chatOptions, stdin io.Reader, stdout io.Writer) int {
	interactiveTUI := opts.query == "" && !opts.plain
	logOut := io.Writer(os.Stderr)
	if interactiveTUI {
		logOut = io.Discard
	}
	if err := initLogging(cfg, logOut); err != nil {
		red.Fprintln(stdout, err)
		return 1
	}

	sys, err := buildOrchestrator(cfg, opts)
	if err != nil {
		red.Fprintf(stdout, "Failed to initialize system: %v\n", err)
		return 1
	}
	defer sys.retriever.Close()
	o, r := sys.orchestrator, sys.retriever
	opts.model = sys.model

	if opts.query != "" {
		cyan.Fprintln(stdout, "=== Personal Knowledge Base (One-shot) ===")
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		if err := askOnce(ctx, o, opts, opts.query, stdout); err != nil {
			return 1
		}
		return 0
	}

	// Loading up front only to greet the user; a missing index is reported
	// per query so the operator can ingest without restarting.
	if err := r.Ready(context.Background()); err != nil && !errors.Is(err, vectorstore.ErrIndexUnavailable) {
		red.Fprintf(stdout, "Failed to initialize system: %v\n", err)
		return 1
	}

	if interactiveTUI {
		m := tui.New(context.Background(), o, tui.Options{
			Title:     fmt.Sprintf("Personal Knowledge Base (%s)", opts.model),
			Mode:      opts.mode,
			TopK:      opts.topK,
			Verbose:   opts.verbose,
			Threshold: opts.threshold,
		})
		if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
			red.Fprintf(stdout, "UI error: %v\n", err)
			return 1
		}
		return 0
	}
	return chatLoop(o, opts, stdin, stdout)
}

// chatLoop is the line-oriented session. The first Ctrl-C aborts the answer
// being streamed; Ctrl-C while waiting for input ends the session.
func chatLoop(o tui.Asker, opts chatOptions, stdin io.Reader, stdout io.Writer) int {
	cyan.Fprintln(stdout, "=== Personal Knowledge Base ===")
	if opts.model != "" {
		green.Fprintf(stdout, "System Ready (mode: %s, model: %s)! Type 'exit' to quit.\n", opts.mode, opts.model)
	} else {
		green.Fprintf(stdout, "System Ready (mode: %s)! Type 'exit' to quit.\n", opts.mode)
	}
	fmt.Fprintln(stdout, strings.Repeat("-", 50))

	var (
		mu     sync.Mutex
		cancel context.CancelFunc
	)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer func() {
		signal.Stop(sigs)
		close(sigs)
	}()
	go func() {
		for range sigs {
			mu.Lock()
			c := cancel
			mu.Unlock()
			if c == nil {
				fmt.Fprintln(stdout, "\nGoodbye!")
				os.Exit(0)
			}
			c()
		}
	}()

	scanner := bufio.NewScanner(stdin)
	for {
		blue.Fprint(stdout, "\nQuery: ")
		if !scanner.Scan() {
			fmt.Fprintln(stdout, "\nGoodbye!")
			return 0
		}
		q := strings.TrimSpace(scanner.Text())
		switch strings.ToLower(q) {
		case "":
			continue
		case "exit", "quit", "q":
			fmt.Fprintln(stdout, "Goodbye!")
			return 0
		}

		ctx, c := context.WithCancel(context.Background())
		mu.Lock()
		cancel = c
		mu.Unlock()

		_ = askOnce(ctx, o, opts, q, stdout)

		mu.Lock()
		cancel = nil
		mu.Unlock()
		c()
	}
}

// askOnce streams one answer to out. Failures are printed, not fatal.
func askOnce(ctx context.Context, o tui.Asker, opts chatOptions, q string, out io.Writer) error {
	cyan.Fprintln(out, "Thinking...")
	s, err := o.Answer(ctx, q, opts.mode, opts.topK)
	if errors.Is(err, context.Canceled) {
		yellow.Fprintln(out, "[aborted]")
		return err
	}
	if errors.Is(err, vectorstore.ErrIndexUnavailable) {
		red.Fprintln(out, tui.IndexMissing)
		return err
	}
	if err != nil {
		red.Fprintf(out, "Error during query: %v\n", err)
		return err
	}
	defer s.Close()

	if opts.verbose {
		v := s.Verdict()
		grey.Fprintf(out, "[details] top1=%.4f threshold=%.2f average=%.4f count=%d safe=%t\n",
			v.Details.Top1, opts.threshold, v.Details.Average, v.Details.Count, v.SafeToAnswer)
	}
	for s.Next() {
		f := s.Fragment()
		switch f.Kind {
		case answer.FragmentRefusal:
			yellow.Fprint(out, f.Text)
		case answer.FragmentFooter:
			grey.Fprint(out, f.Text)
		default:
			fmt.Fprint(out, f.Text)
		}
	}
	fmt.Fprintln(out)
	switch err := s.Err(); {
	case errors.Is(err, context.Canceled):
		yellow.Fprintln(out, "[aborted]")
		return err
	case err != nil:
		red.Fprintf(out, "Error during query: %v\n", err)
		return err
	}
	return nil
}
