package main

import (
	"flag"
	"io"
	"strings"

	"kb/internal/config"
	"kb/internal/logger"
	"kb/internal/prompt"
)

type ingestOptions struct {
	docsDir string
}

type chatOptions struct {
	query   string
	apiURL  string
	mode    prompt.Mode
	topK    int
	verbose bool
	plain   bool

	threshold float64

	// model is filled in from the generation client, not from a flag.
	model string
}

func parseIngestFlags(args []string, out io.Writer) (ingestOptions, error) {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(out)
	var opts ingestOptions
	fs.StringVar(&opts.docsDir, "docs", "", "Directory of .pdf, .txt and .md files (default from config)")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	return opts, nil
}

func parseChatFlags(args []string, cfg *config.AppConfig, out io.Writer) (chatOptions, error) {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	fs.SetOutput(out)
	var (
		opts chatOptions
		mode string
	)
	fs.StringVar(&opts.query, "query", "", "Run a single query and exit")
	fs.StringVar(&opts.query, "q", "", "Shorthand for --query")
	fs.StringVar(&opts.apiURL, "api-url", "", "URL of a remote Ollama server (e.g. an ngrok URL)")
	fs.StringVar(&mode, "query-mode", cfg.Query.Mode, "Interaction mode: standard, summarize, explain_simple, exam")
	fs.IntVar(&opts.topK, "top-k", cfg.Query.TopK, "Number of chunks to retrieve")
	fs.BoolVar(&opts.verbose, "verbose", false, "Print retrieval diagnostics before each answer")
	fs.BoolVar(&opts.verbose, "v", false, "Shorthand for --verbose")
	fs.BoolVar(&opts.plain, "plain", false, "Use a line-oriented prompt instead of the full-screen UI")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	opts.mode = prompt.ParseMode(mode)
	opts.threshold = cfg.Query.SafeThreshold
	if !prompt.Mode(strings.ToLower(strings.TrimSpace(mode))).Valid() && mode != "" {
		logger.Warn("unknown query mode %q, using %s", mode, opts.mode)
	}
	return opts, nil
}

// generationBaseURL turns a bare Ollama URL into its OpenAI-compatible root.
func generationBaseURL(apiURL string) string {
	u := strings.TrimRight(strings.TrimSpace(apiURL), "/")
	if !strings.HasSuffix(u, "/v1") {
		u += "/v1"
	}
	return u + "/"
}
