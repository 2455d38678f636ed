package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"

	"github.com/fatih/color"

	"kb/internal/config"
	"kb/internal/ingest"
	"kb/internal/logger"
	"kb/internal/summarizer"
)

func runIngest(cfg *config.AppConfig, opts ingestOptions, out io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dir := opts.docsDir
	if dir == "" {
		dir = cfg.DocsDir
	}
	color.New(color.FgCyan).Fprintln(out, "=== Starting Ingestion Process ===")

	emb, err := buildEmbedder(cfg)
	if err != nil {
		color.New(color.FgRed).Fprintf(out, "Failed to initialize embedder: %v\n", err)
		return 1
	}
	store, location, release, err := openIngestStore(cfg)
	if err != nil {
		color.New(color.FgRed).Fprintf(out, "Failed to open index: %v\n", err)
		return 1
	}
	defer release()

	svc := ingest.NewService(buildChunker(cfg), emb, store, summarizer.NewFrequency(), cfg.Summarizer.MaxSentences)
	report, err := svc.Run(ctx, dir)
	if errors.Is(err, ingest.ErrNoDocuments) {
		color.New(color.FgRed).Fprintln(out, "No documents found to ingest.")
		return 1
	}
	if err != nil {
		logger.Error(err, "ingest failed")
		color.New(color.FgRed).Fprintf(out, "Ingestion failed: %v\n", err)
		return 1
	}

	color.New(color.FgWhite).Fprintf(out, "Loaded %d documents, added %d chunks (%d in index) using %s.\n",
		report.Documents, report.Chunks, report.Total, report.Embedder)
	color.New(color.FgWhite).Fprintf(out, "Index: %s\n", location)
	if report.Summary != "" {
		color.New(color.FgHiBlack).Fprintf(out, "Summary: %s\n", report.Summary)
	}
	color.New(color.FgGreen).Fprintln(out, "=== Ingestion Complete ===")
	return 0
}
