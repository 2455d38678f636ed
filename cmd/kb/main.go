package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"kb/internal/config"
	"kb/internal/logger"
)

const usage = `Usage:
  kb [--config path] ingest [--docs dir]
  kb [--config path] chat [--query "..."] [--api-url URL] [--query-mode MODE] [--top-k N] [--verbose] [--plain]
`

func main() {
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout))
}

func run(args []string, stdin io.Reader, stdout io.Writer) int {
	global := flag.NewFlagSet("kb", flag.ContinueOnError)
	global.SetOutput(stdout)
	cfgPath := global.String("config", "", "Path to YAML config file (default ./config.yaml, then ~/.config/kb/config.yaml)")
	global.Usage = func() { fmt.Fprint(stdout, usage) }
	if err := global.Parse(args); err != nil {
		return 2
	}

	rest := global.Args()
	command := "chat"
	if len(rest) > 0 {
		command, rest = rest[0], rest[1:]
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		color.New(color.FgRed).Fprintf(stdout, "Failed to load config: %v\n", err)
		return 1
	}

	switch command {
	case "ingest":
		opts, err := parseIngestFlags(rest, stdout)
		if err != nil {
			return 2
		}
		if err := initLogging(cfg, os.Stderr); err != nil {
			color.New(color.FgRed).Fprintln(stdout, err)
			return 1
		}
		return runIngest(cfg, opts, stdout)
	case "chat":
		opts, err := parseChatFlags(rest, cfg, stdout)
		if err != nil {
			return 2
		}
		return runChat(cfg, opts, stdin, stdout)
	default:
		fmt.Fprintf(stdout, "unknown command %q\n\n%s", command, usage)
		return 2
	}
}

func loadConfig(path string) (*config.AppConfig, error) {
	if path == "" {
		cfg, _, err := config.LoadDefault()
		return cfg, err
	}
	return config.Load(path)
}

// initLogging sends logs to the configured file, or to fallback.
func initLogging(cfg *config.AppConfig, fallback io.Writer) error {
	out := fallback
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		out = f
	}
	if err := logger.Init(cfg.LogLevel, out); err != nil {
		return errors.New("invalid log_level: " + cfg.LogLevel)
	}
	return nil
}
