package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url" validate:"required,url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model" validate:"required"`
	TimeoutSecs int    `yaml:"timeout_secs" validate:"gte=0"`
	BatchSize   int    `yaml:"batch_size" validate:"gte=0"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type   string                `yaml:"type" validate:"oneof=tfidf openai"`
	OpenAI *OpenAIEmbedderConfig `yaml:"openai,omitempty" validate:"required_if=Type openai"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Type              string `yaml:"type" validate:"oneof=window sentence"`
	ChunkSize         int    `yaml:"chunk_size" validate:"gt=0"`
	ChunkOverlap      int    `yaml:"chunk_overlap" validate:"gte=0,ltfield=ChunkSize"`
	SentencesPerChunk int    `yaml:"sentences_per_chunk" validate:"gte=0"`
	OverlapSentences  int    `yaml:"overlap_sentences" validate:"gte=0"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type   string        `yaml:"type" validate:"oneof=sqlite qdrant"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty" validate:"required_if=Type qdrant"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url" validate:"required,url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection" validate:"required"`
	TimeoutSecs int    `yaml:"timeout_secs" validate:"gte=0"`
}

// GenerationConfig configures the OpenAI-compatible streaming completion endpoint.
type GenerationConfig struct {
	BaseURL     string            `yaml:"base_url" validate:"required,url"`
	APIKeyEnv   string            `yaml:"api_key_env"`
	Model       string            `yaml:"model" validate:"required"`
	Temperature float64           `yaml:"temperature" validate:"gte=0,lte=2"`
	TimeoutSecs int               `yaml:"timeout_secs" validate:"gte=0"`
	Headers     map[string]string `yaml:"headers,omitempty"`
}

// QueryConfig holds the retrieval size and the confidence heuristic constants.
type QueryConfig struct {
	TopK          int     `yaml:"top_k" validate:"gt=0"`
	Mode          string  `yaml:"mode"`
	SafeThreshold float64 `yaml:"safe_threshold" validate:"gt=0"`
	ScoreCeiling  float64 `yaml:"score_ceiling" validate:"gt=0"`
	HighScore     float64 `yaml:"high_score" validate:"gte=0,lte=100,gtfield=MediumScore"`
	MediumScore   float64 `yaml:"medium_score" validate:"gte=0,lte=100"`
}

// SummarizerConfig configures the ingestion summary.
type SummarizerConfig struct {
	MaxSentences int `yaml:"max_sentences" validate:"gte=0"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	DocsDir     string            `yaml:"docs_dir" validate:"required"`
	PersistDir  string            `yaml:"persist_dir" validate:"required"`
	LogLevel    string            `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFile     string            `yaml:"log_file,omitempty"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Generation  GenerationConfig  `yaml:"generation"`
	Query       QueryConfig       `yaml:"query"`
	Summarizer  SummarizerConfig  `yaml:"summarizer"`
}

// IndexPath is the location of the persisted SQLite index.
func (c *AppConfig) IndexPath() string {
	return filepath.Join(c.PersistDir, "index.db")
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/kb/config.yaml.
// If neither exists, it writes defaults to ~/.config/kb/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := Default()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks struct constraints and cross-section rules, reporting every
// failed field in one error.
func Validate(cfg *AppConfig) error {
	if err := validator.New().Struct(cfg); err != nil {
		var errs validator.ValidationErrors
		if !errors.As(err, &errs) {
			return fmt.Errorf("config validation failed: %w", err)
		}
		var sb strings.Builder
		sb.WriteString("config validation failed:")
		for _, e := range errs {
			sb.WriteString(fmt.Sprintf("\n  - %s: failed '%s' (value: %v)", e.Namespace(), e.Tag(), e.Value()))
		}
		return errors.New(sb.String())
	}
	// Qdrant cannot persist TF-IDF vocabulary state alongside its vectors.
	if cfg.VectorStore.Type == "qdrant" && cfg.Embedder.Type != "openai" {
		return errors.New("config validation failed: vector_store qdrant requires embedder type openai")
	}
	return nil
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "kb", "config.yaml"), nil
}

// Default returns the configuration used when no file is present.
func Default() *AppConfig {
	return &AppConfig{
		DocsDir:    filepath.Join("data", "docs"),
		PersistDir: filepath.Join("vectorstore", "kb_index"),
		LogLevel:   "warn",
		Embedder:   EmbedderConfig{Type: "tfidf"},
		Chunker: ChunkerConfig{
			Type:              "window",
			ChunkSize:         500,
			ChunkOverlap:      50,
			SentencesPerChunk: 5,
			OverlapSentences:  1,
		},
		VectorStore: VectorStoreConfig{Type: "sqlite"},
		Generation: GenerationConfig{
			BaseURL:     "http://localhost:11434/v1/",
			APIKeyEnv:   "KB_GENERATION_API_KEY",
			Model:       "llama3.1",
			Temperature: 0.1,
			TimeoutSecs: 120,
		},
		Query: QueryConfig{
			TopK:          3,
			Mode:          "standard",
			SafeThreshold: 1.1,
			ScoreCeiling:  1.2,
			HighScore:     75,
			MediumScore:   50,
		},
		Summarizer: SummarizerConfig{MaxSentences: 3},
	}
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 500
	}
	if cfg.Chunker.SentencesPerChunk == 0 {
		cfg.Chunker.SentencesPerChunk = 5
	}
	if cfg.Embedder.Type == "openai" && cfg.Embedder.OpenAI != nil {
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "http://localhost:11434/v1/"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "all-minilm"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
		if cfg.Embedder.OpenAI.BatchSize == 0 {
			cfg.Embedder.OpenAI.BatchSize = 32
		}
	}
	if cfg.VectorStore.Type == "qdrant" && cfg.VectorStore.Qdrant != nil {
		if cfg.VectorStore.Qdrant.Collection == "" {
			cfg.VectorStore.Qdrant.Collection = "kb_chunks"
		}
		if cfg.VectorStore.Qdrant.TimeoutSecs == 0 {
			cfg.VectorStore.Qdrant.TimeoutSecs = 15
		}
	}
	if cfg.Generation.TimeoutSecs == 0 {
		cfg.Generation.TimeoutSecs = 120
	}
}
