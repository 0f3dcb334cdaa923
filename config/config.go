package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"docrag/types"
)

// Config is the single source of configuration for ingestion, search and
// the query server. The same file must be used by all of them.
type Config struct {
	SourceDir string    `yaml:"source_dir" validate:"required"`
	Index     Index     `yaml:"index"`
	Embedding Embedding `yaml:"embedding"`
	Chunking  Chunking  `yaml:"chunking"`
	LLM       LLM       `yaml:"llm"`
	Retrieval Retrieval `yaml:"retrieval"`
	Loader    Loader    `yaml:"loader"`
	Server    Server    `yaml:"server"`
	Log       Log       `yaml:"log"`
}

type Index struct {
	Backend string `yaml:"backend" validate:"oneof=sqlite postgres"`
	// Path is the index directory for the sqlite backend.
	Path string `yaml:"path" validate:"required_if=Backend sqlite"`
	DSN  string `yaml:"dsn" validate:"required_if=Backend postgres"`
	// Table prefixes the postgres tables so several indexes can share a database.
	Table string `yaml:"table" validate:"required,max=48"`
}

type Embedding struct {
	Provider          string        `yaml:"provider" validate:"oneof=hash ollama openai"`
	Model             string        `yaml:"model" validate:"required"`
	URL               string        `yaml:"url" validate:"required_unless=Provider hash"`
	Device            string        `yaml:"device" validate:"oneof=cpu gpu cuda mps auto"`
	Dimension         int           `yaml:"dimension" validate:"gte=0"`
	Normalize         bool          `yaml:"normalize"`
	BatchSize         int           `yaml:"batch_size" validate:"gte=1"`
	BatchConcurrency  int           `yaml:"batch_concurrency" validate:"gte=1"`
	RequestsPerSecond float64       `yaml:"requests_per_second" validate:"gte=0"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	APIKey            string        `yaml:"-"`
}

type Chunking struct {
	Size    int `yaml:"size" validate:"gt=0"`
	Overlap int `yaml:"overlap" validate:"gte=0,ltfield=Size"`
}

type LLM struct {
	Provider         string        `yaml:"provider" validate:"oneof=ollama openai"`
	URL              string        `yaml:"url" validate:"required"`
	Model            string        `yaml:"model" validate:"required"`
	Temperature      float64       `yaml:"temperature" validate:"gte=0,lte=2"`
	Seed             int           `yaml:"seed"`
	Timeout          time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxContextTokens int           `yaml:"max_context_tokens" validate:"gt=0"`
	APIKey           string        `yaml:"-"`
}

type Retrieval struct {
	K int `yaml:"k" validate:"gte=1,lte=50"`
}

type Loader struct {
	Workers int `yaml:"workers" validate:"gte=0"`
	// Extensions overrides the extension to content type table,
	// e.g. ".log": "text" or ".md": "skip".
	Extensions    map[string]string `yaml:"extensions"`
	PDFCropTop    float64           `yaml:"pdf_crop_top" validate:"gte=0"`
	PDFCropBottom float64           `yaml:"pdf_crop_bottom" validate:"gte=0"`
}

type Server struct {
	Addr           string        `yaml:"addr" validate:"required"`
	MaxConcurrent  int           `yaml:"max_concurrent" validate:"gte=1"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
	InitRetry      time.Duration `yaml:"init_retry" validate:"gt=0"`
}

type Log struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

func Default() *Config {
	return &Config{
		SourceDir: "./data",
		Index: Index{
			Backend: "sqlite",
			Path:    "./db",
			Table:   "rag",
		},
		Embedding: Embedding{
			Provider:         "ollama",
			Model:            "all-minilm",
			URL:              "http://localhost:11434",
			Device:           "cpu",
			Normalize:        true,
			BatchSize:        64,
			BatchConcurrency: 4,
			Timeout:          30 * time.Second,
		},
		Chunking: Chunking{
			Size:    1000,
			Overlap: 200,
		},
		LLM: LLM{
			Provider:         "ollama",
			URL:              "http://localhost:11434",
			Model:            "llama3",
			Temperature:      0,
			Seed:             42,
			Timeout:          120 * time.Second,
			MaxContextTokens: 3000,
		},
		Retrieval: Retrieval{K: 4},
		Loader: Loader{
			Workers: runtime.NumCPU(),
		},
		Server: Server{
			Addr:           ":8000",
			MaxConcurrent:  16,
			RequestTimeout: 150 * time.Second,
			InitRetry:      10 * time.Second,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path, an optional .env file and RAG_* environment variables, in that
// order, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("RAG_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := overrideByEnv(cfg); err != nil {
		return nil, err
	}
	if cfg.Embedding.Provider == "hash" && cfg.Embedding.Dimension == 0 {
		cfg.Embedding.Dimension = 384
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if errs := types.ValidateStruct(c); len(errs) > 0 {
		parts := make([]string, 0, len(errs))
		for field, msg := range errs {
			parts = append(parts, field+" "+msg)
		}
		sort.Strings(parts)
		return fmt.Errorf("invalid config: %s", strings.Join(parts, "; "))
	}
	for ext, name := range c.Loader.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("invalid config: loader extension %q must start with a dot", ext)
		}
		if _, ok := types.ParseContentType(name); !ok {
			return fmt.Errorf("invalid config: unknown content type %q for %s", name, ext)
		}
	}
	for _, r := range c.Index.Table {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return fmt.Errorf("invalid config: index table %q may only contain a-z, 0-9 and _", c.Index.Table)
		}
	}
	return nil
}

// Logger builds the process logger described by the log section.
func (c *Config) Logger() *slog.Logger {
	var level slog.Level
	switch c.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func overrideByEnv(cfg *Config) error {
	cfg.SourceDir = getEnv("RAG_SOURCE_DIR", cfg.SourceDir)

	cfg.Index.Backend = getEnv("RAG_INDEX_BACKEND", cfg.Index.Backend)
	cfg.Index.Path = getEnv("RAG_INDEX_PATH", cfg.Index.Path)
	cfg.Index.DSN = getEnv("RAG_PG_DSN", cfg.Index.DSN)

	cfg.Embedding.Provider = getEnv("RAG_EMBEDDING_PROVIDER", cfg.Embedding.Provider)
	cfg.Embedding.Model = getEnv("RAG_EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Embedding.URL = getEnv("RAG_EMBEDDING_URL", cfg.Embedding.URL)
	cfg.Embedding.Device = getEnv("RAG_EMBEDDING_DEVICE", cfg.Embedding.Device)

	cfg.LLM.Provider = getEnv("RAG_LLM_PROVIDER", cfg.LLM.Provider)
	cfg.LLM.URL = getEnv("RAG_LLM_URL", cfg.LLM.URL)
	cfg.LLM.Model = getEnv("RAG_LLM_MODEL", cfg.LLM.Model)

	cfg.Server.Addr = getEnv("RAG_SERVER_ADDR", cfg.Server.Addr)
	cfg.Log.Level = getEnv("RAG_LOG_LEVEL", cfg.Log.Level)

	key := os.Getenv("OPENAI_API_KEY")
	cfg.Embedding.APIKey = key
	cfg.LLM.APIKey = key

	var err error
	if cfg.Embedding.Dimension, err = getEnvAsInt("RAG_EMBEDDING_DIMENSION", cfg.Embedding.Dimension); err != nil {
		return err
	}
	if cfg.Chunking.Size, err = getEnvAsInt("RAG_CHUNK_SIZE", cfg.Chunking.Size); err != nil {
		return err
	}
	if cfg.Chunking.Overlap, err = getEnvAsInt("RAG_CHUNK_OVERLAP", cfg.Chunking.Overlap); err != nil {
		return err
	}
	if cfg.Retrieval.K, err = getEnvAsInt("RAG_TOP_K", cfg.Retrieval.K); err != nil {
		return err
	}
	if v := os.Getenv("RAG_LLM_TEMPERATURE"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RAG_LLM_TEMPERATURE: %w", err)
		}
		cfg.LLM.Temperature = t
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
