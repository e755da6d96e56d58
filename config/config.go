// Package config loads BoardMax configuration from an optional YAML file and
// the environment.
//
// Precedence is defaults, then file, then environment; the CLI applies its
// flags last. Secrets (API keys, the Postgres DSN) are read from the
// environment only and are never marshalled back out.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/poiesic/boardmax/ai"
	"gopkg.in/yaml.v3"
)

// Index backends.
const (
	IndexBadger   = "badger"
	IndexChromem  = "chromem"
	IndexPostgres = "postgres"
)

// Config is the complete application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Index     IndexConfig     `yaml:"index"`
	AI        AIConfig        `yaml:"ai"`
	Query     QueryConfig     `yaml:"query"`
	Ingestion IngestionConfig `yaml:"ingestion"`

	// Subjects is the allow-list of subjects that may be ingested and queried.
	Subjects []string `yaml:"subjects"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	AllowedOrigins string        `yaml:"allowed_origins"`
	RateLimit      int           `yaml:"rate_limit"`
	RateWindow     time.Duration `yaml:"rate_window"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// IndexConfig selects and configures the vector index.
type IndexConfig struct {
	Backend    string `yaml:"backend"`
	Path       string `yaml:"path"`
	Collection string `yaml:"collection"`
	Table      string `yaml:"table"`
	Dimension  int    `yaml:"dimension"`

	// PostgresDSN comes from BOARDMAX_POSTGRES_DSN only.
	PostgresDSN string `yaml:"-"`
}

// AIConfig configures the embedding and generation providers.
type AIConfig struct {
	Backend            string        `yaml:"backend"`
	EmbeddingHost      string        `yaml:"embedding_host"`
	EmbeddingModel     string        `yaml:"embedding_model"`
	GenerationHost     string        `yaml:"generation_host"`
	GenerationModel    string        `yaml:"generation_model"`
	EmbeddingBatchSize int           `yaml:"embedding_batch_size"`
	RequestTimeout     time.Duration `yaml:"request_timeout"`

	// Secrets come from the environment only.
	EmbeddingAPIKey  string `yaml:"-"`
	GenerationAPIKey string `yaml:"-"`
}

// QueryConfig configures the query service.
type QueryConfig struct {
	TopK              int           `yaml:"top_k"`
	MaxContextChars   int           `yaml:"max_context_chars"`
	Temperature       float64       `yaml:"temperature"`
	MaxTokens         int           `yaml:"max_tokens"`
	GenerationTimeout time.Duration `yaml:"generation_timeout"`
	MinLength         int           `yaml:"min_length"`
	MaxLength         int           `yaml:"max_length"`
}

// IngestionConfig configures the ingestion pipeline.
type IngestionConfig struct {
	Dir           string `yaml:"dir"`
	ChunkSize     int    `yaml:"chunk_size"`
	ChunkOverlap  int    `yaml:"chunk_overlap"`
	BatchSize     int    `yaml:"batch_size"`
	Workers       int    `yaml:"workers"`
	MaxFileSizeMB int    `yaml:"max_file_size_mb"`
}

// Default returns the reference deployment: Groq for answers, a local
// OpenAI-compatible embedding server and an on-disk badger index.
func Default() *Config {
	aiDefaults := ai.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8000,
			AllowedOrigins: "*",
			RateLimit:      5,
			RateWindow:     time.Minute,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   90 * time.Second,
		},
		Index: IndexConfig{
			Backend:    IndexBadger,
			Path:       "data/index",
			Collection: "boardmax",
			Table:      "boardmax_chunks",
		},
		AI: AIConfig{
			Backend:            aiDefaults.Backend,
			EmbeddingHost:      aiDefaults.EmbeddingHost,
			EmbeddingModel:     aiDefaults.EmbeddingModel,
			GenerationHost:     aiDefaults.GenerationHost,
			GenerationModel:    aiDefaults.GenerationModel,
			EmbeddingBatchSize: aiDefaults.EmbeddingBatchSize,
			RequestTimeout:     aiDefaults.RequestTimeout,
		},
		Query: QueryConfig{
			TopK:              3,
			MaxContextChars:   6000,
			Temperature:       0.3,
			MaxTokens:         1024,
			GenerationTimeout: 60 * time.Second,
			MinLength:         10,
			MaxLength:         2000,
		},
		Ingestion: IngestionConfig{
			Dir:           "data/marking_schemes",
			ChunkSize:     500,
			ChunkOverlap:  50,
			BatchSize:     16,
			MaxFileSizeMB: 50,
		},
		Subjects: []string{"biology", "chemistry", "math", "physics", "social-science"},
	}
}

// Load reads path (optional) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overlays BOARDMAX_* variables. GROQ_API_KEY is honoured when
// BOARDMAX_LLM_API_KEY is unset.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(name)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*dst = n
		return nil
	}

	str("BOARDMAX_HOST", &c.Server.Host)
	str("BOARDMAX_ALLOWED_ORIGINS", &c.Server.AllowedOrigins)
	str("BOARDMAX_INDEX_BACKEND", &c.Index.Backend)
	str("BOARDMAX_INDEX_PATH", &c.Index.Path)
	str("BOARDMAX_AI_BACKEND", &c.AI.Backend)
	str("BOARDMAX_EMBEDDING_HOST", &c.AI.EmbeddingHost)
	str("BOARDMAX_EMBEDDING_MODEL", &c.AI.EmbeddingModel)
	str("BOARDMAX_LLM_HOST", &c.AI.GenerationHost)
	str("BOARDMAX_LLM_MODEL", &c.AI.GenerationModel)
	str("BOARDMAX_DOCS_DIR", &c.Ingestion.Dir)

	// Secrets
	str("GROQ_API_KEY", &c.AI.GenerationAPIKey)
	str("BOARDMAX_LLM_API_KEY", &c.AI.GenerationAPIKey)
	str("BOARDMAX_EMBEDDING_API_KEY", &c.AI.EmbeddingAPIKey)
	str("BOARDMAX_POSTGRES_DSN", &c.Index.PostgresDSN)

	if err := num("BOARDMAX_PORT", &c.Server.Port); err != nil {
		return err
	}
	if err := num("BOARDMAX_RATE_LIMIT", &c.Server.RateLimit); err != nil {
		return err
	}
	if err := num("BOARDMAX_TOP_K", &c.Query.TopK); err != nil {
		return err
	}

	if v, ok := lookup("BOARDMAX_SUBJECTS"); ok && strings.TrimSpace(v) != "" {
		c.Subjects = SplitList(v)
	}
	return nil
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks every field.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Server.Port > 0 && c.Server.Port < 65536, "server.port %d out of range", c.Server.Port)
	check(c.Server.RateLimit > 0, "server.rate_limit must be positive")
	check(c.Server.RateWindow > 0, "server.rate_window must be positive")
	check(c.Server.ReadTimeout >= 0 && c.Server.WriteTimeout >= 0, "server timeouts must not be negative")

	switch c.Index.Backend {
	case IndexBadger, IndexChromem:
		check(c.Index.Backend != IndexBadger || c.Index.Path != "", "index.path is required for badger")
	case IndexPostgres:
		check(c.Index.PostgresDSN != "", "BOARDMAX_POSTGRES_DSN is required for the postgres index")
		check(c.Index.Dimension >= 0, "index.dimension must not be negative")
	default:
		errs = append(errs, fmt.Errorf("index.backend %q: must be %s, %s or %s", c.Index.Backend, IndexBadger, IndexChromem, IndexPostgres))
	}

	if err := c.AIConfig().Validate(); err != nil {
		errs = append(errs, err)
	}

	check(c.Query.TopK > 0, "query.top_k must be positive")
	check(c.Query.MaxContextChars >= 0, "query.max_context_chars must not be negative")
	check(c.Query.Temperature >= 0 && c.Query.Temperature <= 2, "query.temperature must be in [0, 2]")
	check(c.Query.MaxTokens > 0, "query.max_tokens must be positive")
	check(c.Query.GenerationTimeout >= 0, "query.generation_timeout must not be negative")
	check(c.Query.MinLength > 0 && c.Query.MaxLength >= c.Query.MinLength,
		"query length bounds [%d, %d] are invalid", c.Query.MinLength, c.Query.MaxLength)

	check(c.Ingestion.ChunkSize > 0, "ingestion.chunk_size must be positive")
	check(c.Ingestion.ChunkOverlap >= 0 && c.Ingestion.ChunkOverlap*3 < c.Ingestion.ChunkSize,
		"ingestion.chunk_overlap must be in [0, chunk_size/3)")
	check(c.Ingestion.BatchSize > 0, "ingestion.batch_size must be positive")
	check(c.Ingestion.Workers >= 0, "ingestion.workers must not be negative")
	check(c.Ingestion.MaxFileSizeMB > 0, "ingestion.max_file_size_mb must be positive")

	check(len(c.Subjects) > 0, "at least one subject is required")

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// AIConfig converts the AI section into an ai.Config.
func (c *Config) AIConfig() *ai.Config {
	return ai.NewConfig(
		ai.WithBackend(c.AI.Backend),
		ai.WithEmbeddingHost(c.AI.EmbeddingHost),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithGenerationHost(c.AI.GenerationHost),
		ai.WithGenerationModel(c.AI.GenerationModel),
		ai.WithEmbeddingAPIKey(c.AI.EmbeddingAPIKey),
		ai.WithGenerationAPIKey(c.AI.GenerationAPIKey),
		ai.WithEmbeddingBatchSize(c.AI.EmbeddingBatchSize),
		ai.WithRequestTimeout(c.AI.RequestTimeout),
	)
}

// MaxFileSize returns the ingestion file size limit in bytes.
func (c *Config) MaxFileSize() int64 {
	return int64(c.Ingestion.MaxFileSizeMB) << 20
}

// Secrets reports which secrets are present, never their values.
func (c *Config) Secrets() map[string]bool {
	return map[string]bool{
		"llm_api_key":       c.AI.GenerationAPIKey != "",
		"embedding_api_key": c.AI.EmbeddingAPIKey != "",
		"postgres_dsn":      c.Index.PostgresDSN != "",
	}
}
