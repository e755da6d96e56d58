package ai

import (
	"errors"
	"strings"
	"time"
)

// Supported provider backends.
const (
	// BackendOpenAI talks to any OpenAI-compatible API (Groq, OpenAI, LM Studio, Ollama's /v1).
	BackendOpenAI = "openai"
	// BackendOllama talks to Ollama's native API.
	BackendOllama = "ollama"
)

// Config holds configuration for AI service providers.
type Config struct {
	// Backend selects the client implementation, BackendOpenAI or BackendOllama.
	Backend string

	// EmbeddingHost is the base URL for the embedding service API.
	// Example: "http://localhost:11434/v1" for local OpenAI-compatible server
	EmbeddingHost string

	// GenerationHost is the base URL for the chat-completion service API.
	// Example: "https://api.groq.com/openai/v1"
	GenerationHost string

	// EmbeddingModel is the model identifier to use for text embeddings.
	// Example: "all-minilm", "text-embedding-3-small"
	EmbeddingModel string

	// GenerationModel is the model identifier to use for answers.
	// Example: "llama-3.3-70b-versatile", "qwen2.5:3b"
	GenerationModel string

	// EmbeddingAPIKey authenticates against the embedding host.
	// Empty means the host does not require authentication.
	EmbeddingAPIKey string

	// GenerationAPIKey authenticates against the generation host.
	GenerationAPIKey string

	// EmbeddingBatchSize is the number of texts sent per embedding request.
	// Default: 32
	EmbeddingBatchSize int

	// RequestTimeout bounds a single HTTP call to either service.
	// Default: 60s
	RequestTimeout time.Duration
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithBackend sets the provider backend.
func WithBackend(backend string) ConfigOption {
	return func(c *Config) {
		c.Backend = backend
	}
}

// WithEmbeddingHost sets the embedding service host URL.
func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

// WithGenerationHost sets the generation service host URL.
func WithGenerationHost(host string) ConfigOption {
	return func(c *Config) {
		c.GenerationHost = host
	}
}

// WithHost sets both embedding and generation hosts to the same URL.
func WithHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
		c.GenerationHost = host
	}
}

// WithEmbeddingModel sets the embedding model identifier.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithGenerationModel sets the generation model identifier.
func WithGenerationModel(model string) ConfigOption {
	return func(c *Config) {
		c.GenerationModel = model
	}
}

// WithEmbeddingAPIKey sets the credential for the embedding host.
func WithEmbeddingAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingAPIKey = key
	}
}

// WithGenerationAPIKey sets the credential for the generation host.
func WithGenerationAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.GenerationAPIKey = key
	}
}

// WithEmbeddingBatchSize sets how many texts are sent per embedding request.
func WithEmbeddingBatchSize(size int) ConfigOption {
	return func(c *Config) {
		c.EmbeddingBatchSize = size
	}
}

// WithRequestTimeout sets the per-call HTTP timeout.
func WithRequestTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.RequestTimeout = d
	}
}

// DefaultConfig returns a Config matching the reference deployment:
// a local OpenAI-compatible embedding server and Groq for answers.
func DefaultConfig() *Config {
	return &Config{
		Backend:            BackendOpenAI,
		EmbeddingHost:      "http://localhost:11434/v1",
		GenerationHost:     "https://api.groq.com/openai/v1",
		EmbeddingModel:     "all-minilm",
		GenerationModel:    "llama-3.3-70b-versatile",
		EmbeddingBatchSize: 32,
		RequestTimeout:     60 * time.Second,
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
// This is the recommended way to create a Config with custom settings.
//
// Example:
//
//	cfg := NewConfig(
//	    WithHost("http://localhost:11434/v1"),
//	    WithGenerationModel("qwen2.5:3b"),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize ensures the configuration is in a canonical form.
// For the OpenAI backend it adds the /v1 suffix to hosts if missing, which is
// required by most OpenAI-compatible APIs. The Ollama backend uses bare hosts.
func (c *Config) Normalize() {
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = BackendOpenAI
	}

	switch c.Backend {
	case BackendOpenAI:
		c.EmbeddingHost = withV1Suffix(c.EmbeddingHost)
		c.GenerationHost = withV1Suffix(c.GenerationHost)
	case BackendOllama:
		c.EmbeddingHost = strings.TrimSuffix(strings.TrimSuffix(c.EmbeddingHost, "/"), "/v1")
		c.GenerationHost = strings.TrimSuffix(strings.TrimSuffix(c.GenerationHost, "/"), "/v1")
	}
}

func withV1Suffix(host string) string {
	if host == "" || strings.HasSuffix(host, "/v1") {
		return host
	}
	// Remove trailing slash if present before adding /v1
	return strings.TrimSuffix(host, "/") + "/v1"
}

// Validate checks that the configuration is valid and complete.
// It automatically normalizes the configuration before validation.
func (c *Config) Validate() error {
	// Normalize first to ensure hosts are in correct format
	c.Normalize()

	if c.Backend != BackendOpenAI && c.Backend != BackendOllama {
		return errors.New("ai config: Backend must be \"openai\" or \"ollama\"")
	}
	if c.EmbeddingHost == "" {
		return errors.New("ai config: EmbeddingHost is required")
	}
	if c.GenerationHost == "" {
		return errors.New("ai config: GenerationHost is required")
	}
	if c.EmbeddingModel == "" {
		return errors.New("ai config: EmbeddingModel is required")
	}
	if c.GenerationModel == "" {
		return errors.New("ai config: GenerationModel is required")
	}
	if c.EmbeddingBatchSize < 1 {
		return errors.New("ai config: EmbeddingBatchSize must be at least 1")
	}
	if c.RequestTimeout < 0 {
		return errors.New("ai config: RequestTimeout cannot be negative")
	}
	return nil
}

// token returns the credential to send, or "none" for hosts without authentication.
func token(key string) string {
	if key == "" {
		return "none"
	}
	return key
}

// EmbeddingToken returns the credential to send to the embedding host.
func (c *Config) EmbeddingToken() string {
	return token(c.EmbeddingAPIKey)
}

// GenerationToken returns the credential to send to the generation host.
func (c *Config) GenerationToken() string {
	return token(c.GenerationAPIKey)
}
