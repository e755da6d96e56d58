// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package boardmax wires configuration, the vector index and the AI provider
// into the ingestion pipeline, the query service and the HTTP server.
package boardmax

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/poiesic/boardmax/ai"
	"github.com/poiesic/boardmax/ai/ollama"
	"github.com/poiesic/boardmax/ai/openai"
	"github.com/poiesic/boardmax/api"
	"github.com/poiesic/boardmax/config"
	"github.com/poiesic/boardmax/ingestion"
	"github.com/poiesic/boardmax/query"
	"github.com/poiesic/boardmax/reembed"
	"github.com/poiesic/boardmax/storage"
	"github.com/poiesic/boardmax/storage/badger"
	"github.com/poiesic/boardmax/storage/chromem"
	"github.com/poiesic/boardmax/storage/postgres"
)

// App owns the index and AI provider for one process.
type App struct {
	config   *config.Config
	index    storage.IndexRepository
	provider ai.AIProvider
	logger   *slog.Logger
}

// AppOption configures an App.
type AppOption func(*appOptions)

type appOptions struct {
	index    storage.IndexRepository
	provider ai.AIProvider
	logger   *slog.Logger
}

// WithIndex uses index instead of opening the configured backend.
// The App takes ownership and closes it.
func WithIndex(index storage.IndexRepository) AppOption {
	return func(o *appOptions) {
		o.index = index
	}
}

// WithProvider uses provider instead of connecting to the configured backend.
// The App takes ownership and closes it.
func WithProvider(provider ai.AIProvider) AppOption {
	return func(o *appOptions) {
		o.provider = provider
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) AppOption {
	return func(o *appOptions) {
		o.logger = logger
	}
}

// Open creates an App from cfg.
func Open(ctx context.Context, cfg *config.Config, opts ...AppOption) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	// Apply options
	options := &appOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}

	index := options.index
	if index == nil {
		var err error
		index, err = OpenIndex(ctx, cfg)
		if err != nil {
			return nil, err
		}
	}

	provider := options.provider
	if provider == nil {
		var err error
		provider, err = NewProvider(cfg)
		if err != nil {
			index.Close()
			return nil, err
		}
	}

	return &App{
		config:   cfg,
		index:    index,
		provider: provider,
		logger:   options.logger,
	}, nil
}

// OpenIndex opens the index backend named by cfg.Index.Backend.
func OpenIndex(ctx context.Context, cfg *config.Config) (storage.IndexRepository, error) {
	switch cfg.Index.Backend {
	case config.IndexBadger:
		index, err := badger.NewIndex(cfg.Index.Path)
		if err != nil {
			return nil, fmt.Errorf("opening badger index at %s: %w", cfg.Index.Path, err)
		}
		return index, nil
	case config.IndexChromem:
		index, err := chromem.NewIndex(cfg.Index.Path, cfg.Index.Collection)
		if err != nil {
			return nil, fmt.Errorf("opening chromem index: %w", err)
		}
		return index, nil
	case config.IndexPostgres:
		index, err := postgres.NewIndex(ctx, cfg.Index.PostgresDSN, postgres.Options{
			Table:     cfg.Index.Table,
			Dimension: cfg.Index.Dimension,
		})
		if err != nil {
			// The DSN carries credentials and is deliberately left out
			return nil, fmt.Errorf("opening postgres index: %w", err)
		}
		return index, nil
	}
	return nil, fmt.Errorf("%w: %q", storage.ErrUnknownBackend, cfg.Index.Backend)
}

// NewProvider creates the AI provider named by cfg.AI.Backend.
func NewProvider(cfg *config.Config) (ai.AIProvider, error) {
	aiConfig := cfg.AIConfig()
	if err := aiConfig.Validate(); err != nil {
		return nil, err
	}
	switch aiConfig.Backend {
	case ai.BackendOllama:
		return ollama.NewProvider(aiConfig)
	default:
		return openai.NewProvider(aiConfig)
	}
}

// Config returns the configuration the App was opened with.
func (a *App) Config() *config.Config {
	return a.config
}

// Index returns the vector index.
func (a *App) Index() storage.IndexRepository {
	return a.index
}

// Provider returns the AI provider.
func (a *App) Provider() ai.AIProvider {
	return a.provider
}

// NewIngestionPipeline creates a pipeline configured from the ingestion section.
// opts are applied after the configured ones.
func (a *App) NewIngestionPipeline(opts ...ingestion.Option) (*ingestion.Pipeline, error) {
	cfg := a.config
	chunker, err := ingestion.NewChunker(cfg.Ingestion.ChunkSize, cfg.Ingestion.ChunkOverlap)
	if err != nil {
		return nil, err
	}

	base := []ingestion.Option{
		ingestion.WithLogger(a.logger.With("component", "ingestion")),
		ingestion.WithChunker(chunker),
		ingestion.WithAllowedSubjects(cfg.Subjects...),
		ingestion.WithBatchSize(cfg.Ingestion.BatchSize),
		ingestion.WithModelTag(cfg.AI.EmbeddingModel),
		ingestion.WithMaxFileSize(cfg.MaxFileSize()),
	}
	if cfg.Ingestion.Workers > 0 {
		base = append(base, ingestion.WithPoolSize(cfg.Ingestion.Workers))
	}
	return ingestion.NewPipeline(a.index, a.provider.Embedder(), append(base, opts...)...)
}

// NewQueryService creates a query service configured from the query section.
func (a *App) NewQueryService(opts ...query.Option) (*query.Service, error) {
	cfg := a.config
	validator, err := query.NewValidator(cfg.Subjects,
		query.WithLengthBounds(cfg.Query.MinLength, cfg.Query.MaxLength))
	if err != nil {
		return nil, err
	}

	base := []query.Option{
		query.WithLogger(a.logger.With("component", "query")),
		query.WithTopK(cfg.Query.TopK),
		query.WithMaxContextChars(cfg.Query.MaxContextChars),
		query.WithPromptBuilder(query.NewPromptBuilder(cfg.Query.Temperature, cfg.Query.MaxTokens)),
		query.WithGenerationTimeout(cfg.Query.GenerationTimeout),
	}
	return query.NewService(a.index, a.provider.Embedder(), a.provider.Generator(), validator, append(base, opts...)...)
}

// NewServer creates the HTTP server in front of a new query service.
func (a *App) NewServer(opts ...api.Option) (*api.Server, error) {
	svc, err := a.NewQueryService()
	if err != nil {
		return nil, err
	}

	cfg := a.config.Server
	base := []api.Option{
		api.WithLogger(a.logger.With("component", "api")),
		api.WithRateLimit(cfg.RateLimit, cfg.RateWindow),
		api.WithAllowedOrigins(cfg.AllowedOrigins),
		api.WithTimeouts(cfg.ReadTimeout, cfg.WriteTimeout),
	}
	return api.NewServer(svc, append(base, opts...)...)
}

// NewReembedder creates a reembedder over the index using the configured embedder.
func (a *App) NewReembedder(rcfg *reembed.Config, progress io.Writer) (*reembed.Reembedder, error) {
	return reembed.NewReembedder(a.index, a.provider.Embedder(), rcfg, progress)
}

// Close releases the AI provider and the index.
func (a *App) Close() error {
	if err := a.provider.Close(); err != nil {
		a.logger.Error("error closing AI provider", "err", err)
	}
	if err := a.index.Close(); err != nil {
		a.logger.Error("error closing index", "err", err)
		return err
	}
	return nil
}
