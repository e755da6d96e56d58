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

// Package ollama implements ai.AIProvider against Ollama's native API.
//
// Use it when the embedding or generation model runs on a local Ollama
// instance and the OpenAI-compatible /v1 endpoint is not wanted. Hosts are
// bare URLs such as "http://localhost:11434".
package ollama

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/poiesic/boardmax/ai"
	"github.com/poiesic/boardmax/ai/openai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
)

// Provider implements ai.AIProvider using Ollama.
type Provider struct {
	embedder  *Embedder
	generator *Generator
	logger    *slog.Logger
}

var _ ai.AIProvider = (*Provider)(nil)

// NewProvider creates a provider backed by Ollama. The config backend is
// forced to ai.BackendOllama before validation.
func NewProvider(config *ai.Config) (ai.AIProvider, error) {
	config.Backend = ai.BackendOllama
	if err := config.Validate(); err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: config.RequestTimeout}

	embedLLM, err := newLLM(config.EmbeddingHost, config.EmbeddingModel, httpClient)
	if err != nil {
		return nil, err
	}
	embedder, err := embeddings.NewEmbedder(embedLLM,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(config.EmbeddingBatchSize),
	)
	if err != nil {
		return nil, err
	}

	genLLM, err := newLLM(config.GenerationHost, config.GenerationModel, httpClient)
	if err != nil {
		return nil, err
	}

	return &Provider{
		embedder: &Embedder{
			embedder: embedder,
			logger:   slog.Default().With("component", "ollama-embedder"),
		},
		generator: &Generator{
			llm:    genLLM,
			logger: slog.Default().With("component", "ollama-generator"),
		},
		logger: slog.Default().With("component", "ollama-provider"),
	}, nil
}

// newLLM parses host up front; the langchaingo option exits the process on a bad URL.
func newLLM(host, model string, httpClient *http.Client) (*ollama.LLM, error) {
	if _, err := url.ParseRequestURI(host); err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	return ollama.New(
		ollama.WithServerURL(host),
		ollama.WithModel(model),
		ollama.WithHTTPClient(httpClient),
	)
}

// Embedder returns the text embedding service.
func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

// Generator returns the chat service.
func (p *Provider) Generator() ai.Generator {
	return p.generator
}

// Close is a no-op.
func (p *Provider) Close() error {
	p.logger.Debug("closing Ollama provider")
	return nil
}

// Embedder implements ai.Embedder with Ollama's embed endpoint.
type Embedder struct {
	embedder embeddings.Embedder
	logger   *slog.Logger
}

// EmbedText generates a vector embedding for a single text string.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vector, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		e.logger.Error("failed to generate embedding", "err", err)
		return nil, err
	}
	return vector, nil
}

// EmbedTexts generates vector embeddings for multiple texts.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		e.logger.Error("failed to generate embeddings", "count", len(texts), "err", err)
		return nil, err
	}
	return vectors, nil
}

// Generator implements ai.Generator with Ollama's chat endpoint.
type Generator struct {
	llm    *ollama.LLM
	logger *slog.Logger
}

// Generate sends the prompt and returns the first choice.
func (g *Generator) Generate(ctx context.Context, prompt *ai.Prompt) (string, error) {
	return openai.Complete(ctx, g.llm, prompt, g.logger)
}
