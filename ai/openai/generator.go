package openai

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/poiesic/boardmax/ai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrNoChoices is returned when the model answers without any completion.
var ErrNoChoices = errors.New("model returned no choices")

// Generator implements ai.Generator using OpenAI-compatible chat APIs.
type Generator struct {
	client llms.Model
	logger *slog.Logger
}

// newGenerator is an internal constructor that returns the concrete type.
func newGenerator(config *ai.Config) (*Generator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.GenerationHost),
		openai.WithToken(config.GenerationToken()),
		openai.WithModel(config.GenerationModel),
		openai.WithHTTPClient(&http.Client{Timeout: config.RequestTimeout}),
	)
	if err != nil {
		return nil, err
	}

	return &Generator{
		client: client,
		logger: slog.Default().With("component", "openai-generator"),
	}, nil
}

// NewGenerator creates a new generator using the provided configuration.
//
// Returns ai.Generator interface to enforce abstraction.
func NewGenerator(config *ai.Config) (ai.Generator, error) {
	return newGenerator(config)
}

// Generate sends the system and user messages of the prompt in one request.
func (g *Generator) Generate(ctx context.Context, prompt *ai.Prompt) (string, error) {
	return Complete(ctx, g.client, prompt, g.logger)
}

// Complete runs a prompt against any langchaingo chat model and returns the
// first choice. The Ollama backend shares it through the llms.Model interface.
func Complete(ctx context.Context, client llms.Model, prompt *ai.Prompt, logger *slog.Logger) (string, error) {
	content := MessagesFor(prompt)

	opts := []llms.CallOption{llms.WithTemperature(prompt.Temperature)}
	if prompt.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(prompt.MaxTokens))
	}

	response, err := client.GenerateContent(ctx, content, opts...)
	if err != nil {
		logger.Error("failed to generate content", "err", err)
		return "", err
	}

	if len(response.Choices) < 1 {
		logger.Warn("no choices returned from model")
		return "", ErrNoChoices
	}

	text := response.Choices[0].Content
	logger.Debug("generated answer", "length", len(text), "stop_reason", response.Choices[0].StopReason)
	return text, nil
}

// MessagesFor converts a prompt into langchaingo chat messages.
// The system message is omitted when empty.
func MessagesFor(prompt *ai.Prompt) []llms.MessageContent {
	content := make([]llms.MessageContent, 0, 2)
	if prompt.System != "" {
		content = append(content, llms.MessageContent{
			Role: llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{
				llms.TextPart(prompt.System),
			},
		})
	}
	content = append(content, llms.MessageContent{
		Role: llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{
			llms.TextPart(prompt.User),
		},
	})
	return content
}
