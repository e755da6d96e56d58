package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/boardmax/ai"
	"github.com/poiesic/boardmax/core"
	"github.com/poiesic/boardmax/storage"
)

const (
	// DefaultTopK is the number of chunks retrieved per query.
	DefaultTopK = 3

	// DefaultGenerationTimeout bounds a single language model call.
	DefaultGenerationTimeout = 60 * time.Second
)

// Service answers validated queries: embed, search, assemble, prompt, generate, format.
// It holds no per-request state and is safe for concurrent use.
type Service struct {
	index             storage.IndexRepository
	embedder          ai.Embedder
	generator         ai.Generator
	validator         *Validator
	prompts           *PromptBuilder
	topK              int
	maxContextChars   int
	generationTimeout time.Duration
	logger            *slog.Logger
}

// Option configures a Service.
type Option func(*Service) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithTopK sets how many chunks are retrieved per query.
func WithTopK(k int) Option {
	return func(s *Service) error {
		if k < 1 {
			return fmt.Errorf("top k must be positive, got %d", k)
		}
		s.topK = k
		return nil
	}
}

// WithMaxContextChars bounds the context block. Zero disables the bound.
func WithMaxContextChars(n int) Option {
	return func(s *Service) error {
		if n < 0 {
			return fmt.Errorf("max context chars must not be negative, got %d", n)
		}
		s.maxContextChars = n
		return nil
	}
}

// WithPromptBuilder replaces the default prompt builder.
func WithPromptBuilder(b *PromptBuilder) Option {
	return func(s *Service) error {
		if b != nil {
			s.prompts = b
		}
		return nil
	}
}

// WithGenerationTimeout bounds each language model call. Zero disables the bound.
func WithGenerationTimeout(d time.Duration) Option {
	return func(s *Service) error {
		if d < 0 {
			return fmt.Errorf("generation timeout must not be negative, got %s", d)
		}
		s.generationTimeout = d
		return nil
	}
}

// NewService creates a query service.
func NewService(
	index storage.IndexRepository,
	embedder ai.Embedder,
	generator ai.Generator,
	validator *Validator,
	opts ...Option,
) (*Service, error) {
	if index == nil {
		return nil, ErrIndexRequired
	}
	if embedder == nil || generator == nil {
		return nil, ErrAIProviderRequired
	}
	if validator == nil {
		return nil, ErrValidatorRequired
	}

	s := &Service{
		index:             index,
		embedder:          embedder,
		generator:         generator,
		validator:         validator,
		prompts:           NewPromptBuilder(DefaultTemperature, DefaultMaxTokens),
		topK:              DefaultTopK,
		maxContextChars:   DefaultMaxContextChars,
		generationTimeout: DefaultGenerationTimeout,
		logger:            slog.Default().With("component", "query"),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Subjects returns the subjects queries may target.
func (s *Service) Subjects() []string {
	return s.validator.Subjects()
}

// Ask validates in and answers it.
// Errors are *ValidationError, *RetrievalError or *GenerationError.
func (s *Service) Ask(ctx context.Context, in *Input) (*core.Answer, error) {
	return s.AskWithMonitor(ctx, in, nil)
}

// AskWithMonitor answers in, reporting every stage transition to monitor.
func (s *Service) AskWithMonitor(ctx context.Context, in *Input, monitor Monitor) (*core.Answer, error) {
	// Use noop monitor if none provided
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	started := time.Now()
	logger := s.logger
	stage := StageReceived
	advance := func(to Stage, err error) {
		monitor.Transition(stage, to, err)
		switch {
		case err != nil:
			logger.Warn("query failed", "from", stage, "to", to, "err", err, "elapsed", time.Since(started))
		case to.Terminal():
			logger.Info("query answered", "subject", in.Subject, "elapsed", time.Since(started))
		default:
			logger.Debug("query stage", "from", stage, "to", to)
		}
		stage = to
	}

	// 1. Validate before any network call
	req, err := s.validator.Validate(in)
	if err != nil {
		advance(StageRejected, err)
		return nil, err
	}
	logger = logger.With("subject", req.Subject, "mode", req.Mode, "question_chars", len([]rune(req.Question)))
	advance(StageValidated, nil)

	// 2. Embed the request text and search the subject
	results, err := s.retrieve(ctx, req)
	if err != nil {
		err = &RetrievalError{Err: err}
		advance(StageFailedRetrieval, err)
		return nil, err
	}
	monitor.AfterRetrieval(results)
	advance(StageRetrieved, nil)

	// 3. Assemble context and prompt
	block, used := AssembleContext(results, s.maxContextChars)
	if used < len(results) {
		logger.Debug("context truncated", "retrieved", len(results), "used", used)
	}
	if used == 0 {
		logger.Info("no marking-scheme context found, answering without context")
	}
	prompt := s.prompts.Build(req, block)
	monitor.AfterPrompt(prompt, used)
	advance(StagePrompted, nil)

	// 4. Single generation attempt
	raw, err := s.generate(ctx, prompt)
	if err != nil {
		err = &GenerationError{Err: err}
		advance(StageFailedGeneration, err)
		return nil, err
	}
	advance(StageGenerated, nil)

	// 5. Format
	answer, err := FormatAnswer(raw, req, used)
	if err != nil {
		err = &GenerationError{Err: err}
		advance(StageFailedGeneration, err)
		return nil, err
	}
	advance(StageFormatted, nil)

	monitor.Finish(answer)
	advance(StageReturned, nil)
	logger.Info("query answered", "sources", used, "answer_chars", len([]rune(answer.Answer)), "elapsed", time.Since(started))
	return answer, nil
}

func (s *Service) retrieve(ctx context.Context, req *core.QueryRequest) ([]*core.SearchResult, error) {
	text := req.Question
	if req.StudentAnswer != "" {
		text = req.Question + "\n" + req.StudentAnswer
	}

	vector, err := s.embedder.EmbedText(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	results, err := s.index.Search(ctx, ai.NormalizeVector(vector), req.Subject, s.topK)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}
	return results, nil
}

func (s *Service) generate(ctx context.Context, prompt *ai.Prompt) (string, error) {
	if s.generationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.generationTimeout)
		defer cancel()
	}

	raw, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
		return "", err
	}
	return raw, nil
}
