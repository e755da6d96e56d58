package query

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/boardmax/ai"
	"github.com/poiesic/boardmax/ai/mock"
	"github.com/poiesic/boardmax/core"
	"github.com/poiesic/boardmax/ingestion"
	"github.com/poiesic/boardmax/storage"
	"github.com/poiesic/boardmax/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const physicsScheme = `Marking scheme: Light

Q3. Define refraction. (2 marks)
Refraction is the bending of light when it passes obliquely from one medium to another.
Award 1 mark for "bending of light" and 1 mark for "change of medium".
`

type recordingMonitor struct {
	mu          sync.Mutex
	transitions []Stage
	terminals   int
	retrieved   int
	sources     int
	finished    *core.Answer
}

func (m *recordingMonitor) Transition(_, to Stage, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, to)
	if to.Terminal() {
		m.terminals++
	}
}

func (m *recordingMonitor) AfterRetrieval(results []*core.SearchResult) { m.retrieved = len(results) }
func (m *recordingMonitor) AfterPrompt(_ *ai.Prompt, sources int)      { m.sources = sources }
func (m *recordingMonitor) Finish(answer *core.Answer)                 { m.finished = answer }

// examinerGenerator answers from the prompt the way a well-behaved model would.
func examinerGenerator() *mock.MockGenerator {
	gen := mock.NewMockGenerator()
	gen.GenerateFunc = func(_ context.Context, prompt *ai.Prompt) (string, error) {
		if strings.Contains(prompt.User, NoContextNotice) {
			return NoContextNotice + " Revise the definition from your textbook.", nil
		}
		if strings.Contains(prompt.User, "Refraction is the bending of light") {
			return "<think>use the scheme</think>\n- **Refraction** is the **bending of light** on a **change of medium**.", nil
		}
		return "- an answer", nil
	}
	return gen
}

func setupIndexedPhysics(t *testing.T, embedder ai.Embedder) storage.IndexRepository {
	t.Helper()
	index, err := badger.NewMemoryIndex()
	require.NoError(t, err)
	t.Cleanup(func() { index.Close() })

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "physics"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "physics", "light_ms.txt"), []byte(physicsScheme), 0o644))

	pipeline, err := ingestion.NewPipeline(index, embedder)
	require.NoError(t, err)
	defer pipeline.Release()
	report, err := pipeline.IngestDir(context.Background(), dir)
	require.NoError(t, err)
	require.False(t, report.HardFailed())
	return index
}

func setupTestService(t *testing.T, index storage.IndexRepository, embedder ai.Embedder, generator ai.Generator, opts ...Option) *Service {
	t.Helper()
	validator, err := NewValidator([]string{"physics", "chemistry", "biology"})
	require.NoError(t, err)
	svc, err := NewService(index, embedder, generator, validator, opts...)
	require.NoError(t, err)
	return svc
}

func TestNewService_Validation(t *testing.T) {
	index, err := badger.NewMemoryIndex()
	require.NoError(t, err)
	defer index.Close()
	validator, err := NewValidator([]string{"physics"})
	require.NoError(t, err)
	emb, gen := mock.NewMockEmbedder(), mock.NewMockGenerator()

	_, err = NewService(nil, emb, gen, validator)
	assert.ErrorIs(t, err, ErrIndexRequired)
	_, err = NewService(index, nil, gen, validator)
	assert.ErrorIs(t, err, ErrAIProviderRequired)
	_, err = NewService(index, emb, nil, validator)
	assert.ErrorIs(t, err, ErrAIProviderRequired)
	_, err = NewService(index, emb, gen, nil)
	assert.ErrorIs(t, err, ErrValidatorRequired)
	_, err = NewService(index, emb, gen, validator, WithTopK(0))
	assert.Error(t, err)

	svc, err := NewService(index, emb, gen, validator, WithLogger(nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"physics"}, svc.Subjects())
}

func TestService_PhysicsEndToEnd(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	generator := examinerGenerator()
	svc := setupTestService(t, setupIndexedPhysics(t, embedder), embedder, generator)
	monitor := &recordingMonitor{}

	answer, err := svc.AskWithMonitor(context.Background(), &Input{
		Question: "Refraction is when light bends in water",
		Subject:  "Physics",
		Mode:     "optimizer",
	}, monitor)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, answer.SourcesCount, 1)
	assert.Contains(t, answer.Answer, "**Refraction**")
	assert.NotContains(t, answer.Answer, "<think>")
	assert.Equal(t, core.ModeOptimizer, answer.Mode)
	assert.Equal(t, "physics", answer.Subject)

	prompt := generator.LastPrompt()
	require.NotNil(t, prompt)
	assert.Contains(t, prompt.User, "Refraction is the bending of light")
	assert.Equal(t, DefaultTemperature, prompt.Temperature)

	assert.Equal(t, []Stage{
		StageValidated, StageRetrieved, StagePrompted, StageGenerated, StageFormatted, StageReturned,
	}, monitor.transitions)
	assert.Equal(t, 1, monitor.terminals)
	assert.Equal(t, answer.SourcesCount, monitor.sources)
	assert.Equal(t, answer, monitor.finished)
}

func TestService_SubjectWithoutContext(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	generator := examinerGenerator()
	svc := setupTestService(t, setupIndexedPhysics(t, embedder), embedder, generator)

	answer, err := svc.Ask(context.Background(), &Input{
		Question: "A mole is the amount of substance.",
		Subject:  "chemistry",
		Mode:     "evaluator",
	})
	require.NoError(t, err)
	assert.Zero(t, answer.SourcesCount)
	assert.Contains(t, answer.Answer, NoContextNotice)
	assert.Contains(t, generator.LastPrompt().User, "Do not invent marking-scheme points")
	assert.NotContains(t, generator.LastPrompt().User, "Refraction")
}

func TestService_ValidationShortCircuits(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	generator := mock.NewMockGenerator()
	index, err := badger.NewMemoryIndex()
	require.NoError(t, err)
	defer index.Close()
	svc := setupTestService(t, index, embedder, generator)
	monitor := &recordingMonitor{}

	_, err = svc.AskWithMonitor(context.Background(), &Input{Question: "too short", Subject: "physics", Mode: "optimizer"}, monitor)
	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Zero(t, embedder.CallCount())
	assert.Zero(t, generator.CallCount())
	assert.Equal(t, []Stage{StageRejected}, monitor.transitions)
	assert.Equal(t, 1, monitor.terminals)
}

func TestService_RetrievalFailures(t *testing.T) {
	t.Run("embedder down", func(t *testing.T) {
		embedder := mock.NewMockEmbedder()
		embedder.EmbedTextFunc = func(context.Context, string) ([]float32, error) {
			return nil, errors.New("dial tcp 10.0.0.5:11434: connection refused")
		}
		index, err := badger.NewMemoryIndex()
		require.NoError(t, err)
		defer index.Close()
		generator := mock.NewMockGenerator()
		svc := setupTestService(t, index, embedder, generator)
		monitor := &recordingMonitor{}

		_, err = svc.AskWithMonitor(context.Background(), &Input{Question: "Define refraction of light.", Subject: "physics", Mode: "optimizer"}, monitor)
		var rErr *RetrievalError
		require.ErrorAs(t, err, &rErr)
		assert.Equal(t, MsgIndexUnavailable, rErr.UserMessage())
		assert.NotContains(t, rErr.UserMessage(), "10.0.0.5")
		assert.Zero(t, generator.CallCount())
		assert.Equal(t, StageFailedRetrieval, monitor.transitions[len(monitor.transitions)-1])
		assert.Equal(t, 1, monitor.terminals)
	})

	t.Run("index closed", func(t *testing.T) {
		index, err := badger.NewMemoryIndex()
		require.NoError(t, err)
		require.NoError(t, index.Close())
		svc := setupTestService(t, index, mock.NewMockEmbedder(), mock.NewMockGenerator())

		_, err = svc.Ask(context.Background(), &Input{Question: "Define refraction of light.", Subject: "physics", Mode: "optimizer"})
		var rErr *RetrievalError
		require.ErrorAs(t, err, &rErr)
		assert.ErrorIs(t, err, storage.ErrStorageClosed)
	})
}

func TestService_GenerationFailures(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	index := setupIndexedPhysics(t, embedder)
	input := &Input{Question: "Define refraction of light.", Subject: "physics", Mode: "optimizer"}

	t.Run("timeout", func(t *testing.T) {
		generator := mock.NewMockGenerator()
		generator.GenerateFunc = func(ctx context.Context, _ *ai.Prompt) (string, error) {
			<-ctx.Done()
			return "", errors.New("groq: request canceled")
		}
		svc := setupTestService(t, index, embedder, generator, WithGenerationTimeout(20*time.Millisecond))
		monitor := &recordingMonitor{}

		_, err := svc.AskWithMonitor(context.Background(), input, monitor)
		var gErr *GenerationError
		require.ErrorAs(t, err, &gErr)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, MsgServerBusy, gErr.UserMessage())
		assert.Equal(t, 1, generator.CallCount(), "generation is never retried")
		assert.Equal(t, StageFailedGeneration, monitor.transitions[len(monitor.transitions)-1])
		assert.Equal(t, 1, monitor.terminals)
	})

	t.Run("empty output", func(t *testing.T) {
		generator := mock.NewMockGenerator()
		generator.DefaultAnswer = "<think>nothing to say</think>"
		svc := setupTestService(t, index, embedder, generator)

		_, err := svc.Ask(context.Background(), input)
		var gErr *GenerationError
		require.ErrorAs(t, err, &gErr)
		assert.ErrorIs(t, err, ErrEmptyAnswer)
	})
}

func TestService_ContextBound(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	generator := mock.NewMockGenerator()
	svc := setupTestService(t, setupIndexedPhysics(t, embedder), embedder, generator, WithMaxContextChars(10))

	answer, err := svc.Ask(context.Background(), &Input{Question: "Define refraction of light.", Subject: "physics", Mode: "optimizer"})
	require.NoError(t, err)
	assert.Zero(t, answer.SourcesCount)
	assert.Contains(t, generator.LastPrompt().User, NoContextNotice)
}

func TestStage_Terminal(t *testing.T) {
	testCases := []struct {
		stage    Stage
		terminal bool
	}{
		{StageReceived, false},
		{StageValidated, false},
		{StageRetrieved, false},
		{StagePrompted, false},
		{StageGenerated, false},
		{StageFormatted, false},
		{StageReturned, true},
		{StageRejected, true},
		{StageFailedRetrieval, true},
		{StageFailedGeneration, true},
	}

	for _, tc := range testCases {
		t.Run(string(tc.stage), func(t *testing.T) {
			assert.Equal(t, tc.terminal, tc.stage.Terminal())
		})
	}
}
