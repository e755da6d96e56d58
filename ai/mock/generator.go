package mock

import (
	"context"
	"sync"

	"github.com/poiesic/boardmax/ai"
)

// MockGenerator is a test double for ai.Generator.
type MockGenerator struct {
	// GenerateFunc is called by Generate if set.
	// If nil, Generate returns DefaultAnswer.
	GenerateFunc func(ctx context.Context, prompt *ai.Prompt) (string, error)

	// DefaultAnswer is returned when GenerateFunc is nil.
	DefaultAnswer string

	mu         sync.Mutex
	callCount  int
	lastPrompt *ai.Prompt
}

// NewMockGenerator creates a mock generator that answers with a fixed string.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{DefaultAnswer: "mock answer"}
}

// Generate records the prompt and returns the injected or default answer.
func (m *MockGenerator) Generate(ctx context.Context, prompt *ai.Prompt) (string, error) {
	m.mu.Lock()
	m.callCount++
	m.lastPrompt = prompt
	fn := m.GenerateFunc
	answer := m.DefaultAnswer
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt)
	}
	return answer, nil
}

// CallCount returns the number of Generate calls.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// LastPrompt returns the most recent prompt passed to Generate, or nil.
func (m *MockGenerator) LastPrompt() *ai.Prompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPrompt
}

// Reset clears call tracking and injected behaviour.
func (m *MockGenerator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.lastPrompt = nil
	m.GenerateFunc = nil
}
