package reembed

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/boardmax/ai"
	"github.com/poiesic/boardmax/ai/mock"
	"github.com/poiesic/boardmax/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() ai.RetryPolicy {
	return ai.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

// unnormalizedEmbedder returns [1, 2, 2] (magnitude 3) for every text.
func unnormalizedEmbedder() *mock.MockEmbedder {
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		result := make([][]float32, len(texts))
		for i := range texts {
			result[i] = []float32{1, 2, 2}
		}
		return result, nil
	}
	return embedder
}

func entriesOf(t *testing.T, index interface {
	ForEach(context.Context, int, func([]*core.IndexEntry) error) error
}) []*core.IndexEntry {
	t.Helper()
	var all []*core.IndexEntry
	require.NoError(t, index.ForEach(context.Background(), 100, func(batch []*core.IndexEntry) error {
		all = append(all, batch...)
		return nil
	}))
	return all
}

func TestBatchProcessor_Process(t *testing.T) {
	index := setupTestIndex(t, 2, "physics")
	before := entriesOf(t, index)

	processor := NewBatchProcessor(index, unnormalizedEmbedder(), fastRetry())
	require.NoError(t, processor.Process(context.Background(), before))

	after := entriesOf(t, index)
	require.Len(t, after, 2)
	for i, entry := range after {
		assert.Equal(t, before[i].ID, entry.ID, "IDs are preserved")
		assert.Equal(t, before[i].Text, entry.Text)
		assert.Equal(t, before[i].Subject, entry.Subject)
		assert.InDeltaSlice(t, []float32{1.0 / 3, 2.0 / 3, 2.0 / 3}, entry.Vector, 0.001)
	}
}

func TestBatchProcessor_DoesNotMutateInput(t *testing.T) {
	index := setupTestIndex(t, 1, "physics")
	before := entriesOf(t, index)

	processor := NewBatchProcessor(index, unnormalizedEmbedder(), fastRetry())
	require.NoError(t, processor.Process(context.Background(), before))
	assert.Equal(t, []float32{1, 0, 0}, before[0].Vector)
}

func TestBatchProcessor_EmptyBatch(t *testing.T) {
	index := setupTestIndex(t, 0)
	embedder := unnormalizedEmbedder()

	processor := NewBatchProcessor(index, embedder, fastRetry())
	require.NoError(t, processor.Process(context.Background(), nil))
	assert.Equal(t, 0, embedder.CallCount())
}

func TestBatchProcessor_EmbeddingError(t *testing.T) {
	index := setupTestIndex(t, 2, "physics")
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("embedding service down")
	}

	processor := NewBatchProcessor(index, embedder, fastRetry())
	err := processor.Process(context.Background(), entriesOf(t, index))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, embedder.CallCount())

	// Vectors untouched
	for _, entry := range entriesOf(t, index) {
		assert.Equal(t, []float32{1, 0, 0}, entry.Vector)
	}
}

func TestBatchProcessor_Retry(t *testing.T) {
	index := setupTestIndex(t, 2, "physics")

	var attempts atomic.Int32
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(_ context.Context, texts []string) ([][]float32, error) {
		if attempts.Add(1) < 3 {
			return nil, errors.New("temporary failure")
		}
		result := make([][]float32, len(texts))
		for i := range texts {
			result[i] = []float32{0, 1, 0}
		}
		return result, nil
	}

	processor := NewBatchProcessor(index, embedder, fastRetry())
	require.NoError(t, processor.Process(context.Background(), entriesOf(t, index)))
	assert.Equal(t, int32(3), attempts.Load())
}

func TestBatchProcessor_CountMismatch(t *testing.T) {
	index := setupTestIndex(t, 2, "physics")
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return [][]float32{{1, 0, 0}}, nil
	}

	processor := NewBatchProcessor(index, embedder, fastRetry())
	err := processor.Process(context.Background(), entriesOf(t, index))
	assert.ErrorContains(t, err, "count mismatch")
}

func TestBatchProcessor_ContextCancellation(t *testing.T) {
	index := setupTestIndex(t, 2, "physics")
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(context.Context, []string) ([][]float32, error) {
		return nil, errors.New("slow service")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	processor := NewBatchProcessor(index, embedder, ai.RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second})
	err := processor.Process(ctx, entriesOf(t, index))
	assert.Error(t, err)
	assert.Less(t, embedder.CallCount(), 5)
}
