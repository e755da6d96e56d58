package reembed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/boardmax/ai"
	"github.com/poiesic/boardmax/core"
	"github.com/poiesic/boardmax/storage"
)

// BatchProcessor replaces the vectors of a batch of index entries.
type BatchProcessor struct {
	index    storage.IndexRepository
	embedder ai.Embedder
	retry    ai.RetryPolicy
}

// NewBatchProcessor creates a new batch processor.
func NewBatchProcessor(index storage.IndexRepository, embedder ai.Embedder, retry ai.RetryPolicy) *BatchProcessor {
	return &BatchProcessor{
		index:    index,
		embedder: embedder,
		retry:    retry,
	}
}

// Process generates embeddings for a batch of entries and writes them back.
// Vectors are normalized after embedding so that dot product equals cosine similarity.
func (bp *BatchProcessor) Process(ctx context.Context, entries []*core.IndexEntry) error {
	if len(entries) == 0 {
		return nil
	}

	texts := make([]string, len(entries))
	for i, entry := range entries {
		texts[i] = entry.Text
	}

	// Generate embeddings with retry
	var embeddings [][]float32
	err := ai.RetryWithBackoff(ctx, func() error {
		var err error
		embeddings, err = bp.embedder.EmbedTexts(ctx, texts)
		return err
	}, bp.retry)
	if err != nil {
		return fmt.Errorf("failed to generate embeddings after %d attempts: %w", bp.retry.MaxAttempts, err)
	}

	if len(embeddings) != len(entries) {
		return fmt.Errorf("embedding count mismatch: expected %d, got %d", len(entries), len(embeddings))
	}

	now := time.Now().UTC()
	updated := make([]*core.IndexEntry, len(entries))
	for i, entry := range entries {
		copied := *entry
		copied.Vector = ai.NormalizeVector(embeddings[i])
		copied.IndexedAt = now
		updated[i] = &copied
	}

	result, err := bp.index.Upsert(ctx, updated...)
	if err != nil {
		return fmt.Errorf("failed to update entries: %w", err)
	}
	if len(result.Failed) > 0 {
		errs := make([]error, len(result.Failed))
		for i, f := range result.Failed {
			errs[i] = fmt.Errorf("entry %s: %w", f.ID, f.Err)
		}
		return fmt.Errorf("failed to update %d entries: %w", len(result.Failed), errors.Join(errs...))
	}
	return nil
}
