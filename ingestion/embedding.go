package ingestion

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/boardmax/ai"
	"github.com/poiesic/boardmax/core"
	"github.com/poiesic/boardmax/storage"
)

// embeddingProcessor embeds tagged chunks in batches and writes them to the index.
type embeddingProcessor struct {
	index     storage.IndexRepository
	embedder  ai.Embedder
	batchSize int
	logger    *slog.Logger
}

// batchOutcome summarises one document's embedding and upsert.
type batchOutcome struct {
	indexed int
	failed  int
	errs    []error
}

func newEmbeddingProcessor(index storage.IndexRepository, embedder ai.Embedder, batchSize int, logger *slog.Logger) (*embeddingProcessor, error) {
	if index == nil {
		return nil, ErrIndexRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	if batchSize < 1 {
		batchSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &embeddingProcessor{
		index:     index,
		embedder:  embedder,
		batchSize: batchSize,
		logger:    logger.With("processor", "embeddings"),
	}, nil
}

// process embeds and stores chunks. A batch whose embedding fails is reported
// as an EmbeddingError and skipped; the remaining batches still run. Only an
// index failure or a cancelled context is returned as an error.
func (ep *embeddingProcessor) process(ctx context.Context, documentID string, chunks []core.Chunk) (*batchOutcome, error) {
	out := &batchOutcome{}

	for first := 0; first < len(chunks); first += ep.batchSize {
		batch := chunks[first:min(first+ep.batchSize, len(chunks))]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Text
		}

		ep.logger.Debug("generating embeddings", "document", documentID, "chunks", len(texts))
		vectors, err := ep.embedder.EmbedTexts(ctx, texts)
		if err == nil && len(vectors) != len(batch) {
			err = fmt.Errorf("embedding result mismatch. expected %d, received %d", len(batch), len(vectors))
		}
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			embErr := &EmbeddingError{
				DocumentID: documentID,
				FirstChunk: batch[0].Index,
				Count:      len(batch),
				Err:        err,
			}
			ep.logger.Error("error generating embeddings", "err", embErr)
			out.failed += len(batch)
			out.errs = append(out.errs, embErr)
			continue
		}

		entries := make([]*core.IndexEntry, len(batch))
		for i, chunk := range batch {
			entries[i] = core.NewIndexEntry(chunk, ai.NormalizeVector(vectors[i]))
		}

		result, err := ep.index.Upsert(ctx, entries...)
		if err != nil {
			return out, &IngestionError{DocumentID: documentID, Stage: "indexing", Err: err}
		}
		out.indexed += result.Succeeded
		out.failed += len(result.Failed)
		for _, f := range result.Failed {
			ep.logger.Warn("entry rejected by index", "document", documentID, "id", f.ID, "err", f.Err)
			out.errs = append(out.errs, f.Err)
		}
	}

	return out, nil
}
