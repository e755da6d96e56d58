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

// Package chromem implements storage.IndexRepository on chromem-go, an
// embedded vector database with optional gob persistence.
//
// Entries are chromem documents keyed by core.ID.String(); subject, source,
// document ID and chunk index are kept as metadata so that searches can be
// filtered with a Where clause on "subject".
package chromem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/poiesic/boardmax/core"
	"github.com/poiesic/boardmax/storage"
)

// DefaultCollection is the collection used when none is configured.
const DefaultCollection = "boardmax"

// Metadata keys
const (
	metaSubject    = "subject"
	metaSource     = "source"
	metaDocumentID = "document_id"
	metaChunkIndex = "chunk_index"
	metaIndexedAt  = "indexed_at"
)

// Index implements storage.IndexRepository on a chromem-go collection.
type Index struct {
	db         *chromem.DB
	collection *chromem.Collection
	logger     *slog.Logger
}

var _ storage.IndexRepository = (*Index)(nil)

// NewIndex opens a persistent chromem database at path, or an in-memory one
// when path is empty, and returns the named collection as an index.
func NewIndex(path, collection string) (storage.IndexRepository, error) {
	return newIndex(path, collection)
}

func newIndex(path, collection string) (*Index, error) {
	if collection == "" {
		collection = DefaultCollection
	}

	var db *chromem.DB
	if path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("opening chromem database %s: %w", path, err)
		}
	}

	// Embeddings are always supplied by the caller, so no embedding func is configured
	coll, err := db.GetOrCreateCollection(collection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("opening chromem collection %s: %w", collection, err)
	}

	return &Index{
		db:         db,
		collection: coll,
		logger:     slog.Default().With("component", "chromem-index", "collection", collection),
	}, nil
}

// Close is a no-op; persistent databases are written through on every change.
func (x *Index) Close() error {
	return nil
}

// Upsert inserts or replaces entries by ID.
func (x *Index) Upsert(ctx context.Context, entries ...*core.IndexEntry) (*storage.UpsertResult, error) {
	result := &storage.UpsertResult{}
	now := time.Now().UTC()

	for _, entry := range entries {
		if err := core.ValidateIndexEntry(entry); err != nil {
			var id core.ID
			if entry != nil {
				id = entry.ID
			}
			result.AddFailure(id, err)
			continue
		}
		if entry.IndexedAt.IsZero() {
			entry.IndexedAt = now
		}

		err := x.collection.AddDocument(ctx, chromem.Document{
			ID:        entry.ID.String(),
			Metadata:  metadataFor(entry),
			Embedding: entry.Vector,
			Content:   entry.Text,
		})
		if err != nil {
			// Only a persistence failure gets here; later entries would fail the same way
			return nil, fmt.Errorf("adding entry %s: %w", entry.ID, err)
		}
		result.Succeeded++
	}

	return result, nil
}

// Search finds the k entries of subject most similar to vector.
func (x *Index) Search(ctx context.Context, vector []float32, subject string, k int) ([]*core.SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", storage.ErrInvalidQuery, k)
	}
	if subject == "" {
		return nil, fmt.Errorf("%w: %w", storage.ErrInvalidQuery, core.ErrEmptySubject)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("%w: %w", storage.ErrInvalidQuery, core.ErrEmptyVector)
	}

	// chromem rejects nResults larger than the whole collection, filtered or not
	total := x.collection.Count()
	if total == 0 {
		return []*core.SearchResult{}, nil
	}
	n := min(k, total)

	where := map[string]string{metaSubject: subject}
	found, err := x.collection.QueryEmbedding(ctx, vector, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("querying chromem: %w", err)
	}

	results := make([]*core.SearchResult, 0, len(found))
	for _, r := range found {
		entry, err := entryFromDocument(r.ID, r.Metadata, r.Embedding, r.Content)
		if err != nil {
			x.logger.Warn("skipping malformed document", "id", r.ID, "err", err)
			continue
		}
		results = append(results, &core.SearchResult{Entry: entry, Score: r.Similarity})
	}
	return results, nil
}

// PruneDocument removes the entries of documentID whose chunk index is >= keep.
// Chunk indexes of a document are contiguous, so probing stops at the first gap.
func (x *Index) PruneDocument(ctx context.Context, documentID string, keep int) (int, error) {
	var ids []string
	for i := max(keep, 0); ; i++ {
		id := core.ChunkID(documentID, i).String()
		if _, err := x.collection.GetByID(ctx, id); err != nil {
			break
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	if err := x.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return 0, fmt.Errorf("deleting stale chunks of %s: %w", documentID, err)
	}
	x.logger.Debug("pruned stale chunks", "document", documentID, "keep", keep, "removed", len(ids))
	return len(ids), nil
}

// Len returns the number of entries in the collection.
func (x *Index) Len() int {
	return x.collection.Count()
}

func metadataFor(entry *core.IndexEntry) map[string]string {
	return map[string]string{
		metaSubject:    entry.Subject,
		metaSource:     entry.Source,
		metaDocumentID: entry.DocumentID,
		metaChunkIndex: strconv.Itoa(entry.ChunkIndex),
		metaIndexedAt:  entry.IndexedAt.Format(time.RFC3339Nano),
	}
}

func entryFromDocument(id string, meta map[string]string, embedding []float32, content string) (*core.IndexEntry, error) {
	parsed, err := core.ParseID(id)
	if err != nil {
		return nil, err
	}
	chunkIndex, err := strconv.Atoi(meta[metaChunkIndex])
	if err != nil {
		return nil, errors.New("missing chunk index metadata")
	}
	indexedAt, _ := time.Parse(time.RFC3339Nano, meta[metaIndexedAt])

	return &core.IndexEntry{
		ID:         parsed,
		DocumentID: meta[metaDocumentID],
		ChunkIndex: chunkIndex,
		Subject:    meta[metaSubject],
		Source:     meta[metaSource],
		Text:       content,
		Vector:     embedding,
		IndexedAt:  indexedAt,
	}, nil
}
