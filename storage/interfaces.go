package storage

import (
	"context"

	"github.com/poiesic/boardmax/core"
)

// IndexRepository is the vector index shared by the ingestion and query flows.
// Implementations must be thread-safe and support concurrent access.
type IndexRepository interface {
	// Upsert inserts or replaces entries by ID.
	// Entries are validated individually; an invalid entry is reported in
	// UpsertResult.Failed and does not prevent the others from being written.
	// A non-nil error means the backend itself failed.
	Upsert(ctx context.Context, entries ...*core.IndexEntry) (*UpsertResult, error)

	// Search returns up to k entries of the given subject most similar to vector,
	// ordered by descending score. A subject with no entries yields an empty
	// slice, not an error. Subjects match exactly.
	// Returns ErrInvalidQuery if k <= 0 or subject is empty.
	Search(ctx context.Context, vector []float32, subject string, k int) ([]*core.SearchResult, error)

	// PruneDocument removes the entries of documentID whose chunk index is >= keep
	// and returns how many were removed.
	PruneDocument(ctx context.Context, documentID string, keep int) (int, error)

	// Close closes the storage backend and releases resources.
	Close() error
}

// EntryScanner is implemented by indexes that can enumerate their entries.
// It backs statistics and re-embedding.
type EntryScanner interface {
	// Count returns the number of entries for subject, or all entries when subject is empty.
	Count(ctx context.Context, subject string) (int, error)

	// Subjects returns the distinct subjects present in the index, sorted.
	Subjects(ctx context.Context) ([]string, error)

	// ForEach calls fn with successive batches of at most batchSize entries.
	// Iteration stops at the first error returned by fn.
	ForEach(ctx context.Context, batchSize int, fn func([]*core.IndexEntry) error) error
}

// ManifestStore is implemented by indexes that remember what was indexed per
// document, letting ingestion skip documents that have not changed.
type ManifestStore interface {
	// SaveManifest stores the manifest for manifest.DocumentID, replacing any previous one.
	SaveManifest(ctx context.Context, manifest *core.Manifest) error

	// LoadManifest returns the manifest for documentID, or nil, nil if none exists.
	LoadManifest(ctx context.Context, documentID string) (*core.Manifest, error)
}

// UpsertResult reports the outcome of an Upsert call.
type UpsertResult struct {
	Succeeded int
	Failed    []UpsertFailure
}

// UpsertFailure describes a single entry that could not be written.
type UpsertFailure struct {
	ID  core.ID
	Err error
}

// FailedIDs returns the IDs of failed entries.
func (r *UpsertResult) FailedIDs() []core.ID {
	ids := make([]core.ID, len(r.Failed))
	for i, f := range r.Failed {
		ids[i] = f.ID
	}
	return ids
}

// AddFailure records a failed entry.
func (r *UpsertResult) AddFailure(id core.ID, err error) {
	r.Failed = append(r.Failed, UpsertFailure{ID: id, Err: err})
}
