package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/boardmax/ai"
	"github.com/poiesic/boardmax/core"
	"github.com/poiesic/boardmax/storage"
)

// Index implements storage.IndexRepository for BadgerDB.
//
// Entries are stored under keys grouped by subject so that a subject-filtered
// search is a prefix scan. Two secondary keys map an entry ID and a
// (document, chunk index) pair back to the primary key.
type Index struct {
	backend     *Backend
	ownsBackend bool
	logger      *slog.Logger
}

var (
	_ storage.IndexRepository = (*Index)(nil)
	_ storage.EntryScanner    = (*Index)(nil)
	_ storage.ManifestStore   = (*Index)(nil)
)

// NewIndex opens (or creates) an on-disk index at path.
//
// Returns storage.IndexRepository; the EntryScanner and ManifestStore
// capabilities are available through a type assertion.
func NewIndex(path string) (storage.IndexRepository, error) {
	backend, err := OpenBackend(path, false)
	if err != nil {
		return nil, err
	}
	return newIndex(backend, true), nil
}

// NewIndexWithBackend creates an index over an already open backend.
// The caller remains responsible for closing the backend.
func NewIndexWithBackend(backend *Backend) *Index {
	return newIndex(backend, false)
}

func newIndex(backend *Backend, owns bool) *Index {
	return &Index{
		backend:     backend,
		ownsBackend: owns,
		logger:      slog.Default().With("component", "badger-index"),
	}
}

// Close closes the underlying backend if the index opened it.
func (x *Index) Close() error {
	if !x.ownsBackend || x.backend.IsClosed() {
		return nil
	}
	return x.backend.Close()
}

// Upsert inserts or replaces entries by ID.
func (x *Index) Upsert(ctx context.Context, entries ...*core.IndexEntry) (*storage.UpsertResult, error) {
	if x.backend.IsClosed() {
		return nil, storage.ErrStorageClosed
	}

	result := &storage.UpsertResult{}
	now := time.Now().UTC()

	err := x.backend.WithTx(func(tx *badger.Txn) error {
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
			if err := x.putEntry(tx, entry); err != nil {
				return err
			}
			result.Succeeded++
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return nil, err
	}

	if len(result.Failed) > 0 {
		x.logger.Warn("rejected invalid index entries", "failed", len(result.Failed), "succeeded", result.Succeeded)
	}
	return result, nil
}

// putEntry writes an entry and its secondary keys, removing keys left over
// from a previous version whose subject or position differed.
func (x *Index) putEntry(tx *badger.Txn, entry *core.IndexEntry) error {
	entryKey := makeEntryKey(entry.Subject, entry.ID)
	docKey := makeDocKey(entry.DocumentID, entry.ChunkIndex)

	old, oldKey, err := x.readByID(tx, entry.ID)
	if err != nil {
		return err
	}
	if old != nil {
		if !bytes.Equal(oldKey, entryKey) {
			if err := tx.Delete(oldKey); err != nil {
				return err
			}
		}
		if oldDocKey := makeDocKey(old.DocumentID, old.ChunkIndex); !bytes.Equal(oldDocKey, docKey) {
			if err := tx.Delete(oldDocKey); err != nil {
				return err
			}
		}
	}

	value, err := storage.MarshalIndexEntry(entry)
	if err != nil {
		return err
	}
	if err := tx.Set(entryKey, value); err != nil {
		return err
	}
	if err := tx.Set(makeIDKey(entry.ID), entryKey); err != nil {
		return err
	}
	return tx.Set(docKey, storage.MarshalID(entry.ID))
}

// readByID returns the entry with id and its primary key, or nil if absent.
func (x *Index) readByID(tx *badger.Txn, id core.ID) (*core.IndexEntry, []byte, error) {
	item, err := tx.Get(makeIDKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil, nil
		}
		return nil, nil, err
	}
	entryKey, err := item.ValueCopy(nil)
	if err != nil {
		return nil, nil, err
	}

	item, err = tx.Get(entryKey)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			// Dangling secondary key; treat as absent and let the caller overwrite it
			return nil, nil, nil
		}
		return nil, nil, err
	}
	var entry *core.IndexEntry
	err = item.Value(func(val []byte) error {
		var err error
		entry, err = storage.UnmarshalIndexEntry(val)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return entry, entryKey, nil
}

// GetEntry retrieves a single entry by ID.
// Returns storage.ErrNotFound if the entry doesn't exist.
func (x *Index) GetEntry(ctx context.Context, id core.ID) (*core.IndexEntry, error) {
	var entry *core.IndexEntry
	err := x.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		entry, _, err = x.readByID(tx, id)
		if err != nil {
			return err
		}
		if entry == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return entry, err
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
	if x.backend.IsClosed() {
		return nil, storage.ErrStorageClosed
	}

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return []*core.SearchResult{}, nil
	}

	results := []*core.SearchResult{}
	err := x.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, makeSubjectPrefix(subject), false, func(item *badger.Item) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var entry *core.IndexEntry
			err := item.Value(func(val []byte) error {
				var err error
				entry, err = storage.UnmarshalIndexEntry(val)
				return err
			})
			if err != nil {
				return err
			}

			// Skip entries without embeddings
			entryNorm := norm(entry.Vector)
			if entryNorm == 0 {
				return nil
			}

			results = append(results, &core.SearchResult{
				Entry: entry,
				Score: ai.DotProduct(vector, entry.Vector) / (queryNorm * entryNorm),
			})
			return nil
		})
	}, false)
	if err != nil {
		return nil, err
	}

	// Sort by similarity descending
	slices.SortFunc(results, func(a, b *core.SearchResult) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		return 0
	})

	if len(results) > k {
		results = results[:k]
	}

	x.logger.Debug("search complete", "subject", subject, "k", k, "results", len(results))
	return results, nil
}

// PruneDocument removes the entries of documentID whose chunk index is >= keep.
func (x *Index) PruneDocument(ctx context.Context, documentID string, keep int) (int, error) {
	if x.backend.IsClosed() {
		return 0, storage.ErrStorageClosed
	}

	removed := 0
	err := x.backend.WithTx(func(tx *badger.Txn) error {
		var stale [][]byte
		err := scanPrefix(tx, makeDocPrefix(documentID), true, func(item *badger.Item) error {
			if chunkIndexFromDocKey(item.Key()) >= keep {
				stale = append(stale, item.KeyCopy(nil))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, docKey := range stale {
			item, err := tx.Get(docKey)
			if err != nil {
				return err
			}
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			id, err := storage.UnmarshalID(raw)
			if err != nil {
				return err
			}

			_, entryKey, err := x.readByID(tx, id)
			if err != nil {
				return err
			}
			if entryKey != nil {
				if err := tx.Delete(entryKey); err != nil {
					return err
				}
			}
			if err := tx.Delete(makeIDKey(id)); err != nil {
				return err
			}
			if err := tx.Delete(docKey); err != nil {
				return err
			}
			removed++
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return 0, err
	}

	if removed > 0 {
		x.logger.Debug("pruned stale chunks", "document", documentID, "keep", keep, "removed", removed)
	}
	return removed, nil
}

// Count returns the number of entries for subject, or all entries when subject is empty.
func (x *Index) Count(ctx context.Context, subject string) (int, error) {
	count := 0
	err := x.backend.WithTx(func(tx *badger.Txn) error {
		return scanPrefix(tx, makeSubjectPrefix(subject), true, func(*badger.Item) error {
			count++
			return nil
		})
	}, false)
	return count, err
}

// Subjects returns the distinct subjects in the index, sorted.
func (x *Index) Subjects(ctx context.Context) ([]string, error) {
	subjects := []string{}
	err := x.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(entryPrefix)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		iter.Rewind()
		for iter.Valid() {
			subject, err := subjectFromEntryKey(iter.Item().Key())
			if err != nil {
				return err
			}
			subjects = append(subjects, subject)

			// Jump past every remaining key of this subject
			next := makeSubjectPrefix(subject)
			next[len(next)-1] = keySep + 1
			iter.Seek(next)
		}
		return nil
	}, false)
	return subjects, err
}

// ForEach calls fn with successive batches of at most batchSize entries, ordered by subject.
func (x *Index) ForEach(ctx context.Context, batchSize int, fn func([]*core.IndexEntry) error) error {
	if batchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", storage.ErrInvalidQuery, batchSize)
	}

	return x.backend.WithTx(func(tx *badger.Txn) error {
		batch := make([]*core.IndexEntry, 0, batchSize)
		err := scanPrefix(tx, []byte(entryPrefix), false, func(item *badger.Item) error {
			var entry *core.IndexEntry
			err := item.Value(func(val []byte) error {
				var err error
				entry, err = storage.UnmarshalIndexEntry(val)
				return err
			})
			if err != nil {
				return err
			}

			batch = append(batch, entry)
			if len(batch) < batchSize {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(batch); err != nil {
				return err
			}
			batch = make([]*core.IndexEntry, 0, batchSize)
			return nil
		})
		if err != nil {
			return err
		}
		if len(batch) > 0 {
			return fn(batch)
		}
		return nil
	}, false)
}

func norm(v []float32) float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sum))
}
