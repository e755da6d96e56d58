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

package reembed

import (
	"context"

	"github.com/poiesic/boardmax/core"
	"github.com/poiesic/boardmax/storage"
)

const (
	// DefaultBatchSize is the default number of entries embedded per call
	DefaultBatchSize = 32
)

// EntryIterator iterates over index entries in batches, optionally
// restricted to one subject.
type EntryIterator struct {
	scanner   storage.EntryScanner
	batchSize int
	subject   string
}

// NewEntryIterator creates a new entry iterator.
// batchSize: number of entries per batch (must be > 0)
// subject: only entries of this subject are visited; empty visits all
func NewEntryIterator(scanner storage.EntryScanner, batchSize int, subject string) *EntryIterator {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	return &EntryIterator{
		scanner:   scanner,
		batchSize: batchSize,
		subject:   subject,
	}
}

// ForEach calls fn with successive batches of at most batchSize entries.
// Iteration stops on first error from fn or when all entries are processed.
// Context cancellation is checked between batches.
func (it *EntryIterator) ForEach(ctx context.Context, fn func([]*core.IndexEntry) error) error {
	// Check context before starting
	if err := ctx.Err(); err != nil {
		return err
	}

	if it.subject == "" {
		return it.scanner.ForEach(ctx, it.batchSize, func(entries []*core.IndexEntry) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(entries)
		})
	}

	// Regroup the scanner's batches so that filtered batches stay full
	batch := make([]*core.IndexEntry, 0, it.batchSize)
	err := it.scanner.ForEach(ctx, it.batchSize, func(entries []*core.IndexEntry) error {
		for _, entry := range entries {
			if entry.Subject != it.subject {
				continue
			}
			batch = append(batch, entry)
			if len(batch) < it.batchSize {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(batch); err != nil {
				return err
			}
			batch = make([]*core.IndexEntry, 0, it.batchSize)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(batch) > 0 {
		return fn(batch)
	}
	return nil
}
