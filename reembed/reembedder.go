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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/boardmax/ai"
	"github.com/poiesic/boardmax/core"
	"github.com/poiesic/boardmax/storage"
)

// ErrScannerRequired is returned when the index cannot enumerate its entries.
var ErrScannerRequired = errors.New("index does not support scanning entries")

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of entries embedded per call
	BatchSize int

	// ReportInterval is how often to report progress (number of entries)
	ReportInterval int

	// Subject restricts reembedding to one subject; empty means all
	Subject string

	// Retry is applied to each embedding call
	Retry ai.RetryPolicy
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: 100,
		Retry:          ai.DefaultRetryPolicy(),
	}
}

// Result summarizes a reembedding run.
type Result struct {
	Total      int
	Reembedded int
	Elapsed    time.Duration
}

// Index is what the reembedder needs from storage.
type Index interface {
	storage.IndexRepository
	storage.EntryScanner
}

// Reembedder orchestrates the reembedding of all entries in an index.
type Reembedder struct {
	index     Index
	config    *Config
	progress  io.Writer
	processor *BatchProcessor
	iterator  *EntryIterator
	logger    *slog.Logger
}

// NewReembedder creates a new reembedder.
// progress: where to write progress output (typically os.Stderr)
func NewReembedder(index storage.IndexRepository, embedder ai.Embedder, config *Config, progress io.Writer) (*Reembedder, error) {
	scannable, ok := index.(Index)
	if !ok {
		return nil, ErrScannerRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be greater than 0, got %d", config.BatchSize)
	}
	if config.ReportInterval <= 0 {
		return nil, fmt.Errorf("report interval must be greater than 0, got %d", config.ReportInterval)
	}
	if config.Retry.MaxAttempts <= 0 {
		return nil, ai.ErrInvalidMaxAttempts
	}
	if progress == nil {
		progress = io.Discard
	}
	subject := core.CanonicalSubject(config.Subject)

	return &Reembedder{
		index:     scannable,
		config:    config,
		progress:  progress,
		processor: NewBatchProcessor(scannable, embedder, config.Retry),
		iterator:  NewEntryIterator(scannable, config.BatchSize, subject),
		logger:    slog.Default().With("component", "reembed"),
	}, nil
}

// Run reembeds every entry (of the configured subject, if any).
// Progress is reported to the configured writer.
func (r *Reembedder) Run(ctx context.Context) (*Result, error) {
	total, err := r.index.Count(ctx, r.iterator.subject)
	if err != nil {
		return nil, fmt.Errorf("failed to count entries: %w", err)
	}

	result := &Result{Total: total}
	if total == 0 {
		fmt.Fprintf(r.progress, "No entries found in index (0 entries)\n")
		return result, nil
	}

	fmt.Fprintf(r.progress, "Starting reembedding of %d entries (batch size: %d)\n",
		total, r.config.BatchSize)
	r.logger.Info("starting reembedding", "entries", total, "subject", r.iterator.subject)

	tracker := NewProgressTracker(r.progress, total, r.config.ReportInterval)
	tracker.Start()

	err = r.iterator.ForEach(ctx, func(entries []*core.IndexEntry) error {
		if err := r.processor.Process(ctx, entries); err != nil {
			return fmt.Errorf("failed to process batch: %w", err)
		}
		result.Reembedded += len(entries)
		tracker.Update(result.Reembedded)
		return nil
	})
	result.Elapsed = tracker.Elapsed()
	if err != nil {
		r.logger.Error("reembedding stopped", "reembedded", result.Reembedded, "err", err)
		return result, err
	}

	tracker.Finish()
	fmt.Fprintf(r.progress, "Reembedding complete. Processed %d entries in %v (%.1f entries/sec)\n",
		result.Reembedded, result.Elapsed.Round(time.Millisecond), float64(result.Reembedded)/result.Elapsed.Seconds())
	r.logger.Info("reembedding complete", "entries", result.Reembedded, "elapsed", result.Elapsed)
	return result, nil
}
