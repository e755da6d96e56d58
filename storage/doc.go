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

// Package storage provides the vector index abstraction for BoardMax.
//
// This package defines the repository interface that decouples the index
// implementation from the ingestion and query pipelines, so the embedded
// BadgerDB index, the chromem-go index and the PostgreSQL/pgvector index can
// be used interchangeably.
//
// # Constructor Return Type Pattern
//
// Public constructors in the backend packages return interfaces:
//
//	index, err := badger.NewIndex(path)  // returns storage.IndexRepository
//
// Internal constructors (newIndex, etc.) may return concrete types since
// they're only used within the implementation package. Optional capabilities
// (EntryScanner, ManifestStore) are discovered with a type assertion:
//
//	if scanner, ok := index.(storage.EntryScanner); ok {
//	    n, err := scanner.Count(ctx, "physics")
//	}
//
// # Interfaces
//
//   - IndexRepository: upsert, subject-filtered search, pruning
//   - EntryScanner: counting and batch enumeration of entries
//   - ManifestStore: per-document ingestion manifests
//
// # Usage
//
//	index, err := badger.NewIndex("/path/to/db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer index.Close()
//
// Use in tests with in-memory storage:
//
//	index, err := badger.NewMemoryIndex()
//
// # Thread Safety
//
// All implementations must be thread-safe and support concurrent access
// from multiple goroutines.
package storage
