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

// Package postgres implements storage.IndexRepository on PostgreSQL with the
// pgvector extension.
//
// Vectors are exchanged in pgvector's text form ("[0.1,0.2]") and cast with
// ::vector in SQL, so no per-connection type registration is needed and the
// pool can be opened before the extension exists.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/poiesic/boardmax/core"
	"github.com/poiesic/boardmax/storage"
)

// DefaultTable is the chunk table used when none is configured.
const DefaultTable = "boardmax_chunks"

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Options configures the PostgreSQL index.
type Options struct {
	// Table is the chunk table name. The manifest table is Table + "_manifests".
	Table string

	// Dimension fixes the vector column size. Zero leaves it unconstrained and
	// skips the approximate-nearest-neighbour index, which requires a size.
	Dimension int
}

// Index implements storage.IndexRepository on a pgx connection pool.
type Index struct {
	pool   *pgxpool.Pool
	table  string
	logger *slog.Logger
}

var (
	_ storage.IndexRepository = (*Index)(nil)
	_ storage.EntryScanner    = (*Index)(nil)
	_ storage.ManifestStore   = (*Index)(nil)
)

// NewIndex connects to dsn, verifies the connection and ensures the schema.
func NewIndex(ctx context.Context, dsn string, opts Options) (storage.IndexRepository, error) {
	if opts.Table == "" {
		opts.Table = DefaultTable
	}
	if !tableNamePattern.MatchString(opts.Table) {
		return nil, fmt.Errorf("invalid table name %q", opts.Table)
	}
	if opts.Dimension < 0 {
		return nil, fmt.Errorf("invalid vector dimension %d", opts.Dimension)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	x := &Index{
		pool:   pool,
		table:  opts.Table,
		logger: slog.Default().With("component", "postgres-index", "table", opts.Table),
	}
	if err := x.ensureSchema(ctx, opts.Dimension); err != nil {
		pool.Close()
		return nil, err
	}
	return x, nil
}

// schemaStatements returns the DDL for the chunk and manifest tables.
func schemaStatements(table string, dimension int) []string {
	column := "vector"
	if dimension > 0 {
		column = fmt.Sprintf("vector(%d)", dimension)
	}

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			document_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			subject TEXT NOT NULL,
			source TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding %s NOT NULL,
			indexed_at TIMESTAMPTZ NOT NULL
		)`, table, column),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_subject_idx ON %s (subject)`, table, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_document_idx ON %s (document_id, chunk_index)`, table, table),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s_manifests (
			document_id TEXT PRIMARY KEY,
			subject TEXT NOT NULL,
			fingerprint BIGINT NOT NULL,
			chunks INTEGER NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`, table),
	}
	if dimension > 0 {
		stmts = append(stmts, fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`,
			table, table))
	}
	return stmts
}

func (x *Index) ensureSchema(ctx context.Context, dimension int) error {
	for _, stmt := range schemaStatements(x.table, dimension) {
		if _, err := x.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// Close closes the connection pool.
func (x *Index) Close() error {
	x.pool.Close()
	return nil
}

// Upsert inserts or replaces entries by ID in a single batch round trip.
func (x *Index) Upsert(ctx context.Context, entries ...*core.IndexEntry) (*storage.UpsertResult, error) {
	result := &storage.UpsertResult{}
	now := time.Now().UTC()

	query := fmt.Sprintf(`INSERT INTO %s
		(id, document_id, chunk_index, subject, source, content, embedding, indexed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7::vector, $8)
		ON CONFLICT (id) DO UPDATE SET
			document_id = EXCLUDED.document_id,
			chunk_index = EXCLUDED.chunk_index,
			subject = EXCLUDED.subject,
			source = EXCLUDED.source,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			indexed_at = EXCLUDED.indexed_at`, x.table)

	batch := &pgx.Batch{}
	var queued []*core.IndexEntry
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
		batch.Queue(query,
			toDBID(entry.ID), entry.DocumentID, entry.ChunkIndex, entry.Subject,
			entry.Source, entry.Text, encodeVector(entry.Vector), entry.IndexedAt)
		queued = append(queued, entry)
	}
	if len(queued) == 0 {
		return result, nil
	}

	br := x.pool.SendBatch(ctx, batch)
	for _, entry := range queued {
		if _, err := br.Exec(); err != nil {
			result.AddFailure(entry.ID, err)
			continue
		}
		result.Succeeded++
	}
	if err := br.Close(); err != nil && result.Succeeded == 0 {
		return nil, fmt.Errorf("upsert batch failed: %w", err)
	}
	return result, nil
}

// Search finds the k entries of subject nearest to vector by cosine distance.
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

	query := fmt.Sprintf(`SELECT id, document_id, chunk_index, subject, source, content,
			embedding::text, indexed_at, 1 - (embedding <=> $1::vector) AS score
		FROM %s
		WHERE subject = $2
		ORDER BY embedding <=> $1::vector
		LIMIT $3`, x.table)

	rows, err := x.pool.Query(ctx, query, encodeVector(vector), subject, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer rows.Close()

	results := []*core.SearchResult{}
	for rows.Next() {
		var score float64
		entry, err := scanEntry(rows, &score)
		if err != nil {
			return nil, err
		}
		results = append(results, &core.SearchResult{Entry: entry, Score: float32(score)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read search results: %w", err)
	}
	return results, nil
}

// PruneDocument removes the entries of documentID whose chunk index is >= keep.
func (x *Index) PruneDocument(ctx context.Context, documentID string, keep int) (int, error) {
	tag, err := x.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE document_id = $1 AND chunk_index >= $2`, x.table),
		documentID, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune %s: %w", documentID, err)
	}
	return int(tag.RowsAffected()), nil
}

// Count returns the number of entries for subject, or all entries when subject is empty.
func (x *Index) Count(ctx context.Context, subject string) (int, error) {
	var n int
	err := x.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT count(*) FROM %s WHERE ($1 = '' OR subject = $1)`, x.table),
		subject).Scan(&n)
	return n, err
}

// Subjects returns the distinct subjects in the index, sorted.
func (x *Index) Subjects(ctx context.Context) ([]string, error) {
	rows, err := x.pool.Query(ctx, fmt.Sprintf(`SELECT DISTINCT subject FROM %s ORDER BY subject`, x.table))
	if err != nil {
		return nil, err
	}
	subjects, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	if subjects == nil {
		subjects = []string{}
	}
	return subjects, nil
}

// ForEach pages through all entries by id, calling fn with each page.
func (x *Index) ForEach(ctx context.Context, batchSize int, fn func([]*core.IndexEntry) error) error {
	if batchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", storage.ErrInvalidQuery, batchSize)
	}

	// $1 is true for the first page only, which has no lower bound
	query := fmt.Sprintf(`SELECT id, document_id, chunk_index, subject, source, content,
			embedding::text, indexed_at
		FROM %s
		WHERE ($1 OR id > $2)
		ORDER BY id
		LIMIT $3`, x.table)

	first := true
	var after int64
	for {
		rows, err := x.pool.Query(ctx, query, first, after, batchSize)
		if err != nil {
			return err
		}
		var page []*core.IndexEntry
		for rows.Next() {
			entry, err := scanEntry(rows, nil)
			if err != nil {
				rows.Close()
				return err
			}
			page = append(page, entry)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}

		if err := fn(page); err != nil {
			return err
		}
		if len(page) < batchSize {
			return nil
		}
		after = toDBID(page[len(page)-1].ID)
		first = false
	}
}

// SaveManifest stores the manifest for a document.
func (x *Index) SaveManifest(ctx context.Context, manifest *core.Manifest) error {
	manifest.UpdatedAt = time.Now().UTC()
	_, err := x.pool.Exec(ctx, fmt.Sprintf(`INSERT INTO %s_manifests
		(document_id, subject, fingerprint, chunks, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (document_id) DO UPDATE SET
			subject = EXCLUDED.subject,
			fingerprint = EXCLUDED.fingerprint,
			chunks = EXCLUDED.chunks,
			updated_at = EXCLUDED.updated_at`, x.table),
		manifest.DocumentID, manifest.Subject, toDBID(manifest.Fingerprint), manifest.Chunks, manifest.UpdatedAt)
	return err
}

// LoadManifest returns the manifest for documentID, or nil, nil if none exists.
func (x *Index) LoadManifest(ctx context.Context, documentID string) (*core.Manifest, error) {
	var (
		m           core.Manifest
		fingerprint int64
	)
	err := x.pool.QueryRow(ctx, fmt.Sprintf(`SELECT document_id, subject, fingerprint, chunks, updated_at
		FROM %s_manifests WHERE document_id = $1`, x.table), documentID).
		Scan(&m.DocumentID, &m.Subject, &fingerprint, &m.Chunks, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	m.Fingerprint = fromDBID(fingerprint)
	return &m, nil
}

// scanEntry reads one entry row; when score is non-nil a trailing score column is read too.
func scanEntry(rows pgx.Rows, score *float64) (*core.IndexEntry, error) {
	var (
		id        int64
		embedding string
		entry     core.IndexEntry
	)
	dest := []any{&id, &entry.DocumentID, &entry.ChunkIndex, &entry.Subject, &entry.Source,
		&entry.Text, &embedding, &entry.IndexedAt}
	if score != nil {
		dest = append(dest, score)
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, fmt.Errorf("failed to scan entry: %w", err)
	}

	vector, err := decodeVector(embedding)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	entry.ID = fromDBID(id)
	entry.Vector = vector
	entry.IndexedAt = entry.IndexedAt.UTC()
	return &entry, nil
}

// toDBID maps an unsigned ID onto BIGINT, preserving all 64 bits.
func toDBID(id core.ID) int64 {
	return int64(id)
}

func fromDBID(v int64) core.ID {
	return core.ID(v)
}

func encodeVector(v []float32) string {
	return pgvector.NewVector(v).String()
}

func decodeVector(s string) ([]float32, error) {
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("malformed vector %q", s)
	}
	if s == "[]" {
		return []float32{}, nil
	}
	var v pgvector.Vector
	if err := v.Parse(s); err != nil {
		return nil, err
	}
	return v.Slice(), nil
}
