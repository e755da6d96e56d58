package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/boardmax/ai"
	"github.com/poiesic/boardmax/core"
	"github.com/poiesic/boardmax/storage"
)

// DefaultBatchSize is the number of chunks sent to the embedder per call.
const DefaultBatchSize = 16

// Pipeline turns marking-scheme files into index entries:
// load, chunk, tag, embed, upsert.
// Documents are processed concurrently on a worker pool.
type Pipeline struct {
	index     storage.IndexRepository
	manifests storage.ManifestStore // nil when the index cannot store manifests
	embedder  ai.Embedder
	retry     ai.RetryPolicy
	loader    *Loader
	chunker   *Chunker
	strategy  SubjectStrategy
	allowed   []string
	tagger    *Tagger
	batchSize int
	force     bool
	modelTag  string
	pool      *ants.Pool
	embedProc *embeddingProcessor
	logger    *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the number of documents processed concurrently.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}

		// Release old pool
		if p.pool != nil {
			p.pool.Release()
		}

		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithChunker replaces the default 500/50 chunker.
func WithChunker(chunker *Chunker) Option {
	return func(p *Pipeline) error {
		if chunker == nil {
			return fmt.Errorf("%w: nil chunker", ErrInvalidChunkSize)
		}
		p.chunker = chunker
		return nil
	}
}

// WithSubjectStrategy sets how documents are assigned a subject.
// Default is FolderSubject.
func WithSubjectStrategy(strategy SubjectStrategy) Option {
	return func(p *Pipeline) error {
		if strategy != nil {
			p.strategy = strategy
		}
		return nil
	}
}

// WithAllowedSubjects restricts ingestion to the given subjects.
func WithAllowedSubjects(subjects ...string) Option {
	return func(p *Pipeline) error {
		p.allowed = subjects
		return nil
	}
}

// WithBatchSize sets the number of chunks embedded per call.
func WithBatchSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			return fmt.Errorf("batch size must be positive, got %d", size)
		}
		p.batchSize = size
		return nil
	}
}

// WithRetryPolicy sets the retry policy applied to embedding calls.
func WithRetryPolicy(policy ai.RetryPolicy) Option {
	return func(p *Pipeline) error {
		if policy.MaxAttempts <= 0 {
			return ai.ErrInvalidMaxAttempts
		}
		p.retry = policy
		return nil
	}
}

// WithForce re-embeds documents even when their manifest says they are unchanged.
func WithForce(force bool) Option {
	return func(p *Pipeline) error {
		p.force = force
		return nil
	}
}

// WithModelTag sets the embedding model name recorded in document
// fingerprints, so that changing models re-embeds every document.
func WithModelTag(tag string) Option {
	return func(p *Pipeline) error {
		p.modelTag = tag
		return nil
	}
}

// WithMaxFileSize sets the loader's file size limit in bytes.
func WithMaxFileSize(size int64) Option {
	return func(p *Pipeline) error {
		p.loader.MaxFileSize = size
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline writing to index.
func NewPipeline(index storage.IndexRepository, embedder ai.Embedder, opts ...Option) (*Pipeline, error) {
	if index == nil {
		return nil, ErrIndexRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	// Default pool size
	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}

	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	// Create pipeline with defaults
	p := &Pipeline{
		index:     index,
		embedder:  embedder,
		retry:     ai.DefaultRetryPolicy(),
		loader:    &Loader{MaxFileSize: MaxFileSize},
		chunker:   DefaultChunker(),
		strategy:  FolderSubject{},
		batchSize: DefaultBatchSize,
		pool:      pool,
		logger:    slog.Default().With("component", "ingestion"),
	}
	if ms, ok := index.(storage.ManifestStore); ok {
		p.manifests = ms
	}

	// Apply options (may override defaults)
	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}

	p.tagger = NewTagger(p.strategy, p.allowed)

	// Created after options are applied so it gets the final config
	embedProc, err := newEmbeddingProcessor(index, ai.NewRetryingEmbedder(embedder, p.retry), p.batchSize, p.logger)
	if err != nil {
		p.Release()
		return nil, err
	}
	p.embedProc = embedProc

	return p, nil
}

// IngestDir ingests every supported file below root. Hidden files and
// directories are skipped. Document IDs are slash-separated paths relative to root.
func (p *Pipeline) IngestDir(ctx context.Context, root string) (*Report, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !SupportedExtension(path) {
			p.logger.Debug("skipping unsupported file", "path", path)
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", root, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoDocuments, root)
	}
	return p.ingest(ctx, root, paths)
}

// IngestFiles ingests the given files. Document IDs are the file names.
func (p *Pipeline) IngestFiles(ctx context.Context, paths ...string) (*Report, error) {
	if len(paths) == 0 {
		return nil, ErrNoDocuments
	}
	return p.ingest(ctx, "", paths)
}

func (p *Pipeline) ingest(ctx context.Context, root string, paths []string) (*Report, error) {
	report := &Report{
		RunID:   uuid.NewString(),
		Started: time.Now().UTC(),
	}
	logger := p.logger.With("run", report.RunID)
	logger.Info("starting ingestion", "documents", len(paths), "root", root)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	record := func(result DocumentResult) {
		mu.Lock()
		defer mu.Unlock()
		report.Documents = append(report.Documents, result)
	}

	for _, path := range paths {
		id := documentID(root, path)
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			started := time.Now()
			result := p.ingestDocument(ctx, logger, id, path)
			result.Duration = time.Since(started)
			record(result)
		})
		if err != nil {
			wg.Done()
			record(DocumentResult{
				DocumentID: id,
				Status:     StatusFailed,
				Err:        &IngestionError{DocumentID: id, Stage: "scheduling", Err: err},
			})
		}
	}
	wg.Wait()

	slices.SortFunc(report.Documents, func(a, b DocumentResult) int {
		return strings.Compare(a.DocumentID, b.DocumentID)
	})
	report.Elapsed = time.Since(report.Started)

	totals := report.Totals()
	logger.Info("ingestion finished",
		"documents", totals.Documents,
		"indexed", totals.Indexed,
		"partial", totals.Partial,
		"failed", totals.Failed,
		"unchanged", totals.Unchanged,
		"chunks", totals.Chunks,
		"elapsed", report.Elapsed)

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (p *Pipeline) ingestDocument(ctx context.Context, logger *slog.Logger, id, path string) DocumentResult {
	result := DocumentResult{DocumentID: id, Status: StatusFailed}
	logger = logger.With("document", id)

	fail := func(err error) DocumentResult {
		result.Err = err
		logger.Error("document failed", "err", err)
		return result
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	doc, err := p.loader.Load(path)
	if err != nil {
		return fail(err)
	}
	doc.ID = id

	subject, err := p.tagger.SubjectFor(doc)
	if err != nil {
		return fail(&IngestionError{DocumentID: id, Stage: "tagging", Err: err})
	}
	doc.Subject = subject
	result.Subject = subject

	fingerprint := p.fingerprint(doc)
	if p.manifests != nil && !p.force {
		manifest, err := p.manifests.LoadManifest(ctx, id)
		if err != nil {
			logger.Warn("error loading manifest, re-indexing", "err", err)
		} else if manifest != nil && manifest.Fingerprint == fingerprint {
			result.Status = StatusUnchanged
			result.Chunks = manifest.Chunks
			logger.Debug("document unchanged, skipping")
			return result
		}
	}

	var chunks []core.Chunk
	for chunk := range p.chunker.Chunks(doc) {
		tagged, err := p.tagger.Tag(doc, chunk)
		if err != nil {
			logger.Warn("chunk rejected", "chunk", chunk.Index, "err", err)
			continue
		}
		chunks = append(chunks, tagged)
	}
	result.Chunks = len(chunks)
	if len(chunks) == 0 {
		return fail(&IngestionError{DocumentID: id, Stage: "chunking", Err: ErrNoText})
	}

	outcome, err := p.embedProc.process(ctx, id, chunks)
	if outcome != nil {
		result.Indexed = outcome.indexed
		result.Failed = outcome.failed
	}
	if err != nil {
		return fail(err)
	}

	if result.Indexed == 0 {
		return fail(errors.Join(outcome.errs...))
	}

	pruned, err := p.index.PruneDocument(ctx, id, len(chunks))
	if err != nil {
		logger.Warn("error pruning stale chunks", "err", err)
	}
	result.Pruned = pruned

	if result.Failed > 0 {
		result.Status = StatusPartial
		result.Err = errors.Join(outcome.errs...)
		logger.Warn("document partially indexed", "indexed", result.Indexed, "failed", result.Failed)
		return result
	}

	result.Status = StatusIndexed
	if p.manifests != nil {
		err := p.manifests.SaveManifest(ctx, &core.Manifest{
			DocumentID:  id,
			Subject:     subject,
			Fingerprint: fingerprint,
			Chunks:      len(chunks),
		})
		if err != nil {
			logger.Warn("error saving manifest", "err", err)
		}
	}
	logger.Info("document indexed", "subject", subject, "chunks", len(chunks), "pruned", pruned)
	return result
}

// fingerprint covers everything that changes the entries produced for a document.
func (p *Pipeline) fingerprint(doc *core.Document) core.ID {
	return core.IDFromContent(strings.Join([]string{
		doc.Subject,
		strconv.Itoa(p.chunker.Size()),
		strconv.Itoa(p.chunker.Overlap()),
		p.modelTag,
		doc.Text,
	}, "\x00"))
}

// Release releases resources including the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

func documentID(root, path string) string {
	if root != "" {
		if rel, err := filepath.Rel(root, path); err == nil {
			return filepath.ToSlash(rel)
		}
	}
	return filepath.Base(path)
}
