package ingestion

import (
	"errors"
	"fmt"
)

var (
	// ErrIndexRequired is returned when an index repository is not provided.
	ErrIndexRequired = errors.New("index repository required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrNoSubject is returned when no subject can be determined for a document.
	ErrNoSubject = errors.New("no subject could be determined")

	// ErrSubjectNotAllowed is returned when a subject is not in the allow-list.
	ErrSubjectNotAllowed = errors.New("subject not allowed")

	// ErrInvalidChunkSize is returned when the chunk size is not positive.
	ErrInvalidChunkSize = errors.New("chunk size must be positive")

	// ErrInvalidOverlap is returned when the overlap is negative or too large for the chunk size.
	ErrInvalidOverlap = errors.New("chunk overlap must be in [0, size/3)")

	// ErrFileTooLarge is returned for files over the loader's size limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrNoText is returned when a file yields no extractable text.
	ErrNoText = errors.New("no extractable text")

	// ErrUnsupportedFormat is returned for file extensions the loader cannot read.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrNoDocuments is returned when an ingestion root contains no supported files.
	ErrNoDocuments = errors.New("no documents found")
)

// DocumentLoadError reports a file that could not be read or parsed.
// It is a hard failure for the run.
type DocumentLoadError struct {
	Path string
	Err  error
}

func (e *DocumentLoadError) Error() string {
	return fmt.Sprintf("loading %s: %v", e.Path, e.Err)
}

func (e *DocumentLoadError) Unwrap() error {
	return e.Err
}

// EmbeddingError reports a batch of chunks whose embeddings could not be
// generated after all retries. Only the chunks of that batch are lost.
type EmbeddingError struct {
	DocumentID string
	FirstChunk int
	Count      int
	Err        error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding chunks %d-%d of %s: %v",
		e.FirstChunk, e.FirstChunk+e.Count-1, e.DocumentID, e.Err)
}

func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// IngestionError reports a document that failed at a pipeline stage other
// than loading or embedding.
type IngestionError struct {
	DocumentID string
	Stage      string
	Err        error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.DocumentID, e.Err)
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}
