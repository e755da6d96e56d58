package core

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for index entries.
// It is derived from content so that the same input always maps to the same ID.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// ChunkID returns the stable index entry ID for chunk index of a document.
// Re-ingesting the same document therefore overwrites its entries instead of
// adding new ones.
func ChunkID(documentID string, index int) ID {
	return IDFromContent(documentID + "#" + strconv.Itoa(index))
}

// String renders the ID as fixed-width hex. Used wherever a backend needs string keys.
func (id ID) String() string {
	return fmt.Sprintf("%016x", uint64(id))
}

// ParseID parses the hex form produced by ID.String.
func ParseID(s string) (ID, error) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return ID(v), nil
}

// Mode selects how an answer is processed.
type Mode string

const (
	// ModeOptimizer rewrites the student's answer in marking-scheme form.
	ModeOptimizer Mode = "optimizer"
	// ModeEvaluator grades the student's answer against the marking scheme.
	ModeEvaluator Mode = "evaluator"
)

// ParseMode maps a mode name, including the "answer" and "evaluate" aliases,
// to a Mode. Matching is case-insensitive.
func ParseMode(s string) (Mode, error) {
	switch normalizeToken(s) {
	case "optimizer", "answer":
		return ModeOptimizer, nil
	case "evaluator", "evaluate":
		return ModeEvaluator, nil
	case "":
		return "", ErrEmptyMode
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// Document is a source file queued for ingestion.
// It is consumed once by the chunker and not retained afterwards.
type Document struct {
	ID      string // Path relative to the ingestion root, slash separated
	Path    string // Absolute or caller-supplied path on disk
	Subject string // Declared subject, empty until tagged
	Text    string // Extracted plain text
	Size    int64  // Size of the file in bytes
}

// Chunk is a contiguous span of document text, the unit of embedding and retrieval.
type Chunk struct {
	DocumentID string
	Source     string // File name shown as source metadata
	Subject    string
	Index      int
	Text       string
}

// ID returns the stable index entry ID for the chunk.
func (c *Chunk) ID() ID {
	return ChunkID(c.DocumentID, c.Index)
}

// IndexEntry is a chunk persisted in the vector index together with its embedding.
type IndexEntry struct {
	ID         ID
	DocumentID string
	ChunkIndex int
	Subject    string
	Source     string
	Text       string
	Vector     []float32
	IndexedAt  time.Time
}

// NewIndexEntry builds an index entry from a tagged chunk and its embedding.
func NewIndexEntry(chunk Chunk, vector []float32) *IndexEntry {
	return &IndexEntry{
		ID:         chunk.ID(),
		DocumentID: chunk.DocumentID,
		ChunkIndex: chunk.Index,
		Subject:    chunk.Subject,
		Source:     chunk.Source,
		Text:       chunk.Text,
		Vector:     vector,
	}
}

// SearchResult represents a retrieved index entry and its similarity score.
type SearchResult struct {
	Entry *IndexEntry
	Score float32
}

// QueryRequest is a validated query, ready for retrieval.
type QueryRequest struct {
	Question      string
	StudentAnswer string // Optional; when empty the question is treated as the answer
	Subject       string
	Mode          Mode
}

// Answer is the formatted result returned to the caller.
type Answer struct {
	Answer       string `json:"answer"`
	Mode         Mode   `json:"mode"`
	Subject      string `json:"subject"`
	SourcesCount int    `json:"sources_count"`
}

// Manifest records what was last indexed for a document so that an unchanged
// document can be skipped on the next ingestion run.
type Manifest struct {
	DocumentID  string
	Subject     string
	Fingerprint ID // Covers the subject, chunking parameters, embedding model and text
	Chunks      int
	UpdatedAt   time.Time
}
