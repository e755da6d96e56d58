package ingestion

import (
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/poiesic/boardmax/core"
)

// SubjectStrategy decides which subject a document belongs to.
type SubjectStrategy interface {
	Subject(doc *core.Document) (string, error)
}

// FixedSubject assigns the same operator-supplied subject to every document.
type FixedSubject string

// Subject returns the fixed subject.
func (s FixedSubject) Subject(*core.Document) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", ErrNoSubject
	}
	return string(s), nil
}

// FolderSubject derives the subject from the document ID: the first directory
// below the ingestion root, or for top-level files the file name prefix before
// the first '_', '-' or '.'.
type FolderSubject struct{}

// Subject returns the folder or filename-prefix subject.
func (FolderSubject) Subject(doc *core.Document) (string, error) {
	id := strings.TrimPrefix(path.Clean("/"+doc.ID), "/")
	if dir, _, found := strings.Cut(id, "/"); found && dir != "" {
		return dir, nil
	}
	name := path.Base(id)
	if i := strings.IndexAny(name, "_-."); i > 0 {
		return name[:i], nil
	}
	return "", fmt.Errorf("%w: %s has no folder or subject prefix", ErrNoSubject, doc.ID)
}

// Tagger attaches a validated subject to chunks.
type Tagger struct {
	strategy SubjectStrategy
	allowed  []string
}

// NewTagger creates a tagger. When allowed is non-empty, only those subjects are accepted.
func NewTagger(strategy SubjectStrategy, allowed []string) *Tagger {
	canonical := make([]string, 0, len(allowed))
	for _, s := range allowed {
		if s = core.CanonicalSubject(s); s != "" {
			canonical = append(canonical, s)
		}
	}
	if strategy == nil {
		strategy = FolderSubject{}
	}
	return &Tagger{strategy: strategy, allowed: canonical}
}

// SubjectFor resolves the canonical subject of doc.
func (t *Tagger) SubjectFor(doc *core.Document) (string, error) {
	raw, err := t.strategy.Subject(doc)
	if err != nil {
		return "", err
	}
	subject := core.CanonicalSubject(raw)
	if subject == "" {
		return "", ErrNoSubject
	}
	if err := core.ValidateSubject(subject); err != nil {
		return "", err
	}
	if len(t.allowed) > 0 && !slices.Contains(t.allowed, subject) {
		return "", fmt.Errorf("%w: %q", ErrSubjectNotAllowed, subject)
	}
	return subject, nil
}

// Tag returns chunk with the subject of doc attached. The subject already set
// on doc is used when present.
func (t *Tagger) Tag(doc *core.Document, chunk core.Chunk) (core.Chunk, error) {
	subject := doc.Subject
	if subject == "" {
		var err error
		subject, err = t.SubjectFor(doc)
		if err != nil {
			return core.Chunk{}, err
		}
	}
	chunk.Subject = subject
	if err := core.ValidateChunk(&chunk); err != nil {
		return core.Chunk{}, err
	}
	return chunk, nil
}
