package core

import (
	"fmt"
	"strings"
	"unicode"
)

// ValidateChunk validates a Chunk according to domain rules.
//
// Validation rules:
//   - Text must not be empty
//   - Subject must be a valid subject tag
//
// NOT validated:
//   - DocumentID (empty IDs still hash to a stable entry ID)
func ValidateChunk(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}

	if strings.TrimSpace(chunk.Text) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyContent)
	}

	if err := ValidateSubject(chunk.Subject); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, err)
	}

	return nil
}

// ValidateIndexEntry validates an IndexEntry before it is written.
//
// Validation rules:
//   - ID must not be zero
//   - Text must not be empty
//   - Subject must be a valid subject tag
//   - Vector must not be empty
func ValidateIndexEntry(entry *IndexEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: entry is nil", ErrInvalidIndexEntry)
	}

	if entry.ID == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidIndexEntry, ErrZeroID)
	}

	if strings.TrimSpace(entry.Text) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidIndexEntry, ErrEmptyContent)
	}

	if err := ValidateSubject(entry.Subject); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidIndexEntry, err)
	}

	if len(entry.Vector) == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidIndexEntry, ErrEmptyVector)
	}

	return nil
}

// ValidateSubject checks that a subject is a canonical tag: non-empty, lower case,
// made of letters, digits, '-' and '_'.
func ValidateSubject(subject string) error {
	if subject == "" {
		return ErrEmptySubject
	}
	for _, r := range subject {
		if r == '-' || r == '_' || unicode.IsDigit(r) || (unicode.IsLetter(r) && !unicode.IsUpper(r)) {
			continue
		}
		return fmt.Errorf("%w: %q", ErrInvalidSubject, subject)
	}
	return nil
}

// CanonicalSubject normalizes a caller-supplied subject for exact matching.
// Surrounding space is removed, letters are lowered and inner spaces become '-'.
func CanonicalSubject(subject string) string {
	return strings.Join(strings.Fields(normalizeToken(subject)), "-")
}

func normalizeToken(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
