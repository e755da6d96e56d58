package core

import "errors"

// Domain validation errors
var (
	// ErrInvalidChunk indicates a Chunk failed validation.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrInvalidIndexEntry indicates an IndexEntry failed validation.
	ErrInvalidIndexEntry = errors.New("invalid index entry")

	// ErrEmptyContent indicates the text field is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrEmptySubject indicates a chunk or entry carries no subject tag.
	ErrEmptySubject = errors.New("subject cannot be empty")

	// ErrEmptyVector indicates an entry has no embedding.
	ErrEmptyVector = errors.New("vector cannot be empty")

	// ErrZeroID indicates an entry has no identifier.
	ErrZeroID = errors.New("id cannot be zero")

	// ErrInvalidID indicates a string could not be parsed as an ID.
	ErrInvalidID = errors.New("invalid id")

	// ErrEmptyMode indicates no mode was supplied.
	ErrEmptyMode = errors.New("mode cannot be empty")

	// ErrInvalidMode indicates an unknown mode name.
	ErrInvalidMode = errors.New("invalid mode")

	// ErrInvalidSubject indicates a subject that is not a usable tag.
	ErrInvalidSubject = errors.New("invalid subject")
)
