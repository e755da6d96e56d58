package query

import (
	"errors"
	"fmt"
)

var (
	// ErrIndexRequired is returned when an index repository is not provided.
	ErrIndexRequired = errors.New("index repository required")

	// ErrAIProviderRequired is returned when an embedder or generator is not provided.
	ErrAIProviderRequired = errors.New("AI provider required")

	// ErrValidatorRequired is returned when a validator is not provided.
	ErrValidatorRequired = errors.New("validator required")

	// ErrEmptyAnswer is returned when the model produced no usable text.
	ErrEmptyAnswer = errors.New("model returned an empty answer")
)

// User-facing messages for upstream failures. They never carry provider detail.
const (
	MsgIndexUnavailable = "The marking-scheme index is unavailable right now. Please try again later."
	MsgServerBusy       = "The answer service is busy or unavailable. Please try again in a moment."
	MsgTooManyRequests  = "Too many requests. Please wait a minute before asking again."
	MsgInternal         = "Something went wrong while processing your request."
)

// ValidationError is a client-caused rejection. Message is safe to show to the user.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// RetrievalError reports that the query could not be embedded or the index could not be searched.
type RetrievalError struct {
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed: %v", e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// UserMessage returns the generic message shown to callers.
func (e *RetrievalError) UserMessage() string {
	return MsgIndexUnavailable
}

// GenerationError reports that the language model failed or returned nothing usable.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// UserMessage returns the generic message shown to callers.
func (e *GenerationError) UserMessage() string {
	return MsgServerBusy
}
