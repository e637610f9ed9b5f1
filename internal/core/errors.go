package core

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrFileTooLarge    = errors.New("file too large")
	ErrEmptyContent    = errors.New("no content could be extracted from the file")
	ErrAIOverloaded    = errors.New("AI service is temporarily overloaded")
	ErrAnswerFailed    = errors.New("failed to generate answer")
	ErrRetrievalFailed = errors.New("knowledge base search failed")
	ErrFetchFailed     = errors.New("failed to fetch URL")
	ErrNotFound        = errors.New("not found")
)

// StorageKind separates constraint/schema problems from everything else.
type StorageKind int

const (
	StorageUnknown StorageKind = iota
	StorageValidation
)

func (k StorageKind) String() string {
	if k == StorageValidation {
		return "validation"
	}
	return "unknown"
}

// StorageError is returned by the store for failed writes.
type StorageError struct {
	Kind StorageKind
	Op   string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a validation/constraint storage error.
func IsValidation(err error) bool {
	var se *StorageError
	return errors.As(err, &se) && se.Kind == StorageValidation
}
