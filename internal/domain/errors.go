package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound signals a missing index job.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobTerminal signals an operation on a completed or failed job.
	ErrJobTerminal = errors.New("job already terminal")
	// ErrJobRunning signals an operation that requires a non-running job.
	ErrJobRunning = errors.New("job is running")
	// ErrInvalidRequest signals a malformed request.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrRepositoryUnreadable signals that the repository path cannot be enumerated.
	ErrRepositoryUnreadable = errors.New("repository unreadable")

	// ErrCredentialUnavailable signals that no credential source produced a token.
	ErrCredentialUnavailable = errors.New("credential unavailable")
	// ErrCircuitOpen signals that the credential refresh breaker is open.
	ErrCircuitOpen = errors.New("credential circuit open")

	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrStorageUnavailable signals that the index or job store is unreachable.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrSearchUnavailable signals that both retrieval branches failed.
	ErrSearchUnavailable = errors.New("search unavailable")
)

// FileError wraps a per-file processing failure with the file path.
// File errors are isolated: they become a recorded outcome, never a job failure.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("file %s: %s", e.Path, e.Err.Error())
}

func (e *FileError) Unwrap() error { return e.Err }

// NewFileError creates a file-scoped error.
func NewFileError(path string, err error) error {
	return &FileError{Path: path, Err: err}
}
