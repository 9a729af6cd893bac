package repodex

import "github.com/kailas-cloud/repodex/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrJobNotFound            = domain.ErrJobNotFound
	ErrInvalidRequest         = domain.ErrInvalidRequest
	ErrEmbeddingProviderError = domain.ErrEmbeddingProviderError
	ErrSearchUnavailable      = domain.ErrSearchUnavailable
	ErrStorageUnavailable     = domain.ErrStorageUnavailable
)
