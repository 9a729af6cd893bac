package chi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kailas-cloud/repodex/internal/domain"
)

// ErrorCode is the machine-readable error discriminator in API responses.
type ErrorCode string

const (
	CodeBadRequest          ErrorCode = "bad_request"
	CodeValidationFailed    ErrorCode = "validation_failed"
	CodeUnauthorized        ErrorCode = "unauthorized"
	CodeJobNotFound         ErrorCode = "job_not_found"
	CodeJobRunning          ErrorCode = "job_running"
	CodeJobTerminal         ErrorCode = "job_terminal"
	CodeRepoUnreadable      ErrorCode = "repository_unreadable"
	CodeEmbeddingProvider   ErrorCode = "embedding_provider_error"
	CodeCredentialsDegraded ErrorCode = "credentials_unavailable"
	CodeSearchUnavailable   ErrorCode = "search_unavailable"
	CodeStorageUnavailable  ErrorCode = "storage_unavailable"
	CodeInternalError       ErrorCode = "internal_error"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, ErrorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrJobNotFound,
		domain.ErrJobRunning,
		domain.ErrJobTerminal,
		domain.ErrInvalidRequest,
		domain.ErrRepositoryUnreadable,
		domain.ErrCredentialUnavailable,
		domain.ErrCircuitOpen,
		domain.ErrEmbeddingProviderError,
		domain.ErrStorageUnavailable,
		domain.ErrSearchUnavailable,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code ErrorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}
