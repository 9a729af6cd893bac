package sdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// APIError is a non-2xx response decoded from the server error body.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("repodex: %s (%s, http %d)", e.Message, e.Code, e.StatusCode)
}

// IsNotFound reports whether the error is a 404 from the server.
func IsNotFound(err error) bool {
	return hasStatus(err, http.StatusNotFound)
}

// IsConflict reports whether the operation clashed with the job's
// current status, for example resuming a running job.
func IsConflict(err error) bool {
	return hasStatus(err, http.StatusConflict)
}

// IsUnavailable reports whether the server declined the request because
// a dependency (credentials, store, both search branches) is down.
func IsUnavailable(err error) bool {
	return hasStatus(err, http.StatusServiceUnavailable)
}

func hasStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil || len(body) == 0 {
		apiErr.Message = resp.Status
		return apiErr
	}

	var wire struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &wire) != nil || wire.Message == "" {
		apiErr.Message = string(body)
		return apiErr
	}
	apiErr.Code = wire.Code
	apiErr.Message = wire.Message
	return apiErr
}
