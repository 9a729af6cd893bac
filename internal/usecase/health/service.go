// Package health aggregates component checks for the /health endpoint.
package health

import (
	"context"

	"github.com/kailas-cloud/repodex/internal/usecase/credential"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates partial failure.
	Degraded Status = "degraded"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	store       StorePinger
	embedding   EmbeddingChecker
	credentials CredentialStater
}

// New creates a Service. embedding and credentials can be nil.
func New(store StorePinger, embedding EmbeddingChecker, credentials CredentialStater) *Service {
	return &Service{store: store, embedding: embedding, credentials: credentials}
}

// Check runs health checks against all components. The credential check
// fails only when the supervisor is degraded: a refresh in flight still
// serves requests and stays healthy.
func (s *Service) Check(ctx context.Context) Report {
	checks := make(map[string]CheckResult)

	if err := s.store.Ping(ctx); err != nil {
		checks["index_store"] = CheckError
	} else {
		checks["index_store"] = CheckOK
	}

	if s.embedding != nil {
		if err := s.embedding.HealthCheck(ctx); err != nil {
			checks["embedding"] = CheckError
		} else {
			checks["embedding"] = CheckOK
		}
	}

	if s.credentials != nil {
		if s.credentials.State() == credential.StateDegraded {
			checks["credentials"] = CheckError
		} else {
			checks["credentials"] = CheckOK
		}
	}

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}

	return Report{Status: status, Checks: checks}
}
