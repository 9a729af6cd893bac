package health

import (
	"context"

	"github.com/kailas-cloud/repodex/internal/usecase/credential"
)

// StorePinger checks index store availability.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// EmbeddingChecker checks embedding provider availability.
type EmbeddingChecker interface {
	HealthCheck(ctx context.Context) error
}

// CredentialStater reports the credential supervisor state.
type CredentialStater interface {
	State() credential.State
}
