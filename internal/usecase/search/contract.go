package search

import (
	"context"

	"github.com/kailas-cloud/repodex/internal/domain"
	"github.com/kailas-cloud/repodex/internal/domain/search/filter"
	"github.com/kailas-cloud/repodex/internal/domain/search/result"
)

// Repository defines the storage contract for search operations. The int
// return counts hits dropped for lacking a resolvable citation.
type Repository interface {
	SearchKNN(
		ctx context.Context, vector []float32, filters filter.Expression, topK int,
	) ([]result.Result, int, error)

	SearchBM25(
		ctx context.Context, query string, filters filter.Expression, topK int,
	) ([]result.Result, int, error)

	SupportsTextSearch(ctx context.Context) bool
}

// Embedder vectorizes the query text.
type Embedder interface {
	Embed(ctx context.Context, text string) (domain.EmbeddingResult, error)
}
