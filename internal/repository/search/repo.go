// Package search executes the two retrieval branches against the FT index
// and converts raw hits into cited results.
package search

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/kailas-cloud/repodex/internal/db"
	"github.com/kailas-cloud/repodex/internal/domain/search/filter"
	"github.com/kailas-cloud/repodex/internal/domain/search/result"
	"github.com/kailas-cloud/repodex/internal/repository/index"
)

// store is the consumer interface for search operations (ISP).
type store interface {
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchBM25(ctx context.Context, q *db.TextQuery) (*db.SearchResult, error)
	SupportsTextSearch(ctx context.Context) bool
}

var returnFields = []string{"__content", "path", "start_line", "end_line", "commit", "repo_id"}

// Repo implements usecase/search.Repository.
type Repo struct {
	store  store
	logger *zap.Logger
}

// New creates a search repository.
func New(s store, logger *zap.Logger) *Repo {
	return &Repo{store: s, logger: logger}
}

// SupportsTextSearch proxies the capability check from the store.
func (r *Repo) SupportsTextSearch(ctx context.Context) bool {
	return r.store.SupportsTextSearch(ctx)
}

// SearchKNN performs a vector similarity search constrained by filters.
// The second return counts hits dropped for lacking a resolvable citation.
func (r *Repo) SearchKNN(
	ctx context.Context, vector []float32, filters filter.Expression, topK int,
) ([]result.Result, int, error) {
	q := &db.KNNQuery{
		IndexName:    index.IndexName(),
		Filters:      filters,
		Vector:       vector,
		K:            topK,
		ReturnFields: returnFields,
	}

	sr, err := r.store.SearchKNN(ctx, q)
	if err != nil {
		return nil, 0, fmt.Errorf("search knn: %w", err)
	}

	results, dropped := r.parseResults(sr, result.Vector)
	return results, dropped, nil
}

// SearchBM25 performs a keyword search constrained by filters.
// The second return counts hits dropped for lacking a resolvable citation.
func (r *Repo) SearchBM25(
	ctx context.Context, query string, filters filter.Expression, topK int,
) ([]result.Result, int, error) {
	q := &db.TextQuery{
		IndexName:    index.IndexName(),
		Query:        query,
		Filters:      filters,
		TopK:         topK,
		ReturnFields: returnFields,
	}

	sr, err := r.store.SearchBM25(ctx, q)
	if err != nil {
		return nil, 0, fmt.Errorf("search bm25: %w", err)
	}

	results, dropped := r.parseResults(sr, result.Lexical)
	return results, dropped, nil
}

// parseResults converts db.SearchResult into cited results. Hits without a
// resolvable citation are dropped rather than returned un-cited.
func (r *Repo) parseResults(sr *db.SearchResult, source result.Source) ([]result.Result, int) {
	if sr == nil || len(sr.Entries) == 0 {
		return nil, 0
	}

	dropped := 0
	results := make([]result.Result, 0, len(sr.Entries))
	for _, entry := range sr.Entries {
		citation := parseCitation(entry.Fields)
		if !citation.Resolvable() {
			r.logger.Warn("Dropping hit without resolvable citation", zap.String("key", entry.Key))
			dropped++
			continue
		}
		results = append(results, result.New(entry.Key, entry.Score, source, entry.Fields["__content"], citation))
	}
	return results, dropped
}

func parseCitation(fields map[string]string) result.Citation {
	start, _ := strconv.Atoi(fields["start_line"])
	end, _ := strconv.Atoi(fields["end_line"])
	return result.Citation{
		Path:      fields["path"],
		StartLine: start,
		EndLine:   end,
		Commit:    fields["commit"],
	}
}
