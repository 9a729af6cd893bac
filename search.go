package repodex

import (
	"context"
	"fmt"
	"time"

	searchuc "github.com/kailas-cloud/repodex/internal/usecase/search"
)

// Hit is a single retrieved code unit with its provenance.
type Hit struct {
	Path      string
	StartLine int
	EndLine   int
	Commit    string
	Content   string
	Score     float64
}

// Answer is a ranked answer set plus how it was produced.
type Answer struct {
	Hits   []Hit
	Mode   string // "hybrid" or "degraded"
	Tokens int    // embedding tokens spent on the query
}

// SearchBuilder is a fluent builder for retrieval queries.
type SearchBuilder struct {
	client *Client

	query  string
	repoID string
	commit string
	topN   int
}

// Search starts a retrieval query.
func (c *Client) Search() *SearchBuilder {
	return &SearchBuilder{client: c}
}

// Query sets the natural language or keyword query text.
func (b *SearchBuilder) Query(q string) *SearchBuilder {
	b.query = q
	return b
}

// Repo scopes the query to one indexed repository.
func (b *SearchBuilder) Repo(repoID string) *SearchBuilder {
	b.repoID = repoID
	return b
}

// Commit scopes the query to one indexed snapshot. Empty means the
// latest indexed commit for the repository.
func (b *SearchBuilder) Commit(commit string) *SearchBuilder {
	b.commit = commit
	return b
}

// TopN sets the maximum number of results.
func (b *SearchBuilder) TopN(n int) *SearchBuilder {
	b.topN = n
	return b
}

// Do executes the query.
func (b *SearchBuilder) Do(ctx context.Context) (answer *Answer, err error) {
	start := time.Now()
	defer func() { b.client.obs.observe("search", start, err) }()

	resp, err := b.client.searchSvc.Search(ctx, searchuc.Request{
		Query:  b.query,
		RepoID: b.repoID,
		Commit: b.commit,
		TopN:   b.topN,
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	hits := make([]Hit, len(resp.Results))
	for i := range resp.Results {
		r := &resp.Results[i]
		cit := r.Citation()
		hits[i] = Hit{
			Path:      cit.Path,
			StartLine: cit.StartLine,
			EndLine:   cit.EndLine,
			Commit:    cit.Commit,
			Content:   r.Content(),
			Score:     r.Score(),
		}
	}
	return &Answer{
		Hits:   hits,
		Mode:   string(resp.Mode),
		Tokens: resp.Tokens,
	}, nil
}
