package search

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/repodex/internal/db"
	"github.com/kailas-cloud/repodex/internal/domain/search/filter"
	"github.com/kailas-cloud/repodex/internal/domain/search/result"
)

type mockStore struct {
	knnResult  *db.SearchResult
	knnErr     error
	knnQuery   *db.KNNQuery
	bm25Result *db.SearchResult
	bm25Err    error
	bm25Query  *db.TextQuery
	textSearch bool
}

func (m *mockStore) SearchKNN(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	m.knnQuery = q
	return m.knnResult, m.knnErr
}

func (m *mockStore) SearchBM25(_ context.Context, q *db.TextQuery) (*db.SearchResult, error) {
	m.bm25Query = q
	return m.bm25Result, m.bm25Err
}

func (m *mockStore) SupportsTextSearch(_ context.Context) bool {
	return m.textSearch
}

func entry(key string, score float64, fields map[string]string) db.SearchEntry {
	return db.SearchEntry{Key: key, Score: score, Fields: fields}
}

func citedFields(path, commit string) map[string]string {
	return map[string]string{
		"__content":  "func main() {}",
		"path":       path,
		"start_line": "10",
		"end_line":   "20",
		"commit":     commit,
	}
}

func repoFilter(t *testing.T, repoID, commit string) filter.Expression {
	t.Helper()
	f, err := filter.ForRepo(repoID, commit)
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestSearchKNN_ParsesCitations(t *testing.T) {
	ms := &mockStore{knnResult: &db.SearchResult{
		Total: 1,
		Entries: []db.SearchEntry{
			entry("repodex:chunk:demo:abc:0", 0.93, citedFields("cmd/main.go", "deadbeef")),
		},
	}}
	repo := New(ms, zap.NewNop())

	results, dropped, err := repo.SearchKNN(context.Background(), []float32{0.1, 0.2}, repoFilter(t, "demo", "deadbeef"), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if dropped != 0 {
		t.Errorf("expected no dropped hits, got %d", dropped)
	}

	r := results[0]
	if r.Source() != result.Vector {
		t.Errorf("expected vector source, got %s", r.Source())
	}
	if r.Score() != 0.93 {
		t.Errorf("expected score 0.93, got %f", r.Score())
	}
	c := r.Citation()
	if c.Path != "cmd/main.go" || c.StartLine != 10 || c.EndLine != 20 || c.Commit != "deadbeef" {
		t.Errorf("unexpected citation: %+v", c)
	}

	if ms.knnQuery.K != 10 {
		t.Errorf("expected K=10, got %d", ms.knnQuery.K)
	}
}

func TestSearchBM25_DropsUncitedHits(t *testing.T) {
	missing := citedFields("", "deadbeef") // no path: unresolvable
	badSpan := citedFields("a.go", "deadbeef")
	badSpan["start_line"] = "30"
	badSpan["end_line"] = "20"

	ms := &mockStore{bm25Result: &db.SearchResult{
		Total: 3,
		Entries: []db.SearchEntry{
			entry("k1", 3.0, citedFields("a.go", "deadbeef")),
			entry("k2", 2.0, missing),
			entry("k3", 1.0, badSpan),
		},
	}}
	repo := New(ms, zap.NewNop())

	results, dropped, err := repo.SearchBM25(context.Background(), "main", repoFilter(t, "demo", ""), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected only the cited hit, got %d", len(results))
	}
	if dropped != 2 {
		t.Errorf("expected 2 dropped hits, got %d", dropped)
	}
	if results[0].DocID() != "k1" {
		t.Errorf("expected k1, got %s", results[0].DocID())
	}
	if results[0].Source() != result.Lexical {
		t.Errorf("expected lexical source, got %s", results[0].Source())
	}
}

func TestSearchKNN_PropagatesError(t *testing.T) {
	wantErr := errors.New("index gone")
	ms := &mockStore{knnErr: wantErr}
	repo := New(ms, zap.NewNop())

	_, _, err := repo.SearchKNN(context.Background(), []float32{1}, filter.Expression{}, 5)
	if !errors.Is(err, wantErr) {
		t.Errorf("expected wrapped error, got %v", err)
	}
}

func TestSearch_EmptyResults(t *testing.T) {
	ms := &mockStore{knnResult: &db.SearchResult{}, bm25Result: nil}
	repo := New(ms, zap.NewNop())

	results, _, err := repo.SearchKNN(context.Background(), []float32{1}, filter.Expression{}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil results, got %v", results)
	}

	results, _, err = repo.SearchBM25(context.Background(), "q", filter.Expression{}, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil results, got %v", results)
	}
}
