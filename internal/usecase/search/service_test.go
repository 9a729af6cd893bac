package search

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/kailas-cloud/repodex/internal/domain"
	"github.com/kailas-cloud/repodex/internal/domain/search/filter"
	"github.com/kailas-cloud/repodex/internal/domain/search/result"
)

type mockRepo struct {
	knn         []result.Result
	knnErr      error
	knnTopK     int
	knnDropped  int
	knnFilters  filter.Expression
	bm25        []result.Result
	bm25Err     error
	bm25TopK    int
	bm25Dropped int
	text        bool
}

func (m *mockRepo) SearchKNN(_ context.Context, _ []float32, filters filter.Expression, topK int) ([]result.Result, int, error) {
	m.knnTopK = topK
	m.knnFilters = filters
	return m.knn, m.knnDropped, m.knnErr
}

func (m *mockRepo) SearchBM25(_ context.Context, _ string, _ filter.Expression, topK int) ([]result.Result, int, error) {
	m.bm25TopK = topK
	return m.bm25, m.bm25Dropped, m.bm25Err
}

func (m *mockRepo) SupportsTextSearch(_ context.Context) bool { return m.text }

type mockEmbedder struct {
	result domain.EmbeddingResult
	err    error
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	return m.result, m.err
}

func newTestEngine(repo *mockRepo, embed *mockEmbedder) *Engine {
	return New(repo, embed, Options{FetchFactor: 5, DefaultTopN: 10}, zap.NewNop())
}

func TestSearch_HybridFusesBranches(t *testing.T) {
	repo := &mockRepo{
		text: true,
		bm25: []result.Result{res("a", 3.0, result.Lexical), res("b", 2.0, result.Lexical)},
		knn:  []result.Result{res("b", 0.9, result.Vector), res("c", 0.8, result.Vector)},
	}
	embed := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1}, TotalTokens: 4}}
	e := newTestEngine(repo, embed)

	resp, err := e.Search(context.Background(), Request{Query: "handler", RepoID: "demo", Commit: "deadbeef", TopN: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Mode != ModeHybrid {
		t.Errorf("expected hybrid mode, got %s", resp.Mode)
	}
	if len(resp.Results) != 3 {
		t.Fatalf("expected 3 fused results, got %d", len(resp.Results))
	}
	if resp.Results[0].DocID() != "b" {
		t.Errorf("expected the doubly ranked hit first, got %s", resp.Results[0].DocID())
	}
	if resp.Tokens != 4 {
		t.Errorf("expected 4 query tokens, got %d", resp.Tokens)
	}
	// Candidate depth exceeds TopN so fusion has material to work with
	if repo.knnTopK != 50 || repo.bm25TopK != 50 {
		t.Errorf("expected fetch depth 50, got knn=%d bm25=%d", repo.knnTopK, repo.bm25TopK)
	}
	diag := resp.Diagnostics
	if diag.LexicalCount != 2 || diag.VectorCount != 2 || diag.KConst != DefaultKConst {
		t.Errorf("diagnostics = %+v", diag)
	}
	if diag.Degraded {
		t.Error("hybrid response flagged degraded")
	}
}

func TestSearch_DiagnosticsCountDroppedHits(t *testing.T) {
	repo := &mockRepo{
		text:        true,
		bm25:        []result.Result{res("a", 3.0, result.Lexical)},
		bm25Dropped: 2,
		knn:         []result.Result{res("b", 0.9, result.Vector)},
		knnDropped:  1,
	}
	embed := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1}}}
	e := newTestEngine(repo, embed)

	resp, err := e.Search(context.Background(), Request{Query: "q", RepoID: "demo"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Diagnostics.Dropped != 3 {
		t.Errorf("expected 3 dropped hits, got %d", resp.Diagnostics.Dropped)
	}
}

func TestSearch_FiltersScopeTheQuery(t *testing.T) {
	repo := &mockRepo{text: true}
	embed := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1}}}
	e := newTestEngine(repo, embed)

	_, err := e.Search(context.Background(), Request{Query: "q", RepoID: "demo", Commit: "deadbeef"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	conds := repo.knnFilters.Must()
	if len(conds) != 2 {
		t.Fatalf("expected repo and commit filters, got %d", len(conds))
	}
}

func TestSearch_DegradedWhenVectorBranchFails(t *testing.T) {
	repo := &mockRepo{
		text: true,
		bm25: []result.Result{res("a", 3.0, result.Lexical)},
	}
	embed := &mockEmbedder{err: errors.New("provider down")}
	e := newTestEngine(repo, embed)

	resp, err := e.Search(context.Background(), Request{Query: "q", RepoID: "demo"})
	if err != nil {
		t.Fatalf("expected degraded success, got %v", err)
	}
	if resp.Mode != ModeDegraded {
		t.Errorf("expected degraded mode, got %s", resp.Mode)
	}
	if len(resp.Results) != 1 || resp.Results[0].DocID() != "a" {
		t.Errorf("expected the lexical hit, got %v", resp.Results)
	}
	if !resp.Diagnostics.Degraded || resp.Diagnostics.VectorCount != 0 {
		t.Errorf("diagnostics = %+v", resp.Diagnostics)
	}
}

func TestSearch_DegradedWhenLexicalUnsupported(t *testing.T) {
	repo := &mockRepo{
		text: false,
		knn:  []result.Result{res("v", 0.9, result.Vector)},
	}
	embed := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1}}}
	e := newTestEngine(repo, embed)

	resp, err := e.Search(context.Background(), Request{Query: "q", RepoID: "demo"})
	if err != nil {
		t.Fatalf("expected degraded success, got %v", err)
	}
	if resp.Mode != ModeDegraded {
		t.Errorf("expected degraded mode, got %s", resp.Mode)
	}
	if len(resp.Results) != 1 || resp.Results[0].DocID() != "v" {
		t.Errorf("expected the vector hit, got %v", resp.Results)
	}
}

func TestSearch_FailsWhenBothBranchesFail(t *testing.T) {
	repo := &mockRepo{text: true, bm25Err: errors.New("index gone")}
	embed := &mockEmbedder{err: errors.New("provider down")}
	e := newTestEngine(repo, embed)

	_, err := e.Search(context.Background(), Request{Query: "q", RepoID: "demo"})
	if !errors.Is(err, domain.ErrSearchUnavailable) {
		t.Errorf("expected ErrSearchUnavailable, got %v", err)
	}
}

func TestSearch_ValidatesRequest(t *testing.T) {
	e := newTestEngine(&mockRepo{}, &mockEmbedder{})

	_, err := e.Search(context.Background(), Request{Query: "  ", RepoID: "demo"})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for blank query, got %v", err)
	}

	_, err = e.Search(context.Background(), Request{Query: "q"})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest for missing repo, got %v", err)
	}
}

func TestSearch_CapsTopN(t *testing.T) {
	repo := &mockRepo{text: true}
	embed := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1}}}
	e := New(repo, embed, Options{FetchFactor: 2, DefaultTopN: 10, MaxTopN: 20}, zap.NewNop())

	_, err := e.Search(context.Background(), Request{Query: "q", RepoID: "demo", TopN: 500})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.knnTopK != 40 {
		t.Errorf("expected capped fetch depth 40, got %d", repo.knnTopK)
	}
}
