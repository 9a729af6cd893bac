// Package result defines the search hit type returned by the retrieval engine.
package result

// Source identifies which retrieval branch produced a hit.
type Source string

const (
	// Lexical marks a hit from the BM25 branch.
	Lexical Source = "lexical"
	// Vector marks a hit from the KNN branch.
	Vector Source = "vector"
	// Fused marks a hit ranked by RRF across both branches.
	Fused Source = "fused"
)

// Citation is the provenance of a hit. Every returned result carries one;
// hits whose provenance cannot be resolved are dropped, not returned un-cited.
type Citation struct {
	Path      string `json:"path"`
	StartLine int    `json:"start"`
	EndLine   int    `json:"end"`
	Commit    string `json:"commit"`
}

// Resolvable reports whether the citation identifies a real span.
func (c Citation) Resolvable() bool {
	return c.Path != "" && c.Commit != "" && c.StartLine > 0 && c.EndLine >= c.StartLine
}

// Result is a single search hit.
type Result struct {
	docID    string
	score    float64
	source   Source
	content  string
	citation Citation
}

// New creates a search result.
func New(docID string, score float64, source Source, content string, citation Citation) Result {
	return Result{docID: docID, score: score, source: source, content: content, citation: citation}
}

// DocID returns the document identifier.
func (r *Result) DocID() string { return r.docID }

// Score returns the relevance score (branch-native or fused).
func (r *Result) Score() float64 { return r.score }

// Source returns the retrieval branch that produced the hit.
func (r *Result) Source() Source { return r.source }

// Content returns the indexed chunk content.
func (r *Result) Content() string { return r.content }

// Citation returns the hit provenance.
func (r *Result) Citation() Citation { return r.citation }

// WithFusedScore rebuilds the result with an RRF score and fused source tag.
func (r *Result) WithFusedScore(score float64) Result {
	return Result{
		docID:    r.docID,
		score:    score,
		source:   Fused,
		content:  r.content,
		citation: r.citation,
	}
}
