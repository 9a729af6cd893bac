package sdk

import "time"

// SubmitRequest describes a repository snapshot to index.
type SubmitRequest struct {
	RepositoryRef string `json:"repository_ref"`
	RepoID        string `json:"repo_id"`
	Commit        string `json:"commit"`
	ChunkSize     int    `json:"chunk_size,omitempty"`
}

// Job is the server view of an index job.
type Job struct {
	ID            string     `json:"id"`
	RepositoryRef string     `json:"repository_ref"`
	RepoID        string     `json:"repo_id"`
	Commit        string     `json:"commit"`
	Status        string     `json:"status"`
	TotalFiles    int        `json:"total_files"`
	Processed     int        `json:"processed"`
	Succeeded     int        `json:"succeeded"`
	Errored       int        `json:"errored"`
	Skipped       int        `json:"skipped"`
	LastError     string     `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Terminal reports whether the job will make no further progress
// without a resume.
func (j *Job) Terminal() bool {
	return j.Status == "completed" || j.Status == "failed"
}

// Outcome is the per-file processing record of a job.
type Outcome struct {
	FilePath        string    `json:"file_path"`
	Status          string    `json:"status"`
	ErrorDetail     string    `json:"error_detail,omitempty"`
	EntitiesEmitted int       `json:"entities_emitted"`
	ProcessedAt     time.Time `json:"processed_at"`
}

// Usage holds per-job embedding usage counters.
type Usage struct {
	JobID        string `json:"job_id"`
	PromptTokens int64  `json:"prompt_tokens"`
	TotalTokens  int64  `json:"total_tokens"`
	CacheHits    int64  `json:"cache_hits"`
	CacheMisses  int64  `json:"cache_misses"`
}

// SearchRequest is a retrieval query scoped to one indexed snapshot.
type SearchRequest struct {
	Query  string `json:"query"`
	RepoID string `json:"repo_id"`
	Commit string `json:"commit,omitempty"`
	TopN   int    `json:"top_n,omitempty"`
}

// Citation identifies the source span of a hit.
type Citation struct {
	Path      string `json:"path"`
	StartLine int    `json:"start"`
	EndLine   int    `json:"end"`
	Commit    string `json:"commit"`
}

// SearchHit is one cited result.
type SearchHit struct {
	DocID    string   `json:"doc_id"`
	Score    float64  `json:"score"`
	Source   string   `json:"source"`
	Content  string   `json:"content"`
	Citation Citation `json:"citation"`
}

// Diagnostics reports how the ranked answer was fused.
type Diagnostics struct {
	LexicalCount int  `json:"lexical_count"`
	VectorCount  int  `json:"vector_count"`
	KConst       int  `json:"k_const"`
	Degraded     bool `json:"degraded"`
	Dropped      int  `json:"dropped"`
}

// SearchResponse is a ranked answer set plus diagnostics.
type SearchResponse struct {
	Items       []SearchHit `json:"items"`
	Total       int         `json:"total"`
	Mode        string      `json:"mode"`
	Tokens      int         `json:"tokens"`
	Diagnostics Diagnostics `json:"diagnostics"`
}
