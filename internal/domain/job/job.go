// Package job holds the index job domain model: jobs, file chunks,
// per-file outcomes, and the resume checkpoint.
package job

import (
	"time"
)

// Status is the lifecycle state of an index job.
type Status string

const (
	// StatusPending means the job is accepted but not yet dispatched.
	StatusPending Status = "pending"
	// StatusRunning means chunks are being dispatched and processed.
	StatusRunning Status = "running"
	// StatusPaused means dispatch is stopped but the job is resumable.
	StatusPaused Status = "paused"
	// StatusCompleted means every file has a terminal outcome.
	StatusCompleted Status = "completed"
	// StatusFailed means a systemic condition prevented further progress.
	StatusFailed Status = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusPaused, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// DefaultChunkSize is the number of files per dispatch unit.
const DefaultChunkSize = 25

// IndexJob is one indexing run over a repository snapshot.
// Owned exclusively by the orchestrator once submitted.
type IndexJob struct {
	ID            string     `json:"id"`
	RepositoryRef string     `json:"repository_ref"`
	RepoID        string     `json:"repo_id"`
	Commit        string     `json:"commit"`
	Status        Status     `json:"status"`
	TotalFiles    int        `json:"total_files"`
	ChunkSize     int        `json:"chunk_size"`
	Succeeded     int        `json:"succeeded"`
	Errored       int        `json:"errored"`
	Skipped       int        `json:"skipped"`
	LastError     string     `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// Processed returns the number of files with a terminal outcome.
func (j *IndexJob) Processed() int {
	return j.Succeeded + j.Errored + j.Skipped
}

// FileChunk is an ordered, disjoint slice of the job's file list,
// dispatched as one unit of work. Immutable once computed.
type FileChunk struct {
	JobID     string   `json:"job_id"`
	Index     int      `json:"chunk_index"`
	FilePaths []string `json:"file_paths"`
}

// OutcomeStatus is the terminal state of one file within a job.
type OutcomeStatus string

const (
	// OutcomeSuccess means the file was fully indexed.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeError means processing failed; ErrorDetail carries the cause.
	OutcomeError OutcomeStatus = "error"
	// OutcomeSkipped means the file produced nothing to index.
	OutcomeSkipped OutcomeStatus = "skipped"
)

// FileOutcome records the terminal result of processing one file.
// Upserted by path: a later success supersedes an earlier error.
type FileOutcome struct {
	JobID           string        `json:"job_id"`
	FilePath        string        `json:"file_path"`
	Status          OutcomeStatus `json:"status"`
	ErrorDetail     string        `json:"error_detail,omitempty"`
	EntitiesEmitted int           `json:"entities_emitted"`
	ProcessedAt     time.Time     `json:"processed_at"`
}

// CheckpointVersion is the current persisted checkpoint schema version.
const CheckpointVersion = 1

// Checkpoint is the durable cursor into the deterministic file ordering.
// NextIndex advances only after the corresponding outcome write commits
// and never decreases.
type Checkpoint struct {
	Version         int      `json:"version"`
	JobID           string   `json:"job_id"`
	ProcessingOrder []string `json:"processing_order"`
	NextIndex       int      `json:"next_index"`
}

// Progress is one progress event emitted to subscribers.
// Delivery is best-effort; late subscribers get the last-known snapshot.
type Progress struct {
	JobID     string `json:"job_id"`
	Processed int    `json:"processed"`
	Total     int    `json:"total"`
	Status    Status `json:"status"`
	LastError string `json:"last_error,omitempty"`
}

// Partition splits paths into fixed-size chunks preserving order.
// The final chunk may be short. chunkSize below 1 falls back to the default.
func Partition(jobID string, paths []string, chunkSize int) []FileChunk {
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}

	chunks := make([]FileChunk, 0, (len(paths)+chunkSize-1)/chunkSize)
	for i := 0; i < len(paths); i += chunkSize {
		end := i + chunkSize
		if end > len(paths) {
			end = len(paths)
		}
		chunks = append(chunks, FileChunk{
			JobID:     jobID,
			Index:     len(chunks),
			FilePaths: paths[i:end],
		})
	}
	return chunks
}
