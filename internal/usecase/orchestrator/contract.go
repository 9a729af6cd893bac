package orchestrator

import (
	"context"

	"github.com/kailas-cloud/repodex/internal/domain/job"
	"github.com/kailas-cloud/repodex/internal/usecase/process"
)

// JobStore persists index job records.
type JobStore interface {
	Save(ctx context.Context, j *job.IndexJob) error
	Get(ctx context.Context, jobID string) (*job.IndexJob, error)
	List(ctx context.Context) ([]*job.IndexJob, error)
}

// OutcomeStore persists per-file terminal outcomes.
type OutcomeStore interface {
	Record(ctx context.Context, o *job.FileOutcome) error
	SucceededPaths(ctx context.Context, jobID string) (map[string]struct{}, error)
	Tally(ctx context.Context, jobID string) (succeeded, errored, skipped int, err error)
	List(ctx context.Context, jobID string) ([]*job.FileOutcome, error)
}

// CheckpointStore persists the resume cursor.
type CheckpointStore interface {
	Save(ctx context.Context, cp *job.Checkpoint) error
	Load(ctx context.Context, jobID string) (*job.Checkpoint, error)
}

// ChunkQueue holds the durable dispatch backlog.
type ChunkQueue interface {
	Enqueue(ctx context.Context, chunks []job.FileChunk) error
	Pending(ctx context.Context, jobID string) ([]job.FileChunk, error)
	Ack(ctx context.Context, jobID string, index int) error
}

// FileProcessor runs the parse-embed-write pipeline for one file.
type FileProcessor interface {
	ProcessFile(ctx context.Context, spec process.FileSpec) (int, error)
}

// Discoverer enumerates indexable files under a repository root.
type Discoverer interface {
	Discover(root string) ([]string, error)
}
