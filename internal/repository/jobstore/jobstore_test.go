package jobstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kailas-cloud/repodex/internal/domain"
	"github.com/kailas-cloud/repodex/internal/domain/job"
)

func TestJobRepository_SaveAndGet(t *testing.T) {
	jobs, _, _, _, backend, err := NewMemoryStore()
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer backend.Close()

	ctx := context.Background()
	j := &job.IndexJob{
		ID:            "job-1",
		RepositoryRef: "/repos/demo",
		RepoID:        "demo",
		Commit:        "abc123",
		Status:        job.StatusPending,
		TotalFiles:    10,
		ChunkSize:     25,
		CreatedAt:     time.Now().UTC(),
	}

	if err := jobs.Save(ctx, j); err != nil {
		t.Fatalf("failed to save job: %v", err)
	}

	got, err := jobs.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("failed to get job: %v", err)
	}
	if got.RepoID != "demo" || got.Status != job.StatusPending || got.TotalFiles != 10 {
		t.Errorf("unexpected job record: %+v", got)
	}
}

func TestJobRepository_GetMissing(t *testing.T) {
	jobs, _, _, _, backend, err := NewMemoryStore()
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer backend.Close()

	_, err = jobs.Get(context.Background(), "nope")
	if !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestCheckpointRepository_CursorNeverDecreases(t *testing.T) {
	_, _, checkpoints, _, backend, err := NewMemoryStore()
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer backend.Close()

	ctx := context.Background()
	order := []string{"a.go", "b.go", "c.go"}

	if err := checkpoints.Save(ctx, &job.Checkpoint{JobID: "j1", ProcessingOrder: order, NextIndex: 2}); err != nil {
		t.Fatalf("failed to save checkpoint: %v", err)
	}

	// Advancing is allowed
	if err := checkpoints.Save(ctx, &job.Checkpoint{JobID: "j1", ProcessingOrder: order, NextIndex: 3}); err != nil {
		t.Fatalf("failed to advance checkpoint: %v", err)
	}

	// Moving backwards is rejected
	err = checkpoints.Save(ctx, &job.Checkpoint{JobID: "j1", ProcessingOrder: order, NextIndex: 1})
	if err == nil {
		t.Fatal("expected error when moving cursor backwards")
	}

	cp, err := checkpoints.Load(ctx, "j1")
	if err != nil {
		t.Fatalf("failed to load checkpoint: %v", err)
	}
	if cp.NextIndex != 3 {
		t.Errorf("expected NextIndex=3, got %d", cp.NextIndex)
	}
	if cp.Version != job.CheckpointVersion {
		t.Errorf("expected version %d, got %d", job.CheckpointVersion, cp.Version)
	}
}

func TestCheckpointRepository_LoadMissing(t *testing.T) {
	_, _, checkpoints, _, backend, err := NewMemoryStore()
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer backend.Close()

	cp, err := checkpoints.Load(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cp != nil {
		t.Errorf("expected nil checkpoint, got %+v", cp)
	}
}

func TestOutcomeRepository_SuccessIsSticky(t *testing.T) {
	_, outcomes, _, _, backend, err := NewMemoryStore()
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer backend.Close()

	ctx := context.Background()

	if err := outcomes.Record(ctx, &job.FileOutcome{JobID: "j1", FilePath: "a.go", Status: job.OutcomeSuccess, EntitiesEmitted: 3}); err != nil {
		t.Fatalf("failed to record success: %v", err)
	}
	// A later error never downgrades a recorded success
	if err := outcomes.Record(ctx, &job.FileOutcome{JobID: "j1", FilePath: "a.go", Status: job.OutcomeError, ErrorDetail: "boom"}); err != nil {
		t.Fatalf("failed to record error: %v", err)
	}

	got, err := outcomes.Get(ctx, "j1", "a.go")
	if err != nil {
		t.Fatalf("failed to get outcome: %v", err)
	}
	if got.Status != job.OutcomeSuccess {
		t.Errorf("expected success to stick, got %s", got.Status)
	}
	if got.EntitiesEmitted != 3 {
		t.Errorf("expected EntitiesEmitted=3, got %d", got.EntitiesEmitted)
	}
}

func TestOutcomeRepository_ErrorSupersededBySuccess(t *testing.T) {
	_, outcomes, _, _, backend, err := NewMemoryStore()
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer backend.Close()

	ctx := context.Background()

	if err := outcomes.Record(ctx, &job.FileOutcome{JobID: "j1", FilePath: "b.go", Status: job.OutcomeError, ErrorDetail: "transient"}); err != nil {
		t.Fatalf("failed to record error: %v", err)
	}
	if err := outcomes.Record(ctx, &job.FileOutcome{JobID: "j1", FilePath: "b.go", Status: job.OutcomeSuccess}); err != nil {
		t.Fatalf("failed to record success: %v", err)
	}

	got, err := outcomes.Get(ctx, "j1", "b.go")
	if err != nil {
		t.Fatalf("failed to get outcome: %v", err)
	}
	if got.Status != job.OutcomeSuccess {
		t.Errorf("expected success after retry, got %s", got.Status)
	}
}

func TestOutcomeRepository_SucceededPathsAndTally(t *testing.T) {
	_, outcomes, _, _, backend, err := NewMemoryStore()
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer backend.Close()

	ctx := context.Background()
	records := []*job.FileOutcome{
		{JobID: "j1", FilePath: "a.go", Status: job.OutcomeSuccess},
		{JobID: "j1", FilePath: "b.go", Status: job.OutcomeError, ErrorDetail: "parse failed"},
		{JobID: "j1", FilePath: "c.bin", Status: job.OutcomeSkipped},
		{JobID: "j2", FilePath: "other.go", Status: job.OutcomeSuccess},
	}
	for _, o := range records {
		if err := outcomes.Record(ctx, o); err != nil {
			t.Fatalf("failed to record outcome: %v", err)
		}
	}

	done, err := outcomes.SucceededPaths(ctx, "j1")
	if err != nil {
		t.Fatalf("failed to list succeeded paths: %v", err)
	}
	if len(done) != 1 {
		t.Fatalf("expected 1 succeeded path, got %d", len(done))
	}
	if _, ok := done["a.go"]; !ok {
		t.Error("expected a.go in succeeded set")
	}

	succeeded, errored, skipped, err := outcomes.Tally(ctx, "j1")
	if err != nil {
		t.Fatalf("failed to tally: %v", err)
	}
	if succeeded != 1 || errored != 1 || skipped != 1 {
		t.Errorf("unexpected tally: %d/%d/%d", succeeded, errored, skipped)
	}
}

func TestChunkQueue_EnqueuePendingAck(t *testing.T) {
	_, _, _, queue, backend, err := NewMemoryStore()
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	defer backend.Close()

	ctx := context.Background()
	chunks := job.Partition("j1", []string{"a.go", "b.go", "c.go", "d.go", "e.go"}, 2)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}

	if err := queue.Enqueue(ctx, chunks); err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	pending, err := queue.Pending(ctx, "j1")
	if err != nil {
		t.Fatalf("failed to list pending: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending chunks, got %d", len(pending))
	}
	for i, c := range pending {
		if c.Index != i {
			t.Errorf("pending[%d] has index %d, want dispatch order preserved", i, c.Index)
		}
	}

	if err := queue.Ack(ctx, "j1", 0); err != nil {
		t.Fatalf("failed to ack: %v", err)
	}
	// Duplicate ack is a no-op
	if err := queue.Ack(ctx, "j1", 0); err != nil {
		t.Fatalf("duplicate ack failed: %v", err)
	}

	pending, err = queue.Pending(ctx, "j1")
	if err != nil {
		t.Fatalf("failed to list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending chunks after ack, got %d", len(pending))
	}
	if pending[0].Index != 1 || pending[1].Index != 2 {
		t.Errorf("unexpected pending order: %v", pending)
	}
}
