package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/repodex/internal/domain"
	"github.com/kailas-cloud/repodex/internal/domain/job"
	"github.com/kailas-cloud/repodex/internal/repository/jobstore"
	"github.com/kailas-cloud/repodex/internal/usecase/process"
)

type staticDiscoverer struct {
	paths []string
	err   error
}

func (d *staticDiscoverer) Discover(_ string) ([]string, error) {
	if d.err != nil {
		return nil, d.err
	}
	out := make([]string, len(d.paths))
	copy(out, d.paths)
	return out, nil
}

type mockProcessor struct {
	mu       sync.Mutex
	calls    map[string]int
	failWith map[string]error
	emitted  int
	blockCtx bool
	gate     chan struct{} // when set, each file waits for one token
}

func newMockProcessor() *mockProcessor {
	return &mockProcessor{
		calls:    make(map[string]int),
		failWith: make(map[string]error),
		emitted:  1,
	}
}

func (m *mockProcessor) ProcessFile(ctx context.Context, spec process.FileSpec) (int, error) {
	m.mu.Lock()
	m.calls[spec.Path]++
	failErr := m.failWith[spec.Path]
	block := m.blockCtx
	gate := m.gate
	m.mu.Unlock()

	if block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	if failErr != nil {
		return 0, failErr
	}
	return m.emitted, nil
}

func (m *mockProcessor) callCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[path]
}

func (m *mockProcessor) setFailure(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failWith, path)
	} else {
		m.failWith[path] = err
	}
}

type testEnv struct {
	orch        *Orchestrator
	processor   *mockProcessor
	jobs        *jobstore.JobRepository
	outcomes    *jobstore.OutcomeRepository
	checkpoints *jobstore.CheckpointRepository
	queue       *jobstore.ChunkQueue
}

func newTestEnv(t *testing.T, paths []string, chunkSize int) *testEnv {
	t.Helper()

	jobs, outcomes, checkpoints, queue, backend, err := jobstore.NewMemoryStore()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { backend.Close() })

	proc := newMockProcessor()
	orch, err := New(
		jobs, outcomes, checkpoints, queue,
		proc,
		&staticDiscoverer{paths: paths},
		NewBroker(),
		Options{ChunkSize: chunkSize, Workers: 2},
		zap.NewNop(),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		orch.Shutdown(ctx)
	})

	return &testEnv{
		orch:        orch,
		processor:   proc,
		jobs:        jobs,
		outcomes:    outcomes,
		checkpoints: checkpoints,
		queue:       queue,
	}
}

func waitForStatus(t *testing.T, env *testEnv, jobID string, want job.Status) *job.IndexJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		j, err := env.orch.Status(context.Background(), jobID)
		if err != nil {
			t.Fatal(err)
		}
		if j.Status == want {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	j, _ := env.orch.Status(context.Background(), jobID)
	t.Fatalf("job never reached %q, last status %q", want, j.Status)
	return nil
}

func submit(t *testing.T, env *testEnv) *job.IndexJob {
	t.Helper()
	j, err := env.orch.Submit(context.Background(), SubmitRequest{
		RepositoryRef: "/repo",
		RepoID:        "acme/api",
		Commit:        "abc123",
	})
	if err != nil {
		t.Fatal(err)
	}
	return j
}

func TestSubmit_RunsToCompletion(t *testing.T) {
	paths := []string{"a.go", "b.go", "c.go", "d.go", "e.go"}
	env := newTestEnv(t, paths, 2)

	j := submit(t, env)
	if j.TotalFiles != 5 {
		t.Fatalf("TotalFiles = %d, want 5", j.TotalFiles)
	}

	final := waitForStatus(t, env, j.ID, job.StatusCompleted)
	if final.Succeeded != 5 || final.Errored != 0 {
		t.Errorf("counts = %d succeeded %d errored", final.Succeeded, final.Errored)
	}
	if final.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}

	cp, err := env.checkpoints.Load(context.Background(), j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cp.NextIndex != 5 {
		t.Errorf("checkpoint NextIndex = %d, want 5", cp.NextIndex)
	}
	if len(cp.ProcessingOrder) != 5 || cp.ProcessingOrder[0] != "a.go" {
		t.Errorf("processing order = %v", cp.ProcessingOrder)
	}

	pending, err := env.queue.Pending(context.Background(), j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("backlog not drained, %d chunks pending", len(pending))
	}
}

func TestSubmit_ChunkSizeOverride(t *testing.T) {
	paths := []string{"a.go", "b.go", "c.go", "d.go", "e.go"}
	env := newTestEnv(t, paths, 25)
	env.processor.blockCtx = true

	j, err := env.orch.Submit(context.Background(), SubmitRequest{
		RepositoryRef: "/repo",
		RepoID:        "acme/api",
		Commit:        "abc123",
		ChunkSize:     2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if j.ChunkSize != 2 {
		t.Errorf("ChunkSize = %d, want 2", j.ChunkSize)
	}

	pending, err := env.queue.Pending(context.Background(), j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 3 {
		t.Errorf("backlog = %d chunks, want 3", len(pending))
	}

	if err := env.orch.Cancel(context.Background(), j.ID); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, env, j.ID, job.StatusPaused)
}

func TestSubmit_EmptyRepositoryCompletes(t *testing.T) {
	env := newTestEnv(t, nil, 2)
	j := submit(t, env)
	final := waitForStatus(t, env, j.ID, job.StatusCompleted)
	if final.Processed() != 0 {
		t.Errorf("Processed() = %d, want 0", final.Processed())
	}
}

func TestSubmit_UnreadableRepository(t *testing.T) {
	env := newTestEnv(t, nil, 2)
	env.orch.discoverer = &staticDiscoverer{err: errors.New("permission denied")}

	_, err := env.orch.Submit(context.Background(), SubmitRequest{
		RepositoryRef: "/repo", RepoID: "r", Commit: "c",
	})
	if !errors.Is(err, domain.ErrRepositoryUnreadable) {
		t.Fatalf("error = %v, want ErrRepositoryUnreadable", err)
	}
}

func TestSubmit_Validation(t *testing.T) {
	env := newTestEnv(t, nil, 2)
	_, err := env.orch.Submit(context.Background(), SubmitRequest{RepoID: "r"})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("error = %v, want ErrInvalidRequest", err)
	}
}

func TestFileFailureDoesNotAbortChunk(t *testing.T) {
	paths := []string{"a.go", "bad.go", "c.go"}
	env := newTestEnv(t, paths, 3)
	env.processor.setFailure("bad.go", errors.New("malformed"))

	j := submit(t, env)
	final := waitForStatus(t, env, j.ID, job.StatusCompleted)

	if final.Succeeded != 2 || final.Errored != 1 {
		t.Errorf("counts = %d succeeded %d errored, want 2/1", final.Succeeded, final.Errored)
	}
	outcome, err := env.outcomes.Get(context.Background(), j.ID, "bad.go")
	if err != nil {
		t.Fatal(err)
	}
	if outcome.Status != job.OutcomeError || outcome.ErrorDetail == "" {
		t.Errorf("outcome = %+v", outcome)
	}
}

func TestEmptyFileRecordedAsSkipped(t *testing.T) {
	env := newTestEnv(t, []string{"empty.txt"}, 5)
	env.processor.emitted = 0

	j := submit(t, env)
	final := waitForStatus(t, env, j.ID, job.StatusCompleted)
	if final.Skipped != 1 || final.Succeeded != 0 {
		t.Errorf("counts = %d skipped %d succeeded, want 1/0", final.Skipped, final.Succeeded)
	}
}

func TestSystemicFailureFailsJobAndKeepsBacklog(t *testing.T) {
	paths := []string{"a.go", "b.go", "c.go", "d.go"}
	env := newTestEnv(t, paths, 2)
	env.processor.setFailure("a.go", fmt.Errorf("store: %w", domain.ErrStorageUnavailable))
	env.processor.setFailure("b.go", fmt.Errorf("store: %w", domain.ErrStorageUnavailable))

	j := submit(t, env)
	final := waitForStatus(t, env, j.ID, job.StatusFailed)
	if final.LastError == "" {
		t.Error("LastError empty on systemic failure")
	}

	pending, err := env.queue.Pending(context.Background(), j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) == 0 {
		t.Error("failing chunk was acked")
	}

	// No error outcome for systemically failed files: resume retries them.
	outcome, err := env.outcomes.Get(context.Background(), j.ID, "a.go")
	if err != nil {
		t.Fatal(err)
	}
	if outcome != nil {
		t.Error("systemic failure recorded as file outcome")
	}
}

func TestCredentialDegradationPausesJob(t *testing.T) {
	paths := []string{"a.go", "b.go", "c.go", "d.go"}
	env := newTestEnv(t, paths, 2)
	env.processor.setFailure("a.go", fmt.Errorf("embed: %w", domain.ErrCircuitOpen))
	env.processor.setFailure("b.go", fmt.Errorf("embed: %w", domain.ErrCircuitOpen))

	j := submit(t, env)
	paused := waitForStatus(t, env, j.ID, job.StatusPaused)
	if paused.LastError == "" {
		t.Error("LastError empty on credential pause")
	}

	pending, err := env.queue.Pending(context.Background(), j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) == 0 {
		t.Error("degraded chunk was acked")
	}
	outcome, err := env.outcomes.Get(context.Background(), j.ID, "a.go")
	if err != nil {
		t.Fatal(err)
	}
	if outcome != nil {
		t.Error("credential degradation recorded as file outcome")
	}

	// Credentials recover: the paused job resumes to completion.
	env.processor.setFailure("a.go", nil)
	env.processor.setFailure("b.go", nil)
	if _, err := env.orch.Resume(context.Background(), j.ID); err != nil {
		t.Fatal(err)
	}
	final := waitForStatus(t, env, j.ID, job.StatusCompleted)
	if final.Succeeded != 4 {
		t.Errorf("Succeeded = %d, want 4", final.Succeeded)
	}
}

func TestResume_RetriesOnlyUnfinishedFiles(t *testing.T) {
	paths := []string{"a.go", "b.go", "c.go", "d.go"}
	env := newTestEnv(t, paths, 2)
	env.processor.setFailure("c.go", fmt.Errorf("token: %w", domain.ErrCredentialUnavailable))
	env.processor.setFailure("d.go", fmt.Errorf("token: %w", domain.ErrCredentialUnavailable))

	j := submit(t, env)
	waitForStatus(t, env, j.ID, job.StatusPaused)

	env.processor.setFailure("c.go", nil)
	env.processor.setFailure("d.go", nil)

	if _, err := env.orch.Resume(context.Background(), j.ID); err != nil {
		t.Fatal(err)
	}
	final := waitForStatus(t, env, j.ID, job.StatusCompleted)
	if final.Succeeded != 4 {
		t.Errorf("Succeeded = %d, want 4", final.Succeeded)
	}

	// Files that succeeded before the failure are not reprocessed.
	if got := env.processor.callCount("a.go"); got != 1 {
		t.Errorf("a.go processed %d times, want 1", got)
	}
	if got := env.processor.callCount("c.go"); got != 2 {
		t.Errorf("c.go processed %d times, want 2", got)
	}
}

func TestResume_CompletedIsNoop(t *testing.T) {
	env := newTestEnv(t, []string{"a.go"}, 5)
	j := submit(t, env)
	waitForStatus(t, env, j.ID, job.StatusCompleted)
	calls := env.processor.callCount("a.go")

	resumed, err := env.orch.Resume(context.Background(), j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if resumed.Status != job.StatusCompleted {
		t.Errorf("status = %q", resumed.Status)
	}
	time.Sleep(20 * time.Millisecond)
	if got := env.processor.callCount("a.go"); got != calls {
		t.Errorf("completed job reprocessed files: %d calls", got)
	}
}

func TestResume_RunningJobRejected(t *testing.T) {
	env := newTestEnv(t, []string{"a.go", "b.go"}, 2)
	env.processor.blockCtx = true

	j := submit(t, env)
	_, err := env.orch.Status(context.Background(), j.ID)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := env.orch.Resume(context.Background(), j.ID); !errors.Is(err, domain.ErrJobRunning) {
		t.Fatalf("error = %v, want ErrJobRunning", err)
	}
	if err := env.orch.Cancel(context.Background(), j.ID); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, env, j.ID, job.StatusPaused)
}

func TestCancel_PausesAndStaysResumable(t *testing.T) {
	paths := []string{"a.go", "b.go", "c.go", "d.go"}
	env := newTestEnv(t, paths, 2)
	env.processor.blockCtx = true

	j := submit(t, env)
	waitForStatus(t, env, j.ID, job.StatusRunning)
	if err := env.orch.Cancel(context.Background(), j.ID); err != nil {
		t.Fatal(err)
	}
	waitForStatus(t, env, j.ID, job.StatusPaused)

	pending, err := env.queue.Pending(context.Background(), j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) == 0 {
		t.Error("cancelled chunk was acked")
	}

	env.processor.mu.Lock()
	env.processor.blockCtx = false
	env.processor.mu.Unlock()

	if _, err := env.orch.Resume(context.Background(), j.ID); err != nil {
		t.Fatal(err)
	}
	final := waitForStatus(t, env, j.ID, job.StatusCompleted)
	if final.Succeeded != 4 {
		t.Errorf("Succeeded = %d, want 4", final.Succeeded)
	}
}

func TestCancel_TerminalJobRejected(t *testing.T) {
	env := newTestEnv(t, []string{"a.go"}, 5)
	j := submit(t, env)
	waitForStatus(t, env, j.ID, job.StatusCompleted)

	if err := env.orch.Cancel(context.Background(), j.ID); !errors.Is(err, domain.ErrJobTerminal) {
		t.Fatalf("error = %v, want ErrJobTerminal", err)
	}
}

func TestEvents_SnapshotThenCompletion(t *testing.T) {
	env := newTestEnv(t, []string{"a.go", "b.go"}, 1)
	j := submit(t, env)
	waitForStatus(t, env, j.ID, job.StatusCompleted)

	ch, cancel := env.orch.Events(j.ID)
	defer cancel()
	select {
	case p := <-ch:
		if p.Status != job.StatusCompleted || p.Processed != 2 {
			t.Errorf("snapshot = %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot for finished job")
	}
}

func TestEvents_EmittedPerFile(t *testing.T) {
	env := newTestEnv(t, []string{"a.go", "b.go", "c.go", "d.go"}, 4)
	gate := make(chan struct{})
	env.processor.gate = gate

	j := submit(t, env)
	ch, cancel := env.orch.Events(j.ID)
	defer cancel()
	for i := 0; i < 4; i++ {
		gate <- struct{}{}
	}

	seen := make(map[int]bool)
	deadline := time.After(5 * time.Second)
	for {
		select {
		case p := <-ch:
			seen[p.Processed] = true
			if p.Status == job.StatusCompleted {
				for want := 1; want <= 4; want++ {
					if !seen[want] {
						t.Errorf("no progress event with processed=%d", want)
					}
				}
				return
			}
		case <-deadline:
			t.Fatal("job never reported completion")
		}
	}
}

// Simulates a crash between chunks: a fresh orchestrator over the same
// durable state resumes at the checkpoint without redoing finished files.
func TestCrashRecovery_ResumesFromDurableState(t *testing.T) {
	paths := []string{"a.go", "b.go", "c.go", "d.go", "e.go", "f.go"}
	env := newTestEnv(t, paths, 2)
	env.processor.setFailure("e.go", fmt.Errorf("store: %w", domain.ErrStorageUnavailable))
	env.processor.setFailure("f.go", fmt.Errorf("store: %w", domain.ErrStorageUnavailable))

	j := submit(t, env)
	waitForStatus(t, env, j.ID, job.StatusFailed)

	cp, err := env.checkpoints.Load(context.Background(), j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cp.NextIndex != 4 {
		t.Fatalf("checkpoint NextIndex = %d, want 4", cp.NextIndex)
	}

	// New orchestrator instance over the same stores, as after a restart.
	proc2 := newMockProcessor()
	orch2, err := New(
		env.jobs, env.outcomes, env.checkpoints, env.queue,
		proc2,
		&staticDiscoverer{paths: paths},
		NewBroker(),
		Options{ChunkSize: 2, Workers: 2},
		zap.NewNop(),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		orch2.Shutdown(ctx)
	}()

	if _, err := orch2.Resume(context.Background(), j.ID); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		got, err := orch2.Status(context.Background(), j.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Status == job.StatusCompleted {
			if got.Succeeded != 6 {
				t.Errorf("Succeeded = %d, want 6", got.Succeeded)
			}
			if proc2.callCount("a.go") != 0 {
				t.Error("finished file reprocessed after restart")
			}
			if proc2.callCount("e.go") != 1 {
				t.Errorf("e.go processed %d times after restart, want 1", proc2.callCount("e.go"))
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job never completed after restart")
}
