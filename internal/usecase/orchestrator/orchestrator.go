// Package orchestrator drives index jobs chunk by chunk: it owns the job
// lifecycle, dispatches files to the worker pool, and is the sole writer of
// outcomes and checkpoints. Crash recovery replays the durable chunk queue
// and skips files that already succeeded.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kailas-cloud/repodex/internal/domain"
	"github.com/kailas-cloud/repodex/internal/domain/job"
	"github.com/kailas-cloud/repodex/internal/metrics"
	"github.com/kailas-cloud/repodex/internal/usecase/process"
)

// Options configures the orchestrator.
type Options struct {
	// ChunkSize is the number of files per dispatch unit.
	ChunkSize int
	// Workers caps concurrent file processing across all jobs.
	Workers int
}

// SubmitRequest describes a new index job.
type SubmitRequest struct {
	// RepositoryRef is the filesystem root of the repository snapshot.
	RepositoryRef string
	RepoID        string
	Commit        string
	// ChunkSize overrides the configured files-per-chunk for this job.
	// Zero keeps the default.
	ChunkSize int
}

// Orchestrator manages index jobs end to end.
type Orchestrator struct {
	jobs        JobStore
	outcomes    OutcomeStore
	checkpoints CheckpointStore
	queue       ChunkQueue
	processor   FileProcessor
	discoverer  Discoverer
	pool        *ants.Pool
	broker      *Broker
	logger      *zap.Logger
	chunkSize   int

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an orchestrator with its own worker pool.
func New(
	jobs JobStore,
	outcomes OutcomeStore,
	checkpoints CheckpointStore,
	queue ChunkQueue,
	processor FileProcessor,
	discoverer Discoverer,
	broker *Broker,
	opts Options,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.ChunkSize < 1 {
		opts.ChunkSize = job.DefaultChunkSize
	}

	pool, err := ants.NewPool(opts.Workers)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	return &Orchestrator{
		jobs:        jobs,
		outcomes:    outcomes,
		checkpoints: checkpoints,
		queue:       queue,
		processor:   processor,
		discoverer:  discoverer,
		pool:        pool,
		broker:      broker,
		logger:      logger,
		chunkSize:   opts.ChunkSize,
		running:     make(map[string]context.CancelFunc),
	}, nil
}

// Submit enumerates the repository, persists the job with its chunk backlog
// and initial checkpoint, and starts processing asynchronously.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*job.IndexJob, error) {
	if req.RepositoryRef == "" || req.RepoID == "" || req.Commit == "" {
		return nil, fmt.Errorf("%w: repository_ref, repo_id and commit are required", domain.ErrInvalidRequest)
	}

	paths, err := o.discoverer.Discover(req.RepositoryRef)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrRepositoryUnreadable, err.Error())
	}

	size := req.ChunkSize
	if size < 1 {
		size = o.chunkSize
	}

	j := &job.IndexJob{
		ID:            uuid.NewString(),
		RepositoryRef: req.RepositoryRef,
		RepoID:        req.RepoID,
		Commit:        req.Commit,
		Status:        job.StatusPending,
		TotalFiles:    len(paths),
		ChunkSize:     size,
		CreatedAt:     time.Now().UTC(),
	}
	if err := o.jobs.Save(ctx, j); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	chunks := job.Partition(j.ID, paths, size)
	if err := o.queue.Enqueue(ctx, chunks); err != nil {
		return nil, fmt.Errorf("enqueue chunks: %w", err)
	}
	if err := o.checkpoints.Save(ctx, &job.Checkpoint{
		JobID:           j.ID,
		ProcessingOrder: paths,
		NextIndex:       0,
	}); err != nil {
		return nil, fmt.Errorf("save checkpoint: %w", err)
	}

	o.logger.Info("Job submitted",
		zap.String("job_id", j.ID),
		zap.String("repo_id", j.RepoID),
		zap.String("commit", j.Commit),
		zap.Int("total_files", j.TotalFiles),
		zap.Int("chunks", len(chunks)))

	if err := o.start(j.ID); err != nil {
		return nil, err
	}
	return j, nil
}

// Status returns the job with counters refreshed from recorded outcomes.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*job.IndexJob, error) {
	j, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	succeeded, errored, skipped, err := o.outcomes.Tally(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("tally outcomes: %w", err)
	}
	j.Succeeded, j.Errored, j.Skipped = succeeded, errored, skipped
	return j, nil
}

// List returns all known jobs, newest first.
func (o *Orchestrator) List(ctx context.Context) ([]*job.IndexJob, error) {
	return o.jobs.List(ctx)
}

// Outcomes returns the recorded per-file outcomes of a job.
func (o *Orchestrator) Outcomes(ctx context.Context, jobID string) ([]*job.FileOutcome, error) {
	if _, err := o.jobs.Get(ctx, jobID); err != nil {
		return nil, err
	}
	return o.outcomes.List(ctx, jobID)
}

// Resume restarts a paused or failed job from its durable state. Resuming a
// completed job is a no-op. A running job returns ErrJobRunning.
func (o *Orchestrator) Resume(ctx context.Context, jobID string) (*job.IndexJob, error) {
	j, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Status == job.StatusCompleted {
		return j, nil
	}
	if o.isRunning(jobID) {
		return nil, domain.ErrJobRunning
	}

	j.Status = job.StatusPending
	j.LastError = ""
	if err := o.jobs.Save(ctx, j); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}
	if err := o.start(jobID); err != nil {
		return nil, err
	}
	return j, nil
}

// Cancel stops dispatch for a job. The job lands in paused and stays
// resumable. Cancelling a terminal job returns ErrJobTerminal.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	j, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if j.Status.Terminal() {
		return domain.ErrJobTerminal
	}

	o.mu.Lock()
	cancel, running := o.running[jobID]
	o.mu.Unlock()
	if running {
		cancel()
		return nil
	}

	j.Status = job.StatusPaused
	if err := o.jobs.Save(ctx, j); err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	o.publish(j)
	return nil
}

// Events subscribes to progress updates for a job, snapshot first.
func (o *Orchestrator) Events(jobID string) (<-chan job.Progress, func()) {
	return o.broker.Subscribe(jobID)
}

// Shutdown cancels all running jobs and waits for their loops to exit or the
// context to expire, then releases the worker pool.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	for _, cancel := range o.running {
		cancel()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	o.pool.Release()
	return err
}

func (o *Orchestrator) isRunning(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.running[jobID]
	return ok
}

func (o *Orchestrator) start(jobID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.running[jobID]; ok {
		return domain.ErrJobRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.running[jobID] = cancel
	o.wg.Add(1)
	go o.run(ctx, jobID)
	return nil
}

// run is the per-job dispatch loop. It is the only goroutine that writes
// outcomes, checkpoints and the job record while the job runs.
func (o *Orchestrator) run(ctx context.Context, jobID string) {
	defer o.wg.Done()
	defer func() {
		o.mu.Lock()
		if cancel, ok := o.running[jobID]; ok {
			cancel()
			delete(o.running, jobID)
		}
		o.mu.Unlock()
	}()

	log := o.logger.With(zap.String("job_id", jobID))
	bg := context.Background()

	j, err := o.jobs.Get(bg, jobID)
	if err != nil {
		log.Error("Load job failed", zap.Error(err))
		return
	}

	j.Status = job.StatusRunning
	if err := o.jobs.Save(bg, j); err != nil {
		log.Error("Save job failed", zap.Error(err))
		return
	}
	o.publish(j)

	cp, err := o.checkpoints.Load(bg, jobID)
	if err != nil {
		o.fail(j, fmt.Errorf("load checkpoint: %w", err), log)
		return
	}
	if cp == nil {
		o.fail(j, fmt.Errorf("no checkpoint for job %s", jobID), log)
		return
	}
	succeeded, err := o.outcomes.SucceededPaths(bg, jobID)
	if err != nil {
		o.fail(j, fmt.Errorf("load succeeded paths: %w", err), log)
		return
	}
	pending, err := o.queue.Pending(bg, jobID)
	if err != nil {
		o.fail(j, fmt.Errorf("load pending chunks: %w", err), log)
		return
	}

	for _, chunk := range pending {
		if ctx.Err() != nil {
			o.pause(j, log)
			return
		}

		if err := o.processChunk(ctx, j, chunk, succeeded); err != nil {
			if errors.Is(err, context.Canceled) {
				o.pause(j, log)
				return
			}
			if isCredentialDegraded(err) {
				// Credentials will recover; keep the job resumable
				// instead of burning it to failed.
				j.LastError = err.Error()
				o.pause(j, log)
				return
			}
			o.fail(j, err, log)
			return
		}

		// The chunk is fully accounted for: advance the cursor, then
		// drop the chunk from the backlog. A crash between the two
		// redispatches the chunk; succeeded files are skipped on replay.
		cp.NextIndex = chunk.Index*j.ChunkSize + len(chunk.FilePaths)
		if err := o.checkpoints.Save(bg, cp); err != nil {
			o.fail(j, fmt.Errorf("advance checkpoint: %w", err), log)
			return
		}
		if err := o.queue.Ack(bg, jobID, chunk.Index); err != nil {
			o.fail(j, fmt.Errorf("ack chunk %d: %w", chunk.Index, err), log)
			return
		}

		if err := o.refreshCounts(bg, j); err != nil {
			o.fail(j, err, log)
			return
		}
		o.publish(j)
		log.Debug("Chunk completed",
			zap.Int("chunk_index", chunk.Index),
			zap.Int("processed", j.Processed()),
			zap.Int("total", j.TotalFiles))
	}

	if err := o.refreshCounts(bg, j); err != nil {
		o.fail(j, err, log)
		return
	}
	now := time.Now().UTC()
	j.Status = job.StatusCompleted
	j.CompletedAt = &now
	if err := o.jobs.Save(bg, j); err != nil {
		log.Error("Save completed job failed", zap.Error(err))
		return
	}
	o.publish(j)
	metrics.IndexJobsTotal.WithLabelValues(string(job.StatusCompleted)).Inc()
	log.Info("Job completed",
		zap.Int("succeeded", j.Succeeded),
		zap.Int("errored", j.Errored),
		zap.Int("skipped", j.Skipped))
}

type fileResult struct {
	path    string
	emitted int
	err     error
}

// processChunk dispatches the chunk's unfinished files to the pool and
// records one durable outcome per result. A systemic failure aborts the
// chunk without acking it; per-file failures are recorded and isolated.
func (o *Orchestrator) processChunk(
	ctx context.Context,
	j *job.IndexJob,
	chunk job.FileChunk,
	succeeded map[string]struct{},
) error {
	results := make(chan fileResult, len(chunk.FilePaths))
	dispatched := 0

	for _, path := range chunk.FilePaths {
		if _, done := succeeded[path]; done {
			continue
		}
		spec := process.FileSpec{
			JobID:  j.ID,
			Root:   j.RepositoryRef,
			RepoID: j.RepoID,
			Commit: j.Commit,
			Path:   path,
		}
		if err := o.pool.Submit(func() {
			emitted, err := o.processor.ProcessFile(ctx, spec)
			results <- fileResult{path: spec.Path, emitted: emitted, err: err}
		}); err != nil {
			return fmt.Errorf("submit to pool: %w", err)
		}
		dispatched++
	}

	var systemic error
	for i := 0; i < dispatched; i++ {
		r := <-results
		if r.err != nil {
			if errors.Is(r.err, context.Canceled) {
				// Cancelled mid-flight: no outcome, the chunk stays
				// queued and the file is retried on resume.
				systemic = context.Canceled
				continue
			}
			if isSystemic(r.err) {
				if systemic == nil || !errors.Is(systemic, context.Canceled) {
					systemic = r.err
				}
				continue
			}
			if err := o.recordOutcome(j.ID, &job.FileOutcome{
				JobID:       j.ID,
				FilePath:    r.path,
				Status:      job.OutcomeError,
				ErrorDetail: r.err.Error(),
			}); err != nil {
				return err
			}
			metrics.IndexFilesTotal.WithLabelValues(string(job.OutcomeError)).Inc()
			j.Errored++
			o.publish(j)
			continue
		}

		status := job.OutcomeSuccess
		if r.emitted == 0 {
			status = job.OutcomeSkipped
		}
		if err := o.recordOutcome(j.ID, &job.FileOutcome{
			JobID:           j.ID,
			FilePath:        r.path,
			Status:          status,
			EntitiesEmitted: r.emitted,
		}); err != nil {
			return err
		}
		metrics.IndexFilesTotal.WithLabelValues(string(status)).Inc()
		// Per-file counter bump so subscribers see progress inside a chunk.
		// A retried file re-upserting its outcome can overcount briefly;
		// the tally at the chunk boundary corrects it.
		if status == job.OutcomeSkipped {
			j.Skipped++
		} else {
			j.Succeeded++
		}
		o.publish(j)
		succeeded[r.path] = struct{}{}
	}
	return systemic
}

func (o *Orchestrator) recordOutcome(jobID string, outcome *job.FileOutcome) error {
	if err := o.outcomes.Record(context.Background(), outcome); err != nil {
		return fmt.Errorf("record outcome for %s: %w", outcome.FilePath, err)
	}
	if outcome.Status == job.OutcomeError {
		o.logger.Warn("File processing failed",
			zap.String("job_id", jobID),
			zap.String("path", outcome.FilePath),
			zap.String("detail", outcome.ErrorDetail))
	}
	return nil
}

func (o *Orchestrator) refreshCounts(ctx context.Context, j *job.IndexJob) error {
	succeeded, errored, skipped, err := o.outcomes.Tally(ctx, j.ID)
	if err != nil {
		return fmt.Errorf("tally outcomes: %w", err)
	}
	j.Succeeded, j.Errored, j.Skipped = succeeded, errored, skipped
	return nil
}

func (o *Orchestrator) pause(j *job.IndexJob, log *zap.Logger) {
	bg := context.Background()
	if err := o.refreshCounts(bg, j); err != nil {
		log.Error("Tally on pause failed", zap.Error(err))
	}
	j.Status = job.StatusPaused
	if err := o.jobs.Save(bg, j); err != nil {
		log.Error("Save paused job failed", zap.Error(err))
		return
	}
	o.publish(j)
	metrics.IndexJobsTotal.WithLabelValues(string(job.StatusPaused)).Inc()
	log.Info("Job paused", zap.Int("processed", j.Processed()), zap.Int("total", j.TotalFiles))
}

func (o *Orchestrator) fail(j *job.IndexJob, cause error, log *zap.Logger) {
	bg := context.Background()
	if err := o.refreshCounts(bg, j); err != nil {
		log.Error("Tally on failure failed", zap.Error(err))
	}
	j.Status = job.StatusFailed
	j.LastError = cause.Error()
	if err := o.jobs.Save(bg, j); err != nil {
		log.Error("Save failed job failed", zap.Error(err))
		return
	}
	o.publish(j)
	metrics.IndexJobsTotal.WithLabelValues(string(job.StatusFailed)).Inc()
	log.Error("Job failed", zap.Error(cause))
}

func (o *Orchestrator) publish(j *job.IndexJob) {
	o.broker.Publish(job.Progress{
		JobID:     j.ID,
		Processed: j.Processed(),
		Total:     j.TotalFiles,
		Status:    j.Status,
		LastError: j.LastError,
	})
}

// isSystemic reports whether err indicates a condition that will fail every
// remaining file, so the job should stop instead of burning the backlog.
func isSystemic(err error) bool {
	return errors.Is(err, domain.ErrCircuitOpen) ||
		errors.Is(err, domain.ErrCredentialUnavailable) ||
		errors.Is(err, domain.ErrStorageUnavailable)
}

// isCredentialDegraded reports whether err stems from credential
// degradation. Dispatch pauses until credentials recover; only storage
// conditions fail the job outright.
func isCredentialDegraded(err error) bool {
	return errors.Is(err, domain.ErrCircuitOpen) ||
		errors.Is(err, domain.ErrCredentialUnavailable)
}
