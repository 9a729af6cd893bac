// Package usage accounts embedding spend and cache effectiveness per job.
// Counters live in the index store so they survive restarts and are shared
// across replicas.
package usage

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/kailas-cloud/repodex/internal/db"
	"github.com/kailas-cloud/repodex/internal/domain"
)

const keyPrefix = domain.KeyPrefix + "usage:"

const (
	fieldPromptTokens = "prompt_tokens"
	fieldTotalTokens  = "total_tokens"
	fieldCacheHits    = "cache_hits"
	fieldCacheMisses  = "cache_misses"
)

// Report is the accumulated usage of one job.
type Report struct {
	JobID        string `json:"job_id"`
	PromptTokens int64  `json:"prompt_tokens"`
	TotalTokens  int64  `json:"total_tokens"`
	CacheHits    int64  `json:"cache_hits"`
	CacheMisses  int64  `json:"cache_misses"`
}

// kv is the narrow store surface the tracker needs.
type kv interface {
	Get(ctx context.Context, key string) ([]byte, error)
	IncrBy(ctx context.Context, key string, val int64) error
}

// Tracker accumulates per-job usage counters.
type Tracker struct {
	store  kv
	logger *zap.Logger
}

// NewTracker creates a usage tracker backed by the index store.
func NewTracker(store kv, logger *zap.Logger) *Tracker {
	return &Tracker{store: store, logger: logger}
}

// RecordTokens adds embedding token counts for a job. Recording is
// best-effort: a store error is logged, never surfaced, so accounting can
// not fail a file.
func (t *Tracker) RecordTokens(ctx context.Context, jobID string, prompt, total int) {
	t.incr(ctx, jobID, fieldPromptTokens, int64(prompt))
	t.incr(ctx, jobID, fieldTotalTokens, int64(total))
}

// RecordCache adds embedding cache hit and miss counts for a job.
func (t *Tracker) RecordCache(ctx context.Context, jobID string, hits, misses int) {
	t.incr(ctx, jobID, fieldCacheHits, int64(hits))
	t.incr(ctx, jobID, fieldCacheMisses, int64(misses))
}

// GetReport returns the accumulated usage of a job. Counters that were never
// incremented read as zero.
func (t *Tracker) GetReport(ctx context.Context, jobID string) (*Report, error) {
	report := &Report{JobID: jobID}
	for _, c := range []struct {
		field string
		dst   *int64
	}{
		{fieldPromptTokens, &report.PromptTokens},
		{fieldTotalTokens, &report.TotalTokens},
		{fieldCacheHits, &report.CacheHits},
		{fieldCacheMisses, &report.CacheMisses},
	} {
		val, err := t.read(ctx, jobID, c.field)
		if err != nil {
			return nil, err
		}
		*c.dst = val
	}
	return report, nil
}

func (t *Tracker) incr(ctx context.Context, jobID, field string, delta int64) {
	if delta == 0 {
		return
	}
	if err := t.store.IncrBy(ctx, makeKey(jobID, field), delta); err != nil {
		t.logger.Warn("Usage increment failed",
			zap.String("job_id", jobID),
			zap.String("field", field),
			zap.Error(err))
	}
}

func (t *Tracker) read(ctx context.Context, jobID, field string) (int64, error) {
	raw, err := t.store.Get(ctx, makeKey(jobID, field))
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("read usage counter %s: %w", field, err)
	}
	val, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse usage counter %s: %w", field, err)
	}
	return val, nil
}

func makeKey(jobID, field string) string {
	return keyPrefix + jobID + ":" + field
}
