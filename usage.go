package repodex

import (
	"context"
	"fmt"
	"time"
)

// UsageReport contains embedding usage counters for one index job.
type UsageReport struct {
	JobID        string
	PromptTokens int64
	TotalTokens  int64
	CacheHits    int64
	CacheMisses  int64
}

// Usage returns the embedding usage report for the given job. Counters
// for a job that never recorded usage read as zero.
func (c *Client) Usage(ctx context.Context, jobID string) (report *UsageReport, err error) {
	start := time.Now()
	defer func() { c.obs.observe("usage", start, err) }()

	r, err := c.usageSvc.GetReport(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("usage report: %w", err)
	}
	return &UsageReport{
		JobID:        r.JobID,
		PromptTokens: r.PromptTokens,
		TotalTokens:  r.TotalTokens,
		CacheHits:    r.CacheHits,
		CacheMisses:  r.CacheMisses,
	}, nil
}
