package sdk

import (
	"context"
	"net/http"
)

// Submit starts indexing a repository snapshot. The returned job is in
// status pending or running; poll Job or stream the events endpoint for
// progress.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodPost, "/jobs", req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Job returns the current state of one job.
func (c *Client) Job(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodGet, "/jobs/"+jobID, nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Jobs lists all known jobs.
func (c *Client) Jobs(ctx context.Context) ([]Job, error) {
	var out struct {
		Items []Job `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/jobs", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Outcomes lists the per-file records of a job.
func (c *Client) Outcomes(ctx context.Context, jobID string) ([]Outcome, error) {
	var out struct {
		Items []Outcome `json:"items"`
	}
	if err := c.do(ctx, http.MethodGet, "/jobs/"+jobID+"/outcomes", nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Usage returns the embedding usage counters of a job.
func (c *Client) Usage(ctx context.Context, jobID string) (*Usage, error) {
	var usage Usage
	if err := c.do(ctx, http.MethodGet, "/jobs/"+jobID+"/usage", nil, &usage); err != nil {
		return nil, err
	}
	return &usage, nil
}

// Resume restarts a paused or failed job from its checkpoint.
func (c *Client) Resume(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodPost, "/jobs/"+jobID+"/resume", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// Cancel pauses a running job. The job stays resumable.
func (c *Client) Cancel(ctx context.Context, jobID string) (*Job, error) {
	var job Job
	if err := c.do(ctx, http.MethodPost, "/jobs/"+jobID+"/cancel", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}
