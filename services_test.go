package repodex

import (
	"context"
	"errors"
	"testing"

	healthuc "github.com/kailas-cloud/repodex/internal/usecase/health"
	usageuc "github.com/kailas-cloud/repodex/internal/usecase/usage"
)

type fakeUsage struct {
	report *usageuc.Report
	err    error
}

func (f *fakeUsage) GetReport(context.Context, string) (*usageuc.Report, error) {
	return f.report, f.err
}

func TestUsage_ReturnsCounters(t *testing.T) {
	c := &Client{usageSvc: &fakeUsage{report: &usageuc.Report{
		JobID:        "job-1",
		PromptTokens: 120,
		TotalTokens:  150,
		CacheHits:    8,
		CacheMisses:  2,
	}}}

	report, err := c.Usage(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.JobID != "job-1" {
		t.Errorf("job id = %q, want job-1", report.JobID)
	}
	if report.PromptTokens != 120 || report.TotalTokens != 150 {
		t.Errorf("tokens = %d/%d, want 120/150", report.PromptTokens, report.TotalTokens)
	}
	if report.CacheHits != 8 || report.CacheMisses != 2 {
		t.Errorf("cache = %d/%d, want 8/2", report.CacheHits, report.CacheMisses)
	}
}

func TestUsage_StoreError(t *testing.T) {
	wantErr := errors.New("store down")
	c := &Client{usageSvc: &fakeUsage{err: wantErr}}

	_, err := c.Usage(context.Background(), "job-1")
	if !errors.Is(err, wantErr) {
		t.Fatalf("error = %v, want wrapped %v", err, wantErr)
	}
}

type fakeHealth struct {
	report healthuc.Report
}

func (f *fakeHealth) Check(context.Context) healthuc.Report {
	return f.report
}

func TestHealth_MapsReport(t *testing.T) {
	c := &Client{healthSvc: &fakeHealth{report: healthuc.Report{
		Status: healthuc.Degraded,
		Checks: map[string]healthuc.CheckResult{
			"index_store": healthuc.CheckError,
		},
	}}}

	status := c.Health(context.Background())
	if status.Status != "degraded" {
		t.Errorf("status = %q, want degraded", status.Status)
	}
	if status.Checks["index_store"] != "error" {
		t.Errorf("index_store = %q, want error", status.Checks["index_store"])
	}
}
