package repodex

import (
	"context"
	"time"
)

// HealthStatus represents the aggregated store health as seen from the client.
type HealthStatus struct {
	Status string            // "ok" or "degraded"
	Checks map[string]string // component name to "ok"/"error"
}

// Health checks the components reachable from the client. Embedding
// provider and credential health belong to the server and are not
// reported here.
func (c *Client) Health(ctx context.Context) HealthStatus {
	start := time.Now()
	defer func() { c.obs.observe("health", start, nil) }()

	report := c.healthSvc.Check(ctx)
	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}
	return HealthStatus{
		Status: string(report.Status),
		Checks: checks,
	}
}
