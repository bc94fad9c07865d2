package listingsearch

import "context"

// HealthStatus represents the aggregated system health.
type HealthStatus struct {
	Status         string // "ok", "degraded", "error"
	IndexAvailable bool
	StoreAvailable bool
	DocumentCount  int64
	Checks         map[string]string // component -> "ok"/"error"
}

// Health checks the index and the canonical store.
func (c *Client) Health(ctx context.Context) HealthStatus {
	report := c.healthSvc.Check(ctx)
	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}
	return HealthStatus{
		Status:         string(report.Status),
		IndexAvailable: report.IndexAvailable,
		StoreAvailable: report.StoreAvailable,
		DocumentCount:  report.DocumentCount,
		Checks:         checks,
	}
}
