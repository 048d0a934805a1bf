package domain

import "time"

// Project is the tenant unit errors are ingested into. APIKey is the public
// identifier; SecurityKey is the shared secret and must never leave
// owner-authenticated responses.
type Project struct {
	ID          string
	OwnerID     string
	Name        string
	TechStack   string
	APIKey      string
	SecurityKey string
	CreatedAt   time.Time
}

// ProjectStats aggregates error counts for dashboard summaries.
type ProjectStats struct {
	TotalErrors       int
	ErrorsLast24Hours int
	OpenErrors        int
	ResolvedErrors    int
}

// ResolvePercentage reports resolved errors as a share of the total.
func (s ProjectStats) ResolvePercentage() float64 {
	if s.TotalErrors == 0 {
		return 0
	}
	return float64(s.ResolvedErrors) * 100 / float64(s.TotalErrors)
}
