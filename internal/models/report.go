package models

import "time"

// DeploymentReport is the aggregated summary of one pipeline run. It is
// built incrementally by the orchestrator and never mutated after being
// returned. Items preserve resolver order regardless of completion order.
type DeploymentReport struct {
	RunID               string
	Total               int
	Succeeded           int
	Failed              int
	Skipped             int
	RolledBack          int
	PartiallySucceeded  int // Subset of Succeeded where publish failed after commit
	CircuitBreakerTrips int
	Duration            time.Duration
	TotalCostUSD        float64
	Items               []DeploymentAttempt
}

// Add appends a finalized attempt and updates the counters.
func (r *DeploymentReport) Add(att DeploymentAttempt) {
	r.Total++
	switch att.Status {
	case StatusSucceeded:
		r.Succeeded++
		if att.PartialPublish {
			r.PartiallySucceeded++
		}
	case StatusFailed:
		r.Failed++
	case StatusSkipped:
		r.Skipped++
	case StatusRolledBack:
		r.RolledBack++
	}
	r.TotalCostUSD += att.CostUSD
	r.Items = append(r.Items, att)
}

// Accounted reports whether every input recommendation is counted exactly
// once across the four final statuses.
func (r *DeploymentReport) Accounted() bool {
	return r.Succeeded+r.Failed+r.Skipped+r.RolledBack == r.Total
}
