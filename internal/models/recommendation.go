package models

import (
	"errors"
	"fmt"
)

// Recommendation represents a single proposed code change queued for
// deployment. Recommendations are produced by an external source and are
// immutable once loaded; the pipeline only reads them.
type Recommendation struct {
	ID         string         // Unique identifier (required)
	Title      string         // Human-readable title (required)
	DependsOn  []string       // IDs of recommendations that must deploy first
	Priority   int            // Higher priority is scheduled earlier among ready items
	TargetHint string         // Optional hint for the structure mapper (file or directory)
	Payload    map[string]any // Opaque payload passed through to collaborators
}

// Validate checks that the recommendation has all required fields.
func (r *Recommendation) Validate() error {
	if r.ID == "" {
		return errors.New("recommendation id is required")
	}
	if r.Title == "" {
		return fmt.Errorf("recommendation %s: title is required", r.ID)
	}
	for _, dep := range r.DependsOn {
		if dep == r.ID {
			return fmt.Errorf("recommendation %s: depends on itself", r.ID)
		}
		if dep == "" {
			return fmt.Errorf("recommendation %s: empty dependency id", r.ID)
		}
	}
	return nil
}
