package parser

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/harrison/deploypilot/internal/models"
)

// yamlRecommendation mirrors one list entry in a YAML recommendation
// document.
type yamlRecommendation struct {
	ID        string         `yaml:"id"`
	Title     string         `yaml:"title"`
	DependsOn []string       `yaml:"depends_on"`
	Priority  int            `yaml:"priority"`
	Target    string         `yaml:"target"`
	Payload   map[string]any `yaml:"payload"`
}

type yamlDocument struct {
	Recommendations []yamlRecommendation `yaml:"recommendations"`
}

// ParseYAML parses a YAML recommendation document. Both a bare list and a
// document with a top-level "recommendations" key are accepted.
func ParseYAML(data []byte) ([]models.Recommendation, error) {
	var doc yamlDocument
	if err := yaml.Unmarshal(data, &doc); err != nil || len(doc.Recommendations) == 0 {
		var bare []yamlRecommendation
		if berr := yaml.Unmarshal(data, &bare); berr != nil {
			if err != nil {
				return nil, fmt.Errorf("invalid YAML: %w", err)
			}
			return nil, fmt.Errorf("invalid YAML: %w", berr)
		}
		doc.Recommendations = bare
	}

	recs := make([]models.Recommendation, 0, len(doc.Recommendations))
	for i, y := range doc.Recommendations {
		rec := models.Recommendation{
			ID:         y.ID,
			Title:      y.Title,
			DependsOn:  y.DependsOn,
			Priority:   y.Priority,
			TargetHint: y.Target,
			Payload:    y.Payload,
		}
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("recommendation %d: %w", i+1, err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}
