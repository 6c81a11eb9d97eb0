package collab

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/harrison/deploypilot/internal/models"
	"github.com/harrison/deploypilot/internal/pipeline"
)

// PayloadImplementer materializes file content embedded in the
// recommendation payload. It is the zero-dependency backend used when no
// code generation service is configured: recommendations carry a
// "content" map of path to file body.
type PayloadImplementer struct {
	RepoRoot string
}

// Implement returns the files declared by the recommendation payload.
// Payload-backed implementation has no generation cost.
func (i *PayloadImplementer) Implement(ctx context.Context, rec models.Recommendation, plan pipeline.IntegrationPlan) ([]pipeline.GeneratedFile, float64, error) {
	content, ok := rec.Payload["content"].(map[string]any)
	if !ok || len(content) == 0 {
		return nil, 0, &pipeline.ImplementationError{
			RecommendationID: rec.ID,
			Transient:        false,
			Err:              fmt.Errorf("payload carries no content map and no code generation service is configured"),
		}
	}

	files := make([]pipeline.GeneratedFile, 0, len(content))
	for path, body := range content {
		s, ok := body.(string)
		if !ok {
			return nil, 0, &pipeline.ImplementationError{
				RecommendationID: rec.ID,
				Transient:        false,
				Err:              fmt.Errorf("content for %s is not a string", path),
			}
		}
		files = append(files, pipeline.GeneratedFile{
			Path:    filepath.Join(i.RepoRoot, path),
			Content: []byte(s),
		})
	}
	return files, 0, nil
}
