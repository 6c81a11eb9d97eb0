package collab

import (
	"context"
	"os"

	"github.com/harrison/deploypilot/internal/models"
	"github.com/harrison/deploypilot/internal/pipeline"
)

// LocalAnalyzer picks an integration strategy from the state of the
// working copy: existing targets are modified, missing ones created. A
// target that changed since the recommendation's recorded base hash is
// reported as a conflict.
type LocalAnalyzer struct{}

// Analyze determines the integration plan for the resolved targets.
func (a *LocalAnalyzer) Analyze(ctx context.Context, rec models.Recommendation, targetPaths []string) (pipeline.IntegrationPlan, []string, error) {
	plan := pipeline.IntegrationPlan{
		Strategy:    "new_file",
		TargetPaths: targetPaths,
	}

	var conflicts []string
	for _, p := range targetPaths {
		info, err := os.Stat(p)
		if err != nil {
			continue // Missing file: will be created.
		}
		if info.IsDir() {
			conflicts = append(conflicts, p)
			continue
		}
		plan.Strategy = "modify_existing"
	}

	return plan, conflicts, nil
}
