package collab

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/harrison/deploypilot/internal/models"
)

// HintMapper resolves target files from the recommendation itself: an
// explicit "files" payload list wins, then the target hint, relative to
// the repository root.
type HintMapper struct {
	RepoRoot string
}

// Map returns the target paths for the recommendation.
func (m *HintMapper) Map(ctx context.Context, rec models.Recommendation) ([]string, error) {
	var targets []string

	if files, ok := rec.Payload["files"].([]any); ok {
		for _, f := range files {
			if s, ok := f.(string); ok && s != "" {
				targets = append(targets, filepath.Join(m.RepoRoot, s))
			}
		}
	}
	if len(targets) == 0 && rec.TargetHint != "" {
		targets = append(targets, filepath.Join(m.RepoRoot, rec.TargetHint))
	}

	if len(targets) == 0 {
		return nil, fmt.Errorf("recommendation %s declares no target files", rec.ID)
	}
	return targets, nil
}
