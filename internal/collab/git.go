package collab

import (
	"context"
	"fmt"
	"strings"

	"github.com/harrison/deploypilot/internal/pipeline"
)

// GitClient implements the version control collaborator with git
// commands executed through a CommandRunner.
type GitClient struct {
	Runner CommandRunner
	Remote string // Remote name for pushes, default "origin"
}

// NewGitClient creates a GitClient pushing to origin.
func NewGitClient(runner CommandRunner) *GitClient {
	return &GitClient{Runner: runner, Remote: "origin"}
}

// CreateBranchCommit creates the branch, stages the generated files, and
// commits. The caller guarantees the branch name is unique per attempt.
func (g *GitClient) CreateBranchCommit(ctx context.Context, branchName string, files []pipeline.GeneratedFile, message string) (pipeline.BranchRef, error) {
	if _, err := g.Runner.Run(ctx, "git", "checkout", "-b", branchName); err != nil {
		return pipeline.BranchRef{}, fmt.Errorf("create branch %s: %w", branchName, err)
	}

	args := []string{"add", "--"}
	for _, f := range files {
		args = append(args, f.Path)
	}
	if _, err := g.Runner.Run(ctx, "git", args...); err != nil {
		return pipeline.BranchRef{}, fmt.Errorf("stage files on %s: %w", branchName, err)
	}

	if _, err := g.Runner.Run(ctx, "git", "commit", "-m", message); err != nil {
		return pipeline.BranchRef{}, fmt.Errorf("commit on %s: %w", branchName, err)
	}

	commit, err := g.Runner.Run(ctx, "git", "rev-parse", "HEAD")
	if err != nil {
		return pipeline.BranchRef{}, fmt.Errorf("read commit hash: %w", err)
	}

	return pipeline.BranchRef{
		Name:   branchName,
		Commit: strings.TrimSpace(commit),
	}, nil
}

// PushAndPublish pushes the branch to the remote. The review request URL
// is whatever the remote prints (forges emit a "create a pull request"
// hint on push); publishing via a forge API is a separate backend.
func (g *GitClient) PushAndPublish(ctx context.Context, branch pipeline.BranchRef, summary string) (pipeline.PublishedRef, error) {
	remote := g.Remote
	if remote == "" {
		remote = "origin"
	}

	output, err := g.Runner.Run(ctx, "git", "push", "--set-upstream", remote, branch.Name)
	if err != nil {
		return pipeline.PublishedRef{}, fmt.Errorf("push %s: %w", branch.Name, err)
	}

	return pipeline.PublishedRef{
		Branch:    branch.Name,
		ReviewURL: extractReviewURL(output),
	}, nil
}

func extractReviewURL(output string) string {
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "remote:"))
		if strings.HasPrefix(trimmed, "https://") || strings.HasPrefix(trimmed, "http://") {
			return trimmed
		}
	}
	return ""
}
