// Package collab provides the default concrete backends for the
// pipeline's collaborator interfaces: a hint-based structure mapper, a
// local integration analyzer, a payload-backed implementer, a
// command-based test runner, and a git version control client.
package collab

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner executes shell commands. It exists so tests can
// substitute a fake instead of spawning processes.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner runs commands with os/exec in a working directory.
type ExecRunner struct {
	WorkDir string
}

// Run executes the command and returns its combined output.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if r.WorkDir != "" {
		cmd.Dir = r.WorkDir
	}
	out, err := cmd.CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		if output != "" {
			return output, fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, output)
		}
		return output, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return output, nil
}
