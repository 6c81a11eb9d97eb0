package collab

import (
	"context"
	"strings"

	"github.com/harrison/deploypilot/internal/pipeline"
)

// CommandTestRunner validates generated files by running a configured
// test command (e.g. "go test ./..." or "npm test"). An empty command
// passes trivially with zero tests, which keeps dry runs useful on repos
// without a harness.
type CommandTestRunner struct {
	Runner  CommandRunner
	Command []string
}

// GenerateAndRun executes the configured test command against the
// working copy containing the generated files.
func (t *CommandTestRunner) GenerateAndRun(ctx context.Context, files []pipeline.GeneratedFile) (pipeline.TestRunResult, error) {
	if len(t.Command) == 0 {
		return pipeline.TestRunResult{Passed: true, TestCount: 0}, nil
	}

	output, err := t.Runner.Run(ctx, t.Command[0], t.Command[1:]...)
	if err != nil {
		// A non-zero exit is a test failure, not a harness error: the
		// command ran and reported failing tests.
		return pipeline.TestRunResult{
			Passed:         false,
			TestCount:      countTestLines(output),
			FailureDetails: output,
		}, nil
	}

	return pipeline.TestRunResult{
		Passed:    true,
		TestCount: countTestLines(output),
	}, nil
}

// countTestLines gives a rough test count from harness output. Exact
// counts are cosmetic; the pass/fail verdict is what gates the pipeline.
func countTestLines(output string) int {
	count := 0
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "--- PASS") || strings.HasPrefix(trimmed, "--- FAIL") ||
			strings.HasPrefix(trimmed, "ok ") || strings.HasPrefix(trimmed, "PASS") || strings.HasPrefix(trimmed, "FAIL") {
			count++
		}
	}
	return count
}
