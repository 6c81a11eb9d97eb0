package pipeline

import (
	"context"

	"github.com/harrison/deploypilot/internal/models"
)

// IntegrationPlan describes how a recommendation integrates into the
// target codebase.
type IntegrationPlan struct {
	Strategy    string   // "new_file" or "modify_existing"
	TargetPaths []string // Files the implementation will touch
	Notes       string   // Free-form analyzer notes passed to the implementer
}

// GeneratedFile is one file produced by the code implementer.
type GeneratedFile struct {
	Path    string
	Content []byte
}

// TestRunResult is the outcome of generating and executing tests.
type TestRunResult struct {
	Passed         bool
	TestCount      int
	FailureDetails string
	ReportPath     string
}

// BranchRef identifies a local branch with a commit on it.
type BranchRef struct {
	Name   string
	Commit string
}

// PublishedRef identifies a pushed branch and its review request.
type PublishedRef struct {
	Branch    string
	ReviewURL string
}

// StructureMapper resolves where in the codebase a recommendation lands.
type StructureMapper interface {
	Map(ctx context.Context, rec models.Recommendation) ([]string, error)
}

// IntegrationAnalyzer decides the integration strategy and detects
// conflicting concurrent changes.
type IntegrationAnalyzer interface {
	Analyze(ctx context.Context, rec models.Recommendation, targetPaths []string) (IntegrationPlan, []string, error)
}

// CodeImplementer requests code generation for a recommendation. The
// returned cost is attributed to the attempt.
type CodeImplementer interface {
	Implement(ctx context.Context, rec models.Recommendation, plan IntegrationPlan) ([]GeneratedFile, float64, error)
}

// TestGenerator generates tests for the produced files and runs them.
type TestGenerator interface {
	GenerateAndRun(ctx context.Context, files []GeneratedFile) (TestRunResult, error)
}

// VersionControlClient performs branch/commit/publish operations.
type VersionControlClient interface {
	CreateBranchCommit(ctx context.Context, attemptID string, files []GeneratedFile, message string) (BranchRef, error)
	PushAndPublish(ctx context.Context, branch BranchRef, summary string) (PublishedRef, error)
}

// Collaborators bundles every external operation the pipeline consumes.
type Collaborators struct {
	Mapper      StructureMapper
	Analyzer    IntegrationAnalyzer
	Implementer CodeImplementer
	Tester      TestGenerator
	VCS         VersionControlClient
}

// AuditLog records every attempt transition durably. Implemented by the
// store package; a nil-safe no-op is used in tests.
type AuditLog interface {
	RecordTransition(ctx context.Context, att *models.DeploymentAttempt) error
}

// Safety is the slice of the safety manager the pipeline needs: the
// pre-mutation check with file lock acquisition, backups, rollback, and
// lock release at terminal stages. The circuit breaker stays with the
// orchestrator since it gates item starts, not stages.
type Safety interface {
	PreCheck(ctx context.Context, rec models.Recommendation, attemptID string, targets []string) error
	Snapshot(ctx context.Context, attemptID string, paths []string) error
	Rollback(ctx context.Context, attemptID string) error
	Release(attemptID string)
}

// Logger is the minimal logging surface used by the pipeline and
// orchestrator. Satisfied by logger.ConsoleLogger.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}
