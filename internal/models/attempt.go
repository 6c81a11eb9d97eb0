package models

import "time"

// Stage is a discrete step in the per-item deployment state machine.
// Stages only advance forward; the only permitted regressions are the
// terminal failure markers StageFailed and StageRolledBack.
type Stage int

const (
	// StagePending means the attempt has been created but not started.
	StagePending Stage = iota
	// StageMapped means target files/directories have been resolved.
	StageMapped
	// StageAnalyzed means the integration strategy has been determined.
	StageAnalyzed
	// StageImplemented means generated code has been written to disk.
	StageImplemented
	// StageTestsGenerated means tests have been generated for the change.
	StageTestsGenerated
	// StageTestsPassed means the generated tests executed successfully.
	StageTestsPassed
	// StageVersionControlled means a branch was created and the change committed.
	StageVersionControlled
	// StagePublished means the branch was pushed and a review request opened.
	StagePublished
	// StageDone is the successful terminal stage.
	StageDone
	// StageFailed is the terminal failure marker.
	StageFailed
	// StageRolledBack means the attempt failed and its file mutations were reverted.
	StageRolledBack
)

// String returns the snake_case name of the stage.
func (s Stage) String() string {
	switch s {
	case StagePending:
		return "pending"
	case StageMapped:
		return "mapped"
	case StageAnalyzed:
		return "analyzed"
	case StageImplemented:
		return "implemented"
	case StageTestsGenerated:
		return "tests_generated"
	case StageTestsPassed:
		return "tests_passed"
	case StageVersionControlled:
		return "version_controlled"
	case StagePublished:
		return "published"
	case StageDone:
		return "done"
	case StageFailed:
		return "failed"
	case StageRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// Terminal reports whether the stage ends the state machine.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageFailed || s == StageRolledBack
}

// Mutating reports whether reaching this stage implies file-system writes.
// Stages before StageImplemented are read-only.
func (s Stage) Mutating() bool {
	return s >= StageImplemented && s <= StagePublished
}

// Attempt status constants. Exactly one applies to each attempt in the
// final report.
const (
	StatusPending    = "pending"
	StatusRunning    = "running"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusSkipped    = "skipped"
	StatusRolledBack = "rolled_back"
)

// Skip reason constants recorded on attempts that never started.
const (
	SkipReasonDependencyFailed = "dependency_failed"
	SkipReasonCircuitOpen      = "circuit_open"
	SkipReasonCancelled        = "cancelled"
)

// ErrorInfo is the structured error summary surfaced in reports and the
// audit log.
type ErrorInfo struct {
	Kind    string // Error taxonomy name, e.g. "MappingError"
	Message string // Human-readable detail
	Stage   string // Stage the error occurred in
}

// ArtifactRef points at something an attempt produced.
type ArtifactRef struct {
	Path string // File path, branch ref, or report location
	Kind string // "file", "branch", or "test-report"
}

// DeploymentAttempt tracks one recommendation's progress through the
// pipeline for one run. It is mutated only by the pipeline that owns it
// and becomes immutable once Stage is terminal.
type DeploymentAttempt struct {
	ID               string        // Unique attempt id
	RunID            string        // Run this attempt belongs to
	RecommendationID string        // Recommendation being deployed
	Stage            Stage         // Current stage
	Status           string        // One of the Status* constants
	SkipReason       string        // Set when Status is skipped
	StartedAt        time.Time     // Zero if never started
	EndedAt          time.Time     // Zero until terminal
	RetryCount       int           // Total collaborator retries across stages
	Error            *ErrorInfo    // Set on failure
	Artifacts        []ArtifactRef // Files written, branch created, etc.
	BranchRef        string        // Branch name once version-controlled
	PartialPublish   bool          // Commit succeeded but publish failed
	CostUSD          float64       // Code generation cost attributed to this attempt
}

// Finished reports whether the attempt has reached a terminal stage.
func (a *DeploymentAttempt) Finished() bool {
	return a.Stage.Terminal()
}

// Fail marks the attempt failed at its current stage with the given error info.
func (a *DeploymentAttempt) Fail(info ErrorInfo) {
	a.Stage = StageFailed
	a.Status = StatusFailed
	a.Error = &info
	a.EndedAt = time.Now()
}

// Skip marks the attempt skipped with a reason before any stage ran.
func (a *DeploymentAttempt) Skip(reason string, info *ErrorInfo) {
	a.Status = StatusSkipped
	a.SkipReason = reason
	a.Error = info
	a.EndedAt = time.Now()
}
