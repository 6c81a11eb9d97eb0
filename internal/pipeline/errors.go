package pipeline

import (
	"errors"
	"fmt"
)

// MappingError means no writable target could be determined for a
// recommendation.
type MappingError struct {
	RecommendationID string
	Err              error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("mapping %s: no writable target: %v", e.RecommendationID, e.Err)
}

func (e *MappingError) Unwrap() error { return e.Err }

// IntegrationConflictError means the analyzer detected conflicting
// concurrent changes. It is reported, never retried.
type IntegrationConflictError struct {
	RecommendationID string
	Conflicts        []string
}

func (e *IntegrationConflictError) Error() string {
	return fmt.Sprintf("integration conflict for %s: %d conflicting change(s)", e.RecommendationID, len(e.Conflicts))
}

// ImplementationError wraps a code generation failure. Transient
// failures (timeouts, rate limits) are retried; terminal ones
// (cost limit exceeded, malformed request) are not.
type ImplementationError struct {
	RecommendationID string
	Transient        bool
	Err              error
}

func (e *ImplementationError) Error() string {
	kind := "terminal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("implementation of %s failed (%s): %v", e.RecommendationID, kind, e.Err)
}

func (e *ImplementationError) Unwrap() error { return e.Err }

// TestGenerationError means test generation or execution could not run
// at all (as opposed to tests running and failing).
type TestGenerationError struct {
	RecommendationID string
	Err              error
}

func (e *TestGenerationError) Error() string {
	return fmt.Sprintf("test generation for %s failed: %v", e.RecommendationID, e.Err)
}

func (e *TestGenerationError) Unwrap() error { return e.Err }

// TestFailureError means generated tests executed and failed. Whether it
// blocks the attempt is controlled by block_on_test_failure.
type TestFailureError struct {
	RecommendationID string
	FailureDetails   string
	TestCount        int
}

func (e *TestFailureError) Error() string {
	return fmt.Sprintf("tests failed for %s (%d tests): %s", e.RecommendationID, e.TestCount, e.FailureDetails)
}

// VersionControlError means branch creation or commit failed.
type VersionControlError struct {
	RecommendationID string
	Err              error
}

func (e *VersionControlError) Error() string {
	return fmt.Sprintf("version control for %s failed: %v", e.RecommendationID, e.Err)
}

func (e *VersionControlError) Unwrap() error { return e.Err }

// PublishError means push/publish failed after a successful commit. It is
// non-fatal to the attempt: the commit exists, so code is not lost.
type PublishError struct {
	RecommendationID string
	BranchRef        string
	Err              error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish of %s (branch %s) failed: %v", e.RecommendationID, e.BranchRef, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// SafetyCheckFailure means the pre-item safety validation rejected the
// attempt before implementation.
type SafetyCheckFailure struct {
	RecommendationID string
	Reason           string
}

func (e *SafetyCheckFailure) Error() string {
	return fmt.Sprintf("safety check failed for %s: %s", e.RecommendationID, e.Reason)
}

// DependencyFailedError means a dependency of this recommendation failed
// or was skipped, so the item's preconditions cannot be satisfied.
type DependencyFailedError struct {
	RecommendationID string
	DependencyID     string
}

func (e *DependencyFailedError) Error() string {
	return fmt.Sprintf("recommendation %s skipped: dependency %s did not succeed", e.RecommendationID, e.DependencyID)
}

// IsTransient reports whether err should be retried by the stage retry
// policy. Only transient implementation errors qualify.
func IsTransient(err error) bool {
	var ie *ImplementationError
	if errors.As(err, &ie) {
		return ie.Transient
	}
	return false
}

// ErrorKind returns the taxonomy name for err, used in reports and the
// audit log.
func ErrorKind(err error) string {
	switch {
	case isA[*MappingError](err):
		return "MappingError"
	case isA[*IntegrationConflictError](err):
		return "IntegrationConflictError"
	case isA[*ImplementationError](err):
		return "ImplementationError"
	case isA[*TestGenerationError](err):
		return "TestGenerationError"
	case isA[*TestFailureError](err):
		return "TestFailureError"
	case isA[*VersionControlError](err):
		return "VersionControlError"
	case isA[*PublishError](err):
		return "PublishError"
	case isA[*SafetyCheckFailure](err):
		return "SafetyCheckFailure"
	case isA[*DependencyFailedError](err):
		return "DependencyFailedError"
	default:
		return "Error"
	}
}

func isA[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}
