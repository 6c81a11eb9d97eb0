package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/deploypilot/internal/models"
)

type fakeMapper struct {
	targets []string
	err     error
	calls   int
}

func (f *fakeMapper) Map(ctx context.Context, rec models.Recommendation) ([]string, error) {
	f.calls++
	return f.targets, f.err
}

type fakeAnalyzer struct {
	plan      IntegrationPlan
	conflicts []string
	err       error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, rec models.Recommendation, targets []string) (IntegrationPlan, []string, error) {
	return f.plan, f.conflicts, f.err
}

type fakeImplementer struct {
	files []GeneratedFile
	cost  float64
	errs  []error // One per call; nil past the end
	calls int
}

func (f *fakeImplementer) Implement(ctx context.Context, rec models.Recommendation, plan IntegrationPlan) ([]GeneratedFile, float64, error) {
	f.calls++
	if f.calls <= len(f.errs) && f.errs[f.calls-1] != nil {
		return nil, 0, f.errs[f.calls-1]
	}
	return f.files, f.cost, nil
}

type fakeTester struct {
	result TestRunResult
	err    error
	calls  int
}

func (f *fakeTester) GenerateAndRun(ctx context.Context, files []GeneratedFile) (TestRunResult, error) {
	f.calls++
	return f.result, f.err
}

type fakeVCS struct {
	commitErr   error
	pushErr     error
	commitCalls int
	pushCalls   int
	branchName  string
}

func (f *fakeVCS) CreateBranchCommit(ctx context.Context, branchName string, files []GeneratedFile, message string) (BranchRef, error) {
	f.commitCalls++
	f.branchName = branchName
	if f.commitErr != nil {
		return BranchRef{}, f.commitErr
	}
	return BranchRef{Name: branchName, Commit: "abc123"}, nil
}

func (f *fakeVCS) PushAndPublish(ctx context.Context, branch BranchRef, summary string) (PublishedRef, error) {
	f.pushCalls++
	if f.pushErr != nil {
		return PublishedRef{}, f.pushErr
	}
	return PublishedRef{Branch: branch.Name, ReviewURL: "https://example.test/review/1"}, nil
}

type fakeSafety struct {
	preCheckErr error
	snapshotErr error
	rollbackErr error
	snapshots   [][]string
	rollbacks   []string
	releases    []string
}

func (f *fakeSafety) PreCheck(ctx context.Context, rec models.Recommendation, attemptID string, targets []string) error {
	return f.preCheckErr
}

func (f *fakeSafety) Snapshot(ctx context.Context, attemptID string, paths []string) error {
	if f.snapshotErr != nil {
		return f.snapshotErr
	}
	f.snapshots = append(f.snapshots, paths)
	return nil
}

func (f *fakeSafety) Rollback(ctx context.Context, attemptID string) error {
	f.rollbacks = append(f.rollbacks, attemptID)
	return f.rollbackErr
}

func (f *fakeSafety) Release(attemptID string) {
	f.releases = append(f.releases, attemptID)
}

type fakeAudit struct {
	stages []string
}

func (f *fakeAudit) RecordTransition(ctx context.Context, att *models.DeploymentAttempt) error {
	f.stages = append(f.stages, att.Stage.String())
	return nil
}

// testFixture bundles a pipeline with its fakes, defaulting to a
// recommendation that succeeds end to end.
type testFixture struct {
	pipe        *ItemPipeline
	mapper      *fakeMapper
	analyzer    *fakeAnalyzer
	implementer *fakeImplementer
	tester      *fakeTester
	vcs         *fakeVCS
	safety      *fakeSafety
	audit       *fakeAudit
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()
	dir := t.TempDir()
	target := filepath.Join(dir, "service.go")

	f := &testFixture{
		mapper:   &fakeMapper{targets: []string{target}},
		analyzer: &fakeAnalyzer{plan: IntegrationPlan{Strategy: "new_file", TargetPaths: []string{target}}},
		implementer: &fakeImplementer{
			files: []GeneratedFile{{Path: target, Content: []byte("package service\n")}},
			cost:  0.02,
		},
		tester: &fakeTester{result: TestRunResult{Passed: true, TestCount: 3}},
		vcs:    &fakeVCS{},
		safety: &fakeSafety{},
		audit:  &fakeAudit{},
	}

	network := NewRetryPolicy(3, 1)
	network.Sleep = instantSleep
	local := NewRetryPolicy(1, 1)
	local.Sleep = instantSleep

	f.pipe = &ItemPipeline{
		Collab: Collaborators{
			Mapper:      f.mapper,
			Analyzer:    f.analyzer,
			Implementer: f.implementer,
			Tester:      f.tester,
			VCS:         f.vcs,
		},
		Audit:              f.audit,
		Safety:             f.safety,
		Logger:             nil,
		NetworkRetry:       network,
		LocalRetry:         local,
		BlockOnTestFailure: true,
		RunStamp:           "20260115-090000",
	}
	return f
}

func instantSleep(ctx context.Context, d time.Duration) error { return nil }

func newAttempt(recID string) *models.DeploymentAttempt {
	return &models.DeploymentAttempt{
		ID:               uuid.NewString(),
		RunID:            "run-1",
		RecommendationID: recID,
		Stage:            models.StagePending,
		Status:           models.StatusPending,
	}
}

func testRec(id string) models.Recommendation {
	return models.Recommendation{ID: id, Title: "Recommendation " + id}
}

func TestPipelineFullPublishSuccess(t *testing.T) {
	f := newFixture(t)
	att := newAttempt("r1")

	err := f.pipe.Run(context.Background(), testRec("r1"), att, models.StagePublished)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if att.Stage != models.StageDone {
		t.Errorf("stage = %s, want done", att.Stage)
	}
	if att.Status != models.StatusSucceeded {
		t.Errorf("status = %s, want succeeded", att.Status)
	}
	if att.PartialPublish {
		t.Error("PartialPublish set on a clean publish")
	}
	if f.vcs.commitCalls != 1 || f.vcs.pushCalls != 1 {
		t.Errorf("vcs calls = %d commit / %d push, want 1/1", f.vcs.commitCalls, f.vcs.pushCalls)
	}
	if att.BranchRef == "" {
		t.Error("branch ref not recorded on the attempt")
	}
	if att.CostUSD != 0.02 {
		t.Errorf("cost = %v, want 0.02", att.CostUSD)
	}
	if len(f.safety.snapshots) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(f.safety.snapshots))
	}
	if len(f.safety.releases) != 1 || f.safety.releases[0] != att.ID {
		t.Errorf("locks not released for attempt: %v", f.safety.releases)
	}

	// The generated file actually landed on disk.
	content, rerr := os.ReadFile(f.implementer.files[0].Path)
	if rerr != nil {
		t.Fatalf("generated file missing: %v", rerr)
	}
	if string(content) != "package service\n" {
		t.Errorf("file content = %q", content)
	}

	// The audit trail covers every stage in order.
	want := []string{"pending", "mapped", "analyzed", "implemented", "tests_generated", "tests_passed", "version_controlled", "published", "done"}
	if len(f.audit.stages) != len(want) {
		t.Fatalf("audit stages = %v, want %v", f.audit.stages, want)
	}
	for i := range want {
		if f.audit.stages[i] != want[i] {
			t.Errorf("audit stage %d = %s, want %s", i, f.audit.stages[i], want[i])
		}
	}
}

func TestPipelineStopAfterGates(t *testing.T) {
	tests := []struct {
		name        string
		stopAfter   models.Stage
		wantCommits int
		wantPushes  int
	}{
		{"dry-run stops before version control", models.StageTestsPassed, 0, 0},
		{"local-commit stops before publish", models.StageVersionControlled, 1, 0},
		{"full-publish runs everything", models.StagePublished, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			att := newAttempt("r1")

			if err := f.pipe.Run(context.Background(), testRec("r1"), att, tt.stopAfter); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if att.Status != models.StatusSucceeded {
				t.Errorf("status = %s, want succeeded", att.Status)
			}
			if att.Stage != models.StageDone {
				t.Errorf("stage = %s, want done", att.Stage)
			}
			if f.vcs.commitCalls != tt.wantCommits {
				t.Errorf("commit calls = %d, want %d", f.vcs.commitCalls, tt.wantCommits)
			}
			if f.vcs.pushCalls != tt.wantPushes {
				t.Errorf("push calls = %d, want %d", f.vcs.pushCalls, tt.wantPushes)
			}
		})
	}
}

func TestPipelineDoneAttemptIsNoOp(t *testing.T) {
	f := newFixture(t)
	att := newAttempt("r1")
	att.Stage = models.StageDone
	att.Status = models.StatusSucceeded

	if err := f.pipe.Run(context.Background(), testRec("r1"), att, models.StagePublished); err != nil {
		t.Fatalf("Run() on done attempt error = %v", err)
	}
	if f.mapper.calls != 0 {
		t.Error("collaborator invoked for an attempt that was already done")
	}
	if len(f.audit.stages) != 0 {
		t.Error("audit transition recorded for a no-op run")
	}
}

func TestPipelineRejectsFinalizedAttempt(t *testing.T) {
	f := newFixture(t)
	att := newAttempt("r1")
	att.Stage = models.StageFailed

	if err := f.pipe.Run(context.Background(), testRec("r1"), att, models.StagePublished); err == nil {
		t.Fatal("expected error for an already-failed attempt")
	}
}

func TestPipelineMappingFailure(t *testing.T) {
	f := newFixture(t)
	f.mapper.err = fmt.Errorf("no such module")
	att := newAttempt("r1")

	err := f.pipe.Run(context.Background(), testRec("r1"), att, models.StagePublished)
	var me *MappingError
	if !errors.As(err, &me) {
		t.Fatalf("expected MappingError, got %v", err)
	}

	if att.Status != models.StatusFailed {
		t.Errorf("status = %s, want failed", att.Status)
	}
	if att.Stage != models.StageFailed {
		t.Errorf("stage = %s, want failed", att.Stage)
	}
	if att.Error == nil || att.Error.Kind != "MappingError" {
		t.Errorf("error info = %+v, want kind MappingError", att.Error)
	}
	// No files were written, so no rollback happens.
	if len(f.safety.rollbacks) != 0 {
		t.Errorf("rollback ran without mutations: %v", f.safety.rollbacks)
	}
	if len(f.safety.releases) != 1 {
		t.Error("locks not released on failure")
	}
}

func TestPipelineIntegrationConflict(t *testing.T) {
	f := newFixture(t)
	f.analyzer.conflicts = []string{"service.go modified upstream"}
	att := newAttempt("r1")

	err := f.pipe.Run(context.Background(), testRec("r1"), att, models.StagePublished)
	var ce *IntegrationConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected IntegrationConflictError, got %v", err)
	}
	if f.implementer.calls != 0 {
		t.Error("implementer invoked despite conflict")
	}
	if att.Error.Kind != "IntegrationConflictError" {
		t.Errorf("error kind = %s", att.Error.Kind)
	}
}

func TestPipelineSafetyFailuresForbidImplementation(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *testFixture)
	}{
		{"pre-check rejection", func(f *testFixture) { f.safety.preCheckErr = fmt.Errorf("file locked by attempt x") }},
		{"snapshot failure", func(f *testFixture) { f.safety.snapshotErr = fmt.Errorf("store unavailable") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tt.setup(f)
			att := newAttempt("r1")

			err := f.pipe.Run(context.Background(), testRec("r1"), att, models.StagePublished)
			var sf *SafetyCheckFailure
			if !errors.As(err, &sf) {
				t.Fatalf("expected SafetyCheckFailure, got %v", err)
			}
			if f.implementer.calls != 0 {
				t.Error("implementation ran despite safety failure")
			}
			if att.Status != models.StatusFailed {
				t.Errorf("status = %s, want failed", att.Status)
			}
		})
	}
}

func TestPipelineTransientImplementationRetry(t *testing.T) {
	f := newFixture(t)
	f.implementer.errs = []error{
		&ImplementationError{RecommendationID: "r1", Transient: true, Err: fmt.Errorf("rate limited")},
		&ImplementationError{RecommendationID: "r1", Transient: true, Err: fmt.Errorf("rate limited")},
		nil,
	}
	att := newAttempt("r1")

	if err := f.pipe.Run(context.Background(), testRec("r1"), att, models.StagePublished); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if f.implementer.calls != 3 {
		t.Errorf("implementer calls = %d, want 3", f.implementer.calls)
	}
	if att.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", att.RetryCount)
	}
	if att.Status != models.StatusSucceeded {
		t.Errorf("status = %s, want succeeded", att.Status)
	}
}

func TestPipelineTransientRetryExhaustion(t *testing.T) {
	f := newFixture(t)
	transient := &ImplementationError{RecommendationID: "r1", Transient: true, Err: fmt.Errorf("rate limited")}
	f.implementer.errs = []error{transient, transient, transient, transient}
	att := newAttempt("r1")

	err := f.pipe.Run(context.Background(), testRec("r1"), att, models.StagePublished)
	if err == nil {
		t.Fatal("expected failure after retry exhaustion")
	}
	if f.implementer.calls != 3 {
		t.Errorf("implementer calls = %d, want 3 (attempt budget)", f.implementer.calls)
	}
	if att.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", att.RetryCount)
	}
	// Nothing was written, so the attempt fails without rollback.
	if att.Stage != models.StageFailed {
		t.Errorf("stage = %s, want failed", att.Stage)
	}
}

func TestPipelineTerminalImplementationNotRetried(t *testing.T) {
	f := newFixture(t)
	terminal := &ImplementationError{RecommendationID: "r1", Transient: false, Err: fmt.Errorf("malformed request")}
	f.implementer.errs = []error{terminal}
	att := newAttempt("r1")

	if err := f.pipe.Run(context.Background(), testRec("r1"), att, models.StagePublished); err == nil {
		t.Fatal("expected terminal implementation failure")
	}
	if f.implementer.calls != 1 {
		t.Errorf("implementer calls = %d, want 1 (no retries on terminal errors)", f.implementer.calls)
	}
}

func TestPipelineRejectsFilesOutsideTargetSet(t *testing.T) {
	f := newFixture(t)
	planned := f.implementer.files[0].Path
	stray := filepath.Join(filepath.Dir(planned), "extra.go")
	f.implementer.files = append(f.implementer.files, GeneratedFile{
		Path:    stray,
		Content: []byte("package service\n"),
	})
	att := newAttempt("r1")

	err := f.pipe.Run(context.Background(), testRec("r1"), att, models.StagePublished)
	var ie *ImplementationError
	if !errors.As(err, &ie) {
		t.Fatalf("expected ImplementationError, got %v", err)
	}
	if ie.Transient {
		t.Error("out-of-plan output must be terminal, not transient")
	}

	// Neither the stray file nor the planned one may land on disk: the
	// stray path has no backup or lock, and a partial write of the batch
	// would leave the attempt half-applied.
	if _, serr := os.Stat(stray); !os.IsNotExist(serr) {
		t.Errorf("file outside the snapshotted target set was written: stat err = %v", serr)
	}
	if _, perr := os.Stat(planned); !os.IsNotExist(perr) {
		t.Errorf("planned file written despite rejected batch: stat err = %v", perr)
	}
	if att.Status != models.StatusFailed {
		t.Errorf("status = %s, want failed", att.Status)
	}
	// Nothing mutated, so no rollback is needed.
	if len(f.safety.rollbacks) != 0 {
		t.Errorf("rollbacks = %v, want none", f.safety.rollbacks)
	}
}

func TestPipelineTestFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.tester.result = TestRunResult{Passed: false, TestCount: 3, FailureDetails: "assert failed"}
	att := newAttempt("r1")

	err := f.pipe.Run(context.Background(), testRec("r1"), att, models.StagePublished)
	var tf *TestFailureError
	if !errors.As(err, &tf) {
		t.Fatalf("expected TestFailureError, got %v", err)
	}

	// Files were written before the tests ran, so the mutation is reverted.
	if len(f.safety.rollbacks) != 1 || f.safety.rollbacks[0] != att.ID {
		t.Errorf("rollbacks = %v, want [%s]", f.safety.rollbacks, att.ID)
	}
	if att.Stage != models.StageRolledBack {
		t.Errorf("stage = %s, want rolled_back", att.Stage)
	}
	if att.Status != models.StatusRolledBack {
		t.Errorf("status = %s, want rolled_back", att.Status)
	}
	if f.vcs.commitCalls != 0 {
		t.Error("version control ran despite blocking test failure")
	}
}

func TestPipelineTestFailureNonBlocking(t *testing.T) {
	f := newFixture(t)
	f.pipe.BlockOnTestFailure = false
	f.tester.result = TestRunResult{Passed: false, TestCount: 3, FailureDetails: "assert failed"}
	att := newAttempt("r1")

	if err := f.pipe.Run(context.Background(), testRec("r1"), att, models.StagePublished); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if att.Status != models.StatusSucceeded {
		t.Errorf("status = %s, want succeeded when test failures do not block", att.Status)
	}
	if f.vcs.commitCalls != 1 {
		t.Error("version control skipped despite non-blocking config")
	}

	// The attempt carries the failure, and the audit log never claims the
	// tests passed.
	if att.Error == nil || att.Error.Kind != "TestFailureError" {
		t.Errorf("error info = %+v, want TestFailureError", att.Error)
	}
	for _, stage := range f.audit.stages {
		if stage == "tests_passed" {
			t.Errorf("audit log records tests_passed for failing tests: %v", f.audit.stages)
		}
	}
}

func TestPipelineVersionControlFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.vcs.commitErr = fmt.Errorf("index.lock exists")
	att := newAttempt("r1")

	err := f.pipe.Run(context.Background(), testRec("r1"), att, models.StagePublished)
	var ve *VersionControlError
	if !errors.As(err, &ve) {
		t.Fatalf("expected VersionControlError, got %v", err)
	}
	if att.Stage != models.StageRolledBack {
		t.Errorf("stage = %s, want rolled_back", att.Stage)
	}
	if len(f.safety.rollbacks) != 1 {
		t.Errorf("rollbacks = %v, want one", f.safety.rollbacks)
	}
}

func TestPipelinePublishFailureIsPartialSuccess(t *testing.T) {
	f := newFixture(t)
	f.vcs.pushErr = fmt.Errorf("remote unreachable")
	att := newAttempt("r1")

	// Publish failure after a successful commit never fails the attempt.
	if err := f.pipe.Run(context.Background(), testRec("r1"), att, models.StagePublished); err != nil {
		t.Fatalf("Run() error = %v, want nil on publish failure", err)
	}

	if att.Status != models.StatusSucceeded {
		t.Errorf("status = %s, want succeeded", att.Status)
	}
	if !att.PartialPublish {
		t.Error("PartialPublish not set")
	}
	if att.Error == nil || att.Error.Kind != "PublishError" {
		t.Errorf("error info = %+v, want PublishError", att.Error)
	}
	if len(f.safety.rollbacks) != 0 {
		t.Error("rollback ran after a successful commit")
	}
	if att.BranchRef == "" {
		t.Error("branch ref lost on partial publish")
	}
}

type fakeTracker struct {
	exceeded bool
	added    float64
}

func (f *fakeTracker) Add(recID string, costUSD float64) { f.added += costUSD }
func (f *fakeTracker) Exceeded() bool                    { return f.exceeded }

func TestPipelineCostLimitBlocksImplementation(t *testing.T) {
	f := newFixture(t)
	f.pipe.Costs = &fakeTracker{exceeded: true}
	att := newAttempt("r1")

	err := f.pipe.Run(context.Background(), testRec("r1"), att, models.StagePublished)
	var ie *ImplementationError
	if !errors.As(err, &ie) {
		t.Fatalf("expected ImplementationError, got %v", err)
	}
	if ie.Transient {
		t.Error("cost exhaustion must be terminal, not transient")
	}
	if f.implementer.calls != 0 {
		t.Error("implementer invoked despite exhausted budget")
	}
}

func TestPipelineAttributesCostToTracker(t *testing.T) {
	f := newFixture(t)
	tracker := &fakeTracker{}
	f.pipe.Costs = tracker
	att := newAttempt("r1")

	if err := f.pipe.Run(context.Background(), testRec("r1"), att, models.StagePublished); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if tracker.added != 0.02 {
		t.Errorf("tracked cost = %v, want 0.02", tracker.added)
	}
}
