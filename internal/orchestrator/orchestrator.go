// Package orchestrator runs an ordered list of recommendations through
// the item pipeline in fixed-size batches with bounded concurrency,
// consulting the safety manager before and after every item.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/deploypilot/internal/config"
	"github.com/harrison/deploypilot/internal/models"
	"github.com/harrison/deploypilot/internal/pipeline"
	"github.com/harrison/deploypilot/internal/safety"
)

// Orchestrator coordinates one deployment run. The recommendation order
// must come from the resolver; the orchestrator preserves it in the
// report regardless of completion order.
type Orchestrator struct {
	Pipeline *pipeline.ItemPipeline
	Safety   *safety.Manager
	Audit    pipeline.AuditLog
	Logger   pipeline.Logger
	Config   *config.Config
}

// stopAfterStage maps the deployment mode to the last stage the pipeline
// may execute. Enforcing mode here keeps the state machine mode-agnostic.
func stopAfterStage(mode string) models.Stage {
	switch mode {
	case config.ModeDryRun:
		return models.StageTestsPassed
	case config.ModeLocalCommit:
		return models.StageVersionControlled
	default:
		return models.StagePublished
	}
}

// Run executes every recommendation and returns the deployment report.
// The report accounts for each input exactly once; the returned error is
// non-nil only for run-level failures, not per-item ones.
func (o *Orchestrator) Run(ctx context.Context, ordered []models.Recommendation) (*models.DeploymentReport, error) {
	if o.Pipeline == nil {
		return nil, fmt.Errorf("orchestrator requires a pipeline")
	}
	if o.Safety == nil {
		return nil, fmt.Errorf("orchestrator requires a safety manager")
	}

	runID := uuid.NewString()
	started := time.Now()
	stopAfter := stopAfterStage(o.Config.Mode)

	if o.Logger != nil {
		o.Logger.Infof("run %s: %d recommendation(s), mode %s, batch size %d, concurrency %d",
			runID, len(ordered), o.Config.Mode, o.Config.BatchSize, o.Config.MaxConcurrency)
	}

	run := &runState{
		attempts: make(map[string]*models.DeploymentAttempt, len(ordered)),
		done:     make(map[string]chan struct{}, len(ordered)),
	}
	for _, rec := range ordered {
		run.done[rec.ID] = make(chan struct{})
	}

	haltIndex := len(ordered)
	for start := 0; start < len(ordered); start += o.Config.BatchSize {
		end := start + o.Config.BatchSize
		if end > len(ordered) {
			end = len(ordered)
		}

		o.runBatch(ctx, runID, ordered, ordered[start:end], run, stopAfter)

		// Once the breaker is open past a batch boundary, stop pulling.
		// Everything not yet started is recorded as skipped below.
		if o.Safety.Breaker != nil && o.Safety.Breaker.Status() == safety.BreakerOpen {
			haltIndex = end
			break
		}
	}

	for _, rec := range ordered[haltIndex:] {
		att := o.newAttempt(runID, rec.ID)
		att.Skip(models.SkipReasonCircuitOpen, nil)
		run.setAttempt(rec.ID, att)
		o.record(ctx, att)
	}

	report := &models.DeploymentReport{RunID: runID}
	for _, rec := range ordered {
		if att := run.attempt(rec.ID); att != nil {
			report.Add(*att)
		}
	}
	report.Duration = time.Since(started)
	if o.Safety.Breaker != nil {
		report.CircuitBreakerTrips = o.Safety.Breaker.Trips()
	}

	if o.Logger != nil {
		o.Logger.Infof("run %s finished: %d succeeded, %d failed, %d skipped, %d rolled back (%s)",
			runID, report.Succeeded, report.Failed, report.Skipped, report.RolledBack,
			report.Duration.Round(time.Millisecond))
	}

	return report, nil
}

// runBatch executes one batch with a bounded worker pool. Items whose
// dependencies live in the same run wait for those dependencies to reach
// a terminal state before taking a worker slot, so no slot is ever held
// across a dependency wait.
func (o *Orchestrator) runBatch(ctx context.Context, runID string, all []models.Recommendation, batch []models.Recommendation, run *runState, stopAfter models.Stage) {
	maxConcurrency := o.Config.MaxConcurrency
	if maxConcurrency <= 0 || maxConcurrency > len(batch) {
		maxConcurrency = len(batch)
	}
	if maxConcurrency == 0 {
		maxConcurrency = 1
	}

	semaphore := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	for _, rec := range batch {
		wg.Add(1)
		go func(rec models.Recommendation) {
			defer wg.Done()
			defer close(run.done[rec.ID])

			att := o.newAttempt(runID, rec.ID)
			defer run.setAttempt(rec.ID, att)

			// Dependency gate: wait for every same-run dependency to
			// finish, then cascade the skip if any did not succeed.
			for _, dep := range rec.DependsOn {
				ch, ok := run.done[dep]
				if !ok {
					continue // Dependency satisfied in an earlier run.
				}
				select {
				case <-ch:
				case <-ctx.Done():
					att.Skip(models.SkipReasonCancelled, &models.ErrorInfo{
						Kind:    "Cancelled",
						Message: ctx.Err().Error(),
					})
					o.record(ctx, att)
					return
				}

				depAtt := run.attempt(dep)
				if depAtt == nil || depAtt.Status != models.StatusSucceeded {
					derr := &pipeline.DependencyFailedError{
						RecommendationID: rec.ID,
						DependencyID:     dep,
					}
					att.Skip(models.SkipReasonDependencyFailed, &models.ErrorInfo{
						Kind:    pipeline.ErrorKind(derr),
						Message: derr.Error(),
					})
					o.record(ctx, att)
					if o.Logger != nil {
						o.Logger.Warnf("%v", derr)
					}
					return
				}
			}

			// Circuit breaker gate: decided at start only. Items already
			// running are never interrupted by the breaker.
			if !o.Safety.Allow() {
				att.Skip(models.SkipReasonCircuitOpen, nil)
				o.record(ctx, att)
				if o.Logger != nil {
					o.Logger.Warnf("skipping %s: circuit breaker open", rec.ID)
				}
				return
			}

			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			if o.Logger != nil {
				o.Logger.Infof("deploying %s: %s", rec.ID, rec.Title)
			}

			err := o.Pipeline.Run(ctx, rec, att, stopAfter)
			o.Safety.Record(att.Status == models.StatusSucceeded)

			if err != nil && o.Logger != nil {
				o.Logger.Errorf("attempt for %s ended %s: %v", rec.ID, att.Status, err)
			}
		}(rec)
	}

	wg.Wait()
}

func (o *Orchestrator) newAttempt(runID, recID string) *models.DeploymentAttempt {
	return &models.DeploymentAttempt{
		ID:               uuid.NewString(),
		RunID:            runID,
		RecommendationID: recID,
		Stage:            models.StagePending,
		Status:           models.StatusPending,
	}
}

func (o *Orchestrator) record(ctx context.Context, att *models.DeploymentAttempt) {
	if o.Audit == nil {
		return
	}
	if err := o.Audit.RecordTransition(ctx, att); err != nil && o.Logger != nil {
		o.Logger.Warnf("audit log write for attempt %s: %v", att.ID, err)
	}
}

// runState tracks per-recommendation progress for one run. done channels
// are closed when the owning goroutine finishes, after the attempt has
// been stored, so readers always observe the final attempt state.
type runState struct {
	mu       sync.Mutex
	attempts map[string]*models.DeploymentAttempt
	done     map[string]chan struct{}
}

func (s *runState) setAttempt(recID string, att *models.DeploymentAttempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[recID] = att
}

func (s *runState) attempt(recID string) *models.DeploymentAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[recID]
}
