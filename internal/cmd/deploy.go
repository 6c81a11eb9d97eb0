package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/deploypilot/internal/budget"
	"github.com/harrison/deploypilot/internal/collab"
	"github.com/harrison/deploypilot/internal/config"
	"github.com/harrison/deploypilot/internal/logger"
	"github.com/harrison/deploypilot/internal/models"
	"github.com/harrison/deploypilot/internal/orchestrator"
	"github.com/harrison/deploypilot/internal/parser"
	"github.com/harrison/deploypilot/internal/pipeline"
	"github.com/harrison/deploypilot/internal/resolver"
	"github.com/harrison/deploypilot/internal/safety"
	"github.com/harrison/deploypilot/internal/store"
)

// NewDeployCommand creates the deploy command.
func NewDeployCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy <recommendations-file-or-directory>",
		Short: "Run the deployment pipeline over a recommendation queue",
		Long: `Deploy loads recommendation documents (YAML or Markdown), resolves
their dependency order, and drives each recommendation through the
pipeline: map, analyze, implement, generate and run tests, version
control, publish.

Configuration is loaded from .deploypilot/config.yaml if present.
CLI flags override configuration file settings.

Examples:
  # Safe default: everything up to tests, no version control mutation
  deploypilot deploy recommendations.yaml

  # Commit locally but never push
  deploypilot deploy --mode local-commit recs/

  # Full pipeline including push and review request
  deploypilot deploy --mode full-publish recommendations.md

  # Restore the backup of a failed attempt from a previous (crashed) run
  deploypilot deploy --rollback-attempt 1b9f... recommendations.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: runDeploy,
	}

	cmd.Flags().String("config", "", "Path to config file (default: .deploypilot/config.yaml)")
	cmd.Flags().String("mode", "", "Deployment mode: dry-run, local-commit, full-publish")
	cmd.Flags().Bool("dry-run", false, "Shorthand for --mode dry-run")
	cmd.Flags().Int("batch-size", 0, "Recommendations per batch (default from config)")
	cmd.Flags().Int("max-concurrency", 0, "Concurrent items within a batch (default from config)")
	cmd.Flags().String("repo-root", ".", "Working copy the pipeline mutates")
	cmd.Flags().String("test-cmd", "", "Test command run after implementation (e.g. 'go test ./...')")
	cmd.Flags().String("log-dir", "", "Directory for log files")
	cmd.Flags().String("log-level", "", "Console log level (trace, debug, info, warn, error)")
	cmd.Flags().String("rollback-attempt", "", "Restore the backup recorded for the given attempt id and exit")

	return cmd
}

func runDeploy(cmd *cobra.Command, args []string) error {
	cfg, err := loadDeployConfig(cmd)
	if err != nil {
		return err
	}

	console := logger.NewConsoleLogger(os.Stdout, cfg.LogLevel)
	fileLog, err := logger.NewFileLogger(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to open run log: %w", err)
	}
	defer fileLog.Close()
	log := &logger.Multi{Loggers: []interface {
		Debugf(string, ...any)
		Infof(string, ...any)
		Warnf(string, ...any)
		Errorf(string, ...any)
	}{console, fileLog}}

	db, err := store.Open(filepath.Join(cfg.StoreDir, "state.db"))
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer db.Close()

	breaker := safety.NewCircuitBreaker(cfg.BreakerWindow, cfg.BreakerThreshold, cfg.BreakerCooldown)
	manager := safety.NewManager(db, breaker, filepath.Join(cfg.StoreDir, "locks"))

	// Crash-recovery path: restore a recorded backup and exit.
	if attemptID, _ := cmd.Flags().GetString("rollback-attempt"); attemptID != "" {
		return rollbackAttempt(cmd.Context(), manager, log, attemptID)
	}

	if len(args) == 0 {
		return fmt.Errorf("a recommendations file or directory is required")
	}
	recs, err := loadRecommendations(args[0])
	if err != nil {
		return err
	}

	ordered, err := resolver.Resolve(recs)
	if err != nil {
		return fmt.Errorf("dependency resolution failed: %w", err)
	}

	repoRoot, _ := cmd.Flags().GetString("repo-root")
	testCmd, _ := cmd.Flags().GetString("test-cmd")
	runner := &collab.ExecRunner{WorkDir: repoRoot}

	pipe := &pipeline.ItemPipeline{
		Collab: pipeline.Collaborators{
			Mapper:      &collab.HintMapper{RepoRoot: repoRoot},
			Analyzer:    &collab.LocalAnalyzer{},
			Implementer: &collab.PayloadImplementer{RepoRoot: repoRoot},
			Tester:      &collab.CommandTestRunner{Runner: runner, Command: splitCommand(testCmd)},
			VCS:         collab.NewGitClient(runner),
		},
		Audit:              db,
		Safety:             manager,
		Costs:              budget.NewTracker(cfg.CostLimitUSD),
		Logger:             log,
		NetworkRetry:       pipeline.NewRetryPolicy(cfg.MaxRetries["network"], cfg.RetryBaseDelay),
		LocalRetry:         pipeline.NewRetryPolicy(cfg.MaxRetries["local"], cfg.RetryBaseDelay),
		BlockOnTestFailure: cfg.BlockOnTestFailure,
		RunStamp:           time.Now().Format("20060102-150405"),
	}

	orch := &orchestrator.Orchestrator{
		Pipeline: pipe,
		Safety:   manager,
		Audit:    db,
		Logger:   log,
		Config:   cfg,
	}

	report, err := orch.Run(cmd.Context(), ordered)
	if err != nil {
		return err
	}

	printReport(cmd.OutOrStdout(), report)

	if report.Failed+report.RolledBack > 0 {
		return fmt.Errorf("%d of %d recommendation(s) did not deploy", report.Failed+report.RolledBack, report.Total)
	}
	return nil
}

func loadDeployConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	} else {
		cfg, err = config.LoadConfigFromDir(".")
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	modeFlag, _ := cmd.Flags().GetString("mode")
	dryRunFlag, _ := cmd.Flags().GetBool("dry-run")
	if cmd.Flags().Changed("mode") && dryRunFlag && modeFlag != config.ModeDryRun {
		return nil, fmt.Errorf("cannot use both --dry-run and --mode %s", modeFlag)
	}
	if dryRunFlag {
		mode := config.ModeDryRun
		modeFlag = mode
	}

	var flags config.FlagOverrides
	if modeFlag != "" {
		flags.Mode = &modeFlag
	}
	if cmd.Flags().Changed("batch-size") {
		v, _ := cmd.Flags().GetInt("batch-size")
		flags.BatchSize = &v
	}
	if cmd.Flags().Changed("max-concurrency") {
		v, _ := cmd.Flags().GetInt("max-concurrency")
		flags.MaxConcurrency = &v
	}
	if cmd.Flags().Changed("log-dir") {
		v, _ := cmd.Flags().GetString("log-dir")
		flags.LogDir = &v
	}
	if cmd.Flags().Changed("log-level") {
		v, _ := cmd.Flags().GetString("log-level")
		flags.LogLevel = &v
	}
	cfg.MergeWithFlags(flags)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRecommendations(path string) ([]models.Recommendation, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	if info.IsDir() {
		return parser.LoadDir(path)
	}
	return parser.LoadFile(path)
}

func rollbackAttempt(ctx context.Context, manager *safety.Manager, log pipeline.Logger, attemptID string) error {
	log.Infof("restoring backup for attempt %s", attemptID)
	if err := manager.Rollback(ctx, attemptID); err != nil {
		var partial *safety.PartialRollbackWarning
		if errors.As(err, &partial) {
			log.Warnf("%v: %s", partial, strings.Join(partial.Paths, ", "))
			return nil
		}
		return err
	}
	log.Infof("backup for attempt %s restored", attemptID)
	return nil
}

func splitCommand(cmd string) []string {
	if strings.TrimSpace(cmd) == "" {
		return nil
	}
	return strings.Fields(cmd)
}
