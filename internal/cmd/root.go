package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags.
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for deploypilot.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploypilot",
		Short: "Automated recommendation deployment pipeline",
		Long: `Deploypilot turns a queue of proposed code changes (recommendations)
into reviewed, tested, version-controlled deployments.

It loads recommendation documents (YAML or Markdown), resolves their
dependency order, and drives each one through implementation, testing
and version control with batch-level safety: pre-mutation backups,
rollback on failure, and a circuit breaker bounding failure blast radius.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.AddCommand(NewDeployCommand())
	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewReportCommand())

	return cmd
}
