package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/deploypilot/internal/config"
	"github.com/harrison/deploypilot/internal/models"
	"github.com/harrison/deploypilot/internal/store"
)

// NewReportCommand creates the report command.
func NewReportCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <run-id>",
		Short: "Print the audit trail of a previous run",
		Long: `Report reads the durable audit log and prints every recorded
transition for the given run id, grouped by attempt.`,
		Args: cobra.ExactArgs(1),
		RunE: runReport,
	}
	cmd.Flags().String("config", "", "Path to config file (default: .deploypilot/config.yaml)")
	return cmd
}

func runReport(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
	} else {
		cfg, err = config.LoadConfigFromDir(".")
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	db, err := store.Open(filepath.Join(cfg.StoreDir, "state.db"))
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	defer db.Close()

	transitions, err := db.TransitionsForRun(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(transitions) == 0 {
		return fmt.Errorf("no audit records for run %s", args[0])
	}

	out := cmd.OutOrStdout()
	var lastAttempt string
	for _, t := range transitions {
		if t.AttemptID != lastAttempt {
			fmt.Fprintf(out, "\nattempt %s (recommendation %s)\n", t.AttemptID, t.RecommendationID)
			lastAttempt = t.AttemptID
		}
		line := fmt.Sprintf("  %s  %-18s %s", t.RecordedAt.Format(time.RFC3339), t.Stage, t.Status)
		if t.SkipReason != "" {
			line += fmt.Sprintf(" (%s)", t.SkipReason)
		}
		if t.ErrorKind != "" {
			line += fmt.Sprintf("  %s: %s", t.ErrorKind, t.ErrorMessage)
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

// printReport writes the end-of-run summary in resolver order.
func printReport(w io.Writer, report *models.DeploymentReport) {
	fmt.Fprintf(w, "\nDeployment Report (run %s):\n", report.RunID)
	fmt.Fprintf(w, "  Total: %d\n", report.Total)
	fmt.Fprintf(w, "  Succeeded: %d", report.Succeeded)
	if report.PartiallySucceeded > 0 {
		fmt.Fprintf(w, " (%d with publish pending)", report.PartiallySucceeded)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Failed: %d\n", report.Failed)
	fmt.Fprintf(w, "  Skipped: %d\n", report.Skipped)
	fmt.Fprintf(w, "  Rolled back: %d\n", report.RolledBack)
	fmt.Fprintf(w, "  Circuit breaker trips: %d\n", report.CircuitBreakerTrips)
	if report.TotalCostUSD > 0 {
		fmt.Fprintf(w, "  Generation cost: $%.4f\n", report.TotalCostUSD)
	}
	fmt.Fprintf(w, "  Duration: %s\n", report.Duration.Round(time.Millisecond))

	for _, item := range report.Items {
		if item.Status == models.StatusSucceeded && item.Error == nil {
			continue
		}
		detail := item.Status
		if item.SkipReason != "" {
			detail += " (" + item.SkipReason + ")"
		}
		if item.Error != nil {
			detail += fmt.Sprintf(" - %s at %s: %s", item.Error.Kind, item.Error.Stage, item.Error.Message)
		}
		fmt.Fprintf(w, "  - %s: %s\n", item.RecommendationID, detail)
	}
}
