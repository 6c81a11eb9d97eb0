package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harrison/deploypilot/internal/resolver"
)

// NewValidateCommand creates the validate command.
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <recommendations-file-or-directory>",
		Short: "Check recommendation documents and their dependency graph",
		Long: `Validate loads the recommendation documents and resolves their
dependency order without executing anything. It reports parse errors,
unknown or duplicate ids, and dependency cycles.`,
		Args: cobra.ExactArgs(1),
		RunE: runValidate,
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	recs, err := loadRecommendations(args[0])
	if err != nil {
		return err
	}

	ordered, err := resolver.Resolve(recs)
	if err != nil {
		var cycle *resolver.CyclicDependencyError
		if errors.As(err, &cycle) {
			return fmt.Errorf("dependency cycle involving: %s", strings.Join(cycle.Remaining, ", "))
		}
		return err
	}

	dependents := resolver.Dependents(recs)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%d recommendation(s), valid deployment order:\n", len(ordered))
	for i, rec := range ordered {
		detail := ""
		if len(rec.DependsOn) > 0 {
			detail = fmt.Sprintf(" (after %s)", strings.Join(rec.DependsOn, ", "))
		}
		if blocked := dependents[rec.ID]; len(blocked) > 0 {
			detail += fmt.Sprintf(" [blocks %s]", strings.Join(blocked, ", "))
		}
		fmt.Fprintf(out, "  %2d. %s: %s%s\n", i+1, rec.ID, rec.Title, detail)
	}
	return nil
}
