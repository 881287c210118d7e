package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joescharf/tfreview/internal/models"
	"github.com/joescharf/tfreview/internal/review"
)

var (
	reviewStack  string
	reviewRunID  string
	reviewCommit string
	reviewBranch string
	reviewFailOn string
)

var reviewCmd = &cobra.Command{
	Use:   "review <file|dir|-> [...]",
	Short: "Review Terraform source and print the scored result",
	Long: `Submit Terraform source for review and wait for the result.

Arguments are .tf files, directories (their *.tf files) or "-" for stdin.
The review is stored as a versioned record; use 'tfreview show' and
'tfreview history' to inspect it later.

With --fail-on the command exits non-zero when the risk level reaches the
given level, for use as a CI gate.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return reviewRun(cmd.Context(), args)
	},
}

func init() {
	reviewCmd.Flags().StringVarP(&reviewStack, "stack", "s", "", "Stack identifier for history and trends")
	reviewCmd.Flags().StringVar(&reviewRunID, "run-id", "", "CI run identifier")
	reviewCmd.Flags().StringVar(&reviewCommit, "commit", "", "Commit SHA of the source")
	reviewCmd.Flags().StringVar(&reviewBranch, "branch", "", "Branch of the source")
	reviewCmd.Flags().StringVar(&reviewFailOn, "fail-on", "", "Exit non-zero at this risk level or above (low, medium, high)")
	rootCmd.AddCommand(reviewCmd)
}

func reviewRun(ctx context.Context, paths []string) error {
	threshold, err := parseFailOn(reviewFailOn)
	if err != nil {
		return err
	}

	snapshot, files, err := readSnapshot(paths)
	if err != nil {
		return err
	}

	o, err := getOrchestrator()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, shutdownSignals()...)
	defer stop()

	rec, err := o.Submit(ctx, review.SubmitRequest{
		SourceSnapshot: snapshot,
		Context: &models.ReviewContext{
			StackID:      reviewStack,
			RunID:        reviewRunID,
			Commit:       reviewCommit,
			Branch:       reviewBranch,
			ChangedFiles: files,
			Source:       "cli",
		},
	})
	if err != nil {
		return err
	}
	ui.VerboseLog("Submitted review %s (%d files, %d bytes)", rec.ReviewID, len(files), len(snapshot))

	done, err := o.Process(ctx, rec.ReviewID)
	if done != nil {
		if perr := printReview(done); perr != nil {
			return perr
		}
	}
	if err != nil {
		return err
	}

	if done.Status == models.ReviewStatusFailed {
		return fmt.Errorf("review %s failed", done.ReviewID)
	}
	if threshold > 0 && riskRank(done.RiskLevel) >= threshold {
		return fmt.Errorf("risk level %s meets --fail-on %s", done.RiskLevel, reviewFailOn)
	}
	return nil
}

func riskRank(l models.RiskLevel) int {
	switch l {
	case models.RiskLevelLow:
		return 1
	case models.RiskLevelMedium:
		return 2
	case models.RiskLevelHigh:
		return 3
	}
	return 0
}

func parseFailOn(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	rank := riskRank(models.RiskLevel(strings.ToLower(s)))
	if rank == 0 {
		return 0, fmt.Errorf("invalid --fail-on %q: use low, medium or high", s)
	}
	return rank, nil
}
