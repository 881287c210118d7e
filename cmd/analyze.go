package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joescharf/tfreview/internal/review"
)

var (
	failureType    string
	failureMessage string
	failureCode    string
	failureTrace   string
	failureReview  string

	fixOriginal string
	fixFixed    string
	fixReview   string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "One-off analyses that are not stored as reviews",
}

var analyzeFailureCmd = &cobra.Command{
	Use:   "failure <file|dir|-> [...]",
	Short: "Explain why a terraform plan/apply failed",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return analyzeFailureRun(cmd.Context(), args)
	},
}

var analyzeFixCmd = &cobra.Command{
	Use:   "fix",
	Short: "Rate how well a change fixed earlier findings",
	RunE: func(cmd *cobra.Command, args []string) error {
		return analyzeFixRun(cmd.Context())
	},
}

func init() {
	analyzeFailureCmd.Flags().StringVar(&failureType, "error-type", "", "Error type, e.g. AccessDenied")
	analyzeFailureCmd.Flags().StringVarP(&failureMessage, "error-message", "m", "", "Error message from terraform")
	analyzeFailureCmd.Flags().StringVar(&failureCode, "error-code", "", "Provider error code")
	analyzeFailureCmd.Flags().StringVar(&failureTrace, "trace", "", "File holding the full error output")
	analyzeFailureCmd.Flags().StringVar(&failureReview, "review", "", "Earlier review of this source to give as context")

	analyzeFixCmd.Flags().StringVar(&fixOriginal, "original", "", "Original source file or directory")
	analyzeFixCmd.Flags().StringVar(&fixFixed, "fixed", "", "Fixed source file or directory")
	analyzeFixCmd.Flags().StringVar(&fixReview, "review", "", "Review holding the original findings")
	_ = analyzeFixCmd.MarkFlagRequired("original")
	_ = analyzeFixCmd.MarkFlagRequired("fixed")

	analyzeCmd.AddCommand(analyzeFailureCmd)
	analyzeCmd.AddCommand(analyzeFixCmd)
	rootCmd.AddCommand(analyzeCmd)
}

func analyzeFailureRun(ctx context.Context, paths []string) error {
	if failureType == "" && failureMessage == "" {
		return errors.New("--error-type or --error-message is required")
	}
	snapshot, _, err := readSnapshot(paths)
	if err != nil {
		return err
	}
	trace, err := readPlainFile(failureTrace)
	if err != nil {
		return err
	}

	o, err := getOrchestrator()
	if err != nil {
		return err
	}
	reviewID := ""
	if failureReview != "" {
		rec, err := o.Resolve(ctx, failureReview)
		if err != nil {
			return err
		}
		reviewID = rec.ReviewID
	}

	res, err := o.AnalyzeFailure(ctx, review.FailureRequest{
		SourceSnapshot: snapshot,
		ErrorType:      failureType,
		ErrorMessage:   failureMessage,
		ErrorCode:      failureCode,
		StackTrace:     trace,
		ReviewID:       reviewID,
	})
	if err != nil {
		return err
	}
	if ui.JSON {
		return ui.PrintJSON(res)
	}

	fa := res.Document.FailureAnalysis
	w := ui.Out
	ui.Success("Failure analysis by %s (confidence %.2f)", res.ModelUsed, fa.ConfidenceScore)
	fmt.Fprintf(w, "  Root cause:  %s\n", fa.RootCause)
	for _, c := range fa.ContributingFactors {
		fmt.Fprintf(w, "    - %s\n", c)
	}
	if len(fa.Recommendations) > 0 {
		fmt.Fprintln(w)
		for i, r := range fa.Recommendations {
			fmt.Fprintf(w, "  %d. %s\n", i+1, r.Action)
			if r.Explanation != "" {
				ui.VerboseLog("%s", r.Explanation)
			}
		}
	}
	return nil
}

func analyzeFixRun(ctx context.Context) error {
	original, err := readOptionalFile(fixOriginal)
	if err != nil {
		return err
	}
	fixed, err := readOptionalFile(fixFixed)
	if err != nil {
		return err
	}

	o, err := getOrchestrator()
	if err != nil {
		return err
	}
	reviewID := ""
	if fixReview != "" {
		rec, err := o.Resolve(ctx, fixReview)
		if err != nil {
			return err
		}
		reviewID = rec.ReviewID
	}

	res, err := o.CompareFixes(ctx, review.FixRequest{
		OriginalSnapshot: original,
		FixedSnapshot:    fixed,
		ReviewID:         reviewID,
	})
	if err != nil {
		return err
	}
	if ui.JSON {
		return ui.PrintJSON(res)
	}

	fe := res.Document.FixEffectiveness
	w := ui.Out
	ui.Success("Fix effectiveness %.2f by %s", fe.FixEffectivenessScore, res.ModelUsed)
	fmt.Fprintf(w, "  Resolved:   %d (security %d, cost %d, reliability %d)\n",
		fe.FindingsResolved.Total, fe.FindingsResolved.Security, fe.FindingsResolved.Cost, fe.FindingsResolved.Reliability)
	fmt.Fprintf(w, "  Remaining:  %d\n", fe.FindingsRemaining.Total)
	fmt.Fprintf(w, "  Risk:       %.2f -> %.2f\n", fe.RiskReduction.Before, fe.RiskReduction.After)
	for _, r := range fe.Recommendations {
		fmt.Fprintf(w, "    - %s\n", r)
	}
	return nil
}
