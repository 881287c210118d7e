package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/tfreview/internal/models"
	"github.com/joescharf/tfreview/internal/output"
	"github.com/joescharf/tfreview/internal/store"
)

var (
	showVersion int

	listStack   string
	listStatus  string
	listSince   string
	listMinRisk float64
	listLimit   int

	stuckStatus    string
	stuckOlderThan time.Duration
)

var showCmd = &cobra.Command{
	Use:   "show <review-id>",
	Short: "Show a review (latest version unless --version)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return showRun(cmd.Context(), args[0], showVersion)
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <review-id>",
	Short: "List every version of a review",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyRun(cmd.Context(), args[0])
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List reviews, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listRun(cmd.Context())
	},
}

var stuckCmd = &cobra.Command{
	Use:   "stuck",
	Short: "List reviews left pending or in_progress too long",
	Long: `List reviews whose latest version has stayed pending or in_progress
longer than --older-than (default review.stuck_after). These usually
belong to a server that stopped mid-review.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return stuckRun(cmd.Context())
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <review-id>",
	Short: "Run a completed or failed review again as a new version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return retryRun(cmd.Context(), args[0])
	},
}

func init() {
	showCmd.Flags().IntVar(&showVersion, "version", 0, "Show a specific version")

	listCmd.Flags().StringVarP(&listStack, "stack", "s", "", "Filter by stack")
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by status: pending, in_progress, completed, failed")
	listCmd.Flags().StringVar(&listSince, "since", "", "Only reviews submitted since a duration (24h) or date (2006-01-02)")
	listCmd.Flags().Float64Var(&listMinRisk, "min-risk", 0, "Only reviews with risk at or above this score")
	listCmd.Flags().IntVarP(&listLimit, "limit", "l", 50, "Maximum reviews to show")

	stuckCmd.Flags().StringVar(&stuckStatus, "status", "pending", "pending or in_progress")
	stuckCmd.Flags().DurationVar(&stuckOlderThan, "older-than", 0, "Age threshold (default review.stuck_after)")

	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(stuckCmd)
	rootCmd.AddCommand(retryCmd)
}

func showRun(ctx context.Context, id string, version int) error {
	o, err := getOrchestrator()
	if err != nil {
		return err
	}
	rec, err := o.Resolve(ctx, id)
	if err != nil {
		return err
	}
	if version > 0 && version != rec.Version {
		s, err := getStore()
		if err != nil {
			return err
		}
		if rec, err = s.GetVersion(ctx, rec.ReviewID, version); err != nil {
			return err
		}
	}
	return printReview(rec)
}

func historyRun(ctx context.Context, id string) error {
	o, err := getOrchestrator()
	if err != nil {
		return err
	}
	latest, err := o.Resolve(ctx, id)
	if err != nil {
		return err
	}
	s, err := getStore()
	if err != nil {
		return err
	}
	hist, err := s.History(ctx, latest.ReviewID, store.Page{})
	if err != nil {
		return err
	}

	if ui.JSON {
		return ui.PrintJSON(hist)
	}

	ui.Info("Review %s: %d versions", latest.ReviewID, len(hist))
	table := ui.Table([]string{"Version", "Status", "Risk", "Model", "Created", "Error"})
	for _, r := range hist {
		errText := ""
		if r.Error != nil {
			errText = r.Error.Code
		}
		_ = table.Append([]string{
			strconv.Itoa(r.Version),
			output.StatusColor(string(r.Status)),
			riskText(r),
			r.ModelUsed,
			r.CreatedAt.Local().Format(time.DateTime),
			errText,
		})
	}
	return table.Render()
}

func listRun(ctx context.Context) error {
	filter := store.ReviewFilter{
		StackID: listStack,
		Status:  models.ReviewStatus(listStatus),
		Limit:   listLimit,
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return fmt.Errorf("invalid status %q", listStatus)
	}
	if listSince != "" {
		from, err := parseSince(listSince, time.Now())
		if err != nil {
			return err
		}
		filter.From = from
	}
	if listMinRisk > 0 {
		filter.MinRisk = &listMinRisk
	}

	s, err := getStore()
	if err != nil {
		return err
	}
	recs, err := s.ListReviews(ctx, filter)
	if err != nil {
		return err
	}
	return printReviewTable(recs)
}

// parseSince accepts a duration back from now or a calendar date.
func parseSince(v string, now time.Time) (time.Time, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return now.Add(-d), nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, v, time.Local); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid --since %q: use a duration like 24h or a date like 2006-01-02", v)
}

func stuckRun(ctx context.Context) error {
	o, err := getOrchestrator()
	if err != nil {
		return err
	}
	status := models.ReviewStatus(stuckStatus)
	if !status.Valid() {
		return fmt.Errorf("invalid status %q", stuckStatus)
	}
	recs, err := o.Stuck(ctx, status, stuckOlderThan)
	if err != nil {
		return err
	}
	if len(recs) > 0 && !ui.JSON {
		ui.Warning("%d review(s) stuck in %s", len(recs), status)
	}
	return printReviewTable(recs)
}

func retryRun(ctx context.Context, id string) error {
	o, err := getOrchestrator()
	if err != nil {
		return err
	}
	rec, err := o.Resolve(ctx, id)
	if err != nil {
		return err
	}
	next, err := o.Retry(ctx, rec.ReviewID)
	if err != nil {
		return err
	}
	ui.VerboseLog("Review %s reset to pending as v%d", next.ReviewID, next.Version)

	done, err := o.Process(ctx, next.ReviewID)
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
	return nil
}
