package cmd

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joescharf/tfreview/internal/output"
	"github.com/joescharf/tfreview/internal/trends"
)

var (
	issuesLimit int
	trendsDays  int
)

var issuesCmd = &cobra.Command{
	Use:   "issues <stack>",
	Short: "List findings that keep recurring in a stack",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return issuesRun(cmd.Context(), args[0])
	},
}

var trendsCmd = &cobra.Command{
	Use:   "trends [stack]",
	Short: "Show risk trends for a stack, or analytics across all stacks",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return analyticsRun(cmd.Context())
		}
		return trendsRun(cmd.Context(), args[0])
	},
}

func init() {
	issuesCmd.Flags().IntVarP(&issuesLimit, "limit", "l", 20, "Maximum issues to show")
	trendsCmd.Flags().IntVarP(&trendsDays, "days", "d", trends.DefaultDays, "Period in days")

	rootCmd.AddCommand(issuesCmd)
	rootCmd.AddCommand(trendsCmd)
}

func issuesRun(ctx context.Context, stackID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	issues, err := s.ListIssueFrequencies(ctx, stackID, issuesLimit)
	if err != nil {
		return err
	}

	if ui.JSON {
		return ui.PrintJSON(issues)
	}
	if len(issues) == 0 {
		ui.Info("No recorded issues for stack %s", stackID)
		return nil
	}

	table := ui.Table([]string{"Count", "Severity", "Category", "Title", "File", "Last Seen"})
	for _, i := range issues {
		file := i.FilePath
		if file == "" {
			file = "-"
		}
		_ = table.Append([]string{
			strconv.Itoa(i.OccurrenceCount),
			output.SeverityColor(string(i.Severity)),
			string(i.Category),
			i.Title,
			file,
			ago(i.LastSeen),
		})
	}
	return table.Render()
}

func trendsRun(ctx context.Context, stackID string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	t, err := trends.NewAggregator(s).Stack(ctx, stackID, trendsDays)
	if err != nil {
		return err
	}

	if ui.JSON {
		return ui.PrintJSON(t)
	}

	ui.Info("Stack %s, last %d days", t.StackID, t.PeriodDays)
	w := ui.Out
	fmt.Fprintf(w, "  Reviews:      %d (%d scored)\n", t.ReviewCount, t.ScoredCount)
	fmt.Fprintf(w, "  Avg risk:     %.3f\n", t.AverageRisk)
	fmt.Fprintf(w, "  Avg findings: security %.1f  cost %.1f  reliability %.1f\n",
		t.AverageSecurityFindings, t.AverageCostFindings, t.AverageReliabilityFindings)
	fmt.Fprintf(w, "  Trend:        %s\n", output.TrendColor(string(t.RiskTrend)))

	if len(t.Daily) > 0 {
		fmt.Fprintln(w)
		table := ui.Table([]string{"Date", "Reviews", "Avg Risk", "Security", "Cost", "Reliability"})
		for _, d := range t.Daily {
			_ = table.Append([]string{
				d.Date,
				strconv.Itoa(d.ReviewCount),
				fmt.Sprintf("%.3f", d.AverageRisk),
				strconv.Itoa(d.SecurityFindings),
				strconv.Itoa(d.CostFindings),
				strconv.Itoa(d.ReliabilityFindings),
			})
		}
		if err := table.Render(); err != nil {
			return err
		}
	}

	if len(t.TopIssues) > 0 {
		fmt.Fprintln(w)
		ui.Info("Top recurring issues")
		for _, i := range t.TopIssues {
			fmt.Fprintf(w, "  %3dx  %-8s %s\n", i.OccurrenceCount, output.SeverityColor(string(i.Severity)), i.Title)
		}
	}
	return nil
}

func analyticsRun(ctx context.Context) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	g, err := trends.NewAggregator(s).Global(ctx, trendsDays)
	if err != nil {
		return err
	}

	if ui.JSON {
		return ui.PrintJSON(g)
	}

	ui.Info("All stacks, last %d days", g.PeriodDays)
	w := ui.Out
	fmt.Fprintf(w, "  Reviews:   %d across %d stacks\n", g.TotalReviews, g.TotalStacks)
	fmt.Fprintf(w, "  Avg risk:  %.3f\n", g.AverageRisk)
	fmt.Fprintf(w, "  Status:    completed %d  failed %d  pending %d  in_progress %d\n",
		g.ByStatus["completed"], g.ByStatus["failed"], g.ByStatus["pending"], g.ByStatus["in_progress"])
	fmt.Fprintf(w, "  Risk:      high %d  medium %d  low %d\n",
		g.ByRiskLevel["high"], g.ByRiskLevel["medium"], g.ByRiskLevel["low"])
	fmt.Fprintf(w, "  Stacks:    %s %d  %s %d  stable %d\n",
		output.Green("improving"), g.ImprovingStacks, output.Red("degrading"), g.DegradingStacks, g.StableStacks)

	if len(g.TopFindings) > 0 {
		fmt.Fprintln(w)
		table := ui.Table([]string{"Reviews", "Category", "Finding"})
		for _, f := range g.TopFindings {
			_ = table.Append([]string{strconv.Itoa(f.Count), string(f.Category), f.Title})
		}
		return table.Render()
	}
	return nil
}
