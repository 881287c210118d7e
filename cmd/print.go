package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/joescharf/tfreview/internal/models"
	"github.com/joescharf/tfreview/internal/output"
)

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func riskText(rec *models.ReviewRecord) string {
	return output.RiskColor(rec.RiskScore, string(rec.RiskLevel))
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t).Round(time.Second)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

// printReview renders one version with its findings or failure detail.
func printReview(rec *models.ReviewRecord) error {
	if ui.JSON {
		return ui.PrintJSON(rec)
	}

	switch rec.Status {
	case models.ReviewStatusCompleted:
		ui.Success("Review %s %s (v%d)", rec.ReviewID, output.StatusColor(string(rec.Status)), rec.Version)
	case models.ReviewStatusFailed:
		ui.Error("Review %s %s (v%d)", rec.ReviewID, output.StatusColor(string(rec.Status)), rec.Version)
	default:
		ui.Info("Review %s %s (v%d)", rec.ReviewID, output.StatusColor(string(rec.Status)), rec.Version)
	}

	w := ui.Out
	if s := rec.StackID(); s != "" {
		fmt.Fprintf(w, "  Stack:       %s\n", s)
	}
	fmt.Fprintf(w, "  Submitted:   %s (%s)\n", rec.SubmittedAt.Local().Format(time.DateTime), ago(rec.SubmittedAt))
	if rec.RiskScore != nil {
		fmt.Fprintf(w, "  Risk:        %s\n", riskText(rec))
	}
	if b := rec.RiskBreakdown; b != nil {
		fmt.Fprintf(w, "  Breakdown:   security %.3f  cost %.3f  reliability %.3f\n", b.Security, b.Cost, b.Reliability)
	}
	if rec.ConfidenceScore != nil {
		fmt.Fprintf(w, "  Confidence:  %.2f\n", *rec.ConfidenceScore)
	}
	if rec.ModelUsed != "" {
		fmt.Fprintf(w, "  Model:       %s (prompt %s)\n", rec.ModelUsed, rec.PromptVersion)
	}

	if a := rec.Analysis; a != nil {
		if c := a.CostAnalysis.EstimatedMonthlyCost; c > 0 {
			fmt.Fprintf(w, "  Est. cost:   $%.2f/month\n", c)
		}
		findings := a.Findings()
		fmt.Fprintln(w)
		if len(findings) == 0 {
			ui.Success("No findings")
		} else {
			table := ui.Table([]string{"ID", "Severity", "Category", "Title", "Location"})
			for _, f := range findings {
				_ = table.Append([]string{
					f.FindingID,
					output.SeverityColor(string(f.Severity)),
					string(f.Category),
					f.Title,
					location(f),
				})
			}
			_ = table.Render()
		}
		if ui.Verbose {
			for _, r := range a.ReliabilityAnalysis.Recommendations {
				ui.VerboseLog("%s", r)
			}
		}
	}

	if e := rec.Error; e != nil {
		fmt.Fprintf(w, "  Error:       %s: %s\n", e.Code, e.Message)
		if len(e.Attempts) > 0 {
			fmt.Fprintln(w)
			table := ui.Table([]string{"Model", "Kind", "Attempts", "Last Error"})
			for _, at := range e.Attempts {
				_ = table.Append([]string{at.Model, at.Kind, strconv.Itoa(at.Attempts), at.Message})
			}
			_ = table.Render()
		}
	}
	return nil
}

func location(f *models.Finding) string {
	if f.FilePath == "" {
		return "-"
	}
	if f.LineNumber != nil {
		return fmt.Sprintf("%s:%d", f.FilePath, *f.LineNumber)
	}
	return f.FilePath
}

// printReviewTable renders records one per row.
func printReviewTable(recs []*models.ReviewRecord) error {
	if ui.JSON {
		if recs == nil {
			recs = []*models.ReviewRecord{}
		}
		return ui.PrintJSON(recs)
	}
	if len(recs) == 0 {
		ui.Info("No reviews found")
		return nil
	}

	table := ui.Table([]string{"ID", "Stack", "Status", "Version", "Risk", "Model", "Submitted"})
	for _, r := range recs {
		stack := r.StackID()
		if stack == "" {
			stack = "-"
		}
		_ = table.Append([]string{
			shortID(r.ReviewID),
			stack,
			output.StatusColor(string(r.Status)),
			strconv.Itoa(r.Version),
			riskText(r),
			r.ModelUsed,
			ago(r.SubmittedAt),
		})
	}
	return table.Render()
}
