// Package trends aggregates review history into per-stack and global views.
package trends

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/joescharf/tfreview/internal/models"
	"github.com/joescharf/tfreview/internal/store"
)

// RiskTrend is the direction of a stack's risk over a period.
type RiskTrend string

const (
	TrendImproving        RiskTrend = "improving"
	TrendDegrading        RiskTrend = "degrading"
	TrendStable           RiskTrend = "stable"
	TrendInsufficientData RiskTrend = "insufficient_data"
)

// DefaultDays is the window used when a caller passes no period.
const DefaultDays = 30

// minScoredForTrend is the fewest scored reviews needed to compare halves.
const minScoredForTrend = 4

const (
	topIssueLimit   = 10
	topFindingLimit = 10
	dayLayout       = "2006-01-02"
)

// DailyPoint summarises the reviews submitted on one UTC day.
type DailyPoint struct {
	Date                string  `json:"date"`
	ReviewCount         int     `json:"review_count"`
	AverageRisk         float64 `json:"average_risk"`
	SecurityFindings    int     `json:"security_findings"`
	CostFindings        int     `json:"cost_findings"`
	ReliabilityFindings int     `json:"reliability_findings"`
}

// StackTrends is the trend view of one stack.
type StackTrends struct {
	StackID                    string                   `json:"stack_id"`
	PeriodDays                 int                      `json:"period_days"`
	ReviewCount                int                      `json:"review_count"`
	ScoredCount                int                      `json:"scored_count"`
	AverageRisk                float64                  `json:"average_risk"`
	AverageSecurityFindings    float64                  `json:"average_security_findings"`
	AverageCostFindings        float64                  `json:"average_cost_findings"`
	AverageReliabilityFindings float64                  `json:"average_reliability_findings"`
	RiskTrend                  RiskTrend                `json:"risk_trend"`
	Daily                      []DailyPoint             `json:"daily"`
	TopIssues                  []*models.IssueFrequency `json:"top_issues,omitempty"`
}

// TitleCount is a finding title and how many reviews reported it.
type TitleCount struct {
	Title    string          `json:"title"`
	Category models.Category `json:"category"`
	Count    int             `json:"count"`
}

// GlobalAnalytics summarises every stack over a period.
type GlobalAnalytics struct {
	PeriodDays      int            `json:"period_days"`
	TotalReviews    int            `json:"total_reviews"`
	TotalStacks     int            `json:"total_stacks"`
	ByStatus        map[string]int `json:"by_status"`
	ByRiskLevel     map[string]int `json:"by_risk_level"`
	AverageRisk     float64        `json:"average_risk"`
	ImprovingStacks int            `json:"improving_stacks"`
	DegradingStacks int            `json:"degrading_stacks"`
	StableStacks    int            `json:"stable_stacks"`
	TopFindings     []TitleCount   `json:"top_findings"`
}

// Aggregator computes trends from the review store.
type Aggregator struct {
	store store.Store
	now   func() time.Time
}

// NewAggregator returns an Aggregator reading from s.
func NewAggregator(s store.Store) *Aggregator {
	return &Aggregator{store: s, now: time.Now}
}

// Stack returns the trends of one stack over the last days.
func (a *Aggregator) Stack(ctx context.Context, stackID string, days int) (*StackTrends, error) {
	days = normalizeDays(days)
	recs, err := a.store.ByStack(ctx, stackID, store.TimeRange{From: a.since(days)}, 0)
	if err != nil {
		return nil, fmt.Errorf("stack trends: %w", err)
	}
	t := Summarize(stackID, days, recs)

	issues, err := a.store.ListIssueFrequencies(ctx, stackID, topIssueLimit)
	if err != nil {
		return nil, fmt.Errorf("stack trends: %w", err)
	}
	t.TopIssues = issues
	return t, nil
}

// Global returns analytics across all stacks over the last days.
func (a *Aggregator) Global(ctx context.Context, days int) (*GlobalAnalytics, error) {
	days = normalizeDays(days)
	recs, err := a.store.ListReviews(ctx, store.ReviewFilter{From: a.since(days)})
	if err != nil {
		return nil, fmt.Errorf("global analytics: %w", err)
	}
	stacks, err := a.store.ListStacks(ctx)
	if err != nil {
		return nil, fmt.Errorf("global analytics: %w", err)
	}

	g := &GlobalAnalytics{
		PeriodDays:   days,
		TotalReviews: len(recs),
		TotalStacks:  len(stacks),
		ByStatus:     map[string]int{},
		ByRiskLevel:  map[string]int{},
	}

	byStack := map[string][]*models.ReviewRecord{}
	titles := map[string]*TitleCount{}
	var riskSum float64
	var scored int
	for _, rec := range recs {
		g.ByStatus[string(rec.Status)]++
		if id := rec.StackID(); id != "" {
			byStack[id] = append(byStack[id], rec)
		}
		if rec.RiskScore == nil {
			continue
		}
		scored++
		riskSum += *rec.RiskScore
		g.ByRiskLevel[string(rec.RiskLevel)]++
		countTitles(titles, rec)
	}
	if scored > 0 {
		g.AverageRisk = riskSum / float64(scored)
	}

	for _, id := range stacks {
		switch Summarize(id, days, byStack[id]).RiskTrend {
		case TrendImproving:
			g.ImprovingStacks++
		case TrendDegrading:
			g.DegradingStacks++
		case TrendStable:
			g.StableStacks++
		}
	}

	g.TopFindings = topTitles(titles, topFindingLimit)
	return g, nil
}

func (a *Aggregator) since(days int) time.Time {
	return a.now().UTC().AddDate(0, 0, -days)
}

// Summarize builds the trend view of recs, which may be in any order.
func Summarize(stackID string, days int, recs []*models.ReviewRecord) *StackTrends {
	t := &StackTrends{
		StackID:     stackID,
		PeriodDays:  days,
		ReviewCount: len(recs),
		RiskTrend:   TrendInsufficientData,
		Daily:       []DailyPoint{},
	}

	ordered := append([]*models.ReviewRecord(nil), recs...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SubmittedAt.Before(ordered[j].SubmittedAt)
	})

	var risks []float64
	var security, cost, reliability int
	daily := map[string]*DailyPoint{}
	var dayOrder []string
	dayRisk := map[string][]float64{}

	for _, rec := range ordered {
		day := rec.SubmittedAt.UTC().Format(dayLayout)
		p, ok := daily[day]
		if !ok {
			p = &DailyPoint{Date: day}
			daily[day] = p
			dayOrder = append(dayOrder, day)
		}
		p.ReviewCount++

		if rec.RiskScore == nil || rec.Analysis == nil {
			continue
		}
		risks = append(risks, *rec.RiskScore)
		dayRisk[day] = append(dayRisk[day], *rec.RiskScore)

		s := rec.Analysis.SecurityAnalysis.TotalFindings
		c := len(rec.Analysis.CostAnalysis.CostOptimizations)
		r := len(rec.Analysis.ReliabilityAnalysis.SinglePointsOfFailure)
		security += s
		cost += c
		reliability += r
		p.SecurityFindings += s
		p.CostFindings += c
		p.ReliabilityFindings += r
	}

	for _, day := range dayOrder {
		p := daily[day]
		p.AverageRisk = mean(dayRisk[day])
		t.Daily = append(t.Daily, *p)
	}

	t.ScoredCount = len(risks)
	if n := float64(len(risks)); n > 0 {
		t.AverageRisk = mean(risks)
		t.AverageSecurityFindings = float64(security) / n
		t.AverageCostFindings = float64(cost) / n
		t.AverageReliabilityFindings = float64(reliability) / n
	}
	t.RiskTrend = Direction(risks)
	return t
}

// Direction compares the mean of the first half of risks (oldest first)
// with the second half.
func Direction(risks []float64) RiskTrend {
	if len(risks) < minScoredForTrend {
		return TrendInsufficientData
	}
	half := len(risks) / 2
	first, second := mean(risks[:half]), mean(risks[half:])
	switch {
	case second < first:
		return TrendImproving
	case second > first:
		return TrendDegrading
	default:
		return TrendStable
	}
}

func countTitles(titles map[string]*TitleCount, rec *models.ReviewRecord) {
	if rec.Analysis == nil {
		return
	}
	seen := map[string]bool{}
	for _, f := range rec.Analysis.Findings() {
		key := string(f.Category) + "|" + strings.ToLower(strings.Join(strings.Fields(f.Title), " "))
		if seen[key] {
			continue
		}
		seen[key] = true
		tc, ok := titles[key]
		if !ok {
			tc = &TitleCount{Title: f.Title, Category: f.Category}
			titles[key] = tc
		}
		tc.Count++
	}
}

func topTitles(titles map[string]*TitleCount, limit int) []TitleCount {
	out := make([]TitleCount, 0, len(titles))
	for _, tc := range titles {
		out = append(out, *tc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Title < out[j].Title
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func normalizeDays(days int) int {
	if days <= 0 {
		return DefaultDays
	}
	return days
}
