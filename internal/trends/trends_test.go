package trends

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tfreview/internal/models"
	"github.com/joescharf/tfreview/internal/store"
)

func scoredReview(stack string, at time.Time, risk float64, titles ...string) *models.ReviewRecord {
	var findings []models.Finding
	for _, title := range titles {
		findings = append(findings, models.Finding{Category: models.CategorySecurity, Severity: models.SeverityHigh, Title: title})
	}
	return &models.ReviewRecord{
		Status:      models.ReviewStatusCompleted,
		Context:     &models.ReviewContext{StackID: stack},
		SubmittedAt: at,
		RiskScore:   &risk,
		RiskLevel:   levelFor(risk),
		Analysis: &models.FullReview{
			SecurityAnalysis: models.SecurityAnalysis{TotalFindings: len(findings), Findings: findings},
			CostAnalysis:     models.CostAnalysis{CostOptimizations: make([]models.Finding, 1)},
		},
	}
}

func levelFor(risk float64) models.RiskLevel {
	switch {
	case risk >= 0.7:
		return models.RiskLevelHigh
	case risk >= 0.4:
		return models.RiskLevelMedium
	}
	return models.RiskLevelLow
}

func TestDirection(t *testing.T) {
	tests := []struct {
		name  string
		risks []float64
		want  RiskTrend
	}{
		{"too few", []float64{0.9, 0.1, 0.1}, TrendInsufficientData},
		{"improving", []float64{0.8, 0.7, 0.3, 0.2}, TrendImproving},
		{"degrading", []float64{0.1, 0.2, 0.5, 0.6}, TrendDegrading},
		{"stable", []float64{0.5, 0.5, 0.5, 0.5}, TrendStable},
		{"odd count puts extra in second half", []float64{0.2, 0.2, 0.2, 0.2, 0.9}, TrendDegrading},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Direction(tt.risks))
		})
	}
}

func TestSummarize(t *testing.T) {
	day1 := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	day2 := day1.Add(24 * time.Hour)

	pending := &models.ReviewRecord{Status: models.ReviewStatusPending, SubmittedAt: day2.Add(time.Hour)}
	recs := []*models.ReviewRecord{
		// newest first, as the store returns them
		scoredReview("net", day2.Add(2*time.Hour), 0.2, "a"),
		pending,
		scoredReview("net", day2, 0.3),
		scoredReview("net", day1.Add(time.Hour), 0.7, "a", "b"),
		scoredReview("net", day1, 0.8, "a"),
	}

	st := Summarize("net", 30, recs)
	assert.Equal(t, 5, st.ReviewCount)
	assert.Equal(t, 4, st.ScoredCount)
	assert.InDelta(t, 0.5, st.AverageRisk, 1e-9)
	assert.InDelta(t, 1.0, st.AverageSecurityFindings, 1e-9)
	assert.InDelta(t, 1.0, st.AverageCostFindings, 1e-9)
	assert.Equal(t, TrendImproving, st.RiskTrend)

	require.Len(t, st.Daily, 2)
	assert.Equal(t, "2025-05-01", st.Daily[0].Date)
	assert.Equal(t, 2, st.Daily[0].ReviewCount)
	assert.InDelta(t, 0.75, st.Daily[0].AverageRisk, 1e-9)
	assert.Equal(t, 3, st.Daily[0].SecurityFindings)
	assert.Equal(t, 3, st.Daily[1].ReviewCount)
	assert.InDelta(t, 0.25, st.Daily[1].AverageRisk, 1e-9)
}

func TestSummarize_Empty(t *testing.T) {
	st := Summarize("net", 7, nil)
	assert.Equal(t, 0, st.ReviewCount)
	assert.Equal(t, TrendInsufficientData, st.RiskTrend)
	assert.NotNil(t, st.Daily)
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

// seed writes rec as a pending version 1 followed by its final version.
func seed(t *testing.T, s store.Store, rec *models.ReviewRecord) {
	t.Helper()
	ctx := context.Background()
	v1 := &models.ReviewRecord{
		Status:         models.ReviewStatusPending,
		SourceSnapshot: "x",
		Context:        rec.Context,
		SubmittedAt:    rec.SubmittedAt,
	}
	require.NoError(t, s.CreateReview(ctx, v1))
	if rec.Status == models.ReviewStatusPending {
		return
	}
	rec.ReviewID = v1.ReviewID
	rec.SourceSnapshot = "x"
	require.NoError(t, s.AppendVersion(ctx, rec))
}

func TestAggregator(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, risk := range []float64{0.9, 0.8, 0.3, 0.2} {
		seed(t, s, scoredReview("net", now.Add(time.Duration(i-10)*time.Hour), risk, "Public bucket"))
	}
	seed(t, s, scoredReview("data", now.Add(-time.Hour), 0.5, "public  BUCKET", "Open SG"))
	seed(t, s, scoredReview("net", now.AddDate(0, 0, -60), 0.99))
	seed(t, s, &models.ReviewRecord{Status: models.ReviewStatusPending, Context: &models.ReviewContext{StackID: "data"}, SubmittedAt: now})

	_, err := s.RecordIssueOccurrence(ctx, "net", "r1", models.Finding{Category: models.CategorySecurity, Severity: models.SeverityHigh, Title: "Public bucket"}, now)
	require.NoError(t, err)

	agg := NewAggregator(s)

	st, err := agg.Stack(ctx, "net", 30)
	require.NoError(t, err)
	assert.Equal(t, 4, st.ReviewCount, "old review is outside the window")
	assert.Equal(t, TrendImproving, st.RiskTrend)
	require.Len(t, st.TopIssues, 1)
	assert.Equal(t, "Public bucket", st.TopIssues[0].Title)

	g, err := agg.Global(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultDays, g.PeriodDays)
	assert.Equal(t, 6, g.TotalReviews)
	assert.Equal(t, 2, g.TotalStacks)
	assert.Equal(t, 5, g.ByStatus["completed"])
	assert.Equal(t, 1, g.ByStatus["pending"])
	assert.Equal(t, 2, g.ByRiskLevel["high"])
	assert.Equal(t, 1, g.ByRiskLevel["medium"])
	assert.Equal(t, 2, g.ByRiskLevel["low"])
	assert.InDelta(t, 0.54, g.AverageRisk, 1e-9)
	assert.Equal(t, 1, g.ImprovingStacks)
	require.NotEmpty(t, g.TopFindings)
	assert.Equal(t, 5, g.TopFindings[0].Count, "titles are matched case and space insensitively")
}
