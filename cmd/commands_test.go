package cmd

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joescharf/tfreview/internal/analysis"
	"github.com/joescharf/tfreview/internal/fallback"
	"github.com/joescharf/tfreview/internal/llm"
	"github.com/joescharf/tfreview/internal/models"
	"github.com/joescharf/tfreview/internal/review"
	"github.com/joescharf/tfreview/internal/store"
)

var cannedAnswers = map[models.PromptKind]string{
	models.PromptFullReview: `{"security_analysis": {"total_findings": 1, "high_severity": 1, "medium_severity": 0, "low_severity": 0,
  "findings": [{"finding_id": "s1", "category": "security", "severity": "high", "title": "Public bucket", "file_path": "main.tf", "line_number": 3}]},
 "cost_analysis": {"estimated_monthly_cost": 42, "cost_optimizations": []},
 "reliability_analysis": {"reliability_score": 0.65, "single_points_of_failure": [], "recommendations": ["add a replica"]},
 "fix_suggestions": []}`,
	models.PromptFailureAnalysis:  `{"root_cause": "missing iam:PassRole", "contributing_factors": ["role created in another stack"], "recommendations": [{"action": "grant PassRole"}], "confidence_score": 0.8}`,
	models.PromptFixEffectiveness: `{"fix_effectiveness_score": 0.9, "findings_resolved": {"total": 1, "security": 1}, "findings_remaining": {"total": 0}, "risk_reduction": {"before": 0.6, "after": 0.1}}`,
}

type cannedAnalyzer struct {
	err      error
	requests []llm.Request
}

func (a *cannedAnalyzer) Review(_ context.Context, req llm.Request) (*fallback.Outcome, error) {
	a.requests = append(a.requests, req)
	if a.err != nil {
		return nil, a.err
	}
	doc, err := analysis.Validate(cannedAnswers[req.Kind], req.Kind)
	if err != nil {
		return nil, err
	}
	return &fallback.Outcome{Document: doc, Model: llm.ModelSpec{Name: "claude-sonnet", BaseConfidence: 0.95}}, nil
}

// withAnalyzer swaps the model chain for a fake.
func withAnalyzer(t *testing.T, a review.Analyzer) {
	t.Helper()
	orig := newAnalyzer
	newAnalyzer = func() (review.Analyzer, error) { return a, nil }
	t.Cleanup(func() { newAnalyzer = orig })
}

func writeTF(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func resetReviewFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		reviewStack, reviewRunID, reviewCommit, reviewBranch, reviewFailOn = "", "", "", "", ""
		showVersion = 0
		listStack, listStatus, listSince, listMinRisk, listLimit = "", "", "", 0, 50
	})
}

func runReview(t *testing.T, stack string) *models.ReviewRecord {
	t.Helper()
	dir := t.TempDir()
	writeTF(t, dir, "main.tf", `resource "aws_s3_bucket" "logs" { acl = "public-read" }`)
	reviewStack = stack
	require.NoError(t, reviewRun(context.Background(), []string{dir}))

	s, err := getStore()
	require.NoError(t, err)
	recs, err := s.ListReviews(context.Background(), store.ReviewFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	return recs[0]
}

func TestReviewRun(t *testing.T) {
	testEnv(t)
	resetReviewFlags(t)
	buf := captureOutput(t)
	a := &cannedAnalyzer{}
	withAnalyzer(t, a)

	reviewCommit = "abc123"
	rec := runReview(t, "prod-net")

	assert.Equal(t, models.ReviewStatusCompleted, rec.Status)
	assert.Equal(t, 3, rec.Version)
	assert.Equal(t, "cli", rec.Context.Source)
	assert.Equal(t, "abc123", rec.Context.Commit)
	require.Len(t, rec.Context.ChangedFiles, 1)
	assert.True(t, strings.HasSuffix(rec.Context.ChangedFiles[0], "main.tf"))

	require.Len(t, a.requests, 1)
	assert.Contains(t, a.requests[0].Snapshot, "# file: ")
	assert.Contains(t, a.requests[0].Snapshot, "aws_s3_bucket")

	out := buf.String()
	assert.Contains(t, out, rec.ReviewID)
	assert.Contains(t, out, "Public bucket")
	assert.Contains(t, out, "main.tf:3")
	assert.Contains(t, out, "$42.00/month")
}

func TestReviewRun_FailOn(t *testing.T) {
	testEnv(t)
	resetReviewFlags(t)
	captureOutput(t)
	withAnalyzer(t, &cannedAnalyzer{})

	dir := t.TempDir()
	writeTF(t, dir, "main.tf", `resource "null_resource" "x" {}`)

	reviewFailOn = "low"
	err := reviewRun(context.Background(), []string{dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "meets --fail-on")

	reviewFailOn = "high"
	assert.NoError(t, reviewRun(context.Background(), []string{dir}))

	reviewFailOn = "extreme"
	err = reviewRun(context.Background(), []string{dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --fail-on")
}

func TestReviewRun_AllModelsFailed(t *testing.T) {
	testEnv(t)
	resetReviewFlags(t)
	buf := captureOutput(t)
	withAnalyzer(t, &cannedAnalyzer{err: &fallback.AllModelsFailedError{Failures: []models.ModelAttempt{
		{Model: "claude-sonnet", Kind: "unavailable", Message: "503", Attempts: 3},
	}}})

	dir := t.TempDir()
	writeTF(t, dir, "main.tf", `resource "null_resource" "x" {}`)

	err := reviewRun(context.Background(), []string{dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
	assert.Contains(t, buf.String(), "all_models_failed")
	assert.Contains(t, buf.String(), "unavailable")
}

func TestShowAndHistoryRun(t *testing.T) {
	testEnv(t)
	resetReviewFlags(t)
	buf := captureOutput(t)
	withAnalyzer(t, &cannedAnalyzer{})
	rec := runReview(t, "prod-net")
	ctx := context.Background()

	buf.Reset()
	require.NoError(t, showRun(ctx, rec.ReviewID[:12], 0))
	assert.Contains(t, buf.String(), "v3")
	assert.Contains(t, buf.String(), "claude-sonnet")

	buf.Reset()
	require.NoError(t, showRun(ctx, rec.ReviewID, 1))
	assert.Contains(t, buf.String(), "pending")

	assert.Error(t, showRun(ctx, rec.ReviewID, 9))
	assert.Error(t, showRun(ctx, "ZZZZZZ", 0))

	buf.Reset()
	require.NoError(t, historyRun(ctx, rec.ReviewID))
	out := buf.String()
	assert.Contains(t, out, "3 versions")
	assert.Contains(t, out, "in_progress")
	assert.Contains(t, out, "completed")
}

func TestShowRun_JSON(t *testing.T) {
	testEnv(t)
	resetReviewFlags(t)
	buf := captureOutput(t)
	withAnalyzer(t, &cannedAnalyzer{})
	rec := runReview(t, "")

	buf.Reset()
	ui.JSON = true
	require.NoError(t, showRun(context.Background(), rec.ReviewID, 0))

	var got models.ReviewRecord
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, rec.ReviewID, got.ReviewID)
	require.NotNil(t, got.RiskScore)
}

func TestListRun(t *testing.T) {
	testEnv(t)
	resetReviewFlags(t)
	buf := captureOutput(t)
	withAnalyzer(t, &cannedAnalyzer{})
	a := runReview(t, "prod-net")
	b := runReview(t, "staging")
	ctx := context.Background()

	buf.Reset()
	require.NoError(t, listRun(ctx))
	assert.Contains(t, buf.String(), shortID(a.ReviewID))
	assert.Contains(t, buf.String(), shortID(b.ReviewID))

	buf.Reset()
	listStack = "staging"
	require.NoError(t, listRun(ctx))
	assert.NotContains(t, buf.String(), shortID(a.ReviewID))
	assert.Contains(t, buf.String(), shortID(b.ReviewID))

	buf.Reset()
	listStack = ""
	listMinRisk = 0.99
	require.NoError(t, listRun(ctx))
	assert.Contains(t, buf.String(), "No reviews found")

	listMinRisk = 0
	listStatus = "bogus"
	assert.Error(t, listRun(ctx))

	listStatus = ""
	listSince = "whenever"
	assert.Error(t, listRun(ctx))
}

func TestRetryRun(t *testing.T) {
	testEnv(t)
	resetReviewFlags(t)
	captureOutput(t)
	a := &cannedAnalyzer{err: &fallback.AllModelsFailedError{}}
	withAnalyzer(t, a)

	dir := t.TempDir()
	writeTF(t, dir, "main.tf", `resource "null_resource" "x" {}`)
	require.Error(t, reviewRun(context.Background(), []string{dir}))

	s, err := getStore()
	require.NoError(t, err)
	recs, err := s.ListReviews(context.Background(), store.ReviewFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, models.ReviewStatusFailed, recs[0].Status)

	a.err = nil
	require.NoError(t, retryRun(context.Background(), recs[0].ReviewID))

	latest, err := s.GetLatest(context.Background(), recs[0].ReviewID)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusCompleted, latest.Status)
	assert.Equal(t, 6, latest.Version)
}

func TestStuckRun(t *testing.T) {
	testEnv(t)
	buf := captureOutput(t)
	withAnalyzer(t, &cannedAnalyzer{})
	t.Cleanup(func() { stuckStatus, stuckOlderThan = "pending", 0 })

	s, err := getStore()
	require.NoError(t, err)
	require.NoError(t, s.CreateReview(context.Background(), &models.ReviewRecord{
		Status:         models.ReviewStatusPending,
		SourceSnapshot: "x",
	}))

	time.Sleep(20 * time.Millisecond)
	stuckStatus = "pending"
	stuckOlderThan = 5 * time.Millisecond
	require.NoError(t, stuckRun(context.Background()))
	assert.Contains(t, buf.String(), "1 review(s) stuck")

	stuckStatus = "completed"
	assert.Error(t, stuckRun(context.Background()))
}

func TestIssuesAndTrendsRun(t *testing.T) {
	testEnv(t)
	resetReviewFlags(t)
	buf := captureOutput(t)
	withAnalyzer(t, &cannedAnalyzer{})
	runReview(t, "prod-net")
	runReview(t, "prod-net")
	ctx := context.Background()

	buf.Reset()
	require.NoError(t, issuesRun(ctx, "prod-net"))
	assert.Contains(t, buf.String(), "Public bucket")
	assert.Contains(t, buf.String(), "2")

	buf.Reset()
	require.NoError(t, issuesRun(ctx, "nothing-here"))
	assert.Contains(t, buf.String(), "No recorded issues")

	buf.Reset()
	require.NoError(t, trendsRun(ctx, "prod-net"))
	out := buf.String()
	assert.Contains(t, out, "Stack prod-net")
	assert.Contains(t, out, "2 (2 scored)")
	assert.Contains(t, out, "insufficient_data")
	assert.Contains(t, out, "Top recurring issues")

	buf.Reset()
	require.NoError(t, analyticsRun(ctx))
	assert.Contains(t, buf.String(), "2 across 1 stacks")
	assert.Contains(t, buf.String(), "Public bucket")
}

func TestAnalyzeRuns(t *testing.T) {
	testEnv(t)
	buf := captureOutput(t)
	a := &cannedAnalyzer{}
	withAnalyzer(t, a)
	t.Cleanup(func() {
		failureType, failureMessage, failureTrace, failureReview = "", "", "", ""
		fixOriginal, fixFixed, fixReview = "", "", ""
	})
	ctx := context.Background()
	dir := t.TempDir()
	orig := writeTF(t, dir, "orig.tf", `resource "aws_s3_bucket" "b" { acl = "public-read" }`)
	fixed := writeTF(t, dir, "fixed.tf", `resource "aws_s3_bucket" "b" { acl = "private" }`)
	trace := writeTF(t, dir, "trace.txt", "Error: AccessDenied\n  on main.tf line 3")

	assert.Error(t, analyzeFailureRun(ctx, []string{orig}), "needs an error type or message")

	failureMessage = "not authorized to perform iam:PassRole"
	failureTrace = trace
	require.NoError(t, analyzeFailureRun(ctx, []string{orig}))
	assert.Contains(t, buf.String(), "missing iam:PassRole")
	assert.Contains(t, buf.String(), "grant PassRole")
	require.NotNil(t, a.requests[0].Failure)
	assert.Contains(t, a.requests[0].Failure.StackTrace, "AccessDenied")

	buf.Reset()
	fixOriginal, fixFixed = orig, fixed
	require.NoError(t, analyzeFixRun(ctx))
	assert.Contains(t, buf.String(), "Fix effectiveness 0.90")
	assert.Contains(t, buf.String(), "0.60 -> 0.10")
	assert.Contains(t, a.requests[1].Fix.FixedSnapshot, `acl = "private"`)
}
