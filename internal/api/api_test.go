package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
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
	"github.com/joescharf/tfreview/internal/trends"
)

const fullReviewAnswer = `{"security_analysis": {"total_findings": 1, "high_severity": 1, "medium_severity": 0, "low_severity": 0,
  "findings": [{"finding_id": "s1", "category": "security", "severity": "high", "title": "Public bucket", "file_path": "s3.tf"}]},
 "cost_analysis": {"estimated_monthly_cost": 12.5, "cost_optimizations": []},
 "reliability_analysis": {"reliability_score": 0.65, "single_points_of_failure": [], "recommendations": []},
 "fix_suggestions": []}`

const failureAnswer = `{"root_cause": "missing iam:PassRole", "recommendations": [{"action": "grant PassRole"}], "confidence_score": 0.8}`

const fixAnswer = `{"fix_effectiveness_score": 0.9, "findings_resolved": {"total": 1, "security": 1}, "risk_reduction": {"before": 0.6, "after": 0.1}}`

const snapshot = `resource "aws_s3_bucket" "logs" { acl = "public-read" }`

// cannedAnalyzer answers each prompt kind with a fixed document.
type cannedAnalyzer struct {
	mu      sync.Mutex
	answers map[models.PromptKind]string
	err     error
}

func (a *cannedAnalyzer) Review(_ context.Context, req llm.Request) (*fallback.Outcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	doc, err := analysis.Validate(a.answers[req.Kind], req.Kind)
	if err != nil {
		return nil, err
	}
	return &fallback.Outcome{Document: doc, Model: llm.ModelSpec{Name: "claude-sonnet", BaseConfidence: 0.9}}, nil
}

func (a *cannedAnalyzer) failWith(err error) {
	a.mu.Lock()
	a.err = err
	a.mu.Unlock()
}

type testEnv struct {
	router   http.Handler
	store    store.Store
	reviews  *review.Orchestrator
	analyzer *cannedAnalyzer
}

func setupTestServer(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := store.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })

	a := &cannedAnalyzer{answers: map[models.PromptKind]string{
		models.PromptFullReview:       fullReviewAnswer,
		models.PromptFailureAnalysis:  failureAnswer,
		models.PromptFixEffectiveness: fixAnswer,
	}}
	o := review.NewOrchestrator(s, a, review.Config{MaxConcurrent: 2, ProcessTimeout: 5 * time.Second, StuckAfter: time.Minute})
	t.Cleanup(o.Close)

	srv := NewServer(s, o, nil)
	return &testEnv{router: srv.Router(), store: s, reviews: o, analyzer: a}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) submit(t *testing.T, stack string) string {
	t.Helper()
	body, _ := json.Marshal(review.SubmitRequest{
		SourceSnapshot: snapshot,
		Context:        &models.ReviewContext{StackID: stack, RunID: "run-1"},
	})
	w := e.do(t, "POST", "/api/v1/reviews", string(body))
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	e.reviews.Wait()
	return resp["review_id"].(string)
}

func TestListReviews_Empty(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, "GET", "/api/v1/reviews", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestSubmitReview_ProcessesAsync(t *testing.T) {
	env := setupTestServer(t)

	body := `{"source_snapshot": "resource \"null_resource\" \"x\" {}", "context": {"stack_id": "prod-net"}}`
	w := env.do(t, "POST", "/api/v1/reviews", body)
	require.Equal(t, http.StatusAccepted, w.Code)

	var accepted struct {
		ReviewID string              `json:"review_id"`
		Version  int                 `json:"version"`
		Status   models.ReviewStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	assert.NotEmpty(t, accepted.ReviewID)
	assert.Equal(t, 1, accepted.Version)
	assert.Equal(t, models.ReviewStatusPending, accepted.Status)

	env.reviews.Wait()

	w = env.do(t, "GET", "/api/v1/reviews/"+accepted.ReviewID, "")
	require.Equal(t, http.StatusOK, w.Code)
	var rec models.ReviewRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, models.ReviewStatusCompleted, rec.Status)
	assert.Equal(t, 3, rec.Version)
	require.NotNil(t, rec.RiskScore)
	assert.Equal(t, "api", rec.Context.Source)
	assert.Equal(t, "claude-sonnet", rec.ModelUsed)
}

func TestSubmitReview_BadRequests(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, "POST", "/api/v1/reviews", `{not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "POST", "/api/v1/reviews", `{"source_snapshot": "   "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "snapshot is empty")
}

func TestGetReview_NotFoundAndPrefix(t *testing.T) {
	env := setupTestServer(t)
	id := env.submit(t, "prod-net")

	w := env.do(t, "GET", "/api/v1/reviews/01NOPE", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, "GET", "/api/v1/reviews/"+id[:12], "")
	require.Equal(t, http.StatusOK, w.Code)
	var rec models.ReviewRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, id, rec.ReviewID)
}

func TestReviewVersions(t *testing.T) {
	env := setupTestServer(t)
	id := env.submit(t, "prod-net")

	w := env.do(t, "GET", "/api/v1/reviews/"+id+"/versions", "")
	require.Equal(t, http.StatusOK, w.Code)
	var hist []models.ReviewRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	require.Len(t, hist, 3)
	assert.Equal(t, models.ReviewStatusPending, hist[0].Status)
	assert.Equal(t, models.ReviewStatusCompleted, hist[2].Status)

	w = env.do(t, "GET", "/api/v1/reviews/"+id+"/versions?after=1&limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	require.Len(t, hist, 1)
	assert.Equal(t, 2, hist[0].Version)

	w = env.do(t, "GET", "/api/v1/reviews/"+id+"/versions/2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var v2 models.ReviewRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v2))
	assert.Equal(t, models.ReviewStatusInProgress, v2.Status)
	assert.Equal(t, models.VersionRef(id, 1), v2.PreviousVersionRef)

	w = env.do(t, "GET", "/api/v1/reviews/"+id+"/versions/9", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, "GET", "/api/v1/reviews/"+id+"/versions/zero", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "GET", "/api/v1/reviews/"+id+"/versions?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRetryReview(t *testing.T) {
	env := setupTestServer(t)
	env.analyzer.failWith(&fallback.AllModelsFailedError{})
	id := env.submit(t, "prod-net")

	rec, err := env.store.GetLatest(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, models.ReviewStatusFailed, rec.Status)

	env.analyzer.failWith(nil)
	w := env.do(t, "POST", "/api/v1/reviews/"+id+"/retry", "")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	env.reviews.Wait()

	rec, err = env.store.GetLatest(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusCompleted, rec.Status)
	assert.Equal(t, 6, rec.Version)

	w = env.do(t, "POST", "/api/v1/reviews/01NOPE/retry", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListReviews_Filters(t *testing.T) {
	env := setupTestServer(t)
	env.submit(t, "prod-net")
	env.submit(t, "prod-net")
	env.submit(t, "staging")

	var recs []models.ReviewRecord

	w := env.do(t, "GET", "/api/v1/reviews?stack_id=prod-net", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	assert.Len(t, recs, 2)

	w = env.do(t, "GET", "/api/v1/reviews?status=completed&limit=1", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	assert.Len(t, recs, 1)

	w = env.do(t, "GET", "/api/v1/reviews?min_risk=0.99", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = env.do(t, "GET", "/api/v1/reviews?from=2000-01-01", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	assert.Len(t, recs, 3)

	for _, q := range []string{"status=bogus", "min_risk=2", "from=yesterday", "limit=x"} {
		w = env.do(t, "GET", "/api/v1/reviews?"+q, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestStuckReviews(t *testing.T) {
	env := setupTestServer(t)
	ctx := context.Background()

	old := &models.ReviewRecord{
		Status:         models.ReviewStatusPending,
		SourceSnapshot: snapshot,
		SubmittedAt:    time.Now().Add(-time.Hour),
	}
	require.NoError(t, env.store.CreateReview(ctx, old))

	w := env.do(t, "GET", "/api/v1/reviews/stuck?older_than=-1s", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, "GET", "/api/v1/reviews/stuck?status=completed", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "GET", "/api/v1/reviews/stuck?older_than=soon", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStacks(t *testing.T) {
	env := setupTestServer(t)
	id := env.submit(t, "prod-net")
	env.submit(t, "prod-net")
	env.submit(t, "staging")

	w := env.do(t, "GET", "/api/v1/stacks", "")
	require.Equal(t, http.StatusOK, w.Code)
	var stacks []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stacks))
	assert.ElementsMatch(t, []string{"prod-net", "staging"}, stacks)

	w = env.do(t, "GET", "/api/v1/stacks/prod-net/reviews?days=7", "")
	require.Equal(t, http.StatusOK, w.Code)
	var recs []models.ReviewRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	assert.Len(t, recs, 2)

	w = env.do(t, "GET", "/api/v1/stacks/prod-net/issues", "")
	require.Equal(t, http.StatusOK, w.Code)
	var issues []models.IssueFrequency
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issues))
	require.Len(t, issues, 1)
	assert.Equal(t, "Public bucket", issues[0].Title)
	assert.Equal(t, 2, issues[0].OccurrenceCount)
	assert.Contains(t, issues[0].AffectedReviewIDs, id)

	w = env.do(t, "GET", "/api/v1/stacks/prod-net/trends?days=7", "")
	require.Equal(t, http.StatusOK, w.Code)
	var tr trends.StackTrends
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tr))
	assert.Equal(t, "prod-net", tr.StackID)
	assert.Equal(t, 7, tr.PeriodDays)
	assert.Equal(t, 2, tr.ReviewCount)
	assert.Equal(t, trends.TrendInsufficientData, tr.RiskTrend)
}

func TestAnalytics(t *testing.T) {
	env := setupTestServer(t)
	env.submit(t, "prod-net")
	env.submit(t, "staging")

	w := env.do(t, "GET", "/api/v1/analytics", "")
	require.Equal(t, http.StatusOK, w.Code)
	var g trends.GlobalAnalytics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &g))
	assert.Equal(t, 2, g.TotalReviews)
	assert.Equal(t, 2, g.TotalStacks)
	assert.Equal(t, 2, g.ByStatus["completed"])

	w = env.do(t, "GET", "/api/v1/analytics?days=abc", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyzeFailure(t *testing.T) {
	env := setupTestServer(t)

	body := `{"source_snapshot": "resource \"aws_iam_role\" \"r\" {}", "error_type": "AccessDenied", "error_message": "not authorized to perform iam:PassRole"}`
	w := env.do(t, "POST", "/api/v1/analyses/failure", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res review.AnalysisResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotNil(t, res.Document.FailureAnalysis)
	assert.Equal(t, "missing iam:PassRole", res.Document.FailureAnalysis.RootCause)

	w = env.do(t, "POST", "/api/v1/analyses/failure", `{"source_snapshot": "x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCompareFixes(t *testing.T) {
	env := setupTestServer(t)
	id := env.submit(t, "prod-net")

	body, _ := json.Marshal(review.FixRequest{
		OriginalSnapshot: snapshot,
		FixedSnapshot:    `resource "aws_s3_bucket" "logs" { acl = "private" }`,
		ReviewID:         id,
	})
	w := env.do(t, "POST", "/api/v1/analyses/fix-effectiveness", string(body))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res review.AnalysisResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.NotNil(t, res.Document.FixEffectiveness)
	assert.InDelta(t, 0.9, res.Document.FixEffectiveness.FixEffectivenessScore, 1e-9)

	env.analyzer.failWith(&fallback.AllModelsFailedError{})
	w = env.do(t, "POST", "/api/v1/analyses/fix-effectiveness", string(body))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, "GET", "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = env.do(t, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestCORSPreflight(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, "OPTIONS", "/api/v1/reviews", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

const runEventBody = `{
  "event": {"type": "run:finished"},
  "run": {
    "id": "01RUN42",
    "stack": {"id": "prod-net"},
    "state": "FINISHED",
    "previous_state": "APPLYING",
    "changed_files": ["s3.tf", "iam.tf"],
    "commit": {"sha": "9f2c1ab"},
    "branch": "main",
    "terraform": {"code": "resource \"aws_s3_bucket\" \"logs\" { acl = \"public-read\" }"}
  }
}`

func TestRunWebhook(t *testing.T) {
	env := setupTestServer(t)

	w := env.do(t, "POST", "/api/v1/webhooks/run", runEventBody)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var accepted struct {
		ReviewID string              `json:"review_id"`
		RunID    string              `json:"run_id"`
		Status   models.ReviewStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &accepted))
	assert.Equal(t, "01RUN42", accepted.RunID)
	assert.Equal(t, models.ReviewStatusPending, accepted.Status)

	env.reviews.Wait()

	rec, err := env.store.GetLatest(context.Background(), accepted.ReviewID)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewStatusCompleted, rec.Status)
	require.NotNil(t, rec.Context)
	assert.Equal(t, "webhook", rec.Context.Source)
	assert.Equal(t, "prod-net", rec.Context.StackID)
	assert.Equal(t, "01RUN42", rec.Context.RunID)
	assert.Equal(t, "9f2c1ab", rec.Context.Commit)
	assert.Equal(t, "main", rec.Context.Branch)
	assert.Equal(t, "FINISHED", rec.Context.RunState)
	assert.Equal(t, "APPLYING", rec.Context.PreviousStatus)
	assert.Equal(t, "run:finished", rec.Context.EventType)
	assert.Equal(t, []string{"s3.tf", "iam.tf"}, rec.Context.ChangedFiles)
	assert.Contains(t, rec.SourceSnapshot, "aws_s3_bucket")
}

func TestRunWebhook_PlanEventAndIgnored(t *testing.T) {
	env := setupTestServer(t)

	plan := strings.Replace(runEventBody, `"run:finished"`, `"run:plan_finished"`, 1)
	w := env.do(t, "POST", "/api/v1/webhooks/run", plan)
	assert.Equal(t, http.StatusAccepted, w.Code)

	other := strings.Replace(runEventBody, `"run:finished"`, `"stack:updated"`, 1)
	w = env.do(t, "POST", "/api/v1/webhooks/run", other)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "stack:updated not handled")

	noCode := strings.Replace(runEventBody, `"terraform": {"code": "resource \"aws_s3_bucket\" \"logs\" { acl = \"public-read\" }"}`, `"terraform": {}`, 1)
	w = env.do(t, "POST", "/api/v1/webhooks/run", noCode)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, "POST", "/api/v1/webhooks/run", `{"event":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	env.reviews.Wait()
	recs, err := env.store.ListReviews(context.Background(), store.ReviewFilter{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestWriteErr_StatusMapping(t *testing.T) {
	srv := &Server{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found sentinel", fmt.Errorf("%w: review 01X", store.ErrNotFound), http.StatusNotFound},
		{"not found in text only", errors.New("prompt template not found"), http.StatusInternalServerError},
		{"empty snapshot", llm.ErrEmptySnapshot, http.StatusBadRequest},
		{"conflict", fmt.Errorf("append: %w", store.ErrVersionConflict), http.StatusConflict},
		{"all models failed", &fallback.AllModelsFailedError{}, http.StatusBadGateway},
		{"transient", &store.TransientError{Op: "append", Err: errors.New("database is locked")}, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.writeErr(w, tt.err)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}
