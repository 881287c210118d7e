package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/joescharf/tfreview/internal/fallback"
	"github.com/joescharf/tfreview/internal/llm"
	"github.com/joescharf/tfreview/internal/metrics"
	"github.com/joescharf/tfreview/internal/models"
	"github.com/joescharf/tfreview/internal/review"
	"github.com/joescharf/tfreview/internal/store"
	"github.com/joescharf/tfreview/internal/trends"
)

// maxBodyBytes caps request bodies; snapshots can be a whole module.
const maxBodyBytes = 8 << 20

// Server provides the REST API handlers.
type Server struct {
	store   store.Store
	reviews *review.Orchestrator
	trends  *trends.Aggregator
	logger  *slog.Logger
}

// NewServer creates a new API server.
func NewServer(s store.Store, o *review.Orchestrator, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:   s,
		reviews: o,
		trends:  trends.NewAggregator(s),
		logger:  logger.With("component", "api"),
	}
}

// Router returns an http.Handler for the API routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/reviews", s.submitReview)
	mux.HandleFunc("GET /api/v1/reviews", s.listReviews)
	mux.HandleFunc("GET /api/v1/reviews/stuck", s.stuckReviews)
	mux.HandleFunc("GET /api/v1/reviews/{id}", s.getReview)
	mux.HandleFunc("POST /api/v1/reviews/{id}/retry", s.retryReview)
	mux.HandleFunc("GET /api/v1/reviews/{id}/versions", s.reviewHistory)
	mux.HandleFunc("GET /api/v1/reviews/{id}/versions/{version}", s.getReviewVersion)

	mux.HandleFunc("GET /api/v1/stacks", s.listStacks)
	mux.HandleFunc("GET /api/v1/stacks/{id}/reviews", s.stackReviews)
	mux.HandleFunc("GET /api/v1/stacks/{id}/trends", s.stackTrends)
	mux.HandleFunc("GET /api/v1/stacks/{id}/issues", s.stackIssues)

	mux.HandleFunc("GET /api/v1/analytics", s.analytics)

	mux.HandleFunc("POST /api/v1/webhooks/run", s.runWebhook)

	mux.HandleFunc("POST /api/v1/analyses/failure", s.analyzeFailure)
	mux.HandleFunc("POST /api/v1/analyses/fix-effectiveness", s.compareFixes)

	mux.HandleFunc("GET /healthz", s.healthz)
	mux.Handle("GET /metrics", metrics.Handler())

	return s.logRequests(corsMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method, "path", r.URL.Path, "status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeErr maps pipeline errors to HTTP statuses.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, llm.ErrEmptySnapshot):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, review.ErrIllegalTransition),
		errors.Is(err, store.ErrVersionConflict),
		errors.Is(err, store.ErrAlreadyExists):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, fallback.ErrAllModelsFailed), errors.Is(err, fallback.ErrNoModels):
		writeError(w, http.StatusBadGateway, err.Error())
	case store.IsTransient(err):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// --- Reviews ---

func (s *Server) submitReview(w http.ResponseWriter, r *http.Request) {
	var req review.SubmitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Context == nil {
		req.Context = &models.ReviewContext{}
	}
	if req.Context.Source == "" {
		req.Context.Source = "api"
	}

	rec, err := s.reviews.SubmitAsync(r.Context(), req)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"review_id": rec.ReviewID,
		"version":   rec.Version,
		"status":    rec.Status,
	})
}

func (s *Server) listReviews(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ReviewFilter{
		StackID: q.Get("stack_id"),
		Status:  models.ReviewStatus(q.Get("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", filter.Status))
		return
	}

	var err error
	if filter.From, err = parseTimeParam(q.Get("from")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if filter.To, err = parseTimeParam(q.Get("to")); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if v := q.Get("min_risk"); v != "" {
		risk, err := strconv.ParseFloat(v, 64)
		if err != nil || risk < 0 || risk > 1 {
			writeError(w, http.StatusBadRequest, "min_risk must be a number between 0 and 1")
			return
		}
		filter.MinRisk = &risk
	}
	if filter.Limit, err = intParam(q.Get("limit"), 100); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := s.store.ListReviews(r.Context(), filter)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(recs))
}

func (s *Server) stuckReviews(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := models.ReviewStatus(q.Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", status))
		return
	}
	var olderThan time.Duration
	if v := q.Get("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid older_than: "+err.Error())
			return
		}
		olderThan = d
	}

	recs, err := s.reviews.Stuck(r.Context(), status, olderThan)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || store.IsTransient(err) {
			s.writeErr(w, err)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, nonNil(recs))
}

func (s *Server) getReview(w http.ResponseWriter, r *http.Request) {
	rec, err := s.reviews.Resolve(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) retryReview(w http.ResponseWriter, r *http.Request) {
	rec, err := s.reviews.Resolve(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	next, err := s.reviews.Retry(r.Context(), rec.ReviewID)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.reviews.Schedule(next.ReviewID)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"review_id": next.ReviewID,
		"version":   next.Version,
		"status":    next.Status,
	})
}

func (s *Server) reviewHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	after, err := intParam(q.Get("after"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intParam(q.Get("limit"), 0)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	recs, err := s.store.History(r.Context(), r.PathValue("id"), store.Page{AfterVersion: after, Limit: limit})
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(recs))
}

func (s *Server) getReviewVersion(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(r.PathValue("version"))
	if err != nil || version < 1 {
		writeError(w, http.StatusBadRequest, "version must be a positive integer")
		return
	}
	rec, err := s.store.GetVersion(r.Context(), r.PathValue("id"), version)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// --- Stacks ---

func (s *Server) listStacks(w http.ResponseWriter, r *http.Request) {
	stacks, err := s.store.ListStacks(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(stacks))
}

func (s *Server) stackReviews(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	days, err := intParam(q.Get("days"), trends.DefaultDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intParam(q.Get("limit"), 100)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	from := time.Now().UTC().AddDate(0, 0, -days)
	recs, err := s.store.ByStack(r.Context(), r.PathValue("id"), store.TimeRange{From: from}, limit)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(recs))
}

func (s *Server) stackTrends(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r.URL.Query().Get("days"), trends.DefaultDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := s.trends.Stack(r.Context(), r.PathValue("id"), days)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) stackIssues(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query().Get("limit"), 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	issues, err := s.store.ListIssueFrequencies(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(issues))
}

func (s *Server) analytics(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r.URL.Query().Get("days"), trends.DefaultDays)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	g, err := s.trends.Global(r.Context(), days)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

// --- Analyses ---

func (s *Server) analyzeFailure(w http.ResponseWriter, r *http.Request) {
	var req review.FailureRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ErrorType == "" && req.ErrorMessage == "" {
		writeError(w, http.StatusBadRequest, "error_type or error_message is required")
		return
	}
	res, err := s.reviews.AnalyzeFailure(r.Context(), req)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) compareFixes(w http.ResponseWriter, r *http.Request) {
	var req review.FixRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.reviews.CompareFixes(r.Context(), req)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.store.ListStacks(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Query helpers ---

// parseTimeParam accepts RFC 3339 or a bare date.
func parseTimeParam(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: use RFC 3339 or YYYY-MM-DD", v)
	}
	return t, nil
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid number %q", v)
	}
	return n, nil
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](xs []T) []T {
	if xs == nil {
		return []T{}
	}
	return xs
}
