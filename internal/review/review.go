// Package review runs Terraform snapshots through the analysis pipeline and
// records every status change as a new review version.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/sync/semaphore"

	"github.com/joescharf/tfreview/internal/backoff"
	"github.com/joescharf/tfreview/internal/fallback"
	"github.com/joescharf/tfreview/internal/llm"
	"github.com/joescharf/tfreview/internal/metrics"
	"github.com/joescharf/tfreview/internal/models"
	"github.com/joescharf/tfreview/internal/scoring"
	"github.com/joescharf/tfreview/internal/store"
)

// Error codes stored in models.ErrorDetail.Code.
const (
	CodeAllModelsFailed = "all_models_failed"
	CodeCancelled       = "cancelled"
	CodeAnalysisError   = "analysis_error"
	CodeStoreError      = "store_error"
)

// Config holds orchestrator configuration.
type Config struct {
	MaxConcurrent  int
	ProcessTimeout time.Duration
	StuckAfter     time.Duration
	StorePolicy    backoff.Policy
}

// DefaultConfig returns the default orchestrator config, reading from viper when available.
func DefaultConfig() Config {
	maxConcurrent := viper.GetInt("review.max_concurrent")
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	processTimeout := viper.GetDuration("review.process_timeout")
	if processTimeout <= 0 {
		processTimeout = 15 * time.Minute
	}

	stuckAfter := viper.GetDuration("review.stuck_after")
	if stuckAfter <= 0 {
		stuckAfter = 15 * time.Minute
	}

	return Config{
		MaxConcurrent:  maxConcurrent,
		ProcessTimeout: processTimeout,
		StuckAfter:     stuckAfter,
		StorePolicy:    backoff.Policy{MaxAttempts: 3, Base: 100 * time.Millisecond, Max: 2 * time.Second},
	}
}

// Analyzer runs a request through the model chain. *fallback.Controller
// implements it.
type Analyzer interface {
	Review(ctx context.Context, req llm.Request) (*fallback.Outcome, error)
}

// SubmitRequest is a new snapshot to review.
type SubmitRequest struct {
	SourceSnapshot string                `json:"source_snapshot"`
	Context        *models.ReviewContext `json:"context,omitempty"`
}

// Orchestrator is the only writer of review versions.
type Orchestrator struct {
	store    store.Store
	analyzer Analyzer
	cfg      Config
	sem      *semaphore.Weighted
	sleeper  backoff.Sleeper
	logger   *slog.Logger

	// lifetime of background work started by SubmitAsync
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSleeper overrides how storage retry delays are waited out.
func WithSleeper(s backoff.Sleeper) Option {
	return func(o *Orchestrator) { o.sleeper = s }
}

// NewOrchestrator creates an orchestrator over s and a.
func NewOrchestrator(s store.Store, a Analyzer, cfg Config, opts ...Option) *Orchestrator {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.StorePolicy.MaxAttempts <= 0 {
		cfg.StorePolicy = DefaultConfig().StorePolicy
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		store:    s,
		analyzer: a,
		cfg:      cfg,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		sleeper:  backoff.TimerSleeper{},
		logger:   slog.Default(),
		baseCtx:  ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "review")
	return o
}

// Config returns the orchestrator's configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Submit validates and stores a new review as version 1 (pending).
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*models.ReviewRecord, error) {
	if strings.TrimSpace(req.SourceSnapshot) == "" {
		return nil, llm.ErrEmptySnapshot
	}
	rec := &models.ReviewRecord{
		Status:         models.ReviewStatusPending,
		SourceSnapshot: req.SourceSnapshot,
		Context:        req.Context,
	}
	if err := o.write(ctx, "create review", func(ctx context.Context) error {
		return o.store.CreateReview(ctx, rec)
	}); err != nil {
		return nil, err
	}
	o.logger.Info("review submitted", "review_id", rec.ReviewID, "stack_id", rec.StackID())
	return rec, nil
}

// SubmitAsync stores the review and schedules Process on the worker pool.
// It returns as soon as version 1 is written.
func (o *Orchestrator) SubmitAsync(ctx context.Context, req SubmitRequest) (*models.ReviewRecord, error) {
	rec, err := o.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	o.Schedule(rec.ReviewID)
	return rec, nil
}

// Schedule processes a pending review in the background, at most
// MaxConcurrent at a time.
func (o *Orchestrator) Schedule(reviewID string) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.sem.Acquire(o.baseCtx, 1); err != nil {
			o.logger.Warn("review not scheduled", "review_id", reviewID, "error", err)
			return
		}
		defer o.sem.Release(1)

		ctx := o.baseCtx
		if o.cfg.ProcessTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, o.cfg.ProcessTimeout)
			defer cancel()
		}
		if _, err := o.Process(ctx, reviewID); err != nil {
			o.logger.Error("review processing failed", "review_id", reviewID, "error", err)
		}
	}()
}

// ResumePending schedules every review whose latest version is pending,
// such as those accepted by a server that stopped before running them.
func (o *Orchestrator) ResumePending(ctx context.Context) (int, error) {
	var pending []*models.ReviewRecord
	err := o.write(ctx, "list pending", func(ctx context.Context) error {
		var err error
		pending, err = o.store.ByStatus(ctx, models.ReviewStatusPending, time.Now().Add(time.Second), 0)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("resume pending: %w", err)
	}
	for _, rec := range pending {
		o.Schedule(rec.ReviewID)
	}
	if len(pending) > 0 {
		o.logger.Info("resumed pending reviews", "count", len(pending))
	}
	return len(pending), nil
}

// Wait blocks until all scheduled reviews have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close cancels scheduled reviews and waits for them to record their
// final version.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

// Process moves a pending review through in_progress to completed or
// failed. An analysis failure is recorded as a failed version and is not an
// error; the returned record is the last version written. If ctx is
// cancelled mid-analysis a failed version with code "cancelled" is written
// and ctx.Err() is returned alongside it.
func (o *Orchestrator) Process(ctx context.Context, reviewID string) (*models.ReviewRecord, error) {
	latest, err := o.read(ctx, reviewID)
	if err != nil {
		return nil, err
	}

	lc, err := newLifecycle(latest.ReviewID, latest.Status)
	if err != nil {
		return nil, err
	}
	status, err := lc.fire(EventStart)
	if err != nil {
		return nil, fmt.Errorf("process review %s: %w", reviewID, err)
	}

	running := latest.Next(status)
	running.Version = latest.Version + 1
	if err := o.append(ctx, running); err != nil {
		return nil, err
	}

	metrics.ReviewsInFlight.Inc()
	defer metrics.ReviewsInFlight.Dec()
	log := o.logger.With("review_id", reviewID)
	log.Info("review started", "version", running.Version, "stack_id", running.StackID())

	outcome, err := o.analyzer.Review(ctx, llm.Request{
		Kind:     models.PromptFullReview,
		Snapshot: running.SourceSnapshot,
		Context:  running.Context,
	})
	if err != nil {
		return o.fail(ctx, running, err)
	}

	status, err = lc.fire(EventComplete)
	if err != nil {
		return nil, err
	}

	scored, res := scoring.Score(outcome.Document.FullReview, outcome.Model.BaseConfidence)
	done := running.Next(status)
	done.Version = running.Version + 1
	done.Analysis = scored
	done.RiskScore = &res.Risk
	done.RiskLevel = res.Level
	done.RiskBreakdown = &res.Breakdown
	done.ConfidenceScore = &res.Confidence
	done.ModelUsed = outcome.Model.Name
	done.PromptVersion = llm.PromptVersion(models.PromptFullReview)

	if err := o.append(ctx, done); err != nil {
		if ctx.Err() != nil {
			return o.fail(ctx, running, ctx.Err())
		}
		detail := &models.ErrorDetail{Code: CodeStoreError, Message: err.Error()}
		if _, ferr := o.writeFailed(context.WithoutCancel(ctx), running, detail); ferr != nil {
			log.Error("could not record failure", "version", running.Version, "error", ferr)
		}
		return nil, err
	}

	metrics.ReviewsFinished.WithLabelValues(string(done.Status)).Inc()
	metrics.ReviewRisk.Observe(res.Risk)
	log.Info("review completed", "version", done.Version,
		"model", done.ModelUsed, "risk", res.Risk, "level", res.Level, "confidence", res.Confidence,
		"fallbacks", len(outcome.Failures))

	o.recordIssues(ctx, done)
	return done, nil
}

// Retry appends a new pending version to a completed or failed review.
func (o *Orchestrator) Retry(ctx context.Context, reviewID string) (*models.ReviewRecord, error) {
	latest, err := o.read(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	status, err := Transition(latest.Status, EventRetry)
	if err != nil {
		return nil, fmt.Errorf("retry review %s: %w", reviewID, err)
	}
	next := latest.Next(status)
	next.Version = latest.Version + 1
	if err := o.append(ctx, next); err != nil {
		return nil, err
	}
	o.logger.Info("review resubmitted", "review_id", reviewID, "version", next.Version)
	return next, nil
}

// Resolve finds a review by full id or unique id prefix.
func (o *Orchestrator) Resolve(ctx context.Context, idOrPrefix string) (*models.ReviewRecord, error) {
	if rec, err := o.store.GetLatest(ctx, idOrPrefix); err == nil {
		return rec, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	matches, err := o.store.ListReviews(ctx, store.ReviewFilter{IDPrefix: strings.ToUpper(idOrPrefix), Limit: 2})
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: review %s", store.ErrNotFound, idOrPrefix)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous review id %s: matches more than one review", idOrPrefix)
	}
}

// Stuck returns reviews that have sat in status longer than StuckAfter.
func (o *Orchestrator) Stuck(ctx context.Context, status models.ReviewStatus, olderThan time.Duration) ([]*models.ReviewRecord, error) {
	if olderThan <= 0 {
		olderThan = o.cfg.StuckAfter
	}
	if status == "" {
		status = models.ReviewStatusPending
	}
	if status.Terminal() {
		return nil, fmt.Errorf("status %s is terminal and cannot be stuck", status)
	}
	return o.store.ByStatus(ctx, status, time.Now().Add(-olderThan), 0)
}

// fail records a failed version for an analysis error. Cancellation is
// written with a detached context so the review never stays in_progress.
func (o *Orchestrator) fail(ctx context.Context, running *models.ReviewRecord, cause error) (*models.ReviewRecord, error) {
	if _, err := Transition(running.Status, EventFail); err != nil {
		return nil, err
	}

	detail := &models.ErrorDetail{Code: CodeAnalysisError, Message: cause.Error()}
	var all *fallback.AllModelsFailedError
	switch {
	case ctx.Err() != nil:
		detail.Code = CodeCancelled
		detail.Message = ctx.Err().Error()
	case errors.As(cause, &all):
		detail.Code = CodeAllModelsFailed
		detail.Attempts = all.Failures
	}

	rec, err := o.writeFailed(context.WithoutCancel(ctx), running, detail)
	if err != nil {
		return nil, err
	}
	o.logger.Warn("review failed", "review_id", rec.ReviewID, "version", rec.Version, "code", detail.Code, "error", cause)

	if detail.Code == CodeCancelled {
		return rec, ctx.Err()
	}
	return rec, nil
}

func (o *Orchestrator) writeFailed(ctx context.Context, running *models.ReviewRecord, detail *models.ErrorDetail) (*models.ReviewRecord, error) {
	failed := running.Next(models.ReviewStatusFailed)
	failed.Version = running.Version + 1
	failed.Error = detail
	if err := o.append(ctx, failed); err != nil {
		return nil, err
	}
	metrics.ReviewsFinished.WithLabelValues(string(failed.Status)).Inc()
	return failed, nil
}

// recordIssues counts each finding against the review's stack. Failures are
// logged and never fail the review.
func (o *Orchestrator) recordIssues(ctx context.Context, rec *models.ReviewRecord) {
	stackID := rec.StackID()
	if stackID == "" || rec.Analysis == nil {
		return
	}
	for _, f := range rec.Analysis.Findings() {
		err := o.write(ctx, "record issue occurrence", func(ctx context.Context) error {
			_, err := o.store.RecordIssueOccurrence(ctx, stackID, rec.ReviewID, *f, rec.CreatedAt)
			return err
		})
		if err != nil {
			o.logger.Warn("issue frequency not recorded",
				"review_id", rec.ReviewID, "stack_id", stackID, "finding_id", f.FindingID, "error", err)
		}
	}
}

func (o *Orchestrator) append(ctx context.Context, rec *models.ReviewRecord) error {
	return o.write(ctx, "append version", func(ctx context.Context) error {
		return o.store.AppendVersion(ctx, rec)
	})
}

func (o *Orchestrator) read(ctx context.Context, reviewID string) (*models.ReviewRecord, error) {
	var rec *models.ReviewRecord
	err := o.write(ctx, "get review", func(ctx context.Context) error {
		var err error
		rec, err = o.store.GetLatest(ctx, reviewID)
		return err
	})
	return rec, err
}

// write retries transient storage errors with the store policy. Conflicts
// and other logic errors are returned on the first attempt.
func (o *Orchestrator) write(ctx context.Context, op string, fn func(context.Context) error) error {
	return backoff.Do(ctx, o.cfg.StorePolicy, o.sleeper, func(err error) bool {
		if store.IsTransient(err) {
			metrics.StoreRetries.WithLabelValues(op).Inc()
			o.logger.Debug("retrying storage operation", "op", op, "error", err)
			return true
		}
		return false
	}, fn)
}
