// Package fallback drives an ordered chain of models until one returns an
// answer that validates.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/timeout"

	"github.com/joescharf/tfreview/internal/analysis"
	"github.com/joescharf/tfreview/internal/backoff"
	"github.com/joescharf/tfreview/internal/llm"
	"github.com/joescharf/tfreview/internal/metrics"
	"github.com/joescharf/tfreview/internal/models"
)

// ErrAllModelsFailed is matched by errors.Is on an *AllModelsFailedError.
var ErrAllModelsFailed = errors.New("all models failed")

// ErrNoModels is returned when the controller has an empty chain.
var ErrNoModels = errors.New("no models configured")

// AllModelsFailedError carries the last error of every model tried, in
// chain order.
type AllModelsFailedError struct {
	Failures []models.ModelAttempt
}

func (e *AllModelsFailedError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s (%s after %d attempts): %s", f.Model, f.Kind, f.Attempts, f.Message))
	}
	return fmt.Sprintf("all models failed: %s", strings.Join(parts, "; "))
}

func (e *AllModelsFailedError) Is(target error) bool {
	return target == ErrAllModelsFailed
}

// Model pairs a client with its static configuration.
type Model struct {
	Spec   llm.ModelSpec
	Client llm.Client
}

// Outcome is a successful run of the chain.
type Outcome struct {
	Document *models.AnalysisDocument
	Model    llm.ModelSpec
	Failures []models.ModelAttempt // models that failed before the winner
}

// Controller runs requests through the chain.
type Controller struct {
	models  []Model
	policy  backoff.Policy
	sleeper backoff.Sleeper
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithPolicy overrides the per-model retry policy.
func WithPolicy(p backoff.Policy) Option {
	return func(c *Controller) { c.policy = p }
}

// WithSleeper overrides how retry delays are waited out.
func WithSleeper(s backoff.Sleeper) Option {
	return func(c *Controller) { c.sleeper = s }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewController creates a controller over chain, tried in order.
func NewController(chain []Model, opts ...Option) *Controller {
	c := &Controller{
		models:  chain,
		policy:  backoff.DefaultPolicy(),
		sleeper: backoff.TimerSleeper{},
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	for i := range c.models {
		c.models[i].Spec = c.models[i].Spec.WithDefaults()
	}
	return c
}

// Models returns the configured chain specs in order.
func (c *Controller) Models() []llm.ModelSpec {
	specs := make([]llm.ModelSpec, len(c.models))
	for i, m := range c.models {
		specs[i] = m.Spec
	}
	return specs
}

// Review runs req through the chain. The first model whose answer validates
// wins. A cancelled ctx stops the chain and returns ctx.Err().
func (c *Controller) Review(ctx context.Context, req llm.Request) (*Outcome, error) {
	if len(c.models) == 0 {
		return nil, ErrNoModels
	}

	var failures []models.ModelAttempt
	for _, m := range c.models {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		doc, failure, err := c.tryModel(ctx, m, req)
		if err == nil {
			return &Outcome{Document: doc, Model: m.Spec, Failures: failures}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		c.logger.Warn("model failed, advancing",
			"model", m.Spec.Name, "kind", failure.Kind, "attempts", failure.Attempts, "error", err)
		failures = append(failures, failure)
	}
	return nil, &AllModelsFailedError{Failures: failures}
}

// tryModel calls one model until it answers, fails permanently, or runs out
// of attempts. Validation failures are never retried on the same model.
func (c *Controller) tryModel(ctx context.Context, m Model, req llm.Request) (*models.AnalysisDocument, models.ModelAttempt, error) {
	st := c.policy.Start()
	for {
		if err := backoff.Wait(ctx, c.sleeper, st, c.now()); err != nil {
			return nil, models.ModelAttempt{}, err
		}

		raw, err := c.invoke(ctx, m, req)
		st = c.policy.Record(st, c.now())

		if err == nil {
			doc, verr := analysis.Validate(raw, req.Kind)
			if verr == nil {
				metrics.ModelCalls.WithLabelValues(m.Spec.Name, "ok").Inc()
				return doc, models.ModelAttempt{}, nil
			}
			kind := "invalid"
			var ve *analysis.ValidationError
			if errors.As(verr, &ve) {
				kind = string(ve.Kind)
			}
			metrics.ModelCalls.WithLabelValues(m.Spec.Name, kind).Inc()
			return nil, attempt(m, kind, verr, st), verr
		}

		kind := llm.KindOf(err)
		metrics.ModelCalls.WithLabelValues(m.Spec.Name, string(kind)).Inc()
		if !kind.Retryable() || c.policy.Exhausted(st) || ctx.Err() != nil {
			return nil, attempt(m, string(kind), err, st), err
		}
		c.logger.Debug("retrying model",
			"model", m.Spec.Name, "kind", kind, "attempt", st.Attempt, "next_eligible", st.NextEligible)
	}
}

// invoke performs a single call bounded by the model's timeout.
func (c *Controller) invoke(ctx context.Context, m Model, req llm.Request) (string, error) {
	start := time.Now()
	defer func() {
		metrics.ModelCallDuration.WithLabelValues(m.Spec.Name).Observe(time.Since(start).Seconds())
	}()

	t := timeout.New[string](timeout.Config{DefaultTimeout: m.Spec.Timeout})
	raw, err := t.Execute(ctx, m.Spec.Timeout, func(ctx context.Context) (string, error) {
		return m.Client.Invoke(ctx, req)
	})
	if err == nil {
		return raw, nil
	}

	var me *llm.ModelError
	if errors.As(err, &me) {
		return "", err
	}
	// The timeout wrapper's own error: the call overran its budget.
	if ctx.Err() == nil || errors.Is(err, context.DeadlineExceeded) {
		return "", &llm.ModelError{Kind: llm.Timeout, Model: m.Spec.Name, Err: err}
	}
	return "", &llm.ModelError{Kind: llm.Other, Model: m.Spec.Name, Err: err}
}

func attempt(m Model, kind string, err error, st backoff.State) models.ModelAttempt {
	return models.ModelAttempt{
		Model:    m.Spec.Name,
		Kind:     kind,
		Message:  err.Error(),
		Attempts: st.Attempt,
	}
}
