package review

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/joescharf/tfreview/internal/llm"
	"github.com/joescharf/tfreview/internal/models"
)

// FailureRequest asks why a Terraform run failed. When ReviewID is set the
// review's latest version is given to the model as prior context.
type FailureRequest struct {
	SourceSnapshot string                `json:"source_snapshot"`
	ErrorType      string                `json:"error_type"`
	ErrorMessage   string                `json:"error_message"`
	ErrorCode      string                `json:"error_code,omitempty"`
	StackTrace     string                `json:"stack_trace,omitempty"`
	ReviewID       string                `json:"review_id,omitempty"`
	Context        *models.ReviewContext `json:"context,omitempty"`
}

// FixRequest asks how well a change resolved earlier findings. When
// ReviewID is set and OriginalFindings is empty, the findings of that
// review's latest completed analysis are used.
type FixRequest struct {
	OriginalSnapshot string           `json:"original_snapshot"`
	FixedSnapshot    string           `json:"fixed_snapshot"`
	OriginalFindings []models.Finding `json:"original_findings,omitempty"`
	FixedFindings    []models.Finding `json:"fixed_findings,omitempty"`
	ReviewID         string           `json:"review_id,omitempty"`
}

// AnalysisResult is an unversioned analysis returned to the caller.
type AnalysisResult struct {
	ModelUsed     string                   `json:"model_used"`
	PromptVersion string                   `json:"prompt_version"`
	Document      *models.AnalysisDocument `json:"document"`
	Fallbacks     []models.ModelAttempt    `json:"fallbacks,omitempty"`
}

// AnalyzeFailure runs a failure_analysis prompt. Nothing is stored.
func (o *Orchestrator) AnalyzeFailure(ctx context.Context, req FailureRequest) (*AnalysisResult, error) {
	if strings.TrimSpace(req.SourceSnapshot) == "" {
		return nil, llm.ErrEmptySnapshot
	}
	if req.ErrorMessage == "" && req.ErrorType == "" {
		return nil, errors.New("failure analysis: error_type or error_message is required")
	}

	input := &llm.FailureInput{
		ErrorType:    req.ErrorType,
		ErrorMessage: req.ErrorMessage,
		ErrorCode:    req.ErrorCode,
		StackTrace:   req.StackTrace,
	}
	if req.ReviewID != "" {
		prev, err := o.read(ctx, req.ReviewID)
		if err != nil {
			return nil, fmt.Errorf("failure analysis: %w", err)
		}
		input.Previous = prev
	}

	return o.analyze(ctx, llm.Request{
		Kind:     models.PromptFailureAnalysis,
		Snapshot: req.SourceSnapshot,
		Context:  req.Context,
		Failure:  input,
	})
}

// CompareFixes runs a fix_effectiveness prompt. Nothing is stored.
func (o *Orchestrator) CompareFixes(ctx context.Context, req FixRequest) (*AnalysisResult, error) {
	if strings.TrimSpace(req.OriginalSnapshot) == "" || strings.TrimSpace(req.FixedSnapshot) == "" {
		return nil, llm.ErrEmptySnapshot
	}

	original := req.OriginalFindings
	if len(original) == 0 && req.ReviewID != "" {
		prev, err := o.read(ctx, req.ReviewID)
		if err != nil {
			return nil, fmt.Errorf("fix effectiveness: %w", err)
		}
		if prev.Analysis != nil {
			for _, f := range prev.Analysis.Findings() {
				original = append(original, *f)
			}
		}
	}

	return o.analyze(ctx, llm.Request{
		Kind:     models.PromptFixEffectiveness,
		Snapshot: req.OriginalSnapshot,
		Fix: &llm.FixInput{
			FixedSnapshot:    req.FixedSnapshot,
			OriginalFindings: original,
			FixedFindings:    req.FixedFindings,
		},
	})
}

func (o *Orchestrator) analyze(ctx context.Context, req llm.Request) (*AnalysisResult, error) {
	outcome, err := o.analyzer.Review(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Kind, err)
	}
	o.logger.Info("analysis finished", "kind", req.Kind, "model", outcome.Model.Name, "fallbacks", len(outcome.Failures))
	return &AnalysisResult{
		ModelUsed:     outcome.Model.Name,
		PromptVersion: llm.PromptVersion(req.Kind),
		Document:      outcome.Document,
		Fallbacks:     outcome.Failures,
	}, nil
}
