package models

import (
	"fmt"
	"time"
)

// ReviewStatus is the lifecycle state of a review version.
type ReviewStatus string

const (
	ReviewStatusPending    ReviewStatus = "pending"
	ReviewStatusInProgress ReviewStatus = "in_progress"
	ReviewStatusCompleted  ReviewStatus = "completed"
	ReviewStatusFailed     ReviewStatus = "failed"
)

// Valid reports whether s is a known status.
func (s ReviewStatus) Valid() bool {
	switch s {
	case ReviewStatusPending, ReviewStatusInProgress, ReviewStatusCompleted, ReviewStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s is completed or failed.
func (s ReviewStatus) Terminal() bool {
	return s == ReviewStatusCompleted || s == ReviewStatusFailed
}

// RiskLevel is the coarse bucket derived from a risk score.
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"
)

// ReviewContext is correlation metadata supplied with a submission. It is
// stored as-is and never interpreted by scoring.
type ReviewContext struct {
	StackID        string   `json:"stack_id,omitempty"`
	RunID          string   `json:"run_id,omitempty"`
	Commit         string   `json:"commit,omitempty"`
	Branch         string   `json:"branch,omitempty"`
	ChangedFiles   []string `json:"changed_files,omitempty"`
	Source         string   `json:"source,omitempty"` // webhook, cli, mcp, api
	RunState       string   `json:"run_state,omitempty"`
	PreviousStatus string   `json:"previous_status,omitempty"`
	EventType      string   `json:"event_type,omitempty"`
}

// ModelAttempt is the last error seen from one model during a review.
type ModelAttempt struct {
	Model    string `json:"model"`
	Kind     string `json:"kind"`
	Message  string `json:"message"`
	Attempts int    `json:"attempts"`
}

// ErrorDetail is the structured reason carried by a failed version.
type ErrorDetail struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Attempts []ModelAttempt `json:"attempts,omitempty"`
}

// RiskBreakdown holds the three weighted components of the overall risk.
type RiskBreakdown struct {
	Security    float64 `json:"security"`
	Cost        float64 `json:"cost"`
	Reliability float64 `json:"reliability"`
}

// ReviewRecord is one immutable version of a review.
type ReviewRecord struct {
	ReviewID           string         `json:"review_id"`
	Version            int            `json:"version"`
	PreviousVersionRef string         `json:"previous_version_ref,omitempty"`
	Status             ReviewStatus   `json:"status"`
	SourceSnapshot     string         `json:"source_snapshot"`
	Context            *ReviewContext `json:"context,omitempty"`
	Analysis           *FullReview    `json:"analysis,omitempty"`
	RiskScore          *float64       `json:"risk_score,omitempty"`
	RiskLevel          RiskLevel      `json:"risk_level,omitempty"`
	RiskBreakdown      *RiskBreakdown `json:"risk_breakdown,omitempty"`
	ConfidenceScore    *float64       `json:"confidence_score,omitempty"`
	ModelUsed          string         `json:"model_used,omitempty"`
	PromptVersion      string         `json:"prompt_version,omitempty"`
	Error              *ErrorDetail   `json:"error,omitempty"`
	SubmittedAt        time.Time      `json:"submitted_at"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// StackID returns the stack the review belongs to, or "".
func (r *ReviewRecord) StackID() string {
	if r.Context == nil {
		return ""
	}
	return r.Context.StackID
}

// Next returns a copy of r prepared as the following version with the given
// status. Score, analysis and error fields are cleared; the caller fills in
// whatever the new status carries.
func (r *ReviewRecord) Next(status ReviewStatus) *ReviewRecord {
	return &ReviewRecord{
		ReviewID:       r.ReviewID,
		Status:         status,
		SourceSnapshot: r.SourceSnapshot,
		Context:        r.Context,
		SubmittedAt:    r.SubmittedAt,
	}
}

// VersionRef formats the reference stored in previous_version_ref.
func VersionRef(reviewID string, version int) string {
	return fmt.Sprintf("%s#%d", reviewID, version)
}
