package models

// PromptKind selects the instruction template sent to a model and the
// schema its answer must satisfy.
type PromptKind string

const (
	PromptFullReview       PromptKind = "full_review"
	PromptFailureAnalysis  PromptKind = "failure_analysis"
	PromptFixEffectiveness PromptKind = "fix_effectiveness"
)

// Valid reports whether k is a known prompt kind.
func (k PromptKind) Valid() bool {
	switch k {
	case PromptFullReview, PromptFailureAnalysis, PromptFixEffectiveness:
		return true
	}
	return false
}

// Category groups findings.
type Category string

const (
	CategorySecurity    Category = "security"
	CategoryCost        Category = "cost"
	CategoryReliability Category = "reliability"
)

// Severity of a finding.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Finding is a single issue detected in a review.
type Finding struct {
	FindingID           string   `json:"finding_id"`
	Category            Category `json:"category"`
	Severity            Severity `json:"severity"`
	Title               string   `json:"title"`
	Description         string   `json:"description,omitempty"`
	LineNumber          *int     `json:"line_number,omitempty"`
	FilePath            string   `json:"file_path,omitempty"`
	Recommendation      string   `json:"recommendation,omitempty"`
	EstimatedCostImpact *float64 `json:"estimated_cost_impact,omitempty"`
	ConfidenceScore     float64  `json:"confidence_score"`
	IssueFingerprint    string   `json:"issue_fingerprint,omitempty"`
}

// SecurityAnalysis holds security findings and the model-reported counts.
type SecurityAnalysis struct {
	TotalFindings  int       `json:"total_findings"`
	HighSeverity   int       `json:"high_severity"`
	MediumSeverity int       `json:"medium_severity"`
	LowSeverity    int       `json:"low_severity"`
	Findings       []Finding `json:"findings"`
}

// CostAnalysis holds the cost estimate and optimisation findings.
type CostAnalysis struct {
	EstimatedMonthlyCost float64   `json:"estimated_monthly_cost"`
	EstimatedAnnualCost  float64   `json:"estimated_annual_cost,omitempty"`
	ResourceCount        int       `json:"resource_count,omitempty"`
	CostOptimizations    []Finding `json:"cost_optimizations"`
}

// ReliabilityAnalysis holds the model's holistic reliability score and
// single points of failure.
type ReliabilityAnalysis struct {
	ReliabilityScore      float64   `json:"reliability_score"`
	SinglePointsOfFailure []Finding `json:"single_points_of_failure"`
	Recommendations       []string  `json:"recommendations"`
}

// FixSuggestion is a proposed code change for a finding.
type FixSuggestion struct {
	FixID              string  `json:"fix_id,omitempty"`
	FindingID          string  `json:"finding_id,omitempty"`
	OriginalCode       string  `json:"original_code,omitempty"`
	SuggestedCode      string  `json:"suggested_code,omitempty"`
	Explanation        string  `json:"explanation,omitempty"`
	EffectivenessScore float64 `json:"effectiveness_score,omitempty"`
}

// FullReview is the validated answer to a full_review prompt.
type FullReview struct {
	SecurityAnalysis    SecurityAnalysis    `json:"security_analysis"`
	CostAnalysis        CostAnalysis        `json:"cost_analysis"`
	ReliabilityAnalysis ReliabilityAnalysis `json:"reliability_analysis"`
	FixSuggestions      []FixSuggestion     `json:"fix_suggestions"`
}

// Findings returns pointers to every finding across the three categories,
// security first.
func (r *FullReview) Findings() []*Finding {
	var out []*Finding
	for i := range r.SecurityAnalysis.Findings {
		out = append(out, &r.SecurityAnalysis.Findings[i])
	}
	for i := range r.CostAnalysis.CostOptimizations {
		out = append(out, &r.CostAnalysis.CostOptimizations[i])
	}
	for i := range r.ReliabilityAnalysis.SinglePointsOfFailure {
		out = append(out, &r.ReliabilityAnalysis.SinglePointsOfFailure[i])
	}
	return out
}

// Clone returns a copy whose finding slices can be modified without
// touching r.
func (r *FullReview) Clone() *FullReview {
	c := *r
	c.SecurityAnalysis.Findings = append([]Finding(nil), r.SecurityAnalysis.Findings...)
	c.CostAnalysis.CostOptimizations = append([]Finding(nil), r.CostAnalysis.CostOptimizations...)
	c.ReliabilityAnalysis.SinglePointsOfFailure = append([]Finding(nil), r.ReliabilityAnalysis.SinglePointsOfFailure...)
	c.ReliabilityAnalysis.Recommendations = append([]string(nil), r.ReliabilityAnalysis.Recommendations...)
	c.FixSuggestions = append([]FixSuggestion(nil), r.FixSuggestions...)
	return &c
}

// Recommendation is a prioritised action from a failure analysis.
type Recommendation struct {
	Priority    Severity `json:"priority,omitempty"`
	Action      string   `json:"action"`
	Explanation string   `json:"explanation,omitempty"`
}

// RelatedFinding links a failure to an earlier finding.
type RelatedFinding struct {
	FindingID   string   `json:"finding_id,omitempty"`
	Category    Category `json:"category,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
}

// FailureAnalysis is the validated answer to a failure_analysis prompt.
type FailureAnalysis struct {
	RootCause            string           `json:"root_cause"`
	ContributingFactors  []string         `json:"contributing_factors,omitempty"`
	Severity             Severity         `json:"severity,omitempty"`
	Recommendations      []Recommendation `json:"recommendations"`
	RelatedFindings      []RelatedFinding `json:"related_findings,omitempty"`
	PreventionStrategies []string         `json:"prevention_strategies,omitempty"`
	ConfidenceScore      float64          `json:"confidence_score"`
}

// CategoryCounts counts findings per category.
type CategoryCounts struct {
	Total       int `json:"total"`
	Security    int `json:"security"`
	Cost        int `json:"cost"`
	Reliability int `json:"reliability"`
}

// RiskReduction compares risk before and after a fix.
type RiskReduction struct {
	Before              float64 `json:"before"`
	After               float64 `json:"after"`
	ReductionPercentage float64 `json:"reduction_percentage,omitempty"`
}

// FixAssessment rates one applied fix.
type FixAssessment struct {
	FindingID     string  `json:"finding_id,omitempty"`
	FixApplied    bool    `json:"fix_applied"`
	Effectiveness float64 `json:"effectiveness,omitempty"`
	Explanation   string  `json:"explanation,omitempty"`
}

// RemainingIssue is a finding the fix did not resolve.
type RemainingIssue struct {
	FindingID      string   `json:"finding_id,omitempty"`
	Severity       Severity `json:"severity,omitempty"`
	ReasonNotFixed string   `json:"reason_not_fixed,omitempty"`
}

// FixEffectiveness is the validated answer to a fix_effectiveness prompt.
type FixEffectiveness struct {
	FixEffectivenessScore float64          `json:"fix_effectiveness_score"`
	FindingsResolved      CategoryCounts   `json:"findings_resolved"`
	FindingsRemaining     CategoryCounts   `json:"findings_remaining"`
	RiskReduction         RiskReduction    `json:"risk_reduction"`
	FixAnalysis           []FixAssessment  `json:"fix_analysis,omitempty"`
	RemainingIssues       []RemainingIssue `json:"remaining_issues,omitempty"`
	Recommendations       []string         `json:"recommendations,omitempty"`
	ConfidenceScore       float64          `json:"confidence_score,omitempty"`
}

// AnalysisDocument is a validated model answer tagged by prompt kind.
// Exactly one of the payload fields is set, matching Kind.
type AnalysisDocument struct {
	Kind             PromptKind        `json:"kind"`
	FullReview       *FullReview       `json:"full_review,omitempty"`
	FailureAnalysis  *FailureAnalysis  `json:"failure_analysis,omitempty"`
	FixEffectiveness *FixEffectiveness `json:"fix_effectiveness,omitempty"`
}
