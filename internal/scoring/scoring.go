// Package scoring computes deterministic risk and confidence scores from a
// validated review. Everything here is a pure function of its inputs.
package scoring

import (
	"math"

	"github.com/joescharf/tfreview/internal/models"
)

// Category weights in the overall risk.
const (
	SecurityWeight    = 0.50
	CostWeight        = 0.25
	ReliabilityWeight = 0.25
)

// Risk level thresholds, inclusive on the upper bucket.
const (
	HighThreshold   = 0.7
	MediumThreshold = 0.4
)

// severityWeight is shared by the security component and the review-level
// confidence average.
func severityWeight(s models.Severity) float64 {
	switch s {
	case models.SeverityHigh:
		return 1.0
	case models.SeverityMedium:
		return 0.5
	case models.SeverityLow:
		return 0.2
	}
	return 0
}

// SecurityComponent scores the model-reported severity counts. Ten
// high-equivalents saturate the score; any high finding multiplies it by 1.5.
func SecurityComponent(s models.SecurityAnalysis) float64 {
	weighted := float64(s.HighSeverity)*1.0 + float64(s.MediumSeverity)*0.5 + float64(s.LowSeverity)*0.2
	c := math.Min(1.0, weighted/10.0)
	if s.HighSeverity > 0 {
		c = math.Min(1.0, c*1.5)
	}
	return c
}

// CostComponent scores monthly spend ($10k saturates) plus up to 0.5 for
// optimisation opportunities.
func CostComponent(c models.CostAnalysis) float64 {
	base := c.EstimatedMonthlyCost / 10000.0
	opts := math.Min(0.5, float64(len(c.CostOptimizations))*0.1)
	return clamp(base + opts)
}

// ReliabilityComponent inverts the model's reliability score and adds up to
// 0.3 for single points of failure.
func ReliabilityComponent(r models.ReliabilityAnalysis) float64 {
	spof := math.Min(0.3, float64(len(r.SinglePointsOfFailure))*0.1)
	return clamp((1.0 - r.ReliabilityScore) + spof)
}

// Breakdown computes the three components.
func Breakdown(doc *models.FullReview) models.RiskBreakdown {
	return models.RiskBreakdown{
		Security:    SecurityComponent(doc.SecurityAnalysis),
		Cost:        CostComponent(doc.CostAnalysis),
		Reliability: ReliabilityComponent(doc.ReliabilityAnalysis),
	}
}

// OverallRisk combines the components, clamped to [0,1].
func OverallRisk(b models.RiskBreakdown) float64 {
	return clamp(SecurityWeight*b.Security + CostWeight*b.Cost + ReliabilityWeight*b.Reliability)
}

// Level buckets a risk score.
func Level(risk float64) models.RiskLevel {
	switch {
	case risk >= HighThreshold:
		return models.RiskLevelHigh
	case risk >= MediumThreshold:
		return models.RiskLevelMedium
	default:
		return models.RiskLevelLow
	}
}

// FindingConfidence adjusts the winning model's base confidence for how
// precisely the finding is located and how severe it is.
func FindingConfidence(f models.Finding, baseConfidence float64) float64 {
	c := baseConfidence
	if f.LineNumber != nil {
		c += 0.03
	}
	if f.FilePath != "" {
		c += 0.02
	}
	switch f.Severity {
	case models.SeverityMedium:
		c -= 0.02
	case models.SeverityLow:
		c -= 0.05
	}
	return clamp(c)
}

// ReviewConfidence is the severity-weighted mean of the per-finding
// confidences, or baseConfidence when there are no findings.
func ReviewConfidence(findings []models.Finding, baseConfidence float64) float64 {
	var sum, weights float64
	for _, f := range findings {
		w := severityWeight(f.Severity)
		sum += w * f.ConfidenceScore
		weights += w
	}
	if weights == 0 {
		return clamp(baseConfidence)
	}
	return clamp(sum / weights)
}

// Result is the score of one review.
type Result struct {
	Risk       float64
	Level      models.RiskLevel
	Confidence float64
	Breakdown  models.RiskBreakdown
}

// Score returns a copy of doc with per-finding confidences filled in, and the
// review-level scores. doc is not modified.
func Score(doc *models.FullReview, baseConfidence float64) (*models.FullReview, Result) {
	scored := doc.Clone()

	var all []models.Finding
	for _, f := range scored.Findings() {
		f.ConfidenceScore = FindingConfidence(*f, baseConfidence)
		all = append(all, *f)
	}

	b := Breakdown(scored)
	risk := OverallRisk(b)
	return scored, Result{
		Risk:       risk,
		Level:      Level(risk),
		Confidence: ReviewConfidence(all, baseConfidence),
		Breakdown:  b,
	}
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
