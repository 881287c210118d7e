package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joescharf/tfreview/internal/models"
)

// PromptVersions records the template revision for each prompt kind. The
// version is stored with every completed review.
var PromptVersions = map[models.PromptKind]string{
	models.PromptFullReview:       "v2.1",
	models.PromptFailureAnalysis:  "v1.3",
	models.PromptFixEffectiveness: "v1.0",
}

// PromptVersion returns the template revision for kind.
func PromptVersion(kind models.PromptKind) string {
	if v, ok := PromptVersions[kind]; ok {
		return v
	}
	return "v1.0"
}

const systemPrompt = `You review Terraform for AWS security, cost and reliability problems.
Reply with a single JSON object that follows the requested format exactly. Do not add prose or markdown.
Cite line numbers and file paths whenever you can, and make every recommendation actionable.`

const fullReviewFormat = `{
  "security_analysis": {
    "total_findings": 0,
    "high_severity": 0,
    "medium_severity": 0,
    "low_severity": 0,
    "findings": [
      {"finding_id": "sec-1", "category": "security", "severity": "high|medium|low", "title": "...", "description": "...", "line_number": 10, "file_path": "main.tf", "recommendation": "..."}
    ]
  },
  "cost_analysis": {
    "estimated_monthly_cost": 0.0,
    "estimated_annual_cost": 0.0,
    "resource_count": 0,
    "cost_optimizations": [
      {"finding_id": "cost-1", "category": "cost", "severity": "high|medium|low", "title": "...", "description": "...", "recommendation": "...", "estimated_cost_impact": 0.0}
    ]
  },
  "reliability_analysis": {
    "reliability_score": 0.0,
    "single_points_of_failure": [
      {"finding_id": "rel-1", "category": "reliability", "severity": "high|medium|low", "title": "...", "description": "...", "recommendation": "..."}
    ],
    "recommendations": ["..."]
  },
  "fix_suggestions": [
    {"fix_id": "fix-1", "finding_id": "sec-1", "original_code": "...", "suggested_code": "...", "explanation": "...", "effectiveness_score": 0.0}
  ]
}`

const failureAnalysisFormat = `{
  "root_cause": "...",
  "contributing_factors": ["..."],
  "severity": "high|medium|low",
  "recommendations": [{"priority": "high|medium|low", "action": "...", "explanation": "..."}],
  "related_findings": [{"finding_id": "...", "category": "security|cost|reliability", "title": "...", "description": "..."}],
  "prevention_strategies": ["..."],
  "confidence_score": 0.0
}`

const fixEffectivenessFormat = `{
  "fix_effectiveness_score": 0.0,
  "findings_resolved": {"total": 0, "security": 0, "cost": 0, "reliability": 0},
  "findings_remaining": {"total": 0, "security": 0, "cost": 0, "reliability": 0},
  "risk_reduction": {"before": 0.0, "after": 0.0, "reduction_percentage": 0.0},
  "fix_analysis": [{"finding_id": "...", "fix_applied": true, "effectiveness": 0.0, "explanation": "..."}],
  "remaining_issues": [{"finding_id": "...", "severity": "high|medium|low", "reason_not_fixed": "..."}],
  "recommendations": ["..."],
  "confidence_score": 0.0
}`

// maxPromptFindings bounds how many findings are echoed into a
// fix_effectiveness prompt.
const maxPromptFindings = 5

// maxStackTrace bounds the stack trace echoed into a failure_analysis prompt.
const maxStackTrace = 500

// buildPrompt renders the system and user prompts for req.
func buildPrompt(req Request) (system string, user string, err error) {
	switch req.Kind {
	case models.PromptFullReview:
		return systemPrompt, buildFullReviewPrompt(req), nil
	case models.PromptFailureAnalysis:
		return systemPrompt, buildFailurePrompt(req), nil
	case models.PromptFixEffectiveness:
		return systemPrompt, buildFixPrompt(req), nil
	default:
		return "", "", fmt.Errorf("unknown prompt kind: %q", req.Kind)
	}
}

func buildFullReviewPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("Review this Terraform for security, cost and reliability issues.\n\n")

	if c := req.Context; c != nil {
		sb.WriteString("Run context:\n")
		writeField(&sb, "Run ID", c.RunID)
		writeField(&sb, "Stack", c.StackID)
		writeField(&sb, "Previous run status", c.PreviousStatus)
		if len(c.ChangedFiles) > 0 {
			writeField(&sb, "Changed files", strings.Join(c.ChangedFiles, ", "))
		}
		writeField(&sb, "Commit", c.Commit)
		writeField(&sb, "Branch", c.Branch)
		sb.WriteString("\n")
	}

	writeCode(&sb, "Terraform code", req.Snapshot)

	sb.WriteString("Answer with JSON in exactly this shape:\n")
	sb.WriteString(fullReviewFormat)
	sb.WriteString("\n\nLook for:\n")
	sb.WriteString("1. Security: hardcoded credentials, missing encryption, wildcard IAM policies, public buckets or security groups\n")
	sb.WriteString("2. Cost: oversized instances, no autoscaling, idle or unused resources\n")
	sb.WriteString("3. Reliability: single points of failure, missing backups, no health checks\n")
	sb.WriteString("\nreliability_score is your overall assessment in [0,1], where 1 is most reliable. Return only JSON.")
	return sb.String()
}

func buildFailurePrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("Find the root cause of this failed Terraform run.\n\n")
	writeCode(&sb, "Terraform code", req.Snapshot)

	f := req.Failure
	if f == nil {
		f = &FailureInput{}
	}
	sb.WriteString("Error details:\n")
	writeField(&sb, "Error type", orUnknown(f.ErrorType))
	writeField(&sb, "Error message", orUnknown(f.ErrorMessage))
	writeField(&sb, "Error code", f.ErrorCode)
	trace := f.StackTrace
	if len(trace) > maxStackTrace {
		trace = trace[:maxStackTrace]
	}
	writeField(&sb, "Stack trace", trace)
	sb.WriteString("\n")

	if p := f.Previous; p != nil {
		sb.WriteString("Previous review:\n")
		writeField(&sb, "Status", string(p.Status))
		if p.RiskScore != nil {
			writeField(&sb, "Risk score", fmt.Sprintf("%.2f", *p.RiskScore))
		}
		if p.Analysis != nil {
			writeField(&sb, "Findings", fmt.Sprintf("%d", len(p.Analysis.Findings())))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("Answer with JSON in exactly this shape:\n")
	sb.WriteString(failureAnalysisFormat)
	sb.WriteString("\n\nReturn only JSON.")
	return sb.String()
}

func buildFixPrompt(req Request) string {
	var sb strings.Builder
	sb.WriteString("Judge how well the fixes applied to this Terraform resolved the earlier findings.\n\n")
	writeCode(&sb, "Original code", req.Snapshot)

	fix := req.Fix
	if fix == nil {
		fix = &FixInput{}
	}
	writeCode(&sb, "Fixed code", fix.FixedSnapshot)
	writeFindings(&sb, "Original findings", fix.OriginalFindings)
	writeFindings(&sb, "Findings after the fix", fix.FixedFindings)

	sb.WriteString("Answer with JSON in exactly this shape:\n")
	sb.WriteString(fixEffectivenessFormat)
	sb.WriteString("\n\nReturn only JSON.")
	return sb.String()
}

func writeField(sb *strings.Builder, label, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(sb, "- %s: %s\n", label, value)
}

func writeCode(sb *strings.Builder, label, code string) {
	fmt.Fprintf(sb, "%s:\n```hcl\n%s\n```\n\n", label, code)
}

func writeFindings(sb *strings.Builder, label string, findings []models.Finding) {
	fmt.Fprintf(sb, "%s (%d):\n", label, len(findings))
	shown := findings
	if len(shown) > maxPromptFindings {
		shown = shown[:maxPromptFindings]
	}
	data, _ := json.MarshalIndent(shown, "", "  ")
	if len(shown) == 0 {
		data = []byte("[]")
	}
	sb.Write(data)
	sb.WriteString("\n\n")
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
