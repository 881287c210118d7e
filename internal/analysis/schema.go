package analysis

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/joescharf/tfreview/internal/models"
)

const fullReviewSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["security_analysis", "cost_analysis", "reliability_analysis", "fix_suggestions"],
  "definitions": {
    "finding": {
      "type": "object",
      "required": ["category", "severity", "title"],
      "properties": {
        "finding_id": { "type": ["string", "null"] },
        "category": { "enum": ["security", "cost", "reliability"] },
        "severity": { "enum": ["high", "medium", "low"] },
        "title": { "type": "string", "minLength": 1 },
        "description": { "type": ["string", "null"] },
        "line_number": { "type": ["integer", "null"] },
        "file_path": { "type": ["string", "null"] },
        "recommendation": { "type": ["string", "null"] },
        "estimated_cost_impact": { "type": ["number", "null"] }
      }
    }
  },
  "properties": {
    "security_analysis": {
      "type": "object",
      "required": ["findings", "total_findings", "high_severity", "medium_severity", "low_severity"],
      "properties": {
        "findings": { "type": "array", "items": { "$ref": "#/definitions/finding" } },
        "total_findings": { "type": "integer", "minimum": 0 },
        "high_severity": { "type": "integer", "minimum": 0 },
        "medium_severity": { "type": "integer", "minimum": 0 },
        "low_severity": { "type": "integer", "minimum": 0 }
      }
    },
    "cost_analysis": {
      "type": "object",
      "required": ["estimated_monthly_cost", "cost_optimizations"],
      "properties": {
        "estimated_monthly_cost": { "type": "number", "minimum": 0 },
        "estimated_annual_cost": { "type": ["number", "null"] },
        "resource_count": { "type": ["integer", "null"] },
        "cost_optimizations": { "type": "array", "items": { "$ref": "#/definitions/finding" } }
      }
    },
    "reliability_analysis": {
      "type": "object",
      "required": ["reliability_score", "single_points_of_failure", "recommendations"],
      "properties": {
        "reliability_score": { "type": "number", "minimum": 0, "maximum": 1 },
        "single_points_of_failure": { "type": "array", "items": { "$ref": "#/definitions/finding" } },
        "recommendations": { "type": "array", "items": { "type": "string" } }
      }
    },
    "fix_suggestions": { "type": "array", "items": { "type": "object" } }
  }
}`

const failureAnalysisSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["root_cause", "recommendations", "confidence_score"],
  "properties": {
    "root_cause": { "type": "string", "minLength": 1 },
    "contributing_factors": { "type": "array", "items": { "type": "string" } },
    "severity": { "enum": ["high", "medium", "low", null] },
    "recommendations": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["action"],
        "properties": {
          "priority": { "enum": ["high", "medium", "low", null] },
          "action": { "type": "string" },
          "explanation": { "type": ["string", "null"] }
        }
      }
    },
    "related_findings": { "type": "array", "items": { "type": "object" } },
    "prevention_strategies": { "type": "array", "items": { "type": "string" } },
    "confidence_score": { "type": "number", "minimum": 0, "maximum": 1 }
  }
}`

const fixEffectivenessSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["fix_effectiveness_score", "findings_resolved", "risk_reduction"],
  "definitions": {
    "counts": {
      "type": "object",
      "required": ["total"],
      "properties": {
        "total": { "type": "integer", "minimum": 0 },
        "security": { "type": "integer", "minimum": 0 },
        "cost": { "type": "integer", "minimum": 0 },
        "reliability": { "type": "integer", "minimum": 0 }
      }
    }
  },
  "properties": {
    "fix_effectiveness_score": { "type": "number", "minimum": 0, "maximum": 1 },
    "findings_resolved": { "$ref": "#/definitions/counts" },
    "findings_remaining": { "$ref": "#/definitions/counts" },
    "risk_reduction": {
      "type": "object",
      "required": ["before", "after"],
      "properties": {
        "before": { "type": "number", "minimum": 0, "maximum": 1 },
        "after": { "type": "number", "minimum": 0, "maximum": 1 },
        "reduction_percentage": { "type": ["number", "null"] }
      }
    },
    "fix_analysis": { "type": "array", "items": { "type": "object" } },
    "remaining_issues": { "type": "array", "items": { "type": "object" } },
    "recommendations": { "type": "array", "items": { "type": "string" } },
    "confidence_score": { "type": ["number", "null"], "minimum": 0, "maximum": 1 }
  }
}`

var schemas = map[models.PromptKind]*gojsonschema.Schema{
	models.PromptFullReview:       mustCompile(fullReviewSchemaJSON),
	models.PromptFailureAnalysis:  mustCompile(failureAnalysisSchemaJSON),
	models.PromptFixEffectiveness: mustCompile(fixEffectivenessSchemaJSON),
}

func mustCompile(schemaJSON string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("compile analysis schema: %v", err))
	}
	return s
}
