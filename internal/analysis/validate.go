// Package analysis turns raw model text into typed, schema-checked analysis
// documents.
package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/joescharf/tfreview/internal/models"
)

// ValidationKind classifies why a model answer was rejected.
type ValidationKind string

const (
	Malformed       ValidationKind = "malformed"
	SchemaViolation ValidationKind = "schema_violation"
)

// ValidationError reports a rejected model answer. Path is the dotted JSON
// path of the first offending field for schema violations.
type ValidationError struct {
	Kind   ValidationKind
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s at %s: %s", e.Kind, e.Path, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate extracts, parses and checks a model answer for the given prompt
// kind. Nothing is repaired: any defect is returned as a *ValidationError.
func Validate(raw string, kind models.PromptKind) (*models.AnalysisDocument, error) {
	schema, ok := schemas[kind]
	if !ok {
		return nil, fmt.Errorf("unknown prompt kind: %s", kind)
	}

	span, ok := ExtractJSON(raw)
	if !ok {
		return nil, &ValidationError{Kind: Malformed, Reason: "no JSON object found in model output"}
	}

	var probe map[string]any
	if err := json.Unmarshal([]byte(span), &probe); err != nil {
		return nil, &ValidationError{Kind: Malformed, Reason: err.Error()}
	}

	result, err := schema.Validate(gojsonschema.NewStringLoader(span))
	if err != nil {
		return nil, &ValidationError{Kind: Malformed, Reason: err.Error()}
	}
	if !result.Valid() {
		return nil, firstViolation(result.Errors())
	}

	doc := &models.AnalysisDocument{Kind: kind}
	switch kind {
	case models.PromptFullReview:
		var fr models.FullReview
		if err := json.Unmarshal([]byte(span), &fr); err != nil {
			return nil, &ValidationError{Kind: SchemaViolation, Reason: err.Error()}
		}
		if err := checkFindings(&fr); err != nil {
			return nil, err
		}
		doc.FullReview = &fr
	case models.PromptFailureAnalysis:
		var fa models.FailureAnalysis
		if err := json.Unmarshal([]byte(span), &fa); err != nil {
			return nil, &ValidationError{Kind: SchemaViolation, Reason: err.Error()}
		}
		doc.FailureAnalysis = &fa
	case models.PromptFixEffectiveness:
		var fe models.FixEffectiveness
		if err := json.Unmarshal([]byte(span), &fe); err != nil {
			return nil, &ValidationError{Kind: SchemaViolation, Reason: err.Error()}
		}
		doc.FixEffectiveness = &fe
	}
	return doc, nil
}

// firstViolation picks a stable "first" error so the same answer always
// reports the same path.
func firstViolation(errs []gojsonschema.ResultError) *ValidationError {
	type violation struct{ path, reason string }
	vs := make([]violation, 0, len(errs))
	for _, e := range errs {
		vs = append(vs, violation{path: resultPath(e), reason: e.Description()})
	}
	sort.Slice(vs, func(i, j int) bool {
		if vs[i].path != vs[j].path {
			return vs[i].path < vs[j].path
		}
		return vs[i].reason < vs[j].reason
	})
	if len(vs) == 0 {
		return &ValidationError{Kind: SchemaViolation, Reason: "document does not match schema"}
	}
	return &ValidationError{Kind: SchemaViolation, Path: vs[0].path, Reason: vs[0].reason}
}

// resultPath names the offending field. For missing properties the parent
// path is extended with the property name.
func resultPath(e gojsonschema.ResultError) string {
	field := e.Field()
	if field == "(root)" {
		field = ""
	}
	if e.Type() == "required" {
		if prop, ok := e.Details()["property"].(string); ok {
			if field == "" {
				return prop
			}
			return field + "." + prop
		}
	}
	return field
}

// checkFindings assigns missing ids, rejects duplicate ids and findings
// filed under another category's list, and computes fingerprints.
func checkFindings(fr *models.FullReview) error {
	lists := []struct {
		path     string
		category models.Category
		findings []models.Finding
	}{
		{"security_analysis.findings", models.CategorySecurity, fr.SecurityAnalysis.Findings},
		{"cost_analysis.cost_optimizations", models.CategoryCost, fr.CostAnalysis.CostOptimizations},
		{"reliability_analysis.single_points_of_failure", models.CategoryReliability, fr.ReliabilityAnalysis.SinglePointsOfFailure},
	}

	seen := make(map[string]string)
	for _, l := range lists {
		for i := range l.findings {
			f := &l.findings[i]
			path := fmt.Sprintf("%s.%d", l.path, i)

			if strings.TrimSpace(f.Title) == "" {
				return &ValidationError{Kind: SchemaViolation, Path: path + ".title", Reason: "title is empty"}
			}
			if f.Category != l.category {
				return &ValidationError{
					Kind:   SchemaViolation,
					Path:   path + ".category",
					Reason: fmt.Sprintf("category %q in the %s list", f.Category, l.category),
				}
			}
			if f.FindingID == "" {
				f.FindingID = fmt.Sprintf("auto-%s-%d", f.Category, i+1)
			}
			if prev, dup := seen[f.FindingID]; dup {
				return &ValidationError{
					Kind:   SchemaViolation,
					Path:   path + ".finding_id",
					Reason: fmt.Sprintf("duplicate finding_id %q (also at %s)", f.FindingID, prev),
				}
			}
			seen[f.FindingID] = path
			f.IssueFingerprint = Fingerprint(f.Category, f.Title, f.FilePath)
		}
	}
	return nil
}

// Fingerprint identifies "the same" issue across reviews of a stack. Titles
// are compared case-insensitively with whitespace collapsed.
func Fingerprint(category models.Category, title, filePath string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(title)), " ")
	h := sha256.Sum256([]byte(string(category) + "|" + norm + "|" + strings.TrimSpace(filePath)))
	return hex.EncodeToString(h[:])
}
