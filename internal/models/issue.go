package models

import "time"

// IssueFrequency tracks how often the same finding recurs across reviews of
// one stack.
type IssueFrequency struct {
	StackID           string    `json:"stack_id"`
	Fingerprint       string    `json:"issue_fingerprint"`
	Category          Category  `json:"category"`
	Title             string    `json:"title"`
	Severity          Severity  `json:"severity"`
	FilePath          string    `json:"file_path,omitempty"`
	OccurrenceCount   int       `json:"occurrence_count"`
	FirstSeen         time.Time `json:"first_seen"`
	LastSeen          time.Time `json:"last_seen"`
	AffectedReviewIDs []string  `json:"affected_review_ids"`
}
