package model

import (
	"time"
)

// Issue severity constants
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// Overall verdict constants
const (
	VerdictCompliant    = "compliant"
	VerdictNonCompliant = "non_compliant"
	VerdictNeedsReview  = "needs_review"
)

// Citation is a structured reference from an issue to a regulation passage
type Citation struct {
	SourceID      string  `json:"source_id,omitempty"`
	Title         string  `json:"title,omitempty"`
	Category      string  `json:"category,omitempty"`
	Version       string  `json:"version,omitempty"`
	EffectiveDate string  `json:"effective_date,omitempty"`
	Status        string  `json:"status,omitempty"`
	Section       string  `json:"section,omitempty"`
	Snippet       string  `json:"snippet,omitempty"`
	Score         float64 `json:"score"`
}

// Issue is a single compliance finding attached to an analysis result.
// Core fields (category, severity, title, description) are always set;
// everything else depends on what the producing stage could determine.
type Issue struct {
	ID                  string     `json:"id,omitempty"`
	AnalysisID          string     `json:"analysis_id,omitempty"`
	Category            string     `json:"category"`
	Severity            string     `json:"severity"`
	Title               string     `json:"title"`
	Description         string     `json:"description"`
	Location            string     `json:"location,omitempty"`
	Suggestion          string     `json:"suggestion,omitempty"`
	RegulationID        string     `json:"regulation_id,omitempty"`
	RegulationTitle     string     `json:"regulation_title,omitempty"`
	RegulationCategory  string     `json:"regulation_category,omitempty"`
	RegulationVersion   string     `json:"regulation_version,omitempty"`
	RegulationEffective string     `json:"regulation_effective_date,omitempty"`
	RegulationStatus    string     `json:"regulation_status,omitempty"`
	SubmissionExcerpt   string     `json:"submission_excerpt,omitempty"`
	RegulationExcerpt   string     `json:"regulation_excerpt,omitempty"`
	Citations           []Citation `json:"citations,omitempty"`
	Notes               string     `json:"notes,omitempty"`
	Code                string     `json:"code,omitempty"`
}

// AnalysisResult is the single immutable result of one submission analysis
type AnalysisResult struct {
	ID            string    `json:"id"`
	SubmissionID  string    `json:"submission_id"`
	OverallStatus string    `json:"overall_status"` // compliant, non_compliant, needs_review
	CreatedAt     time.Time `json:"created_at"`
}
