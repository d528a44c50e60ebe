package pipeline

import (
	"github.com/complymed/backend/model"
)

// Verdict computes the overall compliance verdict for a set of issues.
// Precedence is fixed: any error makes the submission non-compliant, else
// any warning requires review, else it is compliant. Counts never matter.
func Verdict(issues []model.Issue) string {
	verdict := model.VerdictCompliant
	for _, issue := range issues {
		switch issue.Severity {
		case model.SeverityError:
			return model.VerdictNonCompliant
		case model.SeverityWarning:
			verdict = model.VerdictNeedsReview
		}
	}
	return verdict
}

// MergeIssues unions rule-based and model-based issues, rules first
func MergeIssues(ruleFindings []Finding, modelIssues []model.Issue) []model.Issue {
	merged := make([]model.Issue, 0, len(ruleFindings)+len(modelIssues))
	for _, f := range ruleFindings {
		merged = append(merged, f.ToIssue())
	}
	merged = append(merged, modelIssues...)
	return merged
}
