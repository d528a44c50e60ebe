package pipeline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/complymed/backend/model"
)

// issueSchema is the structured-output contract for model-generated issues:
// four required core fields, everything else optional. Unknown keys are
// stripped before validation rather than rejected.
const issueSchemaJSON = `{
  "type": "object",
  "required": ["category", "severity", "title", "description"],
  "properties": {
    "category": {"type": "string", "minLength": 1},
    "severity": {"enum": ["error", "warning", "info"]},
    "title": {"type": "string", "minLength": 1},
    "description": {"type": "string", "minLength": 1},
    "location": {"type": "string"},
    "suggestion": {"type": "string"},
    "regulation_id": {"type": "string"},
    "regulation_title": {"type": "string"},
    "regulation_category": {"type": "string"},
    "regulation_version": {"type": "string"},
    "regulation_effective_date": {"type": "string"},
    "regulation_status": {"type": "string"},
    "submission_excerpt": {"type": "string"},
    "regulation_excerpt": {"type": "string"},
    "notes": {"type": "string"},
    "code": {"type": "string"},
    "citations": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "source_id": {"type": "string"},
          "title": {"type": "string"},
          "category": {"type": "string"},
          "version": {"type": "string"},
          "effective_date": {"type": "string"},
          "status": {"type": "string"},
          "section": {"type": "string"},
          "snippet": {"type": "string"},
          "score": {"type": "number", "minimum": 0, "maximum": 1}
        }
      }
    }
  }
}`

var issueSchema = jsonschema.MustCompileString("issue.json", issueSchemaJSON)

// issueStringKeys are the optional string-valued fields kept after coercion
var issueStringKeys = []string{
	"location", "suggestion", "regulation_id", "regulation_title",
	"regulation_category", "regulation_version", "regulation_effective_date",
	"regulation_status", "submission_excerpt", "regulation_excerpt",
	"notes", "code",
}

// ParseIssues extracts the first JSON array from a model response and
// coerces its elements into issues. A response without a parseable array
// returns an error; individual malformed elements are dropped, not fatal.
func ParseIssues(response string) ([]model.Issue, error) {
	arr, ok := FirstJSONArray(response)
	if !ok {
		return nil, fmt.Errorf("no JSON array found in model response")
	}

	var raw []any
	if err := json.Unmarshal([]byte(arr), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse issue array: %w", err)
	}

	issues := make([]model.Issue, 0, len(raw))
	for i, el := range raw {
		m, ok := el.(map[string]any)
		if !ok {
			slog.Warn("dropping non-object issue element", "index", i)
			continue
		}
		issue, ok := coerceIssue(m)
		if !ok {
			slog.Warn("dropping issue failing schema validation", "index", i)
			continue
		}
		issues = append(issues, issue)
	}
	return issues, nil
}

// coerceIssue normalizes a loosely-typed model-output record, validates it
// against the issue schema, and maps it into the issue model. The model's
// JSON is never trusted blindly: severity is normalized, absent fields stay
// unset, citation scores are clamped to [0,1], unknown keys are removed.
func coerceIssue(m map[string]any) (model.Issue, bool) {
	out := map[string]any{}

	for _, k := range []string{"category", "severity", "title", "description"} {
		if s := stringValue(m[k]); s != "" {
			out[k] = s
		}
	}
	if sev, ok := out["severity"].(string); ok {
		sev = strings.ToLower(sev)
		switch sev {
		case model.SeverityError, model.SeverityWarning, model.SeverityInfo:
			out["severity"] = sev
		case "high":
			out["severity"] = model.SeverityError
		case "medium":
			out["severity"] = model.SeverityWarning
		case "low":
			out["severity"] = model.SeverityInfo
		default:
			out["severity"] = model.SeverityInfo
		}
	}

	for _, k := range issueStringKeys {
		if s := stringValue(m[k]); s != "" {
			out[k] = s
		}
	}

	if rawCitations, ok := m["citations"].([]any); ok {
		citations := make([]any, 0, len(rawCitations))
		for _, rc := range rawCitations {
			cm, ok := rc.(map[string]any)
			if !ok {
				continue
			}
			citation := map[string]any{}
			for _, k := range []string{"source_id", "title", "category", "version", "effective_date", "status", "section", "snippet"} {
				if s := stringValue(cm[k]); s != "" {
					citation[k] = s
				}
			}
			// The relevance score is a self-reported hint; clamp it so a
			// confused model can't push a citation outside [0,1]
			if f, ok := numberValue(cm["score"]); ok {
				if f < 0 {
					f = 0
				}
				if f > 1 {
					f = 1
				}
				citation["score"] = f
			}
			citations = append(citations, citation)
		}
		if len(citations) > 0 {
			out["citations"] = citations
		}
	}

	if err := issueSchema.Validate(out); err != nil {
		return model.Issue{}, false
	}

	b, err := json.Marshal(out)
	if err != nil {
		return model.Issue{}, false
	}
	var issue model.Issue
	if err := json.Unmarshal(b, &issue); err != nil {
		return model.Issue{}, false
	}
	return issue, true
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", t), "0"), ".")
	default:
		return ""
	}
}

func numberValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		var f float64
		if _, err := fmt.Sscanf(strings.TrimSpace(t), "%f", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}
