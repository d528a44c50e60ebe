package pipeline

import (
	"fmt"
	"strings"

	"github.com/complymed/backend/model"
)

// TruncationMarker signals a tail-cut in prompt context
const TruncationMarker = "\n...[truncated]"

const analysisSystemPrompt = `You are a regulatory compliance reviewer for medical-device submissions. Compare the submission text against the provided regulation passages and report every compliance issue you find.

Respond with a JSON array only, no prose. Each element must contain "category", "severity" ("error", "warning" or "info"), "title" and "description". Optional fields: "location", "suggestion", "regulation_id", "regulation_title", "regulation_category", "regulation_version", "regulation_effective_date", "regulation_status", "submission_excerpt" (verbatim from the submission), "regulation_excerpt" (verbatim from the regulation), "notes", "code", and "citations" — an array of objects with "source_id", "title", "category", "version", "effective_date", "status", "section", "snippet" and "score" between 0 and 1.

Return [] if no issues are found.`

// truncateTail cuts s to at most max characters and appends the truncation
// marker when a cut happened.
func truncateTail(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + TruncationMarker
}

// buildWholeDocPrompt assembles the single-call prompt: the whole submission
// plus every active regulation chunk annotated with its regulation metadata.
func buildWholeDocPrompt(submission string, regs []RegulationContext, maxSub, maxReg int) string {
	var ctx strings.Builder
	for _, rc := range regs {
		ctx.WriteString(fmt.Sprintf("[%s | %s | %s | v%s | effective %s | %s]\n",
			rc.Regulation.ID, rc.Regulation.Title, rc.Regulation.Category,
			rc.Regulation.Version, rc.Regulation.EffectiveDate, rc.Regulation.Status))
		ctx.WriteString(rc.Content)
		ctx.WriteString("\n\n")
	}

	var b strings.Builder
	b.WriteString("Regulation corpus:\n")
	b.WriteString(truncateTail(strings.TrimSpace(ctx.String()), maxReg))
	b.WriteString("\n\nSubmission text:\n")
	b.WriteString(truncateTail(submission, maxSub))
	return b.String()
}

// buildChunkPrompt assembles a narrow per-chunk prompt from the nearest
// regulation passages retrieved for that chunk.
func buildChunkPrompt(chunk string, matches []model.RegulationMatch, maxReg int) string {
	var ctx strings.Builder
	for _, m := range matches {
		ctx.WriteString(fmt.Sprintf("[%s | similarity %.2f]\n%s\n\n", m.RegulationID, m.Similarity, m.Content))
	}

	var b strings.Builder
	b.WriteString("Relevant regulation passages:\n")
	b.WriteString(truncateTail(strings.TrimSpace(ctx.String()), maxReg))
	b.WriteString("\n\nSubmission passage:\n")
	b.WriteString(chunk)
	return b.String()
}
