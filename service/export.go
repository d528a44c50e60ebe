package service

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/complymed/backend/model"
)

// ExportReportXLSX renders one analysis result as an XLSX workbook with a
// summary sheet and an issues sheet.
func ExportReportXLSX(sub *model.Submission, result *model.AnalysisResult, issues []model.Issue) ([]byte, error) {
	start := time.Now()
	f := excelize.NewFile()

	const summarySheet = "Summary"
	const issuesSheet = "Issues"

	// The default sheet becomes the summary
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, fmt.Errorf("xlsx sheet rename: %w", err)
	}
	if _, err := f.NewSheet(issuesSheet); err != nil {
		return nil, fmt.Errorf("xlsx sheet create: %w", err)
	}

	counts := map[string]int{}
	for _, issue := range issues {
		counts[issue.Severity]++
	}

	summaryRows := [][]any{
		{"Submission", sub.Filename},
		{"Submission ID", sub.ID},
		{"Analyzed At", result.CreatedAt.Format("2006-01-02 15:04:05")},
		{"Overall Status", result.OverallStatus},
		{"Total Issues", len(issues)},
		{"Errors", counts[model.SeverityError]},
		{"Warnings", counts[model.SeverityWarning]},
		{"Info", counts[model.SeverityInfo]},
	}
	for i, row := range summaryRows {
		for j, v := range row {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+1)
			_ = f.SetCellValue(summarySheet, cell, v)
		}
	}
	_ = f.SetColWidth(summarySheet, "A", "A", 18)
	_ = f.SetColWidth(summarySheet, "B", "B", 48)

	headers := []string{
		"Severity",
		"Category",
		"Title",
		"Description",
		"Location",
		"Suggestion",
		"Regulation",
		"Citations",
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(issuesSheet, cell, h)
	}

	for i, issue := range issues {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(issuesSheet, cell, v)
		}
		write(1, issue.Severity)
		write(2, issue.Category)
		write(3, issue.Title)
		write(4, issue.Description)
		write(5, issue.Location)
		write(6, issue.Suggestion)
		write(7, regulationLabel(issue))
		write(8, citationsLabel(issue.Citations))
	}
	_ = f.SetColWidth(issuesSheet, "A", "B", 12)
	_ = f.SetColWidth(issuesSheet, "C", "C", 32)
	_ = f.SetColWidth(issuesSheet, "D", "D", 60)
	_ = f.SetColWidth(issuesSheet, "E", "F", 30)
	_ = f.SetColWidth(issuesSheet, "G", "H", 40)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	slog.Info("export.xlsx.ok",
		"submission_id", sub.ID,
		"issues", len(issues),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

// regulationLabel renders an issue's regulation reference as one cell value
func regulationLabel(issue model.Issue) string {
	if issue.RegulationTitle == "" && issue.RegulationID == "" {
		return ""
	}
	label := issue.RegulationTitle
	if label == "" {
		label = issue.RegulationID
	}
	if issue.RegulationVersion != "" {
		label += " v" + issue.RegulationVersion
	}
	return label
}

func citationsLabel(citations []model.Citation) string {
	if len(citations) == 0 {
		return ""
	}
	parts := make([]string, len(citations))
	for i, c := range citations {
		ref := c.Title
		if ref == "" {
			ref = c.SourceID
		}
		if c.Section != "" {
			ref += " §" + c.Section
		}
		parts[i] = fmt.Sprintf("%s (%.2f)", ref, c.Score)
	}
	return strings.Join(parts, "; ")
}
