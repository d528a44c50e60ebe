package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/complymed/backend/middleware"
	"github.com/complymed/backend/model"
	"github.com/complymed/backend/pipeline"
	"github.com/complymed/backend/service"
)

// SubmissionStore is the persistence surface the submission handlers need
type SubmissionStore interface {
	CreateSubmission(ctx context.Context, sub *model.Submission) error
	GetSubmission(ctx context.Context, id string) (*model.Submission, error)
	ListSubmissions(ctx context.Context, userID string) ([]model.Submission, error)
	DeleteSubmission(ctx context.Context, id string) error
	GetLatestAnalysis(ctx context.Context, submissionID string) (*model.AnalysisResult, []model.Issue, error)
}

// Blob is the object-storage surface the handlers need
type Blob interface {
	Upload(ctx context.Context, bucket, objectName string, reader io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, bucket, objectName string) error
}

// Processor runs the document-to-findings pipeline
type Processor interface {
	ProcessDocument(ctx context.Context, submissionID string) (*pipeline.ProcessResult, error)
	ProcessRegulation(ctx context.Context, regulationID string) (*pipeline.RegulationResult, error)
	AnalyzeSubmission(ctx context.Context, submissionID string) (*pipeline.AnalysisSummary, error)
}

type SubmissionHandler struct {
	store     SubmissionStore
	blob      Blob
	processor Processor
	bucket    string
}

func NewSubmissionHandler(store SubmissionStore, blob Blob, processor Processor, bucket string) *SubmissionHandler {
	return &SubmissionHandler{
		store:     store,
		blob:      blob,
		processor: processor,
		bucket:    bucket,
	}
}

// Upload handles submission document upload and runs extraction synchronously
func (h *SubmissionHandler) Upload(c *gin.Context) {
	username := middleware.GetUsername(c)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext != ".pdf" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Only PDF files are allowed"})
		return
	}

	// Validate content type, sniffing the file header when in doubt
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = "application/pdf"
	} else if !strings.Contains(contentType, "pdf") {
		buffer := make([]byte, 512)
		if _, err := file.Read(buffer); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file"})
			return
		}
		file.Seek(0, io.SeekStart)

		detectedType := http.DetectContentType(buffer)
		if !strings.Contains(detectedType, "pdf") && detectedType != "application/octet-stream" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid file type"})
			return
		}
		contentType = "application/pdf"
	}

	submissionID := uuid.New().String()
	objectName := fmt.Sprintf("%s/%d_%s", username, time.Now().Unix(), header.Filename)

	if err := h.blob.Upload(c.Request.Context(), h.bucket, objectName, file, header.Size, contentType); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to upload file: " + err.Error()})
		return
	}

	sub := &model.Submission{
		ID:       submissionID,
		UserID:   username,
		Filename: header.Filename,
		FilePath: objectName,
		Status:   model.StatusPending,
	}
	if err := h.store.CreateSubmission(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create submission: " + err.Error()})
		return
	}

	res, err := h.processor.ProcessDocument(c.Request.Context(), submissionID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process document: " + err.Error()})
		return
	}

	status := model.StatusProcessing
	if res.Failed {
		status = model.StatusFailed
	}
	c.JSON(http.StatusOK, gin.H{
		"id":               submissionID,
		"filename":         header.Filename,
		"status":           status,
		"chunks_processed": res.ChunksProcessed,
		"failure_reason":   res.Reason,
	})
}

// List returns all submissions of the current user
func (h *SubmissionHandler) List(c *gin.Context) {
	username := middleware.GetUsername(c)

	subs, err := h.store.ListSubmissions(c.Request.Context(), username)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list submissions"})
		return
	}

	result := make([]gin.H, len(subs))
	for i, sub := range subs {
		result[i] = gin.H{
			"id":             sub.ID,
			"filename":       sub.Filename,
			"status":         sub.Status,
			"failure_reason": sub.FailureReason,
			"created_at":     sub.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			"updated_at":     sub.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}

	c.JSON(http.StatusOK, gin.H{"submissions": result})
}

// ownedSubmission loads a submission and enforces ownership. On any miss it
// writes a 404 and returns nil.
func (h *SubmissionHandler) ownedSubmission(c *gin.Context) *model.Submission {
	username := middleware.GetUsername(c)
	id := c.Param("id")

	sub, err := h.store.GetSubmission(c.Request.Context(), id)
	if err != nil || sub.UserID != username {
		c.JSON(http.StatusNotFound, gin.H{"error": "Submission not found"})
		return nil
	}
	return sub
}

// Get returns a single submission with its latest analysis, if any
func (h *SubmissionHandler) Get(c *gin.Context) {
	sub := h.ownedSubmission(c)
	if sub == nil {
		return
	}

	response := gin.H{"submission": sub}
	result, issues, err := h.store.GetLatestAnalysis(c.Request.Context(), sub.ID)
	if err == nil {
		response["analysis"] = result
		response["issues"] = issues
	}

	c.JSON(http.StatusOK, response)
}

// GetStatus returns the processing status of a submission
func (h *SubmissionHandler) GetStatus(c *gin.Context) {
	sub := h.ownedSubmission(c)
	if sub == nil {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":             sub.ID,
		"status":         sub.Status,
		"failure_reason": sub.FailureReason,
	})
}

// Analyze runs the compliance analysis over a processed submission
func (h *SubmissionHandler) Analyze(c *gin.Context) {
	sub := h.ownedSubmission(c)
	if sub == nil {
		return
	}

	if sub.Status == model.StatusFailed {
		c.JSON(http.StatusConflict, gin.H{"error": "Submission failed text extraction", "failure_reason": sub.FailureReason})
		return
	}

	sum, err := h.processor.AnalyzeSubmission(c.Request.Context(), sub.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to analyze submission: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"analysis_id":    sum.AnalysisID,
		"overall_status": sum.OverallStatus,
		"issues_found":   sum.IssuesFound,
	})
}

// Report streams the latest analysis as an XLSX workbook
func (h *SubmissionHandler) Report(c *gin.Context) {
	sub := h.ownedSubmission(c)
	if sub == nil {
		return
	}

	result, issues, err := h.store.GetLatestAnalysis(c.Request.Context(), sub.ID)
	if errors.Is(err, service.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No analysis available"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load analysis"})
		return
	}

	data, err := service.ExportReportXLSX(sub, result, issues)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build report"})
		return
	}

	filename := strings.TrimSuffix(sub.Filename, filepath.Ext(sub.Filename)) + "_report.xlsx"
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

// Delete removes a submission and its stored document
func (h *SubmissionHandler) Delete(c *gin.Context) {
	sub := h.ownedSubmission(c)
	if sub == nil {
		return
	}

	if err := h.store.DeleteSubmission(c.Request.Context(), sub.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete submission"})
		return
	}
	// Blob removal is best-effort: the row is already gone
	if err := h.blob.Delete(c.Request.Context(), h.bucket, sub.FilePath); err != nil {
		c.JSON(http.StatusOK, gin.H{"message": "Submission deleted, stored document could not be removed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Submission deleted"})
}
