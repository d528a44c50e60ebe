package handler

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/complymed/backend/model"
)

// RegulationStore is the persistence surface the regulation handlers need
type RegulationStore interface {
	CreateRegulation(ctx context.Context, reg *model.Regulation) error
	GetRegulation(ctx context.Context, id string) (*model.Regulation, error)
	ListRegulations(ctx context.Context) ([]model.Regulation, error)
}

type RegulationHandler struct {
	store     RegulationStore
	blob      Blob
	processor Processor
	bucket    string
}

func NewRegulationHandler(store RegulationStore, blob Blob, processor Processor, bucket string) *RegulationHandler {
	return &RegulationHandler{
		store:     store,
		blob:      blob,
		processor: processor,
		bucket:    bucket,
	}
}

// Create uploads a regulation document with its metadata
func (h *RegulationHandler) Create(c *gin.Context) {
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

	title := c.PostForm("title")
	if title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Title is required"})
		return
	}

	status := c.PostForm("status")
	if status == "" {
		status = model.RegulationActive
	}
	switch status {
	case model.RegulationActive, model.RegulationArchived, model.RegulationDraft:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid status"})
		return
	}

	regulationID := uuid.New().String()
	objectName := fmt.Sprintf("%s/%d_%s", regulationID, time.Now().Unix(), header.Filename)

	if err := h.blob.Upload(c.Request.Context(), h.bucket, objectName, file, header.Size, "application/pdf"); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to upload file: " + err.Error()})
		return
	}

	reg := &model.Regulation{
		ID:            regulationID,
		Title:         title,
		Category:      c.PostForm("category"),
		Version:       c.PostForm("version"),
		EffectiveDate: c.PostForm("effective_date"),
		Status:        status,
		FilePath:      objectName,
	}
	if err := h.store.CreateRegulation(c.Request.Context(), reg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create regulation: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":     regulationID,
		"title":  title,
		"status": status,
	})
}

// Process extracts and chunks a regulation document into the corpus
func (h *RegulationHandler) Process(c *gin.Context) {
	id := c.Param("id")

	if _, err := h.store.GetRegulation(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Regulation not found"})
		return
	}

	res, err := h.processor.ProcessRegulation(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to process regulation: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":               id,
		"chunks":           res.Chunks,
		"has_text_content": res.HasTextContent,
	})
}

// List returns all regulations in the corpus
func (h *RegulationHandler) List(c *gin.Context) {
	regs, err := h.store.ListRegulations(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list regulations"})
		return
	}

	result := make([]gin.H, len(regs))
	for i, reg := range regs {
		result[i] = gin.H{
			"id":             reg.ID,
			"title":          reg.Title,
			"category":       reg.Category,
			"version":        reg.Version,
			"effective_date": reg.EffectiveDate,
			"status":         reg.Status,
			"created_at":     reg.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
	}

	c.JSON(http.StatusOK, gin.H{"regulations": result})
}
