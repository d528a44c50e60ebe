package model

import (
	"time"
)

// Submission represents an uploaded regulatory submission document
type Submission struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Filename      string    `json:"filename"`
	FilePath      string    `json:"file_path"`
	Status        string    `json:"status"` // pending, processing, completed, failed
	FailureReason string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Submission status constants
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// SubmissionChunk is one bounded-size slice of a submission's extracted text
type SubmissionChunk struct {
	ID           string    `json:"id"`
	SubmissionID string    `json:"submission_id"`
	ChunkIndex   int       `json:"chunk_index"`
	Content      string    `json:"content"`
	Embedding    []float32 `json:"embedding,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
