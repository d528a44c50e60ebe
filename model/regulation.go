package model

import (
	"time"
)

// Regulation represents a regulation document in the reference corpus
type Regulation struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Category      string    `json:"category"`
	Version       string    `json:"version"`
	EffectiveDate string    `json:"effective_date,omitempty"`
	Status        string    `json:"status"` // active, archived, draft
	FilePath      string    `json:"file_path"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Regulation status constants
const (
	RegulationActive   = "active"
	RegulationArchived = "archived"
	RegulationDraft    = "draft"
)

// RegulationChunk is one bounded-size slice of a regulation's extracted text,
// optionally carrying its embedding vector.
type RegulationChunk struct {
	ID           string    `json:"id"`
	RegulationID string    `json:"regulation_id"`
	ChunkIndex   int       `json:"chunk_index"`
	Content      string    `json:"content"`
	Embedding    []float32 `json:"embedding,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// RegulationMatch is a similarity-search hit against the regulation corpus
type RegulationMatch struct {
	ChunkID      string  `json:"chunk_id"`
	RegulationID string  `json:"regulation_id"`
	Content      string  `json:"content"`
	Similarity   float64 `json:"similarity"`
}
