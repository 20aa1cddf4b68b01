// Package models defines the shared data types of the retrieval engine.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// CollectionMeta describes a vector collection registered in the store.
type CollectionMeta struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Dimensions  int       `json:"dimensions" db:"dimensions"`
	Description string    `json:"description" db:"description"`
	IsActive    bool      `json:"is_active" db:"is_active"`
	RowCount    int64     `json:"row_count" db:"-"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Document is a single item submitted to the batch embedding pipeline.
type Document struct {
	ID       string          `json:"id,omitempty"`
	Content  string          `json:"content"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// VectorRecord is an embedding row stored in a collection. The vector
// length must match the collection's dimensionality; the store enforces
// this at insert time.
type VectorRecord struct {
	ID         uuid.UUID       `json:"id"`
	DocumentID string          `json:"document_id"`
	Content    string          `json:"content"`
	Embedding  []float32       `json:"embedding"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// SearchResult is one ranked hit from a similarity query.
type SearchResult struct {
	DocumentID string          `json:"document_id"`
	Content    string          `json:"content"`
	Score      float64         `json:"score"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
}

// JobStatus is the lifecycle state of a batch job.
type JobStatus string

// Batch job states. A job moves queued -> running -> one of the three
// terminal states and is immutable afterwards.
const (
	JobStatusQueued              JobStatus = "queued"
	JobStatusRunning             JobStatus = "running"
	JobStatusCompleted           JobStatus = "completed"
	JobStatusCompletedWithErrors JobStatus = "completed_with_errors"
	JobStatusFailed              JobStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusCompletedWithErrors, JobStatusFailed:
		return true
	}
	return false
}

// ItemError records the failure of a single batch item.
type ItemError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// BatchJob is the externally visible state of a batch embedding job.
type BatchJob struct {
	ID         string      `json:"id"`
	Collection string      `json:"collection"`
	Status     JobStatus   `json:"status"`
	Total      int         `json:"total"`
	Succeeded  int         `json:"succeeded"`
	Failed     int         `json:"failed"`
	Errors     []ItemError `json:"errors,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}
