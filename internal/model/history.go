package model

import "time"

// ClassificationMethod records how a classification was produced.
type ClassificationMethod string

const (
	MethodTextAI  ClassificationMethod = "text_ai"
	MethodImageAI ClassificationMethod = "image_ai"
	MethodManual  ClassificationMethod = "manual"
)

// MethodFor returns the AI method matching a finding type.
func MethodFor(t FindingType) ClassificationMethod {
	if t == FindingTypeImage {
		return MethodImageAI
	}
	return MethodTextAI
}

// Label is one validated classification of a finding, not yet persisted.
type Label struct {
	Category   string  `json:"defect_category"`
	Confidence float64 `json:"confidence_score"`
}

// ClassificationHistory is an append-only audit row. One row exists for
// every classification ever recorded; rows are never updated or deleted.
type ClassificationHistory struct {
	ID           string               `json:"history_id"`
	FindingID    string               `json:"finding_id"`
	Category     string               `json:"defect_category"`
	Confidence   float64              `json:"confidence_score"`
	Method       ClassificationMethod `json:"classification_method"`
	ClassifiedAt time.Time            `json:"classified_at"`
}

// ErrorType enumerates the kinds of entries written to the error log.
type ErrorType string

const (
	ErrImageAccess          ErrorType = "image_access_error"
	ErrClassification       ErrorType = "classification_error"
	ErrInvalidCategory      ErrorType = "invalid_category"
	ErrClassificationFailed ErrorType = "classification_failure"
	ErrFindingNotFound      ErrorType = "finding_not_found"
	ErrBatchClassification  ErrorType = "batch_classification_error"
	ErrSummaryGeneration    ErrorType = "summary_generation_error"
	ErrIngestion            ErrorType = "ingestion_error"
)

// Entity types referenced by error log entries.
const (
	EntityProperty = "property"
	EntityRoom     = "room"
	EntityFinding  = "finding"
)

// ErrorLogEntry is an operator-facing error record.
type ErrorLogEntry struct {
	ID         string    `json:"error_id"`
	ErrorType  ErrorType `json:"error_type"`
	Message    string    `json:"error_message"`
	EntityType string    `json:"entity_type,omitempty"`
	EntityID   string    `json:"entity_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
