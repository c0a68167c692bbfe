package model

import "time"

// FindingType distinguishes text notes from photographs.
type FindingType string

const (
	FindingTypeText  FindingType = "text"
	FindingTypeImage FindingType = "image"
)

// Valid reports whether t is a known finding type.
func (t FindingType) Valid() bool {
	return t == FindingTypeText || t == FindingTypeImage
}

// ProcessingStatus tracks a finding through classification.
type ProcessingStatus string

const (
	StatusPending   ProcessingStatus = "pending"
	StatusProcessed ProcessingStatus = "processed"
	StatusFailed    ProcessingStatus = "failed"
)

// RiskCategory is the banded property risk level.
type RiskCategory string

const (
	RiskLow    RiskCategory = "Low"
	RiskMedium RiskCategory = "Medium"
	RiskHigh   RiskCategory = "High"
)

// Property is an inspected property. Risk fields are derived and stay nil
// until the aggregator has scored the property.
type Property struct {
	ID             string       `json:"property_id"`
	Location       string       `json:"location"`
	InspectionDate time.Time    `json:"inspection_date"`
	RiskScore      *int         `json:"risk_score,omitempty"`
	RiskCategory   RiskCategory `json:"risk_category,omitempty"`
	SummaryText    string       `json:"summary_text,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// Room belongs to a property. RiskScore is nil until first computed.
type Room struct {
	ID           string    `json:"room_id"`
	PropertyID   string    `json:"property_id"`
	RoomType     string    `json:"room_type"`
	RoomLocation string    `json:"room_location,omitempty"`
	RiskScore    *int      `json:"risk_score,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Finding is a single inspection observation: a note or a photo.
type Finding struct {
	ID            string           `json:"finding_id"`
	RoomID        string           `json:"room_id"`
	Type          FindingType      `json:"finding_type"`
	NoteText      string           `json:"note_text,omitempty"`
	ImageFilename string           `json:"image_filename,omitempty"`
	ImageRef      string           `json:"image_ref,omitempty"`
	Status        ProcessingStatus `json:"processing_status"`
	CreatedAt     time.Time        `json:"created_at"`
}

// Content returns the note text for text findings and the asset reference
// for image findings.
func (f *Finding) Content() string {
	if f.Type == FindingTypeImage {
		return f.ImageRef
	}
	return f.NoteText
}

// DefectTag is a current classification of a finding. SeverityWeight is
// frozen at the time the tag is stored.
type DefectTag struct {
	ID             string    `json:"tag_id"`
	FindingID      string    `json:"finding_id"`
	Category       string    `json:"defect_category"`
	Confidence     float64   `json:"confidence_score"`
	SeverityWeight int       `json:"severity_weight"`
	ClassifiedAt   time.Time `json:"classified_at"`
}
