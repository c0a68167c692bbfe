package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/inspection-cli/internal/model"
)

// ErrNotFound is returned when a point lookup finds no row.
var ErrNotFound = eris.New("store: not found")

// PropertyFilter specifies criteria for listing properties.
type PropertyFilter struct {
	RiskCategory model.RiskCategory `json:"risk_category,omitempty"`
	DefectType   string             `json:"defect_type,omitempty"`
	Search       string             `json:"search,omitempty"`
	Limit        int                `json:"limit,omitempty"`
	Offset       int                `json:"offset,omitempty"`
}

// FindingFilter specifies criteria for listing findings. Empty fields match
// everything.
type FindingFilter struct {
	PropertyID string                 `json:"property_id,omitempty"`
	RoomID     string                 `json:"room_id,omitempty"`
	Status     model.ProcessingStatus `json:"status,omitempty"`
}

// ClassificationWrite is the complete write set for one finding's
// classification. It is applied in a single transaction.
type ClassificationWrite struct {
	FindingID string
	// ReplaceCurrent deletes the finding's current tags before inserting.
	// History rows are never deleted.
	ReplaceCurrent bool
	Tags           []model.DefectTag
	History        []model.ClassificationHistory
	// Status, when set, is stored on the finding in the same transaction.
	Status model.ProcessingStatus
}

// RoomTag is a current defect tag joined to the room that owns its finding.
type RoomTag struct {
	model.DefectTag
	RoomID string `json:"room_id"`
}

// Store defines the persistence boundary for the inspection engine.
type Store interface {
	// Properties
	UpsertProperty(ctx context.Context, p *model.Property) error
	GetProperty(ctx context.Context, id string) (*model.Property, error)
	ListProperties(ctx context.Context, filter PropertyFilter) ([]model.Property, error)
	UpdatePropertyRisk(ctx context.Context, id string, score int, category model.RiskCategory) error
	UpdatePropertySummary(ctx context.Context, id string, summary string) error

	// Rooms
	UpsertRoom(ctx context.Context, r *model.Room) error
	GetRoom(ctx context.Context, id string) (*model.Room, error)
	ListRooms(ctx context.Context, propertyID string) ([]model.Room, error)
	UpdateRoomRisk(ctx context.Context, id string, score int) error

	// Findings
	InsertFindings(ctx context.Context, findings []model.Finding) error
	GetFinding(ctx context.Context, id string) (*model.Finding, error)
	ListFindings(ctx context.Context, filter FindingFilter) ([]model.Finding, error)
	UpdateFindingStatus(ctx context.Context, id string, status model.ProcessingStatus) error

	// Classification
	ApplyClassification(ctx context.Context, w ClassificationWrite) error
	ListCurrentTags(ctx context.Context, findingID string) ([]model.DefectTag, error)
	ListHistory(ctx context.Context, findingID string) ([]model.ClassificationHistory, error)
	ListRoomTags(ctx context.Context, roomID string) ([]RoomTag, error)
	ListPropertyTags(ctx context.Context, propertyID string) ([]RoomTag, error)

	// Error log
	InsertErrorLog(ctx context.Context, e *model.ErrorLogEntry) error
	ListErrorLogs(ctx context.Context, limit int) ([]model.ErrorLogEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func validateWrite(w ClassificationWrite) error {
	if w.FindingID == "" {
		return eris.New("store: classification write missing finding id")
	}
	for _, t := range w.Tags {
		if t.FindingID != w.FindingID {
			return eris.Errorf("store: tag %s belongs to finding %s, not %s", t.ID, t.FindingID, w.FindingID)
		}
	}
	for _, h := range w.History {
		if h.FindingID != w.FindingID {
			return eris.Errorf("store: history %s belongs to finding %s, not %s", h.ID, h.FindingID, w.FindingID)
		}
	}
	return nil
}

func defaultLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
