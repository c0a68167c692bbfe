package risk

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/inspection-cli/internal/model"
)

// TraceDefect is one current tag contributing to a score.
type TraceDefect struct {
	TagID          string  `json:"tag_id"`
	FindingID      string  `json:"finding_id"`
	Category       string  `json:"defect_category"`
	Confidence     float64 `json:"confidence_score"`
	SeverityWeight int     `json:"severity_weight"`
}

// RoomTrace lists the contributing defects of one room.
type RoomTrace struct {
	RoomID      string        `json:"room_id"`
	RoomType    string        `json:"room_type"`
	StoredScore *int          `json:"stored_score"`
	Sum         int           `json:"sum"`
	Defects     []TraceDefect `json:"defects"`
}

// Trace is the full breakdown of a property's score.
type Trace struct {
	PropertyID  string             `json:"property_id"`
	StoredScore *int               `json:"stored_score"`
	Category    model.RiskCategory `json:"risk_category"`
	Total       int                `json:"total"`
	Rooms       []RoomTrace        `json:"rooms"`
}

// Consistent reports whether the stored property score equals the sum of
// every contributing weight.
func (t *Trace) Consistent() bool {
	return t.StoredScore != nil && *t.StoredScore == t.Total
}

// Traceability returns every contributing defect of every room of the
// property with its frozen severity weight. It reads only; it never
// recomputes stored scores.
func (a *Aggregator) Traceability(ctx context.Context, propertyID string) (*Trace, error) {
	prop, err := a.store.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, eris.Wrapf(err, "risk: load property %s", propertyID)
	}

	rooms, err := a.store.ListRooms(ctx, propertyID)
	if err != nil {
		return nil, eris.Wrapf(err, "risk: load rooms for %s", propertyID)
	}

	tags, err := a.store.ListPropertyTags(ctx, propertyID)
	if err != nil {
		return nil, eris.Wrapf(err, "risk: load tags for %s", propertyID)
	}

	byRoom := make(map[string][]TraceDefect, len(rooms))
	for _, t := range tags {
		byRoom[t.RoomID] = append(byRoom[t.RoomID], TraceDefect{
			TagID:          t.ID,
			FindingID:      t.FindingID,
			Category:       t.Category,
			Confidence:     t.Confidence,
			SeverityWeight: t.SeverityWeight,
		})
	}

	trace := &Trace{
		PropertyID:  propertyID,
		StoredScore: prop.RiskScore,
		Category:    prop.RiskCategory,
		Rooms:       make([]RoomTrace, 0, len(rooms)),
	}
	for _, room := range rooms {
		rt := RoomTrace{
			RoomID:      room.ID,
			RoomType:    room.RoomType,
			StoredScore: room.RiskScore,
			Defects:     byRoom[room.ID],
		}
		for _, d := range rt.Defects {
			rt.Sum += d.SeverityWeight
		}
		trace.Total += rt.Sum
		trace.Rooms = append(trace.Rooms, rt)
	}
	return trace, nil
}
