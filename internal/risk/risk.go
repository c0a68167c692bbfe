// Package risk aggregates frozen defect severities into room and property
// risk scores. Every computation walks the current tags afresh; nothing is
// maintained incrementally.
package risk

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/inspection-cli/internal/model"
	"github.com/sells-group/inspection-cli/internal/store"
)

// Score thresholds for the Medium and High risk bands.
const (
	MediumThreshold = 5
	HighThreshold   = 10
)

// Categorize maps a property score to its risk band.
func Categorize(score int) model.RiskCategory {
	switch {
	case score >= HighThreshold:
		return model.RiskHigh
	case score >= MediumThreshold:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

// Invalidator is notified when a property's derived fields change.
type Invalidator interface {
	InvalidateProperty(propertyID string)
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithInvalidator registers a cache to invalidate after every write.
func WithInvalidator(inv Invalidator) Option {
	return func(a *Aggregator) { a.invalidator = inv }
}

// Aggregator computes and persists risk scores.
type Aggregator struct {
	store       store.Store
	invalidator Invalidator
}

// New creates an Aggregator.
func New(st store.Store, opts ...Option) *Aggregator {
	a := &Aggregator{store: st}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RoomRisk is a computed room score and the tags that produced it.
type RoomRisk struct {
	RoomID     string          `json:"room_id"`
	PropertyID string          `json:"property_id"`
	Score      int             `json:"risk_score"`
	Tags       []store.RoomTag `json:"tags"`
}

// PropertyRisk is a computed property score.
type PropertyRisk struct {
	PropertyID string             `json:"property_id"`
	Score      int                `json:"risk_score"`
	Category   model.RiskCategory `json:"risk_category"`
	RoomScores map[string]int     `json:"room_scores"`
}

// ComputeRoomRisk sums the frozen severity weight of every current tag in
// the room and stores the result on the room.
func (a *Aggregator) ComputeRoomRisk(ctx context.Context, roomID string) (*RoomRisk, error) {
	room, err := a.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, eris.Wrapf(err, "risk: load room %s", roomID)
	}

	tags, err := a.store.ListRoomTags(ctx, roomID)
	if err != nil {
		return nil, eris.Wrapf(err, "risk: load tags for room %s", roomID)
	}

	score := 0
	for _, t := range tags {
		score += t.SeverityWeight
	}

	if err := a.store.UpdateRoomRisk(ctx, roomID, score); err != nil {
		return nil, eris.Wrapf(err, "risk: store room score %s", roomID)
	}
	a.invalidate(room.PropertyID)

	zap.L().Debug("risk: room score computed",
		zap.String("room_id", roomID), zap.Int("score", score), zap.Int("tags", len(tags)))

	return &RoomRisk{RoomID: roomID, PropertyID: room.PropertyID, Score: score, Tags: tags}, nil
}

// ComputePropertyRisk sums the stored scores of the property's rooms,
// computing any room that has never been scored, and stores the total and
// its band on the property.
func (a *Aggregator) ComputePropertyRisk(ctx context.Context, propertyID string) (*PropertyRisk, error) {
	return a.computeProperty(ctx, propertyID, false)
}

// Recompute rescores every room of the property from current tags and then
// the property itself.
func (a *Aggregator) Recompute(ctx context.Context, propertyID string) (*PropertyRisk, error) {
	return a.computeProperty(ctx, propertyID, true)
}

func (a *Aggregator) computeProperty(ctx context.Context, propertyID string, allRooms bool) (*PropertyRisk, error) {
	if _, err := a.store.GetProperty(ctx, propertyID); err != nil {
		return nil, eris.Wrapf(err, "risk: load property %s", propertyID)
	}

	rooms, err := a.store.ListRooms(ctx, propertyID)
	if err != nil {
		return nil, eris.Wrapf(err, "risk: load rooms for %s", propertyID)
	}

	out := &PropertyRisk{PropertyID: propertyID, RoomScores: make(map[string]int, len(rooms))}
	for _, room := range rooms {
		var roomScore int
		if room.RiskScore == nil || allRooms {
			rr, err := a.ComputeRoomRisk(ctx, room.ID)
			if err != nil {
				return nil, err
			}
			roomScore = rr.Score
		} else {
			roomScore = *room.RiskScore
		}
		out.RoomScores[room.ID] = roomScore
		out.Score += roomScore
	}
	out.Category = Categorize(out.Score)

	if err := a.store.UpdatePropertyRisk(ctx, propertyID, out.Score, out.Category); err != nil {
		return nil, eris.Wrapf(err, "risk: store property score %s", propertyID)
	}
	a.invalidate(propertyID)

	zap.L().Info("risk: property score computed",
		zap.String("property_id", propertyID),
		zap.Int("score", out.Score),
		zap.String("category", string(out.Category)),
		zap.Int("rooms", len(rooms)),
	)
	return out, nil
}

func (a *Aggregator) invalidate(propertyID string) {
	if a.invalidator != nil && propertyID != "" {
		a.invalidator.InvalidateProperty(propertyID)
	}
}
