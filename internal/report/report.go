// Package report serves read-only projections of stored inspections to the
// dashboard and API. Results are cached; writers invalidate through the
// risk aggregator and summary synthesizer.
package report

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/inspection-cli/internal/cache"
	"github.com/sells-group/inspection-cli/internal/model"
	"github.com/sells-group/inspection-cli/internal/store"
	"github.com/sells-group/inspection-cli/internal/taxonomy"
)

// FindingDetail is a finding with its current tags.
type FindingDetail struct {
	model.Finding
	Tags []model.DefectTag `json:"tags"`
}

// RoomDetail is a room with its findings.
type RoomDetail struct {
	model.Room
	Findings []FindingDetail `json:"findings"`
}

// PropertyDetail is everything the dashboard shows for one property.
type PropertyDetail struct {
	model.Property
	Rooms        []RoomDetail   `json:"rooms"`
	DefectCounts map[string]int `json:"defect_counts"`
}

// Reader answers dashboard queries. Returned values may be shared with the
// cache and must not be modified.
type Reader struct {
	store store.Store
	cache *cache.Cache
}

// New creates a Reader. c may be nil to disable caching.
func New(st store.Store, c *cache.Cache) *Reader {
	if c == nil {
		c = cache.New(0, 0, nil)
	}
	return &Reader{store: st, cache: c}
}

// ListProperties returns properties matching filter, ordered by id.
func (r *Reader) ListProperties(ctx context.Context, filter store.PropertyFilter) ([]model.Property, error) {
	filter.DefectType = strings.ToLower(strings.TrimSpace(filter.DefectType))
	filter.Search = strings.TrimSpace(filter.Search)

	key := cache.ListKey(filter.RiskCategory, filter.DefectType, filter.Search, filter.Limit, filter.Offset)
	if v, ok := r.cache.Get(key); ok {
		return v.([]model.Property), nil
	}

	props, err := r.store.ListProperties(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "report: list properties")
	}
	r.cache.Set(key, props)
	return props, nil
}

// PropertyDetails returns the property with its rooms, findings and current
// tags. An unknown property returns store.ErrNotFound.
func (r *Reader) PropertyDetails(ctx context.Context, propertyID string) (*PropertyDetail, error) {
	key := cache.PropertyKey(propertyID)
	if v, ok := r.cache.Get(key); ok {
		return v.(*PropertyDetail), nil
	}

	prop, err := r.store.GetProperty(ctx, propertyID)
	if err != nil {
		return nil, eris.Wrapf(err, "report: load property %s", propertyID)
	}
	rooms, err := r.store.ListRooms(ctx, propertyID)
	if err != nil {
		return nil, eris.Wrapf(err, "report: load rooms for %s", propertyID)
	}
	findings, err := r.store.ListFindings(ctx, store.FindingFilter{PropertyID: propertyID})
	if err != nil {
		return nil, eris.Wrapf(err, "report: load findings for %s", propertyID)
	}
	tags, err := r.store.ListPropertyTags(ctx, propertyID)
	if err != nil {
		return nil, eris.Wrapf(err, "report: load tags for %s", propertyID)
	}

	detail := &PropertyDetail{
		Property:     *prop,
		Rooms:        make([]RoomDetail, 0, len(rooms)),
		DefectCounts: make(map[string]int),
	}

	byFinding := make(map[string][]model.DefectTag)
	for _, t := range tags {
		byFinding[t.FindingID] = append(byFinding[t.FindingID], t.DefectTag)
		if taxonomy.IsDefect(t.Category) {
			detail.DefectCounts[t.Category]++
		}
	}
	byRoom := make(map[string][]FindingDetail)
	for _, f := range findings {
		byRoom[f.RoomID] = append(byRoom[f.RoomID], FindingDetail{Finding: f, Tags: byFinding[f.ID]})
	}
	for _, room := range rooms {
		detail.Rooms = append(detail.Rooms, RoomDetail{Room: room, Findings: byRoom[room.ID]})
	}

	r.cache.Set(key, detail)
	return detail, nil
}

// RoomDetails returns one room with its findings and current tags, taken
// from the cached details of its property. An unknown room returns
// store.ErrNotFound.
func (r *Reader) RoomDetails(ctx context.Context, roomID string) (*RoomDetail, error) {
	room, err := r.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, eris.Wrapf(err, "report: load room %s", roomID)
	}
	detail, err := r.PropertyDetails(ctx, room.PropertyID)
	if err != nil {
		return nil, err
	}
	for i := range detail.Rooms {
		if detail.Rooms[i].ID == roomID {
			return &detail.Rooms[i], nil
		}
	}
	// The room was added after the property details were cached.
	r.InvalidateProperty(room.PropertyID)
	return nil, eris.Wrapf(store.ErrNotFound, "report: room %s", roomID)
}

// FindingHistory returns every classification stored for a finding, oldest
// first. An unknown finding returns store.ErrNotFound.
func (r *Reader) FindingHistory(ctx context.Context, findingID string) ([]model.ClassificationHistory, error) {
	if _, err := r.store.GetFinding(ctx, findingID); err != nil {
		return nil, eris.Wrapf(err, "report: load finding %s", findingID)
	}
	history, err := r.store.ListHistory(ctx, findingID)
	if err != nil {
		return nil, eris.Wrapf(err, "report: history for %s", findingID)
	}
	return history, nil
}

// InvalidateProperty drops cached projections that may include the
// property.
func (r *Reader) InvalidateProperty(propertyID string) {
	r.cache.InvalidateProperty(propertyID)
}
