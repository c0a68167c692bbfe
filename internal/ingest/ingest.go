// Package ingest loads properties, rooms and findings into the store.
package ingest

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/inspection-cli/internal/assets"
	"github.com/sells-group/inspection-cli/internal/model"
	"github.com/sells-group/inspection-cli/internal/store"
)

// ErrValidation is returned when a required field is missing or malformed.
var ErrValidation = eris.New("ingest: invalid input")

// Stager stores image bytes under an asset reference.
type Stager interface {
	Put(ctx context.Context, ref string, data []byte) error
}

// Ingester writes new inspection data.
type Ingester struct {
	store store.Store
	stage Stager
	newID func() string
	now   func() time.Time
}

// New creates an Ingester. stage may be nil, in which case image bytes are
// not accepted.
func New(st store.Store, stage Stager) *Ingester {
	return &Ingester{
		store: st,
		stage: stage,
		newID: uuid.NewString,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// IngestProperty creates or updates a property. Derived risk and summary
// fields are left untouched.
func (in *Ingester) IngestProperty(ctx context.Context, p model.Property) (string, error) {
	p.ID = strings.TrimSpace(p.ID)
	p.Location = strings.TrimSpace(p.Location)
	switch {
	case p.ID == "":
		return "", eris.Wrap(ErrValidation, "missing required field: property_id")
	case p.Location == "":
		return "", eris.Wrapf(ErrValidation, "property %s: missing required field: location", p.ID)
	case p.InspectionDate.IsZero():
		return "", eris.Wrapf(ErrValidation, "property %s: missing required field: inspection_date", p.ID)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = in.now()
	}

	if err := in.store.UpsertProperty(ctx, &p); err != nil {
		return "", eris.Wrapf(err, "ingest: property %s", p.ID)
	}
	zap.L().Debug("ingest: property stored", zap.String("property_id", p.ID))
	return p.ID, nil
}

// IngestRoom creates or updates a room under an existing property.
func (in *Ingester) IngestRoom(ctx context.Context, propertyID string, r model.Room) (string, error) {
	r.ID = strings.TrimSpace(r.ID)
	r.RoomType = strings.TrimSpace(r.RoomType)
	r.RoomLocation = strings.TrimSpace(r.RoomLocation)
	switch {
	case r.ID == "":
		return "", eris.Wrap(ErrValidation, "missing required field: room_id")
	case r.RoomType == "":
		return "", eris.Wrapf(ErrValidation, "room %s: missing required field: room_type", r.ID)
	}
	if _, err := in.store.GetProperty(ctx, propertyID); err != nil {
		return "", eris.Wrapf(err, "ingest: room %s", r.ID)
	}

	r.PropertyID = propertyID
	if r.CreatedAt.IsZero() {
		r.CreatedAt = in.now()
	}
	if err := in.store.UpsertRoom(ctx, &r); err != nil {
		return "", eris.Wrapf(err, "ingest: room %s", r.ID)
	}
	zap.L().Debug("ingest: room stored", zap.String("room_id", r.ID), zap.String("property_id", propertyID))
	return r.ID, nil
}

// IngestTextFinding stores a pending text finding and returns its id.
func (in *Ingester) IngestTextFinding(ctx context.Context, roomID, note string) (string, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return "", eris.Wrapf(ErrValidation, "room %s: note text is empty", roomID)
	}
	return in.insert(ctx, model.Finding{RoomID: roomID, Type: model.FindingTypeText, NoteText: note})
}

// IngestImageFinding stages image bytes and stores a pending image finding
// that references them.
func (in *Ingester) IngestImageFinding(ctx context.Context, roomID, filename string, data []byte) (string, error) {
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		return "", eris.Wrapf(ErrValidation, "room %s: image filename is empty", roomID)
	}
	if len(data) == 0 {
		return "", eris.Wrapf(ErrValidation, "image %s is empty", filename)
	}
	if in.stage == nil {
		return "", eris.New("ingest: no asset stage configured")
	}
	if err := in.requireRoom(ctx, roomID); err != nil {
		return "", err
	}

	id := in.newID()
	ref := assets.StagePath(id, filename)
	if err := in.stage.Put(ctx, ref, data); err != nil {
		return "", eris.Wrapf(err, "ingest: stage image %s", filename)
	}
	return in.insert(ctx, model.Finding{ID: id, RoomID: roomID, Type: model.FindingTypeImage, ImageFilename: filename, ImageRef: ref})
}

// IngestImageRef stores a pending image finding for an image that already
// lives elsewhere, such as an ftp:// URL.
func (in *Ingester) IngestImageRef(ctx context.Context, roomID, filename, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", eris.Wrapf(ErrValidation, "room %s: image reference is empty", roomID)
	}
	filename = strings.TrimSpace(filename)
	if filename == "" {
		filename = filepath.Base(ref)
	}
	return in.insert(ctx, model.Finding{RoomID: roomID, Type: model.FindingTypeImage, ImageFilename: filename, ImageRef: ref})
}

func (in *Ingester) insert(ctx context.Context, f model.Finding) (string, error) {
	if err := in.requireRoom(ctx, f.RoomID); err != nil {
		return "", err
	}
	if f.ID == "" {
		f.ID = in.newID()
	}
	f.Status = model.StatusPending
	f.CreatedAt = in.now()

	if err := in.store.InsertFindings(ctx, []model.Finding{f}); err != nil {
		return "", eris.Wrapf(err, "ingest: finding in room %s", f.RoomID)
	}
	zap.L().Debug("ingest: finding stored",
		zap.String("finding_id", f.ID), zap.String("room_id", f.RoomID), zap.String("finding_type", string(f.Type)))
	return f.ID, nil
}

func (in *Ingester) requireRoom(ctx context.Context, roomID string) error {
	if strings.TrimSpace(roomID) == "" {
		return eris.Wrap(ErrValidation, "missing required field: room_id")
	}
	if _, err := in.store.GetRoom(ctx, roomID); err != nil {
		return eris.Wrapf(err, "ingest: room %s", roomID)
	}
	return nil
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "01/02/2006", "1/2/06", "01-02-06"}

// ParseDate accepts ISO dates, RFC 3339 timestamps and US month/day/year
// forms.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Wrapf(ErrValidation, "unrecognized date %q", s)
}
