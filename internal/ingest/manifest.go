package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/inspection-cli/internal/auditlog"
	"github.com/sells-group/inspection-cli/internal/model"
)

// Manifest describes properties to import.
type Manifest struct {
	Properties []PropertyManifest `yaml:"properties"`
}

// PropertyManifest is one property with its rooms.
type PropertyManifest struct {
	ID             string         `yaml:"property_id"`
	Location       string         `yaml:"location"`
	InspectionDate string         `yaml:"inspection_date"`
	Rooms          []RoomManifest `yaml:"rooms"`
}

// RoomManifest is one room with its findings.
type RoomManifest struct {
	ID       string            `yaml:"room_id"`
	Type     string            `yaml:"room_type"`
	Location string            `yaml:"room_location"`
	Findings []FindingManifest `yaml:"findings"`
}

// FindingManifest is a note, a local image file, or a remote image
// reference. Image paths are relative to the manifest.
type FindingManifest struct {
	Note  string `yaml:"note"`
	Image string `yaml:"image"`
	Ref   string `yaml:"ref"`
}

// LoadYAML reads a YAML manifest.
func LoadYAML(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read manifest")
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "ingest: parse manifest")
	}
	return &m, nil
}

// xlsxColumns are the recognised header names of a spreadsheet manifest.
var xlsxColumns = []string{
	"property_id", "location", "inspection_date",
	"room_id", "room_type", "room_location",
	"note", "image", "ref",
}

// LoadXLSX reads a spreadsheet manifest from the first sheet. The first row
// is a header naming the columns; every following row is one finding with
// its property and room repeated.
func LoadXLSX(path string) (*Manifest, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("ingest: xlsx has no sheets")
	}

	rows := f.Sheets[0].Rows
	if len(rows) == 0 {
		return &Manifest{}, nil
	}

	index := make(map[string]int)
	for i, cell := range rows[0].Cells {
		index[strings.ToLower(strings.TrimSpace(cell.String()))] = i
	}
	for _, required := range []string{"property_id", "room_id"} {
		if _, ok := index[required]; !ok {
			return nil, eris.Wrapf(ErrValidation, "xlsx header is missing column %q", required)
		}
	}

	m := &Manifest{}
	props := make(map[string]*PropertyManifest)
	rooms := make(map[string]*RoomManifest)
	var propOrder []string
	roomOrder := make(map[string][]string)

	for _, row := range rows[1:] {
		rec := make(map[string]string, len(xlsxColumns))
		for _, col := range xlsxColumns {
			if i, ok := index[col]; ok && i < len(row.Cells) {
				rec[col] = strings.TrimSpace(row.Cells[i].String())
			}
		}
		if rec["property_id"] == "" && rec["room_id"] == "" {
			continue
		}

		p, ok := props[rec["property_id"]]
		if !ok {
			p = &PropertyManifest{ID: rec["property_id"], Location: rec["location"], InspectionDate: rec["inspection_date"]}
			props[p.ID] = p
			propOrder = append(propOrder, p.ID)
		}

		roomKey := rec["property_id"] + "\x00" + rec["room_id"]
		r, ok := rooms[roomKey]
		if !ok {
			r = &RoomManifest{ID: rec["room_id"], Type: rec["room_type"], Location: rec["room_location"]}
			rooms[roomKey] = r
			roomOrder[p.ID] = append(roomOrder[p.ID], roomKey)
		}

		if rec["note"] != "" || rec["image"] != "" || rec["ref"] != "" {
			r.Findings = append(r.Findings, FindingManifest{Note: rec["note"], Image: rec["image"], Ref: rec["ref"]})
		}
	}

	for _, id := range propOrder {
		p := props[id]
		for _, key := range roomOrder[id] {
			p.Rooms = append(p.Rooms, *rooms[key])
		}
		m.Properties = append(m.Properties, *p)
	}
	return m, nil
}

// Load reads a manifest, choosing the format by file extension.
func Load(path string) (*Manifest, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return LoadXLSX(path)
	case ".yaml", ".yml":
		return LoadYAML(path)
	default:
		return nil, eris.Errorf("ingest: unsupported manifest type %q", filepath.Ext(path))
	}
}

// ImportResult counts what an import stored.
type ImportResult struct {
	Properties int      `json:"properties"`
	Rooms      int      `json:"rooms"`
	FindingIDs []string `json:"finding_ids"`
	Skipped    int      `json:"skipped"`
}

// Import stores every entry of m. An invalid entry is logged as an
// ingestion error and skipped together with everything beneath it; the
// rest of the manifest is still imported. baseDir resolves image paths.
func (in *Ingester) Import(ctx context.Context, m *Manifest, baseDir string, audit auditlog.Sink) (*ImportResult, error) {
	res := &ImportResult{}
	skip := func(entityType, entityID string, err error) {
		res.Skipped++
		audit.Log(ctx, model.ErrIngestion, err.Error(), entityType, entityID)
	}

	for _, pm := range m.Properties {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "ingest: import cancelled")
		}

		date, err := ParseDate(pm.InspectionDate)
		if err != nil && strings.TrimSpace(pm.InspectionDate) != "" {
			skip(model.EntityProperty, pm.ID, eris.Wrapf(err, "property %s", pm.ID))
			continue
		}
		propertyID, err := in.IngestProperty(ctx, model.Property{ID: pm.ID, Location: pm.Location, InspectionDate: date})
		if err != nil {
			skip(model.EntityProperty, pm.ID, err)
			continue
		}
		res.Properties++

		for _, rm := range pm.Rooms {
			roomID, err := in.IngestRoom(ctx, propertyID, model.Room{ID: rm.ID, RoomType: rm.Type, RoomLocation: rm.Location})
			if err != nil {
				skip(model.EntityRoom, rm.ID, err)
				continue
			}
			res.Rooms++

			for i, fm := range rm.Findings {
				id, err := in.importFinding(ctx, roomID, fm, baseDir)
				if err != nil {
					skip(model.EntityRoom, roomID, eris.Wrapf(err, "finding %d of room %s", i+1, roomID))
					continue
				}
				res.FindingIDs = append(res.FindingIDs, id)
			}
		}
	}

	zap.L().Info("ingest: manifest imported",
		zap.Int("properties", res.Properties),
		zap.Int("rooms", res.Rooms),
		zap.Int("findings", len(res.FindingIDs)),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func (in *Ingester) importFinding(ctx context.Context, roomID string, fm FindingManifest, baseDir string) (string, error) {
	switch {
	case fm.Ref != "":
		return in.IngestImageRef(ctx, roomID, fm.Image, fm.Ref)
	case fm.Image != "":
		p := fm.Image
		if !filepath.IsAbs(p) {
			p = filepath.Join(baseDir, p)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return "", eris.Wrapf(err, "read image %s", fm.Image)
		}
		return in.IngestImageFinding(ctx, roomID, filepath.Base(p), data)
	case fm.Note != "":
		return in.IngestTextFinding(ctx, roomID, fm.Note)
	default:
		return "", eris.Wrapf(ErrValidation, "finding in room %s has no note, image or ref", roomID)
	}
}
