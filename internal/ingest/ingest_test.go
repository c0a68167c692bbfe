package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/inspection-cli/internal/assets"
	"github.com/sells-group/inspection-cli/internal/auditlog"
	"github.com/sells-group/inspection-cli/internal/model"
	"github.com/sells-group/inspection-cli/internal/store"
)

var jpegBytes = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00")

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func newTestIngester(t *testing.T) (*Ingester, *store.SQLiteStore, *assets.LocalResolver) {
	t.Helper()
	st := newTestStore(t)
	stage := assets.NewLocalResolver(t.TempDir())
	return New(st, stage), st, stage
}

func seedRoom(t *testing.T, in *Ingester) {
	t.Helper()
	ctx := context.Background()
	_, err := in.IngestProperty(ctx, model.Property{ID: "P1", Location: "3 Ash Ln", InspectionDate: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)})
	require.NoError(t, err)
	_, err = in.IngestRoom(ctx, "P1", model.Room{ID: "R1", RoomType: "kitchen"})
	require.NoError(t, err)
}

func TestIngestProperty_Validation(t *testing.T) {
	in, _, _ := newTestIngester(t)
	date := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		p    model.Property
	}{
		{"missing id", model.Property{Location: "x", InspectionDate: date}},
		{"missing location", model.Property{ID: "P1", Location: " ", InspectionDate: date}},
		{"missing date", model.Property{ID: "P1", Location: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := in.IngestProperty(context.Background(), tt.p)
			assert.True(t, errors.Is(err, ErrValidation))
		})
	}
}

func TestIngestRoom(t *testing.T) {
	in, st, _ := newTestIngester(t)
	seedRoom(t, in)
	ctx := context.Background()

	room, err := st.GetRoom(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "P1", room.PropertyID)
	assert.Nil(t, room.RiskScore)

	_, err = in.IngestRoom(ctx, "P1", model.Room{ID: "R2"})
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = in.IngestRoom(ctx, "ghost", model.Room{ID: "R3", RoomType: "attic"})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestIngestTextFinding(t *testing.T) {
	in, st, _ := newTestIngester(t)
	seedRoom(t, in)
	ctx := context.Background()

	id, err := in.IngestTextFinding(ctx, "R1", "  crack above the door ")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	f, err := st.GetFinding(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.FindingTypeText, f.Type)
	assert.Equal(t, "crack above the door", f.NoteText)
	assert.Equal(t, model.StatusPending, f.Status)

	_, err = in.IngestTextFinding(ctx, "R1", "   ")
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = in.IngestTextFinding(ctx, "ghost", "leak")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestIngestImageFinding(t *testing.T) {
	in, st, stage := newTestIngester(t)
	seedRoom(t, in)
	ctx := context.Background()

	id, err := in.IngestImageFinding(ctx, "R1", "photos/ceiling_leak.jpg", jpegBytes)
	require.NoError(t, err)

	f, err := st.GetFinding(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.FindingTypeImage, f.Type)
	assert.Equal(t, "ceiling_leak.jpg", f.ImageFilename)
	assert.Equal(t, assets.StagePath(id, "ceiling_leak.jpg"), f.ImageRef)

	a, err := stage.Open(ctx, f.ImageRef)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", a.MediaType)

	_, err = in.IngestImageFinding(ctx, "R1", "", jpegBytes)
	assert.True(t, errors.Is(err, ErrValidation))
	_, err = in.IngestImageFinding(ctx, "R1", "a.jpg", nil)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestIngestImageRef(t *testing.T) {
	in, st, _ := newTestIngester(t)
	seedRoom(t, in)
	ctx := context.Background()

	id, err := in.IngestImageRef(ctx, "R1", "", "ftp://photos.example.com/P1/mold.jpg")
	require.NoError(t, err)
	f, err := st.GetFinding(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "mold.jpg", f.ImageFilename)
	assert.Equal(t, "ftp://photos.example.com/P1/mold.jpg", f.ImageRef)
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	for _, s := range []string{"2024-03-09", "2024-03-09T00:00:00Z", "03/09/2024", "3/9/24", "03-09-24"} {
		got, err := ParseDate(s)
		require.NoError(t, err, s)
		assert.True(t, want.Equal(got), s)
	}
	_, err := ParseDate("next tuesday")
	assert.True(t, errors.Is(err, ErrValidation))
}

const yamlManifest = `
properties:
  - property_id: P1
    location: 12 Elm St
    inspection_date: "2024-05-01"
    rooms:
      - room_id: R1
        room_type: kitchen
        room_location: ground floor
        findings:
          - note: water stain under sink
          - image: photos/crack.jpg
          - image: photos/absent.jpg
      - room_id: R2
        room_type: attic
        findings:
          - ref: ftp://drop.example.com/P1/wiring.jpg
      - room_id: R3
  - property_id: P2
    location: 4 Oak Rd
`

func TestImportYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "photos"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "photos", "crack.jpg"), jpegBytes, 0o600))
	manifestPath := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(manifestPath, []byte(yamlManifest), 0o600))

	m, err := Load(manifestPath)
	require.NoError(t, err)
	require.Len(t, m.Properties, 2)
	assert.Equal(t, "2024-05-01", m.Properties[0].InspectionDate)

	in, st, _ := newTestIngester(t)
	audit := &auditlog.Memory{}
	res, err := in.Import(context.Background(), m, dir, audit)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Properties)
	assert.Equal(t, 2, res.Rooms)
	assert.Len(t, res.FindingIDs, 3)
	// absent.jpg, room R3 without type, P2 without date.
	assert.Equal(t, 3, res.Skipped)
	assert.Equal(t, []model.ErrorType{model.ErrIngestion, model.ErrIngestion, model.ErrIngestion}, audit.Types())

	findings, err := st.ListFindings(context.Background(), store.FindingFilter{PropertyID: "P1"})
	require.NoError(t, err)
	assert.Len(t, findings, 3)

	room, err := st.GetRoom(context.Background(), "R1")
	require.NoError(t, err)
	assert.Equal(t, "ground floor", room.RoomLocation)
}

func writeXLSX(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("findings")
	require.NoError(t, err)
	for _, rowData := range rows {
		row := sheet.AddRow()
		for _, v := range rowData {
			row.AddCell().SetString(v)
		}
	}
	path := filepath.Join(t.TempDir(), "manifest.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestLoadXLSX(t *testing.T) {
	path := writeXLSX(t, [][]string{
		{"Property_ID", "Location", "Inspection_Date", "Room_ID", "Room_Type", "Note", "Ref"},
		{"P1", "12 Elm St", "2024-05-01", "R1", "kitchen", "damp wall behind fridge", ""},
		{"P1", "12 Elm St", "2024-05-01", "R1", "kitchen", "", "ftp://drop/P1/mold.jpg"},
		{"P1", "12 Elm St", "2024-05-01", "R2", "garage", "", ""},
		{"", "", "", "", "", "", ""},
		{"P2", "4 Oak Rd", "05/02/2024", "R9", "hall", "crack", ""},
	})

	m, err := Load(path)
	require.NoError(t, err)
	require.Len(t, m.Properties, 2)

	p1 := m.Properties[0]
	assert.Equal(t, "P1", p1.ID)
	require.Len(t, p1.Rooms, 2)
	assert.Len(t, p1.Rooms[0].Findings, 2)
	assert.Equal(t, "ftp://drop/P1/mold.jpg", p1.Rooms[0].Findings[1].Ref)
	assert.Empty(t, p1.Rooms[1].Findings)

	in, _, _ := newTestIngester(t)
	res, err := in.Import(context.Background(), m, filepath.Dir(path), &auditlog.Memory{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Properties)
	assert.Equal(t, 3, res.Rooms)
	assert.Len(t, res.FindingIDs, 3)
	assert.Zero(t, res.Skipped)
}

func TestLoadXLSX_MissingColumn(t *testing.T) {
	path := writeXLSX(t, [][]string{{"location", "note"}, {"x", "y"}})
	_, err := LoadXLSX(path)
	assert.True(t, errors.Is(err, ErrValidation))
}

func TestLoad_UnsupportedType(t *testing.T) {
	_, err := Load("manifest.csv")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "unsupported manifest type"))
}
