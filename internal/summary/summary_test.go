package summary

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/inspection-cli/internal/auditlog"
	"github.com/sells-group/inspection-cli/internal/model"
	"github.com/sells-group/inspection-cli/internal/recorder"
	"github.com/sells-group/inspection-cli/internal/resilience"
	"github.com/sells-group/inspection-cli/internal/risk"
	"github.com/sells-group/inspection-cli/internal/store"
	"github.com/sells-group/inspection-cli/pkg/anthropic"
	"github.com/sells-group/inspection-cli/pkg/anthropic/mocks"
)

type stubRewriter struct {
	out string
	err error
	got string
}

func (s *stubRewriter) Rewrite(_ context.Context, structured string) (string, error) {
	s.got = structured
	return s.out, s.err
}

type recordingInvalidator struct{ ids []string }

func (r *recordingInvalidator) InvalidateProperty(id string) { r.ids = append(r.ids, id) }

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// seed creates P1 with R1 {mold, crack, crack} and R2 {none}, scored.
func seed(t *testing.T, st store.Store, withDefects bool) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.UpsertProperty(ctx, &model.Property{
		ID: "P1", Location: "7 Pine Ct", InspectionDate: time.Date(2024, 8, 20, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, st.UpsertRoom(ctx, &model.Room{ID: "R1", PropertyID: "P1", RoomType: "basement"}))
	require.NoError(t, st.UpsertRoom(ctx, &model.Room{ID: "R2", PropertyID: "P1", RoomType: "garage"}))
	require.NoError(t, st.InsertFindings(ctx, []model.Finding{
		{ID: "F1", RoomID: "R1", Type: model.FindingTypeImage, ImageFilename: "a.jpg", ImageRef: "@inspections/P1/a.jpg"},
		{ID: "F2", RoomID: "R2", Type: model.FindingTypeText, NoteText: "tidy"},
	}))

	rec := recorder.New(st)
	if withDefects {
		_, err := rec.RecordAll(ctx, "F1", []model.Label{
			{Category: "mold", Confidence: 0.85}, {Category: "crack", Confidence: 0.85}, {Category: "crack", Confidence: 0.85},
		}, model.MethodImageAI)
		require.NoError(t, err)
	}
	_, err := rec.RecordAll(ctx, "F2", []model.Label{{Category: "none", Confidence: 0.5}}, model.MethodTextAI)
	require.NoError(t, err)

	_, err = risk.New(st).ComputePropertyRisk(ctx, "P1")
	require.NoError(t, err)
}

func TestDescribeDefects(t *testing.T) {
	tests := []struct {
		name   string
		counts map[string]int
		want   string
	}{
		{"empty", nil, "no significant defects found"},
		{"zero counts", map[string]int{"mold": 0}, "no significant defects found"},
		{"one", map[string]int{"crack": 1}, "1 crack"},
		{"two", map[string]int{"crack": 3, "mold": 1}, "1 mold and 3 crack"},
		{"three", map[string]int{"crack": 1, "water leak": 2, "mold": 2}, "2 mold, 2 water leak, and 1 crack"},
		{"count breaks severity tie", map[string]int{"mold": 1, "damp wall": 2}, "2 damp wall and 1 mold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DescribeDefects(tt.counts))
		})
	}
}

func TestStructuredText(t *testing.T) {
	assert.Equal(t,
		"Property inspection completed with risk level: Low. No significant defects were found. The property appears to be in good condition.",
		StructuredText(Facts{Category: model.RiskLow}))

	assert.Equal(t,
		"Property inspection found 1 room(s) with defects. Overall risk level: Medium (score: 7). Defects identified: 1 mold and 2 crack.",
		StructuredText(Facts{Category: model.RiskMedium, Score: 7, AffectedRooms: 1, DefectCounts: map[string]int{"crack": 2, "mold": 1}}))
}

func TestFallbackText(t *testing.T) {
	assert.Equal(t,
		"Risk: Low. No major issues found. Property appears to be in good condition.",
		FallbackText(Facts{Category: model.RiskLow}))

	assert.Equal(t,
		"Risk: High. Found 4 defect(s) in 2 room(s) including exposed wiring.",
		FallbackText(Facts{Category: model.RiskHigh, AffectedRooms: 2, DefectCounts: map[string]int{"crack": 3, "exposed wiring": 1}}))
}

func TestGenerate_Structured(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, true)
	inv := &recordingInvalidator{}

	text, err := New(st, nil, &auditlog.Memory{}, inv).Generate(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t,
		"Property inspection found 1 room(s) with defects. Overall risk level: Medium (score: 7). Defects identified: 1 mold and 2 crack.",
		text)
	assert.Equal(t, []string{"P1"}, inv.ids)

	p, err := st.GetProperty(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, text, p.SummaryText)
}

func TestGenerate_NoDefects(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, false)

	text, err := New(st, nil, &auditlog.Memory{}, nil).Generate(context.Background(), "P1")
	require.NoError(t, err)
	assert.Contains(t, text, "No significant defects were found")
}

func TestGenerate_Rewritten(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, true)
	rw := &stubRewriter{out: "  Medium risk: some mold and two cracks in the basement.  "}

	text, err := New(st, rw, &auditlog.Memory{}, nil).Generate(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, "Medium risk: some mold and two cracks in the basement.", text)
	assert.Contains(t, rw.got, "Defects identified: 1 mold and 2 crack.")
}

func TestGenerate_EmptyRewriteKeepsStructured(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, true)

	text, err := New(st, &stubRewriter{out: " "}, &auditlog.Memory{}, nil).Generate(context.Background(), "P1")
	require.NoError(t, err)
	assert.Contains(t, text, "Property inspection found 1 room(s) with defects.")
}

func TestGenerate_RewriteErrorFallsBack(t *testing.T) {
	st := newTestStore(t)
	seed(t, st, true)
	audit := &auditlog.Memory{}

	text, err := New(st, &stubRewriter{err: errors.New("overloaded")}, audit, nil).Generate(context.Background(), "P1")
	require.NoError(t, err)
	assert.Equal(t, "Risk: Medium. Found 3 defect(s) in 1 room(s) including mold.", text)
	assert.Equal(t, []model.ErrorType{model.ErrSummaryGeneration}, audit.Types())
	assert.Equal(t, model.EntityProperty, audit.Entries()[0].EntityType)
}

func TestGenerate_UnknownProperty(t *testing.T) {
	_, err := New(newTestStore(t), nil, &auditlog.Memory{}, nil).Generate(context.Background(), "ghost")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestAnthropicRewriter(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-haiku-4-5-20251001" && len(req.Messages) == 1 &&
			req.Messages[0].Content == "facts" && len(req.System) == 1
	})).Return(&anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: " A short summary. "}},
	}, nil).Once()

	rw := NewAnthropicRewriter(client, "claude-haiku-4-5-20251001", 0, resilience.NewPolicy(time.Second, 0))
	out, err := rw.Rewrite(context.Background(), "facts")
	require.NoError(t, err)
	assert.Equal(t, "A short summary.", out)
}

func TestAnthropicRewriter_Error(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, errors.New("bad request")).Once()

	policy := resilience.NewPolicy(time.Second, 2)
	_, err := NewAnthropicRewriter(client, "m", 64, policy).Rewrite(context.Background(), "facts")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "summary: rewrite")
}
