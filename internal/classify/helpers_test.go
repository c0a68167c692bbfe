package classify

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/inspection-cli/internal/auditlog"
	"github.com/sells-group/inspection-cli/internal/classifier"
	"github.com/sells-group/inspection-cli/internal/model"
	"github.com/sells-group/inspection-cli/internal/recorder"
	"github.com/sells-group/inspection-cli/internal/risk"
	"github.com/sells-group/inspection-cli/internal/store"
)

// scriptedClassifier returns a fixed outcome per content string and counts
// calls. Unscripted content gets def.
type scriptedClassifier struct {
	mu      sync.Mutex
	byInput map[string]classifier.Outcome
	def     classifier.Outcome
	calls   []string
	delay   time.Duration
}

func newScripted(def classifier.Outcome) *scriptedClassifier {
	return &scriptedClassifier{byInput: make(map[string]classifier.Outcome), def: def}
}

func (s *scriptedClassifier) on(input string, out classifier.Outcome) *scriptedClassifier {
	s.byInput[input] = out
	return s
}

func (s *scriptedClassifier) outcome(input string) classifier.Outcome {
	time.Sleep(s.delay)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, input)
	if out, ok := s.byInput[input]; ok {
		return out
	}
	return s.def
}

func (s *scriptedClassifier) ClassifyText(_ context.Context, text string, _ []string) classifier.Outcome {
	return s.outcome(text)
}

func (s *scriptedClassifier) ClassifyImage(_ context.Context, ref string, _ []string) classifier.Outcome {
	return s.outcome(ref)
}

func (s *scriptedClassifier) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// seed creates property P1 with rooms R1 and R2 and the given findings.
func seed(t *testing.T, st store.Store, findings ...model.Finding) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, st.UpsertProperty(ctx, &model.Property{
		ID: "P1", Location: "4 Birch Ave", InspectionDate: time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
	}))
	require.NoError(t, st.UpsertRoom(ctx, &model.Room{ID: "R1", PropertyID: "P1", RoomType: "kitchen"}))
	require.NoError(t, st.UpsertRoom(ctx, &model.Room{ID: "R2", PropertyID: "P1", RoomType: "bathroom"}))
	require.NoError(t, st.InsertFindings(ctx, findings))
}

func textFinding(id, roomID, note string) model.Finding {
	return model.Finding{ID: id, RoomID: roomID, Type: model.FindingTypeText, NoteText: note, Status: model.StatusPending}
}

func imageFinding(id, roomID, file string) model.Finding {
	return model.Finding{
		ID: id, RoomID: roomID, Type: model.FindingTypeImage,
		ImageFilename: file, ImageRef: "@inspections/P1/" + file, Status: model.StatusPending,
	}
}

type harness struct {
	store      store.Store
	classifier *scriptedClassifier
	audit      *auditlog.Memory
	service    *Service
}

func newHarness(t *testing.T, st store.Store, c *scriptedClassifier) *harness {
	t.Helper()
	audit := &auditlog.Memory{}
	svc := NewService(st, NewNormalizer(c, audit), recorder.New(st), risk.New(st), audit, nil)
	return &harness{store: st, classifier: c, audit: audit, service: svc}
}
