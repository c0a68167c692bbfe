//go:build !integration

package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/inspection-cli/internal/model"
	"github.com/sells-group/inspection-cli/internal/store"
)

const e2eManifest = `
properties:
  - property_id: P1
    location: 12 Elm St
    inspection_date: "2024-05-01"
    rooms:
      - room_id: R1
        room_type: bathroom
        findings:
          - note: black mold on the ceiling
          - image: photos/crack_wall.jpg
`

func execute(t *testing.T, args ...string) {
	t.Helper()
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.ExecuteContext(context.Background()), args)
}

func TestCommands_ImportClassifyScore(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "e2e.db")
	t.Setenv("INSPECT_STORE_DRIVER", "sqlite")
	t.Setenv("INSPECT_STORE_DATABASE_URL", dbPath)
	t.Setenv("INSPECT_ASSETS_ROOT", filepath.Join(dir, "assets"))
	t.Setenv("INSPECT_CLASSIFIER_ENABLED", "false")
	t.Setenv("INSPECT_FEATURES_SUMMARY_GENERATION", "false")
	t.Setenv("INSPECT_LOG_LEVEL", "error")

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "photos"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "photos", "crack_wall.jpg"), []byte("\xff\xd8\xff\xe0fake"), 0o600))
	manifest := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(e2eManifest), 0o600))

	execute(t, "migrate")
	execute(t, "import", "--manifest", manifest)
	execute(t, "classify", "--pending")
	execute(t, "score", "P1", "--recompute")
	execute(t, "summarize", "P1")

	ctx := context.Background()
	st, err := store.NewSQLite(dbPath)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	findings, err := st.ListFindings(ctx, store.FindingFilter{PropertyID: "P1"})
	require.NoError(t, err)
	require.Len(t, findings, 2)
	for _, f := range findings {
		assert.Equal(t, model.StatusProcessed, f.Status, f.ID)
	}

	p, err := st.GetProperty(ctx, "P1")
	require.NoError(t, err)
	require.NotNil(t, p.RiskScore)
	assert.Equal(t, 5, *p.RiskScore)
	assert.Equal(t, model.RiskMedium, p.RiskCategory)
	assert.Equal(t,
		"Property inspection found 1 room(s) with defects. Overall risk level: Medium (score: 5). Defects identified: 1 mold and 1 crack.",
		p.SummaryText)
}
