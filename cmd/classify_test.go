//go:build !integration

package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/inspection-cli/internal/classify"
	"github.com/sells-group/inspection-cli/internal/model"
	"github.com/sells-group/inspection-cli/internal/risk"
)

func TestParseLabels(t *testing.T) {
	labels, err := parseLabels([]string{"water leak", " mold : 0.8 ", "crack:1", "damp wall:0"})
	require.NoError(t, err)
	assert.Equal(t, []model.Label{
		{Category: "water leak", Confidence: classify.UnsetConfidence},
		{Category: "mold", Confidence: 0.8},
		{Category: "crack", Confidence: 1},
		{Category: "damp wall", Confidence: 0},
	}, labels)

	_, err = parseLabels([]string{"mold:high"})
	assert.True(t, errors.Is(err, classify.ErrValidation))
}

func TestFormatPropertyRisk(t *testing.T) {
	var buf bytes.Buffer
	formatPropertyRisk(&buf, &risk.PropertyRisk{
		PropertyID: "P1",
		Score:      11,
		Category:   model.RiskHigh,
		RoomScores: map[string]int{"R2": 3, "R1": 8},
	})

	output := buf.String()
	assert.Contains(t, output, "P1")
	assert.Contains(t, output, "11")
	assert.Contains(t, output, "High")
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("R1")), bytes.Index(buf.Bytes(), []byte("R2")))
}

func TestFormatTrace(t *testing.T) {
	stored := 5
	tr := &risk.Trace{
		PropertyID:  "P1",
		StoredScore: &stored,
		Category:    model.RiskMedium,
		Total:       5,
		Rooms: []risk.RoomTrace{
			{RoomID: "R1", RoomType: "kitchen", Sum: 5, Defects: []risk.TraceDefect{
				{FindingID: "abc12345-0000", Category: "mold", Confidence: 0.85, SeverityWeight: 3},
				{FindingID: "def67890-0000", Category: "water leak", Confidence: 0.5, SeverityWeight: 2},
			}},
			{RoomID: "R2", RoomType: "garage"},
		},
	}

	var buf bytes.Buffer
	formatTrace(&buf, tr)
	output := buf.String()
	assert.Contains(t, output, "abc12345")
	assert.Contains(t, output, "water leak")
	assert.Contains(t, output, "0.85")
	assert.Contains(t, output, "garage")
	assert.Contains(t, output, "Total weight: 5  Stored score: 5  Category: Medium")
	assert.NotContains(t, output, "does not match")

	stale := 9
	tr.StoredScore = &stale
	buf.Reset()
	formatTrace(&buf, tr)
	assert.Contains(t, buf.String(), "does not match")
}
