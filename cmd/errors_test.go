//go:build !integration

package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/inspection-cli/internal/model"
)

func sampleErrorLogs(now time.Time) []model.ErrorLogEntry {
	return []model.ErrorLogEntry{
		{
			ID:         "abc12345-6789-0000-0000-000000000000",
			ErrorType:  model.ErrImageAccess,
			Message:    "Image file not found: @inspections/missing/photo.jpg",
			EntityType: model.EntityFinding,
			EntityID:   "f0f0f0f0-1111-2222-3333-444444444444",
			CreatedAt:  now,
		},
		{
			ID:         "def12345-6789-0000-0000-000000000000",
			ErrorType:  model.ErrClassification,
			Message:    strings.Repeat("timeout ", 20),
			EntityType: model.EntityFinding,
			EntityID:   "F2",
			CreatedAt:  now.Add(-time.Hour),
		},
		{
			ID:        "0a0a0a0a-6789-0000-0000-000000000000",
			ErrorType: model.ErrImageAccess,
			Message:   "ftp: 550 no such file",
			CreatedAt: now.Add(-48 * time.Hour),
		},
	}
}

func TestFormatErrorLogs(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)

	var buf bytes.Buffer
	formatErrorLogs(&buf, sampleErrorLogs(now))

	output := buf.String()
	assert.Contains(t, output, "TYPE")
	assert.Contains(t, output, "ENTITY")
	assert.Contains(t, output, "abc12345")
	assert.Contains(t, output, "image_access_error")
	assert.Contains(t, output, "finding:f0f0f0f0")
	assert.Contains(t, output, "2025-06-15 10:30")
	assert.Contains(t, output, "...")
	assert.NotContains(t, output, "f0f0f0f0-1111")
}

func TestFilterErrorLogs(t *testing.T) {
	entries := sampleErrorLogs(time.Now())

	assert.Len(t, filterErrorLogs(entries, ""), 3)

	got := filterErrorLogs(entries, model.ErrImageAccess)
	require.Len(t, got, 2)
	for _, e := range got {
		assert.Equal(t, model.ErrImageAccess, e.ErrorType)
	}
	assert.Len(t, entries, 3, "filter must not modify its input")

	assert.Empty(t, filterErrorLogs(entries, model.ErrIngestion))
}

func TestComputeErrorStats(t *testing.T) {
	now := time.Date(2025, 6, 15, 10, 30, 0, 0, time.UTC)
	entries := sampleErrorLogs(now)

	all := computeErrorStats(entries, time.Time{})
	assert.Equal(t, []errorStat{
		{Type: model.ErrImageAccess, Count: 2},
		{Type: model.ErrClassification, Count: 1},
	}, all)

	recent := computeErrorStats(entries, now.Add(-24*time.Hour))
	assert.Equal(t, []errorStat{
		{Type: model.ErrClassification, Count: 1},
		{Type: model.ErrImageAccess, Count: 1},
	}, recent)
}

func TestFormatErrorStats(t *testing.T) {
	var buf bytes.Buffer
	formatErrorStats(&buf, []errorStat{{Type: model.ErrImageAccess, Count: 2}, {Type: model.ErrIngestion, Count: 1}})

	output := buf.String()
	assert.Contains(t, output, "image_access_error:")
	assert.Contains(t, output, "ingestion_error:")
	assert.Contains(t, output, "Total:")
	assert.Contains(t, output, "3")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789-0000"))
	assert.Equal(t, "short", truncateID("short"))
	assert.Equal(t, "", truncateID(""))
}
