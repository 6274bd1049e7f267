//go:build !integration

package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/scopezero/internal/factors"
	"github.com/sells-group/scopezero/internal/model"
)

func TestFormatDatasets(t *testing.T) {
	now := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	ds := []model.Dataset{
		{ID: "abc12345-6789-0000-0000-000000000000", Filename: "q1.csv", UploadTimestamp: now, RecordCount: 3},
		{ID: "def12345-6789-0000-0000-000000000000", Filename: strings.Repeat("n", 50) + ".xlsx", UploadTimestamp: now.Add(-time.Hour)},
	}

	var buf bytes.Buffer
	formatDatasets(&buf, ds)

	output := buf.String()
	assert.Contains(t, output, "FILENAME")
	assert.Contains(t, output, "RECORDS")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
	assert.Contains(t, output, "q1.csv")
	assert.Contains(t, output, "2024-06-01 09:30")
	assert.Contains(t, output, "...")
}

func TestFormatFactors(t *testing.T) {
	var buf bytes.Buffer
	formatFactors(&buf, factors.Default())

	output := buf.String()
	lines := strings.Split(strings.TrimSpace(output), "\n")
	assert.Len(t, lines, 2+9+7)
	assert.Contains(t, output, "Steel")
	assert.Contains(t, output, "1.85")
	assert.Contains(t, output, "Air Cargo")
	assert.Contains(t, output, "kg CO2e/kg·km")
	assert.Contains(t, output, "Ecoinvent 3.8 / DEPA")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789-0000-0000-000000000000"))
	assert.Equal(t, "short", truncateID("short"))
}
