package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/ticketocr/internal/pipeline"
	"github.com/MeKo-Tech/ticketocr/internal/scheduler"
	"github.com/MeKo-Tech/ticketocr/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult(t *testing.T) *Result {
	t.Helper()
	proc, err := pipeline.NewBuilder().Build()
	require.NoError(t, err)
	full := proc.ProcessText(context.Background(), "a.png", testutil.SampleTicketText)
	sparse := proc.ProcessText(context.Background(), "b.png", "Ticket No: 12345")

	return &Result{
		BatchID: uuid.MustParse("6f1c1f6e-59a4-4a39-9a43-3c1d2f1b7a10"),
		Entries: []Entry{
			{Source: "a.png", Name: "a.png", Status: scheduler.StatusCompleted, Result: full},
			{Source: "b.pdf", Name: "b#page1", Page: 1, Status: scheduler.StatusCompleted, TextLayer: true, Result: sparse},
			{Source: "c.png", Name: "c.png", Status: scheduler.StatusFailed, Error: "torn ticket"},
			{Source: "d.png", Name: "d.png", Status: scheduler.StatusQueued, Removed: true, Error: "cancelled before processing"},
		},
		Duration: 2 * time.Second,
	}
}

func TestFormatText(t *testing.T) {
	out, err := Format(sampleResult(t), FormatText)
	require.NoError(t, err)

	assert.Contains(t, out, "# a.png\n")
	assert.Contains(t, out, "TK-2024-001")
	assert.Contains(t, out, "# b#page1 (text layer)\n")
	assert.Contains(t, out, "NEEDS VERIFICATION")
	assert.Contains(t, out, "# c.png\nerror: torn ticket\n")
	assert.Contains(t, out, "# d.png\nskipped: cancelled before processing\n")
	assert.True(t, strings.HasSuffix(out, "4 tickets: 2 completed, 1 failed, 1 skipped, 1 need verification\n"), out)
}

func TestFormatJSON(t *testing.T) {
	res := sampleResult(t)
	out, err := Format(res, FormatJSON)
	require.NoError(t, err)

	var decoded struct {
		BatchID string `json:"batch_id"`
		Tickets []struct {
			Name      string `json:"name"`
			Status    string `json:"status"`
			TextLayer bool   `json:"text_layer"`
			Error     string `json:"error"`
			Result    *struct {
				Confidence float64 `json:"confidence"`
			} `json:"result"`
		} `json:"tickets"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, res.BatchID.String(), decoded.BatchID)
	require.Len(t, decoded.Tickets, 4)
	assert.Equal(t, "completed", decoded.Tickets[0].Status)
	require.NotNil(t, decoded.Tickets[0].Result)
	assert.Equal(t, 100.0, decoded.Tickets[0].Result.Confidence)
	assert.True(t, decoded.Tickets[1].TextLayer)
	assert.Equal(t, "torn ticket", decoded.Tickets[2].Error)
	assert.Nil(t, decoded.Tickets[3].Result)
}

func TestFormatUnsupported(t *testing.T) {
	_, err := Format(&Result{}, "csv")
	assert.Error(t, err)
}

func TestSaveResults(t *testing.T) {
	res := sampleResult(t)

	var buf bytes.Buffer
	require.NoError(t, SaveResults(res, FormatText, "", &buf))
	assert.Contains(t, buf.String(), "# a.png")

	path := filepath.Join(t.TempDir(), "out.json")
	buf.Reset()
	require.NoError(t, SaveResults(res, FormatJSON, path, &buf))
	assert.Empty(t, buf.String())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))

	assert.Error(t, SaveResults(res, "xml", "", &buf))
}

func TestWriteStats(t *testing.T) {
	var buf bytes.Buffer
	WriteStats(&buf, sampleResult(t), 3)
	out := buf.String()
	assert.Contains(t, out, "Total tickets: 4")
	assert.Contains(t, out, "Completed: 2")
	assert.Contains(t, out, "Failed: 1")
	assert.Contains(t, out, "Skipped: 1")
	assert.Contains(t, out, "Workers: 3")
	assert.Contains(t, out, "Throughput: 1.5 tickets/sec")
}
