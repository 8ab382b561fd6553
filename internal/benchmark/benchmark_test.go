package benchmark

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MeKo-Tech/ticketocr/internal/accuracy"
	"github.com/MeKo-Tech/ticketocr/internal/pipeline"
	"github.com/MeKo-Tech/ticketocr/internal/recognition"
	"github.com/MeKo-Tech/ticketocr/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuiteRun(t *testing.T) {
	suite := NewSuite()
	suite.Add("success_test", func(context.Context) error {
		time.Sleep(time.Millisecond)
		return nil
	})
	suite.Add("error_test", func(context.Context) error {
		return errors.New("test error")
	})
	assert.Equal(t, []string{"success_test", "error_test"}, suite.Names())

	result := suite.Run(context.Background(), "success_test", 5)
	assert.Equal(t, "success_test", result.Name)
	assert.Equal(t, 5, result.Iterations)
	require.NoError(t, result.Error)
	assert.Positive(t, result.Duration)
	assert.Positive(t, result.Average())

	result = suite.Run(context.Background(), "error_test", 3)
	require.Error(t, result.Error)
	assert.Zero(t, result.Iterations)
	assert.Contains(t, result.String(), "ERROR - test error")

	result = suite.Run(context.Background(), "non_existent", 1)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "not found")
}

func TestSuiteRunAll(t *testing.T) {
	suite := NewSuite()
	calls := 0
	suite.Add("a", func(context.Context) error { calls++; return nil })
	suite.Add("b", func(context.Context) error { calls++; return nil })

	results := suite.RunAll(context.Background(), 3)
	require.Len(t, results, 2)
	assert.Equal(t, 6, calls)
	assert.Equal(t, results, suite.Results())
}

func TestSuiteRunAllCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	suite := NewSuite()
	suite.Add("a", func(context.Context) error { cancel(); return nil })
	suite.Add("b", func(context.Context) error { return nil })

	results := suite.RunAll(ctx, 10)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Iterations)
	assert.ErrorIs(t, results[0].Error, context.Canceled)
}

func TestTimer(t *testing.T) {
	timer := NewTimer("load")
	time.Sleep(2 * time.Millisecond)
	d := timer.Stop()
	assert.GreaterOrEqual(t, d, 2*time.Millisecond)
	assert.Equal(t, d, timer.Duration())
	assert.Contains(t, timer.String(), "load: ")
}

func TestGetMemoryStats(t *testing.T) {
	m := GetMemoryStats()
	assert.Positive(t, m.SysBytes)
	assert.Contains(t, m.String(), "Sys:")
}

func TestPipelineSuite(t *testing.T) {
	dir := t.TempDir()
	scan := filepath.Join(dir, "clean.png")
	require.NoError(t, os.WriteFile(scan, testutil.TicketPNG(t), 0o600))
	fixtures := append(testutil.SampleFixtures(), testutil.TicketFixture{
		Name:     "clean",
		File:     "clean.png",
		Expected: testutil.SampleExpected(),
	})
	set, err := accuracy.LoadAnnotations(testutil.WriteAnnotations(t, dir, fixtures))
	require.NoError(t, err)

	textOnly, err := pipeline.NewBuilder().Build()
	require.NoError(t, err)
	suite, err := PipelineSuite(textOnly, set)
	require.NoError(t, err)
	assert.Equal(t, []string{"text/bauxite-full", "text/generic-sparse"}, suite.Names())

	engine := recognition.NewScriptedEngine().Default(recognition.FromText(testutil.SampleTicketText, 90))
	withEngine, err := pipeline.NewBuilder().WithEngine(engine).Build()
	require.NoError(t, err)
	suite, err = PipelineSuite(withEngine, set)
	require.NoError(t, err)
	assert.Contains(t, suite.Names(), "image/clean")

	results := suite.RunAll(context.Background(), 2)
	require.Len(t, results, 3)
	for _, r := range results {
		require.NoError(t, r.Error, r.Name)
		assert.Equal(t, 2, r.Iterations)
	}
	assert.Len(t, engine.Calls(), 2)
}

func TestPipelineSuiteMissingImage(t *testing.T) {
	dir := t.TempDir()
	set, err := accuracy.LoadAnnotations(testutil.WriteAnnotations(t, dir, []testutil.TicketFixture{
		{Name: "gone", File: "gone.png", Expected: map[string]string{"ticketNumber": "1"}},
	}))
	require.NoError(t, err)

	proc, err := pipeline.NewBuilder().WithEngine(recognition.NewScriptedEngine()).Build()
	require.NoError(t, err)
	_, err = PipelineSuite(proc, set)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gone")

	textOnly, err := pipeline.NewBuilder().Build()
	require.NoError(t, err)
	_, err = PipelineSuite(textOnly, set)
	assert.EqualError(t, err, "no runnable cases")
}

func TestWriters(t *testing.T) {
	results := []Result{
		{Name: "text/a", Iterations: 4, Duration: 8 * time.Millisecond},
		{Name: "image/b", Error: errors.New("boom")},
	}

	var text bytes.Buffer
	require.NoError(t, WriteText(&text, results))
	assert.Contains(t, text.String(), "text/a: 4 iterations, avg: 2ms")
	assert.Contains(t, text.String(), "image/b: ERROR - boom")

	var out bytes.Buffer
	require.NoError(t, WriteCSV(&out, results))
	rows, err := csv.NewReader(&out).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"text/a", "4", "2.000", "8.000", "0", ""}, rows[1])
	assert.Equal(t, "boom", rows[2][5])
}
