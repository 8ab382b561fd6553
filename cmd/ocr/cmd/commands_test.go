package cmd

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MeKo-Tech/ticketocr/internal/batch"
	"github.com/MeKo-Tech/ticketocr/internal/config"
	"github.com/MeKo-Tech/ticketocr/internal/pipeline"
	"github.com/MeKo-Tech/ticketocr/internal/recognition"
	"github.com/MeKo-Tech/ticketocr/internal/scheduler"
	"github.com/MeKo-Tech/ticketocr/internal/testutil"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextCommandFile(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteTextFile(t, dir, "ticket.txt", testutil.SampleTicketText)

	r := execute(t, nil, "text", path)
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "# "+path)
	assert.Contains(t, r.stdout, "ticketNumber")
	assert.Contains(t, r.stdout, "TK-2024-001")
	assert.Contains(t, r.stdout, "template: bauxite")
}

func TestTextCommandStdinJSON(t *testing.T) {
	r := execute(t, strings.NewReader(testutil.SampleTicketText), "text", "--format", "json")
	require.NoError(t, r.err)

	var res pipeline.TicketResult
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &res))
	assert.Equal(t, "stdin", res.Name)
	for name, want := range testutil.SampleExpected() {
		f, ok := findField(res, name)
		require.True(t, ok, name)
		assert.Equal(t, want, f, name)
	}
}

func TestTextCommandMultipleFiles(t *testing.T) {
	dir := t.TempDir()
	a := testutil.WriteTextFile(t, dir, "a.txt", testutil.SampleTicketText)
	b := testutil.WriteTextFile(t, dir, "b.txt", "Ticket No: 12345\nsome noise here")

	r := execute(t, nil, "text", a, b, "--format", "json")
	require.NoError(t, r.err)
	var results []pipeline.TicketResult
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &results))
	require.Len(t, results, 2)
	assert.Equal(t, a, results[0].Name)
	assert.Equal(t, b, results[1].Name)
}

func TestTextCommandErrors(t *testing.T) {
	dir := t.TempDir()
	blank := testutil.WriteTextFile(t, dir, "blank.txt", "  \n")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"empty text", []string{"text", blank}, "no text"},
		{"missing file", []string{"text", filepath.Join(dir, "nope.txt")}, "failed to read"},
		{"bad format", []string{"text", blank, "--format", "xml"}, "unsupported format"},
		{"bad preference", []string{"text", blank, "--prefer", "weight"}, "invalid --prefer"},
		{"unknown source", []string{"text", blank, "--prefer", "weight=guess"}, "must be pattern or heuristic"},
		{"bad threshold", []string{"text", blank, "--verification-threshold", "150"}, "verification_threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := execute(t, nil, tt.args...)
			require.Error(t, r.err)
			assert.Contains(t, r.err.Error(), tt.want)
		})
	}
}

func TestTextCommandOutputFile(t *testing.T) {
	dir := t.TempDir()
	in := testutil.WriteTextFile(t, dir, "ticket.txt", testutil.SampleTicketText)
	out := filepath.Join(dir, "ticket.json")

	r := execute(t, nil, "text", in, "-f", "json", "-o", out)
	require.NoError(t, r.err)
	assert.Empty(t, r.stdout)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var res pipeline.TicketResult
	require.NoError(t, json.Unmarshal(data, &res))
	assert.Equal(t, "bauxite", res.Template)
}

func TestImageCommand(t *testing.T) {
	engine := useScriptedEngine(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "ticket.png")
	require.NoError(t, os.WriteFile(path, testutil.TicketPNG(t), 0o600))

	r := execute(t, nil, "image", path)
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "# "+path)
	assert.Contains(t, r.stdout, "TK-2024-001")
	assert.Len(t, engine.Calls(), 1)
}

func TestImageCommandBarcodes(t *testing.T) {
	useScriptedEngine(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "stamped.png")
	require.NoError(t, os.WriteFile(path, testutil.QRTicketPNG(t, "TK-2024-777"), 0o600))

	r := execute(t, nil, "image", path, "--barcodes", "--barcode-formats", "qr_code", "-f", "json")
	require.NoError(t, r.err)
	var res pipeline.TicketResult
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &res))
	require.NotEmpty(t, res.Barcodes)
	v, ok := findField(res, "ticketNumber")
	require.True(t, ok)
	assert.Equal(t, "TK-2024-777", v)

	r = execute(t, nil, "image", path, "--barcode-formats", "maxicode")
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "invalid barcode format")
}

func TestImageCommandJSONMany(t *testing.T) {
	useScriptedEngine(t)
	dir := t.TempDir()
	paths := testutil.WriteTicketImages(t, dir)

	r := execute(t, nil, append([]string{"image", "--format", "json"}, paths...)...)
	require.NoError(t, r.err)

	var results []pipeline.TicketResult
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &results))
	require.Len(t, results, len(paths))
	for i, res := range results {
		assert.Equal(t, paths[i], res.Name)
		assert.Equal(t, "scripted", res.Engine)
		assert.NotNil(t, res.Quality)
	}
}

func TestImageCommandErrors(t *testing.T) {
	useScriptedEngine(t)
	dir := t.TempDir()
	notImage := testutil.WriteTextFile(t, dir, "notes.txt", "hello")
	corrupt := testutil.WriteTextFile(t, dir, "broken.png", "not a png")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no files", []string{"image"}, "no input files provided"},
		{"unsupported", []string{"image", notImage}, "unsupported file format"},
		{"missing", []string{"image", filepath.Join(dir, "missing.jpg")}, "failed to read"},
		{"corrupt", []string{"image", corrupt}, "broken.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := execute(t, nil, tt.args...)
			require.Error(t, r.err)
			assert.Contains(t, r.err.Error(), tt.want)
		})
	}
}

func TestImageCommandRecognitionFailure(t *testing.T) {
	engine := useScriptedEngine(t)
	data := testutil.CrispPNG(t, 3)
	engine.Fail(string(data), errors.New("engine exploded"))
	path := filepath.Join(t.TempDir(), "crisp.png")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	r := execute(t, nil, "image", path)
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "engine exploded")
}

func TestImageCommandWithoutBackend(t *testing.T) {
	prev := newEngine
	newEngine = func(*cobra.Command, *config.Config) (recognition.Engine, error) {
		return nil, recognition.ErrNoBackend
	}
	t.Cleanup(func() { newEngine = prev })

	path := filepath.Join(t.TempDir(), "ticket.png")
	require.NoError(t, os.WriteFile(path, testutil.CrispPNG(t, 1), 0o600))

	r := execute(t, nil, "image", path)
	require.ErrorIs(t, r.err, recognition.ErrNoBackend)
}

func TestPDFCommand(t *testing.T) {
	useScriptedEngine(t)
	dir := t.TempDir()
	img := filepath.Join(dir, "ticket.png")
	require.NoError(t, os.WriteFile(img, testutil.TicketPNG(t), 0o600))
	doc := filepath.Join(dir, "ticket.pdf")
	if err := api.ImportImagesFile([]string{img}, doc, nil, nil); err != nil {
		t.Skipf("cannot build fixture PDF: %v", err)
	}

	r := execute(t, nil, "pdf", doc, "--text-layer", "--format", "json")
	require.NoError(t, r.err)
	var res pipeline.TicketResult
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &res))
	assert.Equal(t, "ticket#page1-1", res.Name)
	assert.Equal(t, "scripted", res.Engine)
}

func TestPDFCommandErrors(t *testing.T) {
	useScriptedEngine(t)
	dir := t.TempDir()
	broken := testutil.WriteTextFile(t, dir, "broken.pdf", "%PDF-1.4 garbage")
	img := filepath.Join(dir, "ticket.png")
	require.NoError(t, os.WriteFile(img, testutil.CrispPNG(t, 1), 0o600))

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no files", []string{"pdf"}, "no input files provided"},
		{"not a pdf", []string{"pdf", img}, "not a PDF file"},
		{"bad range", []string{"pdf", broken, "--pages", "3-1"}, "page_range"},
		{"broken", []string{"pdf", broken}, "broken.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := execute(t, nil, tt.args...)
			require.Error(t, r.err)
			assert.Contains(t, r.err.Error(), tt.want)
		})
	}
}

func TestBatchCommand(t *testing.T) {
	useScriptedEngine(t)
	dir := t.TempDir()
	testutil.WriteTicketImages(t, dir)
	testutil.WriteTextFile(t, dir, "README.txt", "ignored")

	r := execute(t, nil, "batch", dir, "--quiet", "--format", "json", "--workers", "2", "--stats")
	require.NoError(t, r.err)

	var res batch.Result
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &res))
	require.Len(t, res.Entries, 3)
	for _, e := range res.Entries {
		assert.Equal(t, scheduler.StatusCompleted, e.Status, e.Name)
		require.NotNil(t, e.Result)
		f, ok := findField(*e.Result, "ticketNumber")
		assert.True(t, ok)
		assert.Equal(t, "TK-2024-001", f)
	}
	assert.Contains(t, r.stderr, "Processing Statistics:")
	assert.Contains(t, r.stderr, "Workers: 2")
}

func TestBatchCommandIsolatesFailures(t *testing.T) {
	useScriptedEngine(t)
	dir := t.TempDir()
	good := filepath.Join(dir, "good.png")
	require.NoError(t, os.WriteFile(good, testutil.TicketPNG(t), 0o600))
	bad := testutil.WriteTextFile(t, dir, "bad.png", "not an image")

	r := execute(t, nil, "batch", good, bad, "--quiet")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "# "+good)
	assert.Contains(t, r.stdout, "# "+bad)
	assert.Contains(t, r.stdout, "error:")
	assert.Contains(t, r.stdout, "2 tickets: 1 completed, 1 failed")
}

func TestBatchCommandProgress(t *testing.T) {
	useScriptedEngine(t)
	dir := t.TempDir()
	testutil.WriteTicketImages(t, dir)
	out := filepath.Join(dir, "out", "tickets.txt")
	require.NoError(t, testutil.EnsureDir(filepath.Dir(out)))

	r := execute(t, nil, "batch", dir, "--output", out)
	require.NoError(t, r.err)
	assert.Empty(t, r.stdout)
	assert.Contains(t, r.stderr, "Tickets")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "3 tickets: 3 completed, 0 failed")
}

func TestBatchCommandErrors(t *testing.T) {
	useScriptedEngine(t)
	empty := t.TempDir()

	r := execute(t, nil, "batch", empty)
	require.ErrorIs(t, r.err, batch.ErrNoFiles)

	r = execute(t, nil, "batch")
	require.Error(t, r.err)

	r = execute(t, nil, "batch", empty, "--format", "csv")
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "invalid")

	r = execute(t, nil, "batch", empty, "--workers", "0")
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "workers")
}

func TestEvaluateCommand(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteAnnotations(t, dir, testutil.SampleFixtures())

	r := execute(t, nil, "evaluate", path)
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "PASS  bauxite-full")
	assert.Contains(t, r.stdout, "2 cases")

	r = execute(t, nil, "evaluate", path, "--format", "json")
	require.NoError(t, r.err)
	var ev evaluation
	require.NoError(t, json.Unmarshal([]byte(r.stdout), &ev))
	assert.Len(t, ev.Reports, 2)
	assert.Equal(t, 2, ev.Summary.Cases)
	assert.Greater(t, ev.Summary.AverageAccuracy, 0.0)

	r = execute(t, nil, "evaluate", path, "--format", "yaml")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "summary:")
}

func TestEvaluateCommandMinAccuracy(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteAnnotations(t, dir, testutil.SampleFixtures()[:1])

	r := execute(t, nil, "evaluate", path, "--min-accuracy", "101")
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "below")
	assert.Contains(t, r.stdout, "bauxite-full", "the report is printed before failing")
}

func TestEvaluateCommandLocatorOnly(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteAnnotations(t, dir, testutil.SampleFixtures())

	r := execute(t, nil, "evaluate", path, "--locator-only")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "FIELD")
	assert.Contains(t, r.stdout, "ticketNumber")
	assert.Contains(t, r.stdout, "2 cases, locator accuracy")
}

func TestEvaluateCommandImageCases(t *testing.T) {
	useScriptedEngine(t)
	dir := t.TempDir()
	paths := testutil.WriteTicketImages(t, dir)
	path := testutil.WriteAnnotations(t, dir, []testutil.TicketFixture{
		{Name: "scan", File: filepath.Base(paths[0]), Expected: testutil.SampleExpected()},
	})

	r := execute(t, nil, "evaluate", path)
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "PASS  scan")
}

func TestEvaluateCommandErrors(t *testing.T) {
	dir := t.TempDir()
	bad := testutil.WriteTextFile(t, dir, "bad.yaml", "cases: []\n")

	r := execute(t, nil, "evaluate", bad)
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "no cases")

	r = execute(t, nil, "evaluate", bad, "--format", "csv")
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "unsupported format")
}

func TestTestCommand(t *testing.T) {
	engine := useScriptedEngine(t)
	engine.Default(recognition.FromText("TICKET 12345", 95))

	r := execute(t, nil, "test")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "ok   backend: scripted")
	assert.Contains(t, r.stdout, "All checks passed.")
}

func TestTestCommandMisread(t *testing.T) {
	engine := useScriptedEngine(t)
	engine.Default(recognition.FromText("TlCKET", 40))

	r := execute(t, nil, "test")
	require.NoError(t, r.err)
	assert.Contains(t, r.stdout, "WARN recognition")
}

func TestTestCommandNoBackend(t *testing.T) {
	prev := newEngine
	newEngine = func(*cobra.Command, *config.Config) (recognition.Engine, error) {
		return nil, recognition.ErrNoBackend
	}
	t.Cleanup(func() { newEngine = prev })

	r := execute(t, nil, "test")
	require.Error(t, r.err)
	assert.Contains(t, r.stdout, "FAIL backend")
}

func TestRenderSelfTest(t *testing.T) {
	data, err := renderSelfTest()
	require.NoError(t, err)
	assert.NotEmpty(t, data)
}

func TestServerFlags(t *testing.T) {
	t.Cleanup(func() { resetFlags(serveCmd) })
	require.NoError(t, serveCmd.Flags().Set("port", "9090"))
	require.NoError(t, serveCmd.Flags().Set("rate-limit-enabled", "true"))
	require.NoError(t, serveCmd.Flags().Set("max-data-per-day", "2"))
	require.NoError(t, serveCmd.Flags().Set("pdf-password", "pw"))

	cfg := config.DefaultConfig()
	applyServerFlags(serveCmd, &cfg)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host, "unchanged flags keep the configured value")

	sc := serverConfig(&cfg)
	assert.True(t, sc.RateLimit.Enabled)
	assert.Equal(t, int64(2*1024*1024), sc.RateLimit.MaxDataPerDay)
	assert.Equal(t, int64(cfg.Server.MaxUploadMB), sc.MaxUploadMB)
	assert.Equal(t, "pw", sc.PDFPassword)
}

func TestServeCommandInvalidPort(t *testing.T) {
	useScriptedEngine(t)
	r := execute(t, nil, "serve", "--port", "70000")
	require.Error(t, r.err)
	assert.Contains(t, r.err.Error(), "invalid server port")
}

func TestRenderTickets(t *testing.T) {
	proc, err := buildProcessor(ptr(config.DefaultConfig()), nil)
	require.NoError(t, err)
	a := proc.ProcessText(t.Context(), "a", testutil.SampleTicketText)
	b := proc.ProcessText(t.Context(), "b", "Ticket No: 12345")

	out, err := renderTickets([]*pipeline.TicketResult{a, b}, "text")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "# a\n"))
	assert.Contains(t, out, "\n\n# b\n")

	out, err = renderTickets([]*pipeline.TicketResult{a}, "json")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "{"))
	assert.True(t, strings.HasSuffix(out, "}\n"))
}

func findField(res pipeline.TicketResult, name string) (string, bool) {
	for _, f := range res.Fields {
		if string(f.Name) == name && f.Value != "" {
			return f.Value, true
		}
	}
	return "", false
}

func ptr[T any](v T) *T { return &v }
