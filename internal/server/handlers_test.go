package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MeKo-Tech/ticketocr/internal/fields"
	"github.com/MeKo-Tech/ticketocr/internal/pipeline"
	"github.com/MeKo-Tech/ticketocr/internal/recognition"
	"github.com/MeKo-Tech/ticketocr/internal/scheduler"
	"github.com/MeKo-Tech/ticketocr/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServerRequiresDependencies(t *testing.T) {
	sched := scheduler.New(scheduler.ProcessorFunc(nil))
	_, err := NewServer(Config{}, nil, sched)
	assert.Error(t, err)

	proc, err := pipeline.NewBuilder().Build()
	require.NoError(t, err)
	_, err = NewServer(Config{}, proc, nil)
	assert.Error(t, err)

	srv, err := NewServer(Config{}, proc, sched)
	require.NoError(t, err)
	assert.Equal(t, int64(50), srv.maxUploadMB)
	assert.Nil(t, srv.rateLimiter)
	assert.NoError(t, srv.Close())
	assert.NoError(t, srv.Close(), "close is idempotent")
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[HealthResponse](t, rec)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 2, health.Workers)
	assert.Zero(t, health.Streams)
	assert.NotEmpty(t, health.Time)

	rec = env.do(httptest.NewRequest(http.MethodPost, "/health", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	errResp := decode[ErrorResponse](t, rec)
	assert.Equal(t, http.StatusMethodNotAllowed, errResp.Code)
}

func TestTicketHandler(t *testing.T) {
	env := newTestEnv(t, Config{})
	data := testutil.CrispPNG(t, 1)
	env.engine.OnText(string(data), "Ticket No: 4521\nDriver: Mary Brown", 75)

	rec := env.do(uploadRequest(t, "/tickets", "image", upload{"ticket.png", data}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[pipeline.TicketResult](t, rec)
	assert.Equal(t, "ticket.png", res.Name)
	assert.Equal(t, "4521", res.Values()[fields.TicketNumber])
	assert.Equal(t, "scripted", res.Engine)
	assert.Len(t, res.Fields, len(fields.All()))
	assert.True(t, res.NeedsVerification)
}

func TestTicketHandlerSampleScan(t *testing.T) {
	env := newTestEnv(t, Config{})
	rec := env.do(uploadRequest(t, "/tickets", "image", upload{"scan.png", testutil.TicketPNG(t)}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[pipeline.TicketResult](t, rec)
	want := testutil.SampleExpected()
	for _, name := range []fields.Name{fields.TicketNumber, fields.Date, fields.Weight} {
		assert.Equal(t, want[string(name)], res.Values()[name], name)
	}
	assert.Equal(t, "bauxite", res.Template)
}

func TestTicketHandlerErrors(t *testing.T) {
	env := newTestEnv(t, Config{MaxUploadMB: 1})

	tests := []struct {
		name   string
		req    func() *http.Request
		status int
		msg    string
	}{
		{
			name:   "wrong method",
			req:    func() *http.Request { return httptest.NewRequest(http.MethodGet, "/tickets", nil) },
			status: http.StatusMethodNotAllowed,
		},
		{
			name: "not multipart",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/tickets", strings.NewReader("plain"))
			},
			status: http.StatusBadRequest,
			msg:    "Failed to parse form data",
		},
		{
			name:   "missing file",
			req:    func() *http.Request { return uploadRequest(t, "/tickets", "other", upload{"a.png", []byte("x")}) },
			status: http.StatusBadRequest,
			msg:    "No image file provided",
		},
		{
			name:   "invalid image",
			req:    func() *http.Request { return uploadRequest(t, "/tickets", "image", upload{"a.png", []byte("not an image")}) },
			status: http.StatusBadRequest,
			msg:    "Invalid image format",
		},
		{
			name: "too large",
			req: func() *http.Request {
				return uploadRequest(t, "/tickets", "image", upload{"big.png", bytes.Repeat([]byte{1}, 2<<20)})
			},
			status: http.StatusRequestEntityTooLarge,
			msg:    "File too large",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(tt.req())
			assert.Equal(t, tt.status, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.status, resp.Code)
			if tt.msg != "" {
				assert.Equal(t, tt.msg, resp.Error)
			}
		})
	}
}

type failingProcessor struct{ err error }

func (f failingProcessor) Process(context.Context, string, []byte) (*pipeline.TicketResult, error) {
	return nil, f.err
}

func (f failingProcessor) ProcessText(context.Context, string, string) *pipeline.TicketResult {
	return &pipeline.TicketResult{}
}

func TestTicketHandlerProcessingFailure(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{pipeline.ErrNoEngine, http.StatusServiceUnavailable},
		{&recognition.Error{Engine: "tesseract", Op: "init", Err: recognition.ErrNoBackend}, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			srv, err := NewServer(Config{Logger: quietLogger()}, failingProcessor{err: tt.err}, scheduler.New(scheduler.ProcessorFunc(nil)))
			require.NoError(t, err)
			defer func() { _ = srv.Close() }()

			rec := httptest.NewRecorder()
			srv.ticketHandler(rec, uploadRequest(t, "/tickets", "image", upload{"a.png", testutil.CrispPNG(t, 3)}))
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, decode[ErrorResponse](t, rec).Error, "Ticket processing failed")
		})
	}
}

func TestTicketTextHandler(t *testing.T) {
	env := newTestEnv(t, Config{})

	body, err := json.Marshal(TextRequest{Name: "typed", Text: testutil.SampleTicketText})
	require.NoError(t, err)
	rec := env.do(httptest.NewRequest(http.MethodPost, "/tickets/text", bytes.NewReader(body)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[pipeline.TicketResult](t, rec)
	assert.Equal(t, "typed", res.Name)
	assert.Equal(t, "TK-2024-001", res.Values()[fields.TicketNumber])
	assert.Equal(t, "bauxite", res.Template)
	assert.Empty(t, env.engine.Calls(), "text requests skip recognition")
}

func TestTicketTextHandlerErrors(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.do(httptest.NewRequest(http.MethodPost, "/tickets/text", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodPost, "/tickets/text", strings.NewReader(`{"text":"  "}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No text provided", decode[ErrorResponse](t, rec).Error)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/tickets/text", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.do(httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ticketocr_http_requests_total")
	assert.Contains(t, rec.Body.String(), `endpoint="/health"`)
}
