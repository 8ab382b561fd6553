package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MeKo-Tech/ticketocr/internal/pipeline"
	"github.com/MeKo-Tech/ticketocr/internal/recognition"
	"github.com/MeKo-Tech/ticketocr/internal/scheduler"
	"github.com/MeKo-Tech/ticketocr/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	server    *Server
	scheduler *scheduler.Scheduler
	engine    *recognition.ScriptedEngine
	handler   http.Handler
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEnv wires a real pipeline and a started scheduler behind the routes.
// The scripted engine reads every image as the sample ticket unless a test
// scripts something else.
func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	engine := recognition.NewScriptedEngine().Default(recognition.FromText(testutil.SampleTicketText, 90))
	proc, err := pipeline.NewBuilder().WithEngine(engine).WithLogger(quietLogger()).Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = proc.Close() })

	sched := scheduler.New(proc,
		scheduler.WithWorkers(2),
		scheduler.WithObserver(SchedulerObserver{}),
		scheduler.WithLogger(quietLogger()),
	)
	require.NoError(t, sched.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = sched.Shutdown(ctx)
	})

	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	srv, err := NewServer(cfg, proc, sched)
	require.NoError(t, err)
	t.Cleanup(func() { _ = srv.Close() })

	mux := http.NewServeMux()
	srv.SetupRoutes(mux)
	return &testEnv{server: srv, scheduler: sched, engine: engine, handler: mux}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

type upload struct {
	name string
	data []byte
}

func multipartBody(t *testing.T, field string, files ...upload) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := mw.CreateFormFile(field, f.name)
		require.NoError(t, err)
		_, err = part.Write(f.data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func uploadRequest(t *testing.T, path, field string, files ...upload) *http.Request {
	t.Helper()
	body, contentType := multipartBody(t, field, files...)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", contentType)
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (e *testEnv) submit(t *testing.T, files ...upload) BatchResponse {
	t.Helper()
	rec := e.do(uploadRequest(t, "/batches", "images", files...))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	return decode[BatchResponse](t, rec)
}

func (e *testEnv) waitFinished(t *testing.T, id uuid.UUID) scheduler.Snapshot {
	t.Helper()
	var snap scheduler.Snapshot
	require.Eventually(t, func() bool {
		s, err := e.scheduler.Snapshot(id)
		if err != nil {
			return false
		}
		snap = s
		return s.Status.Finished()
	}, 5*time.Second, 10*time.Millisecond)
	return snap
}
