package support

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/MeKo-Tech/ticketocr/internal/pipeline"
	"github.com/MeKo-Tech/ticketocr/internal/recognition"
	"github.com/MeKo-Tech/ticketocr/internal/scheduler"
	"github.com/MeKo-Tech/ticketocr/internal/server"
	"github.com/MeKo-Tech/ticketocr/internal/testutil"
	"github.com/MeKo-Tech/ticketocr/internal/utils"
)

// TestServer runs the real routes, pipeline and scheduler on an httptest
// listener. The recognizer is scripted: every scan reads as the sample
// ticket unless a step says otherwise.
type TestServer struct {
	HTTP      *httptest.Server
	API       *server.Server
	Scheduler *scheduler.Scheduler
	Engine    *recognition.ScriptedEngine

	proc    *pipeline.Processor
	mu      sync.Mutex
	release func()
}

// ServerOptions tweak the test server.
type ServerOptions struct {
	Workers           int
	RequestsPerMinute int
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// StartTestServer builds and starts a server.
func StartTestServer(opts ServerOptions) (*TestServer, error) {
	if opts.Workers <= 0 {
		opts.Workers = 2
	}

	engine := recognition.NewScriptedEngine().
		Default(recognition.FromText(testutil.SampleTicketText, 90))
	proc, err := pipeline.NewBuilder().WithEngine(engine).WithLogger(quietLogger()).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build processor: %w", err)
	}

	sched := scheduler.New(proc,
		scheduler.WithWorkers(opts.Workers),
		scheduler.WithObserver(server.SchedulerObserver{}),
		scheduler.WithLogger(quietLogger()),
	)
	if err := sched.Start(context.Background()); err != nil {
		_ = proc.Close()
		return nil, fmt.Errorf("failed to start scheduler: %w", err)
	}

	cfg := server.Config{
		CORSOrigin:  "*",
		MaxUploadMB: 10,
		Logger:      quietLogger(),
	}
	if opts.RequestsPerMinute > 0 {
		cfg.RateLimit = server.RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: opts.RequestsPerMinute,
			RequestsPerHour:   1000,
			MaxRequestsPerDay: 5000,
			MaxDataPerDay:     100 * 1024 * 1024,
		}
	}
	api, err := server.NewServer(cfg, proc, sched)
	if err != nil {
		_ = sched.Shutdown(context.Background())
		_ = proc.Close()
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	mux := http.NewServeMux()
	api.SetupRoutes(mux)

	return &TestServer{
		HTTP:      httptest.NewServer(mux),
		API:       api,
		Scheduler: sched,
		Engine:    engine,
		proc:      proc,
	}, nil
}

// URL returns the base URL.
func (s *TestServer) URL() string { return s.HTTP.URL }

// Pause blocks recognition until Resume.
func (s *TestServer) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.release == nil {
		s.release = s.Engine.Hold()
	}
}

// Resume lets held recognitions continue.
func (s *TestServer) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.release != nil {
		s.release()
		s.release = nil
	}
}

// Close releases held work and tears everything down.
func (s *TestServer) Close() {
	s.Resume()
	s.HTTP.CloseClientConnections()
	s.HTTP.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.Scheduler.Shutdown(ctx)
	_ = s.API.Close()
	_ = s.proc.Close()
}

// scanPNG returns the bytes of scan n. Distinct numbers give distinct bytes,
// so a step can script the recognizer for a single scan.
func scanPNG(n int) ([]byte, error) {
	return utils.EncodePNG(testutil.CrispImage(n))
}
