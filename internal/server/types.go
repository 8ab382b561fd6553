package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/MeKo-Tech/ticketocr/internal/pipeline"
	"github.com/MeKo-Tech/ticketocr/internal/scheduler"
	"github.com/google/uuid"
)

// ticketProcessor defines the methods needed by the server from a pipeline.
type ticketProcessor interface {
	Process(ctx context.Context, name string, data []byte) (*pipeline.TicketResult, error)
	ProcessText(ctx context.Context, name, text string) *pipeline.TicketResult
}

// batchScheduler defines the methods needed by the server from the scheduler.
type batchScheduler interface {
	Submit(items []scheduler.Item) (uuid.UUID, <-chan scheduler.Event, error)
	Cancel(id uuid.UUID) bool
	Snapshot(id uuid.UUID) (scheduler.Snapshot, error)
	QueueStatus() scheduler.QueueStatus
	WorkerStatus() []scheduler.WorkerStatus
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	processor   ticketProcessor
	scheduler   batchScheduler
	feeds       *feedHub
	rateLimiter *RateLimiter
	corsOrigin  string
	maxUploadMB int64
	pdfPassword string
	logger      *slog.Logger

	stop     chan struct{}
	stopOnce sync.Once
}

// clientIdleTimeout is how long a rate-limited client is remembered without
// requests.
const clientIdleTimeout = 25 * time.Hour

// Config holds server configuration.
type Config struct {
	CORSOrigin  string
	MaxUploadMB int64
	RateLimit   RateLimitConfig
	// PDFPassword opens encrypted PDF uploads.
	PDFPassword string
	Logger      *slog.Logger
}

// RateLimitConfig holds per-client limits. Zero disables a limit.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	RequestsPerHour   int
	MaxRequestsPerDay int
	MaxDataPerDay     int64 // bytes
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
	Workers int    `json:"workers"`
	Streams int    `json:"active_streams"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// TextRequest is the body of POST /tickets/text.
type TextRequest struct {
	Name string `json:"name,omitempty"`
	Text string `json:"text"`
}

// BatchResponse is returned by POST /batches.
type BatchResponse struct {
	BatchID uuid.UUID `json:"batch_id"`
	Items   []string  `json:"items"`
}

// QueueResponse is returned by GET /queue.
type QueueResponse struct {
	Queue   scheduler.QueueStatus    `json:"queue"`
	Workers []scheduler.WorkerStatus `json:"workers"`
}

// NewServer creates a server around an already built processor and a started
// scheduler. The server does not own either of them.
func NewServer(config Config, proc ticketProcessor, sched batchScheduler) (*Server, error) {
	if proc == nil {
		return nil, errors.New("server: processor is required")
	}
	if sched == nil {
		return nil, errors.New("server: scheduler is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxUpload := config.MaxUploadMB
	if maxUpload <= 0 {
		maxUpload = 50
	}

	s := &Server{
		processor:   proc,
		scheduler:   sched,
		feeds:       newFeedHub(),
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: maxUpload,
		pdfPassword: config.PDFPassword,
		logger:      logger,
		stop:        make(chan struct{}),
	}
	if config.RateLimit.Enabled {
		rl := config.RateLimit
		s.rateLimiter = NewRateLimiter(rl.RequestsPerMinute, rl.RequestsPerHour, rl.MaxRequestsPerDay, rl.MaxDataPerDay)
		go s.pruneClients(time.Hour)
	}
	return s, nil
}

func (s *Server) pruneClients(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.rateLimiter.Prune(clientIdleTimeout); n > 0 {
				s.log().Debug("Pruned idle rate limit clients", "count", n)
			}
		case <-s.stop:
			return
		}
	}
}

// Close stops background work and detaches all live progress streams.
func (s *Server) Close() error {
	s.stopOnce.Do(func() {
		if s.stop != nil {
			close(s.stop)
		}
		if s.feeds != nil {
			s.feeds.closeAll()
		}
	})
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.wrap(s.healthHandler, false))
	mux.HandleFunc("/tickets", s.wrap(s.ticketHandler, true))
	mux.HandleFunc("/tickets/text", s.wrap(s.ticketTextHandler, true))
	mux.HandleFunc("/batches", s.wrap(s.submitBatchHandler, true))
	mux.HandleFunc("/batches/{id}", s.wrap(s.batchHandler, false))
	mux.HandleFunc("/queue", s.wrap(s.queueHandler, false))
	mux.HandleFunc("/ws/batches/{id}", s.batchWebSocketHandler)
	mux.Handle("/metrics", metricsHandler())
}

// wrap applies the middleware chain. Processing endpoints are rate limited.
func (s *Server) wrap(h http.HandlerFunc, limited bool) http.HandlerFunc {
	if limited {
		h = s.rateLimitMiddleware(h)
	}
	return s.loggingMiddleware(s.corsMiddleware(h))
}
