package server

import (
	"net/http"
	"time"

	"github.com/MeKo-Tech/ticketocr/internal/pipeline"
	"github.com/MeKo-Tech/ticketocr/internal/scheduler"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketocr_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticketocr_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Synchronous ticket metrics
	ticketRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketocr_ticket_requests_total",
			Help: "Total number of synchronous ticket requests",
		},
		[]string{"type", "status"}, // type: image, text
	)

	ticketProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticketocr_ticket_processing_duration_seconds",
			Help:    "Synchronous ticket processing duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 25},
		},
		[]string{"type"},
	)

	ticketConfidence = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticketocr_ticket_confidence",
			Help:    "Image-level confidence of extracted tickets",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
		[]string{"type"},
	)

	ticketsNeedingVerification = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketocr_tickets_needing_verification_total",
			Help: "Tickets whose confidence fell below the verification threshold",
		},
		[]string{"type"},
	)

	// Batch scheduler metrics
	batchesSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketocr_batches_submitted_total",
			Help: "Total number of submitted batches",
		},
	)

	batchesFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketocr_batches_finished_total",
			Help: "Total number of finished batches",
		},
		[]string{"status"}, // status: drained, cancelled
	)

	batchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ticketocr_batch_duration_seconds",
			Help:    "Time from batch submission to its final state",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	itemsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ticketocr_batch_items_in_flight",
			Help: "Batch items currently being processed",
		},
	)

	itemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketocr_batch_items_total",
			Help: "Total number of processed batch items",
		},
		[]string{"status"}, // status: completed, failed
	)

	itemDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ticketocr_batch_item_duration_seconds",
			Help:    "Processing time of one batch item",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 25, 50},
		},
	)

	// Rate limiting metrics
	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketocr_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"type"}, // type: minute, hour, requests, data
	)

	// File upload metrics
	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ticketocr_upload_size_bytes",
			Help:    "Size of uploaded files in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ticketocr_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketocr_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)

	websocketEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketocr_websocket_events_dropped_total",
			Help: "Progress events skipped for slow WebSocket clients",
		},
	)
)

func metricsHandler() http.Handler {
	return promhttp.Handler()
}

func observeResult(kind string, res *pipeline.TicketResult) {
	if res == nil {
		return
	}
	ticketConfidence.WithLabelValues(kind).Observe(res.Confidence)
	if res.NeedsVerification {
		ticketsNeedingVerification.WithLabelValues(kind).Inc()
	}
}

// SchedulerObserver records scheduler lifecycle metrics. Pass it to
// scheduler.WithObserver.
type SchedulerObserver struct{}

// ItemStarted implements scheduler.Observer.
func (SchedulerObserver) ItemStarted(uuid.UUID, int) {
	itemsInFlight.Inc()
}

// ItemFinished implements scheduler.Observer.
func (SchedulerObserver) ItemFinished(_ uuid.UUID, _ int, status scheduler.Status, d time.Duration) {
	itemsInFlight.Dec()
	itemsProcessed.WithLabelValues(string(status)).Inc()
	itemDuration.Observe(d.Seconds())
}

// BatchFinished implements scheduler.Observer.
func (SchedulerObserver) BatchFinished(_ uuid.UUID, status scheduler.BatchStatus, d time.Duration) {
	batchesFinished.WithLabelValues(string(status)).Inc()
	batchDuration.Observe(d.Seconds())
}

var _ scheduler.Observer = SchedulerObserver{}
