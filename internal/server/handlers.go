package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MeKo-Tech/ticketocr/internal/pipeline"
	"github.com/MeKo-Tech/ticketocr/internal/recognition"
	"github.com/MeKo-Tech/ticketocr/internal/utils"
	"github.com/MeKo-Tech/ticketocr/internal/version"
)

const maxTextBytes = 1 << 20

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	if s.scheduler != nil {
		response.Workers = s.scheduler.QueueStatus().Workers
	}
	if s.feeds != nil {
		response.Streams = s.feeds.active()
	}
	s.writeJSON(w, http.StatusOK, response)
}

// ticketHandler extracts the fields of one uploaded ticket image synchronously.
func (s *Server) ticketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.parseUpload(w, r) {
		return
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		s.writeErrorResponse(w, "No image file provided", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	data, err := readUpload(file)
	if err != nil {
		s.writeErrorResponse(w, "Failed to read image data", http.StatusInternalServerError)
		return
	}
	if _, err := utils.DescribeImage(data); err != nil {
		s.writeErrorResponse(w, "Invalid image format", http.StatusBadRequest)
		return
	}

	start := time.Now()
	res, err := s.processor.Process(r.Context(), header.Filename, data)
	ticketProcessingDuration.WithLabelValues("image").Observe(time.Since(start).Seconds())
	if err != nil {
		ticketRequestsTotal.WithLabelValues("image", "error").Inc()
		status := http.StatusInternalServerError
		if errors.Is(err, recognition.ErrNoBackend) || errors.Is(err, pipeline.ErrNoEngine) {
			status = http.StatusServiceUnavailable
		}
		s.writeErrorResponse(w, fmt.Sprintf("Ticket processing failed: %v", err), status)
		return
	}
	ticketRequestsTotal.WithLabelValues("image", "success").Inc()
	observeResult("image", res)

	s.writeJSON(w, http.StatusOK, res)
}

// ticketTextHandler extracts fields from text recognized by the caller.
func (s *Server) ticketTextHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req TextRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxTextBytes)).Decode(&req); err != nil {
		s.writeErrorResponse(w, fmt.Sprintf("Failed to parse JSON request: %v", err), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		s.writeErrorResponse(w, "No text provided", http.StatusBadRequest)
		return
	}

	start := time.Now()
	res := s.processor.ProcessText(r.Context(), req.Name, req.Text)
	ticketProcessingDuration.WithLabelValues("text").Observe(time.Since(start).Seconds())
	ticketRequestsTotal.WithLabelValues("text", "success").Inc()
	observeResult("text", res)

	s.writeJSON(w, http.StatusOK, res)
}

// parseUpload limits and parses a multipart body. It writes the error reply
// itself and reports whether the handler may continue.
func (s *Server) parseUpload(w http.ResponseWriter, r *http.Request) bool {
	limit := s.maxUploadMB * 1024 * 1024
	if r.ContentLength > limit {
		s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeErrorResponse(w, "File too large", http.StatusRequestEntityTooLarge)
		} else {
			s.writeErrorResponse(w, "Failed to parse form data", http.StatusBadRequest)
		}
		return false
	}
	return true
}

func readUpload(file io.Reader) ([]byte, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	uploadSizeBytes.Observe(float64(len(data)))
	return data, nil
}

func (s *Server) log() *slog.Logger {
	if s.logger == nil {
		return slog.Default()
	}
	return s.logger
}

// writeJSON writes v as a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log().Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes a JSON error response.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, ErrorResponse{Error: message, Code: statusCode})
}
