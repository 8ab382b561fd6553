package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/ticketocr/internal/pdf"
	"github.com/MeKo-Tech/ticketocr/internal/scheduler"
	"github.com/google/uuid"
)

// submitBatchHandler queues every uploaded image as one batch and returns
// immediately. PDF uploads contribute one item per embedded page image.
func (s *Server) submitBatchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.parseUpload(w, r) {
		return
	}

	headers := r.MultipartForm.File["images"]
	if len(headers) == 0 {
		s.writeErrorResponse(w, "No images provided", http.StatusBadRequest)
		return
	}

	var items []scheduler.Item
	for _, h := range headers {
		file, err := h.Open()
		if err != nil {
			s.writeErrorResponse(w, fmt.Sprintf("Failed to open %s", h.Filename), http.StatusBadRequest)
			return
		}
		data, err := readUpload(file)
		_ = file.Close()
		if err != nil {
			s.writeErrorResponse(w, fmt.Sprintf("Failed to read %s", h.Filename), http.StatusInternalServerError)
			return
		}

		if isPDFUpload(h.Filename, data) {
			pages, err := s.expandPDF(h.Filename, data)
			if err != nil {
				s.writeErrorResponse(w, fmt.Sprintf("Failed to extract pages from %s: %v", h.Filename, err), http.StatusBadRequest)
				return
			}
			for _, p := range pages {
				items = append(items, scheduler.Item{Name: p.Name, Data: p.Data})
			}
			continue
		}
		items = append(items, scheduler.Item{Name: h.Filename, Data: data})
	}

	id, events, err := s.scheduler.Submit(items)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, scheduler.ErrEmptyBatch):
			status = http.StatusBadRequest
		case errors.Is(err, scheduler.ErrNotRunning):
			status = http.StatusServiceUnavailable
		}
		s.writeErrorResponse(w, fmt.Sprintf("Failed to submit batch: %v", err), status)
		return
	}
	s.feeds.track(id, events)
	batchesSubmitted.Inc()

	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Name
	}
	s.log().Info("Batch submitted", "batch_id", id, "items", len(items))
	s.writeJSON(w, http.StatusAccepted, BatchResponse{BatchID: id, Items: names})
}

// batchHandler serves GET (snapshot) and DELETE (cancel) on /batches/{id}.
func (s *Server) batchHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.writeErrorResponse(w, "Invalid batch id", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		snap, err := s.scheduler.Snapshot(id)
		if err != nil {
			s.writeErrorResponse(w, "Batch not found", http.StatusNotFound)
			return
		}
		s.writeJSON(w, http.StatusOK, snap)
	case http.MethodDelete:
		// Cancelling an unknown or finished batch is not an error.
		if s.scheduler.Cancel(id) {
			s.log().Info("Batch cancelled", "batch_id", id)
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		s.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// queueHandler reports queue and worker status.
func (s *Server) queueHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.writeJSON(w, http.StatusOK, QueueResponse{
		Queue:   s.scheduler.QueueStatus(),
		Workers: s.scheduler.WorkerStatus(),
	})
}

func isPDFUpload(filename string, data []byte) bool {
	if strings.EqualFold(filepath.Ext(filename), ".pdf") {
		return true
	}
	return len(data) >= 5 && string(data[:5]) == "%PDF-"
}

// expandPDF stores the upload in a temporary file for the extractor.
func (s *Server) expandPDF(filename string, data []byte) ([]pdf.Page, error) {
	dir, err := os.MkdirTemp("", "ticketocr-upload-*")
	if err != nil {
		return nil, err
	}
	defer func() { _ = os.RemoveAll(dir) }()

	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	if base == "" || base == "." {
		base = "upload"
	}
	path := filepath.Join(dir, base+".pdf")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return nil, err
	}
	return pdf.ExtractPages(path, pdf.Options{Password: s.pdfPassword})
}

