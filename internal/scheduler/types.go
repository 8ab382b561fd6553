package scheduler

import (
	"context"
	"time"

	"github.com/MeKo-Tech/ticketocr/internal/pipeline"
	"github.com/google/uuid"
)

// Processor runs the per-image pipeline for one item.
type Processor interface {
	Process(ctx context.Context, name string, data []byte) (*pipeline.TicketResult, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, name string, data []byte) (*pipeline.TicketResult, error)

// Process implements Processor.
func (f ProcessorFunc) Process(ctx context.Context, name string, data []byte) (*pipeline.TicketResult, error) {
	return f(ctx, name, data)
}

// Item is one image submitted as part of a batch.
type Item struct {
	Name string
	Data []byte
}

// Status is the state of a single item.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// BatchStatus is the state of a batch.
type BatchStatus string

const (
	BatchSubmitted BatchStatus = "submitted"
	BatchRunning   BatchStatus = "running"
	BatchDrained   BatchStatus = "drained"
	BatchCancelled BatchStatus = "cancelled"
)

// Finished reports whether the batch reached a final state.
func (s BatchStatus) Finished() bool { return s == BatchDrained || s == BatchCancelled }

// ItemState is the scheduler-owned progress record of one item.
type ItemState struct {
	Index    int        `json:"index"`
	Name     string     `json:"name"`
	Status   Status     `json:"status"`
	Progress int        `json:"progress"`
	Started  *time.Time `json:"started_at,omitempty"`
	Finished *time.Time `json:"finished_at,omitempty"`
	// Removed marks a queued item dropped by cancellation. Its status stays queued.
	Removed bool                   `json:"removed,omitempty"`
	Result  *pipeline.TicketResult `json:"result,omitempty"`
	Error   string                 `json:"error,omitempty"`
}

// Snapshot is a point-in-time copy of a batch.
type Snapshot struct {
	ID          uuid.UUID   `json:"id"`
	Status      BatchStatus `json:"status"`
	Items       []ItemState `json:"items"`
	SubmittedAt time.Time   `json:"submitted_at"`
	FinishedAt  *time.Time  `json:"finished_at,omitempty"`
}

// Counts tallies items by status. Removed items count as removed only.
func (s Snapshot) Counts() (queued, processing, completed, failed, removed int) {
	for _, it := range s.Items {
		switch {
		case it.Removed:
			removed++
		case it.Status == StatusQueued:
			queued++
		case it.Status == StatusProcessing:
			processing++
		case it.Status == StatusCompleted:
			completed++
		case it.Status == StatusFailed:
			failed++
		}
	}
	return queued, processing, completed, failed, removed
}

// Done returns the number of items in a terminal state.
func (s Snapshot) Done() int {
	_, _, completed, failed, _ := s.Counts()
	return completed + failed
}

// EventType distinguishes batch events.
type EventType string

const (
	EventProgress  EventType = "progress"
	EventCompleted EventType = "completed"
	EventCancelled EventType = "cancelled"
)

// Terminal reports whether no events follow this one.
func (t EventType) Terminal() bool { return t == EventCompleted || t == EventCancelled }

// Event carries a batch snapshot.
type Event struct {
	Type  EventType `json:"type"`
	Batch Snapshot  `json:"batch"`
}

// QueueStatus summarizes the scheduler.
type QueueStatus struct {
	QueueLength   int         `json:"queue_length"`
	Processing    bool        `json:"processing"`
	ActiveBatches []uuid.UUID `json:"active_batches"`
	WorkersBusy   int         `json:"workers_busy"`
	Workers       int         `json:"workers"`
}

// WorkerStatus describes one worker.
type WorkerStatus struct {
	ID        int        `json:"id"`
	Busy      bool       `json:"busy"`
	Batch     *uuid.UUID `json:"batch,omitempty"`
	Item      string     `json:"item,omitempty"`
	Processed int        `json:"processed"`
}

// Observer receives scheduler lifecycle notifications, e.g. for metrics.
// Calls happen outside the scheduler lock and must not block for long.
type Observer interface {
	ItemStarted(batch uuid.UUID, index int)
	ItemFinished(batch uuid.UUID, index int, status Status, d time.Duration)
	BatchFinished(batch uuid.UUID, status BatchStatus, d time.Duration)
}

type nopObserver struct{}

func (nopObserver) ItemStarted(uuid.UUID, int)                          {}
func (nopObserver) ItemFinished(uuid.UUID, int, Status, time.Duration)  {}
func (nopObserver) BatchFinished(uuid.UUID, BatchStatus, time.Duration) {}
