// Package batch runs ticket files from the command line through the
// scheduler: it discovers files, expands PDFs into pages, reports progress,
// and formats the collected results.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MeKo-Tech/ticketocr/internal/pipeline"
	"github.com/MeKo-Tech/ticketocr/internal/scheduler"
	"github.com/google/uuid"
)

// ErrNoFiles is returned when nothing was found to process.
var ErrNoFiles = errors.New("no ticket files found")

// Scheduler is the part of the batch scheduler a run needs.
type Scheduler interface {
	Submit(items []scheduler.Item) (uuid.UUID, <-chan scheduler.Event, error)
	Cancel(id uuid.UUID) bool
}

// TextProcessor extracts fields from already recognized text.
type TextProcessor interface {
	ProcessText(ctx context.Context, name, text string) *pipeline.TicketResult
}

// Entry is the outcome for one ticket.
type Entry struct {
	Source    string                 `json:"source"`
	Name      string                 `json:"name"`
	Page      int                    `json:"page,omitempty"`
	Status    scheduler.Status       `json:"status"`
	TextLayer bool                   `json:"text_layer,omitempty"`
	Removed   bool                   `json:"removed,omitempty"`
	Result    *pipeline.TicketResult `json:"result,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Result holds the outcome of a batch run in input order.
type Result struct {
	BatchID   uuid.UUID     `json:"batch_id"`
	Entries   []Entry       `json:"tickets"`
	Cancelled bool          `json:"cancelled,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
}

// Counts tallies entries.
func (r *Result) Counts() (completed, failed, skipped, unverified int) {
	for _, e := range r.Entries {
		switch {
		case e.Removed:
			skipped++
		case e.Status == scheduler.StatusCompleted:
			completed++
			if e.Result != nil && e.Result.NeedsVerification {
				unverified++
			}
		case e.Status == scheduler.StatusFailed:
			failed++
		}
	}
	return completed, failed, skipped, unverified
}

// Run processes files as one batch. Text-layer pages are handled inline,
// everything else is submitted to sched. Cancelling ctx cancels the batch;
// the partial result is returned together with ctx.Err().
func Run(ctx context.Context, sched Scheduler, proc TextProcessor, files []string,
	cfg *Config, progress pipeline.ProgressCallback) (*Result, error) {
	if progress == nil {
		progress = pipeline.NoOpProgressCallback{}
	}

	inputs := LoadInputs(files, cfg)
	if len(inputs) == 0 {
		return nil, ErrNoFiles
	}

	start := time.Now()
	res := &Result{Entries: make([]Entry, len(inputs))}
	total := len(inputs)
	progress.OnStart(total)

	var items []scheduler.Item
	var slots []int
	done := 0
	for i, in := range inputs {
		e := Entry{Source: in.Source, Name: in.Name, Page: in.Page, Status: scheduler.StatusQueued}
		switch {
		case in.Err != nil:
			e.Status = scheduler.StatusFailed
			e.Error = in.Err.Error()
			progress.OnError(in.Name, in.Err)
			done++
		case in.TextLayer():
			e.TextLayer = true
			e.Result = proc.ProcessText(ctx, in.Name, in.Text)
			e.Status = scheduler.StatusCompleted
			done++
		default:
			items = append(items, scheduler.Item{Name: in.Name, Data: in.Data})
			slots = append(slots, i)
		}
		res.Entries[i] = e
	}
	progress.OnProgress(done, total)

	var runErr error
	if len(items) > 0 {
		id, events, err := sched.Submit(items)
		if err != nil {
			progress.OnComplete()
			return nil, fmt.Errorf("submit batch: %w", err)
		}
		res.BatchID = id
		runErr = follow(ctx, sched, id, events, res, slots, done, total, progress)
	}

	progress.OnComplete()
	res.Duration = time.Since(start)
	return res, runErr
}

// follow consumes batch events until the channel closes and copies the final
// item states into res.
func follow(ctx context.Context, sched Scheduler, id uuid.UUID, events <-chan scheduler.Event,
	res *Result, slots []int, offset, total int, progress pipeline.ProgressCallback) error {
	reported := make(map[int]bool)
	cancelled := ctx.Done()
	var ctxErr error
	var last scheduler.Snapshot

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				apply(res, slots, last)
				return ctxErr
			}
			last = ev.Batch
			for _, it := range ev.Batch.Items {
				if it.Status == scheduler.StatusFailed && !reported[it.Index] {
					reported[it.Index] = true
					progress.OnError(it.Name, errors.New(it.Error))
				}
			}
			progress.OnProgress(offset+ev.Batch.Done(), total)
			if ev.Type == scheduler.EventCancelled {
				res.Cancelled = true
			}
		case <-cancelled:
			ctxErr = ctx.Err()
			cancelled = nil
			sched.Cancel(id)
		}
	}
}

func apply(res *Result, slots []int, snap scheduler.Snapshot) {
	for _, it := range snap.Items {
		if it.Index >= len(slots) {
			continue
		}
		e := &res.Entries[slots[it.Index]]
		e.Status = it.Status
		e.Result = it.Result
		e.Error = it.Error
		e.Removed = it.Removed
		if it.Removed {
			e.Error = "cancelled before processing"
		}
	}
}
