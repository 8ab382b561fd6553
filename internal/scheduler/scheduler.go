// Package scheduler runs ticket batches on a fixed pool of workers.
//
// Items from all batches share one FIFO queue, so batches drain in
// submission order while items within a batch complete in any order. All
// item and batch state lives behind a single mutex; workers only report
// through scheduler methods. Each batch has its own event channel that
// receives a full snapshot after every item transition and is closed after
// the terminal completed or cancelled event.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MeKo-Tech/ticketocr/internal/pipeline"
	"github.com/google/uuid"
)

var (
	// ErrNotRunning is returned by Submit before Start or after Shutdown.
	ErrNotRunning = errors.New("scheduler: not running")
	// ErrEmptyBatch is returned by Submit for a batch without items.
	ErrEmptyBatch = errors.New("scheduler: empty batch")
	// ErrUnknownBatch is returned for ids that were never submitted or have
	// been evicted.
	ErrUnknownBatch = errors.New("scheduler: unknown batch")
	// ErrAlreadyStarted is returned by a second Start call.
	ErrAlreadyStarted = errors.New("scheduler: already started")
)

// Defaults.
const (
	DefaultWorkers     = 3
	DefaultEventBuffer = 32
	DefaultRetention   = 100
)

type runState int

const (
	stateIdle runState = iota
	stateRunning
	stateStopping
	stateStopped
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithWorkers sets the pool size.
func WithWorkers(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithEventBuffer sets the capacity of each batch event channel.
func WithEventBuffer(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.eventBuffer = n
		}
	}
}

// WithRetention sets how many finished batches stay queryable.
func WithRetention(n int) Option {
	return func(s *Scheduler) {
		if n >= 0 {
			s.retention = n
		}
	}
}

// WithObserver installs a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		if o != nil {
			s.observer = o
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

type job struct {
	b     *batch
	index int
}

type batch struct {
	id        uuid.UUID
	status    BatchStatus
	items     []ItemState
	data      [][]byte
	submitted time.Time
	finished  *time.Time
	remaining int
	out       *outbox
}

func (b *batch) snapshot() Snapshot {
	snap := Snapshot{
		ID:          b.id,
		Status:      b.status,
		Items:       slices.Clone(b.items),
		SubmittedAt: b.submitted,
		FinishedAt:  b.finished,
	}
	return snap
}

// Scheduler owns the worker pool, the queue, and all batch state.
type Scheduler struct {
	proc        Processor
	workers     int
	eventBuffer int
	retention   int
	observer    Observer
	logger      *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	state    runState
	queue    []job
	batches  map[uuid.UUID]*batch
	active   []uuid.UUID
	retired  []uuid.UUID
	workerSt []WorkerStatus

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler. It does not process anything until Start.
func New(proc Processor, opts ...Option) *Scheduler {
	s := &Scheduler{
		proc:        proc,
		workers:     DefaultWorkers,
		eventBuffer: DefaultEventBuffer,
		retention:   DefaultRetention,
		observer:    nopObserver{},
		logger:      slog.Default(),
		batches:     make(map[uuid.UUID]*batch),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cond = sync.NewCond(&s.mu)
	s.workerSt = make([]WorkerStatus, s.workers)
	for i := range s.workerSt {
		s.workerSt[i].ID = i
	}
	return s
}

// Workers returns the pool size.
func (s *Scheduler) Workers() int { return s.workers }

// Start launches the workers. Cancelling ctx stops the scheduler: queued
// items of every open batch are dropped and those batches are cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateIdle {
		return ErrAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.state = stateRunning
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	go s.watch()
	s.logger.Info("scheduler started", "workers", s.workers)
	return nil
}

func (s *Scheduler) watch() {
	<-s.ctx.Done()
	s.abort()
}

// abort cancels every open batch and wakes idle workers so they exit.
func (s *Scheduler) abort() {
	var finished []*batch
	s.mu.Lock()
	if s.state == stateRunning {
		s.state = stateStopping
	}
	for _, id := range slices.Clone(s.active) {
		if b := s.batches[id]; b != nil && s.cancelLocked(b) {
			finished = append(finished, b)
		}
	}
	s.cond.Broadcast()
	s.mu.Unlock()
	for _, b := range finished {
		s.observer.BatchFinished(b.id, BatchCancelled, b.finished.Sub(b.submitted))
	}
}

// Submit enqueues a batch and returns immediately. The returned channel
// receives progress events and is closed after the terminal event; callers
// should drain it. A snapshot is emitted after every transition, but when the
// consumer falls more than the event buffer behind, consecutive progress
// snapshots collapse into the newest one; the terminal event is never
// dropped.
func (s *Scheduler) Submit(items []Item) (uuid.UUID, <-chan Event, error) {
	if len(items) == 0 {
		return uuid.Nil, nil, ErrEmptyBatch
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateRunning {
		return uuid.Nil, nil, ErrNotRunning
	}

	b := &batch{
		id:        uuid.New(),
		status:    BatchSubmitted,
		items:     make([]ItemState, len(items)),
		data:      make([][]byte, len(items)),
		submitted: time.Now(),
		remaining: len(items),
		out:       newOutbox(s.eventBuffer),
	}
	for i, it := range items {
		name := it.Name
		if name == "" {
			name = fmt.Sprintf("item-%d", i+1)
		}
		b.items[i] = ItemState{Index: i, Name: name, Status: StatusQueued}
		b.data[i] = it.Data
		s.queue = append(s.queue, job{b: b, index: i})
	}
	s.batches[b.id] = b
	s.active = append(s.active, b.id)
	s.emitLocked(b, EventProgress)
	s.cond.Broadcast()

	s.logger.Info("batch submitted", "batch", b.id, "items", len(items), "queue_length", len(s.queue))
	return b.id, b.out.ch, nil
}

// Cancel drops the queued items of a batch and marks it cancelled. Items
// already processing run to completion and their results are discarded.
// It reports whether this call cancelled the batch; cancelling a finished or
// unknown batch is a no-op.
func (s *Scheduler) Cancel(id uuid.UUID) bool {
	s.mu.Lock()
	b, ok := s.batches[id]
	if !ok || !s.cancelLocked(b) {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	s.observer.BatchFinished(b.id, BatchCancelled, b.finished.Sub(b.submitted))
	return true
}

func (s *Scheduler) cancelLocked(b *batch) bool {
	if b.status.Finished() {
		return false
	}
	removed := 0
	kept := s.queue[:0]
	for _, j := range s.queue {
		if j.b == b {
			b.items[j.index].Removed = true
			b.data[j.index] = nil
			removed++
			continue
		}
		kept = append(kept, j)
	}
	clear(s.queue[len(kept):])
	s.queue = kept
	b.remaining -= removed

	now := time.Now()
	b.status = BatchCancelled
	b.finished = &now
	s.emitLocked(b, EventCancelled)
	s.retireLocked(b)
	s.logger.Info("batch cancelled", "batch", b.id, "removed", removed)
	return true
}

// Snapshot returns the current state of a batch.
func (s *Scheduler) Snapshot(id uuid.UUID) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrUnknownBatch, id)
	}
	return b.snapshot(), nil
}

// QueueStatus summarizes the queue and the pool.
func (s *Scheduler) QueueStatus() QueueStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	busy := 0
	for _, w := range s.workerSt {
		if w.Busy {
			busy++
		}
	}
	return QueueStatus{
		QueueLength:   len(s.queue),
		Processing:    busy > 0 || len(s.queue) > 0,
		ActiveBatches: slices.Clone(s.active),
		WorkersBusy:   busy,
		Workers:       s.workers,
	}
}

// WorkerStatus returns the state of every worker.
func (s *Scheduler) WorkerStatus() []WorkerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WorkerStatus, len(s.workerSt))
	for i, w := range s.workerSt {
		out[i] = w
		if w.Batch != nil {
			id := *w.Batch
			out[i].Batch = &id
		}
	}
	return out
}

// Shutdown stops accepting batches and waits for queued work to drain. If
// ctx expires first, open batches are cancelled, in-flight processing is
// signalled through its context, and ctx.Err() is returned once workers exit.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case stateIdle:
		s.state = stateStopped
		s.mu.Unlock()
		return nil
	case stateRunning:
		s.state = stateStopping
	}
	s.cond.Broadcast()
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		s.abort()
		s.cancel()
		<-done
	}
	s.cancel()

	s.mu.Lock()
	s.state = stateStopped
	s.mu.Unlock()
	s.logger.Info("scheduler stopped", "error", err)
	return err
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && s.state == stateRunning {
			s.cond.Wait()
		}
		if len(s.queue) == 0 || s.ctx.Err() != nil {
			s.mu.Unlock()
			return
		}
		j := s.queue[0]
		s.queue[0] = job{}
		s.queue = s.queue[1:]

		b, idx := j.b, j.index
		it := &b.items[idx]
		started := time.Now()
		it.Status = StatusProcessing
		it.Started = &started
		if b.status == BatchSubmitted {
			b.status = BatchRunning
		}
		name, data := it.Name, b.data[idx]
		batchID := b.id
		s.workerSt[id].Busy = true
		s.workerSt[id].Batch = &batchID
		s.workerSt[id].Item = name
		s.emitLocked(b, EventProgress)
		s.mu.Unlock()

		s.observer.ItemStarted(batchID, idx)
		ctx := pipeline.WithStageFunc(s.ctx, func(st pipeline.Stage) { s.advance(b, idx, st.Progress()) })
		res, err := s.run(ctx, name, data)
		s.finish(id, b, idx, res, err, started)
	}
}

func (s *Scheduler) run(ctx context.Context, name string, data []byte) (res *pipeline.TicketResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res, err = nil, fmt.Errorf("processor panic: %v", r)
		}
	}()
	return s.proc.Process(ctx, name, data)
}

// advance records in-flight progress reported by the pipeline.
func (s *Scheduler) advance(b *batch, idx, progress int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it := &b.items[idx]
	if it.Status != StatusProcessing || b.status.Finished() || progress <= it.Progress {
		return
	}
	it.Progress = min(progress, 99)
	s.emitLocked(b, EventProgress)
}

func (s *Scheduler) finish(worker int, b *batch, idx int, res *pipeline.TicketResult, err error, started time.Time) {
	s.mu.Lock()
	now := time.Now()
	w := &s.workerSt[worker]
	w.Busy, w.Batch, w.Item = false, nil, ""
	w.Processed++

	it := &b.items[idx]
	it.Finished = &now
	b.data[idx] = nil
	status := StatusCompleted
	if err != nil {
		status = StatusFailed
		it.Status, it.Progress, it.Error = StatusFailed, 0, err.Error()
	} else {
		it.Status, it.Progress = StatusCompleted, 100
	}

	if b.status == BatchCancelled {
		// Results of a cancelled batch are discarded and nobody is listening.
		s.mu.Unlock()
		s.observer.ItemFinished(b.id, idx, status, now.Sub(started))
		return
	}
	if err == nil {
		it.Result = res
	}
	b.remaining--
	s.emitLocked(b, EventProgress)

	drained := b.remaining == 0
	if drained {
		b.status = BatchDrained
		b.finished = &now
		s.emitLocked(b, EventCompleted)
		s.retireLocked(b)
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("ticket failed", "batch", b.id, "item", it.Name, "error", err)
	} else {
		s.logger.Debug("ticket completed", "batch", b.id, "item", idx, "duration", now.Sub(started).Round(time.Millisecond))
	}
	s.observer.ItemFinished(b.id, idx, status, now.Sub(started))
	if drained {
		s.logger.Info("batch drained", "batch", b.id, "duration", now.Sub(b.submitted).Round(time.Millisecond))
		s.observer.BatchFinished(b.id, BatchDrained, now.Sub(b.submitted))
	}
}

// retireLocked moves a finished batch out of the active list and evicts the
// oldest finished batches beyond the retention limit.
func (s *Scheduler) retireLocked(b *batch) {
	s.active = slices.DeleteFunc(s.active, func(id uuid.UUID) bool { return id == b.id })
	s.retired = append(s.retired, b.id)
	for len(s.retired) > s.retention {
		delete(s.batches, s.retired[0])
		s.retired = s.retired[1:]
	}
}

func (s *Scheduler) emitLocked(b *batch, t EventType) {
	b.out.push(Event{Type: t, Batch: b.snapshot()})
}
