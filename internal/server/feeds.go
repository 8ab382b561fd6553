package server

import (
	"sync"

	"github.com/MeKo-Tech/ticketocr/internal/scheduler"
	"github.com/google/uuid"
)

// subscriberBuffer bounds the events queued for one websocket client.
const subscriberBuffer = 16

// feedHub drains the scheduler's per-batch event channel and fans events out
// to any number of websocket subscribers. A slow subscriber loses progress
// events; the terminal event is always available through final.
type feedHub struct {
	mu    sync.Mutex
	feeds map[uuid.UUID]*feed
}

type feed struct {
	subs map[*subscriber]struct{}
}

type subscriber struct {
	ch chan scheduler.Event
	// final is set before ch is closed when the batch ended normally.
	final *scheduler.Event
}

func newFeedHub() *feedHub {
	return &feedHub{feeds: make(map[uuid.UUID]*feed)}
}

// track starts draining events for a freshly submitted batch.
func (h *feedHub) track(id uuid.UUID, events <-chan scheduler.Event) {
	h.mu.Lock()
	h.feeds[id] = &feed{subs: make(map[*subscriber]struct{})}
	h.mu.Unlock()
	go h.pump(id, events)
}

func (h *feedHub) pump(id uuid.UUID, events <-chan scheduler.Event) {
	var last *scheduler.Event
	for ev := range events {
		h.publish(id, ev)
		e := ev
		last = &e
	}
	h.finish(id, last)
}

func (h *feedHub) publish(id uuid.UUID, ev scheduler.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.feeds[id]
	if !ok {
		return
	}
	for sub := range f.subs {
		select {
		case sub.ch <- ev:
		default:
			websocketEventsDropped.Inc()
		}
	}
}

func (h *feedHub) finish(id uuid.UUID, last *scheduler.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.feeds[id]
	if !ok {
		return
	}
	delete(h.feeds, id)
	for sub := range f.subs {
		sub.final = last
		close(sub.ch)
	}
}

// subscribe registers a subscriber. It returns nil when the batch is not
// streaming, e.g. because it already finished.
func (h *feedHub) subscribe(id uuid.UUID) *subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	f, ok := h.feeds[id]
	if !ok {
		return nil
	}
	sub := &subscriber{ch: make(chan scheduler.Event, subscriberBuffer)}
	f.subs[sub] = struct{}{}
	return sub
}

func (h *feedHub) unsubscribe(id uuid.UUID, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if f, ok := h.feeds[id]; ok {
		delete(f.subs, sub)
	}
}

// active returns the number of batches currently streaming.
func (h *feedHub) active() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.feeds)
}

// closeAll ends every subscription without a final event.
func (h *feedHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, f := range h.feeds {
		for sub := range f.subs {
			close(sub.ch)
		}
		f.subs = make(map[*subscriber]struct{})
	}
}
