package scheduler

import "sync"

// outbox delivers one batch's events in order without blocking the
// scheduler. Pushes never block; a dispatcher goroutine feeds the channel.
// When the consumer falls behind by more than the buffer, consecutive
// progress events collapse into the newest snapshot. The terminal event is
// always delivered, after which the channel is closed.
type outbox struct {
	mu      sync.Mutex
	pending []Event
	limit   int
	closed  bool
	wake    chan struct{}
	ch      chan Event
}

func newOutbox(buffer int) *outbox {
	o := &outbox{
		limit: max(buffer, 1),
		wake:  make(chan struct{}, 1),
		ch:    make(chan Event, buffer),
	}
	go o.run()
	return o
}

func (o *outbox) push(ev Event) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	n := len(o.pending)
	if ev.Type == EventProgress && n >= o.limit && o.pending[n-1].Type == EventProgress {
		o.pending[n-1] = ev
	} else {
		o.pending = append(o.pending, ev)
	}
	if ev.Type.Terminal() {
		o.closed = true
	}
	o.mu.Unlock()

	select {
	case o.wake <- struct{}{}:
	default:
	}
}

func (o *outbox) run() {
	defer close(o.ch)
	for range o.wake {
		o.mu.Lock()
		events := o.pending
		o.pending = nil
		o.mu.Unlock()

		for _, ev := range events {
			o.ch <- ev
			if ev.Type.Terminal() {
				return
			}
		}
	}
}
