package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressCallback receives batch progress: how many tickets have finished
// out of how many were submitted.
type ProgressCallback interface {
	OnStart(total int)
	// OnProgress is called whenever the finished count changes.
	OnProgress(done, total int)
	// OnComplete is called once, also for an interrupted batch.
	OnComplete()
	// OnError is called for each failed ticket.
	OnError(name string, err error)
}

// NoOpProgressCallback implements ProgressCallback but does nothing.
type NoOpProgressCallback struct{}

func (NoOpProgressCallback) OnStart(int)           {}
func (NoOpProgressCallback) OnProgress(int, int)   {}
func (NoOpProgressCallback) OnComplete()           {}
func (NoOpProgressCallback) OnError(string, error) {}

// ConsoleProgressCallback redraws a single-line bar on a terminal. Redraws
// are throttled; the last one is not.
type ConsoleProgressCallback struct {
	mu       sync.Mutex
	out      io.Writer
	label    string
	cells    int
	every    time.Duration
	rate     bool
	began    time.Time
	lastDraw time.Time
}

// NewConsoleProgressCallback writes to w, or stderr when w is nil. label
// prefixes every line.
func NewConsoleProgressCallback(w io.Writer, label string) *ConsoleProgressCallback {
	if w == nil {
		w = os.Stderr
	}
	return &ConsoleProgressCallback{out: w, label: label, cells: 40, every: 100 * time.Millisecond, rate: true}
}

// WithWidth sets the number of bar cells.
func (c *ConsoleProgressCallback) WithWidth(cells int) *ConsoleProgressCallback {
	c.cells = cells
	return c
}

// WithUpdateInterval sets the minimum time between redraws.
func (c *ConsoleProgressCallback) WithUpdateInterval(d time.Duration) *ConsoleProgressCallback {
	c.every = d
	return c
}

// WithRate toggles the tickets-per-second suffix.
func (c *ConsoleProgressCallback) WithRate(show bool) *ConsoleProgressCallback {
	c.rate = show
	return c
}

func (c *ConsoleProgressCallback) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.out, format, args...)
}

func (c *ConsoleProgressCallback) OnStart(total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.began, c.lastDraw = time.Now(), time.Time{}
	c.printf("%s0/%d tickets\n", c.label, total)
}

func (c *ConsoleProgressCallback) OnProgress(done, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if total <= 0 {
		return
	}
	now := time.Now()
	if done < total && now.Sub(c.lastDraw) < c.every {
		return
	}
	c.lastDraw = now

	full := c.cells * done / total
	line := fmt.Sprintf("\r%s[%s%s] %d/%d (%.1f%%)", c.label,
		strings.Repeat("█", full), strings.Repeat("░", c.cells-full),
		done, total, 100*float64(done)/float64(total))
	if secs := now.Sub(c.began).Seconds(); c.rate && done > 0 && secs > 0 {
		line += fmt.Sprintf(" %.1f/s", float64(done)/secs)
	}
	c.printf("%s", line)
}

func (c *ConsoleProgressCallback) OnComplete() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.printf("\n%sdone in %v\n", c.label, time.Since(c.began).Round(time.Millisecond))
}

func (c *ConsoleProgressCallback) OnError(name string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.printf("\n%s%s failed: %v\n", c.label, name, err)
}

// LogProgressCallback writes progress to a slog logger every step tickets
// and when the batch is complete. Failures are always logged at error level.
type LogProgressCallback struct {
	log    *slog.Logger
	level  slog.Level
	step   int
	logged int
	began  time.Time
}

// NewLogProgressCallback creates a log reporter. A nil logger selects the
// default logger; a non-positive step selects 10.
func NewLogProgressCallback(logger *slog.Logger, level slog.Level, step int) *LogProgressCallback {
	if logger == nil {
		logger = slog.Default()
	}
	if step <= 0 {
		step = 10
	}
	return &LogProgressCallback{log: logger, level: level, step: step}
}

func (l *LogProgressCallback) emit(msg string, args ...any) {
	l.log.Log(context.Background(), l.level, msg, args...)
}

func (l *LogProgressCallback) elapsed() time.Duration {
	return time.Since(l.began).Round(time.Millisecond)
}

func (l *LogProgressCallback) OnStart(total int) {
	l.began, l.logged = time.Now(), 0
	l.emit("batch started", "total", total)
}

func (l *LogProgressCallback) OnProgress(done, total int) {
	if done != total && done-l.logged < l.step {
		return
	}
	l.logged = done
	l.emit("batch progress", "done", done, "total", total, "elapsed", l.elapsed())
}

func (l *LogProgressCallback) OnComplete() {
	l.emit("batch finished", "elapsed", l.elapsed())
}

func (l *LogProgressCallback) OnError(name string, err error) {
	l.log.Error("ticket failed", "name", name, "error", err)
}

// MultiProgressCallback forwards every call to each of its callbacks, in
// order.
type MultiProgressCallback []ProgressCallback

// NewMultiProgressCallback combines callbacks.
func NewMultiProgressCallback(callbacks ...ProgressCallback) MultiProgressCallback {
	return MultiProgressCallback(callbacks)
}

// Add appends a callback.
func (m *MultiProgressCallback) Add(cb ProgressCallback) {
	*m = append(*m, cb)
}

func (m MultiProgressCallback) OnStart(total int) {
	for _, cb := range m {
		cb.OnStart(total)
	}
}

func (m MultiProgressCallback) OnProgress(done, total int) {
	for _, cb := range m {
		cb.OnProgress(done, total)
	}
}

func (m MultiProgressCallback) OnComplete() {
	for _, cb := range m {
		cb.OnComplete()
	}
}

func (m MultiProgressCallback) OnError(name string, err error) {
	for _, cb := range m {
		cb.OnError(name, err)
	}
}
