package pipeline

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNoOpProgressCallback(t *testing.T) {
	callback := NoOpProgressCallback{}
	callback.OnStart(10)
	callback.OnProgress(5, 10)
	callback.OnError("a.png", assert.AnError)
	callback.OnComplete()
}

func TestConsoleProgressCallback(t *testing.T) {
	var buf bytes.Buffer
	callback := NewConsoleProgressCallback(&buf, "tickets: ").WithUpdateInterval(0)

	callback.OnStart(4)
	assert.Contains(t, buf.String(), "tickets: 0/4 tickets")

	buf.Reset()
	callback.OnProgress(2, 4)
	assert.Contains(t, buf.String(), "2/4")
	assert.Contains(t, buf.String(), "50.0%")

	buf.Reset()
	callback.OnError("b.png", assert.AnError)
	assert.Contains(t, buf.String(), "b.png failed")

	buf.Reset()
	callback.OnComplete()
	assert.Contains(t, buf.String(), "tickets: done in")
}

func TestConsoleProgressCallbackThrottles(t *testing.T) {
	var buf bytes.Buffer
	callback := NewConsoleProgressCallback(&buf, "").WithUpdateInterval(time.Hour).WithWidth(10).WithRate(false)
	callback.OnStart(3)
	buf.Reset()

	callback.OnProgress(1, 3)
	callback.OnProgress(2, 3)
	assert.Equal(t, 1, strings.Count(buf.String(), "\r"), "second update is throttled")

	callback.OnProgress(3, 3)
	assert.Equal(t, 2, strings.Count(buf.String(), "\r"), "final update always drawn")
	assert.Contains(t, buf.String(), "██████████")
}

func TestLogProgressCallback(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	callback := NewLogProgressCallback(logger, slog.LevelInfo, 2)

	callback.OnStart(3)
	callback.OnProgress(1, 3)
	callback.OnProgress(2, 3)
	callback.OnProgress(3, 3)
	callback.OnError("c.png", assert.AnError)
	callback.OnComplete()

	out := buf.String()
	assert.Contains(t, out, "batch started")
	assert.Equal(t, 2, strings.Count(out, "batch progress"))
	assert.Contains(t, out, "name=c.png")
	assert.Contains(t, out, "batch finished")
}

type countingCallback struct {
	starts, progress, completes, errors int
}

func (c *countingCallback) OnStart(int)           { c.starts++ }
func (c *countingCallback) OnProgress(int, int)   { c.progress++ }
func (c *countingCallback) OnComplete()           { c.completes++ }
func (c *countingCallback) OnError(string, error) { c.errors++ }

func TestMultiProgressCallback(t *testing.T) {
	a, b := &countingCallback{}, &countingCallback{}
	multi := NewMultiProgressCallback(a)
	multi.Add(b)

	multi.OnStart(2)
	multi.OnProgress(1, 2)
	multi.OnError("x", assert.AnError)
	multi.OnComplete()

	for _, c := range []*countingCallback{a, b} {
		assert.Equal(t, countingCallback{1, 1, 1, 1}, *c)
	}
}
