package recognition

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ScriptedEngine is an in-memory Engine that replays configured results keyed
// by the raw input bytes. Tests use it in place of a real OCR backend.
type ScriptedEngine struct {
	mu       sync.Mutex
	byKey    map[string]scripted
	fallback *scripted
	calls    []string
	gate     chan struct{}
	delay    time.Duration
}

type scripted struct {
	result *Result
	err    error
}

// NewScriptedEngine creates an engine with no scripted responses.
func NewScriptedEngine() *ScriptedEngine {
	return &ScriptedEngine{byKey: make(map[string]scripted)}
}

// Name implements Engine.
func (e *ScriptedEngine) Name() string { return "scripted" }

// On scripts the result returned for input bytes equal to key.
func (e *ScriptedEngine) On(key string, res *Result) *ScriptedEngine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.byKey[key] = scripted{result: res}
	return e
}

// OnText scripts a result built from already recognized text.
func (e *ScriptedEngine) OnText(key, text string, confidence float64) *ScriptedEngine {
	return e.On(key, FromText(text, confidence))
}

// Fail scripts an error for input bytes equal to key.
func (e *ScriptedEngine) Fail(key string, err error) *ScriptedEngine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.byKey[key] = scripted{err: err}
	return e
}

// Default sets the result for inputs that have no scripted entry.
func (e *ScriptedEngine) Default(res *Result) *ScriptedEngine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fallback = &scripted{result: res}
	return e
}

// WithDelay makes every call take at least d.
func (e *ScriptedEngine) WithDelay(d time.Duration) *ScriptedEngine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.delay = d
	return e
}

// Hold makes calls block until the returned release function is called.
func (e *ScriptedEngine) Hold() (release func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	gate := make(chan struct{})
	e.gate = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Calls returns the inputs seen so far, in call order.
func (e *ScriptedEngine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.calls))
	copy(out, e.calls)
	return out
}

// Recognize implements Engine.
func (e *ScriptedEngine) Recognize(ctx context.Context, data []byte, opts Options) (*Result, error) {
	if len(data) == 0 {
		return nil, &Error{Engine: e.Name(), Op: "input", Err: ErrEmptyImage}
	}

	key := string(data)
	e.mu.Lock()
	e.calls = append(e.calls, key)
	entry, ok := e.byKey[key]
	if !ok && e.fallback != nil {
		entry, ok = *e.fallback, true
	}
	gate, delay := e.gate, e.delay
	e.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if !ok {
		return nil, &Error{Engine: e.Name(), Op: "recognize", Err: errors.New("no scripted result")}
	}
	if entry.err != nil {
		return nil, &Error{Engine: e.Name(), Op: "recognize", Err: entry.err}
	}
	res := *entry.result
	res.Engine = e.Name()
	return &res, nil
}
