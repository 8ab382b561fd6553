//go:build notesseract

package tesseract

import (
	"context"

	"github.com/MeKo-Tech/ticketocr/internal/recognition"
)

// Engine is the placeholder used when Tesseract is not linked.
type Engine struct {
	tessdataPrefix string
}

// New constructs the placeholder engine.
func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Available reports whether this build links a real Tesseract backend.
func Available() bool { return false }

// Name implements recognition.Engine.
func (e *Engine) Name() string { return "tesseract" }

// Recognize always fails with recognition.ErrNoBackend.
func (e *Engine) Recognize(_ context.Context, _ []byte, _ recognition.Options) (*recognition.Result, error) {
	return nil, &recognition.Error{Engine: e.Name(), Op: "recognize", Err: recognition.ErrNoBackend}
}
