// Package tesseract provides the Tesseract-backed recognition engine.
//
// The default build links libtesseract through gosseract (cgo). Builds that
// cannot link it can use the `notesseract` tag, which substitutes an engine
// that always fails with recognition.ErrNoBackend:
//
//	go build -tags=notesseract ./...
package tesseract

// Option configures an Engine.
type Option func(*Engine)

// WithTessdataPrefix points Tesseract at a custom tessdata directory.
func WithTessdataPrefix(path string) Option {
	return func(e *Engine) { e.tessdataPrefix = path }
}
