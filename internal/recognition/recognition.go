// Package recognition defines the boundary to the external OCR engine:
// recognition options, the hierarchical text geometry an engine returns, and
// the Engine interface implemented by concrete backends.
package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"time"
)

// Page segmentation modes used by the ticket pipeline. Values follow Tesseract.
const (
	PSMAuto         = 3
	PSMSingleColumn = 4
	PSMSingleBlock  = 6
	PSMSparseText   = 11
)

var (
	// ErrNoBackend is returned when no OCR engine is linked into the binary.
	ErrNoBackend = errors.New("recognition: no OCR backend linked; build without -tags=notesseract")
	// ErrEmptyImage is returned for zero-length input.
	ErrEmptyImage = errors.New("recognition: empty image data")
)

// Options configures a single recognition call.
type Options struct {
	Language                string `json:"language"`
	PageSegMode             int    `json:"psm"`
	EngineMode              int    `json:"oem"`
	DPI                     int    `json:"dpi"`
	Whitelist               string `json:"whitelist,omitempty"`
	Blacklist               string `json:"blacklist,omitempty"`
	PreserveInterwordSpaces bool   `json:"preserve_interword_spaces"`
}

// DefaultOptions returns the settings used for delivery tickets.
func DefaultOptions() Options {
	return Options{
		Language:                "eng",
		PageSegMode:             PSMSingleBlock,
		EngineMode:              3,
		DPI:                     300,
		PreserveInterwordSpaces: true,
	}
}

// Validate checks option ranges.
func (o Options) Validate() error {
	if strings.TrimSpace(o.Language) == "" {
		return errors.New("language must not be empty")
	}
	if o.PageSegMode < 0 || o.PageSegMode > 13 {
		return fmt.Errorf("invalid page segmentation mode %d (must be 0-13)", o.PageSegMode)
	}
	if o.EngineMode < 0 || o.EngineMode > 3 {
		return fmt.Errorf("invalid engine mode %d (must be 0-3)", o.EngineMode)
	}
	if o.DPI < 0 {
		return fmt.Errorf("invalid dpi %d", o.DPI)
	}
	return nil
}

// Languages splits a "eng+spa" style language string.
func (o Options) Languages() []string {
	parts := strings.FieldsFunc(o.Language, func(r rune) bool { return r == '+' || r == ',' })
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// BBox is a pixel bounding box.
type BBox struct {
	X0 int `json:"x0"`
	Y0 int `json:"y0"`
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
}

// BBoxFromRect converts an image rectangle.
func BBoxFromRect(r image.Rectangle) BBox {
	return BBox{X0: r.Min.X, Y0: r.Min.Y, X1: r.Max.X, Y1: r.Max.Y}
}

// Rect returns the box as an image rectangle.
func (b BBox) Rect() image.Rectangle {
	return image.Rect(b.X0, b.Y0, b.X1, b.Y1)
}

// Word is one recognized word with the engine's confidence (0-100).
type Word struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
}

// Line is one recognized text line.
type Line struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	BBox       BBox    `json:"bbox"`
	Words      []Word  `json:"words,omitempty"`
}

// Result is the full output of one recognition call.
type Result struct {
	Text       string        `json:"text"`
	Confidence float64       `json:"confidence"`
	Lines      []Line        `json:"lines,omitempty"`
	Engine     string        `json:"engine"`
	Width      int           `json:"width,omitempty"`
	Height     int           `json:"height,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
}

// WordCount returns the number of words across all lines.
func (r *Result) WordCount() int {
	n := 0
	for _, l := range r.Lines {
		n += len(l.Words)
	}
	return n
}

// Engine is an OCR backend. Implementations must be safe for concurrent use.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, data []byte, opts Options) (*Result, error)
}

// Error wraps a backend failure for a single image.
type Error struct {
	Engine string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("recognition failed in %s (%s): %v", e.Op, e.Engine, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// FromText builds a Result for text that was recognized elsewhere. Every line
// and word receives the same confidence and no geometry.
func FromText(text string, confidence float64) *Result {
	res := &Result{Text: text, Confidence: confidence, Engine: "text"}
	for _, raw := range strings.Split(text, "\n") {
		raw = strings.TrimRight(raw, "\r")
		if strings.TrimSpace(raw) == "" {
			continue
		}
		line := Line{Text: raw, Confidence: confidence}
		for _, w := range strings.Fields(raw) {
			line.Words = append(line.Words, Word{Text: w, Confidence: confidence})
		}
		res.Lines = append(res.Lines, line)
	}
	return res
}
