//go:build !notesseract

package tesseract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/ticketocr/internal/recognition"
	"github.com/otiai10/gosseract/v2"
)

// Engine recognizes text with Tesseract through gosseract. A fresh client is
// created per call because gosseract clients are not safe for concurrent use.
type Engine struct {
	tessdataPrefix string
	clientFactory  func() *gosseract.Client
}

// New constructs a Tesseract engine.
func New(opts ...Option) *Engine {
	e := &Engine{clientFactory: gosseract.NewClient}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Available reports whether this build links a real Tesseract backend.
func Available() bool { return true }

// Name implements recognition.Engine.
func (e *Engine) Name() string { return "tesseract" }

// Recognize implements recognition.Engine. The call is not interruptible
// once Tesseract starts; ctx is only checked before work begins.
func (e *Engine) Recognize(ctx context.Context, data []byte, opts recognition.Options) (*recognition.Result, error) {
	if len(data) == 0 {
		return nil, &recognition.Error{Engine: e.Name(), Op: "input", Err: recognition.ErrEmptyImage}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, &recognition.Error{Engine: e.Name(), Op: "options", Err: err}
	}

	start := time.Now()
	c := e.clientFactory()
	defer func() {
		if err := c.Close(); err != nil {
			slog.Debug("Failed to close tesseract client", "error", err)
		}
	}()

	if err := e.configure(c, opts); err != nil {
		return nil, &recognition.Error{Engine: e.Name(), Op: "configure", Err: err}
	}
	if err := c.SetImageFromBytes(data); err != nil {
		return nil, &recognition.Error{Engine: e.Name(), Op: "set image", Err: err}
	}

	text, err := c.Text()
	if err != nil {
		return nil, &recognition.Error{Engine: e.Name(), Op: "text", Err: err}
	}

	lineBoxes, err := c.GetBoundingBoxes(gosseract.RIL_TEXTLINE)
	if err != nil {
		return nil, &recognition.Error{Engine: e.Name(), Op: "line boxes", Err: err}
	}
	wordBoxes, err := c.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, &recognition.Error{Engine: e.Name(), Op: "word boxes", Err: err}
	}

	res := &recognition.Result{
		Text:     strings.TrimSpace(text),
		Lines:    assemble(lineBoxes, wordBoxes),
		Engine:   e.Name(),
		Duration: time.Since(start),
	}
	res.Confidence = meanWordConfidence(res.Lines)
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		res.Width, res.Height = cfg.Width, cfg.Height
	}
	return res, nil
}

func (e *Engine) configure(c *gosseract.Client, opts recognition.Options) error {
	if e.tessdataPrefix != "" {
		c.TessdataPrefix = e.tessdataPrefix
	}
	if langs := opts.Languages(); len(langs) > 0 {
		if err := c.SetLanguage(langs...); err != nil {
			return fmt.Errorf("set language: %w", err)
		}
	}
	if err := c.SetPageSegMode(gosseract.PageSegMode(opts.PageSegMode)); err != nil {
		return fmt.Errorf("set page segmentation mode: %w", err)
	}
	if opts.DPI > 0 {
		if err := c.SetVariable("user_defined_dpi", strconv.Itoa(opts.DPI)); err != nil {
			return fmt.Errorf("set dpi: %w", err)
		}
	}
	if opts.Whitelist != "" {
		if err := c.SetWhitelist(opts.Whitelist); err != nil {
			return fmt.Errorf("set whitelist: %w", err)
		}
	}
	if opts.Blacklist != "" {
		if err := c.SetBlacklist(opts.Blacklist); err != nil {
			return fmt.Errorf("set blacklist: %w", err)
		}
	}
	if opts.PreserveInterwordSpaces {
		if err := c.SetVariable("preserve_interword_spaces", "1"); err != nil {
			return fmt.Errorf("set preserve_interword_spaces: %w", err)
		}
	}
	return nil
}

// assemble groups word boxes under the line whose box contains the word's centre.
func assemble(lineBoxes, wordBoxes []gosseract.BoundingBox) []recognition.Line {
	lines := make([]recognition.Line, 0, len(lineBoxes))
	for _, lb := range lineBoxes {
		lines = append(lines, recognition.Line{
			Text:       strings.TrimSpace(lb.Word),
			Confidence: lb.Confidence,
			BBox:       recognition.BBoxFromRect(lb.Box),
		})
	}
	for _, wb := range wordBoxes {
		word := recognition.Word{
			Text:       strings.TrimSpace(wb.Word),
			Confidence: wb.Confidence,
			BBox:       recognition.BBoxFromRect(wb.Box),
		}
		if word.Text == "" {
			continue
		}
		centre := image.Pt((wb.Box.Min.X+wb.Box.Max.X)/2, (wb.Box.Min.Y+wb.Box.Max.Y)/2)
		placed := false
		for i := range lines {
			if centre.In(lines[i].BBox.Rect()) {
				lines[i].Words = append(lines[i].Words, word)
				placed = true
				break
			}
		}
		if !placed {
			lines = append(lines, recognition.Line{
				Text:       word.Text,
				Confidence: word.Confidence,
				BBox:       word.BBox,
				Words:      []recognition.Word{word},
			})
		}
	}
	return lines
}

func meanWordConfidence(lines []recognition.Line) float64 {
	var sum float64
	var n int
	for _, l := range lines {
		for _, w := range l.Words {
			sum += w.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
