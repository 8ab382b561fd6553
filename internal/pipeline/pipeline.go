package pipeline

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/MeKo-Tech/ticketocr/internal/barcode"
	"github.com/MeKo-Tech/ticketocr/internal/extract"
	"github.com/MeKo-Tech/ticketocr/internal/fields"
	"github.com/MeKo-Tech/ticketocr/internal/fusion"
	"github.com/MeKo-Tech/ticketocr/internal/locator"
	"github.com/MeKo-Tech/ticketocr/internal/recognition"
)

// ErrNoEngine is returned by Process when the processor was built without a
// recognition engine.
var ErrNoEngine = errors.New("no recognition engine configured")

// TextConfidence is the word confidence assumed for text that was recognized
// elsewhere and handed in as plain text.
const TextConfidence = 80.0

// BarcodeConfidence is assigned to a ticket number read from a barcode.
// Symbols carry their own checksum.
const BarcodeConfidence = 99.0

// Config holds configuration for the ticket pipeline.
type Config struct {
	Recognition recognition.Options
	// Preprocess applies the triage suggestion before recognition when the
	// image is flagged.
	Preprocess bool
	// ForcePreprocess applies default corrections even to unflagged images.
	ForcePreprocess       bool
	VerificationThreshold float64
	// Barcodes scans images for symbols and uses a decoded ticket number
	// in place of the recognized one.
	Barcodes bool
	// BarcodeFormats restricts the symbologies tried. Empty means all.
	BarcodeFormats []barcode.Format
}

// DefaultConfig returns the default pipeline config.
func DefaultConfig() Config {
	return Config{
		Recognition:           recognition.DefaultOptions(),
		Preprocess:            true,
		VerificationThreshold: fusion.DefaultVerificationThreshold,
	}
}

// Builder constructs a Processor with fluent configuration.
type Builder struct {
	cfg     Config
	engine  recognition.Engine
	catalog *fields.Catalog
	loc     *locator.Locator
	fus     *fusion.Engine
	codes   barcode.Decoder
	logger  *slog.Logger
}

// NewBuilder creates a new pipeline builder with defaults.
func NewBuilder() *Builder { return &Builder{cfg: DefaultConfig()} }

// WithEngine sets the recognition engine.
func (b *Builder) WithEngine(e recognition.Engine) *Builder {
	b.engine = e
	return b
}

// WithCatalog sets the field catalog shared by the extractor and locator.
func (b *Builder) WithCatalog(c *fields.Catalog) *Builder {
	b.catalog = c
	return b
}

// WithLocator sets the heuristic locator.
func (b *Builder) WithLocator(l *locator.Locator) *Builder {
	b.loc = l
	return b
}

// WithFusion sets the fusion engine.
func (b *Builder) WithFusion(f *fusion.Engine) *Builder {
	b.fus = f
	return b
}

// WithRecognitionOptions sets the base OCR options.
func (b *Builder) WithRecognitionOptions(o recognition.Options) *Builder {
	b.cfg.Recognition = o
	return b
}

// WithPreprocessing enables or disables triage-driven preprocessing.
func (b *Builder) WithPreprocessing(enabled bool) *Builder {
	b.cfg.Preprocess = enabled
	return b
}

// WithForcedPreprocessing preprocesses every image, flagged or not.
func (b *Builder) WithForcedPreprocessing(enabled bool) *Builder {
	b.cfg.ForcePreprocess = enabled
	return b
}

// WithVerificationThreshold sets the confidence under which a ticket or
// field is flagged for manual verification.
func (b *Builder) WithVerificationThreshold(t float64) *Builder {
	b.cfg.VerificationThreshold = t
	return b
}

// WithBarcodes enables or disables the barcode scan.
func (b *Builder) WithBarcodes(enabled bool, formats ...barcode.Format) *Builder {
	b.cfg.Barcodes = enabled
	b.cfg.BarcodeFormats = formats
	return b
}

// WithBarcodeDecoder sets the decoder used for the barcode scan and enables
// it.
func (b *Builder) WithBarcodeDecoder(d barcode.Decoder) *Builder {
	b.codes = d
	b.cfg.Barcodes = d != nil
	return b
}

// WithLogger sets the logger. Defaults to slog.Default().
func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// Config returns a copy of the current config.
func (b *Builder) Config() Config { return b.cfg }

// Validate checks that the configuration looks sane.
func (b *Builder) Validate() error {
	if err := b.cfg.Recognition.Validate(); err != nil {
		return fmt.Errorf("recognition options: %w", err)
	}
	if b.cfg.VerificationThreshold < 0 || b.cfg.VerificationThreshold > 100 {
		return fmt.Errorf("verification threshold must be within [0,100], got %v", b.cfg.VerificationThreshold)
	}
	return nil
}

// Processor runs the per-image ticket pipeline. It is safe for concurrent use
// when its engine is.
type Processor struct {
	cfg       Config
	engine    recognition.Engine
	extractor *extract.Extractor
	locator   *locator.Locator
	fusion    *fusion.Engine
	barcodes  barcode.Decoder
	logger    *slog.Logger
}

// Build assembles the Processor. A missing engine is allowed; such a
// processor can only handle text.
func (b *Builder) Build() (*Processor, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	catalog := b.catalog
	if catalog == nil {
		catalog = fields.DefaultCatalog()
	}
	loc := b.loc
	if loc == nil {
		loc = locator.New(locator.WithCatalog(catalog))
	}
	fus := b.fus
	if fus == nil {
		fus = fusion.New()
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	var codes barcode.Decoder
	if b.cfg.Barcodes {
		codes = b.codes
		if codes == nil {
			codes = barcode.New(barcode.Options{Formats: b.cfg.BarcodeFormats})
		}
	}
	return &Processor{
		cfg:       b.cfg,
		engine:    b.engine,
		extractor: extract.New(catalog),
		locator:   loc,
		fusion:    fus,
		barcodes:  codes,
		logger:    logger,
	}, nil
}

// Config returns the processor configuration.
func (p *Processor) Config() Config { return p.cfg }

// Engine returns the recognition engine, which may be nil.
func (p *Processor) Engine() recognition.Engine { return p.engine }

// Locator returns the heuristic locator, e.g. to record feedback.
func (p *Processor) Locator() *locator.Locator { return p.locator }

// Close releases the engine if it holds resources.
func (p *Processor) Close() error {
	if c, ok := p.engine.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Info returns key processor properties.
func (p *Processor) Info() map[string]interface{} {
	info := map[string]interface{}{
		"language":               p.cfg.Recognition.Language,
		"page_seg_mode":          p.cfg.Recognition.PageSegMode,
		"preprocessing":          p.cfg.Preprocess,
		"verification_threshold": p.cfg.VerificationThreshold,
		"barcodes":               p.cfg.Barcodes,
		"fields":                 p.extractor.Catalog().Names(),
	}
	if p.engine != nil {
		info["engine"] = p.engine.Name()
	}
	templates := make([]string, 0)
	for _, t := range p.locator.Templates() {
		templates = append(templates, t.Name)
	}
	info["templates"] = templates
	return info
}
