package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/MeKo-Tech/ticketocr/internal/barcode"
	"github.com/MeKo-Tech/ticketocr/internal/fields"
	"github.com/MeKo-Tech/ticketocr/internal/fusion"
	"github.com/MeKo-Tech/ticketocr/internal/pdf"
	"github.com/MeKo-Tech/ticketocr/internal/pipeline"
	"github.com/MeKo-Tech/ticketocr/internal/recognition"
	"github.com/MeKo-Tech/ticketocr/internal/scheduler"
)

// EngineTesseract is the only recognition engine shipped with ticketocr.
const EngineTesseract = "tesseract"

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	rec := recognition.DefaultOptions()
	return Config{
		LogLevel: "info",
		Verbose:  false,
		Recognition: RecognitionConfig{
			Engine:                  EngineTesseract,
			Language:                rec.Language,
			PSM:                     rec.PageSegMode,
			OEM:                     rec.EngineMode,
			DPI:                     rec.DPI,
			PreserveInterwordSpaces: rec.PreserveInterwordSpaces,
		},
		Preprocessing: PreprocessingConfig{
			Enabled: true,
		},
		Extraction: ExtractionConfig{
			VerificationThreshold: fusion.DefaultVerificationThreshold,
		},
		Fusion: FusionConfig{
			AgreementThreshold: fusion.DefaultAgreementThreshold,
			AgreementBonus:     fusion.DefaultAgreementBonus,
			ConfidenceFloor:    fusion.DefaultConfidenceFloor,
			Preferences:        defaultPreferences(),
		},
		Scheduler: SchedulerConfig{
			Workers:     scheduler.DefaultWorkers,
			EventBuffer: scheduler.DefaultEventBuffer,
			Retention:   scheduler.DefaultRetention,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxUploadMB:     50,
			TimeoutSec:      30,
			ShutdownTimeout: 10,
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerMinute: 60,
				RequestsPerHour:   1000,
				MaxRequestsPerDay: 5000,
				MaxDataPerDayMB:   1024,
			},
		},
		Barcode: BarcodeConfig{
			Formats: []string{},
		},
		Output: OutputConfig{
			Format: "text",
		},
	}
}

func defaultPreferences() map[string]string {
	out := make(map[string]string)
	for n, s := range fusion.DefaultPreferences() {
		out[string(n)] = string(s)
	}
	return out
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if err := c.validateBasicEnums(); err != nil {
		return err
	}
	if err := c.validateRecognition(); err != nil {
		return err
	}
	if err := c.validateThresholds(); err != nil {
		return err
	}
	if err := c.validatePositiveIntegers(); err != nil {
		return err
	}
	if _, err := pdf.ParsePageRange(c.PDF.PageRange); err != nil {
		return fmt.Errorf("invalid pdf.page_range: %w", err)
	}
	if _, err := c.BarcodeFormats(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateBasicEnums() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	validFormats := []string{"text", "json"}
	if c.Output.Format != "" && !slices.Contains(validFormats, c.Output.Format) {
		return fmt.Errorf("invalid output format: %s (must be one of: %s)", c.Output.Format, strings.Join(validFormats, ", "))
	}
	return nil
}

func (c *Config) validateRecognition() error {
	if c.Recognition.Engine != EngineTesseract {
		return fmt.Errorf("invalid recognition engine: %s (must be %s)", c.Recognition.Engine, EngineTesseract)
	}
	if err := c.RecognitionOptions().Validate(); err != nil {
		return fmt.Errorf("invalid recognition settings: %w", err)
	}
	return nil
}

func (c *Config) validateThresholds() error {
	if err := validatePercent(c.Extraction.VerificationThreshold, "extraction.verification_threshold"); err != nil {
		return err
	}
	if err := validatePercent(c.Fusion.AgreementBonus, "fusion.agreement_bonus"); err != nil {
		return err
	}
	if err := validatePercent(c.Fusion.ConfidenceFloor, "fusion.confidence_floor"); err != nil {
		return err
	}
	if c.Fusion.AgreementThreshold < 0 || c.Fusion.AgreementThreshold > 1 {
		return fmt.Errorf("invalid fusion.agreement_threshold: %.2f (must be between 0.0 and 1.0)", c.Fusion.AgreementThreshold)
	}
	_, err := c.FusionPreferences()
	return err
}

func (c *Config) validatePositiveIntegers() error {
	if c.Scheduler.Workers <= 0 {
		return fmt.Errorf("invalid scheduler workers: %d (must be positive)", c.Scheduler.Workers)
	}
	if c.Scheduler.EventBuffer <= 0 {
		return fmt.Errorf("invalid scheduler event buffer: %d (must be positive)", c.Scheduler.EventBuffer)
	}
	if c.Scheduler.Retention < 0 {
		return fmt.Errorf("invalid scheduler retention: %d (must not be negative)", c.Scheduler.Retention)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d (must be positive)", c.Server.MaxUploadMB)
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	rl := c.Server.RateLimit
	if rl.RequestsPerMinute < 0 || rl.RequestsPerHour < 0 || rl.MaxRequestsPerDay < 0 || rl.MaxDataPerDayMB < 0 {
		return errors.New("invalid rate limit: limits must not be negative")
	}
	return nil
}

// RecognitionOptions converts the recognition section to engine options.
func (c *Config) RecognitionOptions() recognition.Options {
	return recognition.Options{
		Language:                c.Recognition.Language,
		PageSegMode:             c.Recognition.PSM,
		EngineMode:              c.Recognition.OEM,
		DPI:                     c.Recognition.DPI,
		Whitelist:               c.Recognition.Whitelist,
		Blacklist:               c.Recognition.Blacklist,
		PreserveInterwordSpaces: c.Recognition.PreserveInterwordSpaces,
	}
}

// FusionPreferences converts the configured preference table. Entries
// override the defaults; unknown fields are allowed so that custom catalogs
// can be tuned too.
func (c *Config) FusionPreferences() (fusion.Preferences, error) {
	prefs := fusion.DefaultPreferences()
	for name, src := range c.Fusion.Preferences {
		s := fields.Source(strings.ToLower(strings.TrimSpace(src)))
		if s != fields.SourcePattern && s != fields.SourceHeuristic {
			return nil, fmt.Errorf("invalid fusion preference for %s: %q (must be pattern or heuristic)", name, src)
		}
		prefs[fieldName(name)] = s
	}
	return prefs, nil
}

// fieldName maps a configured key back to its canonical field name. Viper
// lower-cases map keys, so "ticketNumber" arrives as "ticketnumber".
func fieldName(key string) fields.Name {
	for _, n := range fields.All() {
		if strings.EqualFold(string(n), key) {
			return n
		}
	}
	return fields.Name(key)
}

// FusionEngine builds the fusion engine described by the fusion section.
func (c *Config) FusionEngine() (*fusion.Engine, error) {
	prefs, err := c.FusionPreferences()
	if err != nil {
		return nil, err
	}
	return fusion.New(
		fusion.WithPreferences(prefs),
		fusion.WithAgreementThreshold(c.Fusion.AgreementThreshold),
		fusion.WithAgreementBonus(c.Fusion.AgreementBonus),
		fusion.WithConfidenceFloor(c.Fusion.ConfidenceFloor),
	), nil
}

// BarcodeFormats parses the configured symbology names.
func (c *Config) BarcodeFormats() ([]barcode.Format, error) {
	out := make([]barcode.Format, 0, len(c.Barcode.Formats))
	for _, name := range c.Barcode.Formats {
		f, ok := barcode.ParseFormat(name)
		if !ok {
			return nil, fmt.Errorf("invalid barcode format: %q", name)
		}
		out = append(out, f)
	}
	return out, nil
}

// ToPipelineConfig converts the config to the pipeline configuration.
// Unknown barcode formats are dropped; Validate reports them.
func (c *Config) ToPipelineConfig() pipeline.Config {
	var formats []barcode.Format
	for _, name := range c.Barcode.Formats {
		if f, ok := barcode.ParseFormat(name); ok {
			formats = append(formats, f)
		}
	}
	return pipeline.Config{
		Recognition:           c.RecognitionOptions(),
		Preprocess:            c.Preprocessing.Enabled,
		ForcePreprocess:       c.Preprocessing.Force,
		VerificationThreshold: c.Extraction.VerificationThreshold,
		Barcodes:              c.Barcode.Enabled,
		BarcodeFormats:        formats,
	}
}

// SchedulerOptions converts the scheduler section to scheduler options.
func (c *Config) SchedulerOptions() []scheduler.Option {
	return []scheduler.Option{
		scheduler.WithWorkers(c.Scheduler.Workers),
		scheduler.WithEventBuffer(c.Scheduler.EventBuffer),
		scheduler.WithRetention(c.Scheduler.Retention),
	}
}

// PDFOptions converts the pdf section to extraction options.
func (c *Config) PDFOptions() pdf.Options {
	return pdf.Options{PageRange: c.PDF.PageRange, Password: c.PDF.Password}
}

// validatePercent validates that a value is between 0 and 100.
func validatePercent(value float64, name string) error {
	if value < 0 || value > 100 {
		return fmt.Errorf("invalid %s: %.2f (must be between 0 and 100)", name, value)
	}
	return nil
}
