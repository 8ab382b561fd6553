package batch

import (
	"fmt"
	"slices"
	"time"

	"github.com/MeKo-Tech/ticketocr/internal/pdf"
)

// Output formats understood by Format.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Config holds all configuration for a CLI batch run.
type Config struct {
	// File discovery settings
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string

	// PDF intake
	PDF          pdf.Options
	UseTextLayer bool

	// Output settings
	Format     string
	OutputFile string

	// Progress settings
	ShowProgress     bool
	Quiet            bool
	ProgressInterval time.Duration
}

// DefaultConfig returns the settings used when no flags are given.
func DefaultConfig() *Config {
	return &Config{
		Format:           FormatText,
		ShowProgress:     true,
		ProgressInterval: 100 * time.Millisecond,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Format != "" && !slices.Contains([]string{FormatText, FormatJSON}, c.Format) {
		return fmt.Errorf("invalid format: %s (must be %s or %s)", c.Format, FormatText, FormatJSON)
	}
	if _, err := pdf.ParsePageRange(c.PDF.PageRange); err != nil {
		return fmt.Errorf("invalid page range: %w", err)
	}
	if err := ValidatePatterns(c.IncludePatterns); err != nil {
		return fmt.Errorf("invalid include: %w", err)
	}
	if err := ValidatePatterns(c.ExcludePatterns); err != nil {
		return fmt.Errorf("invalid exclude: %w", err)
	}
	if c.ProgressInterval < 0 {
		return fmt.Errorf("invalid progress interval: %v", c.ProgressInterval)
	}
	return nil
}
