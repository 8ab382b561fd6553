package batch

import (
	"testing"
	"time"

	"github.com/MeKo-Tech/ticketocr/internal/pdf"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Format != FormatText {
		t.Errorf("Expected format text, got %s", cfg.Format)
	}
	if !cfg.ShowProgress {
		t.Error("Expected progress to be shown by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid, got: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"json format", func(c *Config) { c.Format = FormatJSON }, false},
		{"empty format", func(c *Config) { c.Format = "" }, false},
		{"csv format", func(c *Config) { c.Format = "csv" }, true},
		{"page range", func(c *Config) { c.PDF = pdf.Options{PageRange: "1-2"} }, false},
		{"bad page range", func(c *Config) { c.PDF = pdf.Options{PageRange: "2-1"} }, true},
		{"negative interval", func(c *Config) { c.ProgressInterval = -time.Second }, true},
		{"subtree exclude", func(c *Config) { c.ExcludePatterns = []string{"archive/**"} }, false},
		{"bad exclude", func(c *Config) { c.ExcludePatterns = []string{"[bad"} }, true},
		{"bad include", func(c *Config) { c.IncludePatterns = []string{"{a,b"} }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
