//nolint:lll
package config

// Config represents the complete configuration for the ticketocr application.
// It covers every command (image, batch, text, evaluate, serve) and is loaded
// from configuration files, environment variables, and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	Recognition   RecognitionConfig   `mapstructure:"recognition" yaml:"recognition" json:"recognition"`
	Preprocessing PreprocessingConfig `mapstructure:"preprocessing" yaml:"preprocessing" json:"preprocessing"`
	Extraction    ExtractionConfig    `mapstructure:"extraction" yaml:"extraction" json:"extraction"`
	Fusion        FusionConfig        `mapstructure:"fusion" yaml:"fusion" json:"fusion"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler" yaml:"scheduler" json:"scheduler"`
	PDF           PDFConfig           `mapstructure:"pdf" yaml:"pdf" json:"pdf"`
	Barcode       BarcodeConfig       `mapstructure:"barcode" yaml:"barcode" json:"barcode"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	Output OutputConfig `mapstructure:"output" yaml:"output" json:"output"`
}

// RecognitionConfig contains OCR engine settings.
type RecognitionConfig struct {
	Engine                  string `mapstructure:"engine" yaml:"engine" json:"engine"`
	Language                string `mapstructure:"language" yaml:"language" json:"language"`
	PSM                     int    `mapstructure:"psm" yaml:"psm" json:"psm"`
	OEM                     int    `mapstructure:"oem" yaml:"oem" json:"oem"`
	DPI                     int    `mapstructure:"dpi" yaml:"dpi" json:"dpi"`
	Whitelist               string `mapstructure:"whitelist" yaml:"whitelist" json:"whitelist"`
	Blacklist               string `mapstructure:"blacklist" yaml:"blacklist" json:"blacklist"`
	PreserveInterwordSpaces bool   `mapstructure:"preserve_interword_spaces" yaml:"preserve_interword_spaces" json:"preserve_interword_spaces"`
}

// PreprocessingConfig controls image corrections before recognition.
type PreprocessingConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	// Force applies default corrections to images triage did not flag.
	Force bool `mapstructure:"force" yaml:"force" json:"force"`
}

// ExtractionConfig contains field extraction settings.
type ExtractionConfig struct {
	VerificationThreshold float64 `mapstructure:"verification_threshold" yaml:"verification_threshold" json:"verification_threshold"`
}

// FusionConfig contains settings for combining pattern and heuristic results.
type FusionConfig struct {
	AgreementThreshold float64 `mapstructure:"agreement_threshold" yaml:"agreement_threshold" json:"agreement_threshold"`
	AgreementBonus     float64 `mapstructure:"agreement_bonus" yaml:"agreement_bonus" json:"agreement_bonus"`
	ConfidenceFloor    float64 `mapstructure:"confidence_floor" yaml:"confidence_floor" json:"confidence_floor"`
	// Preferences maps field names to "pattern" or "heuristic".
	Preferences map[string]string `mapstructure:"preferences" yaml:"preferences" json:"preferences"`
}

// SchedulerConfig contains batch scheduler settings.
type SchedulerConfig struct {
	Workers     int `mapstructure:"workers" yaml:"workers" json:"workers"`
	EventBuffer int `mapstructure:"event_buffer" yaml:"event_buffer" json:"event_buffer"`
	Retention   int `mapstructure:"retention" yaml:"retention" json:"retention"`
}

// PDFConfig contains PDF intake settings.
type PDFConfig struct {
	PageRange string `mapstructure:"page_range" yaml:"page_range" json:"page_range"`
	Password  string `mapstructure:"password" yaml:"password" json:"-"`
	// UseTextLayer reads digitally generated pages from their text layer instead of OCR.
	UseTextLayer bool `mapstructure:"use_text_layer" yaml:"use_text_layer" json:"use_text_layer"`
}

// BarcodeConfig controls the barcode scan that runs before recognition.
type BarcodeConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	// Formats restricts the symbologies tried, e.g. ["qr_code", "code_128"]. Empty means all.
	Formats []string `mapstructure:"formats" yaml:"formats" json:"formats"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string          `mapstructure:"host" yaml:"host" json:"host"`
	Port            int             `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string          `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxUploadMB     int             `mapstructure:"max_upload_mb" yaml:"max_upload_mb" json:"max_upload_mb"`
	TimeoutSec      int             `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int             `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig contains per-client request limits. Zero disables a limit.
type RateLimitConfig struct {
	Enabled           bool  `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerMinute int   `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int   `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int   `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
	MaxDataPerDayMB   int64 `mapstructure:"max_data_per_day_mb" yaml:"max_data_per_day_mb" json:"max_data_per_day_mb"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	Format string `mapstructure:"format" yaml:"format" json:"format"`
	File   string `mapstructure:"file" yaml:"file" json:"file"`
}
