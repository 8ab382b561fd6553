package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/MeKo-Tech/ticketocr/internal/config"
	"github.com/MeKo-Tech/ticketocr/internal/pipeline"
	"github.com/MeKo-Tech/ticketocr/internal/recognition"
	"github.com/MeKo-Tech/ticketocr/internal/recognition/tesseract"
	"github.com/spf13/cobra"
)

// newEngine creates the recognition engine for image commands. Tests replace
// it with a scripted engine.
var newEngine = func(cmd *cobra.Command, cfg *config.Config) (recognition.Engine, error) {
	if !tesseract.Available() {
		return nil, fmt.Errorf("%w: binary built without tesseract support", recognition.ErrNoBackend)
	}
	var opts []tesseract.Option
	if prefix, _ := cmd.Flags().GetString("tessdata"); prefix != "" {
		opts = append(opts, tesseract.WithTessdataPrefix(prefix))
	}
	return tesseract.New(opts...), nil
}

// buildProcessor assembles the ticket pipeline from cfg. A nil engine yields a
// text-only processor.
func buildProcessor(cfg *config.Config, engine recognition.Engine) (*pipeline.Processor, error) {
	fus, err := cfg.FusionEngine()
	if err != nil {
		return nil, err
	}
	pc := cfg.ToPipelineConfig()
	b := pipeline.NewBuilder().
		WithFusion(fus).
		WithRecognitionOptions(pc.Recognition).
		WithPreprocessing(pc.Preprocess).
		WithForcedPreprocessing(pc.ForcePreprocess).
		WithVerificationThreshold(pc.VerificationThreshold).
		WithBarcodes(pc.Barcodes, pc.BarcodeFormats...).
		WithLogger(slog.Default())
	if engine != nil {
		b = b.WithEngine(engine)
	}
	proc, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	return proc, nil
}

// imageProcessor builds a processor backed by the configured engine.
func imageProcessor(cmd *cobra.Command, cfg *config.Config) (*pipeline.Processor, error) {
	engine, err := newEngine(cmd, cfg)
	if err != nil {
		return nil, err
	}
	return buildProcessor(cfg, engine)
}

// addRecognitionFlags registers the flags shared by every command that runs
// the pipeline.
func addRecognitionFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("language", "l", "eng", "recognition languages, joined with + (e.g. eng+deu)")
	cmd.Flags().Int("psm", 6, "tesseract page segmentation mode")
	cmd.Flags().Int("dpi", 300, "resolution hint for the recognizer")
	cmd.Flags().String("whitelist", "", "restrict recognition to these characters")
	cmd.Flags().Bool("preprocess", true, "apply suggested image corrections before recognition")
	cmd.Flags().Bool("force-preprocess", false, "apply default corrections even to clean scans")
	cmd.Flags().Float64("verification-threshold", 0, "ticket confidence below which results need verification (0 keeps the configured value)")
	cmd.Flags().StringSlice("prefer", nil, "fusion preference overrides as field=pattern|heuristic")
	cmd.Flags().Bool("barcodes", false, "read the ticket number from barcodes on the scan")
	cmd.Flags().StringSlice("barcode-formats", nil, "barcode symbologies to try (e.g. qr_code,code_128); empty tries all")
}

// applyRecognitionFlags copies changed recognition flags into cfg and
// validates the result.
func applyRecognitionFlags(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("language") {
		cfg.Recognition.Language, _ = cmd.Flags().GetString("language")
	}
	if cmd.Flags().Changed("psm") {
		cfg.Recognition.PSM, _ = cmd.Flags().GetInt("psm")
	}
	if cmd.Flags().Changed("dpi") {
		cfg.Recognition.DPI, _ = cmd.Flags().GetInt("dpi")
	}
	if cmd.Flags().Changed("whitelist") {
		cfg.Recognition.Whitelist, _ = cmd.Flags().GetString("whitelist")
	}
	if cmd.Flags().Changed("preprocess") {
		cfg.Preprocessing.Enabled, _ = cmd.Flags().GetBool("preprocess")
	}
	if cmd.Flags().Changed("force-preprocess") {
		cfg.Preprocessing.Force, _ = cmd.Flags().GetBool("force-preprocess")
	}
	if cmd.Flags().Changed("verification-threshold") {
		cfg.Extraction.VerificationThreshold, _ = cmd.Flags().GetFloat64("verification-threshold")
	}
	if cmd.Flags().Changed("barcodes") {
		cfg.Barcode.Enabled, _ = cmd.Flags().GetBool("barcodes")
	}
	if cmd.Flags().Changed("barcode-formats") {
		cfg.Barcode.Formats, _ = cmd.Flags().GetStringSlice("barcode-formats")
	}
	if cmd.Flags().Changed("prefer") {
		prefs, _ := cmd.Flags().GetStringSlice("prefer")
		merged := make(map[string]string, len(cfg.Fusion.Preferences)+len(prefs))
		for k, v := range cfg.Fusion.Preferences {
			merged[k] = v
		}
		for _, p := range prefs {
			name, source, ok := strings.Cut(p, "=")
			if !ok || name == "" {
				return fmt.Errorf("invalid --prefer value %q (want field=pattern|heuristic)", p)
			}
			merged[strings.TrimSpace(name)] = strings.TrimSpace(source)
		}
		cfg.Fusion.Preferences = merged
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// addOutputFlags registers --format and --output.
func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("format", "f", "text", "output format (text, json)")
	cmd.Flags().StringP("output", "o", "", "write results to this file instead of stdout")
}

// outputSettings returns the effective format and output file.
func outputSettings(cmd *cobra.Command, cfg *config.Config) (format, file string, err error) {
	format, file = cfg.Output.Format, cfg.Output.File
	if cmd.Flags().Changed("format") {
		format, _ = cmd.Flags().GetString("format")
	}
	if cmd.Flags().Changed("output") {
		file, _ = cmd.Flags().GetString("output")
	}
	if format == "" {
		format = "text"
	}
	if format != "text" && format != "json" {
		return "", "", fmt.Errorf("unsupported format: %s (must be text or json)", format)
	}
	return format, file, nil
}

// renderTickets formats results for output. Text output separates tickets by
// a "# name" header.
func renderTickets(results []*pipeline.TicketResult, format string) (string, error) {
	if format == "json" {
		var (
			out string
			err error
		)
		if len(results) == 1 {
			out, err = pipeline.ToJSONTicket(results[0])
		} else {
			out, err = pipeline.ToJSONTickets(results)
		}
		if err != nil {
			return "", err
		}
		return out + "\n", nil
	}

	var sb strings.Builder
	for i, res := range results {
		if i > 0 {
			sb.WriteString("\n")
		}
		text, err := pipeline.ToPlainTextTicket(res)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "# %s\n%s\n", res.Name, text)
	}
	return sb.String(), nil
}

// writeOutput writes s to file, or to the command's stdout.
func writeOutput(cmd *cobra.Command, file, s string) error {
	if file == "" {
		_, err := fmt.Fprint(cmd.OutOrStdout(), s)
		return err
	}
	if err := os.WriteFile(file, []byte(s), 0o600); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	slog.Info("Results written", "file", file)
	return nil
}

var errNoResults = errors.New("no tickets processed")
