package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/MeKo-Tech/ticketocr/internal/accuracy"
	"github.com/MeKo-Tech/ticketocr/internal/benchmark"
	"github.com/MeKo-Tech/ticketocr/internal/pipeline"
	"github.com/MeKo-Tech/ticketocr/internal/recognition"
	"github.com/MeKo-Tech/ticketocr/internal/recognition/tesseract"
	"github.com/spf13/cobra"
)

// newEngine returns the recognizer for image cases, or nil when image cases
// should be skipped.
var newEngine = func(textOnly bool) recognition.Engine {
	if textOnly || !tesseract.Available() {
		return nil
	}
	return tesseract.New()
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "benchmark <annotations.yaml>",
		Short: "Time the ticket pipeline over an annotation set",
		Long: `Runs every case of an annotation file through the ticket pipeline and
reports the average time and allocations per case. Image cases need the
tesseract backend and are skipped without it.`,
		Example: `  benchmark testdata/tickets/annotations.yaml
  benchmark testdata/tickets/annotations.yaml --iterations 20 --csv results.csv
  benchmark testdata/tickets/annotations.yaml --text-only --barcodes`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE:         runBenchmark,
	}
	cmd.Flags().IntP("iterations", "n", 5, "iterations per case")
	cmd.Flags().String("csv", "", "also write results as CSV to this file")
	cmd.Flags().Bool("text-only", false, "skip image cases")
	cmd.Flags().Bool("barcodes", false, "include the barcode scan for image cases")
	cmd.Flags().BoolP("verbose", "v", false, "verbose output")
	return cmd
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	iterations, _ := cmd.Flags().GetInt("iterations")
	if iterations <= 0 {
		return fmt.Errorf("iterations must be positive, got %d", iterations)
	}

	set, err := accuracy.LoadAnnotations(args[0])
	if err != nil {
		return err
	}

	textOnly, _ := cmd.Flags().GetBool("text-only")
	barcodes, _ := cmd.Flags().GetBool("barcodes")
	b := pipeline.NewBuilder().WithLogger(logger).WithBarcodes(barcodes)
	if engine := newEngine(textOnly); engine != nil {
		b = b.WithEngine(engine)
	} else if !textOnly {
		logger.Warn("tesseract not available, skipping image cases")
	}
	proc, err := b.Build()
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}
	defer func() { _ = proc.Close() }()

	suite, err := benchmark.PipelineSuite(proc, set)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results := suite.RunAll(ctx, iterations)
	if err := benchmark.WriteText(cmd.OutOrStdout(), results); err != nil {
		return err
	}

	if path, _ := cmd.Flags().GetString("csv"); path != "" {
		f, err := os.Create(path) //nolint:gosec // G304: path comes from the user
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
		werr := benchmark.WriteCSV(f, results)
		if cerr := f.Close(); werr == nil {
			werr = cerr
		}
		if werr != nil {
			return fmt.Errorf("failed to write %s: %w", path, werr)
		}
	}

	var errs []error
	for _, r := range results {
		if r.Error != nil {
			errs = append(errs, fmt.Errorf("%s: %w", r.Name, r.Error))
		}
	}
	return errors.Join(errs...)
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
