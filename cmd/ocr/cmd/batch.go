package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MeKo-Tech/ticketocr/internal/batch"
	"github.com/MeKo-Tech/ticketocr/internal/config"
	"github.com/MeKo-Tech/ticketocr/internal/pipeline"
	"github.com/MeKo-Tech/ticketocr/internal/scheduler"
	"github.com/spf13/cobra"
)

// batchCmd represents the batch command for parallel ticket processing.
var batchCmd = &cobra.Command{
	Use:   "batch PATH...",
	Short: "Process many tickets in parallel",
	Long: `Process ticket images and PDFs with a pool of workers. Directories are
scanned for supported files; PDFs are expanded into one ticket per page.
A failing ticket does not stop the others. Interrupting the command
cancels the tickets that have not started and still prints the rest.

Examples:
  ticketocr batch scans/
  ticketocr batch scans/ --recursive --workers 8
  ticketocr batch a.jpg b.png --format json --output tickets.json
  ticketocr batch scans/ --include '*.tif' --exclude 'draft_*'`,
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE:         runBatchCommand,
}

// configToBatchConfig maps the configuration and changed flags to batch.Config.
func configToBatchConfig(cfg *config.Config, cmd *cobra.Command) *batch.Config {
	bc := batch.DefaultConfig()

	bc.Recursive, _ = cmd.Flags().GetBool("recursive")
	bc.IncludePatterns, _ = cmd.Flags().GetStringSlice("include")
	bc.ExcludePatterns, _ = cmd.Flags().GetStringSlice("exclude")

	bc.PDF = cfg.PDFOptions()
	bc.UseTextLayer = cfg.PDF.UseTextLayer

	bc.Format = cfg.Output.Format
	if cmd.Flags().Changed("format") {
		bc.Format, _ = cmd.Flags().GetString("format")
	}
	bc.OutputFile = cfg.Output.File
	if cmd.Flags().Changed("output") {
		bc.OutputFile, _ = cmd.Flags().GetString("output")
	}

	bc.ShowProgress, _ = cmd.Flags().GetBool("progress")
	bc.Quiet, _ = cmd.Flags().GetBool("quiet")
	if cmd.Flags().Changed("progress-interval") {
		bc.ProgressInterval, _ = cmd.Flags().GetDuration("progress-interval")
	}
	return bc
}

func runBatchCommand(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	applyPDFFlags(cmd, cfg)
	if cmd.Flags().Changed("workers") {
		cfg.Scheduler.Workers, _ = cmd.Flags().GetInt("workers")
	}
	if err := applyRecognitionFlags(cmd, cfg); err != nil {
		return err
	}

	bc := configToBatchConfig(cfg, cmd)
	if err := bc.Validate(); err != nil {
		return fmt.Errorf("invalid batch configuration: %w", err)
	}

	files, err := batch.Discover(args, bc.Recursive, bc.IncludePatterns, bc.ExcludePatterns)
	if err != nil {
		return fmt.Errorf("failed to discover files: %w", err)
	}
	if len(files) == 0 {
		return batch.ErrNoFiles
	}
	slog.Info("Starting batch", "files", len(files), "workers", cfg.Scheduler.Workers)

	proc, err := imageProcessor(cmd, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = proc.Close() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := append(cfg.SchedulerOptions(), scheduler.WithLogger(slog.Default()))
	sched := scheduler.New(proc, opts...)
	if err := sched.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sched.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Scheduler shutdown incomplete", "error", err)
		}
	}()

	res, runErr := batch.Run(ctx, sched, proc, files, bc, batchProgress(cmd, bc))
	if res == nil {
		return runErr
	}

	if err := batch.SaveResults(res, bc.Format, bc.OutputFile, cmd.OutOrStdout()); err != nil {
		return err
	}
	if stats, _ := cmd.Flags().GetBool("stats"); stats {
		batch.WriteStats(cmd.ErrOrStderr(), res, sched.Workers())
	}

	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return errors.New("batch interrupted; unprocessed tickets were skipped")
		}
		return runErr
	}
	return nil
}

// batchProgress picks the progress reporting for a run: a console bar on
// stderr unless quiet, plus debug log lines.
func batchProgress(cmd *cobra.Command, bc *batch.Config) pipeline.ProgressCallback {
	logged := pipeline.NewLogProgressCallback(slog.Default(), slog.LevelDebug, 10)
	if bc.Quiet || !bc.ShowProgress {
		return logged
	}
	console := pipeline.NewConsoleProgressCallback(cmd.ErrOrStderr(), "Tickets ").
		WithUpdateInterval(bc.ProgressInterval)
	return pipeline.NewMultiProgressCallback(console, logged)
}

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().BoolP("recursive", "r", false, "process directories recursively")
	batchCmd.Flags().StringSlice("include", nil, "glob patterns of files to include")
	batchCmd.Flags().StringSlice("exclude", nil, "glob patterns of files to exclude")
	batchCmd.Flags().IntP("workers", "w", scheduler.DefaultWorkers, "number of parallel workers")
	batchCmd.Flags().Bool("progress", true, "show a progress bar on stderr")
	batchCmd.Flags().BoolP("quiet", "q", false, "suppress progress output")
	batchCmd.Flags().Duration("progress-interval", 100*time.Millisecond, "minimum time between progress updates")
	batchCmd.Flags().Bool("stats", false, "print processing statistics to stderr")
	addPDFFlags(batchCmd)
	addRecognitionFlags(batchCmd)
	addOutputFlags(batchCmd)
}
