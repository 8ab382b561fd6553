package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/ticketocr/internal/pipeline"
	"github.com/MeKo-Tech/ticketocr/internal/utils"
	"github.com/spf13/cobra"
)

// imageCmd represents the image command.
var imageCmd = &cobra.Command{
	Use:   "image FILE...",
	Short: "Process ticket images and extract their fields",
	Long: `Process one or more scanned ticket images in order and print the
extracted fields. Scans are graded and, if needed, corrected before
recognition.

Supported formats: JPEG, PNG, BMP, TIFF, WebP

Examples:
  ticketocr image ticket.jpg
  ticketocr image *.png --format json
  ticketocr image scan.tif --output ticket.json --format json`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return errors.New("no input files provided")
		}

		cfg := GetConfig()
		if err := applyRecognitionFlags(cmd, cfg); err != nil {
			return err
		}
		format, outFile, err := outputSettings(cmd, cfg)
		if err != nil {
			return err
		}

		for _, path := range args {
			if !utils.IsSupportedImage(path) {
				return fmt.Errorf("unsupported file format: %s", path)
			}
		}

		proc, err := imageProcessor(cmd, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = proc.Close() }()

		results := make([]*pipeline.TicketResult, 0, len(args))
		for _, path := range args {
			data, meta, err := utils.ReadImageFile(path)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", path, err)
			}
			slog.Debug("Processing image", "file", path, "format", meta.Format,
				"width", meta.Width, "height", meta.Height)

			res, err := proc.Process(cmd.Context(), path, data)
			if err != nil {
				return fmt.Errorf("failed to process %s: %w", path, err)
			}
			results = append(results, res)
		}
		if len(results) == 0 {
			return errNoResults
		}

		out, err := renderTickets(results, format)
		if err != nil {
			return err
		}
		return writeOutput(cmd, outFile, out)
	},
}

func init() {
	rootCmd.AddCommand(imageCmd)
	addRecognitionFlags(imageCmd)
	addOutputFlags(imageCmd)
}
