package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/ticketocr/internal/batch"
	"github.com/MeKo-Tech/ticketocr/internal/config"
	"github.com/MeKo-Tech/ticketocr/internal/pipeline"
	"github.com/spf13/cobra"
)

// pdfCmd represents the pdf command.
var pdfCmd = &cobra.Command{
	Use:   "pdf FILE...",
	Short: "Process ticket PDFs page by page",
	Long: `Process scanned ticket PDFs. Every embedded page image is treated as one
ticket. With --text-layer, pages that carry enough selectable text are
extracted from it directly and skip recognition.

Examples:
  ticketocr pdf tickets.pdf
  ticketocr pdf tickets.pdf --pages 1-3,7 --format json
  ticketocr pdf secured.pdf --password secret`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			return errors.New("no input files provided")
		}

		cfg := GetConfig()
		applyPDFFlags(cmd, cfg)
		if err := applyRecognitionFlags(cmd, cfg); err != nil {
			return err
		}
		format, outFile, err := outputSettings(cmd, cfg)
		if err != nil {
			return err
		}

		for _, path := range args {
			if !batch.IsPDF(path) {
				return fmt.Errorf("not a PDF file: %s", path)
			}
		}

		bcfg := batch.DefaultConfig()
		bcfg.PDF = cfg.PDFOptions()
		bcfg.UseTextLayer = cfg.PDF.UseTextLayer
		inputs := batch.LoadInputs(args, bcfg)

		proc, err := imageProcessor(cmd, cfg)
		if err != nil {
			return err
		}
		defer func() { _ = proc.Close() }()

		results := make([]*pipeline.TicketResult, 0, len(inputs))
		for _, in := range inputs {
			if in.Err != nil {
				return in.Err
			}
			var res *pipeline.TicketResult
			if in.TextLayer() {
				slog.Debug("Using text layer", "page", in.Name)
				res = proc.ProcessText(cmd.Context(), in.Name, in.Text)
			} else {
				res, err = proc.Process(cmd.Context(), in.Name, in.Data)
				if err != nil {
					return fmt.Errorf("failed to process %s: %w", in.Name, err)
				}
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

// addPDFFlags registers the PDF extraction flags.
func addPDFFlags(cmd *cobra.Command) {
	cmd.Flags().String("pages", "", "page range, e.g. 1-3,5 (default all pages)")
	cmd.Flags().String("password", "", "password for encrypted PDFs")
	cmd.Flags().Bool("text-layer", false, "use the selectable text of pages that have one")
}

func applyPDFFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("pages") {
		cfg.PDF.PageRange, _ = cmd.Flags().GetString("pages")
	}
	if cmd.Flags().Changed("password") {
		cfg.PDF.Password, _ = cmd.Flags().GetString("password")
	}
	if cmd.Flags().Changed("text-layer") {
		cfg.PDF.UseTextLayer, _ = cmd.Flags().GetBool("text-layer")
	}
}

func init() {
	rootCmd.AddCommand(pdfCmd)
	addPDFFlags(pdfCmd)
	addRecognitionFlags(pdfCmd)
	addOutputFlags(pdfCmd)
}
