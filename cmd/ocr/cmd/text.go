package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MeKo-Tech/ticketocr/internal/pipeline"
	"github.com/spf13/cobra"
)

// textCmd extracts fields from text that was recognized elsewhere.
var textCmd = &cobra.Command{
	Use:   "text [FILE|-]...",
	Short: "Extract ticket fields from already recognized text",
	Long: `Run field extraction on plain text, e.g. the output of another OCR
engine. Each file is one ticket; "-" or no argument reads stdin. No
recognizer is needed.

Examples:
  ticketocr text recognized.txt
  cat ticket.txt | ticketocr text --format json`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if err := applyRecognitionFlags(cmd, cfg); err != nil {
			return err
		}
		format, outFile, err := outputSettings(cmd, cfg)
		if err != nil {
			return err
		}

		proc, err := buildProcessor(cfg, nil)
		if err != nil {
			return err
		}

		if len(args) == 0 {
			args = []string{"-"}
		}
		results := make([]*pipeline.TicketResult, 0, len(args))
		for _, arg := range args {
			name, text, err := readTicketText(cmd, arg)
			if err != nil {
				return err
			}
			if strings.TrimSpace(text) == "" {
				return fmt.Errorf("%s: no text", name)
			}
			results = append(results, proc.ProcessText(cmd.Context(), name, text))
		}

		out, err := renderTickets(results, format)
		if err != nil {
			return err
		}
		return writeOutput(cmd, outFile, out)
	},
}

func readTicketText(cmd *cobra.Command, arg string) (name, text string, err error) {
	if arg == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return "stdin", string(data), nil
	}
	data, err := os.ReadFile(arg)
	if err != nil {
		return "", "", fmt.Errorf("failed to read %s: %w", arg, err)
	}
	return arg, string(data), nil
}

func init() {
	rootCmd.AddCommand(textCmd)
	addRecognitionFlags(textCmd)
	addOutputFlags(textCmd)
}
