package batch

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/MeKo-Tech/ticketocr/internal/pipeline"
	"github.com/MeKo-Tech/ticketocr/internal/scheduler"
)

// Format renders the result as text or json.
func Format(res *Result, format string) (string, error) {
	switch format {
	case FormatJSON:
		b, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return "", err
		}
		return string(b) + "\n", nil
	case FormatText, "":
		return formatText(res)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// formatText prints one block per ticket followed by a summary line.
func formatText(res *Result) (string, error) {
	var output strings.Builder
	for i, e := range res.Entries {
		if i > 0 {
			output.WriteString("\n")
		}
		header := "# " + e.Name
		if e.TextLayer {
			header += " (text layer)"
		}
		output.WriteString(header + "\n")

		switch {
		case e.Removed:
			output.WriteString("skipped: cancelled before processing\n")
		case e.Status == scheduler.StatusFailed:
			fmt.Fprintf(&output, "error: %s\n", e.Error)
		case e.Result != nil:
			text, err := pipeline.ToPlainTextTicket(e.Result)
			if err != nil {
				return "", err
			}
			output.WriteString(text + "\n")
		default:
			fmt.Fprintf(&output, "status: %s\n", e.Status)
		}
	}

	completed, failed, skipped, unverified := res.Counts()
	fmt.Fprintf(&output, "\n%d tickets: %d completed, %d failed", len(res.Entries), completed, failed)
	if skipped > 0 {
		fmt.Fprintf(&output, ", %d skipped", skipped)
	}
	fmt.Fprintf(&output, ", %d need verification\n", unverified)
	return output.String(), nil
}

// SaveResults writes the formatted result to outputFile, or to w when no file
// is given.
func SaveResults(res *Result, format, outputFile string, w io.Writer) error {
	output, err := Format(res, format)
	if err != nil {
		return fmt.Errorf("failed to format results: %w", err)
	}

	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(output), 0o600); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		return nil
	}
	_, err = fmt.Fprint(w, output)
	return err
}

// WriteStats prints processing statistics.
func WriteStats(w io.Writer, res *Result, workers int) {
	completed, failed, skipped, unverified := res.Counts()
	processed := completed + failed
	_, _ = fmt.Fprintf(w, "\nProcessing Statistics:\n")
	_, _ = fmt.Fprintf(w, "  Total tickets: %d\n", len(res.Entries))
	_, _ = fmt.Fprintf(w, "  Completed: %d\n", completed)
	_, _ = fmt.Fprintf(w, "  Failed: %d\n", failed)
	if skipped > 0 {
		_, _ = fmt.Fprintf(w, "  Skipped: %d\n", skipped)
	}
	_, _ = fmt.Fprintf(w, "  Need verification: %d\n", unverified)
	_, _ = fmt.Fprintf(w, "  Workers: %d\n", workers)
	_, _ = fmt.Fprintf(w, "  Duration: %v\n", res.Duration.Round(time.Millisecond))
	if processed > 0 && res.Duration > 0 {
		perTicket := res.Duration / time.Duration(processed)
		_, _ = fmt.Fprintf(w, "  Avg per ticket: %v\n", perTicket.Round(time.Millisecond))
		_, _ = fmt.Fprintf(w, "  Throughput: %.1f tickets/sec\n", float64(processed)/res.Duration.Seconds())
	}
}
