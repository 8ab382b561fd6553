package pdf

import (
	"fmt"
	"strings"

	"github.com/dslipak/pdf"
)

// MinTextWords is the word count from which a page's text layer is trusted
// instead of running OCR on its image.
const MinTextWords = 5

// PageText is the text layer of one page.
type PageText struct {
	Number int    `json:"page"`
	Text   string `json:"text"`
	Words  int    `json:"words"`
}

// Usable reports whether the page carries enough text to skip OCR.
func (p PageText) Usable() bool { return p.Words >= MinTextWords }

// ExtractText reads the text layer of the selected pages. Pages outside the
// document are ignored and pages that fail to parse are skipped. Scanned
// tickets yield pages without usable text.
func ExtractText(path, pageRange string) ([]PageText, error) {
	pageNumbers, err := ParsePageRange(pageRange)
	if err != nil {
		return nil, fmt.Errorf("invalid page range %q: %w", pageRange, err)
	}

	reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF %q: %w", path, err)
	}

	total := reader.NumPage()
	if len(pageNumbers) == 0 {
		for i := 1; i <= total; i++ {
			pageNumbers = append(pageNumbers, i)
		}
	}

	var out []PageText
	for _, n := range pageNumbers {
		if n > total {
			continue
		}
		page := reader.Page(n)
		if page.V.IsNull() {
			continue
		}
		text := pageText(page)
		out = append(out, PageText{Number: n, Text: text, Words: len(strings.Fields(text))})
	}
	return out, nil
}

// pageText joins the text of each row with spaces and rows with newlines, so
// labels and their values stay on one line.
func pageText(page pdf.Page) string {
	var sb strings.Builder
	rows, err := page.GetTextByRow()
	if err == nil && len(rows) > 0 {
		for _, row := range rows {
			parts := make([]string, 0, len(row.Content))
			for _, t := range row.Content {
				if s := strings.TrimSpace(t.S); s != "" {
					parts = append(parts, s)
				}
			}
			if len(parts) > 0 {
				sb.WriteString(strings.Join(parts, " "))
				sb.WriteByte('\n')
			}
		}
		return strings.TrimRight(sb.String(), "\n")
	}

	plain, err := page.GetPlainText(make(map[string]*pdf.Font))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(plain)
}
