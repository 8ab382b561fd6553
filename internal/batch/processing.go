package batch

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/MeKo-Tech/ticketocr/internal/pdf"
	"github.com/MeKo-Tech/ticketocr/internal/utils"
)

// Input is one ticket to process: image bytes for the scheduler or, for PDF
// pages with a usable text layer, the page text. Files that could not be
// read become an input carrying Err.
type Input struct {
	Source string
	Name   string
	Page   int // PDF page number, 0 for image files
	Data   []byte
	Text   string
	Err    error
}

// TextLayer reports whether the input skips OCR.
func (in Input) TextLayer() bool { return in.Err == nil && in.Text != "" }

// LoadInputs reads every file. Images become one input each; PDFs become one
// input per page image, or per page text when the text layer is enabled and
// usable. Inputs keep the order of files.
func LoadInputs(files []string, cfg *Config) []Input {
	var inputs []Input
	for _, path := range files {
		if IsPDF(path) {
			pages, err := loadPDF(path, cfg)
			if err != nil {
				inputs = append(inputs, Input{Source: path, Name: path, Err: err})
				continue
			}
			inputs = append(inputs, pages...)
			continue
		}
		in, err := loadImage(path)
		if err != nil {
			inputs = append(inputs, Input{Source: path, Name: path, Err: err})
			continue
		}
		inputs = append(inputs, in)
	}
	return inputs
}

func loadImage(path string) (Input, error) {
	if !utils.IsSupportedImage(path) {
		return Input{}, fmt.Errorf("unsupported file format: %s", path)
	}
	data, _, err := utils.ReadImageFile(path)
	if err != nil {
		return Input{}, fmt.Errorf("failed to load %s: %w", path, err)
	}
	return Input{Source: path, Name: path, Data: data}, nil
}

// loadPDF prefers the text layer of digitally generated pages and falls back
// to the embedded page images for everything else.
func loadPDF(path string, cfg *Config) ([]Input, error) {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	covered := make(map[int]bool)
	var inputs []Input

	if cfg.UseTextLayer {
		texts, err := pdf.ExtractText(path, cfg.PDF.PageRange)
		if err != nil {
			slog.Debug("PDF text layer unavailable, using page images", "file", path, "error", err)
		}
		for _, p := range texts {
			if !p.Usable() {
				continue
			}
			covered[p.Number] = true
			inputs = append(inputs, Input{
				Source: path,
				Name:   fmt.Sprintf("%s#page%d", base, p.Number),
				Page:   p.Number,
				Text:   p.Text,
			})
		}
	}

	pages, err := pdf.ExtractPages(path, cfg.PDF)
	if err != nil {
		if len(inputs) > 0 && errors.Is(err, pdf.ErrNoImages) {
			return inputs, nil
		}
		return nil, err
	}
	for _, p := range pages {
		if covered[p.Number] {
			continue
		}
		inputs = append(inputs, Input{Source: path, Name: p.Name, Page: p.Number, Data: p.Data})
	}

	sort.SliceStable(inputs, func(i, j int) bool { return inputs[i].Page < inputs[j].Page })
	return inputs, nil
}
