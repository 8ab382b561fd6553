// Package pdf turns PDF tickets into page inputs for the pipeline: embedded
// page images for OCR and, for digitally generated tickets, the text layer.
package pdf

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/ticketocr/internal/utils"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrNoImages is returned when the selected pages carry no embedded images.
var ErrNoImages = errors.New("pdf: no page images")

// Options control page extraction.
type Options struct {
	// PageRange selects pages, e.g. "1-3,5". Empty selects all pages.
	PageRange string
	// Password opens encrypted files. It is tried as user and owner password.
	Password string
}

// Page is one embedded image of a PDF page, re-encoded as PNG.
type Page struct {
	Number int    `json:"page"`
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Data   []byte `json:"-"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// ExtractPages extracts the embedded images of the selected pages, ordered by
// page and then by position on the page. Scanned tickets usually carry one
// full-page image per page.
func ExtractPages(path string, opts Options) ([]Page, error) {
	pageNumbers, err := ParsePageRange(opts.PageRange)
	if err != nil {
		return nil, fmt.Errorf("invalid page range %q: %w", opts.PageRange, err)
	}

	tempDir, err := os.MkdirTemp("", "ticketocr-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	var selected []string
	for _, n := range pageNumbers {
		selected = append(selected, strconv.Itoa(n))
	}
	if err := api.ExtractImagesFile(path, tempDir, selected, configuration(opts.Password)); err != nil {
		return nil, fmt.Errorf("extract images from %s: %w", path, err)
	}

	base := strings.TrimSuffix(filepath.Base(path), ".pdf")
	pages, err := collectPages(tempDir, base)
	if err != nil {
		return nil, fmt.Errorf("collect images from %s: %w", path, err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrNoImages)
	}
	return pages, nil
}

func configuration(password string) *model.Configuration {
	conf := model.NewDefaultConfiguration()
	if password != "" {
		conf.UserPW = password
		conf.OwnerPW = password
	}
	return conf
}

type extracted struct {
	page int
	file string
}

// collectPages loads every extracted image in dir. Files that do not follow
// the extractor's naming or fail to decode are skipped.
func collectPages(dir, base string) ([]Page, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var found []extracted
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n, err := parsePageFromFilename(base, e.Name())
		if err != nil {
			continue
		}
		found = append(found, extracted{page: n, file: e.Name()})
	}
	sort.SliceStable(found, func(i, j int) bool {
		if found[i].page != found[j].page {
			return found[i].page < found[j].page
		}
		return found[i].file < found[j].file
	})

	var pages []Page
	index := map[int]int{}
	for _, f := range found {
		img, err := loadImageFile(filepath.Join(dir, f.file))
		if err != nil {
			continue
		}
		data, err := utils.EncodePNG(img)
		if err != nil {
			continue
		}
		index[f.page]++
		b := img.Bounds()
		pages = append(pages, Page{
			Number: f.page,
			Index:  index[f.page],
			Name:   fmt.Sprintf("%s#page%d-%d", base, f.page, index[f.page]),
			Data:   data,
			Width:  b.Dx(),
			Height: b.Dy(),
		})
	}
	return pages, nil
}

func loadImageFile(path string) (image.Image, error) {
	file, err := os.Open(path) //nolint:gosec // G304: files inside our own temp directory
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	img, _, err := image.Decode(file)
	return img, err
}

// parsePageFromFilename extracts the page number from an extracted image
// name of the form <base>_<page>_<id>.<ext>. The page may be zero padded.
func parsePageFromFilename(base, filename string) (int, error) {
	rest, ok := strings.CutPrefix(filename, base+"_")
	if !ok {
		return 0, errors.New("not an extracted page image")
	}
	digits, _, ok := strings.Cut(rest, "_")
	if !ok {
		return 0, errors.New("invalid filename format")
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 {
		return 0, errors.New("invalid page number")
	}
	return n, nil
}

// ParsePageRange parses a page selection like "1-5" or "1,3-4,7" into
// ascending unique page numbers. An empty range means all pages and yields nil.
func ParsePageRange(pageRange string) ([]int, error) {
	if strings.TrimSpace(pageRange) == "" {
		return nil, nil
	}

	seen := map[int]bool{}
	var pages []int
	for _, part := range strings.Split(pageRange, ",") {
		tokenPages, err := parseRangeToken(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		for _, p := range tokenPages {
			if !seen[p] {
				seen[p] = true
				pages = append(pages, p)
			}
		}
	}
	sort.Ints(pages)
	return pages, nil
}

func parseRangeToken(part string) ([]int, error) {
	if lo, hi, ok := strings.Cut(part, "-"); ok {
		start, err := parsePage(lo)
		if err != nil {
			return nil, fmt.Errorf("invalid start page: %s", lo)
		}
		end, err := parsePage(hi)
		if err != nil {
			return nil, fmt.Errorf("invalid end page: %s", hi)
		}
		if start > end {
			return nil, fmt.Errorf("start page %d greater than end page %d", start, end)
		}
		out := make([]int, 0, end-start+1)
		for i := start; i <= end; i++ {
			out = append(out, i)
		}
		return out, nil
	}
	page, err := parsePage(part)
	if err != nil {
		return nil, fmt.Errorf("invalid page number: %s", part)
	}
	return []int{page}, nil
}

func parsePage(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("page %d out of range", n)
	}
	return n, nil
}
