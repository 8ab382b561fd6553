// Package extract turns recognized ticket text into pattern-based field
// candidates using the field catalog.
package extract

import (
	"strings"

	"github.com/MeKo-Tech/ticketocr/internal/fields"
	"github.com/MeKo-Tech/ticketocr/internal/recognition"
)

// UnlocatedConfidence is assigned to a match that cannot be found in the
// recognition geometry. It means "matched but unlocated", not "absent".
const UnlocatedConfidence = 50.0

// Extractor applies a field catalog to recognition results.
type Extractor struct {
	catalog *fields.Catalog
}

// New creates an Extractor. A nil catalog selects the default catalog.
func New(catalog *fields.Catalog) *Extractor {
	if catalog == nil {
		catalog = fields.DefaultCatalog()
	}
	return &Extractor{catalog: catalog}
}

// Catalog returns the catalog used by the extractor.
func (e *Extractor) Catalog() *fields.Catalog { return e.catalog }

// Extract returns one candidate per field that has an accepted match, in
// catalog order. Fields without a match are omitted.
func (e *Extractor) Extract(res *recognition.Result) []fields.Candidate {
	if res == nil || strings.TrimSpace(res.Text) == "" {
		return nil
	}
	out := make([]fields.Candidate, 0, e.catalog.Len())
	for _, spec := range e.catalog.Specs() {
		m, ok := spec.Match(res.Text)
		if !ok {
			continue
		}
		out = append(out, fields.Candidate{
			Field:      spec.Name,
			Raw:        m.Raw,
			Value:      m.Value,
			Confidence: fields.ClampConfidence(FindConfidence(res, m.Raw, m.Value)),
			Source:     fields.SourcePattern,
		})
	}
	return out
}

// ExtractText is a convenience wrapper for text without geometry.
func (e *Extractor) ExtractText(text string) []fields.Candidate {
	return e.Extract(&recognition.Result{Text: text})
}

// FindConfidence looks up the engine confidence for a matched value: the
// maximum confidence among lines containing it and among words that contain
// it or are contained in it, compared case-insensitively. Every search term
// given is tried. Returns UnlocatedConfidence when nothing overlaps.
func FindConfidence(res *recognition.Result, terms ...string) float64 {
	if res == nil {
		return UnlocatedConfidence
	}
	best := 0.0
	found := false
	for _, term := range terms {
		needle := strings.ToLower(strings.TrimSpace(term))
		if needle == "" {
			continue
		}
		for _, line := range res.Lines {
			if strings.Contains(strings.ToLower(line.Text), needle) {
				found = true
				best = max(best, line.Confidence)
			}
			for _, w := range line.Words {
				word := strings.ToLower(strings.TrimSpace(w.Text))
				if word == "" {
					continue
				}
				if strings.Contains(word, needle) || strings.Contains(needle, word) {
					found = true
					best = max(best, w.Confidence)
				}
			}
		}
	}
	if !found || best == 0 {
		return UnlocatedConfidence
	}
	return best
}
