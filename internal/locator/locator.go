// Package locator proposes ticket field values from a positional template.
// A ticket is classified into a template family from its text, each field the
// template knows is looked up with a loose regex heuristic, and the candidate
// is scored from the template accuracy, value validity, nearby labels, and
// value ambiguity. Geometry comes from the template's relative regions.
package locator

import (
	"cmp"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/MeKo-Tech/ticketocr/internal/fields"
)

// Scoring adjustments, in confidence points.
const (
	ValidBonus         = 10.0
	LabelBonus         = 15.0
	AmbiguityPenalty   = 20.0
	LabelWindow        = 50
	ContextWindow      = 30
	DefaultFeedbackCap = 1000
)

// Locator finds heuristic field candidates. It is safe for concurrent use.
type Locator struct {
	templates []Template
	catalog   *fields.Catalog

	mu          sync.Mutex
	feedback    []Feedback
	feedbackCap int
}

// Option configures a Locator.
type Option func(*Locator)

// WithTemplates replaces the built-in templates. Templates are classified in
// the given order; a template without keywords acts as the fallback.
func WithTemplates(templates ...Template) Option {
	return func(l *Locator) {
		if len(templates) > 0 {
			l.templates = append([]Template(nil), templates...)
		}
	}
}

// WithCatalog sets the catalog used to validate and normalize values.
func WithCatalog(c *fields.Catalog) Option {
	return func(l *Locator) {
		if c != nil {
			l.catalog = c
		}
	}
}

// WithFeedbackCapacity bounds the in-memory correction log.
func WithFeedbackCapacity(n int) Option {
	return func(l *Locator) {
		if n > 0 {
			l.feedbackCap = n
		}
	}
}

// New creates a Locator with the built-in templates.
func New(opts ...Option) *Locator {
	l := &Locator{
		templates:   DefaultTemplates(),
		catalog:     fields.DefaultCatalog(),
		feedbackCap: DefaultFeedbackCap,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Templates returns a copy of the configured templates.
func (l *Locator) Templates() []Template {
	return append([]Template(nil), l.templates...)
}

// Template looks up a template by name.
func (l *Locator) Template(name string) (Template, bool) {
	for _, t := range l.templates {
		if t.Name == name {
			return t, true
		}
	}
	return Template{}, false
}

// Classify picks the template for a ticket text. The first template with a
// keyword contained in the text wins; otherwise the fallback template is used.
func (l *Locator) Classify(text string) Template {
	lower := strings.ToLower(text)
	for _, t := range l.templates {
		for _, kw := range t.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return t
			}
		}
	}
	return l.fallback()
}

func (l *Locator) fallback() Template {
	if t, ok := l.Template(TemplateGeneric); ok {
		return t
	}
	for _, t := range l.templates {
		if len(t.Keywords) == 0 {
			return t
		}
	}
	return l.templates[len(l.templates)-1]
}

// Locate classifies the text and returns candidates from the chosen template.
// width and height, when positive, add pixel boxes to the candidates.
func (l *Locator) Locate(text string, width, height int) (Template, []fields.Candidate) {
	t := l.Classify(text)
	return t, l.LocateWith(t, text, width, height)
}

// LocateWith returns candidates for every template field with a heuristic
// hit, sorted by descending confidence.
func (l *Locator) LocateWith(t Template, text string, width, height int) []fields.Candidate {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var out []fields.Candidate
	for _, region := range t.Regions {
		raw, ok := findValue(region.Field, text)
		if !ok {
			continue
		}
		box := region.Box
		c := fields.Candidate{
			Field:   region.Field,
			Raw:     raw,
			Value:   raw,
			Source:  fields.SourceHeuristic,
			Region:  &box,
			Context: surrounding(raw, text),
		}
		if width > 0 && height > 0 {
			px := box.Scale(width, height)
			c.Box = &px
		}

		conf := t.Accuracy * 100
		if spec, found := l.catalog.Lookup(region.Field); found {
			if v, valid := spec.Accept(raw); valid {
				c.Value = v
				conf += ValidBonus
			}
		}
		if hasLabel(region.Field, raw, text) {
			conf += LabelBonus
		}
		if isAmbiguous(raw) {
			conf -= AmbiguityPenalty
		}
		c.Confidence = fields.ClampConfidence(conf)
		out = append(out, c)
	}
	slices.SortStableFunc(out, func(a, b fields.Candidate) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})
	return out
}

func findValue(field fields.Name, text string) (string, bool) {
	h, ok := heuristics[field]
	if !ok {
		return "", false
	}
	for _, re := range h.patterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			v := strings.TrimSpace(m[1])
			if v == "" || (h.needsDigit && !strings.ContainsFunc(v, unicode.IsDigit)) {
				continue
			}
			return v, true
		}
	}
	return "", false
}

// hasLabel reports whether a field label occurs in the window before the
// first occurrence of value.
func hasLabel(field fields.Name, value, text string) bool {
	lower := strings.ToLower(text)
	idx := strings.Index(lower, strings.ToLower(value))
	if idx < 0 {
		return false
	}
	before := lower[floorRune(lower, idx-LabelWindow):idx]
	for _, label := range heuristics[field].labels {
		if strings.Contains(before, label) {
			return true
		}
	}
	return false
}

func isAmbiguous(v string) bool {
	for _, re := range ambiguous {
		if re.MatchString(v) {
			return true
		}
	}
	return false
}

// surrounding returns the trimmed text around the first occurrence of value,
// dropping empty sides.
func surrounding(value, text string) []string {
	idx := strings.Index(text, value)
	if idx < 0 {
		return nil
	}
	end := idx + len(value)
	before := strings.TrimSpace(text[floorRune(text, idx-ContextWindow):idx])
	after := strings.TrimSpace(text[end:ceilRune(text, end+ContextWindow)])

	var out []string
	for _, s := range []string{before, after} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func floorRune(s string, i int) int {
	if i <= 0 {
		return 0
	}
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

func ceilRune(s string, i int) int {
	if i >= len(s) {
		return len(s)
	}
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return i
}

// Feedback is a user correction of a located value.
type Feedback struct {
	Field     fields.Name `json:"field"`
	Template  string      `json:"template,omitempty"`
	Predicted string      `json:"predicted"`
	Corrected string      `json:"corrected"`
	At        time.Time   `json:"at"`
}

// FeedbackStat summarizes corrections for one field.
type FeedbackStat struct {
	Total          int     `json:"total"`
	Corrections    int     `json:"corrections"`
	CorrectionRate float64 `json:"correction_rate"`
}

// RecordFeedback appends a correction to the bounded log. The oldest entries
// are dropped once the log is full.
func (l *Locator) RecordFeedback(f Feedback) {
	if f.At.IsZero() {
		f.At = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.feedback = append(l.feedback, f)
	if over := len(l.feedback) - l.feedbackCap; over > 0 {
		l.feedback = append(l.feedback[:0:0], l.feedback[over:]...)
	}
}

// Feedback returns a copy of the correction log, oldest first.
func (l *Locator) Feedback() []Feedback {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Feedback(nil), l.feedback...)
}

// FeedbackStats summarizes the correction log per field. A correction is an
// entry whose corrected value differs from the prediction.
func (l *Locator) FeedbackStats() map[fields.Name]FeedbackStat {
	l.mu.Lock()
	defer l.mu.Unlock()
	stats := make(map[fields.Name]FeedbackStat)
	for _, f := range l.feedback {
		s := stats[f.Field]
		s.Total++
		if !strings.EqualFold(strings.TrimSpace(f.Predicted), strings.TrimSpace(f.Corrected)) {
			s.Corrections++
		}
		stats[f.Field] = s
	}
	for name, s := range stats {
		s.CorrectionRate = float64(s.Corrections) / float64(s.Total)
		stats[name] = s
	}
	return stats
}
