// Package fusion reconciles pattern and heuristic candidates into one value
// per field and scores the ticket as a whole.
package fusion

import (
	"slices"
	"strings"
	"unicode"

	"github.com/MeKo-Tech/ticketocr/internal/fields"
)

// Defaults for the fusion engine.
const (
	DefaultAgreementThreshold    = 0.8
	DefaultAgreementBonus        = 10.0
	DefaultConfidenceFloor       = 50.0
	DefaultVerificationThreshold = 60.0

	agreedWeight = 1.5
	countBonus   = 2.0
	maxBonus     = 10.0
)

// Preferences maps a field to the source trusted first when the two
// detectors disagree.
type Preferences map[fields.Name]fields.Source

// DefaultPreferences trusts patterns for structured identifiers and the
// locator for everything else.
func DefaultPreferences() Preferences {
	return Preferences{
		fields.TicketNumber:      fields.SourcePattern,
		fields.Weight:            fields.SourcePattern,
		fields.TruckRegistration: fields.SourcePattern,
		fields.Date:              fields.SourceHeuristic,
		fields.DriverName:        fields.SourceHeuristic,
		fields.Commodity:         fields.SourceHeuristic,
		fields.LoadingLocation:   fields.SourceHeuristic,
		fields.Destination:       fields.SourceHeuristic,
		fields.Dispatcher:        fields.SourceHeuristic,
	}
}

// Field is the reconciled value for one ticket field.
type Field struct {
	Name       fields.Name   `json:"field"`
	Value      string        `json:"value"`
	Confidence float64       `json:"confidence"`
	Source     fields.Source `json:"source,omitempty"`
}

// Found reports whether any detector produced a value.
func (f Field) Found() bool { return f.Value != "" }

// Engine fuses candidates. It holds no mutable state after construction.
type Engine struct {
	prefs     Preferences
	threshold float64
	bonus     float64
	floor     float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithPreferences overrides entries of the preference table. Fields not in
// p keep their default preference.
func WithPreferences(p Preferences) Option {
	return func(e *Engine) {
		for k, v := range p {
			if v == fields.SourcePattern || v == fields.SourceHeuristic {
				e.prefs[k] = v
			}
		}
	}
}

// WithAgreementThreshold sets the similarity above which two values agree.
func WithAgreementThreshold(t float64) Option {
	return func(e *Engine) {
		if t > 0 && t <= 1 {
			e.threshold = t
		}
	}
}

// WithAgreementBonus sets the confidence bonus for agreeing detectors.
func WithAgreementBonus(b float64) Option {
	return func(e *Engine) {
		if b >= 0 {
			e.bonus = b
		}
	}
}

// WithConfidenceFloor sets the confidence the preferred source must exceed.
func WithConfidenceFloor(f float64) Option {
	return func(e *Engine) {
		if f >= 0 {
			e.floor = f
		}
	}
}

// New creates a fusion Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		prefs:     DefaultPreferences(),
		threshold: DefaultAgreementThreshold,
		bonus:     DefaultAgreementBonus,
		floor:     DefaultConfidenceFloor,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Preferences returns a copy of the effective preference table.
func (e *Engine) Preferences() Preferences {
	out := make(Preferences, len(e.prefs))
	for k, v := range e.prefs {
		out[k] = v
	}
	return out
}

// Preferred returns the trusted source for a field. Unknown fields prefer
// heuristic candidates.
func (e *Engine) Preferred(n fields.Name) fields.Source {
	if s, ok := e.prefs[n]; ok {
		return s
	}
	return fields.SourceHeuristic
}

// Fuse returns exactly one Field for every field named by either input, plus
// every catalog field. Canonical fields come first in canonical order, then
// any other names alphabetically.
func (e *Engine) Fuse(pattern, heuristic []fields.Candidate) []Field {
	pat := index(pattern)
	heu := index(heuristic)

	names := fields.All()
	var extra []fields.Name
	for _, m := range []map[fields.Name]fields.Candidate{pat, heu} {
		for n := range m {
			if fields.Order(n) == len(names) && !slices.Contains(extra, n) {
				extra = append(extra, n)
			}
		}
	}
	slices.Sort(extra)
	names = append(names, extra...)

	out := make([]Field, 0, len(names))
	for _, n := range names {
		p, hasP := pat[n]
		h, hasH := heu[n]
		out = append(out, e.fuseOne(n, p, hasP, h, hasH))
	}
	return out
}

func (e *Engine) fuseOne(n fields.Name, p fields.Candidate, hasP bool, h fields.Candidate, hasH bool) Field {
	switch {
	case !hasP && !hasH:
		return Field{Name: n}
	case hasP && !hasH:
		return fromCandidate(n, p)
	case hasH && !hasP:
		return fromCandidate(n, h)
	}

	if Similarity(p.Value, h.Value) > e.threshold {
		best := p
		if h.Confidence > p.Confidence {
			best = h
		}
		return Field{
			Name:       n,
			Value:      best.Value,
			Confidence: fields.ClampConfidence(max(p.Confidence, h.Confidence) + e.bonus),
			Source:     fields.SourceAgreed,
		}
	}

	preferred, other := p, h
	if e.Preferred(n) == fields.SourceHeuristic {
		preferred, other = h, p
	}
	if preferred.Value != "" && preferred.Confidence > e.floor {
		return fromCandidate(n, preferred)
	}
	if other.Confidence > preferred.Confidence {
		return fromCandidate(n, other)
	}
	return fromCandidate(n, preferred)
}

func fromCandidate(n fields.Name, c fields.Candidate) Field {
	return Field{
		Name:       n,
		Value:      c.Value,
		Confidence: fields.ClampConfidence(c.Confidence),
		Source:     c.Source,
	}
}

// index keeps the highest-confidence candidate per field.
func index(cands []fields.Candidate) map[fields.Name]fields.Candidate {
	m := make(map[fields.Name]fields.Candidate, len(cands))
	for _, c := range cands {
		if cur, ok := m[c.Field]; ok && cur.Confidence >= c.Confidence {
			continue
		}
		m[c.Field] = c
	}
	return m
}

// ImageConfidence scores a fused ticket: the mean of found field
// confidences with agreed fields weighted 1.5, plus two points per found
// field up to ten, capped at 100. A ticket with no found fields scores 0.
func ImageConfidence(fused []Field) float64 {
	var sum, weights float64
	n := 0
	for _, f := range fused {
		if !f.Found() {
			continue
		}
		w := 1.0
		if f.Source == fields.SourceAgreed {
			w = agreedWeight
		}
		sum += f.Confidence * w
		weights += w
		n++
	}
	if n == 0 {
		return 0
	}
	return fields.ClampConfidence(sum/weights + min(countBonus*float64(n), maxBonus))
}

// NeedsVerification reports whether the ticket confidence is below threshold.
func NeedsVerification(confidence, threshold float64) bool {
	return confidence < threshold
}

// Unverified lists found fields whose confidence is below threshold and all
// canonical fields that were not found.
func Unverified(fused []Field, threshold float64) []fields.Name {
	var out []fields.Name
	for _, f := range fused {
		if !f.Found() || f.Confidence < threshold {
			out = append(out, f.Name)
		}
	}
	return out
}

// Similarity compares two values after lower-casing and dropping everything
// but letters and digits. It returns 1 - distance/maxLen, in [0,1]. Two empty
// values are identical.
func Similarity(a, b string) float64 {
	ra, rb := simplify(a), simplify(b)
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

func simplify(s string) []rune {
	out := make([]rune, 0, len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			out = append(out, r)
		}
	}
	return out
}

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}
