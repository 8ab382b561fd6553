package locator

import (
	"regexp"

	"github.com/MeKo-Tech/ticketocr/internal/fields"
)

// Region ties a field to the area of the ticket where the template expects it.
type Region struct {
	Field fields.Name        `json:"field" yaml:"field"`
	Box   fields.RelativeBox `json:"box" yaml:"box"`
}

// Template is a positional layout for one family of tickets.
type Template struct {
	Name     string  `json:"name" yaml:"name"`
	Version  string  `json:"version" yaml:"version"`
	Accuracy float64 `json:"accuracy" yaml:"accuracy"`
	// Keywords classify text into this template when any of them occurs.
	Keywords []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Regions  []Region `json:"regions" yaml:"regions"`
}

// Region returns the expected box for a field.
func (t Template) Region(n fields.Name) (fields.RelativeBox, bool) {
	for _, r := range t.Regions {
		if r.Field == n {
			return r.Box, true
		}
	}
	return fields.RelativeBox{}, false
}

// Fields lists the fields the template can locate, in template order.
func (t Template) Fields() []fields.Name {
	out := make([]fields.Name, 0, len(t.Regions))
	for _, r := range t.Regions {
		out = append(out, r.Field)
	}
	return out
}

// Built-in template names.
const (
	TemplateBauxite = "bauxite"
	TemplateAlumina = "alumina"
	TemplateGeneric = "generic"
)

// DefaultTemplates returns the built-in layouts in classification order.
func DefaultTemplates() []Template {
	return []Template{
		{
			Name:     TemplateBauxite,
			Version:  "1.2.0",
			Accuracy: 0.94,
			Keywords: []string{"bauxite", "mine"},
			Regions: []Region{
				{fields.TicketNumber, fields.RelativeBox{X: 0.1, Y: 0.1, Width: 0.3, Height: 0.05}},
				{fields.Date, fields.RelativeBox{X: 0.6, Y: 0.1, Width: 0.25, Height: 0.05}},
				{fields.Weight, fields.RelativeBox{X: 0.4, Y: 0.4, Width: 0.2, Height: 0.06}},
				{fields.TruckRegistration, fields.RelativeBox{X: 0.1, Y: 0.25, Width: 0.25, Height: 0.05}},
				{fields.DriverName, fields.RelativeBox{X: 0.1, Y: 0.35, Width: 0.4, Height: 0.05}},
			},
		},
		{
			Name:     TemplateAlumina,
			Version:  "1.1.0",
			Accuracy: 0.91,
			Keywords: []string{"alumina", "refinery"},
			Regions: []Region{
				{fields.TicketNumber, fields.RelativeBox{X: 0.15, Y: 0.08, Width: 0.3, Height: 0.05}},
				{fields.Date, fields.RelativeBox{X: 0.55, Y: 0.08, Width: 0.25, Height: 0.05}},
				{fields.Weight, fields.RelativeBox{X: 0.35, Y: 0.45, Width: 0.25, Height: 0.06}},
				{fields.TruckRegistration, fields.RelativeBox{X: 0.1, Y: 0.2, Width: 0.3, Height: 0.05}},
				{fields.Commodity, fields.RelativeBox{X: 0.1, Y: 0.55, Width: 0.4, Height: 0.05}},
			},
		},
		{
			Name:     TemplateGeneric,
			Version:  "2.0.0",
			Accuracy: 0.87,
			Regions: []Region{
				{fields.TicketNumber, fields.RelativeBox{X: 0.1, Y: 0.1, Width: 0.35, Height: 0.05}},
				{fields.Date, fields.RelativeBox{X: 0.55, Y: 0.1, Width: 0.3, Height: 0.05}},
				{fields.Weight, fields.RelativeBox{X: 0.4, Y: 0.4, Width: 0.25, Height: 0.06}},
				{fields.TruckRegistration, fields.RelativeBox{X: 0.1, Y: 0.25, Width: 0.3, Height: 0.05}},
				{fields.DriverName, fields.RelativeBox{X: 0.1, Y: 0.35, Width: 0.45, Height: 0.05}},
				{fields.Commodity, fields.RelativeBox{X: 0.1, Y: 0.55, Width: 0.4, Height: 0.05}},
			},
		},
	}
}

// heuristic is the locator's own value finder for a field. It is looser than
// the catalog patterns: values are scored rather than rejected.
type heuristic struct {
	patterns   []*regexp.Regexp
	labels     []string
	needsDigit bool
}

var heuristics = map[fields.Name]heuristic{
	fields.TicketNumber: {
		patterns: compile(
			`(?i)\b(?:ticket|ref|no|number)\b(?:[ \t]*(?:no|number|#)\.?)?[ \t]*:?[ \t]*([A-Z0-9][A-Z0-9-]{2,19})\b`,
			`(?i)\b(T[KT]?[- ]?\d{4,8}(?:-\d{1,6})?)\b`,
			`(?i)\b([A-Z]{2,3}[- ]?\d{4,8})\b`,
		),
		labels:     []string{"ticket", "ref", "number", "no"},
		needsDigit: true,
	},
	fields.Date: {
		patterns: compile(
			`(?i)\b(?:date|issued?)\b[^\d\n]{0,20}(\d{1,2}[/-]\d{1,2}[/-]\d{4})\b`,
			`(?i)\b(?:date|issued?)\b[^\d\n]{0,20}(\d{4}[/-]\d{1,2}[/-]\d{1,2})\b`,
			`\b(\d{1,2}[/-]\d{1,2}[/-]\d{4})\b`,
		),
		labels:     []string{"date", "issued"},
		needsDigit: true,
	},
	fields.Weight: {
		patterns: compile(
			`(?i)\b(?:net[ \t]+weight|weight|gross)\b[^\d\n]{0,15}(\d+(?:\.\d+)?)[ \t]*(?:tons?|t|kg)\b`,
			`(?i)(\d+(?:\.\d+)?)[ \t]*(?:tons?|t)\b`,
		),
		labels:     []string{"weight", "net", "gross", "tons"},
		needsDigit: true,
	},
	fields.TruckRegistration: {
		patterns: compile(
			`(?i:\b(?:truck|vehicle|reg|registration)\b)[^\n:]{0,15}?[ \t]*:?[ \t]*((?i:[A-Z]{2,3}[- ]?\d{3,4}))\b`,
			`\b([A-Z]{2,3}[- ]?\d{3,4})\b`,
		),
		labels:     []string{"truck", "vehicle", "reg", "registration"},
		needsDigit: true,
	},
	fields.DriverName: {
		patterns: compile(
			`(?i:\b(?:driver|operator)\b)[^\n:]{0,15}?[ \t]*:?[ \t]*((?i:[a-z]+[ \t]+[a-z]+(?:[ \t]+[a-z]+)?))`,
		),
		labels: []string{"driver", "operator", "name"},
	},
	fields.Commodity: {
		patterns: compile(
			`(?i)\b(?:commodity|material|product)\b[^\n]{0,15}?\b(bauxite|alumina|coal|limestone)\b`,
			`(?i)\b(bauxite|alumina|coal|limestone)\b`,
		),
		labels: []string{"commodity", "material", "product"},
	},
}

var ambiguous = compile(`^\d{1,2}$`, `^[A-Z]$`, `^\d{4}$`)

func compile(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}
