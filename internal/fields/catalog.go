package fields

import (
	"fmt"
	"regexp"
	"strings"
)

// Validator reports whether a normalized value is structurally acceptable.
type Validator func(string) bool

// Normalizer rewrites a raw value into its canonical form.
type Normalizer func(string) string

// Spec describes one field: the patterns tried in order and how matches are
// validated and normalized. Specs are immutable once built.
type Spec struct {
	Name      Name
	Labels    []string
	patterns  []*regexp.Regexp
	validate  Validator
	normalize Normalizer
}

// NewSpec compiles the given patterns for a field. Each pattern must contain
// at least one capture group; the first group is taken as the value.
func NewSpec(name Name, patterns []string, labels []string, validate Validator, normalize Normalizer) (*Spec, error) {
	if name == "" {
		return nil, fmt.Errorf("field spec requires a name")
	}
	if len(patterns) == 0 {
		return nil, fmt.Errorf("field %s: at least one pattern is required", name)
	}
	s := &Spec{
		Name:      name,
		Labels:    append([]string(nil), labels...),
		validate:  validate,
		normalize: normalize,
	}
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("field %s pattern %d: %w", name, i, err)
		}
		if re.NumSubexp() < 1 {
			return nil, fmt.Errorf("field %s pattern %d: no capture group", name, i)
		}
		s.patterns = append(s.patterns, re)
	}
	if s.normalize == nil {
		s.normalize = strings.TrimSpace
	}
	return s, nil
}

// MustSpec is like NewSpec but panics on error. Used for the built-in table.
func MustSpec(name Name, patterns []string, labels []string, validate Validator, normalize Normalizer) *Spec {
	s, err := NewSpec(name, patterns, labels, validate, normalize)
	if err != nil {
		panic(err)
	}
	return s
}

// PatternCount returns how many patterns the spec tries.
func (s *Spec) PatternCount() int { return len(s.patterns) }

// Normalize returns the canonical form of v.
func (s *Spec) Normalize(v string) string {
	return s.normalize(v)
}

// Validate reports whether v is structurally valid for this field.
func (s *Spec) Validate(v string) bool {
	if s.validate == nil {
		return strings.TrimSpace(v) != ""
	}
	return s.validate(v)
}

// Accept normalizes raw and reports whether the result passes validation.
func (s *Spec) Accept(raw string) (string, bool) {
	v := s.Normalize(strings.TrimSpace(raw))
	return v, v != "" && s.Validate(v)
}

// Match is an accepted pattern hit inside a text.
type Match struct {
	Raw     string
	Value   string
	Pattern int
	Start   int
	End     int
}

// Match tries the spec's patterns in declared order. Within a pattern every
// occurrence is tried left to right; the first one that validates after
// normalization wins.
func (s *Spec) Match(text string) (Match, bool) {
	for pi, re := range s.patterns {
		for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
			start, end, ok := firstGroup(loc)
			if !ok {
				continue
			}
			raw := strings.TrimSpace(text[start:end])
			if value, valid := s.Accept(raw); valid {
				return Match{Raw: raw, Value: value, Pattern: pi, Start: start, End: end}, true
			}
		}
	}
	return Match{}, false
}

// firstGroup returns the bounds of the first participating capture group.
func firstGroup(loc []int) (int, int, bool) {
	for g := 2; g+1 < len(loc); g += 2 {
		if loc[g] >= 0 && loc[g+1] > loc[g] {
			return loc[g], loc[g+1], true
		}
	}
	return 0, 0, false
}

// Catalog is an ordered, read-only set of field specs.
type Catalog struct {
	specs  []*Spec
	byName map[Name]*Spec
}

// NewCatalog builds a catalog from specs. Later specs with a duplicate name
// replace earlier ones but keep the earlier position.
func NewCatalog(specs ...*Spec) *Catalog {
	c := &Catalog{byName: make(map[Name]*Spec, len(specs))}
	for _, s := range specs {
		if s == nil {
			continue
		}
		if _, exists := c.byName[s.Name]; exists {
			for i := range c.specs {
				if c.specs[i].Name == s.Name {
					c.specs[i] = s
				}
			}
		} else {
			c.specs = append(c.specs, s)
		}
		c.byName[s.Name] = s
	}
	return c
}

// Specs returns the specs in catalog order.
func (c *Catalog) Specs() []*Spec {
	out := make([]*Spec, len(c.specs))
	copy(out, c.specs)
	return out
}

// Lookup returns the spec for a field.
func (c *Catalog) Lookup(n Name) (*Spec, bool) {
	s, ok := c.byName[n]
	return s, ok
}

// Names returns the field names in catalog order.
func (c *Catalog) Names() []Name {
	out := make([]Name, 0, len(c.specs))
	for _, s := range c.specs {
		out = append(out, s.Name)
	}
	return out
}

// Len returns the number of fields in the catalog.
func (c *Catalog) Len() int { return len(c.specs) }
