package accuracy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Case is one annotated ticket: either recognized text or an image file,
// plus the field values a correct extraction yields.
type Case struct {
	Name     string            `yaml:"name"`
	Text     string            `yaml:"text,omitempty"`
	File     string            `yaml:"file,omitempty"`
	Template string            `yaml:"template,omitempty"`
	Expected map[string]string `yaml:"expected"`
}

// AnnotationSet is the content of an annotation file.
type AnnotationSet struct {
	Description string `yaml:"description,omitempty"`
	Cases       []Case `yaml:"cases"`

	dir string
}

// LoadAnnotations reads an annotation set from a YAML file. Relative image
// paths are resolved against the file's directory.
func LoadAnnotations(path string) (*AnnotationSet, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the caller
	if err != nil {
		return nil, fmt.Errorf("read annotations: %w", err)
	}
	set, err := ParseAnnotations(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	set.dir = filepath.Dir(path)
	return set, nil
}

// ParseAnnotations decodes and validates an annotation set.
func ParseAnnotations(data []byte) (*AnnotationSet, error) {
	var set AnnotationSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parse annotations: %w", err)
	}
	if len(set.Cases) == 0 {
		return nil, errors.New("annotation set has no cases")
	}
	for i := range set.Cases {
		c := &set.Cases[i]
		if c.Name == "" {
			c.Name = fmt.Sprintf("case-%d", i+1)
		}
		switch {
		case c.Text == "" && c.File == "":
			return nil, fmt.Errorf("case %s: needs text or file", c.Name)
		case c.Text != "" && c.File != "":
			return nil, fmt.Errorf("case %s: text and file are mutually exclusive", c.Name)
		case len(c.Expected) == 0:
			return nil, fmt.Errorf("case %s: no expected fields", c.Name)
		}
	}
	return &set, nil
}

// Resolve returns the path of an image referenced by a case.
func (s *AnnotationSet) Resolve(file string) string {
	if filepath.IsAbs(file) || s.dir == "" {
		return file
	}
	return filepath.Join(s.dir, file)
}
