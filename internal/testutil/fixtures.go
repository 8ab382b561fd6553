package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// SampleTicketText is a complete bauxite delivery ticket as a recognizer
// would report it.
const SampleTicketText = `JAMAICA BAUXITE MINING LTD
DELIVERY TICKET
Ticket No: TK-2024-001
Date: 15/01/2024
Truck Reg: AB-1234
Driver: John Smith
Commodity: Bauxite
Net Weight: 25.5 tons
Loading Point: St Jago Mine
Destination: Port Esquivel
Dispatcher: A. Bailey`

// SampleTicketLines returns SampleTicketText split into lines.
func SampleTicketLines() []string {
	return strings.Split(SampleTicketText, "\n")
}

// TicketFixture is a ticket text with the values a correct extraction yields.
type TicketFixture struct {
	Name     string            `yaml:"name"`
	Text     string            `yaml:"text,omitempty"`
	File     string            `yaml:"file,omitempty"`
	Template string            `yaml:"template,omitempty"`
	Expected map[string]string `yaml:"expected"`
}

// SampleExpected returns the normalized field values of SampleTicketText.
func SampleExpected() map[string]string {
	return map[string]string{
		"ticketNumber":      "TK-2024-001",
		"date":              "15/01/24",
		"truckRegistration": "AB1234",
		"driverName":        "John Smith",
		"commodity":         "Bauxite",
		"weight":            "25.50",
		"loadingLocation":   "St Jago Mine",
		"destination":       "Port Esquivel",
		"dispatcher":        "A. Bailey",
	}
}

// SampleFixtures returns a small annotated set: the full bauxite ticket and a
// sparse generic receipt that only carries a ticket number.
func SampleFixtures() []TicketFixture {
	return []TicketFixture{
		{
			Name:     "bauxite-full",
			Text:     SampleTicketText,
			Template: "bauxite",
			Expected: SampleExpected(),
		},
		{
			Name:     "generic-sparse",
			Text:     "Ticket No: 12345\nsome noise here",
			Template: "generic",
			Expected: map[string]string{"ticketNumber": "12345"},
		},
	}
}

type annotationFile struct {
	Description string          `yaml:"description,omitempty"`
	Cases       []TicketFixture `yaml:"cases"`
}

// WriteAnnotations writes fixtures as an annotation YAML file into dir and
// returns its path.
func WriteAnnotations(t *testing.T, dir string, fixtures []TicketFixture) string {
	t.Helper()

	data, err := yaml.Marshal(annotationFile{Description: "test fixtures", Cases: fixtures})
	require.NoError(t, err)
	path := filepath.Join(dir, "annotations.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

// WriteTextFile writes content to dir/name and returns the path.
func WriteTextFile(t *testing.T, dir, name, content string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	require.NoError(t, EnsureDir(filepath.Dir(path)))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
