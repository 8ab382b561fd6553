package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MeKo-Tech/ticketocr/internal/fields"
)

// ToJSONTicket serializes a single TicketResult to pretty JSON.
func ToJSONTicket(res *TicketResult) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	b, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToJSONTickets serializes multiple TicketResult entries to pretty JSON.
func ToJSONTickets(results []*TicketResult) (string, error) {
	b, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToPlainTextTicket renders one line per field: name, value, confidence, and
// source, followed by the ticket summary. Unresolved fields show "-".
func ToPlainTextTicket(res *TicketResult) (string, error) {
	if res == nil {
		return "", errors.New("nil result")
	}
	var sb strings.Builder
	width := 0
	for _, f := range res.Fields {
		width = max(width, len(f.Name))
	}
	for _, f := range res.Fields {
		value := f.Value
		if value == "" {
			value = "-"
		}
		line := fmt.Sprintf("%-*s  %s", width, f.Name, value)
		if f.Found() {
			line += fmt.Sprintf("  (%.0f%%, %s)", f.Confidence, f.Source)
		}
		sb.WriteString(line + "\n")
	}
	fmt.Fprintf(&sb, "confidence: %.1f%%  template: %s", res.Confidence, res.Template)
	if res.NeedsVerification {
		sb.WriteString("  NEEDS VERIFICATION")
	}
	return sb.String(), nil
}

// ValidateTicketResult performs simple consistency checks.
func ValidateTicketResult(res *TicketResult) error {
	if res == nil {
		return errors.New("nil result")
	}
	if res.Confidence < 0 || res.Confidence > 100 {
		return fmt.Errorf("ticket confidence %v out of range", res.Confidence)
	}
	seen := make(map[fields.Name]bool, len(res.Fields))
	for i, f := range res.Fields {
		if seen[f.Name] {
			return fmt.Errorf("field %d (%s) is duplicated", i, f.Name)
		}
		seen[f.Name] = true
		if f.Confidence < 0 || f.Confidence > 100 {
			return fmt.Errorf("field %s confidence %v out of range", f.Name, f.Confidence)
		}
		if !f.Found() && f.Confidence != 0 {
			return fmt.Errorf("field %s is empty but has confidence %v", f.Name, f.Confidence)
		}
	}
	for _, n := range fields.All() {
		if !seen[n] {
			return fmt.Errorf("field %s missing from result", n)
		}
	}
	return nil
}
