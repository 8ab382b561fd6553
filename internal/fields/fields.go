// Package fields holds the delivery-ticket field catalog: the field names,
// the ordered pattern families used to find each field in recognized text,
// and the validators and normalizers that turn raw matches into canonical values.
package fields

import (
	"image"
	"math"
)

// Name identifies a ticket field.
type Name string

// Ticket fields in canonical order.
const (
	TicketNumber      Name = "ticketNumber"
	Date              Name = "date"
	TruckRegistration Name = "truckRegistration"
	DriverName        Name = "driverName"
	Commodity         Name = "commodity"
	Weight            Name = "weight"
	LoadingLocation   Name = "loadingLocation"
	Destination       Name = "destination"
	Dispatcher        Name = "dispatcher"
)

var canonicalOrder = []Name{
	TicketNumber, Date, TruckRegistration, DriverName, Commodity,
	Weight, LoadingLocation, Destination, Dispatcher,
}

// All returns every known field name in canonical order.
func All() []Name {
	out := make([]Name, len(canonicalOrder))
	copy(out, canonicalOrder)
	return out
}

// Order returns the canonical position of a field. Unknown fields sort last.
func Order(n Name) int {
	for i, c := range canonicalOrder {
		if c == n {
			return i
		}
	}
	return len(canonicalOrder)
}

// Source tags where a field value came from.
type Source string

const (
	SourcePattern   Source = "pattern"
	SourceHeuristic Source = "heuristic"
	SourceAgreed    Source = "agreed"
)

// RelativeBox is a bounding box expressed as fractions of the image size.
type RelativeBox struct {
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// Scale converts the relative box to pixels for an image of the given size.
func (b RelativeBox) Scale(width, height int) image.Rectangle {
	x := int(math.Round(b.X * float64(width)))
	y := int(math.Round(b.Y * float64(height)))
	w := int(math.Round(b.Width * float64(width)))
	h := int(math.Round(b.Height * float64(height)))
	return image.Rect(x, y, x+w, y+h)
}

// Candidate is one detector's proposal for a field. Candidates are values and
// are never modified after they are produced.
type Candidate struct {
	Field      Name             `json:"field"`
	Raw        string           `json:"raw"`
	Value      string           `json:"value"`
	Confidence float64          `json:"confidence"`
	Source     Source           `json:"source"`
	Region     *RelativeBox     `json:"region,omitempty"`
	Box        *image.Rectangle `json:"box,omitempty"`
	Context    []string         `json:"context,omitempty"`
}

// ClampConfidence limits a confidence score to [0,100].
func ClampConfidence(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}
