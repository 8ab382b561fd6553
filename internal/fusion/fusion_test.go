package fusion

import (
	"testing"

	"github.com/MeKo-Tech/ticketocr/internal/fields"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pat(n fields.Name, v string, c float64) fields.Candidate {
	return fields.Candidate{Field: n, Raw: v, Value: v, Confidence: c, Source: fields.SourcePattern}
}

func heu(n fields.Name, v string, c float64) fields.Candidate {
	return fields.Candidate{Field: n, Raw: v, Value: v, Confidence: c, Source: fields.SourceHeuristic}
}

func find(t *testing.T, fused []Field, n fields.Name) Field {
	t.Helper()
	for _, f := range fused {
		if f.Name == n {
			return f
		}
	}
	require.Failf(t, "missing field", "%s", n)
	return Field{}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"TK-2024-001", "tk 2024 001", 1},
		{"", "", 1},
		{"abc", "", 0},
		{"AB1234", "AB1235", 1 - 1.0/6},
		{"kitten", "sitting", 1 - 3.0/7},
		{"John Smith", "Jon Smith", 1 - 1.0/9},
	}
	for _, tt := range tests {
		t.Run(tt.a+"|"+tt.b, func(t *testing.T) {
			assert.InDelta(t, tt.want, Similarity(tt.a, tt.b), 1e-9)
			assert.InDelta(t, tt.want, Similarity(tt.b, tt.a), 1e-9)
		})
	}
}

func TestFuseAgreement(t *testing.T) {
	e := New()
	fused := e.Fuse(
		[]fields.Candidate{pat(fields.TicketNumber, "TK-2024-001", 85)},
		[]fields.Candidate{heu(fields.TicketNumber, "TK2024001", 90)},
	)
	f := find(t, fused, fields.TicketNumber)
	assert.Equal(t, fields.SourceAgreed, f.Source)
	assert.Equal(t, "TK2024001", f.Value, "value from the higher-confidence side")
	assert.Equal(t, 100.0, f.Confidence)

	fused = e.Fuse(
		[]fields.Candidate{pat(fields.Date, "15/01/24", 70)},
		[]fields.Candidate{heu(fields.Date, "15/01/24", 60)},
	)
	f = find(t, fused, fields.Date)
	assert.Equal(t, fields.SourceAgreed, f.Source)
	assert.Equal(t, 80.0, f.Confidence)
}

func TestFuseAgreementBonusCapped(t *testing.T) {
	fused := New().Fuse(
		[]fields.Candidate{pat(fields.Weight, "25.50", 95)},
		[]fields.Candidate{heu(fields.Weight, "25.50", 98)},
	)
	f := find(t, fused, fields.Weight)
	assert.Equal(t, 100.0, f.Confidence)
	assert.LessOrEqual(t, f.Confidence, 100.0)
}

func TestFuseDisagreementUsesPreferences(t *testing.T) {
	e := New()
	tests := []struct {
		name     string
		field    fields.Name
		p, h     fields.Candidate
		want     string
		wantConf float64
		source   fields.Source
	}{
		{
			name:  "pattern preferred field",
			field: fields.TicketNumber,
			p:     pat(fields.TicketNumber, "TK-2024-001", 60),
			h:     heu(fields.TicketNumber, "7781", 92),
			want:  "TK-2024-001", wantConf: 60, source: fields.SourcePattern,
		},
		{
			name:  "heuristic preferred field",
			field: fields.DriverName,
			p:     pat(fields.DriverName, "John Smith", 95),
			h:     heu(fields.DriverName, "Mary Brown", 70),
			want:  "Mary Brown", wantConf: 70, source: fields.SourceHeuristic,
		},
		{
			name:  "preferred below floor falls back to higher",
			field: fields.Weight,
			p:     pat(fields.Weight, "25.50", 50),
			h:     heu(fields.Weight, "32.00", 77),
			want:  "32.00", wantConf: 77, source: fields.SourceHeuristic,
		},
		{
			name:  "preferred below floor still wins when higher",
			field: fields.Weight,
			p:     pat(fields.Weight, "25.50", 40),
			h:     heu(fields.Weight, "32.00", 30),
			want:  "25.50", wantConf: 40, source: fields.SourcePattern,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := find(t, e.Fuse([]fields.Candidate{tt.p}, []fields.Candidate{tt.h}), tt.field)
			assert.Equal(t, tt.want, f.Value)
			assert.Equal(t, tt.wantConf, f.Confidence)
			assert.Equal(t, tt.source, f.Source)
		})
	}
}

func TestFuseSingleSource(t *testing.T) {
	fused := New().Fuse(
		[]fields.Candidate{pat(fields.Destination, "Port Esquivel", 20)},
		[]fields.Candidate{heu(fields.TicketNumber, "TK1234", 30)},
	)
	d := find(t, fused, fields.Destination)
	assert.Equal(t, "Port Esquivel", d.Value)
	assert.Equal(t, fields.SourcePattern, d.Source)

	tn := find(t, fused, fields.TicketNumber)
	assert.Equal(t, "TK1234", tn.Value)
	assert.Equal(t, fields.SourceHeuristic, tn.Source)
}

func TestFuseIsTotal(t *testing.T) {
	fused := New().Fuse(nil, []fields.Candidate{heu("permit", "P-1", 55)})
	require.Len(t, fused, len(fields.All())+1)
	for i, n := range fields.All() {
		assert.Equal(t, n, fused[i].Name)
		assert.False(t, fused[i].Found())
		assert.Zero(t, fused[i].Confidence)
		assert.Empty(t, fused[i].Source)
	}
	last := fused[len(fused)-1]
	assert.Equal(t, fields.Name("permit"), last.Name)
	assert.Equal(t, "P-1", last.Value)
}

func TestFuseExtraFieldsSorted(t *testing.T) {
	fused := New().Fuse(
		[]fields.Candidate{pat("zone", "Z", 60), pat("berth", "B2", 60)},
		[]fields.Candidate{heu("berth", "B2", 70)},
	)
	n := len(fused)
	assert.Equal(t, fields.Name("berth"), fused[n-2].Name)
	assert.Equal(t, fields.Name("zone"), fused[n-1].Name)
	assert.Equal(t, fields.SourceAgreed, fused[n-2].Source)
}

func TestFuseKeepsBestDuplicate(t *testing.T) {
	fused := New().Fuse([]fields.Candidate{
		pat(fields.Weight, "20.00", 40),
		pat(fields.Weight, "25.50", 80),
	}, nil)
	assert.Equal(t, "25.50", find(t, fused, fields.Weight).Value)
}

func TestOptions(t *testing.T) {
	e := New(
		WithPreferences(Preferences{fields.DriverName: fields.SourcePattern, fields.Date: "bogus"}),
		WithAgreementThreshold(0.5),
		WithAgreementBonus(3),
		WithConfidenceFloor(90),
	)
	assert.Equal(t, fields.SourcePattern, e.Preferred(fields.DriverName))
	assert.Equal(t, fields.SourceHeuristic, e.Preferred(fields.Date), "invalid sources are ignored")
	assert.Equal(t, fields.SourceHeuristic, e.Preferred("unknown"))

	f := find(t, e.Fuse(
		[]fields.Candidate{pat(fields.TruckRegistration, "AB1234", 70)},
		[]fields.Candidate{heu(fields.TruckRegistration, "AB1299", 60)},
	), fields.TruckRegistration)
	assert.Equal(t, fields.SourceAgreed, f.Source, "0.67 similarity agrees at threshold 0.5")
	assert.Equal(t, 73.0, f.Confidence)

	f = find(t, e.Fuse(
		[]fields.Candidate{pat(fields.Weight, "25.50", 85)},
		[]fields.Candidate{heu(fields.Weight, "38.75", 88)},
	), fields.Weight)
	assert.Equal(t, "38.75", f.Value, "preferred pattern is under the raised floor")

	p := e.Preferences()
	p[fields.Weight] = fields.SourceHeuristic
	assert.Equal(t, fields.SourcePattern, e.Preferred(fields.Weight), "Preferences returns a copy")
}

func TestImageConfidence(t *testing.T) {
	assert.Zero(t, ImageConfidence(nil))
	assert.Zero(t, ImageConfidence([]Field{{Name: fields.Date}}))

	fused := []Field{
		{Name: fields.TicketNumber, Value: "TK1", Confidence: 80, Source: fields.SourceAgreed},
		{Name: fields.Date, Value: "15/01/24", Confidence: 60, Source: fields.SourcePattern},
		{Name: fields.Weight},
	}
	// (80*1.5 + 60) / 2.5 = 72, plus 2*2 found fields
	assert.InDelta(t, 76, ImageConfidence(fused), 1e-9)

	many := make([]Field, 0, 9)
	for _, n := range fields.All() {
		many = append(many, Field{Name: n, Value: "x", Confidence: 95, Source: fields.SourceAgreed})
	}
	assert.Equal(t, 100.0, ImageConfidence(many))

	low := []Field{
		{Name: fields.Date, Value: "a", Confidence: 10, Source: fields.SourcePattern},
		{Name: fields.Weight, Value: "b", Confidence: 20, Source: fields.SourceHeuristic},
		{Name: fields.Commodity, Value: "c", Confidence: 30, Source: fields.SourceHeuristic},
		{Name: fields.Destination, Value: "d", Confidence: 40, Source: fields.SourceHeuristic},
		{Name: fields.Dispatcher, Value: "e", Confidence: 50, Source: fields.SourceHeuristic},
		{Name: fields.DriverName, Value: "f", Confidence: 60, Source: fields.SourceHeuristic},
	}
	assert.InDelta(t, 35+10, ImageConfidence(low), 1e-9, "count bonus caps at ten")
}

func TestVerification(t *testing.T) {
	assert.True(t, NeedsVerification(59.9, DefaultVerificationThreshold))
	assert.False(t, NeedsVerification(60, DefaultVerificationThreshold))

	fused := []Field{
		{Name: fields.TicketNumber, Value: "TK1", Confidence: 90},
		{Name: fields.Date, Value: "15/01/24", Confidence: 45},
		{Name: fields.Weight},
	}
	assert.Equal(t, []fields.Name{fields.Date, fields.Weight}, Unverified(fused, 60))
}
