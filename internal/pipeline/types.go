package pipeline

import (
	"context"

	"github.com/MeKo-Tech/ticketocr/internal/barcode"
	"github.com/MeKo-Tech/ticketocr/internal/fields"
	"github.com/MeKo-Tech/ticketocr/internal/fusion"
	"github.com/MeKo-Tech/ticketocr/internal/quality"
)

// TicketResult is the per-image extraction output.
type TicketResult struct {
	Name string `json:"name,omitempty"`

	// Fields holds one fused value per field in canonical order.
	Fields            []fusion.Field `json:"fields"`
	Confidence        float64        `json:"confidence"`
	NeedsVerification bool           `json:"needs_verification"`
	Unverified        []fields.Name  `json:"unverified,omitempty"`
	Template          string         `json:"template"`

	Quality      *quality.Report `json:"quality,omitempty"`
	Preprocessed bool            `json:"preprocessed"`

	Text                  string  `json:"text"`
	Engine                string  `json:"engine,omitempty"`
	RecognitionConfidence float64 `json:"recognition_confidence"`

	// Candidate sets before fusion, kept for auditing.
	PatternCandidates   []fields.Candidate `json:"pattern_candidates,omitempty"`
	HeuristicCandidates []fields.Candidate `json:"heuristic_candidates,omitempty"`

	Barcodes []barcode.Result `json:"barcodes,omitempty"`

	Processing struct {
		RecognitionNs int64 `json:"recognition_ns"`
		TotalNs       int64 `json:"total_ns"`
	} `json:"processing"`
}

// Field returns the fused field with the given name.
func (r *TicketResult) Field(n fields.Name) (fusion.Field, bool) {
	for _, f := range r.Fields {
		if f.Name == n {
			return f, true
		}
	}
	return fusion.Field{}, false
}

// Values maps every found field to its value.
func (r *TicketResult) Values() map[fields.Name]string {
	out := make(map[fields.Name]string, len(r.Fields))
	for _, f := range r.Fields {
		if f.Found() {
			out[f.Name] = f.Value
		}
	}
	return out
}

// Stage names a step of the per-image pipeline.
type Stage string

const (
	StageTriage     Stage = "triage"
	StageBarcode    Stage = "barcode"
	StagePreprocess Stage = "preprocess"
	StageRecognize  Stage = "recognize"
	StageLocate     Stage = "locate"
	StageFuse       Stage = "fuse"
)

// Progress is the nominal completion percentage when a stage starts.
func (s Stage) Progress() int {
	switch s {
	case StageTriage:
		return 5
	case StageBarcode:
		return 8
	case StagePreprocess:
		return 10
	case StageRecognize:
		return 20
	case StageLocate:
		return 60
	case StageFuse:
		return 80
	}
	return 0
}

// StageFunc receives stage transitions of a running Process call.
type StageFunc func(stage Stage)

type stageKey struct{}

// WithStageFunc attaches a stage observer to ctx.
func WithStageFunc(ctx context.Context, fn StageFunc) context.Context {
	return context.WithValue(ctx, stageKey{}, fn)
}

func reportStage(ctx context.Context, s Stage) {
	if fn, ok := ctx.Value(stageKey{}).(StageFunc); ok && fn != nil {
		fn(s)
	}
}
