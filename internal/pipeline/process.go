package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/MeKo-Tech/ticketocr/internal/barcode"
	"github.com/MeKo-Tech/ticketocr/internal/fields"
	"github.com/MeKo-Tech/ticketocr/internal/fusion"
	"github.com/MeKo-Tech/ticketocr/internal/quality"
	"github.com/MeKo-Tech/ticketocr/internal/recognition"
	"github.com/MeKo-Tech/ticketocr/internal/utils"
)

// Process runs triage, optional preprocessing, recognition, extraction,
// locating, and fusion for one encoded image. Only recognition failures are
// returned as errors; missing fields are reported as empty values.
func (p *Processor) Process(ctx context.Context, name string, data []byte) (*TicketResult, error) {
	if p.engine == nil {
		return nil, ErrNoEngine
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("process %s: %w", name, recognition.ErrEmptyImage)
	}
	start := time.Now()

	reportStage(ctx, StageTriage)
	report := quality.AssessBytes(data)

	codes := p.scanBarcodes(ctx, name, data)
	input, preprocessed := p.preprocess(ctx, name, data, report)

	opts := quality.SuggestOCR(report, p.cfg.Recognition)
	reportStage(ctx, StageRecognize)
	recStart := time.Now()
	res, err := p.engine.Recognize(ctx, input, opts)
	if err != nil {
		return nil, fmt.Errorf("process %s: %w", name, err)
	}
	recNs := time.Since(recStart).Nanoseconds()

	width, height := report.Width, report.Height
	if res.Width > 0 && res.Height > 0 {
		width, height = res.Width, res.Height
	}
	out := p.analyze(ctx, name, res, width, height, codes)
	out.Quality = &report
	out.Preprocessed = preprocessed
	out.Processing.RecognitionNs = recNs
	out.Processing.TotalNs = time.Since(start).Nanoseconds()

	p.logger.Debug("ticket processed",
		"name", name,
		"tier", report.Tier,
		"template", out.Template,
		"confidence", out.Confidence,
		"needs_verification", out.NeedsVerification,
		"duration", time.Since(start).Round(time.Millisecond))
	return out, nil
}

func (p *Processor) preprocess(ctx context.Context, name string, data []byte, report quality.Report) ([]byte, bool) {
	params := report.Suggested
	switch {
	case !p.cfg.Preprocess && !p.cfg.ForcePreprocess:
		return data, false
	case report.NeedsPreprocessing:
	case p.cfg.ForcePreprocess:
		if params.IsZero() {
			params = quality.DefaultParams()
		}
	default:
		return data, false
	}

	reportStage(ctx, StagePreprocess)
	out, err := utils.Preprocess(data, params)
	if err != nil {
		// The engine gets the original bytes and decides for itself.
		p.logger.Debug("preprocessing skipped", "name", name, "error", err)
		return data, false
	}
	return out, true
}

// ProcessText extracts fields from text recognized elsewhere. Line and word
// geometry is synthesized with TextConfidence.
func (p *Processor) ProcessText(ctx context.Context, name, text string) *TicketResult {
	start := time.Now()
	res := recognition.FromText(text, TextConfidence)
	out := p.analyze(ctx, name, res, 0, 0, nil)
	out.Processing.TotalNs = time.Since(start).Nanoseconds()
	return out
}

// ProcessRecognition runs extraction, locating, and fusion over an existing
// recognition result.
func (p *Processor) ProcessRecognition(ctx context.Context, name string, res *recognition.Result) *TicketResult {
	start := time.Now()
	out := p.analyze(ctx, name, res, res.Width, res.Height, nil)
	out.Processing.TotalNs = time.Since(start).Nanoseconds()
	return out
}

func (p *Processor) analyze(ctx context.Context, name string, res *recognition.Result, width, height int, codes []barcode.Result) *TicketResult {
	reportStage(ctx, StageLocate)
	pattern := p.withBarcodes(p.extractor.Extract(res), codes)
	tpl, heuristic := p.locator.Locate(res.Text, width, height)

	reportStage(ctx, StageFuse)
	fused := p.fusion.Fuse(pattern, heuristic)
	conf := fusion.ImageConfidence(fused)

	return &TicketResult{
		Name:                  name,
		Fields:                fused,
		Confidence:            conf,
		NeedsVerification:     fusion.NeedsVerification(conf, p.cfg.VerificationThreshold),
		Unverified:            fusion.Unverified(fused, p.cfg.VerificationThreshold),
		Template:              tpl.Name,
		Text:                  res.Text,
		Engine:                res.Engine,
		RecognitionConfidence: res.Confidence,
		PatternCandidates:     pattern,
		HeuristicCandidates:   heuristic,
		Barcodes:              codes,
	}
}

// scanBarcodes decodes symbols from the original image. Failures only cost
// the barcode hint.
func (p *Processor) scanBarcodes(ctx context.Context, name string, data []byte) []barcode.Result {
	if p.barcodes == nil {
		return nil
	}
	reportStage(ctx, StageBarcode)
	img, _, err := utils.DecodeImage(data)
	if err != nil {
		p.logger.Debug("barcode scan skipped", "name", name, "error", err)
		return nil
	}
	codes, err := p.barcodes.Decode(ctx, img)
	if err != nil {
		p.logger.Debug("barcode scan failed", "name", name, "error", err)
	}
	return codes
}

// withBarcodes replaces the pattern ticket number with the first decoded
// symbol that is a valid ticket number.
func (p *Processor) withBarcodes(pattern []fields.Candidate, codes []barcode.Result) []fields.Candidate {
	if len(codes) == 0 {
		return pattern
	}
	spec, ok := p.extractor.Catalog().Lookup(fields.TicketNumber)
	if !ok {
		return pattern
	}
	for _, c := range codes {
		value, ok := spec.Accept(c.Value)
		if !ok {
			continue
		}
		cand := fields.Candidate{
			Field:      fields.TicketNumber,
			Raw:        c.Value,
			Value:      value,
			Confidence: BarcodeConfidence,
			Source:     fields.SourcePattern,
			Context:    []string{"barcode " + string(c.Format)},
		}
		out := make([]fields.Candidate, 0, len(pattern)+1)
		out = append(out, cand)
		for _, pc := range pattern {
			if pc.Field != fields.TicketNumber {
				out = append(out, pc)
			}
		}
		return out
	}
	return pattern
}
