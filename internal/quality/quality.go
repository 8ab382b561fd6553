// Package quality triages ticket photos before recognition. It measures
// exposure and contrast on a downsampled copy and proposes the preprocessing
// that should run before the image is handed to the OCR engine.
package quality

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/MeKo-Tech/ticketocr/internal/recognition"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
)

// Tier is a coarse quality grade.
type Tier string

const (
	Excellent Tier = "excellent"
	Good      Tier = "good"
	Fair      Tier = "fair"
	Poor      Tier = "poor"
)

// Analysis limits and thresholds, in 8-bit luma units.
const (
	AnalysisSize = 200

	DarkThreshold       = 80.0
	VeryDarkThreshold   = 50.0
	BrightThreshold     = 200.0
	VeryBrightThreshold = 230.0
	LowContrast         = 30.0

	// Margins that keep an unflagged image at "good" instead of "excellent".
	goodContrast  = 45.0
	goodDarkMin   = 100.0
	goodBrightMax = 185.0
)

// Params are the suggested preprocessing settings.
type Params struct {
	// Brightness is an additive luma delta in [-255,255].
	Brightness float64 `json:"brightness" yaml:"brightness"`
	// Contrast is a multiplier around mid-grey; 1 leaves the image unchanged.
	Contrast  float64 `json:"contrast" yaml:"contrast"`
	Grayscale bool    `json:"grayscale" yaml:"grayscale"`
	// Threshold binarizes at this luma when > 0.
	Threshold int `json:"threshold,omitempty" yaml:"threshold,omitempty"`
}

// DefaultParams is applied when preprocessing is forced on an image that
// triage did not flag.
func DefaultParams() Params {
	return Params{Contrast: 1.1, Grayscale: true}
}

// IsZero reports whether the params would leave an image unchanged.
func (p Params) IsZero() bool {
	return p.Brightness == 0 && (p.Contrast == 0 || p.Contrast == 1) && !p.Grayscale && p.Threshold == 0
}

// Report is the triage verdict for one image.
type Report struct {
	Tier               Tier     `json:"tier"`
	Brightness         float64  `json:"brightness"`
	Contrast           float64  `json:"contrast"`
	NeedsPreprocessing bool     `json:"needs_preprocessing"`
	Suggested          Params   `json:"suggested"`
	Issues             []string `json:"issues,omitempty"`
	Width              int      `json:"width,omitempty"`
	Height             int      `json:"height,omitempty"`
}

// AssessBytes decodes data and assesses it. A decode failure yields the most
// conservative verdict rather than an error.
func AssessBytes(data []byte) Report {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return undecodable()
	}
	return Assess(img)
}

// Assess grades a decoded image.
func Assess(img image.Image) Report {
	if img == nil || img.Bounds().Empty() {
		return undecodable()
	}
	b := img.Bounds()
	sample := imaging.Fit(img, AnalysisSize, AnalysisSize, imaging.Box)
	mean, dev := lumaStats(sample)
	r := grade(mean, dev)
	r.Width, r.Height = b.Dx(), b.Dy()
	return r
}

func undecodable() Report {
	return Report{
		Tier:               Poor,
		NeedsPreprocessing: true,
		Suggested:          Params{Grayscale: true, Contrast: 1.2},
		Issues:             []string{"undecodable"},
	}
}

// lumaStats returns mean luma and mean absolute deviation from it.
func lumaStats(img *image.NRGBA) (float64, float64) {
	pix := img.Pix
	n := len(pix) / 4
	if n == 0 {
		return 0, 0
	}
	lumas := make([]float64, n)
	var sum float64
	for i := 0; i < n; i++ {
		p := pix[i*4 : i*4+3]
		l := (float64(p[0]) + float64(p[1]) + float64(p[2])) / 3
		lumas[i] = l
		sum += l
	}
	mean := sum / float64(n)
	var dev float64
	for _, l := range lumas {
		dev += math.Abs(l - mean)
	}
	return mean, dev / float64(n)
}

func grade(mean, dev float64) Report {
	r := Report{Tier: Excellent, Brightness: mean, Contrast: dev}
	flagged := false

	switch {
	case mean < DarkThreshold:
		flagged = true
		r.Suggested.Brightness = 30
		r.Issues = append(r.Issues, "underexposed")
		r.Tier = Fair
		if mean < VeryDarkThreshold {
			r.Tier = Poor
		}
	case mean > BrightThreshold:
		flagged = true
		r.Suggested.Brightness = -20
		r.Issues = append(r.Issues, "overexposed")
		r.Tier = Fair
		if mean > VeryBrightThreshold {
			r.Tier = Poor
		}
	}

	if dev < LowContrast {
		flagged = true
		r.Suggested.Contrast = 1.3
		r.Suggested.Threshold = int(math.Round(math.Max(96, math.Min(160, mean))))
		r.Issues = append(r.Issues, "low contrast")
		if r.Tier == Excellent {
			r.Tier = Fair
		} else {
			r.Tier = Poor
		}
	}

	if flagged {
		r.NeedsPreprocessing = true
		r.Suggested.Grayscale = true
		if r.Suggested.Contrast == 0 {
			r.Suggested.Contrast = 1
		}
		return r
	}

	r.Suggested = DefaultParams()
	if dev < goodContrast || mean < goodDarkMin || mean > goodBrightMax {
		r.Tier = Good
	}
	return r
}

// SuggestOCR adapts base recognition options to the verdict. Poor images are
// read as a single column, which tolerates skew better than block mode.
func SuggestOCR(r Report, base recognition.Options) recognition.Options {
	opts := base
	if r.Tier == Poor && opts.PageSegMode == recognition.PSMSingleBlock {
		opts.PageSegMode = recognition.PSMSingleColumn
	}
	return opts
}
