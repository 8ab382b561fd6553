package utils

import (
	"bytes"
	"image"
	"image/color"

	"github.com/MeKo-Tech/ticketocr/internal/quality"
	"github.com/disintegration/imaging"
)

// Preprocess applies the suggested corrections to encoded image data and
// returns the result encoded as PNG.
func Preprocess(data []byte, p quality.Params) ([]byte, error) {
	img, _, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}
	return EncodePNG(ApplyParams(img, p))
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, &ImageProcessingError{Operation: "encode", Err: err}
	}
	return buf.Bytes(), nil
}

// ApplyParams runs grayscale, brightness, contrast, and threshold in that order.
func ApplyParams(img image.Image, p quality.Params) *image.NRGBA {
	out := imaging.Clone(img)
	if p.Grayscale {
		out = imaging.Grayscale(out)
	}
	if p.Brightness != 0 {
		out = imaging.AdjustBrightness(out, clampPercent(p.Brightness/255*100))
	}
	if p.Contrast > 0 && p.Contrast != 1 {
		out = imaging.AdjustContrast(out, clampPercent((p.Contrast-1)*100))
	}
	if p.Threshold > 0 {
		out = Binarize(out, uint8(min(p.Threshold, 255)))
	}
	return out
}

// Binarize maps pixels at or above threshold luma to white and the rest to black.
func Binarize(img image.Image, threshold uint8) *image.NRGBA {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		luma := (uint16(c.R) + uint16(c.G) + uint16(c.B)) / 3
		if luma >= uint16(threshold) {
			return color.NRGBA{R: 255, G: 255, B: 255, A: c.A}
		}
		return color.NRGBA{A: c.A}
	})
}

func clampPercent(v float64) float64 {
	if v < -100 {
		return -100
	}
	if v > 100 {
		return 100
	}
	return v
}
