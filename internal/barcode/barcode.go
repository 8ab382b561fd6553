// Package barcode decodes 1D and 2D symbols printed on ticket scans. Many
// weighbridge printers encode the ticket number next to the printed text,
// and a decoded symbol is checksummed where plain text recognition is not.
package barcode

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"strings"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/aztec"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// Format is a barcode symbology, named as gozxing names it.
type Format string

const (
	FormatQR         Format = "QR_CODE"
	FormatDataMatrix Format = "DATA_MATRIX"
	FormatAztec      Format = "AZTEC"
	FormatCode128    Format = "CODE_128"
	FormatCode39     Format = "CODE_39"
	FormatEAN8       Format = "EAN_8"
	FormatEAN13      Format = "EAN_13"
	FormatUPCA       Format = "UPC_A"
	FormatUPCE       Format = "UPC_E"
	FormatITF        Format = "ITF"
	FormatCodabar    Format = "CODABAR"
)

// AllFormats lists every supported symbology, 2D first.
func AllFormats() []Format {
	return []Format{
		FormatQR, FormatDataMatrix, FormatAztec,
		FormatCode128, FormatCode39, FormatEAN8, FormatEAN13,
		FormatUPCA, FormatUPCE, FormatITF, FormatCodabar,
	}
}

// ParseFormat maps a case-insensitive name such as "qr_code" or "code-128"
// to a Format.
func ParseFormat(s string) (Format, bool) {
	name := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", "_"))
	for _, f := range AllFormats() {
		if string(f) == name || strings.ReplaceAll(string(f), "_", "") == name {
			return f, true
		}
	}
	return "", false
}

// Point is an integer point in image coordinates.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Result is one decoded symbol.
type Result struct {
	Format Format  `json:"format"`
	Value  string  `json:"value"`
	Points []Point `json:"points,omitempty"`
}

// Bounds returns the rectangle spanned by the result points.
func (r Result) Bounds() image.Rectangle {
	if len(r.Points) == 0 {
		return image.Rectangle{}
	}
	minX, minY := r.Points[0].X, r.Points[0].Y
	maxX, maxY := minX, minY
	for _, p := range r.Points[1:] {
		minX, maxX = min(minX, p.X), max(maxX, p.X)
		minY, maxY = min(minY, p.Y), max(maxY, p.Y)
	}
	return image.Rect(minX, minY, maxX+1, maxY+1)
}

// Options control decoding.
type Options struct {
	// Formats restricts the symbologies tried. Empty means all.
	Formats []Format
	// TryHarder trades speed for a more exhaustive search.
	TryHarder bool
	// ROI restricts decoding to part of the image when it overlaps it.
	ROI image.Rectangle
}

// Decoder finds symbols in an image.
type Decoder interface {
	Decode(ctx context.Context, img image.Image) ([]Result, error)
}

// ZXing decodes with the gozxing readers. It is safe for concurrent use; a
// fresh set of readers is built per call.
type ZXing struct {
	opts Options
}

// New creates a gozxing-backed decoder.
func New(opts Options) *ZXing {
	return &ZXing{opts: opts}
}

// Decode tries every configured symbology once and returns the distinct
// symbols found. An image without symbols yields no results and no error.
func (z *ZXing) Decode(ctx context.Context, img image.Image) ([]Result, error) {
	if img == nil {
		return nil, nil
	}
	if roi := z.opts.ROI.Intersect(img.Bounds()); !roi.Empty() {
		crop := image.NewGray(image.Rect(0, 0, roi.Dx(), roi.Dy()))
		draw.Draw(crop, crop.Bounds(), img, roi.Min, draw.Src)
		img = crop
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, err
	}

	var hints map[gozxing.DecodeHintType]interface{}
	if z.opts.TryHarder {
		hints = map[gozxing.DecodeHintType]interface{}{gozxing.DecodeHintType_TRY_HARDER: true}
	}

	formats := z.opts.Formats
	if len(formats) == 0 {
		formats = AllFormats()
	}

	seen := make(map[string]bool)
	var out []Result
	for _, f := range formats {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		reader := newReader(f)
		if reader == nil {
			continue
		}
		res, err := reader.Decode(bmp, hints)
		if err != nil || res == nil {
			// gozxing reports "not found" as an error.
			continue
		}
		r := convert(res)
		key := string(r.Format) + "\x00" + r.Value
		if r.Value == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out, nil
}

func newReader(f Format) gozxing.Reader {
	switch f {
	case FormatQR:
		return qrcode.NewQRCodeReader()
	case FormatDataMatrix:
		return datamatrix.NewDataMatrixReader()
	case FormatAztec:
		return aztec.NewAztecReader()
	case FormatCode128:
		return oned.NewCode128Reader()
	case FormatCode39:
		return oned.NewCode39Reader()
	case FormatEAN8:
		return oned.NewEAN8Reader()
	case FormatEAN13:
		return oned.NewEAN13Reader()
	case FormatUPCA:
		return oned.NewUPCAReader()
	case FormatUPCE:
		return oned.NewUPCEReader()
	case FormatITF:
		return oned.NewITFReader()
	case FormatCodabar:
		return oned.NewCodaBarReader()
	}
	return nil
}

func convert(res *gozxing.Result) Result {
	out := Result{
		Format: Format(res.GetBarcodeFormat().String()),
		Value:  strings.TrimSpace(res.GetText()),
	}
	for _, p := range res.GetResultPoints() {
		out.Points = append(out.Points, Point{X: int(p.GetX()), Y: int(p.GetY())})
	}
	return out
}

// Encode renders content as a symbol of w x h pixels. Only QR codes and
// Code 128 can be written.
func Encode(f Format, content string, w, h int) (image.Image, error) {
	var (
		writer gozxing.Writer
		format gozxing.BarcodeFormat
	)
	switch f {
	case FormatQR:
		writer, format = qrcode.NewQRCodeWriter(), gozxing.BarcodeFormat_QR_CODE
	case FormatCode128:
		writer, format = oned.NewCode128Writer(), gozxing.BarcodeFormat_CODE_128
	default:
		return nil, fmt.Errorf("cannot encode %s", f)
	}
	m, err := writer.Encode(content, format, w, h, nil)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", f, err)
	}
	return m, nil
}
