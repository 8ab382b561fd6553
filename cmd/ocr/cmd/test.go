package cmd

import (
	"fmt"
	"image"
	"image/draw"
	"strings"
	"time"

	"github.com/MeKo-Tech/ticketocr/internal/utils"
	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// selfTestText is rendered and read back by the test command.
const selfTestText = "TICKET 12345"

// testCmd represents the test command.
var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test the recognition backend setup",
	Long: `Check that the OCR backend is linked and its language data can be
loaded, by rendering a short line of text and reading it back.

If the check fails, make sure Tesseract and its language data are
installed, or point --tessdata at the tessdata directory.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		cfg := GetConfig()
		if err := applyRecognitionFlags(cmd, cfg); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(out, "Testing recognition backend...")

		engine, err := newEngine(cmd, cfg)
		if err != nil {
			_, _ = fmt.Fprintf(out, "FAIL backend: %v\n", err)
			return err
		}
		_, _ = fmt.Fprintf(out, "ok   backend: %s\n", engine.Name())

		data, err := renderSelfTest()
		if err != nil {
			return err
		}
		res, err := engine.Recognize(cmd.Context(), data, cfg.RecognitionOptions())
		if err != nil {
			_, _ = fmt.Fprintf(out, "FAIL recognition (%s): %v\n", cfg.Recognition.Language, err)
			return err
		}

		got := strings.Join(strings.Fields(res.Text), " ")
		if !strings.Contains(strings.ToUpper(got), "12345") {
			_, _ = fmt.Fprintf(out, "WARN recognition: read %q, expected %q\n", got, selfTestText)
			return nil
		}
		_, _ = fmt.Fprintf(out, "ok   recognition: %q (%.0f%% confidence, %v)\n",
			got, res.Confidence, res.Duration.Round(time.Millisecond))
		_, _ = fmt.Fprintln(out, "All checks passed.")
		return nil
	},
}

// renderSelfTest draws selfTestText black on white and scales it to a size
// Tesseract reads reliably.
func renderSelfTest() ([]byte, error) {
	face := basicfont.Face7x13
	w := font.MeasureString(face, selfTestText).Ceil() + 20
	img := image.NewGray(image.Rect(0, 0, w, 30))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	d := &font.Drawer{Dst: img, Src: image.Black, Face: face, Dot: fixed.P(10, 20)}
	d.DrawString(selfTestText)

	scaled := imaging.Resize(img, w*4, 0, imaging.Lanczos)
	return utils.EncodePNG(scaled)
}

func init() {
	rootCmd.AddCommand(testCmd)
	addRecognitionFlags(testCmd)
}
