package main

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/ticketocr/internal/accuracy"
	"github.com/MeKo-Tech/ticketocr/internal/barcode"
	"github.com/MeKo-Tech/ticketocr/internal/testutil"
	"github.com/disintegration/imaging"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// options selects what gets generated.
type options struct {
	OutDir   string
	Images   bool
	Text     bool
	Barcodes bool
}

// variant is one degraded rendering of the sample ticket.
type variant struct {
	name   string
	modify func(*testutil.TicketImageConfig)
}

var variants = []variant{
	{"clean", func(*testutil.TicketImageConfig) {}},
	{"noisy", func(c *testutil.TicketImageConfig) { c.Noise = 0.05 }},
	{"blurred", func(c *testutil.TicketImageConfig) { c.Blur = 1.2 }},
	{"rotated", func(c *testutil.TicketImageConfig) { c.Rotation = 3 }},
	{"faded", func(c *testutil.TicketImageConfig) { c.Foreground = color.Gray{Y: 150} }},
}

func newRootCommand() *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:   "generate-test-data",
		Short: "Generate synthetic ticket scans and an annotation file",
		Long: `Renders the sample bauxite ticket in several degraded variants and
writes an annotations.yaml next to them that "ticketocr evaluate" can read.`,
		Example: `  generate-test-data
  generate-test-data --out testdata/tickets --barcodes
  generate-test-data --images=false`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

			path, err := generate(opts)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	}
	cmd.Flags().StringVarP(&opts.OutDir, "out", "o", filepath.Join("testdata", "tickets"), "output directory")
	cmd.Flags().BoolVar(&opts.Images, "images", true, "render ticket scans")
	cmd.Flags().BoolVar(&opts.Text, "text", true, "add recognized-text cases")
	cmd.Flags().BoolVar(&opts.Barcodes, "barcodes", false, "add a scan stamped with a QR code of the ticket number")
	cmd.Flags().BoolP("verbose", "v", false, "verbose output")
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// generate writes the requested data into opts.OutDir and returns the path of
// the annotation file.
func generate(opts options) (string, error) {
	if !opts.Images && !opts.Text && !opts.Barcodes {
		return "", fmt.Errorf("nothing to generate")
	}
	if err := testutil.EnsureDir(opts.OutDir); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	set := accuracy.AnnotationSet{Description: "synthetic delivery tickets"}
	if opts.Text {
		for _, f := range testutil.SampleFixtures() {
			set.Cases = append(set.Cases, accuracy.Case{
				Name:     f.Name,
				Text:     f.Text,
				Template: f.Template,
				Expected: f.Expected,
			})
		}
	}

	if opts.Images {
		for _, v := range variants {
			cfg := testutil.DefaultTicketImageConfig()
			v.modify(&cfg)
			img, err := testutil.GenerateTicketImage(cfg)
			if err != nil {
				return "", fmt.Errorf("render %s: %w", v.name, err)
			}
			c, err := saveScan(opts.OutDir, v.name, img)
			if err != nil {
				return "", err
			}
			set.Cases = append(set.Cases, c)
		}
	}

	if opts.Barcodes {
		img, err := stampedTicket(testutil.SampleExpected()["ticketNumber"])
		if err != nil {
			return "", err
		}
		c, err := saveScan(opts.OutDir, "stamped", img)
		if err != nil {
			return "", err
		}
		set.Cases = append(set.Cases, c)
	}

	data, err := yaml.Marshal(set)
	if err != nil {
		return "", fmt.Errorf("failed to encode annotations: %w", err)
	}
	path := filepath.Join(opts.OutDir, "annotations.yaml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to write annotations: %w", err)
	}
	slog.Info("Test data generated", "dir", opts.OutDir, "cases", len(set.Cases))
	return path, nil
}

func saveScan(dir, name string, img image.Image) (accuracy.Case, error) {
	file := name + ".png"
	if err := imaging.Save(img, filepath.Join(dir, file)); err != nil {
		return accuracy.Case{}, fmt.Errorf("failed to save %s: %w", file, err)
	}
	slog.Debug("Scan written", "file", file)
	return accuracy.Case{
		Name:     name,
		File:     file,
		Template: "bauxite",
		Expected: testutil.SampleExpected(),
	}, nil
}

// stampedTicket renders the sample ticket with a QR code of ticket in the
// bottom right corner.
func stampedTicket(ticket string) (image.Image, error) {
	base, err := testutil.GenerateTicketImage(testutil.DefaultTicketImageConfig())
	if err != nil {
		return nil, err
	}
	sym, err := barcode.Encode(barcode.FormatQR, ticket, 160, 160)
	if err != nil {
		return nil, err
	}
	out := image.NewRGBA(base.Bounds())
	draw.Draw(out, out.Bounds(), base, base.Bounds().Min, draw.Src)
	b := out.Bounds()
	at := image.Rect(b.Max.X-180, b.Max.Y-180, b.Max.X-20, b.Max.Y-20)
	draw.Draw(out, at, sym, sym.Bounds().Min, draw.Src)
	return out, nil
}
