package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/MeKo-Tech/ticketocr/internal/accuracy"
	"github.com/MeKo-Tech/ticketocr/internal/fields"
	"github.com/MeKo-Tech/ticketocr/internal/pipeline"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// evaluateCmd scores the pipeline against an annotated ticket set.
var evaluateCmd = &cobra.Command{
	Use:   "evaluate ANNOTATIONS",
	Short: "Measure extraction accuracy against annotated tickets",
	Long: `Run the pipeline over the cases of an annotation file and compare the
extracted fields with the expected values. Cases carry either recognized
text or an image path relative to the annotation file.

With --locator-only, only the template-based locator is measured over the
text cases, which shows per-field precision and recall.

Examples:
  ticketocr evaluate testdata/annotations.yaml
  ticketocr evaluate annotations.yaml --format json --min-accuracy 85
  ticketocr evaluate annotations.yaml --locator-only`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if err := applyRecognitionFlags(cmd, cfg); err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		if format != "text" && format != "json" && format != "yaml" {
			return fmt.Errorf("unsupported format: %s (must be text, json or yaml)", format)
		}

		set, err := accuracy.LoadAnnotations(args[0])
		if err != nil {
			return err
		}

		if locatorOnly, _ := cmd.Flags().GetBool("locator-only"); locatorOnly {
			proc, err := buildProcessor(cfg, nil)
			if err != nil {
				return err
			}
			bench := accuracy.BenchmarkLocator(proc.Locator(), set)
			out, err := renderBenchmark(bench, format)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), out)
			return err
		}

		var proc *pipeline.Processor
		if hasImageCases(set) {
			proc, err = imageProcessor(cmd, cfg)
		} else {
			proc, err = buildProcessor(cfg, nil)
		}
		if err != nil {
			return err
		}
		defer func() { _ = proc.Close() }()

		reports, err := accuracy.Run(cmd.Context(), proc, set)
		if err != nil {
			return err
		}
		summary := accuracy.Summarize(reports)

		var out string
		switch format {
		case "json":
			b, err := json.MarshalIndent(evaluation{Reports: reports, Summary: summary}, "", "  ")
			if err != nil {
				return err
			}
			out = string(b) + "\n"
		case "yaml":
			b, err := yaml.Marshal(evaluation{Reports: reports, Summary: summary})
			if err != nil {
				return err
			}
			out = string(b)
		default:
			out = accuracy.FormatText(reports)
		}
		if _, err := fmt.Fprint(cmd.OutOrStdout(), out); err != nil {
			return err
		}

		minAcc, _ := cmd.Flags().GetFloat64("min-accuracy")
		if minAcc > 0 && summary.AverageAccuracy < minAcc {
			return fmt.Errorf("average accuracy %.1f%% is below %.1f%%", summary.AverageAccuracy, minAcc)
		}
		return nil
	},
}

type evaluation struct {
	Reports []accuracy.Report `json:"reports" yaml:"reports"`
	Summary accuracy.Summary  `json:"summary" yaml:"summary"`
}

func hasImageCases(set *accuracy.AnnotationSet) bool {
	for _, c := range set.Cases {
		if c.File != "" {
			return true
		}
	}
	return false
}

func renderBenchmark(b accuracy.LocatorBenchmark, format string) (string, error) {
	switch format {
	case "json":
		data, err := json.MarshalIndent(b, "", "  ")
		if err != nil {
			return "", err
		}
		return string(data) + "\n", nil
	case "yaml":
		data, err := yaml.Marshal(b)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	names := make([]fields.Name, 0, len(b.Fields))
	for n := range b.Fields {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return fields.Order(names[i]) < fields.Order(names[j]) })

	var sb strings.Builder
	fmt.Fprintf(&sb, "%-18s %8s %8s %8s %9s %7s %8s\n",
		"FIELD", "EXPECTED", "DETECTED", "CORRECT", "PRECISION", "RECALL", "AVG CONF")
	for _, n := range names {
		s := b.Fields[n]
		fmt.Fprintf(&sb, "%-18s %8d %8d %8d %8.1f%% %6.1f%% %7.1f%%\n",
			n, s.Expected, s.Detected, s.Correct, s.Precision*100, s.Recall*100, s.AverageConfidence)
	}
	fmt.Fprintf(&sb, "\n%d cases, locator accuracy %.1f%%\n", b.Cases, b.Accuracy)
	return sb.String(), nil
}

func init() {
	rootCmd.AddCommand(evaluateCmd)
	evaluateCmd.Flags().StringP("format", "f", "text", "output format (text, json, yaml)")
	evaluateCmd.Flags().Float64("min-accuracy", 0, "fail when the average accuracy is below this percentage")
	evaluateCmd.Flags().Bool("locator-only", false, "measure the template locator alone on text cases")
	addRecognitionFlags(evaluateCmd)
}
