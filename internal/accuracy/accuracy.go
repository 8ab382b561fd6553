// Package accuracy scores extracted ticket fields against annotated
// expectations.
package accuracy

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/MeKo-Tech/ticketocr/internal/fields"
	"github.com/MeKo-Tech/ticketocr/internal/fusion"
	"github.com/MeKo-Tech/ticketocr/internal/pipeline"
)

// PassThreshold is the accuracy, in percent, a case needs to pass.
const PassThreshold = 70.0

// FieldScore compares one extracted value with its expectation.
type FieldScore struct {
	Field      fields.Name `json:"field" yaml:"field"`
	Expected   string      `json:"expected" yaml:"expected"`
	Actual     string      `json:"actual" yaml:"actual"`
	Confidence float64     `json:"confidence" yaml:"confidence"`
	// Accuracy is the string similarity in percent.
	Accuracy float64 `json:"accuracy" yaml:"accuracy"`
}

// Report is the evaluation of one ticket.
type Report struct {
	Name     string        `json:"name" yaml:"name"`
	Accuracy float64       `json:"accuracy" yaml:"accuracy"`
	Fields   []FieldScore  `json:"fields" yaml:"fields"`
	Passed   bool          `json:"passed" yaml:"passed"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
	Duration time.Duration `json:"duration_ns" yaml:"duration_ns"`
}

// Evaluate scores every expected field of res. A field the pipeline did not
// resolve scores zero. The overall accuracy is the mean over expected fields.
func Evaluate(res *pipeline.TicketResult, expected map[string]string) Report {
	rep := Report{}
	if res != nil {
		rep.Name = res.Name
	}
	names := make([]fields.Name, 0, len(expected))
	for k := range expected {
		names = append(names, fields.Name(k))
	}
	sort.Slice(names, func(i, j int) bool {
		oi, oj := fields.Order(names[i]), fields.Order(names[j])
		if oi != oj {
			return oi < oj
		}
		return names[i] < names[j]
	})

	total := 0.0
	for _, n := range names {
		score := FieldScore{Field: n, Expected: expected[string(n)]}
		if res != nil {
			if f, ok := res.Field(n); ok && f.Found() {
				score.Actual = f.Value
				score.Confidence = f.Confidence
				score.Accuracy = fusion.Similarity(f.Value, score.Expected) * 100
			}
		}
		total += score.Accuracy
		rep.Fields = append(rep.Fields, score)
	}
	if len(names) > 0 {
		rep.Accuracy = total / float64(len(names))
	}
	rep.Passed = rep.Accuracy >= PassThreshold
	return rep
}

// Run processes every case of set with proc and evaluates the results. Text
// cases skip recognition; file cases run the full pipeline. A case whose
// image cannot be read or recognized yields a failed report rather than
// aborting the run.
func Run(ctx context.Context, proc *pipeline.Processor, set *AnnotationSet) ([]Report, error) {
	if proc == nil {
		return nil, errors.New("accuracy: nil processor")
	}
	reports := make([]Report, 0, len(set.Cases))
	for _, c := range set.Cases {
		if err := ctx.Err(); err != nil {
			return reports, err
		}
		start := time.Now()
		var (
			res *pipeline.TicketResult
			err error
		)
		if c.Text != "" {
			res = proc.ProcessText(ctx, c.Name, c.Text)
		} else {
			var data []byte
			data, err = os.ReadFile(set.Resolve(c.File))
			if err == nil {
				res, err = proc.Process(ctx, c.Name, data)
			}
		}
		rep := Evaluate(res, c.Expected)
		rep.Name = c.Name
		rep.Duration = time.Since(start)
		if err != nil {
			rep.Error = err.Error()
			rep.Passed = false
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

// Summary aggregates reports.
type Summary struct {
	Cases           int                     `json:"cases" yaml:"cases"`
	Passed          int                     `json:"passed" yaml:"passed"`
	Failed          int                     `json:"failed" yaml:"failed"`
	AverageAccuracy float64                 `json:"average_accuracy" yaml:"average_accuracy"`
	FieldAccuracy   map[fields.Name]float64 `json:"field_accuracy" yaml:"field_accuracy"`
}

// Summarize averages accuracy over cases and per field.
func Summarize(reports []Report) Summary {
	s := Summary{Cases: len(reports), FieldAccuracy: make(map[fields.Name]float64)}
	counts := make(map[fields.Name]int)
	total := 0.0
	for _, r := range reports {
		if r.Passed {
			s.Passed++
		} else {
			s.Failed++
		}
		total += r.Accuracy
		for _, f := range r.Fields {
			s.FieldAccuracy[f.Field] += f.Accuracy
			counts[f.Field]++
		}
	}
	if len(reports) > 0 {
		s.AverageAccuracy = total / float64(len(reports))
	}
	for n, c := range counts {
		s.FieldAccuracy[n] /= float64(c)
	}
	return s
}

// FormatText renders reports and their summary as a plain-text table.
func FormatText(reports []Report) string {
	var sb strings.Builder
	for _, r := range reports {
		status := "PASS"
		if !r.Passed {
			status = "FAIL"
		}
		fmt.Fprintf(&sb, "%s  %-24s %6.1f%%\n", status, r.Name, r.Accuracy)
		if r.Error != "" {
			fmt.Fprintf(&sb, "      error: %s\n", r.Error)
		}
		for _, f := range r.Fields {
			if f.Accuracy >= 100 {
				continue
			}
			actual := f.Actual
			if actual == "" {
				actual = "-"
			}
			fmt.Fprintf(&sb, "      %-18s expected %q got %q (%.0f%%)\n", f.Field, f.Expected, actual, f.Accuracy)
		}
	}
	s := Summarize(reports)
	fmt.Fprintf(&sb, "\n%d cases, %d passed, %d failed, average accuracy %.1f%%\n",
		s.Cases, s.Passed, s.Failed, s.AverageAccuracy)
	return sb.String()
}
