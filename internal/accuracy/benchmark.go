package accuracy

import (
	"time"

	"github.com/MeKo-Tech/ticketocr/internal/fields"
	"github.com/MeKo-Tech/ticketocr/internal/fusion"
	"github.com/MeKo-Tech/ticketocr/internal/locator"
)

// FieldStats counts locator outcomes for one field.
type FieldStats struct {
	Expected          int     `json:"expected" yaml:"expected"`
	Detected          int     `json:"detected" yaml:"detected"`
	Correct           int     `json:"correct" yaml:"correct"`
	Precision         float64 `json:"precision" yaml:"precision"`
	Recall            float64 `json:"recall" yaml:"recall"`
	AverageConfidence float64 `json:"average_confidence" yaml:"average_confidence"`
}

// LocatorBenchmark is the result of BenchmarkLocator.
type LocatorBenchmark struct {
	Cases int `json:"cases" yaml:"cases"`
	// Accuracy is correct detections over expected fields, in percent.
	Accuracy float64                    `json:"accuracy" yaml:"accuracy"`
	Fields   map[fields.Name]FieldStats `json:"fields" yaml:"fields"`
	Duration time.Duration              `json:"duration_ns" yaml:"duration_ns"`
}

// BenchmarkLocator runs the heuristic locator alone over the text cases of
// set. A detection is correct when it matches the expectation after case and
// punctuation are ignored. Only annotated fields are counted. Cases that name
// a template are located with it instead of the classified one.
func BenchmarkLocator(loc *locator.Locator, set *AnnotationSet) LocatorBenchmark {
	start := time.Now()
	out := LocatorBenchmark{Fields: make(map[fields.Name]FieldStats)}
	confSum := make(map[fields.Name]float64)
	expectedTotal, correctTotal := 0, 0

	for _, c := range set.Cases {
		if c.Text == "" {
			continue
		}
		out.Cases++

		var cands []fields.Candidate
		if t, ok := loc.Template(c.Template); c.Template != "" && ok {
			cands = loc.LocateWith(t, c.Text, 0, 0)
		} else {
			_, cands = loc.Locate(c.Text, 0, 0)
		}
		found := make(map[fields.Name]fields.Candidate, len(cands))
		for _, cand := range cands {
			if prev, ok := found[cand.Field]; !ok || cand.Confidence > prev.Confidence {
				found[cand.Field] = cand
			}
		}

		for k, want := range c.Expected {
			n := fields.Name(k)
			st := out.Fields[n]
			st.Expected++
			expectedTotal++
			if cand, ok := found[n]; ok {
				st.Detected++
				confSum[n] += cand.Confidence
				if fusion.Similarity(cand.Value, want) == 1 {
					st.Correct++
					correctTotal++
				}
			}
			out.Fields[n] = st
		}
	}

	for n, st := range out.Fields {
		if st.Detected > 0 {
			st.Precision = float64(st.Correct) / float64(st.Detected)
			st.AverageConfidence = confSum[n] / float64(st.Detected)
		}
		if st.Expected > 0 {
			st.Recall = float64(st.Correct) / float64(st.Expected)
		}
		out.Fields[n] = st
	}
	if expectedTotal > 0 {
		out.Accuracy = float64(correctTotal) / float64(expectedTotal) * 100
	}
	out.Duration = time.Since(start)
	return out
}
