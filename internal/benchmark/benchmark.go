// Package benchmark times the ticket pipeline over an annotation set.
package benchmark

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MeKo-Tech/ticketocr/internal/accuracy"
	"github.com/MeKo-Tech/ticketocr/internal/pipeline"
)

// Timer provides simple timing utilities for benchmarking.
type Timer struct {
	start    time.Time
	name     string
	duration time.Duration
}

// NewTimer creates a new timer with the given name.
func NewTimer(name string) *Timer {
	return &Timer{
		name:  name,
		start: time.Now(),
	}
}

// Stop stops the timer and returns the elapsed duration.
func (t *Timer) Stop() time.Duration {
	t.duration = time.Since(t.start)
	return t.duration
}

// Duration returns the recorded duration (only valid after Stop()).
func (t *Timer) Duration() time.Duration {
	return t.duration
}

func (t *Timer) String() string {
	return fmt.Sprintf("%s: %v", t.name, t.duration)
}

// MemoryStats holds memory usage statistics.
type MemoryStats struct {
	AllocBytes      uint64  // Currently allocated bytes
	TotalAllocBytes uint64  // Total allocated bytes (cumulative)
	SysBytes        uint64  // Total bytes from system
	NumGC           uint32  // Number of GC runs
	GCCPUFraction   float64 // Fraction of CPU time spent in GC
}

// GetMemoryStats returns current memory statistics.
func GetMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryStats{
		AllocBytes:      m.Alloc,
		TotalAllocBytes: m.TotalAlloc,
		SysBytes:        m.Sys,
		NumGC:           m.NumGC,
		GCCPUFraction:   m.GCCPUFraction,
	}
}

func (m MemoryStats) String() string {
	return fmt.Sprintf("Alloc: %d KB, Total: %d KB, Sys: %d KB, GC: %d (%.2f%% CPU)",
		m.AllocBytes/1024,
		m.TotalAllocBytes/1024,
		m.SysBytes/1024,
		m.NumGC,
		m.GCCPUFraction*100)
}

// Result holds the outcome of one benchmark.
type Result struct {
	Name         string
	Duration     time.Duration
	MemoryBefore MemoryStats
	MemoryAfter  MemoryStats
	Iterations   int
	Error        error
}

// Average returns the mean duration per iteration.
func (r Result) Average() time.Duration {
	if r.Iterations <= 0 {
		return 0
	}
	return r.Duration / time.Duration(r.Iterations)
}

// AllocatedKB is the growth of total allocations over the run.
func (r Result) AllocatedKB() int64 {
	return int64(r.MemoryAfter.TotalAllocBytes-r.MemoryBefore.TotalAllocBytes) / 1024 //nolint:gosec // G115: display only
}

func (r Result) String() string {
	if r.Error != nil {
		return fmt.Sprintf("%s: ERROR - %v", r.Name, r.Error)
	}
	return fmt.Sprintf("%s: %d iterations, avg: %v, total: %v, alloc: %d KB",
		r.Name, r.Iterations, r.Average(), r.Duration, r.AllocatedKB())
}

type bench struct {
	name string
	fn   func(context.Context) error
}

// Suite runs named benchmark functions.
type Suite struct {
	benchmarks []bench
	results    []Result
	mu         sync.Mutex
}

// NewSuite creates an empty suite.
func NewSuite() *Suite {
	return &Suite{}
}

// Add registers fn under name.
func (s *Suite) Add(name string, fn func(context.Context) error) {
	s.benchmarks = append(s.benchmarks, bench{name: name, fn: fn})
}

// Names lists the registered benchmarks in order.
func (s *Suite) Names() []string {
	out := make([]string, len(s.benchmarks))
	for i, b := range s.benchmarks {
		out[i] = b.name
	}
	return out
}

// Run runs a single benchmark with the specified number of iterations.
func (s *Suite) Run(ctx context.Context, name string, iterations int) Result {
	for _, b := range s.benchmarks {
		if b.name == name {
			return run(ctx, b, iterations)
		}
	}
	return Result{Name: name, Error: fmt.Errorf("benchmark '%s' not found", name)}
}

// RunAll runs every benchmark. It stops early when ctx is cancelled.
func (s *Suite) RunAll(ctx context.Context, iterations int) []Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results = make([]Result, 0, len(s.benchmarks))
	for _, b := range s.benchmarks {
		if ctx.Err() != nil {
			break
		}
		s.results = append(s.results, run(ctx, b, iterations))
	}
	return s.results
}

// Results returns the last RunAll results.
func (s *Suite) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results
}

func run(ctx context.Context, b bench, iterations int) Result {
	runtime.GC()
	memBefore := GetMemoryStats()
	timer := NewTimer(b.name)

	var err error
	done := 0
	for range iterations {
		if err = ctx.Err(); err != nil {
			break
		}
		if err = b.fn(ctx); err != nil {
			break
		}
		done++
	}

	return Result{
		Name:         b.name,
		Duration:     timer.Stop(),
		MemoryBefore: memBefore,
		MemoryAfter:  GetMemoryStats(),
		Iterations:   done,
		Error:        err,
	}
}

// PipelineSuite builds a suite with one benchmark per annotated case. Text
// cases run through ProcessText, image cases through Process. Image cases are
// skipped when the processor has no engine.
func PipelineSuite(proc *pipeline.Processor, set *accuracy.AnnotationSet) (*Suite, error) {
	s := NewSuite()
	for _, c := range set.Cases {
		if c.Text != "" {
			text := c.Text
			name := c.Name
			s.Add("text/"+name, func(ctx context.Context) error {
				proc.ProcessText(ctx, name, text)
				return nil
			})
			continue
		}
		if proc.Engine() == nil {
			continue
		}
		path := set.Resolve(c.File)
		data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the annotation file
		if err != nil {
			return nil, fmt.Errorf("case %s: %w", c.Name, err)
		}
		name := c.Name
		s.Add("image/"+name, func(ctx context.Context) error {
			_, err := proc.Process(ctx, path, data)
			return err
		})
	}
	if len(s.benchmarks) == 0 {
		return nil, fmt.Errorf("no runnable cases")
	}
	return s, nil
}

// WriteText prints one line per result.
func WriteText(w io.Writer, results []Result) error {
	var b strings.Builder
	b.WriteString("Benchmark Results:\n")
	b.WriteString("==================\n")
	for _, r := range results {
		b.WriteString(r.String())
		b.WriteByte('\n')
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteCSV writes results as CSV with a header row.
func WriteCSV(w io.Writer, results []Result) error {
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"name", "iterations", "avg_ms", "total_ms", "alloc_kb", "error"})
	for _, r := range results {
		errText := ""
		if r.Error != nil {
			errText = r.Error.Error()
		}
		_ = cw.Write([]string{
			r.Name,
			strconv.Itoa(r.Iterations),
			strconv.FormatFloat(float64(r.Average().Nanoseconds())/1e6, 'f', 3, 64),
			strconv.FormatFloat(float64(r.Duration.Nanoseconds())/1e6, 'f', 3, 64),
			strconv.FormatInt(r.AllocatedKB(), 10),
			errText,
		})
	}
	cw.Flush()
	return cw.Error()
}
