// Package benchmarks runs multi-process workloads on a fresh kernel and
// reports scheduling, trap and translation statistics.
package benchmarks

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/go-logr/logr"

	"github.com/sarchlab/osmium/config"
	"github.com/sarchlab/osmium/kernel"
	"github.com/sarchlab/osmium/proc"
	"github.com/sarchlab/osmium/userprog"
)

// Version is reported in JSON output.
const Version = "0.1.0"

// BenchmarkResult holds the results of a single benchmark run.
type BenchmarkResult struct {
	// Name identifies the benchmark
	Name string `json:"name"`

	// Description explains what the benchmark exercises
	Description string `json:"description"`

	// Processes is the number of processes spawned
	Processes int `json:"processes"`

	// Instructions is the number of user instructions executed
	Instructions uint64 `json:"instructions"`

	// Kernel event counters
	Kernel kernel.Stats `json:"kernel"`

	// TLB statistics
	TLBHits    uint64 `json:"tlb_hits"`
	TLBMisses  uint64 `json:"tlb_misses"`
	TLBFlushes uint64 `json:"tlb_flushes"`

	// ExitCodes holds each process's exit code in spawn order
	ExitCodes []uint32 `json:"exit_codes"`

	// Passed is true if every exit code matched
	Passed bool `json:"passed"`

	// Error describes why the run failed, if it did
	Error string `json:"error,omitempty"`

	// WallTime is the actual time taken to run the workload
	WallTime time.Duration `json:"wall_time_ns"`
}

// Benchmark defines one workload.
type Benchmark struct {
	// Name identifies the benchmark
	Name string

	// Description explains what the benchmark exercises
	Description string

	// Programs build the images to spawn, in order. The first one gets the
	// highest process ID.
	Programs []func() ([]byte, error)

	// Expect returns the expected exit codes for the spawned IDs.
	Expect func(ids []proc.ID) []uint32
}

// HarnessConfig configures the benchmark harness.
type HarnessConfig struct {
	// Kernel is the machine every benchmark boots on
	Kernel *config.Config

	// Output is where to write results (default: os.Stdout)
	Output io.Writer

	// Logger receives kernel logs (default: discard)
	Logger logr.Logger

	// Timeout bounds each benchmark's wall time. 0 means no limit.
	Timeout time.Duration
}

// DefaultConfig returns a default harness configuration.
func DefaultConfig() HarnessConfig {
	return HarnessConfig{
		Kernel: config.DefaultConfig(),
		Output: os.Stdout,
		Logger: logr.Discard(),
	}
}

// Harness runs benchmarks and reports results.
type Harness struct {
	config     HarnessConfig
	benchmarks []Benchmark
}

// NewHarness creates a new benchmark harness.
func NewHarness(config HarnessConfig) *Harness {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Kernel == nil {
		config.Kernel = DefaultConfig().Kernel
	}
	return &Harness{config: config}
}

// AddBenchmark adds a benchmark to the harness.
func (h *Harness) AddBenchmark(b Benchmark) {
	h.benchmarks = append(h.benchmarks, b)
}

// AddBenchmarks adds multiple benchmarks to the harness.
func (h *Harness) AddBenchmarks(benchmarks []Benchmark) {
	h.benchmarks = append(h.benchmarks, benchmarks...)
}

// RunAll executes all benchmarks and returns results.
func (h *Harness) RunAll(ctx context.Context) []BenchmarkResult {
	results := make([]BenchmarkResult, 0, len(h.benchmarks))
	for _, bench := range h.benchmarks {
		results = append(results, h.runBenchmark(ctx, bench))
	}
	return results
}

// runBenchmark boots a fresh kernel, spawns the programs, runs them to
// completion and reaps them in spawn order.
func (h *Harness) runBenchmark(ctx context.Context, bench Benchmark) BenchmarkResult {
	result := BenchmarkResult{
		Name:        bench.Name,
		Description: bench.Description,
		Processes:   len(bench.Programs),
	}

	if h.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.Timeout)
		defer cancel()
	}

	builtins, err := userprog.Builtins()
	if err != nil {
		result.Error = err.Error()
		return result
	}

	k, err := kernel.New(h.config.Kernel,
		kernel.WithLogger(h.config.Logger.WithValues("benchmark", bench.Name)),
		kernel.WithPrograms(builtins))
	if err != nil {
		result.Error = err.Error()
		return result
	}

	ids := make([]proc.ID, 0, len(bench.Programs))
	for i, build := range bench.Programs {
		image, err := build()
		if err != nil {
			result.Error = fmt.Sprintf("program %d: %v", i, err)
			return result
		}
		id, err := k.Spawn(ctx, image)
		if err != nil {
			result.Error = fmt.Sprintf("program %d: %v", i, err)
			return result
		}
		ids = append(ids, id)
	}

	start := time.Now()
	err = k.Boot(ctx)
	result.WallTime = time.Since(start)

	tlb := k.Hart().TLB().Stats()
	result.Instructions = k.Hart().InstructionCount()
	result.TLBHits = tlb.Hits
	result.TLBMisses = tlb.Misses
	result.TLBFlushes = tlb.Flushes

	if err != nil {
		result.Error = err.Error()
		result.Kernel = k.Stats()
		return result
	}

	for _, id := range ids {
		code, err := k.Reap(ctx, id)
		if err != nil {
			result.Error = fmt.Sprintf("pid %d: %v", id, err)
			break
		}
		result.ExitCodes = append(result.ExitCodes, code)
	}
	if result.Error == "" {
		h.reapChildren(ctx, k, &result)
	}
	result.Kernel = k.Stats()

	if result.Error == "" && bench.Expect != nil {
		result.Passed = slices.Equal(result.ExitCodes, bench.Expect(ids))
	} else {
		result.Passed = result.Error == ""
	}

	return result
}

// reapChildren reclaims processes forked during the run.
func (h *Harness) reapChildren(ctx context.Context, k *kernel.Kernel, result *BenchmarkResult) {
	var zombies []proc.ID
	for p := range k.Processes().Processes() {
		if p.Status() == proc.StatusZombie {
			zombies = append(zombies, p.ID())
		}
	}

	for _, id := range zombies {
		if _, err := k.Reap(ctx, id); err != nil {
			result.Error = fmt.Sprintf("child %d: %v", id, err)
			return
		}
	}
}

// PrintResults outputs benchmark results in a human-readable format.
func (h *Harness) PrintResults(results []BenchmarkResult) {
	w := h.config.Output
	_, _ = fmt.Fprintln(w, "=== Osmium Workload Results ===")
	_, _ = fmt.Fprintln(w, "")

	for _, r := range results {
		_, _ = fmt.Fprintf(w, "Benchmark: %s\n", r.Name)
		_, _ = fmt.Fprintf(w, "  Description: %s\n", r.Description)
		_, _ = fmt.Fprintf(w, "  Exit Codes:  %v\n", r.ExitCodes)
		_, _ = fmt.Fprintf(w, "  Passed:      %v\n", r.Passed)
		if r.Error != "" {
			_, _ = fmt.Fprintf(w, "  Error:       %s\n", r.Error)
		}
		_, _ = fmt.Fprintln(w, "  --- Kernel ---")
		_, _ = fmt.Fprintf(w, "  Processes:    %d\n", r.Processes)
		_, _ = fmt.Fprintf(w, "  Instructions: %d\n", r.Instructions)
		_, _ = fmt.Fprintf(w, "  Switches:     %d\n", r.Kernel.Switches)
		_, _ = fmt.Fprintf(w, "  Traps:        %d\n", r.Kernel.Traps)
		_, _ = fmt.Fprintf(w, "  Syscalls:     %d\n", r.Kernel.Syscalls)
		if r.Kernel.Forks > 0 {
			_, _ = fmt.Fprintf(w, "  Forks:        %d\n", r.Kernel.Forks)
		}
		if r.Kernel.Faults > 0 {
			_, _ = fmt.Fprintf(w, "  Faults:       %d\n", r.Kernel.Faults)
		}
		_, _ = fmt.Fprintln(w, "  --- TLB ---")
		_, _ = fmt.Fprintf(w, "  Hits:    %d\n", r.TLBHits)
		_, _ = fmt.Fprintf(w, "  Misses:  %d\n", r.TLBMisses)
		_, _ = fmt.Fprintf(w, "  Flushes: %d\n", r.TLBFlushes)
		_, _ = fmt.Fprintf(w, "  Wall Time: %v\n", r.WallTime)
		_, _ = fmt.Fprintln(w, "")
	}
}

// PrintCSV outputs benchmark results in CSV format.
func (h *Harness) PrintCSV(results []BenchmarkResult) {
	_, _ = fmt.Fprintln(h.config.Output,
		"name,processes,instructions,switches,traps,syscalls,faults,tlb_hits,tlb_misses,tlb_flushes,passed")

	for _, r := range results {
		_, _ = fmt.Fprintf(h.config.Output, "%s,%d,%d,%d,%d,%d,%d,%d,%d,%d,%v\n",
			r.Name,
			r.Processes,
			r.Instructions,
			r.Kernel.Switches,
			r.Kernel.Traps,
			r.Kernel.Syscalls,
			r.Kernel.Faults,
			r.TLBHits,
			r.TLBMisses,
			r.TLBFlushes,
			r.Passed,
		)
	}
}

// BenchmarkReport is the JSON output format.
type BenchmarkReport struct {
	Metadata ReportMetadata    `json:"metadata"`
	Results  []BenchmarkResult `json:"results"`
	Summary  ReportSummary     `json:"summary"`
}

// ReportMetadata describes the run.
type ReportMetadata struct {
	Timestamp string         `json:"timestamp"`
	Version   string         `json:"version"`
	Config    *config.Config `json:"config"`
}

// ReportSummary contains aggregate statistics across all benchmarks.
type ReportSummary struct {
	TotalBenchmarks   int           `json:"total_benchmarks"`
	PassingBenchmarks int           `json:"passing_benchmarks"`
	TotalInstructions uint64        `json:"total_instructions"`
	TotalSwitches     uint64        `json:"total_switches"`
	TLBHitRate        float64       `json:"tlb_hit_rate"`
	TotalWallTime     time.Duration `json:"total_wall_time_ns"`
}

// PrintJSON outputs benchmark results in JSON format.
func (h *Harness) PrintJSON(results []BenchmarkResult) error {
	summary := ReportSummary{TotalBenchmarks: len(results)}

	var hits, lookups uint64
	for _, r := range results {
		if r.Passed {
			summary.PassingBenchmarks++
		}
		summary.TotalInstructions += r.Instructions
		summary.TotalSwitches += r.Kernel.Switches
		summary.TotalWallTime += r.WallTime
		hits += r.TLBHits
		lookups += r.TLBHits + r.TLBMisses
	}
	if lookups > 0 {
		summary.TLBHitRate = float64(hits) / float64(lookups)
	}

	report := BenchmarkReport{
		Metadata: ReportMetadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Version:   Version,
			Config:    h.config.Kernel,
		},
		Results: results,
		Summary: summary,
	}

	encoder := json.NewEncoder(h.config.Output)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}
