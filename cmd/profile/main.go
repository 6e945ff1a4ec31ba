// Package main provides a profiling wrapper for osmium to identify performance bottlenecks.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/pprof"
	"time"

	"github.com/sarchlab/osmium/benchmarks"
	"github.com/sarchlab/osmium/config"
	"github.com/sarchlab/osmium/emu"
	"github.com/sarchlab/osmium/kernel"
)

var (
	cpuProfile  = flag.String("cpuprofile", "", "write cpu profile to file")
	memProfile  = flag.String("memprofile", "", "write memory profile to file")
	duration    = flag.Duration("duration", 30*time.Second, "max duration to run (for profiling)")
	instruction = flag.Uint64("max-instr", 10000000, "max instructions to execute (0 = unlimited)")
	workload    = flag.String("workload", "", "profile a built-in workload instead of an ELF file")
	copies      = flag.Int("n", 1, "number of copies of the program to spawn")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 && *workload == "" {
		fmt.Fprintf(os.Stderr, "Usage: profile [options] <program.elf>\n")
		fmt.Fprintf(os.Stderr, "       profile [options] -workload <name>\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = f.Close() }()

		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Error starting CPU profile: %v\n", err)
			os.Exit(1)
		}
		defer pprof.StopCPUProfile()
	}

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	cfg := config.DefaultConfig()
	cfg.MaxInstructions = *instruction

	start := time.Now()

	var instrCount uint64
	var err error
	if *workload != "" {
		instrCount, err = profileWorkload(ctx, cfg, *workload)
	} else {
		instrCount, err = profileProgram(ctx, cfg, flag.Arg(0), *copies)
	}

	elapsed := time.Since(start)

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating memory profile: %v\n", err)
			os.Exit(1)
		}
		defer func() { _ = f.Close() }()

		if err := pprof.WriteHeapProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing memory profile: %v\n", err)
		}
	}

	fmt.Printf("\nProfiling Results:\n")
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		fmt.Printf("Timeout reached after %v - stopped execution\n", *duration)
	case errors.Is(err, emu.ErrMaxInstructions):
		fmt.Printf("Instruction limit reached\n")
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	fmt.Printf("Instructions executed: %d\n", instrCount)
	fmt.Printf("Elapsed time: %v\n", elapsed)
	if instrCount > 0 {
		fmt.Printf("Instructions/second: %.0f\n", float64(instrCount)/elapsed.Seconds())
	}
}

// profileProgram spawns n copies of one ELF file and runs them to completion.
func profileProgram(ctx context.Context, cfg *config.Config, path string, n int) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("error loading program: %w", err)
	}

	k, err := kernel.New(cfg, kernel.WithOutput(io.Discard))
	if err != nil {
		return 0, err
	}

	for i := 0; i < n; i++ {
		if _, err := k.Spawn(ctx, data); err != nil {
			return 0, err
		}
	}
	fmt.Printf("Loaded: %s (%d copies)\n", path, n)

	err = k.Boot(ctx)
	return k.Hart().InstructionCount(), err
}

// profileWorkload runs one named workload through the benchmark harness.
func profileWorkload(ctx context.Context, cfg *config.Config, name string) (uint64, error) {
	hcfg := benchmarks.DefaultConfig()
	hcfg.Kernel = cfg
	hcfg.Output = io.Discard

	h := benchmarks.NewHarness(hcfg)
	for _, b := range benchmarks.GetWorkloads() {
		if b.Name == name {
			h.AddBenchmark(b)
		}
	}

	results := h.RunAll(ctx)
	if len(results) == 0 {
		return 0, fmt.Errorf("unknown workload %q", name)
	}

	r := results[0]
	fmt.Printf("Workload: %s (passed: %v)\n", r.Name, r.Passed)
	if r.Error != "" {
		return r.Instructions, errors.New(r.Error)
	}
	return r.Instructions, nil
}
