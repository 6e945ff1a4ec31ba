// Command benchmark runs the osmium workload harness.
//
// Usage:
//
//	go run ./cmd/benchmark [flags]
//
// Flags:
//
//	-csv      Output results in CSV format (default: human-readable)
//	-json     Output results as a JSON report
//	-core     Run only the core workloads
//	-config   Kernel configuration file (JSON or YAML)
//	-timeout  Wall-time limit per workload
//
// Example:
//
//	# Run all workloads with human-readable output
//	go run ./cmd/benchmark
//
//	# Output CSV for spreadsheet comparison
//	go run ./cmd/benchmark -csv > results.csv
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/go-logr/stdr"

	"github.com/sarchlab/osmium/benchmarks"
	"github.com/sarchlab/osmium/config"
)

func main() {
	csvOutput := flag.Bool("csv", false, "Output results in CSV format")
	jsonOutput := flag.Bool("json", false, "Output results as JSON")
	coreOnly := flag.Bool("core", false, "Run only the core workloads")
	configPath := flag.String("config", "", "Kernel configuration file")
	timeout := flag.Duration("timeout", time.Minute, "Wall-time limit per workload (0 = none)")
	verbose := flag.Bool("v", false, "Log kernel events to stderr")
	flag.Parse()

	cfg := benchmarks.DefaultConfig()
	cfg.Output = os.Stdout
	cfg.Timeout = *timeout
	if *configPath != "" {
		kcfg, err := config.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cfg.Kernel = kcfg
	}
	if *verbose {
		cfg.Logger = stdr.New(log.New(os.Stderr, "", log.LstdFlags))
	}

	harness := benchmarks.NewHarness(cfg)
	if *coreOnly {
		harness.AddBenchmarks(benchmarks.GetCoreWorkloads())
	} else {
		harness.AddBenchmarks(benchmarks.GetWorkloads())
	}

	if !*csvOutput && !*jsonOutput {
		fmt.Println("Osmium Workload Harness")
		fmt.Println("=======================")
		fmt.Printf("Process slots: %d\n", cfg.Kernel.MaxProcs)
		fmt.Printf("RAM: %d KiB\n", cfg.Kernel.RAMSize/1024)
		fmt.Printf("TLB: %d sets x %d ways\n", cfg.Kernel.TLBSets, cfg.Kernel.TLBWays)
		fmt.Println("")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	results := harness.RunAll(ctx)

	switch {
	case *jsonOutput:
		if err := harness.PrintJSON(results); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case *csvOutput:
		harness.PrintCSV(results)
	default:
		harness.PrintResults(results)
	}

	for _, r := range results {
		if !r.Passed {
			os.Exit(1)
		}
	}
}
