// Package main provides the entry point for osmium.
// Osmium is the process core of a small RV32 kernel, run on a simulated hart.
//
// For the full CLI, use: go run ./cmd/osmium
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("Osmium - RV32 process and scheduling core")
	fmt.Println("Runs on a simulated Sv32 hart built on Akita")
	fmt.Println("")
	fmt.Println("Usage: osmium [options] [program.elf ...]")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  -config    Path to a JSON or YAML configuration file")
	fmt.Println("  -trace     Write OpenTelemetry spans to a file")
	fmt.Println("  -strict    Map ELF segments with their own protection")
	fmt.Println("  -v         Log verbosity")
	fmt.Println("")
	fmt.Println("Other commands:")
	fmt.Println("  go run ./cmd/benchmark   workload harness")
	fmt.Println("  go run ./cmd/profile     pprof wrapper")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/osmium' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/osmium' instead.")
	}
}
