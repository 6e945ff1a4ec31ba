// Package main provides the entry point for osmium.
// Osmium boots a simulated RV32 machine, spawns user programs, and runs the
// round-robin scheduler until every process has exited.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"

	"github.com/sarchlab/osmium/config"
	"github.com/sarchlab/osmium/kernel"
	"github.com/sarchlab/osmium/proc"
	"github.com/sarchlab/osmium/tracing"
	"github.com/sarchlab/osmium/userprog"
)

var (
	configPath = flag.String("config", "", "Path to a JSON or YAML configuration file")
	traceFile  = flag.String("trace", "", "Write OpenTelemetry spans to this file")
	strict     = flag.Bool("strict", false, "Map ELF segments with their own protection")
	verbosity  = flag.Int("v", 0, "Log verbosity (0 = info, 1 = per-page detail)")
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: osmium [options] [program.elf ...]\n")
		fmt.Fprintf(os.Stderr, "\nWith no programs, a built-in demo is run.\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	stdr.SetVerbosity(*verbosity)
	logger := stdr.New(log.New(os.Stderr, "", log.LstdFlags))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.LoadConfig(*configPath)
		if err != nil {
			return nil, err
		}
	}

	if *traceFile != "" {
		cfg.TraceOutput = *traceFile
	}
	if *strict {
		cfg.StrictSegmentFlags = true
	}

	return cfg, cfg.Validate()
}

func run(ctx context.Context, logger logr.Logger) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if cfg.TraceOutput != "" {
		var shutdown tracing.ShutdownFunc
		shutdown, err = tracing.Init("osmium", "0.1.0", cfg.TraceOutput)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		defer func() { err = errors.Join(err, shutdown(context.Background())) }()
	}

	builtins, err := userprog.Builtins()
	if err != nil {
		return err
	}

	k, err := kernel.New(cfg,
		kernel.WithLogger(logger),
		kernel.WithOutput(os.Stdout),
		kernel.WithPrograms(builtins),
	)
	if err != nil {
		return err
	}

	images, err := programs(flag.Args())
	if err != nil {
		return err
	}

	ids := make([]proc.ID, 0, len(images))
	for _, img := range images {
		id, err := k.Spawn(ctx, img.data)
		if err != nil {
			return fmt.Errorf("%s: %w", img.name, err)
		}
		logger.V(1).Info("loaded", "program", img.name, "pid", id)
		ids = append(ids, id)
	}

	if err := k.Boot(ctx); err != nil {
		return err
	}

	for i, id := range ids {
		code, err := k.Reap(ctx, id)
		if err != nil {
			fmt.Printf("%s (pid %d): %v\n", images[i].name, id, err)
			continue
		}
		fmt.Printf("%s (pid %d) exited with code %d\n", images[i].name, id, int32(code))
	}

	var children []*proc.Process
	for p := range k.Processes().Processes() {
		if p.Status() == proc.StatusZombie {
			children = append(children, p)
		}
	}
	for _, p := range children {
		id, parent := p.ID(), p.Parent()
		code, err := k.Reap(ctx, id)
		if err != nil {
			return err
		}
		fmt.Printf("child of pid %d (pid %d) exited with code %d\n", parent, id, int32(code))
	}

	stats := k.Stats()
	fmt.Printf("Instructions executed: %d\n", k.Hart().InstructionCount())
	fmt.Printf("Context switches: %d, traps: %d, faults: %d, forks: %d, execs: %d\n",
		stats.Switches, stats.Traps, stats.Faults, stats.Forks, stats.Execs)

	return nil
}

type image struct {
	name string
	data []byte
}

// programs reads the named ELF files, or builds the demo set when there
// are none.
func programs(paths []string) ([]image, error) {
	if len(paths) == 0 {
		return demo()
	}

	images := make([]image, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("error loading program: %w", err)
		}
		images = append(images, image{name: path, data: data})
	}
	return images, nil
}

// demo greets, passes ten messages between a producer and the consumer
// spawned right after it, and forks a child that execs /bin/hello.
func demo() ([]image, error) {
	var images []image
	add := func(name string, data []byte, err error) error {
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		images = append(images, image{name: name, data: data})
		return nil
	}

	hello, err := userprog.Hello("Hello from osmium!\n")
	if err := add("hello", hello, err); err != nil {
		return nil, err
	}
	producer, err := userprog.Producer(10)
	if err := add("producer", producer, err); err != nil {
		return nil, err
	}
	consumer, err := userprog.Consumer(10)
	if err := add("consumer", consumer, err); err != nil {
		return nil, err
	}
	forker, err := userprog.ForkExec(userprog.HelloPath)
	if err := add("fork-exec", forker, err); err != nil {
		return nil, err
	}

	return images, nil
}
